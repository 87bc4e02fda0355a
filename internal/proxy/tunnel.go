package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"despeed/internal/domain"

	"github.com/gorilla/websocket"
	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Tunnel routes HTTP requests and websocket dials through one proxy descriptor.
// A nil *Tunnel is valid and means a direct connection.
type Tunnel struct {
	Descriptor domain.ProxyDescriptor
	// EgressIP is the address the liveness probe reported, empty when unknown.
	EgressIP string
	// TLSConfig is used for the TLS session to an https proxy. Nil uses the system roots.
	TLSConfig *tls.Config

	proxyURL    *url.URL
	dialContext dialContextFunc
	timeout     time.Duration
}

// NewTunnel builds the dialer for desc. timeout bounds the TCP connect to the proxy.
func NewTunnel(desc domain.ProxyDescriptor, timeout time.Duration) (*Tunnel, error) {
	tunnel := &Tunnel{Descriptor: desc, timeout: timeout}
	baseDialer := &net.Dialer{Timeout: timeout}

	switch desc.Scheme {
	case domain.SchemeHTTP, domain.SchemeHTTPS:
		tunnel.proxyURL = desc.URL()

	case domain.SchemeSocks5, domain.SchemeSocks5h:
		var auth *xproxy.Auth
		if desc.HasAuth() {
			auth = &xproxy.Auth{User: desc.Username, Password: desc.Password}
		}
		socksDialer, err := xproxy.SOCKS5("tcp", desc.GetFullProxy(), auth, baseDialer)
		if err != nil {
			return nil, fmt.Errorf("proxy: socks5 dialer for %s: %w", desc, err)
		}
		if contextDialer, ok := socksDialer.(xproxy.ContextDialer); ok {
			tunnel.dialContext = contextDialer.DialContext
		} else {
			tunnel.dialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			}
		}

	case domain.SchemeSocks4, domain.SchemeSocks4a:
		dial := socks.Dial(socks4URI(desc, timeout))
		tunnel.dialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialWithContext(ctx, func() (net.Conn, error) { return dial(network, addr) })
		}

	default:
		return nil, fmt.Errorf("proxy: unsupported scheme %q", desc.Scheme)
	}

	return tunnel, nil
}

func socks4URI(desc domain.ProxyDescriptor, timeout time.Duration) string {
	u := url.URL{
		Scheme: desc.Scheme,
		Host:   desc.GetFullProxy(),
	}
	if desc.HasAuth() {
		u.User = url.User(desc.Username)
	}
	if timeout > 0 {
		u.RawQuery = url.Values{"timeout": []string{timeout.String()}}.Encode()
	}
	return u.String()
}

// dialWithContext returns as soon as ctx is done; a connection that completes later is closed.
func dialWithContext(ctx context.Context, dial func() (net.Conn, error)) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}

	done := make(chan result, 1)
	go func() {
		conn, err := dial()
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// connectDial opens a TLS session to the proxy and issues CONNECT for addr. gorilla's
// Dialer.Proxy only speaks CONNECT over plain http proxies.
func (t *Tunnel) connectDial(ctx context.Context, network, addr string) (net.Conn, error) {
	raw, err := (&net.Dialer{Timeout: t.timeout}).DialContext(ctx, network, t.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", t.proxyURL.Host, err)
	}

	cfg := &tls.Config{}
	if t.TLSConfig != nil {
		cfg = t.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.proxyURL.Hostname()
	}
	conn := tls.Client(raw, cfg)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if t.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.timeout))
	}

	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("proxy: tls handshake with %s: %w", t.proxyURL.Host, err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: http.Header{},
	}
	if user := t.proxyURL.User; user != nil {
		password, _ := user.Password()
		credentials := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+credentials)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: write CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: read CONNECT response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: CONNECT %s returned status %d", addr, resp.StatusCode)
	}
	if br.Buffered() > 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: unexpected data after CONNECT response")
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// Transport returns a fresh transport with keep-alives disabled, routed through the tunnel.
func (t *Tunnel) Transport() *http.Transport {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if t == nil {
		transport.Proxy = nil
		return transport
	}

	if t.proxyURL != nil {
		transport.Proxy = http.ProxyURL(t.proxyURL)
	}
	if t.dialContext != nil {
		transport.DialContext = t.dialContext
	}
	return transport
}

func (t *Tunnel) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: t.Transport(),
		Timeout:   timeout,
	}
}

// WebsocketDialer returns a websocket dialer routed through the tunnel.
func (t *Tunnel) WebsocketDialer(handshakeTimeout time.Duration, subprotocols ...string) *websocket.Dialer {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     subprotocols,
	}

	if t == nil {
		return dialer
	}

	switch {
	case t.Descriptor.Scheme == domain.SchemeHTTPS && t.proxyURL != nil:
		dialer.NetDialContext = t.connectDial
	case t.proxyURL != nil:
		dialer.Proxy = http.ProxyURL(t.proxyURL)
	}
	if t.dialContext != nil {
		dialer.NetDialContext = t.dialContext
	}
	return dialer
}

func (t *Tunnel) String() string {
	if t == nil {
		return "direct"
	}
	return t.Descriptor.String()
}
