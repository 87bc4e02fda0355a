package ndt

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"despeed/internal/domain"
	"despeed/internal/proxy"

	"github.com/gorilla/websocket"
)

func splice(a, b net.Conn, fromA io.Reader) {
	go func() {
		_, _ = io.Copy(b, fromA)
		_ = b.Close()
	}()
	_, _ = io.Copy(a, b)
	_ = a.Close()
}

// connectHandler relays CONNECT requests, the way an HTTP forward proxy does.
func connectHandler(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		hits.Add(1)

		target, err := net.DialTimeout("tcp", r.Host, 2*time.Second)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		hijacker, ok := w.(http.Hijacker)
		if !ok {
			_ = target.Close()
			http.Error(w, "hijacking not supported", http.StatusInternalServerError)
			return
		}
		client, rw, err := hijacker.Hijack()
		if err != nil {
			_ = target.Close()
			return
		}
		if _, err := client.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
			_ = client.Close()
			_ = target.Close()
			return
		}
		splice(client, target, rw)
	}
}

// newSocks5Server accepts unauthenticated CONNECT requests for IPv4 and domain targets.
func newSocks5Server(t *testing.T, hits *atomic.Int32) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSocks5(conn, hits)
		}
	}()
	return ln.Addr().String()
}

func serveSocks5(conn net.Conn, hits *atomic.Int32) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil || header[0] != 5 {
		_ = conn.Close()
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, header[1])); err != nil {
		_ = conn.Close()
		return
	}
	if _, err := conn.Write([]byte{5, 0}); err != nil {
		_ = conn.Close()
		return
	}

	request := make([]byte, 4)
	if _, err := io.ReadFull(conn, request); err != nil || request[1] != 1 {
		_ = conn.Close()
		return
	}

	var host string
	switch request[3] {
	case 1:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			_ = conn.Close()
			return
		}
		host = net.IP(ip).String()
	case 3:
		length := make([]byte, 1)
		if _, err := io.ReadFull(conn, length); err != nil {
			_ = conn.Close()
			return
		}
		name := make([]byte, length[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			_ = conn.Close()
			return
		}
		host = string(name)
	default:
		_ = conn.Close()
		return
	}

	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		_ = conn.Close()
		return
	}
	hits.Add(1)

	target, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port)))), 2*time.Second)
	if err != nil {
		_, _ = conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		_ = conn.Close()
		return
	}
	if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		_ = conn.Close()
		_ = target.Close()
		return
	}
	splice(conn, target, conn)
}

func descriptorFor(t *testing.T, scheme, addr string) domain.ProxyDescriptor {
	t.Helper()
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		t.Fatalf("parse port %s: %v", rawPort, err)
	}
	return domain.ProxyDescriptor{Scheme: scheme, Host: host, Port: uint16(port)}
}

func serverAddr(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse %s: %v", server.URL, err)
	}
	return u.Host
}

// newTunnelForScheme starts a local forward proxy of the given kind and returns a tunnel
// through it.
func newTunnelForScheme(t *testing.T, scheme string, hits *atomic.Int32) *proxy.Tunnel {
	t.Helper()

	var (
		desc      domain.ProxyDescriptor
		tlsServer *httptest.Server
	)
	switch scheme {
	case domain.SchemeHTTP:
		server := httptest.NewServer(connectHandler(hits))
		t.Cleanup(server.Close)
		desc = descriptorFor(t, scheme, serverAddr(t, server))
	case domain.SchemeHTTPS:
		tlsServer = httptest.NewTLSServer(connectHandler(hits))
		t.Cleanup(tlsServer.Close)
		desc = descriptorFor(t, scheme, serverAddr(t, tlsServer))
	case domain.SchemeSocks5:
		desc = descriptorFor(t, scheme, newSocks5Server(t, hits))
	default:
		t.Fatalf("no local proxy for scheme %s", scheme)
	}

	tunnel, err := proxy.NewTunnel(desc, 2*time.Second)
	if err != nil {
		t.Fatalf("NewTunnel(%s) returned error: %v", scheme, err)
	}
	if tlsServer != nil {
		tunnel.TLSConfig = tlsServer.Client().Transport.(*http.Transport).TLSClientConfig
	}
	return tunnel
}

func TestStreamingThroughTunnel(t *testing.T) {
	for _, scheme := range []string{domain.SchemeHTTP, domain.SchemeHTTPS, domain.SchemeSocks5} {
		t.Run(scheme, func(t *testing.T) {
			var (
				uploaded atomic.Int64
				hits     atomic.Int32
			)
			server := newNDTServer(t, &uploaded)
			wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
			tunnel := newTunnelForScheme(t, scheme, &hits)

			conn, err := DialWebsocket(context.Background(), wsURL+"/ndt/v7/upload", tunnel)
			if err != nil {
				t.Fatalf("DialWebsocket through %s returned error: %v", scheme, err)
			}
			if wsConn, ok := conn.(*websocket.Conn); !ok || wsConn.Subprotocol() != Subprotocol {
				t.Fatalf("DialWebsocket through %s did not negotiate %s", scheme, Subprotocol)
			}
			_ = conn.Close()

			engine := testEngine()
			engine.Window = 200 * time.Millisecond
			throughput := engine.Measure(context.Background(), domain.MeasurementServer{
				Machine:     "local",
				DownloadURL: wsURL + "/ndt/v7/download",
				UploadURL:   wsURL + "/ndt/v7/upload",
			}, tunnel)

			if throughput.DownloadMbps <= 0 || throughput.UploadMbps <= 0 {
				t.Fatalf("Measure through %s = %+v, want positive rates", scheme, throughput)
			}
			if got := hits.Load(); got < 3 {
				t.Fatalf("proxy relayed %d connections, want at least 3", got)
			}
		})
	}
}
