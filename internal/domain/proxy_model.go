package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeSocks4  = "socks4"
	SchemeSocks4a = "socks4a"
	SchemeSocks5  = "socks5"
	SchemeSocks5h = "socks5h"
)

// ProxyDescriptor is one entry of the proxy pool. It is never mutated after parsing.
type ProxyDescriptor struct {
	Scheme   string
	Host     string
	Port     uint16
	Username string
	Password string
}

// ParseProxyDescriptor accepts scheme://[user:pass@]host:port. Entries without a scheme
// are treated as plain HTTP proxies.
func ParseProxyDescriptor(raw string) (ProxyDescriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ProxyDescriptor{}, errors.New("empty proxy url")
	}
	if !strings.Contains(raw, "://") {
		raw = SchemeHTTP + "://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ProxyDescriptor{}, fmt.Errorf("parse proxy url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !IsSupportedProxyScheme(scheme) {
		return ProxyDescriptor{}, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}

	host, portStr, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		return ProxyDescriptor{}, fmt.Errorf("proxy address %q: %w", parsed.Host, err)
	}
	if host == "" {
		return ProxyDescriptor{}, fmt.Errorf("proxy address %q has no host", parsed.Host)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return ProxyDescriptor{}, fmt.Errorf("invalid proxy port %q", portStr)
	}

	descriptor := ProxyDescriptor{
		Scheme: scheme,
		Host:   host,
		Port:   uint16(port),
	}
	if parsed.User != nil {
		descriptor.Username = parsed.User.Username()
		descriptor.Password, _ = parsed.User.Password()
	}

	return descriptor, nil
}

func IsSupportedProxyScheme(scheme string) bool {
	switch scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeSocks4, SchemeSocks4a, SchemeSocks5, SchemeSocks5h:
		return true
	default:
		return false
	}
}

func (proxy ProxyDescriptor) GetFullProxy() string {
	return net.JoinHostPort(proxy.Host, strconv.Itoa(int(proxy.Port)))
}

func (proxy ProxyDescriptor) HasAuth() bool {
	return proxy.Username != ""
}

func (proxy ProxyDescriptor) IsSocks() bool {
	return strings.HasPrefix(proxy.Scheme, "socks")
}

// URL includes credentials; use String for logging.
func (proxy ProxyDescriptor) URL() *url.URL {
	u := &url.URL{
		Scheme: proxy.Scheme,
		Host:   proxy.GetFullProxy(),
	}
	if proxy.HasAuth() {
		if proxy.Password != "" {
			u.User = url.UserPassword(proxy.Username, proxy.Password)
		} else {
			u.User = url.User(proxy.Username)
		}
	}
	return u
}

func (proxy ProxyDescriptor) String() string {
	return proxy.Scheme + "://" + proxy.GetFullProxy()
}
