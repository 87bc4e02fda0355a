package api

import (
	"time"

	"despeed/internal/proxy"

	"github.com/go-resty/resty/v2"
)

const (
	ProfilePath = "/v1/api/auth/profile"
	PointsPath  = "/v1/api/points"

	DefaultTimeout = 30 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// BrowserHeaders are sent with every request to the service and to third-party lookups.
func BrowserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	}
}

// NewClient returns a resty client for the service at baseURL, routed through tunnel
// (nil means direct) and authenticated with token.
func NewClient(baseURL, token string, tunnel *proxy.Tunnel, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.NewWithClient(tunnel.HTTPClient(timeout))
	client.SetBaseURL(baseURL).
		SetHeaders(BrowserHeaders()).
		SetHeader("Origin", baseURL).
		SetHeader("Referer", baseURL+"/dashboard")

	if token != "" {
		client.SetAuthToken(token)
	}
	return client
}

// DecodeFailed reports whether a request error came from decoding a response the server did
// send, as opposed to the exchange itself failing.
func DecodeFailed(resp *resty.Response, err error) bool {
	return err != nil && resp != nil && resp.RawResponse != nil
}

// NewLookupClient returns a resty client for third-party JSON endpoints.
func NewLookupClient(tunnel *proxy.Tunnel, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return resty.NewWithClient(tunnel.HTTPClient(timeout)).
		SetHeaders(BrowserHeaders())
}
