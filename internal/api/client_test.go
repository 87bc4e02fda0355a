package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientSendsServiceHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	resp, err := NewClient(server.URL, "tok", nil, 0).R().SetContext(context.Background()).Get(ProfilePath)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode() != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode())
	}

	want := map[string]string{
		"Authorization":   "Bearer tok",
		"Origin":          server.URL,
		"Referer":         server.URL + "/dashboard",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"User-Agent":      userAgent,
	}
	for key, value := range want {
		if got.Get(key) != value {
			t.Fatalf("header %s = %q, want %q", key, got.Get(key), value)
		}
	}
}

func TestNewLookupClientHasNoAuth(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	t.Cleanup(server.Close)

	if _, err := NewLookupClient(nil, 0).R().Get(server.URL); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if auth != "" {
		t.Fatalf("lookup client sent Authorization %q", auth)
	}
}
