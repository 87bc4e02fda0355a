package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"despeed/internal/config"
	"despeed/internal/domain"
)

// newForwardProxy answers every absolute-form request itself, the way an HTTP
// forward proxy would after relaying it.
func newForwardProxy(t *testing.T, status int, hits *atomic.Int32) domain.ProxyDescriptor {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Host == "" {
			http.Error(w, "not a proxy request", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	return domain.ProxyDescriptor{Scheme: domain.SchemeHTTP, Host: u.Hostname(), Port: uint16(port)}
}

func testConfig(retries uint32) config.Config {
	cfg := config.Default()
	cfg.Proxy.Enabled = true
	cfg.Proxy.MaxRetries = retries
	cfg.Proxy.Timeout = 2000
	cfg.Proxy.TestURL = "http://probe.test/json"
	return cfg
}

func recordSleeps(r *Resolver) *[]time.Duration {
	var sleeps []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return &sleeps
}

func TestResolveDisabledOrEmpty(t *testing.T) {
	cfg := testConfig(3)
	cfg.Proxy.Enabled = false

	desc := domain.ProxyDescriptor{Scheme: domain.SchemeHTTP, Host: "127.0.0.1", Port: 1}
	if tunnel, ok := NewResolver(cfg, []domain.ProxyDescriptor{desc}).Resolve(context.Background()); ok || tunnel != nil {
		t.Fatal("Resolve returned a tunnel while proxying is disabled")
	}

	if tunnel, ok := NewResolver(testConfig(3), nil).Resolve(context.Background()); ok || tunnel != nil {
		t.Fatal("Resolve returned a tunnel for an empty pool")
	}
}

func TestResolveLiveProxy(t *testing.T) {
	var hits atomic.Int32
	desc := newForwardProxy(t, http.StatusOK, &hits)

	resolver := NewResolver(testConfig(3), []domain.ProxyDescriptor{desc})
	sleeps := recordSleeps(resolver)

	tunnel, ok := resolver.Resolve(context.Background())
	if !ok || tunnel == nil {
		t.Fatal("Resolve did not return a tunnel for a live proxy")
	}
	if tunnel.Descriptor != desc {
		t.Fatalf("tunnel descriptor = %v, want %v", tunnel.Descriptor, desc)
	}
	if tunnel.EgressIP != "198.51.100.7" {
		t.Fatalf("EgressIP = %q, want 198.51.100.7", tunnel.EgressIP)
	}
	if hits.Load() != 1 {
		t.Fatalf("proxy received %d probes, want 1", hits.Load())
	}
	if len(*sleeps) != 0 {
		t.Fatalf("Resolve slept %v before a successful probe", *sleeps)
	}
}

func TestResolveAllDeadLinearBackoff(t *testing.T) {
	var hits atomic.Int32
	dead := newForwardProxy(t, http.StatusBadGateway, &hits)

	resolver := NewResolver(testConfig(3), []domain.ProxyDescriptor{dead})
	sleeps := recordSleeps(resolver)

	tunnel, ok := resolver.Resolve(context.Background())
	if ok || tunnel != nil {
		t.Fatal("Resolve returned a tunnel although every probe failed")
	}

	if hits.Load() != 3 {
		t.Fatalf("Resolve made %d attempts, want 3", hits.Load())
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if fmt.Sprint(*sleeps) != fmt.Sprint(want) {
		t.Fatalf("backoff sequence = %v, want %v", *sleeps, want)
	}
}

func TestResolvePicksIndependentlyEachAttempt(t *testing.T) {
	var deadHits, liveHits atomic.Int32
	dead := newForwardProxy(t, http.StatusServiceUnavailable, &deadHits)
	live := newForwardProxy(t, http.StatusOK, &liveHits)

	resolver := NewResolver(testConfig(3), []domain.ProxyDescriptor{dead, live})
	recordSleeps(resolver)

	picks := []int{0, 1}
	resolver.pick = func(n int) int {
		next := picks[0]
		picks = picks[1:]
		return next
	}

	tunnel, ok := resolver.Resolve(context.Background())
	if !ok || tunnel.Descriptor != live {
		t.Fatalf("Resolve = %v, %v; want live proxy on second attempt", tunnel, ok)
	}
	if deadHits.Load() != 1 || liveHits.Load() != 1 {
		t.Fatalf("probe counts dead=%d live=%d, want 1 each", deadHits.Load(), liveHits.Load())
	}
}

func TestResolveUnsupportedSchemeCountsAsDeadAttempt(t *testing.T) {
	resolver := NewResolver(testConfig(2), []domain.ProxyDescriptor{{Scheme: "ftp", Host: "127.0.0.1", Port: 21}})
	sleeps := recordSleeps(resolver)

	if _, ok := resolver.Resolve(context.Background()); ok {
		t.Fatal("Resolve accepted an unsupported scheme")
	}
	if len(*sleeps) != 2 {
		t.Fatalf("Resolve made %d attempts, want 2", len(*sleeps))
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	dead := newForwardProxy(t, http.StatusBadGateway, nil)
	resolver := NewResolver(testConfig(3), []domain.ProxyDescriptor{dead})

	ctx, cancel := context.WithCancel(context.Background())
	resolver.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	if _, ok := resolver.Resolve(ctx); ok {
		t.Fatal("Resolve returned a tunnel after cancellation")
	}
}
