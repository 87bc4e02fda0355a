package proxy

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"despeed/internal/config"
	"despeed/internal/domain"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
)

const (
	retryBackoffStep = time.Second
	maxProbeBody     = 4 << 10
)

// Resolver picks a live proxy from the pool for each network operation.
type Resolver struct {
	pool       []domain.ProxyDescriptor
	enabled    bool
	maxRetries int
	timeout    time.Duration
	testURL    string

	pick      func(n int) int
	sleep     func(ctx context.Context, d time.Duration) error
	newTunnel func(desc domain.ProxyDescriptor, timeout time.Duration) (*Tunnel, error)
}

func NewResolver(cfg config.Config, pool []domain.ProxyDescriptor) *Resolver {
	maxRetries := int(cfg.Proxy.MaxRetries)
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &Resolver{
		pool:       pool,
		enabled:    cfg.Proxy.Enabled,
		maxRetries: maxRetries,
		timeout:    cfg.ProxyTimeout(),
		testURL:    cfg.Proxy.TestURL,
		pick:       rand.IntN,
		sleep:      sleepContext,
		newTunnel:  NewTunnel,
	}
}

// Resolve returns a tunnel through a proxy that answered the liveness probe. It returns
// (nil, false) when proxying is off, the pool is empty, every attempt failed or ctx ended;
// callers then connect directly.
func (r *Resolver) Resolve(ctx context.Context) (*Tunnel, bool) {
	if r == nil || !r.enabled || len(r.pool) == 0 {
		return nil, false
	}

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		desc := r.pool[r.pick(len(r.pool))]
		tunnel, err := r.newTunnel(desc, r.timeout)
		if err == nil {
			err = r.probe(ctx, tunnel)
		}
		if err == nil {
			log.Info("Proxy connection established", "proxy", desc.String())
			return tunnel, true
		}

		log.Warn("Proxy check failed", "proxy", desc.String(), "attempt", attempt, "max", r.maxRetries, "error", err)

		if err := r.sleep(ctx, time.Duration(attempt)*retryBackoffStep); err != nil {
			return nil, false
		}
	}

	log.Warn("Falling back to a direct connection", "error", domain.ErrProxyUnavailable)
	return nil, false
}

func (r *Resolver) probe(ctx context.Context, tunnel *Tunnel) error {
	transport := tunnel.Transport()
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   r.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.testURL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return support.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody)); err == nil {
		tunnel.EgressIP = support.FindIP(string(body))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
