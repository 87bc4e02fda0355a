package credential

import (
	"context"
	"fmt"
	"time"

	"despeed/internal/api"
	"despeed/internal/domain"
	"despeed/internal/proxy"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
)

// TunnelResolver is satisfied by *proxy.Resolver.
type TunnelResolver interface {
	Resolve(ctx context.Context) (*proxy.Tunnel, bool)
}

// Validator decides whether a bearer token can be used for a batch pass.
type Validator struct {
	baseURL  string
	resolver TunnelResolver
	timeout  time.Duration
	now      func() time.Time
}

func NewValidator(baseURL string, resolver TunnelResolver) *Validator {
	return &Validator{
		baseURL:  baseURL,
		resolver: resolver,
		timeout:  api.DefaultTimeout,
		now:      time.Now,
	}
}

// Validate reports whether token is usable. It never returns an error.
func (v *Validator) Validate(ctx context.Context, token domain.Credential) bool {
	if err := v.Check(ctx, token); err != nil {
		log.Warn("Token validation failed", "token", token.Fingerprint(), "error", err)
		return false
	}
	return true
}

// Check is Validate with the reason: ErrExpiredCredential, ErrInvalidCredential,
// ErrTransportTimeout or ErrTransportError.
func (v *Validator) Check(ctx context.Context, token domain.Credential) error {
	expired, err := token.IsExpired(v.now())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidCredential, err)
	}
	if expired {
		return domain.ErrExpiredCredential
	}

	tunnel, _ := resolve(ctx, v.resolver)

	resp, err := api.NewClient(v.baseURL, string(token), tunnel, v.timeout).R().
		SetContext(ctx).
		Get(api.ProfilePath)
	if err != nil {
		return support.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: profile returned status %d", domain.ErrInvalidCredential, resp.StatusCode())
	}

	return nil
}

func resolve(ctx context.Context, resolver TunnelResolver) (*proxy.Tunnel, bool) {
	if resolver == nil {
		return nil, false
	}
	return resolver.Resolve(ctx)
}
