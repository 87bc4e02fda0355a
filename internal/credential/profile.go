package credential

import (
	"context"
	"fmt"
	"time"

	"despeed/internal/api"
	"despeed/internal/api/dto"
	"despeed/internal/domain"
	"despeed/internal/support"
)

// ProfileFetcher looks up the account's username and email for logging.
type ProfileFetcher struct {
	baseURL  string
	resolver TunnelResolver
	timeout  time.Duration
}

func NewProfileFetcher(baseURL string, resolver TunnelResolver) *ProfileFetcher {
	return &ProfileFetcher{
		baseURL:  baseURL,
		resolver: resolver,
		timeout:  api.DefaultTimeout,
	}
}

func (f *ProfileFetcher) Fetch(ctx context.Context, token domain.Credential) (domain.Profile, error) {
	tunnel, _ := resolve(ctx, f.resolver)

	var body dto.ProfileResponse
	resp, err := api.NewClient(f.baseURL, string(token), tunnel, f.timeout).R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&body).
		Get(api.ProfilePath)
	if api.DecodeFailed(resp, err) {
		return domain.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if err != nil {
		return domain.Profile{}, support.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return domain.Profile{}, fmt.Errorf("profile returned status %d", resp.StatusCode())
	}

	return domain.Profile{
		Username: body.Data.Username,
		Email:    body.Data.Email,
	}, nil
}
