package geo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"despeed/internal/api"
	"despeed/internal/domain"
	"despeed/internal/proxy"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
)

const (
	DefaultIPInfoURL = "https://ipinfo.io/json"

	lookupTimeout = 30 * time.Second
)

// TunnelResolver is satisfied by *proxy.Resolver.
type TunnelResolver interface {
	Resolve(ctx context.Context) (*proxy.Tunnel, bool)
}

type ipInfoResponse struct {
	IP  string `json:"ip"`
	Loc string `json:"loc"`
}

// Provider returns coordinates for a report. It never fails: every error path ends in
// a synthetic location.
type Provider struct {
	resolver  TunnelResolver
	ipInfoURL string
	egressURL string
	cityDB    CityLookup
	rng       *rand.Rand
	timeout   time.Duration
}

type Option func(*Provider)

// WithCityDatabase enables the GeoLite2 fallback for when the ipinfo lookup fails.
func WithCityDatabase(db CityLookup) Option {
	return func(p *Provider) { p.cityDB = db }
}

// WithEgressURL sets the endpoint used to discover the public IP for the GeoLite2 lookup.
func WithEgressURL(url string) Option {
	return func(p *Provider) { p.egressURL = url }
}

func WithIPInfoURL(url string) Option {
	return func(p *Provider) { p.ipInfoURL = url }
}

func WithRand(rng *rand.Rand) Option {
	return func(p *Provider) { p.rng = rng }
}

func NewProvider(resolver TunnelResolver, opts ...Option) *Provider {
	p := &Provider{
		resolver:  resolver,
		ipInfoURL: DefaultIPInfoURL,
		timeout:   lookupTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Locate(ctx context.Context, useReal bool) domain.Location {
	if !useReal {
		return domain.RandomLocation(p.rng)
	}

	var tunnel *proxy.Tunnel
	if p.resolver != nil {
		tunnel, _ = p.resolver.Resolve(ctx)
	}

	location, ip, err := p.lookupIPInfo(ctx, tunnel)
	if err == nil {
		log.Info("Location resolved", "source", location.Source, "lat", location.Latitude, "lon", location.Longitude)
		return location
	}
	log.Warn("Real location lookup failed", "error", err)

	if p.cityDB != nil {
		if ip == "" && tunnel != nil {
			ip = tunnel.EgressIP
		}
		cityLocation, err := p.lookupCity(ctx, tunnel, ip)
		if err == nil {
			log.Info("Location resolved", "source", cityLocation.Source, "lat", cityLocation.Latitude, "lon", cityLocation.Longitude)
			return cityLocation
		}
		log.Warn("GeoLite location lookup failed", "error", err)
	}

	location = domain.RandomLocation(p.rng)
	log.Info("Using synthetic location", "lat", location.Latitude, "lon", location.Longitude)
	return location
}

// lookupIPInfo also returns the reported IP so the GeoLite fallback can reuse it when only
// the coordinates were unusable.
func (p *Provider) lookupIPInfo(ctx context.Context, tunnel *proxy.Tunnel) (domain.Location, string, error) {
	var body ipInfoResponse
	resp, err := api.NewLookupClient(tunnel, p.timeout).R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&body).
		Get(p.ipInfoURL)
	if api.DecodeFailed(resp, err) {
		return domain.Location{}, "", fmt.Errorf("decode ipinfo: %w", err)
	}
	if err != nil {
		return domain.Location{}, "", support.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return domain.Location{}, "", fmt.Errorf("ipinfo returned status %d", resp.StatusCode())
	}

	lat, lon, err := ParseLoc(body.Loc)
	if err != nil {
		return domain.Location{}, body.IP, err
	}

	return domain.Location{Latitude: lat, Longitude: lon, Source: domain.LocationSourceIPInfo}, body.IP, nil
}

func (p *Provider) lookupCity(ctx context.Context, tunnel *proxy.Tunnel, ip string) (domain.Location, error) {
	if ip == "" {
		discovered, err := p.discoverEgressIP(ctx, tunnel)
		if err != nil {
			return domain.Location{}, err
		}
		ip = discovered
	}

	lat, lon, err := lookupCoordinates(p.cityDB, ip)
	if err != nil {
		return domain.Location{}, err
	}

	return domain.Location{
		Latitude:  domain.RoundTo(lat, 6),
		Longitude: domain.RoundTo(lon, 6),
		Source:    domain.LocationSourceGeoLite,
	}, nil
}

func (p *Provider) discoverEgressIP(ctx context.Context, tunnel *proxy.Tunnel) (string, error) {
	if p.egressURL == "" {
		return "", errors.New("no egress ip endpoint configured")
	}

	resp, err := api.NewLookupClient(tunnel, p.timeout).R().
		SetContext(ctx).
		Get(p.egressURL)
	if err != nil {
		return "", support.ClassifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("egress ip endpoint returned status %d", resp.StatusCode())
	}

	ip := support.FindIP(string(resp.Body()))
	if ip == "" {
		return "", errors.New("egress ip endpoint returned no address")
	}
	return ip, nil
}

// ParseLoc parses ipinfo's "lat,lon" field.
func ParseLoc(loc string) (float64, float64, error) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid loc %q", loc)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", loc, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", loc, err)
	}

	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("loc %q out of range", loc)
	}
	return lat, lon, nil
}
