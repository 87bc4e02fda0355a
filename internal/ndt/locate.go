package ndt

import (
	"context"
	"fmt"
	"time"

	"despeed/internal/api"
	"despeed/internal/domain"
	"despeed/internal/proxy"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	DefaultLocateURL = "https://locate.measurementlab.net/v2/nearest/ndt/ndt7"

	clientName     = "speed-measurementlab-net-1"
	downloadURLKey = "wss:///ndt/v7/download"
	uploadURLKey   = "wss:///ndt/v7/upload"
)

type locateResponse struct {
	Results []struct {
		Machine string            `json:"machine"`
		URLs    map[string]string `json:"urls"`
	} `json:"results"`
}

// Locator asks the M-Lab locate service for the nearest ndt7 server.
type Locator struct {
	url       string
	timeout   time.Duration
	sessionID func() string
}

func NewLocator() *Locator {
	return &Locator{
		url:       DefaultLocateURL,
		timeout:   api.DefaultTimeout,
		sessionID: uuid.NewString,
	}
}

// Locate returns the first result. Every failure wraps ErrNoMeasurementServer.
func (l *Locator) Locate(ctx context.Context, tunnel *proxy.Tunnel) (domain.MeasurementServer, error) {
	var body locateResponse
	resp, err := api.NewLookupClient(tunnel, l.timeout).R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_name":       clientName,
			"client_session_id": l.sessionID(),
		}).
		ForceContentType("application/json").
		SetResult(&body).
		Get(l.url)
	if api.DecodeFailed(resp, err) {
		return domain.MeasurementServer{}, fmt.Errorf("%w: decode locate response: %w", domain.ErrNoMeasurementServer, err)
	}
	if err != nil {
		return domain.MeasurementServer{}, fmt.Errorf("%w: %w", domain.ErrNoMeasurementServer, support.ClassifyTransportError(err))
	}
	if !resp.IsSuccess() {
		return domain.MeasurementServer{}, fmt.Errorf("%w: locate returned status %d", domain.ErrNoMeasurementServer, resp.StatusCode())
	}
	if len(body.Results) == 0 {
		return domain.MeasurementServer{}, fmt.Errorf("%w: empty results", domain.ErrNoMeasurementServer)
	}

	first := body.Results[0]
	server := domain.MeasurementServer{
		Machine:     first.Machine,
		DownloadURL: first.URLs[downloadURLKey],
		UploadURL:   first.URLs[uploadURLKey],
	}
	if server.DownloadURL == "" || server.UploadURL == "" {
		return domain.MeasurementServer{}, fmt.Errorf("%w: %s has no ndt7 urls", domain.ErrNoMeasurementServer, first.Machine)
	}

	log.Info("Measurement server selected", "machine", server.Machine)
	return server, nil
}
