package report

import (
	"context"
	"fmt"
	"time"

	"despeed/internal/api"
	"despeed/internal/api/dto"
	"despeed/internal/domain"
	"despeed/internal/proxy"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// TunnelResolver is satisfied by *proxy.Resolver.
type TunnelResolver interface {
	Resolve(ctx context.Context) (*proxy.Tunnel, bool)
}

// Reporter submits measurements to the points endpoint.
type Reporter struct {
	baseURL         string
	resolver        TunnelResolver
	locationEnabled bool
	uniqueIP        bool
	timeout         time.Duration
	now             func() time.Time
}

func NewReporter(baseURL string, resolver TunnelResolver, locationEnabled, uniqueIP bool) *Reporter {
	return &Reporter{
		baseURL:         baseURL,
		resolver:        resolver,
		locationEnabled: locationEnabled,
		uniqueIP:        uniqueIP,
		timeout:         api.DefaultTimeout,
		now:             time.Now,
	}
}

func (r *Reporter) Reward() domain.Reward {
	return domain.CalculateReward(r.locationEnabled, r.uniqueIP)
}

// BuildRequest assembles the report body. Speeds are rounded to two decimals.
func BuildRequest(throughput domain.Throughput, location domain.Location, reward domain.Reward, at time.Time) dto.PointsRequest {
	return dto.PointsRequest{
		DownloadSpeed: domain.RoundTo(throughput.DownloadMbps, 2),
		UploadSpeed:   domain.RoundTo(throughput.UploadMbps, 2),
		Latitude:      location.Latitude,
		Longitude:     location.Longitude,
		Timestamp:     at.UTC().Format(TimestampLayout),
		BaseReward:    reward.Base,
		Multiplier:    reward.Multiplier,
		Reward:        reward.Total,
	}
}

// Report posts one measurement. A response the service refused yields a
// *domain.SubmissionRejectedError; a failed exchange wraps ErrSubmissionError.
func (r *Reporter) Report(ctx context.Context, token domain.Credential, throughput domain.Throughput, location domain.Location) (domain.ReportResult, error) {
	reward := r.Reward()
	body := BuildRequest(throughput, location, reward, r.now())

	var tunnel *proxy.Tunnel
	if r.resolver != nil {
		tunnel, _ = r.resolver.Resolve(ctx)
	}

	var accepted, refused dto.PointsResponse
	resp, err := api.NewClient(r.baseURL, string(token), tunnel, r.timeout).R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&accepted).
		SetError(&refused).
		Post(api.PointsPath)
	if api.DecodeFailed(resp, err) {
		return domain.ReportResult{}, fmt.Errorf("%w: decode response: %w", domain.ErrSubmissionError, err)
	}
	if err != nil {
		return domain.ReportResult{}, fmt.Errorf("%w: %w", domain.ErrSubmissionError, support.ClassifyTransportError(err))
	}

	if !resp.IsSuccess() {
		return domain.ReportResult{}, &domain.SubmissionRejectedError{StatusCode: resp.StatusCode(), Message: rejectionMessage(refused, resp.String())}
	}
	if !accepted.Success {
		return domain.ReportResult{}, &domain.SubmissionRejectedError{StatusCode: resp.StatusCode(), Message: rejectionMessage(accepted, "")}
	}

	log.Info("Report submitted", "reward", reward.Total, "multiplier", reward.Multiplier)
	return domain.ReportResult{Success: true, Message: accepted.Message}, nil
}

func rejectionMessage(parsed dto.PointsResponse, body string) string {
	if parsed.Message != "" {
		return parsed.Message
	}
	const maxLen = 200
	return domain.TruncateUTF8(body, maxLen)
}
