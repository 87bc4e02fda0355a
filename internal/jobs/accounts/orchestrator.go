package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"despeed/internal/domain"
	"despeed/internal/proxy"

	"github.com/charmbracelet/log"
)

// DefaultAccountDelay separates two consecutive accounts of a batch.
const DefaultAccountDelay = 30 * time.Second

type CredentialChecker interface {
	Check(ctx context.Context, token domain.Credential) error
}

type ProfileFetcher interface {
	Fetch(ctx context.Context, token domain.Credential) (domain.Profile, error)
}

type LocationProvider interface {
	Locate(ctx context.Context, useReal bool) domain.Location
}

type ServerLocator interface {
	Locate(ctx context.Context, tunnel *proxy.Tunnel) (domain.MeasurementServer, error)
}

type ThroughputMeasurer interface {
	Measure(ctx context.Context, server domain.MeasurementServer, tunnel *proxy.Tunnel) domain.Throughput
}

type ResultReporter interface {
	Reward() domain.Reward
	Report(ctx context.Context, token domain.Credential, throughput domain.Throughput, location domain.Location) (domain.ReportResult, error)
}

type TunnelResolver interface {
	Resolve(ctx context.Context) (*proxy.Tunnel, bool)
}

// OutcomeSink receives every finished account outcome. Errors are logged only.
type OutcomeSink interface {
	Record(ctx context.Context, outcome domain.AccountOutcome, credential domain.Credential) error
}

type Dependencies struct {
	Validator CredentialChecker
	Profiles  ProfileFetcher
	Locations LocationProvider
	Servers   ServerLocator
	Engine    ThroughputMeasurer
	Reporter  ResultReporter
	// Resolver is optional; without it every measurement runs direct.
	Resolver TunnelResolver
}

// Orchestrator runs one batch pass over a list of credentials, one account at a time.
type Orchestrator struct {
	deps            Dependencies
	locationEnabled bool
	accountDelay    time.Duration
	sinks           []OutcomeSink

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(deps Dependencies, locationEnabled bool, sinks ...OutcomeSink) *Orchestrator {
	return &Orchestrator{
		deps:            deps,
		locationEnabled: locationEnabled,
		accountDelay:    DefaultAccountDelay,
		sinks:           sinks,
		sleep:           sleepContext,
		now:             time.Now,
	}
}

// RunBatch processes every token in order. A failing account never stops the batch; only
// an empty token list or ctx cancellation end it early. On cancellation the outcomes of
// the accounts finished so far are returned together with ctx.Err().
func (o *Orchestrator) RunBatch(ctx context.Context, tokens []domain.Credential) ([]domain.AccountOutcome, error) {
	if len(tokens) == 0 {
		return nil, domain.ErrNoCredentials
	}

	log.Info("Starting batch", "accounts", len(tokens))
	outcomes := make([]domain.AccountOutcome, 0, len(tokens))

	for i, token := range tokens {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := o.ProcessAccount(ctx, i, token)
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, outcome)
		o.publish(ctx, outcome, token)

		if i < len(tokens)-1 {
			log.Info("Waiting before next account", "delay", o.accountDelay)
			if err := o.sleep(ctx, o.accountDelay); err != nil {
				return outcomes, err
			}
		}
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}
	log.Info("Batch finished", "succeeded", succeeded, "failed", len(outcomes)-succeeded)

	return outcomes, nil
}

// ProcessAccount runs the pipeline for one credential. It never panics: a panic in any
// stage becomes a failed outcome.
func (o *Orchestrator) ProcessAccount(ctx context.Context, index int, token domain.Credential) (outcome domain.AccountOutcome) {
	logger := log.With("account", index+1, "token", token.Fingerprint())
	outcome = domain.AccountOutcome{AccountIndex: index, Stage: domain.StageValidating}

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.FailureReason = fmt.Errorf("panic during %s: %v", outcome.Stage, r)
			logger.Error("Account processing panicked", "stage", outcome.Stage, "panic", r)
		}
		outcome.FinishedAt = o.now()
	}()

	fail := func(err error) domain.AccountOutcome {
		outcome.Success = false
		outcome.FailureReason = err
		logger.Error("Account failed", "stage", outcome.Stage, "error", err)
		return outcome
	}

	logger.Info("Processing account")

	if err := o.deps.Validator.Check(ctx, token); err != nil {
		return fail(err)
	}
	logger.Info("Token validated")

	outcome.Stage = domain.StageFetchingProfile
	if o.deps.Profiles != nil {
		if profile, err := o.deps.Profiles.Fetch(ctx, token); err != nil {
			logger.Warn("Could not fetch account profile", "error", err)
		} else {
			logger.Info("Account profile", "username", orUnknown(profile.Username), "email", orUnknown(profile.Email))
		}
	}

	outcome.Stage = domain.StageLocating
	outcome.Location = o.deps.Locations.Locate(ctx, o.locationEnabled)
	logger.Info("Test location", "lat", outcome.Location.Latitude, "lon", outcome.Location.Longitude, "source", outcome.Location.Source)

	var tunnel *proxy.Tunnel
	if o.deps.Resolver != nil {
		tunnel, _ = o.deps.Resolver.Resolve(ctx)
	}

	outcome.Stage = domain.StageLocatingServer
	server, err := o.deps.Servers.Locate(ctx, tunnel)
	if err != nil {
		return fail(err)
	}

	outcome.Stage = domain.StageMeasuring
	outcome.Throughput = o.deps.Engine.Measure(ctx, server, tunnel)
	logger.Info("Measurement finished",
		"download", fmt.Sprintf("%.2f Mbps", outcome.Throughput.DownloadMbps),
		"upload", fmt.Sprintf("%.2f Mbps", outcome.Throughput.UploadMbps))

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	outcome.Stage = domain.StageReporting
	outcome.Reward = o.deps.Reporter.Reward()
	if _, err := o.deps.Reporter.Report(ctx, token, outcome.Throughput, outcome.Location); err != nil {
		var rejected *domain.SubmissionRejectedError
		if errors.As(err, &rejected) {
			logger.Error("Report rejected", "status", rejected.StatusCode, "reason", rejected.Message)
		}
		return fail(err)
	}

	outcome.Stage = domain.StageDone
	outcome.Success = true
	logger.Info("Account finished", "reward", outcome.Reward.Total)
	return outcome
}

func (o *Orchestrator) publish(ctx context.Context, outcome domain.AccountOutcome, token domain.Credential) {
	for _, sink := range o.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, outcome, token); err != nil {
			log.Warn("Failed to record account outcome", "account", outcome.AccountIndex+1, "error", err)
		}
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
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
