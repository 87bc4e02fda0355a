package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"despeed/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	OutcomeChannel        = "despeed:outcomes"
	outcomePublishTimeout = 5 * time.Second
	subscribeBackoff      = time.Second
)

// OutcomeEvent is the JSON payload published for every finished account.
type OutcomeEvent struct {
	Origin       string    `json:"origin"`
	AccountIndex int       `json:"account_index"`
	Token        string    `json:"token"`
	Success      bool      `json:"success"`
	Stage        string    `json:"stage"`
	Reason       string    `json:"reason,omitempty"`
	Machine      string    `json:"machine,omitempty"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	Reward       int       `json:"reward"`
	FinishedAt   time.Time `json:"finished_at"`
}

func NewOutcomeEvent(origin string, outcome domain.AccountOutcome, credential domain.Credential) OutcomeEvent {
	event := OutcomeEvent{
		Origin:       origin,
		AccountIndex: outcome.AccountIndex,
		Token:        credential.Fingerprint(),
		Success:      outcome.Success,
		Stage:        string(outcome.Stage),
		Machine:      outcome.Throughput.Server.Machine,
		DownloadMbps: domain.RoundTo(outcome.Throughput.DownloadMbps, 2),
		UploadMbps:   domain.RoundTo(outcome.Throughput.UploadMbps, 2),
		Reward:       outcome.Reward.Total,
		FinishedAt:   outcome.FinishedAt.UTC(),
	}
	if outcome.FailureReason != nil {
		event.Reason = outcome.FailureReason.Error()
	}
	return event
}

// OutcomePublisher broadcasts account outcomes on a redis channel.
type OutcomePublisher struct {
	client redis.UniversalClient
	origin string
}

func NewOutcomePublisher(client redis.UniversalClient) *OutcomePublisher {
	return &OutcomePublisher{
		client: client,
		origin: InstanceID(),
	}
}

// Record implements the orchestrator's outcome sink.
func (p *OutcomePublisher) Record(ctx context.Context, outcome domain.AccountOutcome, credential domain.Credential) error {
	payload, err := json.Marshal(NewOutcomeEvent(p.origin, outcome, credential))
	if err != nil {
		return fmt.Errorf("outcome publisher: marshal: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, outcomePublishTimeout)
	defer cancel()

	if err := p.client.Publish(opCtx, OutcomeChannel, payload).Err(); err != nil {
		return fmt.Errorf("outcome publisher: publish: %w", err)
	}
	return nil
}

// SubscribeOutcomes calls handle for every event published on the outcome channel until
// ctx is done.
func SubscribeOutcomes(ctx context.Context, client redis.UniversalClient, handle func(OutcomeEvent)) error {
	pubsub := client.Subscribe(ctx, OutcomeChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Outcome subscription error", "error", err)
			if err := sleepContext(ctx, subscribeBackoff); err != nil {
				return err
			}
			continue
		}

		event, err := DecodeOutcomeEvent(msg.Payload)
		if err != nil {
			log.Error("Outcome subscription: invalid payload", "error", err)
			continue
		}
		handle(event)
	}
}

func DecodeOutcomeEvent(payload string) (OutcomeEvent, error) {
	var event OutcomeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return OutcomeEvent{}, err
	}
	return event, nil
}
