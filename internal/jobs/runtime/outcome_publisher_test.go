package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"despeed/internal/domain"

	"github.com/redis/go-redis/v9"
)

func TestNewOutcomeEvent(t *testing.T) {
	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	outcome := domain.AccountOutcome{
		AccountIndex:  2,
		Stage:         domain.StageReporting,
		FailureReason: domain.ErrSubmissionRejected,
		Throughput: domain.Throughput{
			Server:       domain.MeasurementServer{Machine: "mlab3"},
			DownloadMbps: 10.126,
			UploadMbps:   3.3333,
		},
		Reward:     domain.CalculateReward(true, true),
		FinishedAt: finished,
	}

	event := NewOutcomeEvent("node-1", outcome, "secret-token")

	if event.Token == "secret-token" || event.Token != domain.Credential("secret-token").Fingerprint() {
		t.Fatalf("event token = %q, want fingerprint", event.Token)
	}
	if event.DownloadMbps != 10.13 || event.UploadMbps != 3.33 {
		t.Fatalf("speeds = %v/%v, want 10.13/3.33", event.DownloadMbps, event.UploadMbps)
	}
	if event.Reason != domain.ErrSubmissionRejected.Error() || event.Reward != 200 {
		t.Fatalf("event = %+v", event)
	}
	if event.FinishedAt.Location() != time.UTC {
		t.Fatal("FinishedAt is not in UTC")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeOutcomeEvent(string(payload))
	if err != nil || decoded.Machine != "mlab3" || decoded.AccountIndex != 2 {
		t.Fatalf("DecodeOutcomeEvent = %+v, %v", decoded, err)
	}
}

func TestDecodeOutcomeEventInvalid(t *testing.T) {
	if _, err := DecodeOutcomeEvent("{"); err == nil {
		t.Fatal("DecodeOutcomeEvent accepted malformed payload")
	}
}

func TestOutcomePublisherUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewOutcomePublisher(client)
	if err := publisher.Record(context.Background(), domain.AccountOutcome{}, "tok"); err == nil {
		t.Fatal("Record returned nil error for unreachable redis")
	}
}

func TestInstanceIDStable(t *testing.T) {
	if InstanceID() == "" || InstanceID() != InstanceID() {
		t.Fatalf("InstanceID = %q, want a stable non-empty id", InstanceID())
	}
	if NewOutcomePublisher(nil).origin != InstanceID() {
		t.Fatal("publisher origin differs from the instance id")
	}
}

func TestCountActiveInstancesUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	if _, err := CountActiveInstances(context.Background(), client); err == nil {
		t.Fatal("CountActiveInstances returned nil error for unreachable redis")
	}
}
