package runtime

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"despeed/internal/config"
	"despeed/internal/domain"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const batchLockKey = "despeed:lock:batch"

// Pass is one batch pass over all accounts.
type Pass func(ctx context.Context) error

// Scheduler re-runs a pass after a fixed or randomized delay until its context ends.
type Scheduler struct {
	fixed    time.Duration
	random   bool
	minDelay time.Duration
	maxDelay time.Duration

	int64N func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewScheduler(cfg config.Config) *Scheduler {
	minDelay, maxDelay := cfg.RandomDelayRange()
	return &Scheduler{
		fixed:    cfg.CheckInterval(),
		random:   cfg.RandomMode,
		minDelay: minDelay,
		maxDelay: maxDelay,
		int64N:   rand.Int64N,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// NextDelay returns the fixed interval, or in random mode a delay drawn uniformly from
// [min, max].
func (s *Scheduler) NextDelay() time.Duration {
	if !s.random {
		return s.fixed
	}
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	span := int64(s.maxDelay - s.minDelay)
	return s.minDelay + time.Duration(s.int64N(span+1))
}

func NextRunAt(now time.Time, delay time.Duration) time.Time {
	return now.Add(delay)
}

// Run executes pass immediately and then after every NextDelay. A pass error is logged
// and the loop continues, except for ErrNoCredentials which ends the run.
func (s *Scheduler) Run(ctx context.Context, pass Pass) error {
	for {
		if err := pass(ctx); err != nil {
			if errors.Is(err, domain.ErrNoCredentials) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Batch pass failed", "error", err)
		}

		delay := s.NextDelay()
		log.Info("Next batch scheduled", "at", NextRunAt(s.now(), delay).Format(time.DateTime), "in", delay.Round(time.Second))

		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Exclusive wraps pass so that only one instance sharing client runs it at a time.
// An instance that finds the lock taken skips the pass.
func Exclusive(client redis.UniversalClient, pass Pass) Pass {
	return func(ctx context.Context) error {
		_, err := support.RunExclusive(ctx, client, batchLockKey, support.DefaultBatchLockTTL, func(lockCtx context.Context) error {
			return pass(lockCtx)
		})
		return err
	}
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
