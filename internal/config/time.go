package config

import (
	"time"

	"github.com/charmbracelet/log"
)

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const (
	minInterval         = time.Second
	maxInterval         = MaxIntervalMinutes * time.Minute
	defaultCheckTimeout = 10 * time.Second
)

// CalculateBetweenTime converts timer into a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	if interval := time.Duration(intervalMs) * time.Millisecond; interval > minInterval {
		return interval
	}
	return minInterval
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

// CheckInterval is the fixed delay between two batch passes, capped at MaxIntervalMinutes.
func (cfg Config) CheckInterval() time.Duration {
	interval := CalculateBetweenTime(cfg.CheckTimer)
	if interval > maxInterval {
		log.Warn("Check interval exceeds the maximum, capping it", "interval", interval, "max", maxInterval)
		return maxInterval
	}
	return interval
}

// RandomDelayRange returns the bounds used when RandomMode is enabled.
func (cfg Config) RandomDelayRange() (time.Duration, time.Duration) {
	return CalculateBetweenTime(cfg.MinRandomDelay), CalculateBetweenTime(cfg.MaxRandomDelay)
}

func (cfg Config) ProxyTimeout() time.Duration {
	if cfg.Proxy.Timeout == 0 {
		return defaultCheckTimeout
	}
	return time.Duration(cfg.Proxy.Timeout) * time.Millisecond
}
