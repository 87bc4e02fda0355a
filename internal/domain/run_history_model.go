package domain

import (
	"time"
	"unicode/utf8"
)

const maxFailureReasonBytes = 512

// RunHistory is one persisted account outcome. The token itself is never stored.
type RunHistory struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	AccountIndex     int       `gorm:"not null;index"`
	TokenFingerprint string    `gorm:"size:16;not null;index"`
	Success          bool      `gorm:"not null"`
	Stage            string    `gorm:"size:32;not null"`
	FailureReason    string    `gorm:"size:512;default:''"`
	Machine          string    `gorm:"size:128;default:''"`
	DownloadMbps     float64   `gorm:"not null;default:0"`
	UploadMbps       float64   `gorm:"not null;default:0"`
	Latitude         float64   `gorm:"not null;default:0"`
	Longitude        float64   `gorm:"not null;default:0"`
	LocationSource   string    `gorm:"size:16;default:''"`
	RewardMultiplier int       `gorm:"not null;default:0"`
	RewardTotal      int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
}

func (RunHistory) TableName() string {
	return "run_history"
}

func NewRunHistory(outcome AccountOutcome, credential Credential) RunHistory {
	record := RunHistory{
		AccountIndex:     outcome.AccountIndex,
		TokenFingerprint: credential.Fingerprint(),
		Success:          outcome.Success,
		Stage:            string(outcome.Stage),
		Machine:          outcome.Throughput.Server.Machine,
		DownloadMbps:     RoundTo(outcome.Throughput.DownloadMbps, 2),
		UploadMbps:       RoundTo(outcome.Throughput.UploadMbps, 2),
		Latitude:         outcome.Location.Latitude,
		Longitude:        outcome.Location.Longitude,
		LocationSource:   string(outcome.Location.Source),
		RewardMultiplier: outcome.Reward.Multiplier,
		RewardTotal:      outcome.Reward.Total,
	}
	if outcome.FailureReason != nil {
		record.FailureReason = TruncateUTF8(outcome.FailureReason.Error(), maxFailureReasonBytes)
	}
	return record
}

// TruncateUTF8 cuts s to at most maxBytes without splitting a multi-byte rune.
func TruncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
