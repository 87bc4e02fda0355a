package domain

import "time"

type Stage string

const (
	StageValidating      Stage = "validating"
	StageFetchingProfile Stage = "fetching_profile"
	StageLocating        Stage = "locating"
	StageLocatingServer  Stage = "locating_server"
	StageMeasuring       Stage = "measuring"
	StageReporting       Stage = "reporting"
	StageDone            Stage = "done"
)

// AccountOutcome is produced once per credential per batch pass.
type AccountOutcome struct {
	AccountIndex  int
	Success       bool
	Stage         Stage
	FailureReason error

	Throughput Throughput
	Location   Location
	Reward     Reward
	FinishedAt time.Time
}

type ReportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
