package models

import "time"

type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

type EtlRun struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt"`
	AssetsLoaded   int        `json:"assetsLoaded"`
	PricesLoaded   int        `json:"pricesLoaded"`
	PricesRejected int        `json:"pricesRejected"`
	AssetsSkipped  int        `json:"assetsSkipped"`
	PricesChanged  int        `json:"pricesChanged"`
	Status         RunStatus  `json:"status"`
	Error          string     `json:"error,omitempty"`
}

// LoadCounts reports the outcome of one load transaction. Upserted counts
// rows written; Changed counts only rows whose stored values differ
// afterwards, so replaying an identical batch reports zero changes.
type LoadCounts struct {
	AssetsUpserted int `json:"assetsUpserted"`
	PricesUpserted int `json:"pricesUpserted"`
	AssetsChanged  int `json:"assetsChanged"`
	PricesChanged  int `json:"pricesChanged"`
}
