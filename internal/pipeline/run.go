package pipeline

import (
	"fmt"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/etl"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

type State string

const (
	StateStarted      State = "STARTED"
	StateExtracting   State = "EXTRACTING"
	StateTransforming State = "TRANSFORMING"
	StateLoading      State = "LOADING"
	StateSuccess      State = "SUCCESS"
	StatePartial      State = "PARTIAL"
	StateFailed       State = "FAILED"
)

var transitions = map[State][]State{
	StateStarted:      {StateExtracting, StateFailed},
	StateExtracting:   {StateTransforming, StateFailed},
	StateTransforming: {StateLoading, StateFailed},
	StateLoading:      {StateSuccess, StatePartial, StateFailed},
}

func (s State) Terminal() bool {
	return s == StateSuccess || s == StatePartial || s == StateFailed
}

func (s State) status() models.RunStatus {
	switch s {
	case StateSuccess:
		return models.RunSuccess
	case StatePartial:
		return models.RunPartial
	case StateFailed:
		return models.RunFailed
	default:
		return models.RunPending
	}
}

// Run is the explicit state of one pipeline invocation. It is created at
// start, advanced by each stage and finalized exactly once.
type Run struct {
	models.EtlRun

	State      State
	History    []State
	Selection  etl.Selection
	Skipped    []etl.SkippedAsset
	Rejections map[etl.Reason]int
	Err        error

	finalized bool
}

func newRun(id string, now time.Time) *Run {
	return &Run{
		EtlRun: models.EtlRun{
			ID:        id,
			StartedAt: now.UTC(),
			Status:    models.RunPending,
		},
		State:   StateStarted,
		History: []State{StateStarted},
	}
}

func (r *Run) advance(next State) error {
	for _, allowed := range transitions[r.State] {
		if allowed == next {
			r.State = next
			r.History = append(r.History, next)
			r.Status = next.status()
			return nil
		}
	}
	return fmt.Errorf("illegal run transition %s -> %s", r.State, next)
}

// fail moves the run to FAILED from any non-terminal state.
func (r *Run) fail(stage State, err error) {
	if r.State.Terminal() {
		return
	}
	r.Err = err
	r.Error = fmt.Sprintf("%s: %v", stage, err)
	r.State = StateFailed
	r.History = append(r.History, StateFailed)
	r.Status = models.RunFailed
}

// close stamps finished_at. It reports false if the run was already closed.
func (r *Run) close(now time.Time) bool {
	if r.finalized {
		return false
	}
	r.finalized = true
	t := now.UTC()
	r.FinishedAt = &t
	return true
}
