package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

var (
	// ErrInsufficientData marks a metric that is undefined for the requested
	// window. It is an expected outcome, not a failure of the engine.
	ErrInsufficientData = errors.New("insufficient data")
	ErrAssetNotFound    = errors.New("asset not found")
)

// InsufficientDataError says which metric was undefined and why.
type InsufficientDataError struct {
	Symbol string
	Metric string
	AsOf   time.Time
	Need   int
	Have   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("%s %s as of %s: %s", e.Symbol, e.Metric, models.FormatDate(e.AsOf), ErrInsufficientData)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Need > 0 {
		msg += fmt.Sprintf(": need %d, have %d", e.Need, e.Have)
	}
	return msg
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// IsInsufficient reports whether err means "undefined for this window".
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
