package etl

import (
	"fmt"
	"strings"
)

// Reason classifies why the transformer dropped a price observation.
type Reason string

const (
	ReasonMissingPrice     Reason = "missing_price"
	ReasonNonNumericPrice  Reason = "non_numeric_price"
	ReasonNonPositivePrice Reason = "non_positive_price"
	ReasonUnparsableDate   Reason = "unparsable_date"
	ReasonDuplicate        Reason = "duplicate"
)

// ValidationError describes one rejected observation. It is recoverable:
// the record is dropped and counted, the batch continues.
type ValidationError struct {
	Symbol string
	Index  int
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s[%d]: %s", e.Symbol, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s[%d]: %s (%s)", e.Symbol, e.Index, e.Reason, e.Detail)
}

// DataQualityError aborts a run before anything is written.
type DataQualityError struct {
	Check  string
	Detail string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality check %q failed: %s", e.Check, e.Detail)
}

// LoadError reports a failed load transaction. Nothing from the batch is
// visible once it is returned.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SkippedAsset records an asset dropped from a run and why.
type SkippedAsset struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

func SummarizeSkipped(skipped []SkippedAsset) string {
	parts := make([]string, 0, len(skipped))
	for _, s := range skipped {
		parts = append(parts, s.Symbol+": "+s.Reason)
	}
	return strings.Join(parts, "; ")
}
