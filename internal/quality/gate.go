package quality

import (
	"fmt"
	"strings"

	"github.com/kjannette/trahn-marketdata/internal/etl"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

// Limits holds the optional thresholds of the gate.
// A zero value for any field means that check is disabled.
type Limits struct {
	MinAssets      int
	MaxRejectRatio float64
}

// Gate re-checks a transformed batch right before it is loaded. The
// structural checks always run; Limits add run-level thresholds.
type Gate struct {
	limits Limits
}

func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// Check returns nil if the batch may be loaded, a *etl.DataQualityError
// describing the first failed check otherwise.
func (g *Gate) Check(res *etl.TransformResult) error {
	if res == nil || len(res.Prices) == 0 || len(res.Assets) == 0 {
		return &etl.DataQualityError{Check: "non_empty_batch", Detail: "no valid prices to load"}
	}

	known := make(map[string]bool, len(res.Assets))
	for _, a := range res.Assets {
		known[strings.ToUpper(a.Symbol)] = true
	}

	type key struct {
		symbol string
		date   string
	}
	seen := make(map[key]bool, len(res.Prices))
	for _, p := range res.Prices {
		if !(p.Price > 0) {
			return &etl.DataQualityError{
				Check:  "positive_prices",
				Detail: fmt.Sprintf("%s on %s has price %v", p.Symbol, models.FormatDate(p.Date), p.Price),
			}
		}
		if !known[strings.ToUpper(p.Symbol)] {
			return &etl.DataQualityError{
				Check:  "known_assets",
				Detail: fmt.Sprintf("price for %s has no matching asset", p.Symbol),
			}
		}
		k := key{strings.ToUpper(p.Symbol), models.FormatDate(p.Date)}
		if seen[k] {
			return &etl.DataQualityError{
				Check:  "unique_asset_date",
				Detail: fmt.Sprintf("%s appears twice on %s", k.symbol, k.date),
			}
		}
		seen[k] = true
	}

	if g.limits.MinAssets > 0 && len(res.Assets) < g.limits.MinAssets {
		return &etl.DataQualityError{
			Check:  "min_assets",
			Detail: fmt.Sprintf("%d assets in batch, need at least %d", len(res.Assets), g.limits.MinAssets),
		}
	}

	if g.limits.MaxRejectRatio > 0 && res.Input > 0 {
		ratio := float64(res.Rejected) / float64(res.Input)
		if ratio > g.limits.MaxRejectRatio {
			return &etl.DataQualityError{
				Check: "reject_ratio",
				Detail: fmt.Sprintf("%.1f%% of observations rejected (limit %.1f%%)",
					ratio*100, g.limits.MaxRejectRatio*100),
			}
		}
	}

	return nil
}
