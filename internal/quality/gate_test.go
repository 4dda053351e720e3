package quality

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/etl"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

var d1 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func okBatch() *etl.TransformResult {
	return &etl.TransformResult{
		Assets: []models.Asset{{Symbol: "BTC"}, {Symbol: "ETH"}},
		Prices: []models.PricePoint{
			{Symbol: "BTC", Date: d1, Price: 67000},
			{Symbol: "ETH", Date: d1, Price: 3700},
		},
		Input: 2,
	}
}

func expectCheck(t *testing.T, err error, check string) {
	t.Helper()
	var dq *etl.DataQualityError
	if !errors.As(err, &dq) {
		t.Fatalf("expected DataQualityError, got %v", err)
	}
	if dq.Check != check {
		t.Fatalf("expected check %q, got %q (%v)", check, dq.Check, err)
	}
	t.Logf("Correctly blocked: %v", err)
}

func TestCheck_Passes(t *testing.T) {
	if err := NewGate(Limits{}).Check(okBatch()); err != nil {
		t.Fatalf("expected batch to pass, got: %v", err)
	}
}

func TestCheck_EmptyBatch(t *testing.T) {
	expectCheck(t, NewGate(Limits{}).Check(&etl.TransformResult{}), "non_empty_batch")
	expectCheck(t, NewGate(Limits{}).Check(nil), "non_empty_batch")
}

func TestCheck_NonPositivePrice(t *testing.T) {
	for _, bad := range []float64{0, -1, math.NaN()} {
		b := okBatch()
		b.Prices[1].Price = bad
		expectCheck(t, NewGate(Limits{}).Check(b), "positive_prices")
	}
}

func TestCheck_DuplicateKey(t *testing.T) {
	b := okBatch()
	b.Prices = append(b.Prices, models.PricePoint{Symbol: "btc", Date: d1, Price: 1})
	expectCheck(t, NewGate(Limits{}).Check(b), "unique_asset_date")
}

func TestCheck_OrphanPrice(t *testing.T) {
	b := okBatch()
	b.Prices = append(b.Prices, models.PricePoint{Symbol: "SOL", Date: d1, Price: 150})
	expectCheck(t, NewGate(Limits{}).Check(b), "known_assets")
}

func TestCheck_MinAssets(t *testing.T) {
	expectCheck(t, NewGate(Limits{MinAssets: 3}).Check(okBatch()), "min_assets")
	if err := NewGate(Limits{MinAssets: 2}).Check(okBatch()); err != nil {
		t.Fatalf("2 assets should satisfy MinAssets=2, got: %v", err)
	}
}

func TestCheck_RejectRatio(t *testing.T) {
	b := okBatch()
	b.Input, b.Rejected = 10, 8
	expectCheck(t, NewGate(Limits{MaxRejectRatio: 0.5}).Check(b), "reject_ratio")

	if err := NewGate(Limits{}).Check(b); err != nil {
		t.Fatalf("zero limit should disable check, got: %v", err)
	}
}
