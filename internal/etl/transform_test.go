package etl

import (
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-marketdata/internal/external"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

const day = int64(24 * time.Hour / time.Millisecond)

// 2024-06-01T00:00:00Z
const base = int64(1717200000000)

func pt(ts, v string) external.Point {
	return external.Point{json.RawMessage(ts), json.RawMessage(v)}
}

func ms(offsetDays int64, extra time.Duration) string {
	return strconv.FormatInt(base+offsetDays*day+extra.Milliseconds(), 10)
}

func record(symbol string, prices ...external.Point) RawAssetRecord {
	return RawAssetRecord{Symbol: symbol, Name: symbol + " coin", Source: "coingecko", SourceID: symbol, Chart: external.MarketChart{Prices: prices}}
}

func seq(recs ...RawAssetRecord) iter.Seq[RawAssetRecord] {
	return slices.Values(recs)
}

func TestTransform_RejectsInvalidObservations(t *testing.T) {
	rec := record("btc",
		pt(ms(0, 0), "100.5"),
		pt(ms(1, 0), "null"),
		pt(ms(2, 0), `"abc"`),
		pt(ms(3, 0), "0"),
		pt(ms(4, 0), "-3"),
		pt(`"not a date"`, "10"),
		pt(ms(5, 0), `"101.25"`),
	)

	res, err := NewTransformer(time.UTC, nil).Transform(seq(rec))
	require.NoError(t, err)

	assert.Equal(t, 7, res.Input)
	assert.Equal(t, 5, res.Rejected)
	assert.Equal(t, res.Input-res.Rejected, res.Valid())
	assert.Equal(t, 1, res.Reasons[ReasonMissingPrice])
	assert.Equal(t, 1, res.Reasons[ReasonNonNumericPrice])
	assert.Equal(t, 2, res.Reasons[ReasonNonPositivePrice])
	assert.Equal(t, 1, res.Reasons[ReasonUnparsableDate])

	require.Len(t, res.Prices, 2)
	for _, p := range res.Prices {
		assert.Greater(t, p.Price, 0.0)
		assert.Equal(t, "BTC", p.Symbol)
	}
	assert.Equal(t, "2024-06-06", models.FormatDate(res.Prices[1].Date))
	assert.InDelta(t, 101.25, res.Prices[1].Price, 1e-12)
}

func TestTransform_DuplicateKeepsLatestObservation(t *testing.T) {
	rec := record("ETH",
		pt(ms(0, 20*time.Hour), "3020"),
		pt(ms(0, 0), "3000"),
		pt(ms(0, 10*time.Hour), "3010"),
	)

	res, err := NewTransformer(time.UTC, nil).Transform(seq(rec))
	require.NoError(t, err)
	require.Len(t, res.Prices, 1)
	assert.InDelta(t, 3020, res.Prices[0].Price, 1e-9)
	assert.Equal(t, 2, res.Reasons[ReasonDuplicate])
	assert.Equal(t, 1, res.Valid())
}

func TestTransform_DuplicateTieKeepsLastSeen(t *testing.T) {
	rec := record("ETH", pt(ms(0, 0), "1"), pt(ms(0, 0), "2"))

	res, err := NewTransformer(time.UTC, nil).Transform(seq(rec))
	require.NoError(t, err)
	require.Len(t, res.Prices, 1)
	assert.InDelta(t, 2, res.Prices[0].Price, 1e-9)
}

func TestTransform_DuplicatesAcrossRecordsOfSameSymbol(t *testing.T) {
	res, err := NewTransformer(time.UTC, nil).Transform(seq(
		record("sol", pt(ms(0, 0), "150")),
		record("SOL", pt(ms(0, time.Hour), "151")),
	))
	require.NoError(t, err)
	require.Len(t, res.Prices, 1)
	assert.InDelta(t, 151, res.Prices[0].Price, 1e-9)
	assert.Len(t, res.Assets, 1)
}

func TestTransform_TimezoneNormalization(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 02:00 UTC on June 2nd is still June 1st in New York.
	rec := record("BTC", pt(ms(1, 2*time.Hour), "1"), pt(`"2024-06-03"`, "2"))

	res, err := NewTransformer(ny, nil).Transform(seq(rec))
	require.NoError(t, err)
	require.Len(t, res.Prices, 2)
	assert.Equal(t, "2024-06-01", models.FormatDate(res.Prices[0].Date))
	assert.Equal(t, "2024-06-03", models.FormatDate(res.Prices[1].Date))
	assert.Equal(t, time.UTC, res.Prices[0].Date.Location())
}

func TestTransform_TimestampFormats(t *testing.T) {
	rec := record("BTC",
		pt(ms(0, 0), "1"),
		pt(`"1717286400000"`, "2"),
		pt(`"2024-06-03T12:00:00Z"`, "3"),
		pt(`"2024-06-04"`, "4"),
		pt("-5", "5"),
		pt("null", "6"),
	)
	res, err := NewTransformer(time.UTC, nil).Transform(seq(rec))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Valid())
	assert.Equal(t, 2, res.Reasons[ReasonUnparsableDate])
}

func TestTransform_MarketCapAndVolumeMatchedByDate(t *testing.T) {
	rec := record("BTC", pt(ms(0, 0), "67491.41523188371"), pt(ms(1, 0), "67760.7"))
	rec.Chart.MarketCaps = []external.Point{
		pt(ms(0, 0), "1329990251207.5476"),
		pt(ms(1, 0), "null"),
	}
	rec.Chart.TotalVolumes = []external.Point{
		pt(ms(0, 0), `"22412004186.777"`),
		pt(ms(1, 0), "-1"),
	}

	res, err := NewTransformer(time.UTC, nil).Transform(seq(rec))
	require.NoError(t, err)
	require.Len(t, res.Prices, 2)

	first := res.Prices[0]
	assert.InDelta(t, 67491.41523188, first.Price, 1e-12)
	require.NotNil(t, first.MarketCap)
	assert.InDelta(t, 1329990251207.55, *first.MarketCap, 1e-6)
	require.NotNil(t, first.Volume)
	assert.InDelta(t, 22412004186.78, *first.Volume, 1e-6)

	assert.Nil(t, res.Prices[1].MarketCap)
	assert.Nil(t, res.Prices[1].Volume)
}

func TestTransform_PriceRoundingToZeroIsRejected(t *testing.T) {
	res, err := NewTransformer(time.UTC, nil).Transform(seq(record("DUST", pt(ms(0, 0), "0.000000001"))))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reasons[ReasonNonPositivePrice])
	assert.Empty(t, res.Assets)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "DUST", res.Dropped[0].Symbol)
}

func TestTransform_EmptyInputIsDataQualityError(t *testing.T) {
	_, err := NewTransformer(time.UTC, nil).Transform(seq())
	var dq *DataQualityError
	require.True(t, errors.As(err, &dq), "expected DataQualityError, got %v", err)
}

func TestTransform_OutputOrderedBySymbolThenDate(t *testing.T) {
	res, err := NewTransformer(time.UTC, nil).Transform(seq(
		record("ETH", pt(ms(2, 0), "3"), pt(ms(0, 0), "1")),
		record("BTC", pt(ms(1, 0), "2")),
	))
	require.NoError(t, err)
	var got []string
	for _, p := range res.Prices {
		got = append(got, p.Symbol+"@"+models.FormatDate(p.Date))
	}
	assert.Equal(t, []string{"BTC@2024-06-02", "ETH@2024-06-01", "ETH@2024-06-03"}, got)
	assert.Equal(t, []string{"ETH", "BTC"}, []string{res.Assets[0].Symbol, res.Assets[1].Symbol})
}

func TestTransform_RejectsOutOfRangeTimestamps(t *testing.T) {
	tr := NewTransformer(time.UTC, nil)
	tr.now = func() time.Time { return time.UnixMilli(base).Add(10 * 24 * time.Hour) }

	res, err := tr.Transform(seq(record("BTC",
		pt(ms(0, 0), "100"),
		// year 10000
		pt("253402300800000", "101"),
		// valid year, far past the run clock
		pt(`"9999-12-31"`, "102"),
		pt(ms(30, 0), "103"),
		// within a day of the run clock
		pt(ms(10, 12*time.Hour), "104"),
	)))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Valid())
	assert.Equal(t, 3, res.Rejected)
	assert.Equal(t, 3, res.Reasons[ReasonUnparsableDate])
	for _, p := range res.Prices {
		assert.Len(t, models.FormatDate(p.Date), len(models.DateLayout))
	}
}
