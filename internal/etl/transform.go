package etl

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-marketdata/internal/external"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

// Stored precision of numeric columns.
const (
	PriceScale  = 8
	AmountScale = 2

	maxRejectionSamples = 100
)

var errMissing = errors.New("missing")

type TransformResult struct {
	Assets   []models.Asset
	Prices   []models.PricePoint
	Input    int
	Rejected int
	Reasons  map[Reason]int
	// Samples holds the first rejections for the run log.
	Samples []ValidationError
	// Dropped lists assets that had no valid price left.
	Dropped []SkippedAsset
}

func (r *TransformResult) Valid() int { return len(r.Prices) }

// maxClockSkew bounds how far past the run clock an observation may be dated.
const maxClockSkew = 24 * time.Hour

type Transformer struct {
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewTransformer normalizes dates to calendar days in loc (UTC when nil).
func NewTransformer(loc *time.Location, logger *slog.Logger) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{loc: loc, logger: logger.With("component", "transformer"), now: time.Now}
}

type dateKey struct {
	symbol string
	date   time.Time
}

type observed struct {
	value decimal.Decimal
	at    time.Time
}

// Transform validates and normalizes every record of the sequence. Bad
// observations are dropped and counted; only a sequence with no records at
// all is an error.
func (t *Transformer) Transform(records iter.Seq[RawAssetRecord]) (*TransformResult, error) {
	res := &TransformResult{Reasons: make(map[Reason]int)}
	accepted := make(map[dateKey]models.PricePoint)
	assets := make(map[string]models.Asset)
	var order []string
	seenRecords := 0

	for rec := range records {
		seenRecords++
		symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
		if _, ok := assets[symbol]; !ok {
			order = append(order, symbol)
		}
		assets[symbol] = models.Asset{
			Symbol:   symbol,
			Name:     strings.TrimSpace(rec.Name),
			Source:   rec.Source,
			SourceID: rec.SourceID,
		}

		caps := t.sideSeries(rec.Chart.MarketCaps)
		vols := t.sideSeries(rec.Chart.TotalVolumes)

		for i, pt := range rec.Chart.Prices {
			res.Input++

			price, reason, detail := parsePrice(pt[1])
			var ts time.Time
			if reason == "" {
				var err error
				if ts, err = t.timestamp(pt[0]); err != nil {
					reason, detail = ReasonUnparsableDate, err.Error()
				}
			}
			if reason != "" {
				t.reject(res, ValidationError{Symbol: symbol, Index: i, Reason: reason, Detail: detail})
				continue
			}

			date := models.CalendarDate(ts, t.loc)
			p := models.PricePoint{
				Symbol:     symbol,
				Date:       date,
				Price:      price.InexactFloat64(),
				ObservedAt: ts,
			}
			if v, ok := caps[date]; ok {
				p.MarketCap = amount(v.value)
			}
			if v, ok := vols[date]; ok {
				p.Volume = amount(v.value)
			}

			key := dateKey{symbol: symbol, date: date}
			if prev, ok := accepted[key]; ok {
				// latest observation wins; a tie goes to the one seen last
				if p.ObservedAt.Before(prev.ObservedAt) {
					p = prev
				}
				t.reject(res, ValidationError{
					Symbol: symbol, Index: i, Reason: ReasonDuplicate,
					Detail: models.FormatDate(date),
				})
			}
			accepted[key] = p
		}
	}

	if seenRecords == 0 {
		return res, &DataQualityError{Check: "non_empty_input", Detail: "extraction produced no asset records"}
	}

	perAsset := make(map[string]int)
	res.Prices = make([]models.PricePoint, 0, len(accepted))
	for _, p := range accepted {
		res.Prices = append(res.Prices, p)
		perAsset[p.Symbol]++
	}
	sort.Slice(res.Prices, func(i, j int) bool {
		if res.Prices[i].Symbol != res.Prices[j].Symbol {
			return res.Prices[i].Symbol < res.Prices[j].Symbol
		}
		return res.Prices[i].Date.Before(res.Prices[j].Date)
	})

	for _, symbol := range order {
		if perAsset[symbol] == 0 {
			res.Dropped = append(res.Dropped, SkippedAsset{Symbol: symbol, Reason: "no valid prices"})
			continue
		}
		res.Assets = append(res.Assets, assets[symbol])
	}

	t.logger.Info("transform complete",
		"records", seenRecords,
		"input", res.Input,
		"valid", len(res.Prices),
		"rejected", res.Rejected,
		"dropped_assets", len(res.Dropped),
	)
	return res, nil
}

func (t *Transformer) reject(res *TransformResult, v ValidationError) {
	res.Rejected++
	res.Reasons[v.Reason]++
	if len(res.Samples) < maxRejectionSamples {
		res.Samples = append(res.Samples, v)
	}
	t.logger.Debug("record rejected", "symbol", v.Symbol, "index", v.Index, "reason", v.Reason, "detail", v.Detail)
}

// sideSeries indexes a market-cap or volume series by canonical date.
// Unusable values are skipped; the price row then stores NULL.
func (t *Transformer) sideSeries(points []external.Point) map[time.Time]observed {
	out := make(map[time.Time]observed, len(points))
	for _, pt := range points {
		ts, err := t.timestamp(pt[0])
		if err != nil {
			continue
		}
		v, err := parseNumber(pt[1])
		if err != nil || v.IsNegative() {
			continue
		}
		date := models.CalendarDate(ts, t.loc)
		if prev, ok := out[date]; ok && ts.Before(prev.at) {
			continue
		}
		out[date] = observed{value: v, at: ts}
	}
	return out
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, Reason, string) {
	v, err := parseNumber(raw)
	if errors.Is(err, errMissing) {
		return decimal.Zero, ReasonMissingPrice, ""
	}
	if err != nil {
		return decimal.Zero, ReasonNonNumericPrice, err.Error()
	}
	v = v.Round(PriceScale)
	if v.Sign() <= 0 {
		return decimal.Zero, ReasonNonPositivePrice, v.String()
	}
	return v, "", ""
}

func amount(v decimal.Decimal) *float64 {
	f := v.Round(AmountScale).InexactFloat64()
	return &f
}

// parseNumber accepts a JSON number or a quoted numeric string.
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, errMissing
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero, fmt.Errorf("bad string literal %s", s)
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return decimal.Zero, errMissing
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", s)
	}
	return d, nil
}

// timestamp parses raw and rejects observations dated after the run clock.
func (t *Transformer) timestamp(raw json.RawMessage) (time.Time, error) {
	ts, err := parseTimestamp(raw, t.loc)
	if err != nil {
		return ts, err
	}
	if limit := t.now().Add(maxClockSkew); ts.After(limit) {
		return time.Time{}, fmt.Errorf("timestamp %s is in the future", ts.Format(time.RFC3339))
	}
	return ts, nil
}

// parseTimestamp accepts epoch milliseconds (number or numeric string),
// RFC 3339 or a bare YYYY-MM-DD date, which is read in loc.
func parseTimestamp(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp literal %s", s)
		}
		s = strings.TrimSpace(str)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return inRange(ts, s)
		}
		if ts, err := time.ParseInLocation(models.DateLayout, s, loc); err == nil {
			return inRange(ts, s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	ms := d.IntPart()
	if ms <= 0 {
		return time.Time{}, fmt.Errorf("timestamp out of range: %s", s)
	}
	return inRange(time.UnixMilli(ms).UTC(), s)
}

// inRange keeps dates to four-digit years so they survive the YYYY-MM-DD
// storage format.
func inRange(ts time.Time, raw string) (time.Time, error) {
	if y := ts.UTC().Year(); y < 1 || y > 9999 {
		return time.Time{}, fmt.Errorf("timestamp out of range: %s", raw)
	}
	return ts, nil
}
