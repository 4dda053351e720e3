package external

import (
	"encoding/json"
	"fmt"
)

// Point is one [timestamp, value] pair of a market_chart series. Both halves
// are kept raw: the upstream occasionally sends nulls or quoted numbers, and
// deciding what is acceptable belongs to the transformer.
type Point [2]json.RawMessage

type MarketChart struct {
	Prices       []Point `json:"prices"`
	MarketCaps   []Point `json:"market_caps"`
	TotalVolumes []Point `json:"total_volumes"`
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("chart point: %w", err)
	}
	*p = Point{}
	for i := 0; i < len(parts) && i < 2; i++ {
		p[i] = parts[i]
	}
	return nil
}

func DecodeMarketChart(raw json.RawMessage) (MarketChart, error) {
	var chart MarketChart
	if err := json.Unmarshal(raw, &chart); err != nil {
		return MarketChart{}, fmt.Errorf("decode market chart: %w", err)
	}
	return chart, nil
}
