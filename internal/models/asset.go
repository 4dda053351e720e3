package models

import "time"

type Asset struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	SourceID  string    `json:"sourceId"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// PricePoint is one daily close for an asset. Date is always midnight UTC of
// the canonical calendar date.
type PricePoint struct {
	AssetID   int64     `json:"assetId,omitempty"`
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
	MarketCap *float64  `json:"marketCap"`
	Volume    *float64  `json:"volume"`

	// ObservedAt is the source timestamp the close was taken from. It only
	// matters while deduplicating a batch and is not persisted.
	ObservedAt time.Time `json:"-"`
}

// MetricPoint holds the derived statistics of an asset on a date. A nil
// field means the window had insufficient history on that date.
type MetricPoint struct {
	AssetID          int64     `json:"assetId,omitempty"`
	Symbol           string    `json:"symbol"`
	Date             time.Time `json:"date"`
	Window           int       `json:"window"`
	DailyReturn      *float64  `json:"dailyReturn"`
	CumulativeReturn *float64  `json:"cumulativeReturn"`
	Volatility       *float64  `json:"volatility"`
}
