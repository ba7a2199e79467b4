package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Record sources.
const (
	SourceAgmarknet = "agmarknet"
	SourceSynthetic = "synthetic"
)

// PriceRecord is a raw price row as reported by the remote source. ArrivalDate
// and ModalPrice hold the feed's text verbatim; either may be empty or
// malformed.
type PriceRecord struct {
	State       string `json:"state" yaml:"state"`
	District    string `json:"district" yaml:"district"`
	Market      string `json:"market" yaml:"market"`
	Commodity   string `json:"commodity,omitempty" yaml:"commodity"`
	ArrivalDate string `json:"arrival_date" yaml:"arrival_date"`
	ModalPrice  string `json:"modal_price" yaml:"modal_price"`
	Source      string `json:"source,omitempty" yaml:"source"`
}

// MarketPrice is a cleaned PriceRecord with its parsed date and price.
type MarketPrice struct {
	State       string          `json:"state" yaml:"state"`
	District    string          `json:"district" yaml:"district"`
	Market      string          `json:"market" yaml:"market"`
	ArrivalDate time.Time       `json:"arrival_date" yaml:"arrival_date"`
	ModalPrice  decimal.Decimal `json:"modal_price" yaml:"modal_price"`
	PricePerKG  decimal.Decimal `json:"price_per_kg" yaml:"price_per_kg"`
	Source      string          `json:"-" yaml:"-"`
}

// DateLayout is the layout of dates in query results.
const DateLayout = "2006-01-02"

// MarshalJSON renders ArrivalDate as a calendar date.
func (m MarketPrice) MarshalJSON() ([]byte, error) {
	type alias MarketPrice
	return json.Marshal(struct {
		alias
		ArrivalDate string `json:"arrival_date"`
	}{alias(m), m.ArrivalDate.Format(DateLayout)})
}

// MarshalYAML renders ArrivalDate as a calendar date.
func (m MarketPrice) MarshalYAML() (any, error) {
	return struct {
		State       string `yaml:"state"`
		District    string `yaml:"district"`
		Market      string `yaml:"market"`
		ArrivalDate string `yaml:"arrival_date"`
		ModalPrice  string `yaml:"modal_price"`
		PricePerKG  string `yaml:"price_per_kg"`
	}{
		State:       m.State,
		District:    m.District,
		Market:      m.Market,
		ArrivalDate: m.ArrivalDate.Format(DateLayout),
		ModalPrice:  m.ModalPrice.String(),
		PricePerKG:  m.PricePerKG.String(),
	}, nil
}

// PriceSummary is the top-N market list with statistics over that list.
type PriceSummary struct {
	TopN   []MarketPrice `json:"top5" yaml:"top5"`
	Stats  PriceStats    `json:"analysis" yaml:"analysis"`
	Counts SummaryCounts `json:"-" yaml:"-"`
}

// PriceStats holds per-kg statistics rounded to two decimal places.
type PriceStats struct {
	MinPerKG    decimal.Decimal `json:"min_price_per_kg" yaml:"min_price_per_kg"`
	MedianPerKG decimal.Decimal `json:"median_price_per_kg" yaml:"median_price_per_kg"`
	AvgPerKG    decimal.Decimal `json:"avg_price_per_kg" yaml:"avg_price_per_kg"`
	MaxPerKG    decimal.Decimal `json:"max_price_per_kg" yaml:"max_price_per_kg"`
}

// SummaryCounts records how many rows survived each reduction step.
type SummaryCounts struct {
	Input   int
	Dropped int
	Markets int
}

// PriceQuery is the external request: a point and a crop name.
type PriceQuery struct {
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
	Crop string  `json:"crop" yaml:"crop"`
}

// PriceQueryResult is the final answer for a PriceQuery.
type PriceQueryResult struct {
	QueryID      string         `json:"query_id" yaml:"query_id"`
	Input        PriceQuery     `json:"input" yaml:"input"`
	ClosestMatch ProximityMatch `json:"closest_district" yaml:"closest_district"`

	PriceSummary `yaml:",inline"`

	Synthetic bool `json:"synthetic" yaml:"synthetic"`
}
