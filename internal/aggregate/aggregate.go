// Package aggregate reduces raw price records to a ranked top-N summary
// with per-kg statistics.
package aggregate

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/model"
)

// TopN is the number of markets reported.
const TopN = 5

// lotSize converts a per-quintal modal price to a per-kg price.
var lotSize = decimal.NewFromInt(100)

// Summarize cleans, deduplicates, converts and ranks records. It fails with
// model.ErrNoValidData when no record survives cleaning.
//
// Rows whose price or date does not parse, or that name no market, are
// dropped. For each market only the latest arrival is kept; on equal dates
// the row appearing last in input wins. Markets are ranked by per-kg price
// descending (ties by market name) and statistics cover the top entries only.
// All reported per-kg figures use banker's rounding to two places.
func Summarize(records []model.PriceRecord) (*model.PriceSummary, error) {
	cleaned, dropped := clean(records)
	if dropped > 0 {
		zap.L().Debug("dropped malformed price rows",
			zap.String("component", "aggregate"),
			zap.Int("dropped", dropped),
			zap.Int("input", len(records)),
		)
	}
	if len(cleaned) == 0 {
		return nil, eris.Wrapf(model.ErrNoValidData, "%d of %d rows malformed", dropped, len(records))
	}

	latest := latestPerMarket(cleaned)

	slices.SortStableFunc(latest, func(a, b model.MarketPrice) int {
		if c := b.PricePerKG.Cmp(a.PricePerKG); c != 0 {
			return c
		}
		return strings.Compare(a.Market, b.Market)
	})

	top := latest[:min(TopN, len(latest))]
	out := make([]model.MarketPrice, len(top))
	for i, m := range top {
		m.PricePerKG = m.PricePerKG.RoundBank(2)
		out[i] = m
	}

	return &model.PriceSummary{
		TopN:  out,
		Stats: stats(top),
		Counts: model.SummaryCounts{
			Input:   len(records),
			Dropped: dropped,
			Markets: len(latest),
		},
	}, nil
}

func clean(records []model.PriceRecord) ([]model.MarketPrice, int) {
	out := make([]model.MarketPrice, 0, len(records))
	for _, r := range records {
		market := strings.TrimSpace(r.Market)
		date, okDate := ParseDate(r.ArrivalDate)
		price, okPrice := ParsePrice(r.ModalPrice)
		if market == "" || !okDate || !okPrice {
			continue
		}
		out = append(out, model.MarketPrice{
			State:       strings.TrimSpace(r.State),
			District:    strings.TrimSpace(r.District),
			Market:      market,
			ArrivalDate: date,
			ModalPrice:  price,
			PricePerKG:  price.Div(lotSize),
			Source:      r.Source,
		})
	}
	return out, len(records) - len(out)
}

// latestPerMarket keeps one row per market, preserving first-seen order.
func latestPerMarket(rows []model.MarketPrice) []model.MarketPrice {
	index := make(map[string]int, len(rows))
	out := make([]model.MarketPrice, 0, len(rows))
	for _, r := range rows {
		i, seen := index[r.Market]
		if !seen {
			index[r.Market] = len(out)
			out = append(out, r)
			continue
		}
		if !r.ArrivalDate.Before(out[i].ArrivalDate) {
			out[i] = r
		}
	}
	return out
}

// stats expects top sorted by price descending and non-empty.
func stats(top []model.MarketPrice) model.PriceStats {
	n := len(top)
	sum := decimal.Zero
	for _, m := range top {
		sum = sum.Add(m.PricePerKG)
	}
	// Upper-middle element of the ascending order.
	median := top[n-1-n/2].PricePerKG

	return model.PriceStats{
		MinPerKG:    top[n-1].PricePerKG.RoundBank(2),
		MedianPerKG: median.RoundBank(2),
		AvgPerKG:    sum.Div(decimal.NewFromInt(int64(n))).RoundBank(2),
		MaxPerKG:    top[0].PricePerKG.RoundBank(2),
	}
}
