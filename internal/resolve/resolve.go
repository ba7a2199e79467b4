// Package resolve answers a price query: it ranks nearby districts, fetches
// prices for each candidate in order and returns the first candidate whose
// records summarize successfully.
package resolve

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/aggregate"
	"github.com/sells-group/cropprice/internal/gateway"
	"github.com/sells-group/cropprice/internal/geo"
	"github.com/sells-group/cropprice/internal/model"
)

// Strategy decides how nearby districts become fetch candidates.
type Strategy string

const (
	// StrategyDistrict fetches each nearby district separately, nearest first.
	StrategyDistrict Strategy = "district"
	// StrategyState fetches whole states, ordered by their nearest district,
	// and keeps only records from nearby districts of that state.
	StrategyState Strategy = "state"
)

// ParseStrategy parses a strategy name. Empty means StrategyDistrict.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyDistrict:
		return StrategyDistrict, nil
	case StrategyState:
		return StrategyState, nil
	default:
		return "", eris.Errorf("resolve: unknown strategy %q", s)
	}
}

// DefaultRadiusKM is used when neither the query nor Options set a radius.
const DefaultRadiusKM = 250.0

// Options tunes a Resolver.
type Options struct {
	RadiusKM      float64
	Strategy      Strategy
	Window        gateway.Window
	Timeout       time.Duration // whole query; 0 means no deadline
	MaxCandidates int           // 0 means every candidate in range
}

// Resolver answers price queries against a reference table and a price
// source. It holds no per-query state and is safe for concurrent use.
type Resolver struct {
	table  *geo.Table
	source gateway.Source
	opts   Options
	newID  func() string
}

// New creates a Resolver.
func New(table *geo.Table, source gateway.Source, opts Options) *Resolver {
	if opts.RadiusKM <= 0 {
		opts.RadiusKM = DefaultRadiusKM
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyDistrict
	}
	if opts.Window == (gateway.Window{}) {
		opts.Window = gateway.FixedDays(7)
	}
	return &Resolver{table: table, source: source, opts: opts, newID: uuid.NewString}
}

// Table returns the reference table.
func (r *Resolver) Table() *geo.Table { return r.table }

// Nearby ranks reference locations within radiusKM of p. A radiusKM of 0
// uses the configured radius; limit 0 returns every match.
func (r *Resolver) Nearby(p model.Point, radiusKM float64, limit int) ([]model.ProximityMatch, error) {
	radius, err := r.radius(radiusKM)
	if err != nil {
		return nil, err
	}
	if !p.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidQuery, "coordinates out of range (%g, %g)", p.Lat, p.Lon)
	}
	matches := geo.FindNearby(p, radius, r.table)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	for i := range matches {
		matches[i].DistanceKM = round2(matches[i].DistanceKM)
	}
	return matches, nil
}

// candidate is one fetch unit of the search.
type candidate struct {
	req       gateway.Request
	match     model.ProximityMatch
	districts map[string]bool // StrategyState: nearby districts to keep
}

// Resolve runs the search for q. A radiusKM of 0 uses the configured radius.
//
// Candidates are tried in order and the first one whose records summarize
// wins. Failures: model.ErrInvalidQuery, model.ErrNoNearbyLocation,
// model.ErrSourceUnavailable, model.ErrTimeout, model.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, q model.PriceQuery, radiusKM float64) (*model.PriceQueryResult, error) {
	radius, err := r.radius(radiusKM)
	if err != nil {
		return nil, err
	}
	if err := validate(q); err != nil {
		return nil, err
	}

	queryID := r.newID()
	log := zap.L().With(
		zap.String("component", "resolve"),
		zap.String("query_id", queryID),
		zap.Float64("lat", q.Lat),
		zap.Float64("lon", q.Lon),
		zap.String("crop", q.Crop),
	)

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	matches := geo.FindNearby(model.Point{Lat: q.Lat, Lon: q.Lon}, radius, r.table)
	if len(matches) == 0 {
		return nil, eris.Wrapf(model.ErrNoNearbyLocation, "nothing within %g km", radius)
	}

	candidates := r.candidates(matches, q.Crop)
	log.Debug("searching candidates",
		zap.Int("matches", len(matches)),
		zap.Int("candidates", len(candidates)),
		zap.String("strategy", string(r.opts.Strategy)),
	)

	var unitsFailed int
	for i, c := range candidates {
		if err := r.checkDeadline(ctx); err != nil {
			return nil, err
		}

		records, err := r.source.Fetch(ctx, c.req, r.opts.Window)
		if err != nil {
			if deadline := r.checkDeadline(ctx); deadline != nil {
				return nil, deadline
			}
			switch {
			case errors.Is(err, model.ErrSourceUnavailable):
				return nil, err
			case errors.Is(err, gateway.ErrAllUnitsFailed):
				unitsFailed++
				log.Warn("candidate fetch failed", zap.String("district", c.match.District), zap.Error(err))
				continue
			default:
				return nil, eris.Wrapf(err, "resolve: fetch %s/%s", c.req.State, c.req.District)
			}
		}

		if c.districts != nil {
			records = keepDistricts(records, c.districts)
		}

		summary, err := aggregate.Summarize(records)
		if err != nil {
			if errors.Is(err, model.ErrNoValidData) {
				log.Debug("no valid data for candidate",
					zap.String("state", c.match.State),
					zap.String("district", c.match.District),
					zap.Int("records", len(records)),
				)
				continue
			}
			return nil, err
		}

		match := c.match
		match.DistanceKM = round2(match.DistanceKM)
		res := &model.PriceQueryResult{
			QueryID:      queryID,
			Input:        q,
			ClosestMatch: match,
			PriceSummary: *summary,
			Synthetic:    synthetic(summary),
		}
		log.Info("price query resolved",
			zap.String("state", match.State),
			zap.String("district", match.District),
			zap.Float64("distance_km", match.DistanceKM),
			zap.Int("candidates_tried", i+1),
			zap.Int("markets", len(summary.TopN)),
			zap.Bool("synthetic", res.Synthetic),
		)
		return res, nil
	}

	if err := r.checkDeadline(ctx); err != nil {
		return nil, err
	}
	if unitsFailed == len(candidates) {
		return nil, eris.Wrapf(model.ErrSourceUnavailable, "every request failed for %d candidates", unitsFailed)
	}
	return nil, eris.Wrapf(model.ErrNotFound, "no price data for %s near (%g, %g)", q.Crop, q.Lat, q.Lon)
}

func (r *Resolver) radius(radiusKM float64) (float64, error) {
	if radiusKM == 0 {
		return r.opts.RadiusKM, nil
	}
	if radiusKM < 0 || math.IsNaN(radiusKM) || math.IsInf(radiusKM, 0) {
		return 0, eris.Wrapf(model.ErrInvalidQuery, "radius must be positive, got %g", radiusKM)
	}
	return radiusKM, nil
}

func validate(q model.PriceQuery) error {
	if !model.ValidCoordinates(q.Lat, q.Lon) {
		return eris.Wrapf(model.ErrInvalidQuery, "coordinates out of range (%g, %g)", q.Lat, q.Lon)
	}
	if strings.TrimSpace(q.Crop) == "" {
		return eris.Wrap(model.ErrInvalidQuery, "crop is required")
	}
	return nil
}

// checkDeadline maps an ended context to model.ErrTimeout, or to the
// caller's cancellation.
func (r *Resolver) checkDeadline(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return eris.Wrapf(model.ErrTimeout, "query exceeded %s", r.opts.Timeout)
	default:
		return eris.Wrap(err, "resolve: query cancelled")
	}
}

func (r *Resolver) candidates(matches []model.ProximityMatch, crop string) []candidate {
	var out []candidate
	switch r.opts.Strategy {
	case StrategyState:
		index := make(map[string]int)
		for _, m := range matches {
			key := gateway.RegionKey(m.State)
			i, ok := index[key]
			if !ok {
				i = len(out)
				index[key] = i
				out = append(out, candidate{
					req:       gateway.Request{State: m.State, Crop: crop},
					match:     m,
					districts: make(map[string]bool),
				})
			}
			out[i].districts[gateway.RegionKey(m.District)] = true
		}
	default:
		out = make([]candidate, 0, len(matches))
		for _, m := range matches {
			out = append(out, candidate{
				req:   gateway.Request{State: m.State, District: m.District, Crop: crop},
				match: m,
			})
		}
	}
	if r.opts.MaxCandidates > 0 && len(out) > r.opts.MaxCandidates {
		out = out[:r.opts.MaxCandidates]
	}
	return out
}

func keepDistricts(records []model.PriceRecord, districts map[string]bool) []model.PriceRecord {
	out := records[:0:0]
	for _, rec := range records {
		if districts[gateway.RegionKey(rec.District)] {
			out = append(out, rec)
		}
	}
	return out
}

func synthetic(s *model.PriceSummary) bool {
	for _, m := range s.TopN {
		if m.Source == model.SourceSynthetic {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
