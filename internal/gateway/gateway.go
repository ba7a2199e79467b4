// Package gateway fetches raw price records for a region and crop from the
// remote price source over a query window. Individual day or page calls may
// fail; failures are skipped and counted, and only a source that is
// unusable for the whole query is reported as an error.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cropprice/internal/model"
	"github.com/sells-group/cropprice/internal/resilience"
	"github.com/sells-group/cropprice/pkg/agmarknet"
)

// ErrAllUnitsFailed is returned when every day or page call of a fetch
// failed. It applies to one region only; the next region may still work.
var ErrAllUnitsFailed = eris.New("gateway: every remote call failed")

// Source yields raw price records for a region and crop.
type Source interface {
	Fetch(ctx context.Context, req Request, w Window) ([]model.PriceRecord, error)
}

// Options tunes the gateway.
type Options struct {
	// PageLimit is the page size sent as the limit parameter. Default: 5000.
	PageLimit int
	// MaxPages caps FullHistory pagination. Default: 50.
	MaxPages int
	// UnitTimeout bounds each remote call. Default: 10s.
	UnitTimeout time.Duration
	// Concurrency bounds parallel FixedDays calls. Default: 1.
	Concurrency int
	// FilterDateLayout formats the Arrival_Date filter.
	FilterDateLayout string
	// Retry is applied in place to each call. The zero value never retries.
	Retry resilience.RetryPolicy
	// Breaker guards the remote source across queries. Nil disables it.
	Breaker *resilience.Breaker
	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// FetchStats describes one Fetch.
type FetchStats struct {
	Units   int
	Failed  int
	Pages   int
	Records int
	CapHit  bool
}

// Gateway is the Source backed by the remote price resource.
type Gateway struct {
	client agmarknet.Client
	opts   Options
}

var _ Source = (*Gateway)(nil)

// indiaTime is the feed's calendar.
var indiaTime = time.FixedZone("IST", 5*60*60+30*60)

// New creates a Gateway. A nil client makes every Fetch fail with
// model.ErrSourceUnavailable.
func New(client agmarknet.Client, opts Options) *Gateway {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 5000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FilterDateLayout == "" {
		opts.FilterDateLayout = agmarknet.FilterDateLayout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{client: client, opts: opts}
}

// Fetch returns the records for req over w. An empty result is not an error.
func (g *Gateway) Fetch(ctx context.Context, req Request, w Window) ([]model.PriceRecord, error) {
	if g.client == nil {
		return nil, eris.Wrap(model.ErrSourceUnavailable, "price source client not configured")
	}
	req = req.Normalized()

	log := zap.L().With(
		zap.String("component", "gateway"),
		zap.String("state", req.State),
		zap.String("district", req.District),
		zap.String("crop", req.Crop),
		zap.Stringer("window", w),
	)

	var (
		records []model.PriceRecord
		stats   FetchStats
		err     error
	)
	switch w.Kind {
	case KindFixedDays:
		records, stats, err = g.fetchFixedDays(ctx, log, req, w.Days)
	case KindLatestAvailable:
		records, stats, err = g.fetchLatest(ctx, log, req, w.Days)
	case KindFullHistory:
		records, stats, err = g.fetchFullHistory(ctx, log, req)
	default:
		return nil, eris.Errorf("gateway: unknown window kind %d", w.Kind)
	}
	if err != nil {
		return nil, err
	}

	stats.Records = len(records)
	log.Debug("fetch complete",
		zap.Int("units", stats.Units),
		zap.Int("failed", stats.Failed),
		zap.Int("pages", stats.Pages),
		zap.Int("records", stats.Records),
		zap.Bool("cap_hit", stats.CapHit),
	)

	if stats.Units > 0 && stats.Failed == stats.Units {
		return nil, eris.Wrapf(ErrAllUnitsFailed, "%d of %d calls", stats.Failed, stats.Units)
	}
	return records, nil
}

// unitResult is the outcome of one remote call.
type unitResult struct {
	records []model.PriceRecord
	err     error
}

func (g *Gateway) fetchFixedDays(ctx context.Context, log *zap.Logger, req Request, days int) ([]model.PriceRecord, FetchStats, error) {
	today := g.today()
	results := make([]unitResult, days)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Concurrency)
	for i := range days {
		day := today.AddDate(0, 0, -(i + 1))
		eg.Go(func() error {
			page, err := g.page(egCtx, g.query(req, day, 0))
			if err != nil {
				if terminal := g.terminal(ctx, err); terminal != nil {
					return terminal
				}
				log.Warn("skipping failed day", zap.Time("day", day), zap.Error(err))
				results[i] = unitResult{err: err}
				return nil
			}
			results[i] = unitResult{records: toRecords(page.Records)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, FetchStats{}, err
	}

	stats := FetchStats{Units: days}
	var out []model.PriceRecord
	// Oldest day first, independent of completion order.
	for i := days - 1; i >= 0; i-- {
		if results[i].err != nil {
			stats.Failed++
			continue
		}
		stats.Pages++
		out = append(out, results[i].records...)
	}
	return out, stats, nil
}

func (g *Gateway) fetchLatest(ctx context.Context, log *zap.Logger, req Request, lookback int) ([]model.PriceRecord, FetchStats, error) {
	today := g.today()
	var stats FetchStats
	for i := range lookback {
		day := today.AddDate(0, 0, -i)
		stats.Units++
		page, err := g.page(ctx, g.query(req, day, 0))
		if err != nil {
			if terminal := g.terminal(ctx, err); terminal != nil {
				return nil, stats, terminal
			}
			stats.Failed++
			log.Warn("skipping failed day", zap.Time("day", day), zap.Error(err))
			continue
		}
		stats.Pages++
		if len(page.Records) > 0 {
			log.Debug("using latest available day", zap.Time("day", day))
			return toRecords(page.Records), stats, nil
		}
	}
	return nil, stats, nil
}

func (g *Gateway) fetchFullHistory(ctx context.Context, log *zap.Logger, req Request) ([]model.PriceRecord, FetchStats, error) {
	var (
		stats FetchStats
		out   []model.PriceRecord
	)
	offset := 0
	for {
		if stats.Units >= g.opts.MaxPages {
			stats.CapHit = true
			log.Warn("page cap reached, stopping pagination",
				zap.Int("max_pages", g.opts.MaxPages),
				zap.Int("records", len(out)),
			)
			break
		}
		stats.Units++
		page, err := g.page(ctx, g.query(req, time.Time{}, offset))
		if err != nil {
			if terminal := g.terminal(ctx, err); terminal != nil {
				return nil, stats, terminal
			}
			stats.Failed++
			log.Warn("skipping failed page", zap.Int("offset", offset), zap.Error(err))
			offset += g.opts.PageLimit
			continue
		}
		if len(page.Records) == 0 {
			break
		}
		stats.Pages++
		out = append(out, toRecords(page.Records)...)
		offset += g.opts.PageLimit
	}
	return out, stats, nil
}

// page performs one remote call under the unit timeout, breaker and retry
// policy.
func (g *Gateway) page(ctx context.Context, q agmarknet.Query) (*agmarknet.Page, error) {
	return resilience.Retry(ctx, g.opts.Retry, func(ctx context.Context) (*agmarknet.Page, error) {
		unitCtx, cancel := context.WithTimeout(ctx, g.opts.UnitTimeout)
		defer cancel()
		return resilience.Call(unitCtx, g.opts.Breaker, func(ctx context.Context) (*agmarknet.Page, error) {
			page, err := g.client.Records(ctx, q)
			if err == nil && page == nil {
				page = &agmarknet.Page{}
			}
			return page, err
		})
	})
}

// terminal converts errors that end the whole fetch: the caller's context
// ending or an unconfigured client. A call rejected by an open circuit is an
// ordinary failed unit; records from other units are kept and the
// all-units-failed check decides whether the fetch escalates.
func (g *Gateway) terminal(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrap(ctxErr, "gateway: fetch cancelled")
	}
	if errors.Is(err, agmarknet.ErrNotConfigured) {
		return eris.Wrap(model.ErrSourceUnavailable, err.Error())
	}
	return nil
}

func (g *Gateway) query(req Request, day time.Time, offset int) agmarknet.Query {
	q := agmarknet.Query{
		State:     req.State,
		District:  req.District,
		Commodity: req.Crop,
		Offset:    offset,
		Limit:     g.opts.PageLimit,
	}
	if !day.IsZero() {
		q.ArrivalDate = day.Format(g.opts.FilterDateLayout)
	}
	return q
}

func (g *Gateway) today() time.Time {
	now := g.opts.Now().In(indiaTime)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, indiaTime)
}

func toRecords(rows []agmarknet.Row) []model.PriceRecord {
	out := make([]model.PriceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PriceRecord{
			State:       r.Get("State"),
			District:    r.Get("District"),
			Market:      r.Get("Market"),
			Commodity:   r.Get("Commodity"),
			ArrivalDate: r.Get("Arrival_Date"),
			ModalPrice:  r.Get("Modal_Price"),
			Source:      model.SourceAgmarknet,
		})
	}
	return out
}
