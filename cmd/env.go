package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/cropprice/internal/config"
	"github.com/sells-group/cropprice/internal/fetcher"
	"github.com/sells-group/cropprice/internal/gateway"
	"github.com/sells-group/cropprice/internal/geo"
	"github.com/sells-group/cropprice/internal/resilience"
	"github.com/sells-group/cropprice/internal/resolve"
	"github.com/sells-group/cropprice/pkg/agmarknet"
)

// queryEnv holds the reference table and the resolver used by the serve and
// query commands.
type queryEnv struct {
	Table    *geo.Table
	Breaker  *resilience.Breaker
	Resolver *resolve.Resolver
}

// initEnv validates config for mode, loads the reference table and wires the
// price source into a Resolver.
func initEnv(ctx context.Context, mode string) (*queryEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	table, err := loadReference(ctx, cfg.Reference)
	if err != nil {
		return nil, err
	}

	source, breaker := newPriceSource(cfg.Source, cfg.Fallback)

	opts, err := resolverOptions(cfg)
	if err != nil {
		return nil, err
	}

	return &queryEnv{
		Table:    table,
		Breaker:  breaker,
		Resolver: resolve.New(table, source, opts),
	}, nil
}

func loadReference(ctx context.Context, rc config.ReferenceConfig) (*geo.Table, error) {
	table, err := geo.Load(ctx, geo.Source{
		Location: rc.Source,
		Sheet:    rc.Sheet,
		Table:    rc.Table,
		TempDir:  rc.TempDir,
		Fetcher:  fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
	})
	if err != nil {
		return nil, eris.Wrap(err, "load reference table")
	}
	return table, nil
}

// newPriceSource builds the gateway over the remote price resource, guarded
// by a process-wide breaker, and wraps it with the synthetic fallback when
// enabled.
func newPriceSource(sc config.SourceConfig, fc config.FallbackConfig) (gateway.Source, *resilience.Breaker) {
	timeout := time.Duration(sc.TimeoutSecs) * time.Second

	clientOpts := []agmarknet.Option{
		agmarknet.WithBaseURL(sc.BaseURL),
		agmarknet.WithTimeout(timeout),
	}
	if sc.RatePerSec > 0 {
		clientOpts = append(clientOpts, agmarknet.WithRateLimiter(rate.NewLimiter(rate.Limit(sc.RatePerSec), max(sc.Burst, 1))))
	}
	client := agmarknet.NewClient(sc.APIKey, clientOpts...)
	if sc.APIKey == "" {
		zap.L().Warn("CROPPRICE_SOURCE_API_KEY not set, live price lookups will fail")
	}

	breaker := resilience.NewBreaker("agmarknet", resilience.BreakerFromSettings(
		sc.Circuit.FailureThreshold, sc.Circuit.ResetTimeoutSecs))

	retry := resilience.PolicyFromSettings(sc.Retry.MaxAttempts, sc.Retry.InitialBackoffMs, sc.Retry.MaxBackoffMs)
	retry.OnRetry = resilience.LogRetries("agmarknet", "records")

	var source gateway.Source = gateway.New(client, gateway.Options{
		PageLimit:        sc.PageLimit,
		MaxPages:         sc.MaxPages,
		UnitTimeout:      timeout,
		Concurrency:      sc.Concurrency,
		FilterDateLayout: sc.DateFilterLayout,
		Retry:            retry,
		Breaker:          breaker,
	})

	if fc.Synthetic {
		zap.L().Warn("synthetic price fallback enabled, results may be fabricated")
		source = &gateway.FallbackSource{
			Primary:  source,
			Fallback: gateway.NewSyntheticSource(nil, nil),
		}
	}
	return source, breaker
}

func resolverOptions(c *config.Config) (resolve.Options, error) {
	strategy, err := resolve.ParseStrategy(c.Search.Strategy)
	if err != nil {
		return resolve.Options{}, err
	}
	window, err := gateway.ParseWindow(c.Source.Window, c.Source.Days, c.Source.LookbackDays)
	if err != nil {
		return resolve.Options{}, err
	}
	return resolve.Options{
		RadiusKM:      c.Search.RadiusKM,
		Strategy:      strategy,
		Window:        window,
		Timeout:       time.Duration(c.Search.QueryTimeoutSecs) * time.Second,
		MaxCandidates: c.Search.MaxCandidates,
	}, nil
}
