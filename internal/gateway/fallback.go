package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/cropprice/internal/model"
)

// FallbackSource consults Fallback only when Primary returns no records or
// the remote source is unavailable. Other Primary errors are returned as is.
type FallbackSource struct {
	Primary  Source
	Fallback Source
}

var _ Source = (*FallbackSource)(nil)

// Fetch implements Source.
func (f *FallbackSource) Fetch(ctx context.Context, req Request, w Window) ([]model.PriceRecord, error) {
	records, err := f.Primary.Fetch(ctx, req, w)
	switch {
	case err == nil && len(records) > 0:
		return records, nil
	case err != nil && !errors.Is(err, model.ErrSourceUnavailable) && !errors.Is(err, ErrAllUnitsFailed):
		return nil, err
	}

	fields := []zap.Field{
		zap.String("component", "gateway.fallback"),
		zap.String("state", req.State),
		zap.String("district", req.District),
		zap.String("crop", req.Crop),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	zap.L().Warn("primary price source returned nothing, using fallback source", fields...)
	return f.Fallback.Fetch(ctx, req, w)
}
