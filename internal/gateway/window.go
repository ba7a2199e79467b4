package gateway

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// WindowKind selects how the gateway walks the remote source.
type WindowKind int

const (
	// KindFixedDays queries each of the last n days and unions the results.
	KindFixedDays WindowKind = iota
	// KindLatestAvailable scans back from today and stops at the first day
	// with data.
	KindLatestAvailable
	// KindFullHistory pages through every record with an offset cursor.
	KindFullHistory
)

// Window is a query window over the remote source.
type Window struct {
	Kind WindowKind
	Days int
}

// FixedDays covers the n days before today. Today is excluded because the
// feed publishes a day's arrivals after the markets close.
func FixedDays(n int) Window { return Window{Kind: KindFixedDays, Days: n} }

// LatestAvailable scans today and up to n-1 earlier days.
func LatestAvailable(n int) Window { return Window{Kind: KindLatestAvailable, Days: n} }

// FullHistory pages through every record for the region and crop.
func FullHistory() Window { return Window{Kind: KindFullHistory} }

func (w Window) String() string {
	switch w.Kind {
	case KindFixedDays:
		return fmt.Sprintf("fixed_days(%d)", w.Days)
	case KindLatestAvailable:
		return fmt.Sprintf("latest_available(%d)", w.Days)
	case KindFullHistory:
		return "full_history"
	default:
		return "unknown"
	}
}

// ParseWindow builds a Window from config values.
func ParseWindow(kind string, days, lookback int) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fixed_days", "fixed":
		if days < 1 {
			return Window{}, eris.Errorf("gateway: fixed_days window needs days >= 1, got %d", days)
		}
		return FixedDays(days), nil
	case "latest_available", "latest":
		if lookback < 1 {
			return Window{}, eris.Errorf("gateway: latest_available window needs lookback >= 1, got %d", lookback)
		}
		return LatestAvailable(lookback), nil
	case "full_history", "full":
		return FullHistory(), nil
	default:
		return Window{}, eris.Errorf("gateway: unknown window %q", kind)
	}
}
