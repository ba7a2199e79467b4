package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrorKind is the machine-readable class of a query failure.
type ErrorKind string

const (
	KindNoNearbyLocation  ErrorKind = "no_nearby_location"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindNoValidData       ErrorKind = "no_valid_data"
	KindNotFound          ErrorKind = "not_found"
	KindTimeout           ErrorKind = "timeout"
	KindInvalidQuery      ErrorKind = "invalid_query"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrNoNearbyLocation means no reference location lies within the search radius.
	ErrNoNearbyLocation = eris.New("no reference location within search radius; expand the search radius")
	// ErrSourceUnavailable means the remote price source is unreachable or
	// misconfigured for the whole query.
	ErrSourceUnavailable = eris.New("price source unavailable")
	// ErrNoValidData means a candidate's records were all dropped during cleaning.
	// The orchestrator recovers from it by trying the next candidate.
	ErrNoValidData = eris.New("no valid price data")
	// ErrNotFound means every candidate was tried without a usable summary.
	ErrNotFound = eris.New("no price data found in nearby regions")
	// ErrTimeout means the query deadline passed before a result was found.
	ErrTimeout = eris.New("price query timed out")
	// ErrInvalidQuery means the query input was malformed.
	ErrInvalidQuery = eris.New("invalid query")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidQuery, KindInvalidQuery},
	{ErrTimeout, KindTimeout},
	{ErrSourceUnavailable, KindSourceUnavailable},
	{ErrNoNearbyLocation, KindNoNearbyLocation},
	{ErrNotFound, KindNotFound},
	{ErrNoValidData, KindNoValidData},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Reason returns the human-readable message for a failure.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
