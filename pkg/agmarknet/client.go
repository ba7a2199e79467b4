// Package agmarknet provides a client for the data.gov.in daily mandi price
// resource (Agmarknet "current daily price of various commodities").
package agmarknet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/cropprice/internal/resilience"
)

// DefaultBaseURL is the daily commodity price resource.
const DefaultBaseURL = "https://api.data.gov.in/resource/35985678-0d79-46b4-9ed6-6f13308a1d24"

const (
	// FilterDateLayout is the layout accepted by the Arrival_Date filter.
	FilterDateLayout = "02-01-2006"
	// RecordDateLayout is the layout of Arrival_Date in returned records.
	RecordDateLayout = "02/01/2006"
)

// ErrNotConfigured is returned when the client has no API key or base URL.
var ErrNotConfigured = eris.New("agmarknet: client not configured")

// Client defines the price resource operations.
type Client interface {
	// Records fetches one page of price records matching q.
	Records(ctx context.Context, q Query) (*Page, error)
}

// Query selects records. Empty filters are omitted.
type Query struct {
	State       string
	District    string
	Commodity   string
	ArrivalDate string // FilterDateLayout; empty means any date
	Offset      int
	Limit       int
}

// Page is one page of the resource.
type Page struct {
	Total   int   `json:"total"`
	Count   int   `json:"count"`
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
	Records []Row `json:"records"`
}

// Row is one raw record. Keys and value types vary between portal revisions.
type Row map[string]any

// Get returns the value for key, matched case-insensitively, rendered as a
// string. Missing keys yield "".
func (r Row) Get(key string) string {
	v, ok := r[key]
	if !ok {
		for k, val := range r {
			if strings.EqualFold(k, key) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agmarknet: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimiter paces outgoing requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new price resource client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Records(ctx context.Context, q Query) (*Page, error) {
	if c.apiKey == "" || c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "agmarknet: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+c.params(q).Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "agmarknet: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "agmarknet: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "agmarknet: read response body"), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var raw rawPage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "agmarknet: unmarshal response")
	}
	if strings.EqualFold(raw.Status, "error") {
		return nil, eris.Errorf("agmarknet: api error: %s", raw.Message)
	}

	return &Page{
		Total:   int(raw.Total),
		Count:   int(raw.Count),
		Offset:  int(raw.Offset),
		Limit:   int(raw.Limit),
		Records: raw.Records,
	}, nil
}

func (c *httpClient) params(q Query) url.Values {
	v := url.Values{}
	v.Set("api-key", c.apiKey)
	v.Set("format", "json")
	v.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	setFilter(v, "State", q.State)
	setFilter(v, "District", q.District)
	setFilter(v, "Commodity", q.Commodity)
	setFilter(v, "Arrival_Date", q.ArrivalDate)
	return v
}

func setFilter(v url.Values, field, value string) {
	if value = strings.TrimSpace(value); value != "" {
		v.Set("filters["+field+"]", value)
	}
}

// rawPage tolerates the portal serving counters as either numbers or strings.
type rawPage struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Total   flexInt `json:"total"`
	Count   flexInt `json:"count"`
	Offset  flexInt `json:"offset"`
	Limit   flexInt `json:"limit"`
	Records []Row   `json:"records"`
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "agmarknet: parse count %q", s)
	}
	*f = flexInt(n)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
