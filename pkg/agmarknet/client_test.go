package agmarknet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/cropprice/internal/resilience"
)

const samplePage = `{
  "status": "ok",
  "total": 2,
  "count": 2,
  "limit": "5000",
  "offset": "0",
  "records": [
    {"State":"Karnataka","District":"Kolar","Market":"Kolar","Commodity":"Tomato","Arrival_Date":"02/01/2024","Modal_Price":"1100"},
    {"state":"Karnataka","district":"Kolar","market":"Bangarpet","commodity":"Tomato","arrival_date":"02/01/2024","modal_price":800}
  ]
}`

func TestRecords_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api-key"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "5000", q.Get("limit"))
		assert.Equal(t, "0", q.Get("offset"))
		assert.Equal(t, "Karnataka", q.Get("filters[State]"))
		assert.Equal(t, "Kolar", q.Get("filters[District]"))
		assert.Equal(t, "Tomato", q.Get("filters[Commodity]"))
		assert.Equal(t, "02-01-2024", q.Get("filters[Arrival_Date]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	page, err := client.Records(context.Background(), Query{
		State:       "Karnataka",
		District:    "Kolar",
		Commodity:   "Tomato",
		ArrivalDate: "02-01-2024",
		Limit:       5000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 5000, page.Limit)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "1100", page.Records[0].Get("Modal_Price"))
	assert.Equal(t, "800", page.Records[1].Get("Modal_Price"))
	assert.Equal(t, "Bangarpet", page.Records[1].Get("Market"))
}

func TestRecords_OmitsEmptyFilters(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.False(t, q.Has("filters[District]"))
		assert.False(t, q.Has("filters[Arrival_Date]"))
		assert.False(t, q.Has("limit"))
		assert.Equal(t, "10000", q.Get("offset"))
		_, _ = w.Write([]byte(`{"total":0,"count":0,"records":[]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	page, err := client.Records(context.Background(), Query{State: "Goa", Commodity: "Onion", Offset: 10000})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestRecords_TransientStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).Records(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "upstream down", se.Body)
}

func TestRecords_PermanentStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := NewClient("bad-key", WithBaseURL(srv.URL)).Records(context.Background(), Query{})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestRecords_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"records": [`))
	}))
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).Records(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestRecords_APIErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid resource"}`))
	}))
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).Records(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid resource")
}

func TestRecords_NotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewClient("").Records(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClient("key", WithBaseURL("")).Records(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRecords_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond)).
		Records(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestRecords_RateLimiterCancelled(t *testing.T) {
	t.Parallel()

	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, lim.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewClient("test-key", WithBaseURL("http://127.0.0.1:1"), WithRateLimiter(lim)).Records(ctx, Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}

func TestRecords_CustomHTTPClient(t *testing.T) {
	t.Parallel()

	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client())).Records(context.Background(), Query{})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRow_Get(t *testing.T) {
	t.Parallel()

	r := Row{"Modal_Price": 1234.5, "market": "Kolar", "Empty": nil, "Flag": true}
	assert.Equal(t, "1234.5", r.Get("modal_price"))
	assert.Equal(t, "Kolar", r.Get("Market"))
	assert.Equal(t, "", r.Get("Empty"))
	assert.Equal(t, "", r.Get("Missing"))
	assert.Equal(t, "true", r.Get("flag"))
}
