package mexc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg ClientConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1000
		cfg.Burst = 100
	}
	return NewClient(srv.URL, 2*time.Second, cfg)
}

func TestListInstruments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/contract/detail":
			fmt.Fprint(w, `{"success":true,"code":0,"data":[
				{"symbol":"PEPE_USDT","displayNameEn":"PEPE_USDT PERPETUAL","baseCoin":"PEPE","quoteCoin":"USDT","state":0},
				{"symbol":"OLD_USDT","baseCoin":"OLD","quoteCoin":"USDT","state":4},
				{"symbol":"","baseCoin":"X","quoteCoin":"USDT","state":0}
			]}`)
		case "/api/v1/contract/ticker":
			fmt.Fprint(w, `{"success":true,"code":0,"data":[
				{"symbol":"PEPE_USDT","lastPrice":0.0000123,"amount24":"150000.5"}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}, ClientConfig{})

	metas, err := c.ListInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)

	pepe := metas[0]
	assert.Equal(t, models.Instrument("PEPE_USDT"), pepe.Instrument)
	assert.True(t, pepe.Active)
	assert.Equal(t, "USDT", pepe.QuoteCoin)
	assert.InDelta(t, 150000.5, pepe.Volume24h, 1e-9)
	assert.InDelta(t, 0.0000123, pepe.LastPrice, 1e-12)

	old := metas[1]
	assert.False(t, old.Active)
	assert.Zero(t, old.Volume24h)
}

func TestListInstruments_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind ErrorKind
		wantCode int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantKind: KindStatus,
			wantCode: http.StatusBadGateway,
		},
		{
			name: "api failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"success":false,"code":510,"message":"too frequent"}`)
			},
			wantKind: KindMalformed,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>`)
			},
			wantKind: KindMalformed,
		},
		{
			name: "wrong data shape",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"success":true,"data":{"symbol":"PEPE_USDT"}}`)
			},
			wantKind: KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler, ClientConfig{})
			_, err := c.ListInstruments(context.Background())
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe), "want *FetchError, got %T", err)
			assert.Equal(t, tt.wantKind, fe.Kind)
			assert.Equal(t, tt.wantCode, fe.StatusCode)
			assert.Equal(t, opListInstruments, fe.Op)
		})
	}
}

func TestListInstruments_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, ClientConfig{RequestsPerSecond: 100, Burst: 10})
	_, err := c.ListInstruments(context.Background())
	require.Error(t, err)
	assert.True(t, IsFetchError(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNetwork, fe.Kind)
}

func klineHandler(t *testing.T, times []int64, gotQuery *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/contract/kline/") {
			http.NotFound(w, r)
			return
		}
		if gotQuery != nil {
			*gotQuery = r.URL.RawQuery
		}
		n := len(times)
		nums := make([]string, n)
		amounts := make([]string, n)
		for i := range times {
			nums[i] = fmt.Sprintf("%d.5", i+1)
			amounts[i] = fmt.Sprintf(`"%d"`, (i+1)*1000)
		}
		ts := make([]string, n)
		for i, v := range times {
			ts[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, `{"success":true,"code":0,"data":{"time":[%s],"open":[%s],"close":[%s],"high":[%s],"low":[%s],"vol":[%s],"amount":[%s]}}`,
			strings.Join(ts, ","),
			strings.Join(nums, ","), strings.Join(nums, ","), strings.Join(nums, ","), strings.Join(nums, ","),
			strings.Join(nums, ","), strings.Join(amounts, ","))
	}
}

func TestRecentCandles(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 5, 30, 0, time.UTC)
	base := now.Truncate(time.Minute).Unix()

	var query string
	c := newTestClient(t, klineHandler(t, []int64{base - 120, base - 60, base}, &query), ClientConfig{})
	c.now = func() time.Time { return now }

	candles, err := c.RecentCandles(context.Background(), "PEPE_USDT", time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.Unix(base-60, 0).UTC(), candles[0].Start)
	assert.Equal(t, time.Unix(base, 0).UTC(), candles[1].Start)
	assert.True(t, candles[1].Follows(candles[0]))
	assert.InDelta(t, 2000, candles[0].Volume, 1e-9)
	assert.InDelta(t, 3000, candles[1].Volume, 1e-9)
	assert.InDelta(t, 3.5, candles[1].Close, 1e-9)

	assert.Contains(t, query, "interval=Min1")
	assert.Contains(t, query, fmt.Sprintf("start=%d", base-120))
}

func TestRecentCandles_Insufficient(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 5, 30, 0, time.UTC)
	base := now.Truncate(time.Minute).Unix()

	c := newTestClient(t, klineHandler(t, []int64{base}, nil), ClientConfig{})
	c.now = func() time.Time { return now }

	_, err := c.RecentCandles(context.Background(), "NEW_USDT", time.Minute, 2)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindInsufficient, fe.Kind)
}

func TestRecentCandles_Gap(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 5, 30, 0, time.UTC)
	base := now.Truncate(time.Minute).Unix()

	c := newTestClient(t, klineHandler(t, []int64{base - 180, base}, nil), ClientConfig{})
	c.now = func() time.Time { return now }

	_, err := c.RecentCandles(context.Background(), "PEPE_USDT", time.Minute, 2)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindMalformed, fe.Kind)
}

func TestRecentCandles_UnsupportedWindow(t *testing.T) {
	c := newTestClient(t, klineHandler(t, nil, nil), ClientConfig{})
	_, err := c.RecentCandles(context.Background(), "PEPE_USDT", 2*time.Minute, 2)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindMalformed, fe.Kind)
}

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		window  time.Duration
		want    string
		wantErr bool
	}{
		{time.Minute, "Min1", false},
		{5 * time.Minute, "Min5", false},
		{time.Hour, "Min60", false},
		{4 * time.Hour, "Hour4", false},
		{24 * time.Hour, "Day1", false},
		{90 * time.Second, "", true},
	}
	for _, tt := range tests {
		got, err := IntervalFor(tt.window)
		if tt.wantErr {
			assert.Error(t, err, tt.window.String())
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSignHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{"success":true,"data":[]}`)
	}, ClientConfig{APIKey: "key", SecretKey: "secret", RequestsPerSecond: 100, Burst: 10})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	_, err := c.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", got.Get("ApiKey"))
	assert.Equal(t, "1700000000000", got.Get("Request-Time"))
	assert.Len(t, got.Get("Signature"), 64)
}

func TestUnsignedByDefault(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{"success":true,"data":[]}`)
	}, ClientConfig{})

	_, err := c.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Get("Signature"))
}

func TestTradeURL(t *testing.T) {
	assert.Equal(t, "https://www.mexc.com/futures/PEPE_USDT", TradeURL("PEPE_USDT"))
}

func TestContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":[]}`)
	}, ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListInstruments(ctx)
	assert.True(t, IsFetchError(err))
}
