// Package mexc provides a rate-limited client for the MEXC contract REST API.
package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	opListInstruments = "list_instruments"
	opRecentCandles   = "recent_candles"

	maxBodyBytes = 8 << 20
)

// ClientConfig holds optional client tuning.
type ClientConfig struct {
	APIKey            string
	SecretKey         string
	RequestsPerSecond float64
	Burst             int
	ActiveStates      []int
}

// Client provides access to the MEXC contract API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	apiKey       string
	secretKey    string
	activeStates map[int]bool
	now          func() time.Time
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type contractDetail struct {
	Symbol        string `json:"symbol"`
	DisplayNameEn string `json:"displayNameEn"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	State         int    `json:"state"`
}

type contractTicker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Amount24  decimal.Decimal `json:"amount24"`
}

type klineData struct {
	Time   []int64           `json:"time"`
	Open   []decimal.Decimal `json:"open"`
	Close  []decimal.Decimal `json:"close"`
	High   []decimal.Decimal `json:"high"`
	Low    []decimal.Decimal `json:"low"`
	Amount []decimal.Decimal `json:"amount"`
}

// NewClient creates a new MEXC client. Every request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if len(cfg.ActiveStates) == 0 {
		cfg.ActiveStates = []int{0}
	}

	states := make(map[int]bool, len(cfg.ActiveStates))
	for _, s := range cfg.ActiveStates {
		states[s] = true
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		apiKey:       cfg.APIKey,
		secretKey:    cfg.SecretKey,
		activeStates: states,
		now:          time.Now,
	}
}

// TradeURL returns the web trading page for inst.
func TradeURL(inst models.Instrument) string {
	return "https://www.mexc.com/futures/" + string(inst)
}

// ListInstruments returns every contract the exchange serves, merged with 24h ticker figures.
func (c *Client) ListInstruments(ctx context.Context) ([]models.InstrumentMeta, error) {
	var details []contractDetail
	if err := c.get(ctx, opListInstruments, "/api/v1/contract/detail", nil, &details); err != nil {
		return nil, err
	}

	var tickers []contractTicker
	if err := c.get(ctx, opListInstruments, "/api/v1/contract/ticker", nil, &tickers); err != nil {
		return nil, err
	}

	bySymbol := make(map[string]contractTicker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	metas := make([]models.InstrumentMeta, 0, len(details))
	for _, d := range details {
		if d.Symbol == "" {
			continue
		}
		meta := models.InstrumentMeta{
			Instrument:  models.Instrument(d.Symbol),
			BaseCoin:    d.BaseCoin,
			QuoteCoin:   d.QuoteCoin,
			DisplayName: d.DisplayNameEn,
			Active:      c.activeStates[d.State],
		}
		if t, ok := bySymbol[d.Symbol]; ok {
			meta.Volume24h = t.Amount24.InexactFloat64()
			meta.LastPrice = t.LastPrice.InexactFloat64()
		}
		metas = append(metas, meta)
	}

	if len(details) > 0 && len(metas) == 0 {
		return nil, fetchErr(opListInstruments, KindMalformed, errors.New("no contract carried a symbol"))
	}

	return metas, nil
}

// RecentCandles returns the most recent count windows for inst, oldest first.
// The newest window may still be open.
func (c *Client) RecentCandles(ctx context.Context, inst models.Instrument, window time.Duration, count int) ([]models.CandleWindow, error) {
	interval, err := IntervalFor(window)
	if err != nil {
		return nil, fetchErr(opRecentCandles, KindMalformed, err)
	}
	if count < 1 {
		return nil, fetchErr(opRecentCandles, KindMalformed, fmt.Errorf("count must be positive, got %d", count))
	}

	now := c.now()
	aligned := now.Truncate(window)
	start := aligned.Add(-time.Duration(count) * window)

	q := url.Values{}
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))

	var data klineData
	if err := c.get(ctx, opRecentCandles, "/api/v1/contract/kline/"+url.PathEscape(string(inst)), q, &data); err != nil {
		return nil, err
	}

	n := len(data.Time)
	if len(data.Open) != n || len(data.Close) != n || len(data.High) != n || len(data.Low) != n || len(data.Amount) != n {
		return nil, fetchErr(opRecentCandles, KindMalformed, errors.New("kline columns differ in length"))
	}
	if n < count {
		return nil, fetchErr(opRecentCandles, KindInsufficient, fmt.Errorf("got %d windows, want %d", n, count))
	}

	candles := make([]models.CandleWindow, 0, count)
	for i := n - count; i < n; i++ {
		candle := models.CandleWindow{
			Start:    time.Unix(data.Time[i], 0).UTC(),
			Duration: window,
			Open:     data.Open[i].InexactFloat64(),
			Close:    data.Close[i].InexactFloat64(),
			High:     data.High[i].InexactFloat64(),
			Low:      data.Low[i].InexactFloat64(),
			Volume:   data.Amount[i].InexactFloat64(),
		}
		if len(candles) > 0 && !candle.Follows(candles[len(candles)-1]) {
			return nil, fetchErr(opRecentCandles, KindMalformed,
				fmt.Errorf("window at %s does not follow %s", candle.Start, candles[len(candles)-1].Start))
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// IntervalFor maps a window duration to the exchange interval name.
func IntervalFor(window time.Duration) (string, error) {
	switch window {
	case time.Minute:
		return "Min1", nil
	case 5 * time.Minute:
		return "Min5", nil
	case 15 * time.Minute:
		return "Min15", nil
	case 30 * time.Minute:
		return "Min30", nil
	case time.Hour:
		return "Min60", nil
	case 4 * time.Hour:
		return "Hour4", nil
	case 8 * time.Hour:
		return "Hour8", nil
	case 24 * time.Hour:
		return "Day1", nil
	default:
		return "", fmt.Errorf("unsupported window duration %v", window)
	}
}

// get performs one rate-limited GET and decodes the envelope's data into out.
// No retries: retry policy belongs to the caller.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fetchErr(op, KindNetwork, err)
	}

	rawQuery := query.Encode()
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fetchErr(op, KindNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	c.sign(req, rawQuery)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetchErr(op, KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &FetchError{Op: op, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		return fetchErr(op, KindMalformed, fmt.Errorf("failed to decode envelope: %w", err))
	}
	if !env.Success {
		return fetchErr(op, KindMalformed, fmt.Errorf("api error code %d: %s", env.Code, env.Message))
	}
	if len(env.Data) == 0 {
		return fetchErr(op, KindMalformed, errors.New("missing data"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fetchErr(op, KindMalformed, fmt.Errorf("failed to decode data: %w", err))
	}
	return nil
}

// sign attaches the private-endpoint headers when credentials are configured.
func (c *Client) sign(req *http.Request, rawQuery string) {
	if c.apiKey == "" || c.secretKey == "" {
		return
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(c.apiKey + ts + rawQuery))

	req.Header.Set("ApiKey", c.apiKey)
	req.Header.Set("Request-Time", ts)
	req.Header.Set("Signature", hex.EncodeToString(mac.Sum(nil)))
}
