package universe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rewired-gh/spikewatch/internal/mexc"
	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	metas []models.InstrumentMeta
	err   error
}

func (f *fakeSource) ListInstruments(ctx context.Context) ([]models.InstrumentMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metas, f.err
}

func (f *fakeSource) set(metas []models.InstrumentMeta, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas, f.err = metas, err
}

func meta(sym string, vol, price float64) models.InstrumentMeta {
	inst := models.Instrument(sym)
	return models.InstrumentMeta{
		Instrument: inst,
		BaseCoin:   inst.Base(),
		QuoteCoin:  inst.Quote(),
		Active:     true,
		Volume24h:  vol,
		LastPrice:  price,
	}
}

func defaultOptions() Options {
	return Options{
		QuoteCoin:       "USDT",
		MaxVolume24h:    2_000_000,
		ExcludePatterns: []string{`STOCK_`, `^(SPX|NDX)_`},
	}
}

func TestRefreshFilters(t *testing.T) {
	inactive := meta("DEAD_USDT", 100, 1)
	inactive.Active = false

	src := &fakeSource{metas: []models.InstrumentMeta{
		meta("PEPE_USDT", 500_000, 0.00001),
		meta("BTC_USDT", 5_000_000_000, 60000),
		meta("TSLASTOCK_USDT", 1000, 200),
		meta("SPX_USDT", 1000, 5000),
		meta("ETH_USDC", 1000, 3000),
		meta("DENY_USDT", 1000, 1),
		meta("EDGE_USDT", 2_000_000, 1),
		inactive,
	}}

	f, err := New(src, defaultOptions())
	require.NoError(t, err)
	f.Deny("DENY_USDT")

	set, err := f.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, set, 2)
	assert.Equal(t, []models.Instrument{"EDGE_USDT", "PEPE_USDT"}, f.Snapshot())
	assert.True(t, f.Contains("PEPE_USDT"))
	assert.False(t, f.Contains("BTC_USDT"))
	assert.False(t, f.LastRefresh().IsZero())
}

func TestRefreshSecondaryBounds(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{
		meta("TINY_USDT", 10, 0.1),
		meta("MID_USDT", 50_000, 0.5),
		meta("PRICY_USDT", 50_000, 900),
	}}
	opts := defaultOptions()
	opts.MinVolume24h = 1000
	opts.MaxPrice = 100

	f, err := New(src, opts)
	require.NoError(t, err)

	_, err = f.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Instrument{"MID_USDT"}, f.Snapshot())
}

func TestRefreshFailureKeepsSet(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{meta("PEPE_USDT", 1000, 1)}}
	f, err := New(src, defaultOptions())
	require.NoError(t, err)

	_, err = f.Refresh(context.Background())
	require.NoError(t, err)
	before := f.LastRefresh()

	src.set(nil, &mexc.FetchError{Op: "list_instruments", Kind: mexc.KindStatus, StatusCode: 502})
	_, err = f.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, mexc.IsFetchError(err))

	assert.Equal(t, []models.Instrument{"PEPE_USDT"}, f.Snapshot())
	assert.Equal(t, before, f.LastRefresh())
}

func TestRefreshEmptyReplacesSet(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{meta("PEPE_USDT", 1000, 1)}}
	f, err := New(src, defaultOptions())
	require.NoError(t, err)

	_, err = f.Refresh(context.Background())
	require.NoError(t, err)

	src.set([]models.InstrumentMeta{meta("PEPE_USDT", 9_000_000_000, 1)}, nil)
	set, err := f.Refresh(context.Background())
	assert.True(t, errors.Is(err, ErrUniverseEmpty))
	assert.Empty(t, set)

	// PEPE now exceeds the ceiling and must not stay tracked
	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Contains("PEPE_USDT"))
}

func TestDenyIsImmediate(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{
		meta("PEPE_USDT", 1000, 1),
		meta("WIF_USDT", 1000, 1),
	}}
	f, err := New(src, defaultOptions())
	require.NoError(t, err)
	_, err = f.Refresh(context.Background())
	require.NoError(t, err)

	snap := f.Snapshot()
	f.Deny("PEPE_USDT")
	assert.False(t, f.Contains("PEPE_USDT"))

	// earlier snapshots are unaffected
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, f.Len())

	// denying an untracked instrument leaves the set alone
	f.Deny("BTC_USDT")
	assert.Equal(t, 1, f.Len())
}

func TestDenyAndAllow(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{
		meta("PEPE_USDT", 1000, 1),
		meta("WIF_USDT", 1000, 1),
	}}
	f, err := New(src, defaultOptions())
	require.NoError(t, err)
	_, err = f.Refresh(context.Background())
	require.NoError(t, err)

	f.Deny("PEPE_USDT")
	assert.False(t, f.Contains("PEPE_USDT"))
	assert.True(t, f.IsDenied("PEPE_USDT"))
	assert.Equal(t, []models.Instrument{"PEPE_USDT"}, f.Denylist())

	_, err = f.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, f.Contains("PEPE_USDT"), "denylisted instrument must not return on refresh")

	assert.True(t, f.Allow("PEPE_USDT"))
	assert.False(t, f.Allow("PEPE_USDT"))
	_, err = f.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Contains("PEPE_USDT"))
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(&fakeSource{}, Options{ExcludePatterns: []string{"(["}})
	assert.Error(t, err)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	src := &fakeSource{metas: []models.InstrumentMeta{
		meta("A_USDT", 1000, 1),
		meta("B_USDT", 1000, 1),
		meta("C_USDT", 1000, 1),
	}}
	f, err := New(src, defaultOptions())
	require.NoError(t, err)
	_, err = f.Refresh(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, inst := range f.Snapshot() {
					_ = f.Contains(inst)
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		f.Deny("B_USDT")
		f.Allow("B_USDT")
		_, _ = f.Refresh(context.Background())
	}
	wg.Wait()
	assert.Equal(t, 3, f.Len())
}
