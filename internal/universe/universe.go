// Package universe maintains the set of instruments the scanner tracks.
package universe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/samber/lo"
)

// ErrUniverseEmpty is returned when a refresh leaves no instrument to track.
var ErrUniverseEmpty = errors.New("universe is empty after filtering")

// Source lists exchange instruments.
type Source interface {
	ListInstruments(ctx context.Context) ([]models.InstrumentMeta, error)
}

// Options controls which listed instruments are tracked. Zero disables a numeric bound.
type Options struct {
	QuoteCoin       string
	MaxVolume24h    float64
	MinVolume24h    float64
	MaxPrice        float64
	ExcludePatterns []string
}

// Set is an immutable tracked universe.
type Set map[models.Instrument]struct{}

// Filter owns the tracked set. Readers see a consistent snapshot; writers are serialized.
type Filter struct {
	source   Source
	opts     Options
	excludes []*regexp.Regexp
	log      *logger.Logger

	current     atomic.Pointer[Set]
	lastRefresh atomic.Pointer[time.Time]

	mu       sync.Mutex // serializes writers
	denylist map[models.Instrument]struct{}
	now      func() time.Time
}

// New creates a Filter. Patterns are matched against the exchange identifier.
func New(source Source, opts Options) (*Filter, error) {
	excludes := make([]*regexp.Regexp, 0, len(opts.ExcludePatterns))
	for _, p := range opts.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		excludes = append(excludes, re)
	}

	f := &Filter{
		source:   source,
		opts:     opts,
		excludes: excludes,
		log:      logger.With("universe"),
		denylist: make(map[models.Instrument]struct{}),
		now:      time.Now,
	}
	empty := Set{}
	f.current.Store(&empty)
	return f, nil
}

// Refresh re-lists instruments and replaces the tracked set.
// On a listing failure the previous set is kept. An empty result is published
// and reported with ErrUniverseEmpty.
func (f *Filter) Refresh(ctx context.Context) (Set, error) {
	metas, err := f.source.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var dropped struct{ inactive, denied, excluded, volume, price int }
	kept := lo.Filter(metas, func(m models.InstrumentMeta, _ int) bool {
		switch {
		case !m.Active || (f.opts.QuoteCoin != "" && !strings.EqualFold(m.QuoteCoin, f.opts.QuoteCoin)):
			dropped.inactive++
			return false
		case f.deniedLocked(m.Instrument):
			dropped.denied++
			return false
		case f.excluded(m.Instrument):
			dropped.excluded++
			return false
		case f.opts.MaxVolume24h > 0 && m.Volume24h > f.opts.MaxVolume24h,
			f.opts.MinVolume24h > 0 && m.Volume24h < f.opts.MinVolume24h:
			dropped.volume++
			return false
		case f.opts.MaxPrice > 0 && m.LastPrice > f.opts.MaxPrice:
			dropped.price++
			return false
		}
		return true
	})

	f.log.Debug("Refresh: listed=%d inactive=%d denied=%d excluded=%d volume=%d price=%d",
		len(metas), dropped.inactive, dropped.denied, dropped.excluded, dropped.volume, dropped.price)

	next := make(Set, len(kept))
	for _, m := range kept {
		next[m.Instrument] = struct{}{}
	}
	f.current.Store(&next)
	now := f.now()
	f.lastRefresh.Store(&now)

	if len(next) == 0 {
		return next, fmt.Errorf("%w: %d listed", ErrUniverseEmpty, len(metas))
	}

	f.log.Info("Tracking %d of %d instruments", len(next), len(metas))
	return next, nil
}

// Snapshot returns a sorted copy of the tracked set.
func (f *Filter) Snapshot() []models.Instrument {
	set := *f.current.Load()
	out := make([]models.Instrument, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether inst is currently tracked.
func (f *Filter) Contains(inst models.Instrument) bool {
	_, ok := (*f.current.Load())[inst]
	return ok
}

func (f *Filter) Len() int {
	return len(*f.current.Load())
}

// LastRefresh returns the time of the last successful refresh, or zero.
func (f *Filter) LastRefresh() time.Time {
	if t := f.lastRefresh.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Deny adds inst to the denylist and removes it from the tracked set.
func (f *Filter) Deny(inst models.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denylist[inst] = struct{}{}
	f.removeLocked(inst)
}

// Allow removes inst from the denylist. It rejoins the tracked set on the next refresh.
func (f *Filter) Allow(inst models.Instrument) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.denylist[inst]; !ok {
		return false
	}
	delete(f.denylist, inst)
	return true
}

// IsDenied reports whether inst is denylisted.
func (f *Filter) IsDenied(inst models.Instrument) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deniedLocked(inst)
}

// Denylist returns the sorted denylist.
func (f *Filter) Denylist() []models.Instrument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := lo.Keys(f.denylist)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *Filter) deniedLocked(inst models.Instrument) bool {
	_, ok := f.denylist[inst]
	return ok
}

func (f *Filter) excluded(inst models.Instrument) bool {
	return lo.SomeBy(f.excludes, func(re *regexp.Regexp) bool {
		return re.MatchString(string(inst))
	})
}

func (f *Filter) removeLocked(inst models.Instrument) {
	cur := *f.current.Load()
	if _, ok := cur[inst]; !ok {
		return
	}
	next := make(Set, len(cur))
	for k := range cur {
		if k != inst {
			next[k] = struct{}{}
		}
	}
	f.current.Store(&next)
}
