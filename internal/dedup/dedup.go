// Package dedup suppresses repeat alerts and tracks paused instruments.
package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/models"
)

// BucketKey identifies the detection window containing t.
func BucketKey(t time.Time, window time.Duration) string {
	return t.UTC().Truncate(window).Format("200601021504")
}

type entry struct {
	inst models.Instrument
	key  string
}

// Deduplicator remembers which (instrument, bucket) pairs were already alerted.
type Deduplicator struct {
	mu        sync.Mutex
	emitted   map[entry]time.Time
	paused    map[models.Instrument]struct{}
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// New creates a Deduplicator that keeps emission records for retention.
func New(retention time.Duration) *Deduplicator {
	return &Deduplicator{
		emitted:   make(map[entry]time.Time),
		paused:    make(map[models.Instrument]struct{}),
		retention: retention,
		now:       time.Now,
		log:       logger.With("dedup"),
	}
}

// WithClock replaces the time source. Used in tests.
func (d *Deduplicator) WithClock(now func() time.Time) *Deduplicator {
	d.now = now
	return d
}

// ShouldEmit reports whether an alert for inst in bucket key may be sent.
// The scanner uses TryEmit, the atomic form of ShouldEmit plus RecordEmission.
func (d *Deduplicator) ShouldEmit(inst models.Instrument, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.paused[inst]; ok {
		return false
	}
	_, seen := d.emitted[entry{inst, key}]
	return !seen
}

// RecordEmission marks (inst, key) as alerted. Returns false if it was already recorded.
func (d *Deduplicator) RecordEmission(inst models.Instrument, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := entry{inst, key}
	if _, ok := d.emitted[e]; ok {
		return false
	}
	d.emitted[e] = d.now()
	return true
}

// TryEmit checks and records in one step, so concurrent callers cannot both win a bucket.
func (d *Deduplicator) TryEmit(inst models.Instrument, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.paused[inst]; ok {
		return false
	}
	e := entry{inst, key}
	if _, ok := d.emitted[e]; ok {
		return false
	}
	d.emitted[e] = d.now()
	return true
}

func (d *Deduplicator) Pause(inst models.Instrument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused[inst] = struct{}{}
}

// Resume lifts a pause. It reports whether inst was paused.
func (d *Deduplicator) Resume(inst models.Instrument) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.paused[inst]; !ok {
		return false
	}
	delete(d.paused, inst)
	return true
}

func (d *Deduplicator) IsPaused(inst models.Instrument) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.paused[inst]
	return ok
}

// Paused returns the sorted pause list.
func (d *Deduplicator) Paused() []models.Instrument {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Instrument, 0, len(d.paused))
	for inst := range d.paused {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Forget drops every record and the pause for inst.
func (d *Deduplicator) Forget(inst models.Instrument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.paused, inst)
	for e := range d.emitted {
		if e.inst == inst {
			delete(d.emitted, e)
		}
	}
}

// Sweep evicts emission records older than the retention period and returns how many were removed.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.retention)
	removed := 0
	for e, at := range d.emitted {
		if at.Before(cutoff) {
			delete(d.emitted, e)
			removed++
		}
	}
	return removed
}

// Len returns the number of emission records held.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.emitted)
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (d *Deduplicator) RunSweeper(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := d.Sweep(); n > 0 {
				d.log.Debug("Swept %d expired records", n)
			}
		}
	}
}
