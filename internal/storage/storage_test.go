package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/spikewatch/internal/models"
)

func newTestStorage(t *testing.T, historyLimit int) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:", historyLimit)
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(inst string, createdAt time.Time) *models.AlertRecord {
	return &models.AlertRecord{
		Instrument:      models.Instrument(inst),
		BucketKey:       createdAt.UTC().Format("200601021504"),
		PrevVolume:      800,
		CurrVolume:      2400,
		PrevPrice:       1.0,
		CurrPrice:       1.1,
		VolumeChangePct: 200,
		PriceChangePct:  10,
		Delivered:       true,
		CreatedAt:       createdAt,
	}
}

func TestSQLite_AddGetRemove(t *testing.T) {
	s := newTestStorage(t, 0)
	ctx := context.Background()

	for _, inst := range []models.Instrument{"WIF_USDT", "PEPE_USDT", "PEPE_USDT"} {
		if err := s.Add(ctx, Denylist, inst); err != nil {
			t.Fatalf("Add(%s): %v", inst, err)
		}
	}

	got, err := s.Get(ctx, Denylist)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0] != "PEPE_USDT" || got[1] != "WIF_USDT" {
		t.Errorf("Get = %v, want [PEPE_USDT WIF_USDT]", got)
	}

	paused, err := s.Get(ctx, PauseList)
	if err != nil {
		t.Fatalf("Get paused: %v", err)
	}
	if len(paused) != 0 {
		t.Errorf("pause list should be independent, got %v", paused)
	}

	if err := s.Remove(ctx, Denylist, "PEPE_USDT"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, Denylist, "PEPE_USDT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_UnknownList(t *testing.T) {
	s := newTestStorage(t, 0)
	ctx := context.Background()

	if err := s.Add(ctx, List("users; DROP TABLE blacklist"), "PEPE_USDT"); err == nil {
		t.Error("expected error for unknown list")
	}
	if _, err := s.Get(ctx, List("nope")); err == nil {
		t.Error("expected error for unknown list")
	}
}

func TestSQLite_AlertHistory(t *testing.T) {
	s := newTestStorage(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := testRecord(fmt.Sprintf("T%d_USDT", i), base.Add(time.Duration(i)*time.Minute))
		if err := s.AddAlert(ctx, rec); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
		if rec.ID == "" {
			t.Error("AddAlert should assign an ID")
		}
	}

	got, err := s.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].Instrument != "T2_USDT" || got[1].Instrument != "T1_USDT" {
		t.Errorf("unexpected order: %s, %s", got[0].Instrument, got[1].Instrument)
	}
	if !got[0].Delivered || got[0].CurrVolume != 2400 {
		t.Errorf("fields not round-tripped: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}
}

func TestSQLite_HistoryCap(t *testing.T) {
	s := newTestStorage(t, 3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		if err := s.AddAlert(ctx, testRecord(fmt.Sprintf("T%d_USDT", i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}

	got, err := s.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d alerts after cap, want 3", len(got))
	}
	if got[2].Instrument != "T2_USDT" {
		t.Errorf("oldest kept = %s, want T2_USDT", got[2].Instrument)
	}
}
