package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/rewired-gh/spikewatch/internal/storage"
)

var (
	ErrAlreadyPaused = errors.New("already paused")
	ErrNotPaused     = errors.New("not paused")
	ErrAlreadyDenied = errors.New("already blacklisted")
	ErrNotDenied     = errors.New("not blacklisted")
)

// RefreshNow re-lists the universe on demand and returns the tracked count.
func (s *Scanner) RefreshNow(ctx context.Context) (int, error) {
	if err := s.refresh(ctx); err != nil {
		return s.universe.Len(), err
	}
	return s.universe.Len(), nil
}

// Pause suppresses alerts for inst without removing it from the universe.
func (s *Scanner) Pause(ctx context.Context, inst models.Instrument) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.dedup.IsPaused(inst) {
		return fmt.Errorf("%s: %w", inst, ErrAlreadyPaused)
	}
	if err := s.store.Add(ctx, storage.PauseList, inst); err != nil {
		return err
	}
	s.dedup.Pause(inst)
	s.log.Info("Paused %s", inst)
	return nil
}

// Resume lifts a pause set by Pause.
func (s *Scanner) Resume(ctx context.Context, inst models.Instrument) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.dedup.IsPaused(inst) {
		return fmt.Errorf("%s: %w", inst, ErrNotPaused)
	}
	if err := s.store.Remove(ctx, storage.PauseList, inst); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.dedup.Resume(inst)
	s.log.Info("Resumed %s", inst)
	return nil
}

// Blacklist removes inst from the universe immediately and drops its pause and dedup state.
func (s *Scanner) Blacklist(ctx context.Context, inst models.Instrument) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.universe.IsDenied(inst) {
		return fmt.Errorf("%s: %w", inst, ErrAlreadyDenied)
	}
	if err := s.store.Add(ctx, storage.Denylist, inst); err != nil {
		return err
	}
	if s.dedup.IsPaused(inst) {
		if err := s.store.Remove(ctx, storage.PauseList, inst); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("Failed to clear persisted pause for %s: %v", inst, err)
		}
	}
	s.universe.Deny(inst)
	s.dedup.Forget(inst)
	s.log.Info("Blacklisted %s", inst)
	return nil
}

// Unblacklist lifts the denylist entry. inst rejoins the universe on the next refresh.
func (s *Scanner) Unblacklist(ctx context.Context, inst models.Instrument) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.universe.IsDenied(inst) {
		return fmt.Errorf("%s: %w", inst, ErrNotDenied)
	}
	if err := s.store.Remove(ctx, storage.Denylist, inst); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.universe.Allow(inst)
	s.log.Info("Unblacklisted %s", inst)
	return nil
}

// Status returns a point-in-time view of scanner state.
func (s *Scanner) Status() models.Status {
	st := models.Status{
		Tracked:      s.universe.Len(),
		Denylisted:   len(s.universe.Denylist()),
		Paused:       len(s.dedup.Paused()),
		RecentAlerts: s.dedup.Len(),
		Ticks:        s.ticks.Load(),
		LastRefresh:  s.universe.LastRefresh(),
	}
	if t := s.lastTick.Load(); t != nil {
		st.LastTick = *t
	}
	if e := s.lastRefreshErr.Load(); e != nil {
		st.LastRefreshError = *e
	}

	return st
}

// RecentAlerts returns persisted alert history, newest first.
func (s *Scanner) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return s.store.RecentAlerts(ctx, limit)
}

// Paused returns the sorted pause list.
func (s *Scanner) Paused() []models.Instrument {
	return s.dedup.Paused()
}

// Denylist returns the sorted blacklist.
func (s *Scanner) Denylist() []models.Instrument {
	return s.universe.Denylist()
}
