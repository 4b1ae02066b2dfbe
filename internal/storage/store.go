package storage

import (
	"context"
	"errors"

	"github.com/rewired-gh/spikewatch/internal/models"
)

var (
	// ErrNotFound is returned when removing an instrument that is not listed.
	ErrNotFound = errors.New("not found")
)

// List names a persisted exclusion list.
type List string

const (
	Denylist  List = "blacklist"
	PauseList List = "paused_alerts"
)

// Store persists exclusion lists and alert history.
type Store interface {
	// Add inserts inst into list. Adding an existing entry is not an error.
	Add(ctx context.Context, list List, inst models.Instrument) error
	// Remove deletes inst from list, returning ErrNotFound if absent.
	Remove(ctx context.Context, list List, inst models.Instrument) error
	// Get returns every instrument in list, sorted.
	Get(ctx context.Context, list List) ([]models.Instrument, error)

	AddAlert(ctx context.Context, rec *models.AlertRecord) error
	// RecentAlerts returns up to limit records, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error)

	Close() error
}

func validList(list List) bool {
	return list == Denylist || list == PauseList
}
