package models

import (
	"time"
)

// CandleWindow is one fixed-duration OHLC aggregation. Volume is quote-currency notional.
type CandleWindow struct {
	Start    time.Time
	Duration time.Duration
	Open     float64
	Close    float64
	High     float64
	Low      float64
	Volume   float64
}

// End returns the exclusive end of the window.
func (c CandleWindow) End() time.Time {
	return c.Start.Add(c.Duration)
}

// Follows reports whether c starts exactly where prev ends.
func (c CandleWindow) Follows(prev CandleWindow) bool {
	return c.Start.Equal(prev.Start.Add(prev.Duration))
}

// SpikeEvent is a detected volume jump between two consecutive windows.
// (Instrument, BucketKey) is its identity.
type SpikeEvent struct {
	Instrument      Instrument
	BucketKey       string
	PrevVolume      float64
	CurrVolume      float64
	PrevPrice       float64
	CurrPrice       float64
	VolumeChangePct float64
	PriceChangePct  float64
	DetectedAt      time.Time
}

type ActionKind string

const (
	ActionPause     ActionKind = "pause"
	ActionBlacklist ActionKind = "blacklist"
)

// Action is an operator affordance attached to an alert.
type Action struct {
	Kind       ActionKind
	Instrument Instrument
}

// Alert is the payload handed to the notification sink.
type Alert struct {
	SpikeEvent
	TradeURL string
	Actions  []Action
}

// AlertRecord is one row of persisted alert history.
type AlertRecord struct {
	ID              string
	Instrument      Instrument
	BucketKey       string
	PrevVolume      float64
	CurrVolume      float64
	PrevPrice       float64
	CurrPrice       float64
	VolumeChangePct float64
	PriceChangePct  float64
	Delivered       bool
	CreatedAt       time.Time
}

// Status is a read-only view of scanner state.
type Status struct {
	Tracked          int       `json:"tracked"`
	Denylisted       int       `json:"denylisted"`
	Paused           int       `json:"paused"`
	RecentAlerts     int       `json:"recent_alerts"`
	Ticks            int64     `json:"ticks"`
	LastRefresh      time.Time `json:"last_refresh"`
	LastTick         time.Time `json:"last_tick"`
	LastRefreshError string    `json:"last_refresh_error,omitempty"`
}
