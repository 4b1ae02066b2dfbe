// Package models defines the core domain entities: instruments, candle windows, spikes and alerts.
package models

import (
	"errors"
	"strings"
)

// Instrument identifies a contract in exchange form, e.g. "PEPE_USDT".
type Instrument string

// Base returns the base coin ("PEPE" for "PEPE_USDT").
func (i Instrument) Base() string {
	if idx := strings.LastIndexByte(string(i), '_'); idx >= 0 {
		return string(i)[:idx]
	}
	return string(i)
}

// Quote returns the quote coin ("USDT" for "PEPE_USDT"), or "" when the identifier has no separator.
func (i Instrument) Quote() string {
	if idx := strings.LastIndexByte(string(i), '_'); idx >= 0 {
		return string(i)[idx+1:]
	}
	return ""
}

// Display returns the compact ticker form used in messages ("PEPEUSDT").
func (i Instrument) Display() string {
	return strings.ReplaceAll(string(i), "_", "")
}

func (i Instrument) String() string { return string(i) }

// ParseInstrument normalizes operator input into exchange form.
// "PEPE_USDT", "pepeusdt" and "pepe" all map to "PEPE_USDT" for quote "USDT".
func ParseInstrument(s, quote string) (Instrument, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if s == "" {
		return "", errors.New("instrument must not be empty")
	}
	if strings.Contains(s, "_") {
		inst := Instrument(s)
		if inst.Base() == "" || inst.Quote() == "" {
			return "", errors.New("instrument must have the form BASE_QUOTE")
		}
		return inst, nil
	}
	if quote == "" {
		return "", errors.New("quote coin required to parse " + s)
	}
	base := strings.TrimSuffix(s, quote)
	if base == "" {
		return "", errors.New("instrument must not be only the quote coin")
	}
	return Instrument(base + "_" + quote), nil
}

// InstrumentMeta describes an instrument as listed by the exchange.
type InstrumentMeta struct {
	Instrument  Instrument
	BaseCoin    string
	QuoteCoin   string
	DisplayName string
	Active      bool
	Volume24h   float64 // quote-currency notional
	LastPrice   float64
}
