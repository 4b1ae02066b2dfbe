package models

import (
	"testing"
	"time"
)

func TestParseInstrument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		quote   string
		want    Instrument
		wantErr bool
	}{
		{name: "exchange form", input: "PEPE_USDT", quote: "USDT", want: "PEPE_USDT"},
		{name: "compact lower case", input: "pepeusdt", quote: "USDT", want: "PEPE_USDT"},
		{name: "base only", input: " pepe ", quote: "usdt", want: "PEPE_USDT"},
		{name: "empty", input: "", quote: "USDT", wantErr: true},
		{name: "quote only", input: "USDT", quote: "USDT", wantErr: true},
		{name: "dangling separator", input: "PEPE_", quote: "USDT", wantErr: true},
		{name: "no quote configured", input: "PEPE", quote: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInstrument(tt.input, tt.quote)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInstrument(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInstrument(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInstrumentParts(t *testing.T) {
	inst := Instrument("1000PEPE_USDT")
	if inst.Base() != "1000PEPE" {
		t.Errorf("Base() = %q", inst.Base())
	}
	if inst.Quote() != "USDT" {
		t.Errorf("Quote() = %q", inst.Quote())
	}
	if inst.Display() != "1000PEPEUSDT" {
		t.Errorf("Display() = %q", inst.Display())
	}
}

func TestCandleWindowFollows(t *testing.T) {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	prev := CandleWindow{Start: start, Duration: time.Minute}
	curr := CandleWindow{Start: start.Add(time.Minute), Duration: time.Minute}
	gap := CandleWindow{Start: start.Add(2 * time.Minute), Duration: time.Minute}

	if !curr.Follows(prev) {
		t.Error("adjacent window should follow")
	}
	if gap.Follows(prev) {
		t.Error("window after a gap should not follow")
	}
	if !prev.End().Equal(curr.Start) {
		t.Errorf("End() = %v, want %v", prev.End(), curr.Start)
	}
}
