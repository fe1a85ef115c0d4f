// Package booking generates appointment slots for municipal services with
// configured business hours and reports conflicts against existing bookings.
package booking

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a candidate slot is matched against existing bookings.
type Mode string

const (
	// ModeTimePeriod marks a slot booked when its [start, start+duration)
	// interval overlaps any booked interval.
	ModeTimePeriod Mode = "time_period"
	// ModeStartTime marks a slot booked only on an exact start-time match.
	ModeStartTime Mode = "start_time"
)

// DayConfig describes one service's bookable day.
type DayConfig struct {
	// StartTime and EndTime are wall-clock "HH:MM" strings in the
	// municipality's timezone.
	StartTime string
	EndTime   string
	// SlotIntervalMinutes is the step between offered start times.
	SlotIntervalMinutes int
	// DurationMinutes is the length of one appointment. It may exceed the
	// interval, in which case offered slots intentionally overlap.
	DurationMinutes int
	Mode            Mode
	// AvailableDays are weekday names ("Monday", ...); empty means every day.
	AvailableDays []string
}

// Interval is a half-open [Start, End) range of minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Slot is one offered appointment window.
type Slot struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	IsBooked bool   `json:"isBooked"`
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DayAvailable reports whether the config offers slots on the given weekday.
func DayAvailable(cfg DayConfig, day time.Weekday) bool {
	if len(cfg.AvailableDays) == 0 {
		return true
	}
	for _, name := range cfg.AvailableDays {
		if strings.EqualFold(strings.TrimSpace(name), day.String()) {
			return true
		}
	}
	return false
}

func overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// GenerateSlots produces the ordered candidate slots between StartTime and
// EndTime stepped by the slot interval, marking each against the booked
// intervals per the configured mode. The last offered slot is the one whose
// full duration still fits before EndTime.
func GenerateSlots(cfg DayConfig, booked []Interval) ([]Slot, error) {
	start, err := parseClock(cfg.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(cfg.EndTime)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("end time %s is not after start time %s", cfg.EndTime, cfg.StartTime)
	}
	interval := cfg.SlotIntervalMinutes
	if interval <= 0 {
		interval = cfg.DurationMinutes
	}
	if interval <= 0 {
		return nil, fmt.Errorf("slot interval must be positive")
	}
	duration := cfg.DurationMinutes
	if duration <= 0 {
		duration = interval
	}

	slots := make([]Slot, 0, (end-start)/interval)
	for at := start; at+duration <= end; at += interval {
		candidate := Interval{Start: at, End: at + duration}
		slots = append(slots, Slot{
			Start:    formatClock(candidate.Start),
			End:      formatClock(candidate.End),
			IsBooked: slotBooked(cfg.Mode, candidate, booked),
		})
	}
	return slots, nil
}

func slotBooked(mode Mode, candidate Interval, booked []Interval) bool {
	for _, existing := range booked {
		switch mode {
		case ModeStartTime:
			if existing.Start == candidate.Start {
				return true
			}
		default:
			if overlaps(candidate, existing) {
				return true
			}
		}
	}
	return false
}

// ParseInterval builds an Interval from "HH:MM" start and end strings.
func ParseInterval(startTime, endTime string) (Interval, error) {
	start, err := parseClock(startTime)
	if err != nil {
		return Interval{}, err
	}
	end, err := parseClock(endTime)
	if err != nil {
		return Interval{}, err
	}
	if end <= start {
		return Interval{}, fmt.Errorf("interval end %s is not after start %s", endTime, startTime)
	}
	return Interval{Start: start, End: end}, nil
}
