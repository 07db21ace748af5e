package model

import (
	"fmt"
	"time"
)

// Wire formats for a session slot.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Timestamps contains the bookkeeping fields every document carries.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Slot is a machine booking key: calendar date plus time of day.
type Slot struct {
	Date string `json:"sessionDate"`
	Time string `json:"scheduledTime"`
}

// ParseSlot validates date ("YYYY-MM-DD") and time ("HH:MM").
func ParseSlot(date, clock string) (Slot, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Slot{}, fmt.Errorf("invalid session date %q", date)
	}
	if _, err := time.Parse(TimeLayout, clock); err != nil {
		return Slot{}, fmt.Errorf("invalid scheduled time %q", clock)
	}
	return Slot{Date: date, Time: clock}, nil
}

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}
