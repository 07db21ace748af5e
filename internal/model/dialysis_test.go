package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(SessionStatusScheduled, SessionStatusActive))
	assert.True(t, CanTransition(SessionStatusScheduled, SessionStatusCancelled))
	assert.True(t, CanTransition(SessionStatusActive, SessionStatusCompleted))

	assert.False(t, CanTransition(SessionStatusScheduled, SessionStatusCompleted))
	assert.False(t, CanTransition(SessionStatusActive, SessionStatusCancelled))
	assert.False(t, CanTransition(SessionStatusCompleted, SessionStatusActive))
	assert.False(t, CanTransition(SessionStatusCancelled, SessionStatusScheduled))
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 240, DurationMinutes(start, start.Add(4*time.Hour)))
	assert.Equal(t, 1, DurationMinutes(start, start.Add(30*time.Second)))
	assert.Equal(t, 0, DurationMinutes(start, start.Add(29*time.Second)))
}

func TestNormalize(t *testing.T) {
	legacy := 180
	s := DialysisSession{Status: SessionStatusScheduled, Duration: &legacy}
	s.Normalize()
	assert.Equal(t, 180, s.PlannedDuration)
	assert.Nil(t, s.Duration)

	s = DialysisSession{Status: SessionStatusActive}
	s.Normalize()
	assert.Equal(t, DefaultPlannedDuration, s.PlannedDuration)

	start := time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)
	end := start.Add(3*time.Hour + 45*time.Minute)
	stale := 1
	s = DialysisSession{Status: SessionStatusCompleted, StartTime: &start, EndTime: &end, Duration: &stale, PlannedDuration: 240}
	s.Normalize()
	require.NotNil(t, s.Duration)
	assert.Equal(t, 225, *s.Duration)
}

func TestSortCheckpoints(t *testing.T) {
	base := time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)
	cps := []Checkpoint{
		{ID: "c", CheckTime: base.Add(3 * time.Hour)},
		{ID: "a", CheckTime: base.Add(time.Hour)},
		{ID: "b", CheckTime: base.Add(2 * time.Hour)},
	}
	SortCheckpoints(cps)
	assert.Equal(t, []string{"a", "b", "c"}, []string{cps[0].ID, cps[1].ID, cps[2].ID})
}

func TestParseSlot(t *testing.T) {
	slot, err := ParseSlot("2026-02-08", "08:00")
	require.NoError(t, err)
	assert.Equal(t, Slot{Date: "2026-02-08", Time: "08:00"}, slot)

	_, err = ParseSlot("2026-2-8", "08:00")
	assert.Error(t, err)
	_, err = ParseSlot("2026-02-08", "25:00")
	assert.Error(t, err)
}

func TestMachineLabel(t *testing.T) {
	assert.Equal(t, "HD-3", DialysisMachine{MachineNumber: "3"}.Label())
}
