package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemainingGraceTime(t *testing.T) {
	assignedAt := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)
	a := PatientAssignment{AssignedAt: &assignedAt}

	assert.Equal(t, GracePeriod, RemainingGraceTime(a, assignedAt))
	assert.Equal(t, time.Second, RemainingGraceTime(a, assignedAt.Add(4*time.Minute+59*time.Second)))
	assert.Equal(t, time.Duration(0), RemainingGraceTime(a, assignedAt.Add(5*time.Minute)))
	assert.Equal(t, time.Duration(0), RemainingGraceTime(a, assignedAt.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), RemainingGraceTime(PatientAssignment{}, assignedAt))
}

func TestWithinGracePeriod(t *testing.T) {
	at := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)
	assert.True(t, WithinGracePeriod(at, at.Add(4*time.Minute+59*time.Second)))
	assert.False(t, WithinGracePeriod(at, at.Add(5*time.Minute)))
	assert.False(t, WithinGracePeriod(at, at.Add(5*time.Minute+time.Second)))
}

func TestAssignmentFilterMatches(t *testing.T) {
	ana := "uid-ana"
	name := "Ana"
	pending := PatientAssignment{Status: AssignmentStatusPending}
	mine := PatientAssignment{Status: AssignmentStatusAssigned, AssignedTo: &name, AssignedBy: &ana}
	done := PatientAssignment{Status: AssignmentStatusCompleted, AssignedTo: &name, AssignedBy: &ana}

	assert.True(t, AssignmentFilterPending.Matches(pending, ana))
	assert.False(t, AssignmentFilterPending.Matches(mine, ana))
	assert.True(t, AssignmentFilterMine.Matches(mine, ana))
	assert.False(t, AssignmentFilterMine.Matches(mine, "uid-ben"))
	assert.False(t, AssignmentFilterMine.Matches(done, ana))
	assert.True(t, AssignmentFilterCompleted.Matches(done, ana))
	assert.True(t, AssignmentFilterAll.Matches(done, ana))
}
