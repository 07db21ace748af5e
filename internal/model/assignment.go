package model

import "time"

type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "pending"
	AssignmentStatusAssigned  AssignmentStatus = "assigned"
	AssignmentStatusCompleted AssignmentStatus = "completed"
)

// GracePeriod is how long a claimant may hand a claimed item back.
const GracePeriod = 5 * time.Minute

// PatientAssignment is a lab or consult work item claimed by one staff member.
type PatientAssignment struct {
	ID          string           `json:"id"`
	PatientName string           `json:"patientName"`
	LabType     string           `json:"labType"`
	NurseOnDuty string           `json:"nurseOnDuty"`
	Status      AssignmentStatus `json:"status"`
	AssignedTo  *string          `json:"assignedTo"`
	AssignedBy  *string          `json:"assignedBy"`
	AssignedAt  *time.Time       `json:"assignedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// RemainingGraceTime is max(0, GracePeriod - (now - assignedAt)). It drives
// the countdown shown to the claimant and never authorizes a release.
func RemainingGraceTime(a PatientAssignment, now time.Time) time.Duration {
	if a.AssignedAt == nil {
		return 0
	}
	remaining := GracePeriod - now.Sub(*a.AssignedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// WithinGracePeriod is the release check: strictly less than five minutes
// since the claim, so exactly 5:00 is too late.
func WithinGracePeriod(assignedAt, now time.Time) bool {
	return now.Sub(assignedAt) < GracePeriod
}

// AssignmentFilter selects a tab of the assignment board.
type AssignmentFilter string

const (
	AssignmentFilterAll       AssignmentFilter = ""
	AssignmentFilterPending   AssignmentFilter = "pending"
	AssignmentFilterMine      AssignmentFilter = "mine"
	AssignmentFilterCompleted AssignmentFilter = "completed"
)

// Matches applies the tab rules for the staff member staffID.
func (f AssignmentFilter) Matches(a PatientAssignment, staffID string) bool {
	switch f {
	case AssignmentFilterPending:
		return a.AssignedTo == nil || a.Status == AssignmentStatusPending
	case AssignmentFilterMine:
		return a.AssignedBy != nil && *a.AssignedBy == staffID && a.Status != AssignmentStatusCompleted
	case AssignmentFilterCompleted:
		return a.Status == AssignmentStatusCompleted
	}
	return true
}

// AssignmentCounts are the badge numbers on the board tabs.
type AssignmentCounts struct {
	Pending   int `json:"pending"`
	Mine      int `json:"mine"`
	Completed int `json:"completed"`
}
