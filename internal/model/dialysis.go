package model

import (
	"math"
	"sort"
	"time"
)

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

type AccessType string

const (
	AccessTypeAVF      AccessType = "AVF"
	AccessTypeAVG      AccessType = "AVG"
	AccessTypeCatheter AccessType = "Catheter"
)

func (a AccessType) Valid() bool {
	switch a {
	case AccessTypeAVF, AccessTypeAVG, AccessTypeCatheter:
		return true
	}
	return false
}

type MachineStatus string

const (
	MachineStatusAvailable   MachineStatus = "available"
	MachineStatusInUse       MachineStatus = "in-use"
	MachineStatusMaintenance MachineStatus = "maintenance"
)

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// CanTransition reports whether the session state machine allows from -> to.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case SessionStatusScheduled:
		return to == SessionStatusActive || to == SessionStatusCancelled
	case SessionStatusActive:
		return to == SessionStatusCompleted
	}
	return false
}

// DefaultPlannedDuration is used when a session is scheduled without one.
const DefaultPlannedDuration = 240

type DialysisPatient struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Age              int           `json:"age"`
	Gender           string        `json:"gender"`
	DialysisSchedule string        `json:"dialysisSchedule"`
	DryWeight        float64       `json:"dryWeight"`
	AccessType       AccessType    `json:"accessType"`
	Diagnosis        string        `json:"diagnosis"`
	Notes            string        `json:"notes,omitempty"`
	Status           PatientStatus `json:"status"`
	LastSessionAt    *time.Time    `json:"lastSessionAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

type DialysisMachine struct {
	ID                 string        `json:"id"`
	MachineNumber      string        `json:"machineNumber"`
	Brand              string        `json:"brand"`
	Model              string        `json:"model"`
	SerialNumber       string        `json:"serialNumber,omitempty"`
	Location           string        `json:"location,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	Status             MachineStatus `json:"status"`
	CurrentPatientName *string       `json:"currentPatientName"`
	LastMaintenanceAt  *time.Time    `json:"lastMaintenanceAt"`
	NextMaintenanceAt  *time.Time    `json:"nextMaintenanceAt"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Label is the short machine name used in reports.
func (m DialysisMachine) Label() string {
	return "HD-" + m.MachineNumber
}

// Vitals is one pre- or post-treatment reading.
type Vitals struct {
	Weight      float64   `json:"weight"`
	Temp        float64   `json:"temp"`
	Pulse       int       `json:"pulse"`
	BPSystolic  int       `json:"bpSystolic"`
	BPDiastolic int       `json:"bpDiastolic"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Checkpoint is an hourly reading taken while a session is active.
type Checkpoint struct {
	ID                  string    `json:"id"`
	CheckTime           time.Time `json:"checkTime"`
	BloodPressure       string    `json:"bloodPressure"`
	Pulse               int       `json:"pulse"`
	Temperature         float64   `json:"temperature"`
	UltrafiltrationRate string    `json:"ultrafiltrationRate"`
	Notes               string    `json:"notes,omitempty"`
	Complications       string    `json:"complications,omitempty"`
	RecordedBy          string    `json:"recordedBy,omitempty"`
}

type DialysisSession struct {
	ID              string        `json:"id"`
	PatientID       string        `json:"patientId"`
	PatientName     string        `json:"patientName"`
	MachineID       string        `json:"machineId"`
	MachineNumber   string        `json:"machineNumber"`
	SessionDate     string        `json:"sessionDate"`
	ScheduledTime   string        `json:"scheduledTime"`
	Status          SessionStatus `json:"status"`
	StartTime       *time.Time    `json:"startTime"`
	EndTime         *time.Time    `json:"endTime"`
	Duration        *int          `json:"duration"`
	PlannedDuration int           `json:"plannedDuration"`
	PreVitals       *Vitals       `json:"preVitals"`
	PostVitals      *Vitals       `json:"postVitals"`
	DuringVitals    []Checkpoint  `json:"duringVitals"`
	Complications   string        `json:"complications"`
	Notes           string        `json:"notes"`
	CreatedBy       string        `json:"createdBy,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	CancelledAt     *time.Time    `json:"cancelledAt,omitempty"`
}

// Normalize makes documents written by older clients consistent: a stored
// duration on a session that never completed was the planned length, and
// checkpoints are kept in checkTime order.
func (s *DialysisSession) Normalize() {
	if s.Status != SessionStatusCompleted && s.Duration != nil {
		if s.PlannedDuration == 0 {
			s.PlannedDuration = *s.Duration
		}
		s.Duration = nil
	}
	if s.Status == SessionStatusCompleted && s.StartTime != nil && s.EndTime != nil {
		d := DurationMinutes(*s.StartTime, *s.EndTime)
		s.Duration = &d
	}
	if s.PlannedDuration == 0 {
		s.PlannedDuration = DefaultPlannedDuration
	}
	SortCheckpoints(s.DuringVitals)
}

// Slot returns the booking key of the session.
func (s DialysisSession) Slot() Slot {
	return Slot{Date: s.SessionDate, Time: s.ScheduledTime}
}

// DurationMinutes is end - start rounded to whole minutes.
func DurationMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// SortCheckpoints orders checkpoints by checkTime ascending.
func SortCheckpoints(cps []Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		return cps[i].CheckTime.Before(cps[j].CheckTime)
	})
}
