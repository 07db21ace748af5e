package dialysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

type ScheduleRequest struct {
	PatientID       string `json:"patientId" binding:"required"`
	MachineID       string `json:"machineId" binding:"required"`
	SessionDate     string `json:"sessionDate" binding:"required,isodate"`
	ScheduledTime   string `json:"scheduledTime" binding:"required,hhmm"`
	DurationMinutes int    `json:"duration" binding:"omitempty,gt=0,lte=720"`
	Notes           string `json:"notes"`
}

// VitalsInput is a pre- or post-treatment reading as entered at the chair.
type VitalsInput struct {
	Weight      float64 `json:"weight" binding:"required,gt=0"`
	Temp        float64 `json:"temp" binding:"required,gt=0"`
	Pulse       int     `json:"pulse" binding:"required,gt=0"`
	BPSystolic  int     `json:"bpSystolic" binding:"required,gt=0"`
	BPDiastolic int     `json:"bpDiastolic" binding:"required,gt=0"`
}

func (in VitalsInput) validate() error {
	if in.Weight <= 0 || in.Temp <= 0 || in.Pulse <= 0 || in.BPSystolic <= 0 || in.BPDiastolic <= 0 {
		return apperrors.BadRequest("weight, temperature, pulse and blood pressure are required", nil)
	}
	return nil
}

func (in VitalsInput) at(t time.Time) model.Vitals {
	return model.Vitals{
		Weight:      in.Weight,
		Temp:        in.Temp,
		Pulse:       in.Pulse,
		BPSystolic:  in.BPSystolic,
		BPDiastolic: in.BPDiastolic,
		RecordedAt:  t,
	}
}

type EndRequest struct {
	PostVitals    VitalsInput `json:"postVitals" binding:"required"`
	Complications string      `json:"complications"`
	Notes         string      `json:"notes"`
}

type CheckpointInput struct {
	// CheckTime defaults to the server time of the write.
	CheckTime           *time.Time `json:"checkTime"`
	BloodPressure       string     `json:"bloodPressure" binding:"required"`
	Pulse               int        `json:"pulse" binding:"required,gt=0"`
	Temperature         float64    `json:"temperature" binding:"required,gt=0"`
	UltrafiltrationRate string     `json:"ultrafiltrationRate"`
	Notes               string     `json:"notes"`
	Complications       string     `json:"complications"`
}

// transition runs fn as one transaction and records the outcome under the
// target status.
func (s *Service) transition(ctx context.Context, to model.SessionStatus, fn func(tx repository.Transaction) error) (err error) {
	defer func() {
		s.metrics.SessionTransitions.WithLabelValues(string(to), metrics.Result(err)).Inc()
	}()
	return s.store.RunTransaction(ctx, fn)
}

// requireStatus fails with InvalidStateTransition unless the state machine
// allows sess to move to `to`.
func requireStatus(sess model.DialysisSession, to model.SessionStatus) error {
	if !model.CanTransition(sess.Status, to) {
		return apperrors.InvalidStateTransition("session "+sess.ID, string(sess.Status), string(to))
	}
	return nil
}

// ScheduleSession books a machine slot for a patient. The slot check and the
// insert share one transaction.
func (s *Service) ScheduleSession(ctx context.Context, req ScheduleRequest, actor string) (string, error) {
	slot, err := model.ParseSlot(req.SessionDate, req.ScheduledTime)
	if err != nil {
		return "", apperrors.BadRequest(err.Error(), nil)
	}
	if req.PatientID == "" || req.MachineID == "" {
		return "", apperrors.BadRequest("patient and machine are required", nil)
	}
	planned := req.DurationMinutes
	if planned < 0 {
		return "", apperrors.BadRequest("duration must be positive", nil)
	}
	if planned == 0 {
		planned = model.DefaultPlannedDuration
	}

	id := uuid.NewString()
	err = s.transition(ctx, model.SessionStatusScheduled, func(tx repository.Transaction) error {
		patient, err := loadPatient(tx, req.PatientID)
		if err != nil {
			return err
		}
		if patient.Status != model.PatientStatusActive {
			return apperrors.InvalidStateTransition("patient "+patient.ID, string(patient.Status), string(model.SessionStatusScheduled))
		}
		machine, err := loadMachine(tx, req.MachineID)
		if err != nil {
			return err
		}
		if machine.Status == model.MachineStatusMaintenance {
			return apperrors.InvalidStateTransition("machine "+machine.Label(), string(machine.Status), string(model.SessionStatusScheduled))
		}

		taken, err := slotTaken(tx, "machineId", machine.ID, slot)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict(fmt.Sprintf("%s is already booked for %s %s", machine.Label(), slot.Date, slot.Time))
		}
		taken, err = slotTaken(tx, "patientId", patient.ID, slot)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.Conflict(fmt.Sprintf("%s already has a session at %s %s", patient.Name, slot.Date, slot.Time))
		}

		now := tx.ServerTime()
		sess := model.DialysisSession{
			ID:              id,
			PatientID:       patient.ID,
			PatientName:     patient.Name,
			MachineID:       machine.ID,
			MachineNumber:   machine.MachineNumber,
			SessionDate:     slot.Date,
			ScheduledTime:   slot.Time,
			Status:          model.SessionStatusScheduled,
			PlannedDuration: planned,
			DuringVitals:    []model.Checkpoint{},
			Notes:           req.Notes,
			CreatedBy:       actor,
			CreatedAt:       now,
		}
		fields, err := repository.EncodeFields(sess)
		if err != nil {
			return err
		}
		if err := tx.Set(repository.CollectionDialysisSessions, id, fields, repository.SetOptions{}); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		_, err = event.Stage(tx, model.EventSessionScheduled, sessionEvent(sess))
		return err
	})
	if err != nil {
		s.logger.Error(err, "Failed to schedule session", "patient_id", req.PatientID, "machine_id", req.MachineID)
		return "", err
	}

	s.logger.Info("Session scheduled", "session_id", id, "date", slot.Date, "time", slot.Time)
	return id, nil
}

// slotTaken reports whether a non-cancelled session with field == value
// already holds slot.
func slotTaken(tx repository.Transaction, field, value string, slot model.Slot) (bool, error) {
	docs, err := tx.Query(repository.CollectionDialysisSessions, repository.Query{
		Filters: []repository.Filter{
			repository.Where(field, repository.OpEqual, value),
			repository.Where("sessionDate", repository.OpEqual, slot.Date),
			repository.Where("scheduledTime", repository.OpEqual, slot.Time),
			repository.Where("status", repository.OpNotEqual, string(model.SessionStatusCancelled)),
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return len(docs) > 0, nil
}

// StartSession puts the patient on the machine. Session and machine change
// together or not at all.
func (s *Service) StartSession(ctx context.Context, id string, pre VitalsInput) error {
	if err := pre.validate(); err != nil {
		return err
	}

	err := s.transition(ctx, model.SessionStatusActive, func(tx repository.Transaction) error {
		sess, err := loadSession(tx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(sess, model.SessionStatusActive); err != nil {
			return err
		}
		machine, err := loadMachine(tx, sess.MachineID)
		if err != nil {
			return err
		}
		if machine.Status != model.MachineStatusAvailable {
			return apperrors.InvalidStateTransition("machine "+machine.Label(), string(machine.Status), string(model.MachineStatusInUse))
		}

		now := tx.ServerTime()
		if err := tx.Update(repository.CollectionDialysisSessions, id, map[string]interface{}{
			"status":          string(model.SessionStatusActive),
			"startTime":       now,
			"preVitals":       pre.at(now),
			"plannedDuration": sess.PlannedDuration,
			"duration":        nil,
		}); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		if err := tx.Update(repository.CollectionDialysisMachines, machine.ID, map[string]interface{}{
			"status":             string(model.MachineStatusInUse),
			"currentPatientName": sess.PatientName,
			"updatedAt":          now,
		}); err != nil {
			return fmt.Errorf("failed to allocate machine: %w", err)
		}

		sess.Status = model.SessionStatusActive
		sess.StartTime = &now
		_, err = event.Stage(tx, model.EventSessionStarted, sessionEvent(sess))
		return err
	})
	if err != nil {
		s.logger.Error(err, "Failed to start session", "session_id", id)
		return err
	}

	s.logger.Info("Session started", "session_id", id)
	return nil
}

// EndSession completes an active session, derives its duration from the
// server clock and frees the machine.
func (s *Service) EndSession(ctx context.Context, id string, req EndRequest) error {
	if err := req.PostVitals.validate(); err != nil {
		return err
	}

	var completed model.DialysisSession
	err := s.transition(ctx, model.SessionStatusCompleted, func(tx repository.Transaction) error {
		sess, err := loadSession(tx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(sess, model.SessionStatusCompleted); err != nil {
			return err
		}
		if sess.StartTime == nil {
			return apperrors.Internal(fmt.Errorf("active session %s has no start time", id))
		}
		machine, err := loadMachine(tx, sess.MachineID)
		if err != nil {
			return err
		}

		now := tx.ServerTime()
		duration := model.DurationMinutes(*sess.StartTime, now)
		complications := strings.TrimSpace(req.Complications)
		if err := tx.Update(repository.CollectionDialysisSessions, id, map[string]interface{}{
			"status":        string(model.SessionStatusCompleted),
			"endTime":       now,
			"duration":      duration,
			"postVitals":    req.PostVitals.at(now),
			"complications": complications,
			"notes":         req.Notes,
		}); err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		if err := tx.Update(repository.CollectionDialysisMachines, machine.ID, map[string]interface{}{
			"status":             string(model.MachineStatusAvailable),
			"currentPatientName": nil,
			"updatedAt":          now,
		}); err != nil {
			return fmt.Errorf("failed to release machine: %w", err)
		}
		if _, err := tx.Get(repository.CollectionDialysisPatients, sess.PatientID); err == nil {
			if err := tx.Update(repository.CollectionDialysisPatients, sess.PatientID, map[string]interface{}{
				"lastSessionAt": now,
				"updatedAt":     now,
			}); err != nil {
				return fmt.Errorf("failed to update patient: %w", err)
			}
		} else if !apperrors.IsCode(err, apperrors.ErrNotFound) {
			return err
		}

		sess.Status = model.SessionStatusCompleted
		sess.EndTime = &now
		sess.Duration = &duration
		sess.Complications = complications
		sess.Notes = req.Notes
		completed = sess
		_, err = event.Stage(tx, model.EventSessionCompleted, sessionEvent(sess))
		return err
	})
	if err != nil {
		s.logger.Error(err, "Failed to end session", "session_id", id)
		return err
	}

	s.metrics.SessionDuration.Observe(float64(*completed.Duration))
	s.logger.Info("Session completed", "session_id", id, "duration", *completed.Duration)
	if s.notifier != nil && completed.Complications != "" {
		if err := s.notifier.NotifyComplication(ctx, completed); err != nil {
			s.logger.Error(err, "Failed to queue complication alert", "session_id", id)
		}
	}
	return nil
}

// RecordMonitoringCheckpoint appends an hourly reading to an active session.
func (s *Service) RecordMonitoringCheckpoint(ctx context.Context, id string, in CheckpointInput, actor string) (string, error) {
	if in.Pulse <= 0 || in.Temperature <= 0 || strings.TrimSpace(in.BloodPressure) == "" {
		return "", apperrors.BadRequest("blood pressure, pulse and temperature are required", nil)
	}

	checkpointID := uuid.NewString()
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		sess, err := loadSession(tx, id)
		if err != nil {
			return err
		}
		if sess.Status != model.SessionStatusActive {
			return apperrors.InvalidStateTransition("session "+sess.ID, string(sess.Status), "monitoring")
		}

		checkTime := tx.ServerTime()
		if in.CheckTime != nil {
			checkTime = in.CheckTime.UTC()
		}
		cp := model.Checkpoint{
			ID:                  checkpointID,
			CheckTime:           checkTime,
			BloodPressure:       strings.TrimSpace(in.BloodPressure),
			Pulse:               in.Pulse,
			Temperature:         in.Temperature,
			UltrafiltrationRate: in.UltrafiltrationRate,
			Notes:               in.Notes,
			Complications:       in.Complications,
			RecordedBy:          actor,
		}
		checkpoints := append(append([]model.Checkpoint{}, sess.DuringVitals...), cp)
		model.SortCheckpoints(checkpoints)

		if err := tx.Update(repository.CollectionDialysisSessions, id, map[string]interface{}{
			"duringVitals": checkpoints,
		}); err != nil {
			return fmt.Errorf("failed to record checkpoint: %w", err)
		}
		_, err = event.Stage(tx, model.EventSessionCheckpoint, map[string]interface{}{
			"sessionId":    id,
			"checkpointId": checkpointID,
			"checkTime":    checkTime,
		})
		return err
	})
	if err != nil {
		s.logger.Error(err, "Failed to record checkpoint", "session_id", id)
		return "", err
	}
	return checkpointID, nil
}

// CancelSession withdraws a booking that has not started.
func (s *Service) CancelSession(ctx context.Context, id string) error {
	err := s.transition(ctx, model.SessionStatusCancelled, func(tx repository.Transaction) error {
		sess, err := loadSession(tx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(sess, model.SessionStatusCancelled); err != nil {
			return err
		}

		now := tx.ServerTime()
		if err := tx.Update(repository.CollectionDialysisSessions, id, map[string]interface{}{
			"status":      string(model.SessionStatusCancelled),
			"cancelledAt": now,
		}); err != nil {
			return fmt.Errorf("failed to cancel session: %w", err)
		}
		sess.Status = model.SessionStatusCancelled
		_, err = event.Stage(tx, model.EventSessionCancelled, sessionEvent(sess))
		return err
	})
	if err != nil {
		s.logger.Error(err, "Failed to cancel session", "session_id", id)
		return err
	}

	s.logger.Info("Session cancelled", "session_id", id)
	return nil
}

func sessionEvent(sess model.DialysisSession) map[string]interface{} {
	payload := map[string]interface{}{
		"sessionId":     sess.ID,
		"patientId":     sess.PatientID,
		"patientName":   sess.PatientName,
		"machineId":     sess.MachineID,
		"machineNumber": sess.MachineNumber,
		"sessionDate":   sess.SessionDate,
		"scheduledTime": sess.ScheduledTime,
		"status":        sess.Status,
	}
	if sess.StartTime != nil {
		payload["startTime"] = *sess.StartTime
	}
	if sess.EndTime != nil {
		payload["endTime"] = *sess.EndTime
	}
	if sess.Duration != nil {
		payload["duration"] = *sess.Duration
	}
	if sess.Complications != "" {
		payload["complications"] = sess.Complications
	}
	return payload
}
