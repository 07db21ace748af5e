package dialysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-ops/internal/model"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

func TestSessionLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	patientID := f.patient(t, "Maria Santos")
	machineID := f.machine(t, "3")

	id := f.schedule(t, patientID, machineID, "2026-02-08", "08:00")
	sess, err := f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, sess.Status)
	assert.Equal(t, "Maria Santos", sess.PatientName)
	assert.Equal(t, "3", sess.MachineNumber)
	assert.Equal(t, model.DefaultPlannedDuration, sess.PlannedDuration)
	assert.Nil(t, sess.Duration)
	assert.Equal(t, "RN Lopez", sess.CreatedBy)

	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))

	sess, err = f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, sess.Status)
	require.NotNil(t, sess.StartTime)
	assert.True(t, sess.StartTime.Equal(shiftStart.Add(5*time.Minute)))
	require.NotNil(t, sess.PreVitals)
	assert.Equal(t, 142, sess.PreVitals.BPSystolic)

	machine, err := f.svc.GetMachine(ctx, machineID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineStatusInUse, machine.Status)
	require.NotNil(t, machine.CurrentPatientName)
	assert.Equal(t, "Maria Santos", *machine.CurrentPatientName)

	f.clock.Advance(time.Hour)
	_, err = f.svc.RecordMonitoringCheckpoint(ctx, id, CheckpointInput{
		BloodPressure:       "130/82",
		Pulse:               76,
		Temperature:         36.6,
		UltrafiltrationRate: "600 mL/hr",
	}, "RN Lopez")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	require.NoError(t, f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals, Complications: "  Hypotension at hour 3 ", Notes: "tolerated"}))

	sess, err = f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
	require.NotNil(t, sess.Duration)
	assert.Equal(t, 240, *sess.Duration)
	assert.Equal(t, "Hypotension at hour 3", sess.Complications)
	require.Len(t, sess.DuringVitals, 1)
	assert.Equal(t, "RN Lopez", sess.DuringVitals[0].RecordedBy)

	machine, err = f.svc.GetMachine(ctx, machineID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineStatusAvailable, machine.Status)
	assert.Nil(t, machine.CurrentPatientName)

	patient, err := f.svc.GetPatient(ctx, patientID)
	require.NoError(t, err)
	require.NotNil(t, patient.LastSessionAt)
	assert.True(t, patient.LastSessionAt.Equal(*sess.EndTime))

	alerts := f.notifier.sent()
	require.Len(t, alerts, 1)
	assert.Equal(t, id, alerts[0].ID)

	assert.Len(t, f.events(t, model.EventSessionScheduled), 1)
	assert.Len(t, f.events(t, model.EventSessionStarted), 1)
	assert.Len(t, f.events(t, model.EventSessionCheckpoint), 1)
	assert.Len(t, f.events(t, model.EventSessionCompleted), 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SessionTransitions.WithLabelValues("completed", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestEndSession_NoComplicationsSkipsAlert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.schedule(t, f.patient(t, "Jose Cruz"), f.machine(t, "1"), "2026-02-08", "08:00")

	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))
	f.clock.Advance(90 * time.Second)
	require.NoError(t, f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals}))

	sess, err := f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, *sess.Duration)
	assert.Empty(t, f.notifier.sent())
}

func TestScheduleSession_SlotConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	maria := f.patient(t, "Maria Santos")
	jose := f.patient(t, "Jose Cruz")
	m1 := f.machine(t, "1")
	m2 := f.machine(t, "2")

	first := f.schedule(t, maria, m1, "2026-02-09", "08:00")

	_, err := f.svc.ScheduleSession(ctx, ScheduleRequest{PatientID: jose, MachineID: m1, SessionDate: "2026-02-09", ScheduledTime: "08:00"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict), "machine slot taken")

	_, err = f.svc.ScheduleSession(ctx, ScheduleRequest{PatientID: maria, MachineID: m2, SessionDate: "2026-02-09", ScheduledTime: "08:00"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict), "patient slot taken")

	f.schedule(t, jose, m1, "2026-02-09", "13:00")

	require.NoError(t, f.svc.CancelSession(ctx, first))
	f.schedule(t, jose, m1, "2026-02-09", "08:00")

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.SessionTransitions.WithLabelValues("scheduled", "error")))
}

func TestScheduleSession_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	patientID := f.patient(t, "Maria Santos")
	machineID := f.machine(t, "1")

	tests := []struct {
		name string
		req  ScheduleRequest
		code apperrors.ErrorCode
	}{
		{"bad date", ScheduleRequest{PatientID: patientID, MachineID: machineID, SessionDate: "2026-02-30", ScheduledTime: "08:00"}, apperrors.ErrBadRequest},
		{"bad time", ScheduleRequest{PatientID: patientID, MachineID: machineID, SessionDate: "2026-02-09", ScheduledTime: "25:00"}, apperrors.ErrBadRequest},
		{"negative duration", ScheduleRequest{PatientID: patientID, MachineID: machineID, SessionDate: "2026-02-09", ScheduledTime: "08:00", DurationMinutes: -30}, apperrors.ErrBadRequest},
		{"unknown patient", ScheduleRequest{PatientID: "nope", MachineID: machineID, SessionDate: "2026-02-09", ScheduledTime: "08:00"}, apperrors.ErrNotFound},
		{"unknown machine", ScheduleRequest{PatientID: patientID, MachineID: "nope", SessionDate: "2026-02-09", ScheduledTime: "08:00"}, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ScheduleSession(ctx, tt.req, "")
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
		})
	}

	require.NoError(t, f.svc.SetMachineStatus(ctx, machineID, model.MachineStatusMaintenance, nil))
	_, err := f.svc.ScheduleSession(ctx, ScheduleRequest{PatientID: patientID, MachineID: machineID, SessionDate: "2026-02-09", ScheduledTime: "08:00"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition))

	require.NoError(t, f.svc.SetMachineStatus(ctx, machineID, model.MachineStatusAvailable, nil))
	require.NoError(t, f.svc.DeactivatePatient(ctx, patientID))
	_, err = f.svc.ScheduleSession(ctx, ScheduleRequest{PatientID: patientID, MachineID: machineID, SessionDate: "2026-02-09", ScheduledTime: "08:00"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition))
}

func TestStartSession_MachineBusy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	machineID := f.machine(t, "4")
	morning := f.schedule(t, f.patient(t, "Maria Santos"), machineID, "2026-02-08", "08:00")
	noon := f.schedule(t, f.patient(t, "Jose Cruz"), machineID, "2026-02-08", "12:00")

	require.NoError(t, f.svc.StartSession(ctx, morning, preVitals))

	err := f.svc.StartSession(ctx, noon, preVitals)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition))

	sess, err := f.svc.GetSession(ctx, noon)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, sess.Status, "failed start leaves the session untouched")
}

func TestSessionTransitions_Invalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.schedule(t, f.patient(t, "Maria Santos"), f.machine(t, "1"), "2026-02-08", "08:00")

	err := f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition), "end before start")

	_, err = f.svc.RecordMonitoringCheckpoint(ctx, id, CheckpointInput{BloodPressure: "120/80", Pulse: 70, Temperature: 36.5}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition), "checkpoint before start")

	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))
	err = f.svc.StartSession(ctx, id, preVitals)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition), "double start")

	err = f.svc.CancelSession(ctx, id)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition), "cancel while active")

	require.NoError(t, f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals}))
	err = f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidStateTransition), "double end")

	err = f.svc.StartSession(ctx, "missing", preVitals)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestVitalsRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.schedule(t, f.patient(t, "Maria Santos"), f.machine(t, "1"), "2026-02-08", "08:00")

	err := f.svc.StartSession(ctx, id, VitalsInput{Weight: 64})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))
	err = f.svc.EndSession(ctx, id, EndRequest{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = f.svc.RecordMonitoringCheckpoint(ctx, id, CheckpointInput{Pulse: 70, Temperature: 36.5}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestRecordMonitoringCheckpoint_KeepsTimeOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.schedule(t, f.patient(t, "Maria Santos"), f.machine(t, "1"), "2026-02-08", "08:00")
	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))

	second := shiftStart.Add(2 * time.Hour)
	first := shiftStart.Add(time.Hour)
	_, err := f.svc.RecordMonitoringCheckpoint(ctx, id, CheckpointInput{CheckTime: &second, BloodPressure: "125/80", Pulse: 72, Temperature: 36.5}, "")
	require.NoError(t, err)
	_, err = f.svc.RecordMonitoringCheckpoint(ctx, id, CheckpointInput{CheckTime: &first, BloodPressure: "130/82", Pulse: 76, Temperature: 36.6}, "")
	require.NoError(t, err)

	sess, err := f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.DuringVitals, 2)
	assert.Equal(t, "130/82", sess.DuringVitals[0].BloodPressure)
	assert.Equal(t, "125/80", sess.DuringVitals[1].BloodPressure)
}

func TestEndSession_MissingPatientStillCompletes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	patientID := f.patient(t, "Maria Santos")
	machineID := f.machine(t, "1")
	id := f.schedule(t, patientID, machineID, "2026-02-08", "08:00")
	require.NoError(t, f.svc.StartSession(ctx, id, preVitals))

	require.NoError(t, f.store.Delete(ctx, "dialysisPatients", patientID))
	require.NoError(t, f.svc.EndSession(ctx, id, EndRequest{PostVitals: postVitals}))

	machine, err := f.svc.GetMachine(ctx, machineID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineStatusAvailable, machine.Status)
}

func TestStoreUnavailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.schedule(t, f.patient(t, "Maria Santos"), f.machine(t, "1"), "2026-02-08", "08:00")

	f.store.SetUnavailable(errors.New("network down"))
	err := f.svc.StartSession(ctx, id, preVitals)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrStoreUnavailable))

	f.store.SetUnavailable(nil)
	sess, err := f.svc.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, sess.Status)
}
