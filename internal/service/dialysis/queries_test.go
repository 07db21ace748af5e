package dialysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-ops/internal/model"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

func TestListSessionsAndSlots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	maria := f.patient(t, "Maria Santos")
	jose := f.patient(t, "Jose Cruz")
	m1 := f.machine(t, "1")
	m2 := f.machine(t, "2")

	late := f.schedule(t, maria, m1, "2026-02-09", "13:00")
	early := f.schedule(t, maria, m2, "2026-02-09", "08:00")
	joseEarly := f.schedule(t, jose, m1, "2026-02-09", "08:00")
	f.schedule(t, jose, m2, "2026-02-10", "08:00")
	require.NoError(t, f.svc.CancelSession(ctx, joseEarly))

	onDate, err := f.svc.ListSessions(ctx, SessionFilter{Date: "2026-02-09"})
	require.NoError(t, err)
	require.Len(t, onDate, 3)
	assert.Equal(t, "08:00", onDate[0].ScheduledTime)
	assert.Equal(t, "13:00", onDate[2].ScheduledTime)
	assert.Equal(t, late, onDate[2].ID)

	mariaOnly, err := f.svc.ListSessions(ctx, SessionFilter{PatientID: maria, Status: model.SessionStatusScheduled})
	require.NoError(t, err)
	assert.Len(t, mariaOnly, 2)

	cancelled, err := f.svc.ListSessions(ctx, SessionFilter{Status: model.SessionStatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, joseEarly, cancelled[0].ID)

	slot, err := f.svc.SessionsForSlot(ctx, "2026-02-09", "08:00")
	require.NoError(t, err)
	require.Len(t, slot, 1, "cancelled bookings free the slot")
	assert.Equal(t, early, slot[0].ID)

	_, err = f.svc.SessionsForSlot(ctx, "09/02/2026", "08:00")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestPatientHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	maria := f.patient(t, "Maria Santos")
	machineID := f.machine(t, "1")

	for day := 1; day <= 12; day++ {
		f.schedule(t, maria, machineID, fmt.Sprintf("2026-01-%02d", day), "08:00")
	}

	history, err := f.svc.PatientHistory(ctx, maria)
	require.NoError(t, err)
	require.Len(t, history, HistoryLimit)
	assert.Equal(t, "2026-01-12", history[0].SessionDate)
	assert.Equal(t, "2026-01-03", history[HistoryLimit-1].SessionDate)

	_, err = f.svc.PatientHistory(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestReport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	maria := f.patient(t, "Maria Santos")
	jose := f.patient(t, "Jose Cruz")
	ana := f.patient(t, "Ana Reyes")
	m1 := f.machine(t, "1")
	m2 := f.machine(t, "2")
	m3 := f.machine(t, "3")
	require.NoError(t, f.svc.SetMachineStatus(ctx, m3, model.MachineStatusMaintenance, nil))
	require.NoError(t, f.svc.DeactivatePatient(ctx, ana))

	lastMonth := f.schedule(t, maria, m1, "2026-01-30", "08:00")
	require.NoError(t, f.svc.StartSession(ctx, lastMonth, preVitals))
	f.clock.Advance(4 * time.Hour)
	require.NoError(t, f.svc.EndSession(ctx, lastMonth, EndRequest{PostVitals: postVitals}))

	today := f.schedule(t, maria, m1, "2026-02-08", "13:00")
	require.NoError(t, f.svc.StartSession(ctx, today, preVitals))
	f.clock.Advance(3 * time.Hour)
	require.NoError(t, f.svc.EndSession(ctx, today, EndRequest{PostVitals: postVitals}))

	running := f.schedule(t, jose, m2, "2026-02-08", "13:00")
	require.NoError(t, f.svc.StartSession(ctx, running, preVitals))

	f.schedule(t, jose, m1, "2026-02-09", "08:00")
	cancelled := f.schedule(t, maria, m2, "2026-02-10", "08:00")
	require.NoError(t, f.svc.CancelSession(ctx, cancelled))

	r, err := f.svc.Report(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, r.Sessions.Total)
	assert.Equal(t, 1, r.Sessions.Scheduled)
	assert.Equal(t, 1, r.Sessions.Active)
	assert.Equal(t, 2, r.Sessions.Completed)
	assert.Equal(t, 1, r.Sessions.Cancelled)
	assert.Equal(t, 4, r.Sessions.ThisMonth)
	assert.Equal(t, 210.0, r.AverageDuration)

	assert.Equal(t, 3, r.Patients.Total)
	assert.Equal(t, 2, r.Patients.Active)
	assert.Equal(t, 1, r.Patients.Inactive)

	assert.Equal(t, 3, r.Machines.Total)
	assert.Equal(t, 1, r.Machines.Available)
	assert.Equal(t, 1, r.Machines.InUse)
	assert.Equal(t, 1, r.Machines.Maintenance)
	assert.Equal(t, 33.3, r.Machines.Utilization)

	require.Len(t, r.TopPatients, 2)
	assert.Equal(t, model.RankedCount{Name: "Maria Santos", Count: 3}, r.TopPatients[0])
	assert.Equal(t, model.RankedCount{Name: "Jose Cruz", Count: 2}, r.TopPatients[1])
	require.Len(t, r.TopMachines, 2)
	assert.Equal(t, model.RankedCount{Name: "HD-1", Count: 3}, r.TopMachines[0])
	assert.Equal(t, model.RankedCount{Name: "HD-2", Count: 2}, r.TopMachines[1])
}

func TestTopN(t *testing.T) {
	ranked := topN(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	assert.Equal(t, []model.RankedCount{{Name: "c", Count: 5}, {Name: "a", Count: 2}, {Name: "b", Count: 2}}, ranked)
}
