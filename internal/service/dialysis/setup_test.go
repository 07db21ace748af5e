package dialysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/repository/memory"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []model.DialysisSession
}

func (n *recordingNotifier) NotifyComplication(_ context.Context, sess model.DialysisSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, sess)
	return nil
}

func (n *recordingNotifier) sent() []model.DialysisSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.DialysisSession(nil), n.sessions...)
}

var shiftStart = time.Date(2026, 2, 8, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *testClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: shiftStart}
	store := memory.NewStore(memory.WithClock(clock.Now))
	notifier := &recordingNotifier{}
	m := metrics.New("dialysis_test")
	svc := NewService(store, Options{CacheTTL: time.Minute, Notifier: notifier, Metrics: m})
	require.NoError(t, svc.Watch(context.Background()))
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: store, clock: clock, notifier: notifier, metrics: m}
}

func (f *fixture) patient(t *testing.T, name string) string {
	t.Helper()
	p, err := f.svc.RegisterPatient(context.Background(), PatientInput{
		Name:       name,
		Age:        58,
		Gender:     "F",
		DryWeight:  61.5,
		AccessType: model.AccessTypeAVF,
	})
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) machine(t *testing.T, number string) string {
	t.Helper()
	m, err := f.svc.RegisterMachine(context.Background(), MachineInput{MachineNumber: number, Brand: "Fresenius", Model: "5008S"})
	require.NoError(t, err)
	return m.ID
}

func (f *fixture) schedule(t *testing.T, patientID, machineID, date, clock string) string {
	t.Helper()
	id, err := f.svc.ScheduleSession(context.Background(), ScheduleRequest{
		PatientID:     patientID,
		MachineID:     machineID,
		SessionDate:   date,
		ScheduledTime: clock,
	}, "RN Lopez")
	require.NoError(t, err)
	return id
}

func (f *fixture) events(t *testing.T, eventType string) []repository.Document {
	t.Helper()
	docs, err := f.store.Query(context.Background(), repository.CollectionOutbox, repository.Query{
		Filters: []repository.Filter{repository.Where("eventType", repository.OpEqual, eventType)},
	})
	require.NoError(t, err)
	return docs
}

var preVitals = VitalsInput{Weight: 64.2, Temp: 36.7, Pulse: 78, BPSystolic: 142, BPDiastolic: 88}

var postVitals = VitalsInput{Weight: 61.8, Temp: 36.5, Pulse: 74, BPSystolic: 128, BPDiastolic: 80}
