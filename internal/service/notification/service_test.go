package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
)

type fakeEmail struct {
	mu       sync.Mutex
	calls    int
	failures int
	subjects []string
}

func (f *fakeEmail) SendCustom(_ context.Context, _ string, subject string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp unavailable")
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeEmail) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func session(complications string) model.DialysisSession {
	d := 240
	return model.DialysisSession{
		ID: "s-1", PatientName: "Maria Santos", MachineNumber: "3",
		SessionDate: "2026-02-08", ScheduledTime: "08:00", Duration: &d,
		Complications: complications,
	}
}

func TestNotifyComplication_SendsWithRetry(t *testing.T) {
	mail := &fakeEmail{failures: 1}
	svc := NewService(mail, "charge@clinic.test", logger.Nop()).(*service)
	svc.delay = time.Millisecond

	assert.NoError(t, svc.NotifyComplication(context.Background(), session("Hypotension at hour 2")))
	assert.Eventually(t, func() bool { return len(mail.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Dialysis complication: Maria Santos (HD-3)", mail.sent()[0])
}

func TestNotifyComplication_SkipsWithoutComplications(t *testing.T) {
	mail := &fakeEmail{}
	svc := NewService(mail, "charge@clinic.test", logger.Nop())
	assert.NoError(t, svc.NotifyComplication(context.Background(), session("  ")))

	svc = NewService(mail, "", logger.Nop())
	assert.NoError(t, svc.NotifyComplication(context.Background(), session("Cramping")))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mail.sent())
}

func TestComposeAlert(t *testing.T) {
	_, body := composeAlert(session("Cramping"))
	assert.Contains(t, body, "Machine: HD-3")
	assert.Contains(t, body, "Duration: 240 minutes")
	assert.Contains(t, body, "Cramping")
}
