// Package notification delivers complication alerts raised when a dialysis
// session ends.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/clinic-ops/internal/email"
	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
)

const (
	maxRetries = 3
	retryDelay = 5 * time.Second
)

type Service interface {
	NotifyComplication(ctx context.Context, session model.DialysisSession) error
}

type service struct {
	emailSvc  email.Service
	recipient string
	logger    *logger.Logger
	delay     time.Duration
}

// NewService alerts recipient by email. An empty recipient disables alerts.
func NewService(emailSvc email.Service, recipient string, log *logger.Logger) Service {
	return &service{
		emailSvc:  emailSvc,
		recipient: recipient,
		logger:    log,
		delay:     retryDelay,
	}
}

// NotifyComplication queues the alert and returns immediately.
func (s *service) NotifyComplication(ctx context.Context, session model.DialysisSession) error {
	if s.recipient == "" || strings.TrimSpace(session.Complications) == "" {
		return nil
	}
	subject, body := composeAlert(session)

	go s.deliver(context.WithoutCancel(ctx), session.ID, subject, body)
	return nil
}

func (s *service) deliver(ctx context.Context, sessionID, subject, body string) {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = s.emailSvc.SendCustom(ctx, s.recipient, subject, body); err == nil {
			s.logger.Info("Complication alert sent", "session_id", sessionID)
			return
		}
		if attempt < maxRetries {
			time.Sleep(s.delay)
		}
	}
	s.logger.Error(err, "Failed to send complication alert", "session_id", sessionID)
}

func composeAlert(session model.DialysisSession) (string, string) {
	subject := fmt.Sprintf("Dialysis complication: %s (HD-%s)", session.PatientName, session.MachineNumber)

	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s\n", session.PatientName)
	fmt.Fprintf(&b, "Machine: HD-%s\n", session.MachineNumber)
	fmt.Fprintf(&b, "Session: %s %s\n", session.SessionDate, session.ScheduledTime)
	if session.Duration != nil {
		fmt.Fprintf(&b, "Duration: %d minutes\n", *session.Duration)
	}
	fmt.Fprintf(&b, "\nComplications:\n%s\n", session.Complications)
	if session.Notes != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", session.Notes)
	}
	return subject, b.String()
}
