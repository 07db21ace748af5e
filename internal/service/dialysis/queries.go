package dialysis

import (
	"context"
	"sort"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

// HistoryLimit is how many past sessions PatientHistory returns.
const HistoryLimit = 10

type SessionFilter struct {
	Date      string              `form:"date" binding:"omitempty,isodate"`
	Status    model.SessionStatus `form:"status" binding:"omitempty,oneof=scheduled active completed cancelled"`
	PatientID string              `form:"patientId"`
	MachineID string              `form:"machineId"`
}

func (f SessionFilter) matches(sess model.DialysisSession) bool {
	return (f.Date == "" || sess.SessionDate == f.Date) &&
		(f.Status == "" || sess.Status == f.Status) &&
		(f.PatientID == "" || sess.PatientID == f.PatientID) &&
		(f.MachineID == "" || sess.MachineID == f.MachineID)
}

func (s *Service) GetSession(ctx context.Context, id string) (*model.DialysisSession, error) {
	sess, err := getOne(ctx, s.store, repository.CollectionDialysisSessions, id, "session", decodeSession)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns matching sessions ordered by date and time.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) ([]model.DialysisSession, error) {
	all, err := s.allSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialysisSession, 0)
	for _, sess := range all {
		if f.matches(sess) {
			out = append(out, sess)
		}
	}
	sortSessions(out, false)
	return out, nil
}

// SessionsForSlot lists the bookings that hold a date and time, which is
// what the scheduling view uses to grey out machines.
func (s *Service) SessionsForSlot(ctx context.Context, date, clock string) ([]model.DialysisSession, error) {
	slot, err := model.ParseSlot(date, clock)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), nil)
	}

	docs, err := s.store.Query(ctx, repository.CollectionDialysisSessions, repository.Query{
		Filters: []repository.Filter{
			repository.Where("sessionDate", repository.OpEqual, slot.Date),
			repository.Where("scheduledTime", repository.OpEqual, slot.Time),
			repository.Where("status", repository.OpNotEqual, string(model.SessionStatusCancelled)),
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.DialysisSession, 0, len(docs))
	for _, doc := range docs {
		sess, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return machineNumberLess(out[i].MachineNumber, out[j].MachineNumber)
	})
	return out, nil
}

// PatientHistory returns the patient's most recent sessions, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientID string) ([]model.DialysisSession, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	docs, err := s.store.Query(ctx, repository.CollectionDialysisSessions, repository.Query{
		Filters: []repository.Filter{repository.Where("patientId", repository.OpEqual, patientID)},
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.DialysisSession, 0, len(docs))
	for _, doc := range docs {
		sess, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sortSessions(out, true)
	if len(out) > HistoryLimit {
		out = out[:HistoryLimit]
	}
	return out, nil
}

func sortSessions(sessions []model.DialysisSession, newestFirst bool) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.SessionDate != b.SessionDate {
			return (a.SessionDate < b.SessionDate) != newestFirst
		}
		if a.ScheduledTime != b.ScheduledTime {
			return (a.ScheduledTime < b.ScheduledTime) != newestFirst
		}
		return a.ID < b.ID
	})
}
