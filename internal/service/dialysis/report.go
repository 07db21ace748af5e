package dialysis

import (
	"context"
	"math"
	"sort"

	"github.com/jwalitptl/clinic-ops/internal/model"
)

// TopN is the length of the ranked tables in the report.
const TopN = 5

// Report summarizes sessions, patients and machines. ThisMonth counts
// sessions dated on or after the first of the current month by the store
// clock, bookings ahead included.
func (s *Service) Report(ctx context.Context) (*model.DialysisReport, error) {
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.allSessions(ctx)
	if err != nil {
		return nil, err
	}
	patients, err := s.allPatients(ctx)
	if err != nil {
		return nil, err
	}
	machines, err := s.allMachines(ctx)
	if err != nil {
		return nil, err
	}

	var r model.DialysisReport
	monthStart := now.Format("2006-01") + "-01"
	byPatient := make(map[string]int)
	byMachine := make(map[string]int)
	var totalMinutes, completedWithDuration int

	r.Sessions.Total = len(sessions)
	for _, sess := range sessions {
		switch sess.Status {
		case model.SessionStatusScheduled:
			r.Sessions.Scheduled++
		case model.SessionStatusActive:
			r.Sessions.Active++
		case model.SessionStatusCompleted:
			r.Sessions.Completed++
			if sess.Duration != nil {
				totalMinutes += *sess.Duration
				completedWithDuration++
			}
		case model.SessionStatusCancelled:
			r.Sessions.Cancelled++
		}
		if sess.SessionDate >= monthStart {
			r.Sessions.ThisMonth++
		}
		if sess.PatientName != "" {
			byPatient[sess.PatientName]++
		}
		if sess.MachineNumber != "" {
			byMachine["HD-"+sess.MachineNumber]++
		}
	}
	if completedWithDuration > 0 {
		r.AverageDuration = round1(float64(totalMinutes) / float64(completedWithDuration))
	}

	r.Patients.Total = len(patients)
	for _, p := range patients {
		if p.Status == model.PatientStatusActive {
			r.Patients.Active++
		} else {
			r.Patients.Inactive++
		}
	}

	r.Machines.Total = len(machines)
	for _, m := range machines {
		switch m.Status {
		case model.MachineStatusAvailable:
			r.Machines.Available++
		case model.MachineStatusInUse:
			r.Machines.InUse++
		case model.MachineStatusMaintenance:
			r.Machines.Maintenance++
		}
	}
	if r.Machines.Total > 0 {
		r.Machines.Utilization = round1(float64(r.Machines.InUse) * 100 / float64(r.Machines.Total))
	}

	r.TopPatients = topN(byPatient, TopN)
	r.TopMachines = topN(byMachine, TopN)
	return &r, nil
}

func topN(counts map[string]int, n int) []model.RankedCount {
	out := make([]model.RankedCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, model.RankedCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
