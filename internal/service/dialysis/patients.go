package dialysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

type PatientInput struct {
	Name             string           `json:"name" binding:"required"`
	Age              int              `json:"age" binding:"gte=0,lte=130"`
	Gender           string           `json:"gender"`
	DialysisSchedule string           `json:"dialysisSchedule"`
	DryWeight        float64          `json:"dryWeight" binding:"gte=0"`
	AccessType       model.AccessType `json:"accessType" binding:"required,oneof=AVF AVG Catheter"`
	Diagnosis        string           `json:"diagnosis"`
	Notes            string           `json:"notes"`
}

func (in PatientInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.BadRequest("patient name is required", nil)
	}
	if !in.AccessType.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("invalid access type %q", in.AccessType), nil)
	}
	if in.Age < 0 || in.DryWeight < 0 {
		return apperrors.BadRequest("age and dry weight must not be negative", nil)
	}
	return nil
}

func (in PatientInput) fields() map[string]interface{} {
	return map[string]interface{}{
		"name":             strings.TrimSpace(in.Name),
		"age":              in.Age,
		"gender":           in.Gender,
		"dialysisSchedule": in.DialysisSchedule,
		"dryWeight":        in.DryWeight,
		"accessType":       string(in.AccessType),
		"diagnosis":        in.Diagnosis,
		"notes":            in.Notes,
	}
}

func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (*model.DialysisPatient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var created model.DialysisPatient
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		now := tx.ServerTime()
		fields := in.fields()
		fields["status"] = string(model.PatientStatusActive)
		fields["lastSessionAt"] = nil
		fields["createdAt"] = now
		fields["updatedAt"] = now
		if err := tx.Set(repository.CollectionDialysisPatients, id, fields, repository.SetOptions{}); err != nil {
			return fmt.Errorf("failed to create patient: %w", err)
		}
		var err error
		created, err = loadPatient(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dialysis patient registered", "patient_id", id)
	return &created, nil
}

func (s *Service) UpdatePatient(ctx context.Context, id string, in PatientInput) (*model.DialysisPatient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated model.DialysisPatient
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		if _, err := loadPatient(tx, id); err != nil {
			return err
		}
		fields := in.fields()
		fields["updatedAt"] = tx.ServerTime()
		if err := tx.Update(repository.CollectionDialysisPatients, id, fields); err != nil {
			return fmt.Errorf("failed to update patient: %w", err)
		}
		var err error
		updated, err = loadPatient(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeactivatePatient is the registry's delete: the record stays so session
// history keeps resolving.
func (s *Service) DeactivatePatient(ctx context.Context, id string) error {
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		patient, err := loadPatient(tx, id)
		if err != nil {
			return err
		}
		if patient.Status == model.PatientStatusInactive {
			return nil
		}
		return tx.Update(repository.CollectionDialysisPatients, id, map[string]interface{}{
			"status":    string(model.PatientStatusInactive),
			"updatedAt": tx.ServerTime(),
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("Dialysis patient deactivated", "patient_id", id)
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*model.DialysisPatient, error) {
	p, err := getOne(ctx, s.store, repository.CollectionDialysisPatients, id, "patient", decodePatient)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPatients returns patients sorted by name. An empty status lists all.
func (s *Service) ListPatients(ctx context.Context, status model.PatientStatus) ([]model.DialysisPatient, error) {
	all, err := s.allPatients(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialysisPatient, 0, len(all))
	for _, p := range all {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
