package dialysis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

type MachineInput struct {
	MachineNumber     string     `json:"machineNumber" binding:"required"`
	Brand             string     `json:"brand"`
	Model             string     `json:"model"`
	SerialNumber      string     `json:"serialNumber"`
	Location          string     `json:"location"`
	Notes             string     `json:"notes"`
	LastMaintenanceAt *time.Time `json:"lastMaintenanceAt"`
	NextMaintenanceAt *time.Time `json:"nextMaintenanceAt"`
}

// fields leaves out maintenance dates the caller did not send, so an edit
// keeps the ones stamped by SetMachineStatus.
func (in MachineInput) fields() map[string]interface{} {
	fields := map[string]interface{}{
		"machineNumber": strings.TrimSpace(in.MachineNumber),
		"brand":         in.Brand,
		"model":         in.Model,
		"serialNumber":  in.SerialNumber,
		"location":      in.Location,
		"notes":         in.Notes,
	}
	if in.LastMaintenanceAt != nil {
		fields["lastMaintenanceAt"] = in.LastMaintenanceAt.UTC()
	}
	if in.NextMaintenanceAt != nil {
		fields["nextMaintenanceAt"] = in.NextMaintenanceAt.UTC()
	}
	return fields
}

// ensureUniqueNumber fails with Conflict when another machine carries number.
func ensureUniqueNumber(tx repository.Transaction, number, selfID string) error {
	docs, err := tx.Query(repository.CollectionDialysisMachines, repository.Query{
		Filters: []repository.Filter{repository.Where("machineNumber", repository.OpEqual, number)},
	})
	if err != nil {
		return fmt.Errorf("failed to check machine number: %w", err)
	}
	for _, doc := range docs {
		if doc.ID != selfID {
			return apperrors.Conflict(fmt.Sprintf("machine HD-%s already exists", number))
		}
	}
	return nil
}

func (s *Service) RegisterMachine(ctx context.Context, in MachineInput) (*model.DialysisMachine, error) {
	if strings.TrimSpace(in.MachineNumber) == "" {
		return nil, apperrors.BadRequest("machine number is required", nil)
	}

	id := uuid.NewString()
	var created model.DialysisMachine
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		if err := ensureUniqueNumber(tx, strings.TrimSpace(in.MachineNumber), ""); err != nil {
			return err
		}
		now := tx.ServerTime()
		fields := in.fields()
		fields["status"] = string(model.MachineStatusAvailable)
		fields["currentPatientName"] = nil
		for _, key := range []string{"lastMaintenanceAt", "nextMaintenanceAt"} {
			if _, ok := fields[key]; !ok {
				fields[key] = nil
			}
		}
		fields["createdAt"] = now
		fields["updatedAt"] = now
		if err := tx.Set(repository.CollectionDialysisMachines, id, fields, repository.SetOptions{}); err != nil {
			return fmt.Errorf("failed to create machine: %w", err)
		}
		var err error
		created, err = loadMachine(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Dialysis machine registered", "machine_id", id, "machine_number", created.MachineNumber)
	return &created, nil
}

// UpdateMachine edits descriptive fields. Status and the current patient are
// owned by the session life-cycle and SetMachineStatus.
func (s *Service) UpdateMachine(ctx context.Context, id string, in MachineInput) (*model.DialysisMachine, error) {
	if strings.TrimSpace(in.MachineNumber) == "" {
		return nil, apperrors.BadRequest("machine number is required", nil)
	}

	var updated model.DialysisMachine
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		if _, err := loadMachine(tx, id); err != nil {
			return err
		}
		if err := ensureUniqueNumber(tx, strings.TrimSpace(in.MachineNumber), id); err != nil {
			return err
		}
		fields := in.fields()
		fields["updatedAt"] = tx.ServerTime()
		if err := tx.Update(repository.CollectionDialysisMachines, id, fields); err != nil {
			return fmt.Errorf("failed to update machine: %w", err)
		}
		var err error
		updated, err = loadMachine(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SetMachineStatus moves a machine between available and maintenance. A
// machine running a session cannot be touched. Returning from maintenance
// stamps lastMaintenanceAt.
func (s *Service) SetMachineStatus(ctx context.Context, id string, status model.MachineStatus, nextMaintenanceAt *time.Time) error {
	if status != model.MachineStatusAvailable && status != model.MachineStatusMaintenance {
		return apperrors.BadRequest(fmt.Sprintf("machine status %q cannot be set directly", status), nil)
	}

	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		machine, err := loadMachine(tx, id)
		if err != nil {
			return err
		}
		if machine.Status == model.MachineStatusInUse {
			return apperrors.InvalidStateTransition("machine", string(machine.Status), string(status))
		}
		if machine.Status == status && nextMaintenanceAt == nil {
			return nil
		}

		now := tx.ServerTime()
		fields := map[string]interface{}{
			"status":             string(status),
			"currentPatientName": nil,
			"updatedAt":          now,
		}
		if machine.Status == model.MachineStatusMaintenance && status == model.MachineStatusAvailable {
			fields["lastMaintenanceAt"] = now
		}
		if nextMaintenanceAt != nil {
			fields["nextMaintenanceAt"] = nextMaintenanceAt.UTC()
		}
		return tx.Update(repository.CollectionDialysisMachines, id, fields)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Dialysis machine status changed", "machine_id", id, "status", status)
	return nil
}

func (s *Service) GetMachine(ctx context.Context, id string) (*model.DialysisMachine, error) {
	m, err := getOne(ctx, s.store, repository.CollectionDialysisMachines, id, "machine", decodeMachine)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMachines returns machines in machine-number order, numerically where
// the numbers are numeric.
func (s *Service) ListMachines(ctx context.Context) ([]model.DialysisMachine, error) {
	all, err := s.allMachines(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return machineNumberLess(all[i].MachineNumber, all[j].MachineNumber)
	})
	return all, nil
}

func machineNumberLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
