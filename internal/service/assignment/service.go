// Package assignment implements the "assign to me" protocol for lab and
// consult work items: one claimant at a time, with a short window to hand an
// item back.
package assignment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-ops/internal/cache"
	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

// BoardLimit caps how many of the newest items the board shows.
const BoardLimit = 50

type Options struct {
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

type Service struct {
	store   repository.DocumentStore
	metrics *metrics.Metrics
	logger  *logger.Logger
	mirror  *cache.Mirror[model.PatientAssignment]

	mu    sync.Mutex
	unsub repository.Unsubscribe
}

func NewService(store repository.DocumentStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("assignment")
	}
	return &Service{
		store:   store,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		mirror:  cache.NewMirror[model.PatientAssignment](opts.CacheTTL),
	}
}

// Watch keeps the board mirror in sync with the store.
func (s *Service) Watch(ctx context.Context) error {
	unsub, err := cache.Watch(ctx, s.store, repository.CollectionAssignments, s.mirror, decodeAssignment, s.logger, nil)
	if err != nil {
		return fmt.Errorf("failed to watch assignments: %w", err)
	}
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// decodeAssignment also reads documents written by the old intake form,
// which used "name" and left status unset.
func decodeAssignment(doc repository.Document) (model.PatientAssignment, error) {
	var a model.PatientAssignment
	if err := repository.DecodeDocument(doc, &a); err != nil {
		return a, err
	}
	if a.PatientName == "" {
		if name, ok := doc.Fields["name"].(string); ok {
			a.PatientName = name
		}
	}
	if a.Status == "" {
		a.Status = model.AssignmentStatusPending
	}
	return a, nil
}

func loadAssignment(tx repository.Transaction, id string) (model.PatientAssignment, error) {
	doc, err := tx.Get(repository.CollectionAssignments, id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			return model.PatientAssignment{}, apperrors.NotFound("assignment "+id, nil)
		}
		return model.PatientAssignment{}, err
	}
	return decodeAssignment(*doc)
}

func (s *Service) record(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if code, ok := apperrors.CodeOf(err); ok {
			outcome = strings.ToLower(code.String())
		}
	}
	s.metrics.ClaimOutcomes.WithLabelValues(operation, outcome).Inc()
}

type CreateRequest struct {
	PatientName string `json:"patientName" binding:"required"`
	LabType     string `json:"labType" binding:"required"`
	NurseOnDuty string `json:"nurseOnDuty"`
}

// Create adds a pending work item from the logbook.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.PatientAssignment, error) {
	if strings.TrimSpace(req.PatientName) == "" || strings.TrimSpace(req.LabType) == "" {
		return nil, apperrors.BadRequest("patient name and lab type are required", nil)
	}

	id := uuid.NewString()
	var created model.PatientAssignment
	err := s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		created = model.PatientAssignment{
			ID:          id,
			PatientName: strings.TrimSpace(req.PatientName),
			LabType:     strings.TrimSpace(req.LabType),
			NurseOnDuty: req.NurseOnDuty,
			Status:      model.AssignmentStatusPending,
			CreatedAt:   tx.ServerTime(),
		}
		fields, err := repository.EncodeFields(created)
		if err != nil {
			return err
		}
		if err := tx.Set(repository.CollectionAssignments, id, fields, repository.SetOptions{}); err != nil {
			return fmt.Errorf("failed to create assignment: %w", err)
		}
		_, err = event.Stage(tx, model.EventAssignmentCreated, assignmentEvent(created))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Claim assigns a pending item to the caller. Of any number of concurrent
// claims exactly one succeeds; the rest get AlreadyClaimed.
func (s *Service) Claim(ctx context.Context, id, staffID, displayName string) (err error) {
	defer func() { s.record("claim", err) }()
	if staffID == "" {
		return apperrors.Unauthorized(nil)
	}
	if displayName == "" {
		displayName = staffID
	}

	err = s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		a, err := loadAssignment(tx, id)
		if err != nil {
			return err
		}
		if a.Status != model.AssignmentStatusPending {
			return apperrors.AlreadyClaimed(id)
		}

		now := tx.ServerTime()
		if err := tx.Update(repository.CollectionAssignments, id, map[string]interface{}{
			"status":     string(model.AssignmentStatusAssigned),
			"assignedTo": displayName,
			"assignedBy": staffID,
			"assignedAt": now,
		}); err != nil {
			return fmt.Errorf("failed to claim assignment: %w", err)
		}
		a.Status = model.AssignmentStatusAssigned
		a.AssignedTo = &displayName
		a.AssignedBy = &staffID
		a.AssignedAt = &now
		_, err = event.Stage(tx, model.EventAssignmentClaimed, assignmentEvent(a))
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Assignment claimed", "assignment_id", id, "staff_id", staffID)
	return nil
}

// Release hands a claimed item back to the pending pool. Only the claimant
// may do so, and only strictly within the grace period by the store clock.
func (s *Service) Release(ctx context.Context, id, staffID string) (err error) {
	defer func() { s.record("release", err) }()

	err = s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		a, err := loadAssignment(tx, id)
		if err != nil {
			return err
		}
		if a.Status != model.AssignmentStatusAssigned || a.AssignedAt == nil {
			return apperrors.NotAssigned(id)
		}
		if !model.WithinGracePeriod(*a.AssignedAt, tx.ServerTime()) {
			return apperrors.GracePeriodExpired(id)
		}
		if a.AssignedBy == nil || *a.AssignedBy != staffID {
			return apperrors.Forbidden("only the claimant can release this assignment")
		}

		if err := tx.Update(repository.CollectionAssignments, id, map[string]interface{}{
			"status":     string(model.AssignmentStatusPending),
			"assignedTo": nil,
			"assignedBy": nil,
			"assignedAt": nil,
		}); err != nil {
			return fmt.Errorf("failed to release assignment: %w", err)
		}
		_, err = event.Stage(tx, model.EventAssignmentReleased, map[string]interface{}{
			"assignmentId": id,
			"releasedBy":   staffID,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Assignment released", "assignment_id", id, "staff_id", staffID)
	return nil
}

// Complete closes a claimed item. Completed is terminal.
func (s *Service) Complete(ctx context.Context, id string) (err error) {
	defer func() { s.record("complete", err) }()

	err = s.store.RunTransaction(ctx, func(tx repository.Transaction) error {
		a, err := loadAssignment(tx, id)
		if err != nil {
			return err
		}
		if a.Status != model.AssignmentStatusAssigned {
			return apperrors.NotAssigned(id)
		}

		now := tx.ServerTime()
		if err := tx.Update(repository.CollectionAssignments, id, map[string]interface{}{
			"status":      string(model.AssignmentStatusCompleted),
			"completedAt": now,
		}); err != nil {
			return fmt.Errorf("failed to complete assignment: %w", err)
		}
		a.Status = model.AssignmentStatusCompleted
		a.CompletedAt = &now
		_, err = event.Stage(tx, model.EventAssignmentCompleted, assignmentEvent(a))
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Assignment completed", "assignment_id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.PatientAssignment, error) {
	doc, err := s.store.Get(ctx, repository.CollectionAssignments, id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("assignment "+id, nil)
		}
		return nil, err
	}
	a, err := decodeAssignment(*doc)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RemainingGraceTime is the countdown for an item by the store clock.
func (s *Service) RemainingGraceTime(ctx context.Context, a model.PatientAssignment) (time.Duration, error) {
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return model.RemainingGraceTime(a, now), nil
}

type ListQuery struct {
	Filter model.AssignmentFilter `form:"filter" binding:"omitempty,oneof=pending mine completed"`
	Search string                 `form:"search"`
}

// BoardItem is a work item plus the caller's release countdown.
type BoardItem struct {
	model.PatientAssignment
	CanRelease       bool  `json:"canRelease"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type Board struct {
	Items  []BoardItem            `json:"items"`
	Counts model.AssignmentCounts `json:"counts"`
}

// List returns the newest items for one tab of the board, with the tab
// counts computed over the same items.
func (s *Service) List(ctx context.Context, q ListQuery, staffID string) (*Board, error) {
	all, err := s.recent(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	board := &Board{Items: make([]BoardItem, 0)}
	for _, a := range all {
		if model.AssignmentFilterPending.Matches(a, staffID) {
			board.Counts.Pending++
		}
		if model.AssignmentFilterMine.Matches(a, staffID) {
			board.Counts.Mine++
		}
		if model.AssignmentFilterCompleted.Matches(a, staffID) {
			board.Counts.Completed++
		}

		if !q.Filter.Matches(a, staffID) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.PatientName), search) &&
			!strings.Contains(strings.ToLower(a.LabType), search) {
			continue
		}

		item := BoardItem{PatientAssignment: a}
		if a.Status == model.AssignmentStatusAssigned && a.AssignedBy != nil && *a.AssignedBy == staffID {
			remaining := model.RemainingGraceTime(a, now)
			item.CanRelease = remaining > 0
			item.RemainingSeconds = int64(remaining / time.Second)
		}
		board.Items = append(board.Items, item)
	}
	return board, nil
}

func (s *Service) recent(ctx context.Context) ([]model.PatientAssignment, error) {
	var all []model.PatientAssignment
	if s.mirror.Fresh() {
		all = s.mirror.List()
	} else {
		var err error
		all, err = cache.Load(ctx, s.store, repository.CollectionAssignments, s.mirror, decodeAssignment)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > BoardLimit {
		all = all[:BoardLimit]
	}
	return all, nil
}

func assignmentEvent(a model.PatientAssignment) map[string]interface{} {
	return map[string]interface{}{
		"assignmentId": a.ID,
		"patientName":  a.PatientName,
		"labType":      a.LabType,
		"status":       a.Status,
		"assignedTo":   a.AssignedTo,
		"assignedBy":   a.AssignedBy,
		"assignedAt":   a.AssignedAt,
		"completedAt":  a.CompletedAt,
	}
}
