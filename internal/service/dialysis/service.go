// Package dialysis runs the dialysis unit: the patient and machine registries
// and the session life-cycle that ties them together.
package dialysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-ops/internal/cache"
	"github.com/jwalitptl/clinic-ops/internal/model"
	"github.com/jwalitptl/clinic-ops/internal/repository"
	"github.com/jwalitptl/clinic-ops/internal/service/notification"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

type Options struct {
	CacheTTL time.Duration
	Notifier notification.Service
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

type Service struct {
	store    repository.DocumentStore
	notifier notification.Service
	metrics  *metrics.Metrics
	logger   *logger.Logger

	patients *cache.Mirror[model.DialysisPatient]
	machines *cache.Mirror[model.DialysisMachine]
	sessions *cache.Mirror[model.DialysisSession]

	mu     sync.Mutex
	unsubs []repository.Unsubscribe
}

func NewService(store repository.DocumentStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("dialysis")
	}
	return &Service{
		store:    store,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		patients: cache.NewMirror[model.DialysisPatient](opts.CacheTTL),
		machines: cache.NewMirror[model.DialysisMachine](opts.CacheTTL),
		sessions: cache.NewMirror[model.DialysisSession](opts.CacheTTL),
	}
}

// Watch subscribes the mirrors to their collections until Close or until ctx
// is done.
func (s *Service) Watch(ctx context.Context) error {
	unsubPatients, err := cache.Watch(ctx, s.store, repository.CollectionDialysisPatients, s.patients, decodePatient, s.logger, nil)
	if err != nil {
		return fmt.Errorf("failed to watch patients: %w", err)
	}
	unsubMachines, err := cache.Watch(ctx, s.store, repository.CollectionDialysisMachines, s.machines, decodeMachine, s.logger, nil)
	if err != nil {
		unsubPatients()
		return fmt.Errorf("failed to watch machines: %w", err)
	}
	unsubSessions, err := cache.Watch(ctx, s.store, repository.CollectionDialysisSessions, s.sessions, decodeSession, s.logger, s.observeSessions)
	if err != nil {
		unsubPatients()
		unsubMachines()
		return fmt.Errorf("failed to watch sessions: %w", err)
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubPatients, unsubMachines, unsubSessions)
	s.mu.Unlock()
	return nil
}

// Close stops all subscriptions started by Watch.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Service) observeSessions(sessions []model.DialysisSession) {
	active := 0
	for _, sess := range sessions {
		if sess.Status == model.SessionStatusActive {
			active++
		}
	}
	s.metrics.ActiveSessions.Set(float64(active))
}

func (s *Service) allPatients(ctx context.Context) ([]model.DialysisPatient, error) {
	if s.patients.Fresh() {
		return s.patients.List(), nil
	}
	return cache.Load(ctx, s.store, repository.CollectionDialysisPatients, s.patients, decodePatient)
}

func (s *Service) allMachines(ctx context.Context) ([]model.DialysisMachine, error) {
	if s.machines.Fresh() {
		return s.machines.List(), nil
	}
	return cache.Load(ctx, s.store, repository.CollectionDialysisMachines, s.machines, decodeMachine)
}

func (s *Service) allSessions(ctx context.Context) ([]model.DialysisSession, error) {
	if s.sessions.Fresh() {
		return s.sessions.List(), nil
	}
	return cache.Load(ctx, s.store, repository.CollectionDialysisSessions, s.sessions, decodeSession)
}

func decodePatient(doc repository.Document) (model.DialysisPatient, error) {
	var p model.DialysisPatient
	err := repository.DecodeDocument(doc, &p)
	return p, err
}

func decodeMachine(doc repository.Document) (model.DialysisMachine, error) {
	var m model.DialysisMachine
	err := repository.DecodeDocument(doc, &m)
	return m, err
}

func decodeSession(doc repository.Document) (model.DialysisSession, error) {
	var sess model.DialysisSession
	if err := repository.DecodeDocument(doc, &sess); err != nil {
		return sess, err
	}
	sess.Normalize()
	return sess, nil
}

// load reads one document inside tx, naming the resource on NotFound.
func load[T any](tx repository.Transaction, collection, id, resource string, decode cache.Decoder[T]) (T, error) {
	var zero T
	doc, err := tx.Get(collection, id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			return zero, apperrors.NotFound(fmt.Sprintf("%s %s", resource, id), nil)
		}
		return zero, err
	}
	return decode(*doc)
}

func loadPatient(tx repository.Transaction, id string) (model.DialysisPatient, error) {
	return load(tx, repository.CollectionDialysisPatients, id, "patient", decodePatient)
}

func loadMachine(tx repository.Transaction, id string) (model.DialysisMachine, error) {
	return load(tx, repository.CollectionDialysisMachines, id, "machine", decodeMachine)
}

func loadSession(tx repository.Transaction, id string) (model.DialysisSession, error) {
	return load(tx, repository.CollectionDialysisSessions, id, "session", decodeSession)
}

// getOne reads a document outside a transaction.
func getOne[T any](ctx context.Context, store repository.DocumentStore, collection, id, resource string, decode cache.Decoder[T]) (T, error) {
	var zero T
	doc, err := store.Get(ctx, collection, id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			return zero, apperrors.NotFound(fmt.Sprintf("%s %s", resource, id), nil)
		}
		return zero, err
	}
	return decode(*doc)
}
