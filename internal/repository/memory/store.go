// Package memory provides an in-memory DocumentStore used by tests and
// single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-ops/internal/repository"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
)

var _ repository.DocumentStore = (*Store)(nil)

var errClosed = errors.New("store closed")

// collections maps collection name to documents keyed by id. Stored documents
// are never mutated in place; writes replace them.
type collections map[string]map[string]repository.Document

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFn = now
	}
}

type subscription struct {
	mu         sync.Mutex
	collection string
	query      repository.Query
	fn         repository.SnapshotFunc
}

// Store keeps documents in memory. Transactions are serialized under a single
// lock and applied to a copy of the state that is swapped in on success.
type Store struct {
	mu      sync.RWMutex
	state   collections
	nowFn   func() time.Time
	failure error
	closed  bool

	subsMu  sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: make(collections),
		nowFn: time.Now,
		subs:  make(map[uint64]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUnavailable makes every subsequent call fail with StoreUnavailable until
// it is called again with nil.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Store) availableLocked() error {
	if s.closed {
		return apperrors.StoreUnavailable(errClosed)
	}
	if s.failure != nil {
		return apperrors.StoreUnavailable(s.failure)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.nowFn().UTC()
}

func (s *Store) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.availableLocked(); err != nil {
		return nil, err
	}
	return getDocument(s.state, collection, id)
}

func (s *Store) Query(ctx context.Context, collection string, q repository.Query) ([]repository.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.availableLocked(); err != nil {
		return nil, err
	}
	return queryDocuments(s.state, collection, q)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]interface{}, opts repository.SetOptions) error {
	return s.RunTransaction(ctx, func(tx repository.Transaction) error {
		return tx.Set(collection, id, fields, opts)
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return s.RunTransaction(ctx, func(tx repository.Transaction) error {
		return tx.Update(collection, id, fields)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(tx repository.Transaction) error {
		return tx.Delete(collection, id)
	})
}

func (s *Store) BatchWrite(ctx context.Context, ops []repository.WriteOp) error {
	return s.RunTransaction(ctx, func(tx repository.Transaction) error {
		return repository.ApplyBatch(tx, ops)
	})
}

// RunTransaction runs fn against a private copy of the state. The copy
// replaces the live state only when fn returns nil. A panic in fn discards
// the copy and is re-raised.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx repository.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	touched, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	s.notify(touched)
	return nil
}

func (s *Store) commit(ctx context.Context, fn func(tx repository.Transaction) error) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.availableLocked(); err != nil {
		return nil, err
	}
	tx := &transaction{
		base:    s.state,
		working: make(collections, len(s.state)),
		copied:  make(map[string]bool),
		now:     s.now(),
	}
	for name, docs := range s.state {
		tx.working[name] = docs
	}

	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.state = tx.working
	return tx.copied, nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.availableLocked(); err != nil {
		return time.Time{}, err
	}
	return s.now(), nil
}

// Subscribe delivers the current result set immediately and again after
// every committed write to the collection.
func (s *Store) Subscribe(ctx context.Context, collection string, q repository.Query, fn repository.SnapshotFunc) (repository.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	err := s.availableLocked()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sub := &subscription{collection: collection, query: q, fn: fn}
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subsMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			unsubscribe()
		}()
	}

	s.deliver(sub)
	return unsubscribe, nil
}

func (s *Store) notify(touched map[string]bool) {
	if len(touched) == 0 {
		return
	}
	s.subsMu.Lock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if touched[sub.collection] {
			targets = append(targets, sub)
		}
	}
	s.subsMu.Unlock()

	for _, sub := range targets {
		s.deliver(sub)
	}
}

// deliver reads the result set while holding the subscription lock so a
// subscriber never sees an older snapshot after a newer one.
func (s *Store) deliver(sub *subscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	s.mu.RLock()
	err := s.availableLocked()
	var docs []repository.Document
	if err == nil {
		docs, err = queryDocuments(s.state, sub.collection, sub.query)
	}
	s.mu.RUnlock()

	sub.fn(docs, err)
}

// Close drops all subscriptions. Further calls fail with StoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.subsMu.Lock()
	s.subs = make(map[uint64]*subscription)
	s.subsMu.Unlock()
	return nil
}

type transaction struct {
	base    collections
	working collections
	copied  map[string]bool
	now     time.Time
}

func (t *transaction) Get(collection, id string) (*repository.Document, error) {
	return getDocument(t.working, collection, id)
}

func (t *transaction) Query(collection string, q repository.Query) ([]repository.Document, error) {
	return queryDocuments(t.working, collection, q)
}

func (t *transaction) ServerTime() time.Time {
	return t.now
}

func (t *transaction) Set(collection, id string, fields map[string]interface{}, opts repository.SetOptions) error {
	if id == "" {
		return apperrors.BadRequest("document id is required", nil)
	}
	normalized, err := repository.NormalizeFields(fields)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}

	docs := t.writable(collection)
	existing, exists := docs[id]
	doc := repository.Document{ID: id, CreateTime: t.now, UpdateTime: t.now}
	if exists {
		doc.CreateTime = existing.CreateTime
	}
	if exists && opts.Merge {
		doc.Fields = mergeFields(existing.Fields, normalized)
	} else {
		doc.Fields = normalized
	}
	docs[id] = doc
	return nil
}

func (t *transaction) Update(collection, id string, fields map[string]interface{}) error {
	existing, ok := t.working[collection][id]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("document %s/%s", collection, id), nil)
	}
	normalized, err := repository.NormalizeFields(fields)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	docs := t.writable(collection)
	docs[id] = repository.Document{
		ID:         id,
		Fields:     mergeFields(existing.Fields, normalized),
		CreateTime: existing.CreateTime,
		UpdateTime: t.now,
	}
	return nil
}

func (t *transaction) Delete(collection, id string) error {
	if _, ok := t.working[collection][id]; !ok {
		return nil
	}
	delete(t.writable(collection), id)
	return nil
}

// writable copies a collection's index on first write so the committed state
// stays untouched until the swap.
func (t *transaction) writable(collection string) map[string]repository.Document {
	if t.copied[collection] {
		return t.working[collection]
	}
	src := t.base[collection]
	dst := make(map[string]repository.Document, len(src)+1)
	for id, doc := range src {
		dst[id] = doc
	}
	t.working[collection] = dst
	t.copied[collection] = true
	return dst
}

func getDocument(state collections, collection, id string) (*repository.Document, error) {
	doc, ok := state[collection][id]
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("document %s/%s", collection, id), nil)
	}
	clone := cloneDocument(doc)
	return &clone, nil
}

func queryDocuments(state collections, collection string, q repository.Query) ([]repository.Document, error) {
	filters := make([]repository.Filter, len(q.Filters))
	for i, f := range q.Filters {
		v, err := repository.NormalizeValue(f.Value)
		if err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("invalid filter value for %s", f.Field), err)
		}
		filters[i] = repository.Filter{Field: f.Field, Op: f.Op, Value: v}
	}

	docs := make([]repository.Document, 0)
	for _, doc := range state[collection] {
		if repository.Matches(doc.Fields, filters) {
			docs = append(docs, cloneDocument(doc))
		}
	}
	repository.SortDocuments(docs, q.OrderBy)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func mergeFields(existing, update map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

func cloneDocument(doc repository.Document) repository.Document {
	fields := make(map[string]interface{}, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = cloneValue(v)
	}
	doc.Fields = fields
	return doc
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
