package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-ops/internal/repository"
	apperrors "github.com/jwalitptl/clinic-ops/pkg/errors"
	"github.com/jwalitptl/clinic-ops/pkg/logger"
	"github.com/jwalitptl/clinic-ops/pkg/messaging"
	"github.com/jwalitptl/clinic-ops/pkg/metrics"
)

var _ repository.DocumentStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// MaxRetries bounds how often a transaction is re-run after a
	// serialization failure.
	MaxRetries int
	// Changes, when set, carries commit notices between processes so
	// subscriptions see writes made elsewhere.
	Changes messaging.Broker
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

type subscription struct {
	mu         sync.Mutex
	ctx        context.Context
	collection string
	query      repository.Query
	fn         repository.SnapshotFunc
}

// Store is a DocumentStore over a single JSONB table.
type Store struct {
	BaseRepository
	opts   Options
	origin string

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64
	feeds   map[string]context.CancelFunc
	closed  bool
}

func NewStore(db *sqlx.DB, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Store{
		BaseRepository: NewBaseRepository(db),
		opts:           opts,
		origin:         uuid.NewString(),
		subs:           make(map[uint64]*subscription),
		feeds:          make(map[string]context.CancelFunc),
	}
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.StoreOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	s.opts.Metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// storeErr classifies driver failures. Context errors pass through untouched.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.StoreUnavailable(fmt.Errorf("failed to %s: %w", op, err))
}

func (s *Store) Get(ctx context.Context, collection, id string) (doc *repository.Document, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return getDocument(ctx, s.db, collection, id, false)
}

func (s *Store) Query(ctx context.Context, collection string, q repository.Query) (docs []repository.Document, err error) {
	defer func(start time.Time) { s.observe("query", start, err) }(time.Now())
	return queryDocuments(ctx, s.db, collection, q)
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

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.GetContext(ctx, &now, "SELECT now()"); err != nil {
		return time.Time{}, storeErr("read server time", err)
	}
	return now.UTC(), nil
}

// RunTransaction runs fn in a SERIALIZABLE transaction, re-running it when
// Postgres aborts it with a serialization failure or deadlock.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx repository.Transaction) error) (err error) {
	defer func(start time.Time) { s.observe("transaction", start, err) }(time.Now())

	var touched map[string]bool
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		touched = make(map[string]bool)
		err = s.WithTx(ctx, func(sqlTx *sqlx.Tx) error {
			var now time.Time
			if err := sqlTx.GetContext(ctx, &now, "SELECT now()"); err != nil {
				return storeErr("read server time", err)
			}
			return fn(&transaction{ctx: ctx, tx: sqlTx, now: now.UTC(), touched: touched})
		})
		if err == nil || !isRetryable(err) {
			break
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.TxRetries.Inc()
		}
		s.opts.Logger.Debug("retrying transaction after conflict", "attempt", attempt+1)
	}

	if err != nil {
		if isRetryable(err) {
			return &apperrors.AppError{
				Code:    apperrors.ErrConflict,
				Message: "transaction aborted after repeated conflicts",
				Err:     err,
			}
		}
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			return storeErr("run transaction", err)
		}
		return err
	}

	s.announce(ctx, touched)
	return nil
}

// Subscribe delivers the current result set immediately and again whenever
// a commit touches the collection, locally or through the change feed.
func (s *Store) Subscribe(ctx context.Context, collection string, q repository.Query, fn repository.SnapshotFunc) (repository.Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.StoreUnavailable(errors.New("store closed"))
	}
	sub := &subscription{ctx: ctx, collection: collection, query: q, fn: fn}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	err := s.ensureFeedLocked(collection)
	s.mu.Unlock()
	if err != nil {
		s.removeSubscription(id)
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { s.removeSubscription(id) })
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

func (s *Store) removeSubscription(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

func (s *Store) ensureFeedLocked(collection string) error {
	if s.opts.Changes == nil {
		return nil
	}
	if _, ok := s.feeds[collection]; ok {
		return nil
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	err := messaging.Consume(feedCtx, s.opts.Changes, messaging.ChangeChannel(collection), func(raw []byte) error {
		var notice messaging.ChangeNotice
		if err := json.Unmarshal(raw, &notice); err != nil {
			return fmt.Errorf("failed to decode change notice: %w", err)
		}
		if notice.Origin == s.origin {
			return nil
		}
		s.notify(map[string]bool{notice.Collection: true})
		return nil
	}, s.opts.Logger.Zerolog())
	if err != nil {
		cancel()
		return storeErr("subscribe to change feed", err)
	}
	s.feeds[collection] = cancel
	return nil
}

// announce refreshes local subscribers and tells other processes about the
// commit. Publishing is best effort; the write has already committed.
func (s *Store) announce(ctx context.Context, touched map[string]bool) {
	if len(touched) == 0 {
		return
	}
	s.notify(touched)

	if s.opts.Changes == nil {
		return
	}
	for collection := range touched {
		notice := messaging.ChangeNotice{Origin: s.origin, Collection: collection}
		if err := s.opts.Changes.Publish(ctx, messaging.ChangeChannel(collection), notice); err != nil {
			s.opts.Logger.Error(err, "failed to publish change notice", "collection", collection)
		}
	}
}

func (s *Store) notify(touched map[string]bool) {
	s.mu.Lock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if touched[sub.collection] {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		s.deliver(sub)
	}
}

func (s *Store) deliver(sub *subscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.ctx.Err() != nil {
		return
	}
	docs, err := s.Query(sub.ctx, sub.collection, sub.query)
	sub.fn(docs, err)
}

// Close stops change feeds and drops subscriptions. The *sqlx.DB stays open;
// its owner closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for collection, cancel := range s.feeds {
		cancel()
		delete(s.feeds, collection)
	}
	s.subs = make(map[uint64]*subscription)
	return nil
}

type transaction struct {
	ctx     context.Context
	tx      *sqlx.Tx
	now     time.Time
	touched map[string]bool
}

func (t *transaction) ServerTime() time.Time {
	return t.now
}

// Get locks the row until the transaction ends.
func (t *transaction) Get(collection, id string) (*repository.Document, error) {
	return getDocument(t.ctx, t.tx, collection, id, true)
}

func (t *transaction) Query(collection string, q repository.Query) ([]repository.Document, error) {
	return queryDocuments(t.ctx, t.tx, collection, q)
}

func (t *transaction) Set(collection, id string, fields map[string]interface{}, opts repository.SetOptions) error {
	if id == "" {
		return apperrors.BadRequest("document id is required", nil)
	}
	query, args, err := buildSet(collection, id, fields, opts.Merge, t.now)
	if err != nil {
		return apperrors.BadRequest("invalid document fields", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
		return storeErr("set document", err)
	}
	t.touched[collection] = true
	return nil
}

func (t *transaction) Update(collection, id string, fields map[string]interface{}) error {
	query, args, err := buildUpdate(collection, id, fields, t.now)
	if err != nil {
		return apperrors.BadRequest("invalid document fields", err)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return storeErr("update document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update document", err)
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("document %s/%s", collection, id), nil)
	}
	t.touched[collection] = true
	return nil
}

func (t *transaction) Delete(collection, id string) error {
	query, args, err := buildDelete(collection, id)
	if err != nil {
		return apperrors.Internal(err)
	}
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return storeErr("delete document", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.touched[collection] = true
	}
	return nil
}

func getDocument(ctx context.Context, q sqlx.QueryerContext, collection, id string, forUpdate bool) (*repository.Document, error) {
	query, args, err := buildGet(collection, id, forUpdate)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	var row documentRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound(fmt.Sprintf("document %s/%s", collection, id), nil)
		}
		return nil, storeErr("get document", err)
	}
	doc, err := row.toDocument()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &doc, nil
}

func queryDocuments(ctx context.Context, q sqlx.QueryerContext, collection string, query repository.Query) ([]repository.Document, error) {
	sqlStr, args, err := buildQuery(collection, query)
	if err != nil {
		return nil, apperrors.BadRequest("invalid query", err)
	}
	var rows []documentRow
	if err := sqlx.SelectContext(ctx, q, &rows, sqlStr, args...); err != nil {
		return nil, storeErr("query documents", err)
	}
	docs := make([]repository.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDocument()
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
