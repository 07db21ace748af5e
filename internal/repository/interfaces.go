package repository

import (
	"context"
	"time"
)

// Collections consumed by the dialysis and assignment services.
const (
	CollectionDialysisPatients = "dialysisPatients"
	CollectionDialysisMachines = "dialysisMachines"
	CollectionDialysisSessions = "dialysisSessions"
	CollectionAssignments      = "patients"
	CollectionStaff            = "staff"
	CollectionOutbox           = "outbox"
)

// FilterOp is a comparison operator usable in a query filter.
type FilterOp string

const (
	OpEqual        FilterOp = "=="
	OpNotEqual     FilterOp = "!="
	OpLess         FilterOp = "<"
	OpLessEqual    FilterOp = "<="
	OpGreater      FilterOp = ">"
	OpGreaterEqual FilterOp = ">="
	OpIn           FilterOp = "in"
)

// Filter restricts a query to documents whose top-level Field compares to Value.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Where builds a Filter.
func Where(field string, op FilterOp, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// OrderBy sorts query results by a top-level field.
type OrderBy struct {
	Field string
	Desc  bool
}

// Query describes a filtered, ordered and optionally limited read.
type Query struct {
	Filters []Filter
	OrderBy *OrderBy
	Limit   int
}

// Document is a schemaless record addressed by collection and id.
type Document struct {
	ID         string                 `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
	CreateTime time.Time              `json:"createTime"`
	UpdateTime time.Time              `json:"updateTime"`
}

// SetOptions controls Set. Merge keeps fields that are not being written.
type SetOptions struct {
	Merge bool
}

// WriteKind identifies the operation in a batch write.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteUpdate
	WriteDelete
)

// WriteOp is one unconditional write in a batch.
type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     map[string]interface{}
	Merge      bool
}

// SnapshotFunc receives the full matching result set on every change.
type SnapshotFunc func(docs []Document, err error)

// Unsubscribe stops a subscription.
type Unsubscribe func()

// All repository interfaces in one file
type (
	// DocumentStore is the external collection-of-documents database.
	DocumentStore interface {
		Get(ctx context.Context, collection, id string) (*Document, error)
		Query(ctx context.Context, collection string, q Query) ([]Document, error)
		Set(ctx context.Context, collection, id string, fields map[string]interface{}, opts SetOptions) error
		Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
		Delete(ctx context.Context, collection, id string) error
		Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Unsubscribe, error)
		RunTransaction(ctx context.Context, fn func(tx Transaction) error) error
		BatchWrite(ctx context.Context, ops []WriteOp) error
		// ServerTime is the store's authoritative clock.
		ServerTime(ctx context.Context) (time.Time, error)
		Close() error
	}

	// Transaction is the view handed to RunTransaction callbacks. Writes are
	// buffered and only become visible when the callback returns nil.
	Transaction interface {
		Get(collection, id string) (*Document, error)
		Query(collection string, q Query) ([]Document, error)
		Set(collection, id string, fields map[string]interface{}, opts SetOptions) error
		Update(collection, id string, fields map[string]interface{}) error
		Delete(collection, id string) error
		// ServerTime is fixed for the life of the transaction.
		ServerTime() time.Time
	}
)
