package domain

import (
	"context"
	"io"
	"time"
)

// ProductQuery describes one page of a product listing
type ProductQuery struct {
	Search   string
	Page     int
	PerPage  int
	WithUser bool
}

// Offset returns the row offset of the page, pages start at 1
func (q ProductQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}

// ProductPage is a simple-pagination window: no total count, only whether
// another page follows.
type ProductPage struct {
	Items   []*Product `json:"items"`
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
	HasMore bool       `json:"has_more"`
}

// ProductWriter is the product store as seen from inside a transaction
type ProductWriter interface {
	FindByID(ctx context.Context, id string) (*Product, error)
	Insert(ctx context.Context, product *Product) error
	Update(ctx context.Context, product *Product) error
	Delete(ctx context.Context, id string) (bool, error)
}

// ProductRepository defines the contract for product storage
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*Product, error)
	Query(ctx context.Context, q ProductQuery) (*ProductPage, error)

	// SetMediaPath updates only the column for kind and leaves the other
	// media column untouched.
	SetMediaPath(ctx context.Context, id string, kind MediaKind, path string) (*Product, error)

	// WithinTx runs fn in a transaction, committing when fn returns nil.
	// A failed commit is reported wrapped in ErrTransactionFailed.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ProductWriter) error) error
}

// UserRepository loads the user relationship of products
type UserRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]*User, error)
}

// ArtifactStore is durable blob storage addressed by generated paths
type ArtifactStore interface {
	// Write stores data under namespace with a freshly generated name and
	// returns its path, e.g. "images/3f1c....jpg". Nothing is visible under
	// the path unless the whole write succeeded.
	Write(ctx context.Context, namespace, ext string, data []byte) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Cache is a TTL key/value cache shared by readers and writers
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MediaQueue accepts ingestion jobs; delivery is at-least-once
type MediaQueue interface {
	// Enqueue returns a ticket identifying the accepted job
	Enqueue(ctx context.Context, job PendingMedia) (string, error)
}

// JobHandler processes one delivered ingestion job
type JobHandler func(ctx context.Context, job PendingMedia) error

// JobConsumer delivers queued jobs to a handler until ctx is done
type JobConsumer interface {
	Consume(ctx context.Context, handle JobHandler) error
	Close()
}
