package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ domain.ProductRepository = (*ProductRepository)(nil)
	_ domain.ProductWriter     = (*txWriter)(nil)
)

// ProductRepository is an in-memory implementation of domain.ProductRepository.
// Transactions are serialized and staged; nothing they write is visible to
// readers until commit.
type ProductRepository struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	products map[string]*domain.Product
	users    *UserRepository
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewProductRepository creates a new in-memory product repository. users
// backs eager loading and may be nil.
func NewProductRepository(users *UserRepository, tracer trace.Tracer, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{
		products: make(map[string]*domain.Product),
		users:    users,
		tracer:   tracer,
		logger:   logger,
	}
}

// FindByID retrieves a committed product by ID
func (r *ProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.FindByID")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	r.mu.RLock()
	product, exists := r.products[id]
	r.mu.RUnlock()

	if !exists {
		span.RecordError(domain.ErrProductNotFound)
		span.SetStatus(codes.Error, "Product not found")
		r.logger.WarnContext(ctx, "Product not found",
			slog.String("product_id", id),
		)
		return nil, domain.ErrProductNotFound
	}

	span.SetStatus(codes.Ok, "Product found")
	return product.Clone(), nil
}

// Query returns one simple-pagination window. Search matches any word of the
// title and orders by the number of matched words.
func (r *ProductRepository) Query(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("query.search", q.Search),
		attribute.Int("query.page", q.Page),
		attribute.Bool("query.with_user", q.WithUser),
	)

	terms := tokenize(q.Search)

	type hit struct {
		product *domain.Product
		rank    int
	}

	r.mu.RLock()
	hits := make([]hit, 0, len(r.products))
	for _, p := range r.products {
		rank := 0
		if len(terms) > 0 {
			rank = matches(tokenize(p.Title), terms)
			if rank == 0 {
				continue
			}
		}
		hits = append(hits, hit{product: p.Clone(), rank: rank})
	}
	r.mu.RUnlock()

	slices.SortFunc(hits, func(a, b hit) int {
		if a.rank != b.rank {
			return b.rank - a.rank
		}
		if c := b.product.CreatedAt.Compare(a.product.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.product.ID, b.product.ID)
	})

	page := &domain.ProductPage{Items: []*domain.Product{}, Page: max(q.Page, 1), PerPage: q.PerPage}
	offset := q.Offset()
	for i := offset; i < len(hits) && i < offset+q.PerPage+1; i++ {
		page.Items = append(page.Items, hits[i].product)
	}
	if len(page.Items) > q.PerPage {
		page.Items = page.Items[:q.PerPage]
		page.HasMore = true
	}

	if q.WithUser && r.users != nil {
		if err := r.users.attach(ctx, page.Items); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to load users")
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("product.count", len(page.Items)))
	span.SetStatus(codes.Ok, "Products retrieved successfully")
	return page, nil
}

// SetMediaPath links an artifact through the column for kind only. It waits
// for an open transaction to finish, so a transaction's full-row write
// cannot overwrite the link with the path it read before.
func (r *ProductRepository) SetMediaPath(ctx context.Context, id string, kind domain.MediaKind, path string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.SetMediaPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.String("media.kind", string(kind)),
	)

	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	product, exists := r.products[id]
	if !exists {
		span.RecordError(domain.ErrProductNotFound)
		span.SetStatus(codes.Error, "Product not found")
		return nil, domain.ErrProductNotFound
	}

	updated := product.Clone()
	switch kind {
	case domain.MediaImage:
		updated.ImagePath = path
	case domain.MediaVideo:
		updated.VideoPath = path
	default:
		err := fmt.Errorf("unknown media kind %q", kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Unknown media kind")
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	r.products[id] = updated

	r.logger.DebugContext(ctx, "Media path set",
		slog.String("product_id", id),
		slog.String("kind", string(kind)),
		slog.String("path", path),
	)

	span.SetStatus(codes.Ok, "Media path set")
	return updated.Clone(), nil
}

// WithinTx stages fn's writes and applies them atomically when fn succeeds
func (r *ProductRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.ProductWriter) error) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.WithinTx")
	defer span.End()

	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &txWriter{repo: r, staged: make(map[string]*domain.Product)}
	if err := fn(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Transaction rolled back")
		return err
	}

	r.mu.Lock()
	for id, p := range tx.staged {
		if p == nil {
			delete(r.products, id)
			continue
		}
		r.products[id] = p
	}
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("tx.writes", len(tx.staged)))
	span.SetStatus(codes.Ok, "Transaction committed")
	return nil
}

// Len returns the number of committed products
func (r *ProductRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.products)
}

// txWriter sees committed rows overlaid with its own staged writes. A nil
// staged entry marks a delete.
type txWriter struct {
	repo   *ProductRepository
	staged map[string]*domain.Product
}

func (w *txWriter) lookup(id string) (*domain.Product, bool) {
	if p, ok := w.staged[id]; ok {
		return p, p != nil
	}
	w.repo.mu.RLock()
	defer w.repo.mu.RUnlock()
	p, ok := w.repo.products[id]
	return p, ok
}

func (w *txWriter) FindByID(_ context.Context, id string) (*domain.Product, error) {
	p, ok := w.lookup(id)
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return p.Clone(), nil
}

func (w *txWriter) Insert(_ context.Context, product *domain.Product) error {
	if _, ok := w.lookup(product.ID); ok {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	stored := product.Clone()
	stored.User = nil
	w.staged[product.ID] = stored
	return nil
}

func (w *txWriter) Update(_ context.Context, product *domain.Product) error {
	if _, ok := w.lookup(product.ID); !ok {
		return domain.ErrProductNotFound
	}
	stored := product.Clone()
	stored.User = nil
	w.staged[product.ID] = stored
	return nil
}

func (w *txWriter) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := w.lookup(id); !ok {
		return false, nil
	}
	w.staged[id] = nil
	return true, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matches(words, terms []string) int {
	n := 0
	for _, t := range terms {
		if slices.Contains(words, t) {
			n++
		}
	}
	return n
}
