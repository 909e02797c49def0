package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ domain.ProductRepository = (*ProductRepository)(nil)
	_ domain.ProductWriter     = (*txWriter)(nil)
)

const productColumns = `id::text, title, description, price::text,
	COALESCE(image_path, ''), COALESCE(video_path, ''), COALESCE(user_id::text, ''),
	created_at, updated_at`

const (
	selectByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	selectPageSQL = `SELECT ` + productColumns + ` FROM products
	ORDER BY created_at DESC, id
	LIMIT $1 OFFSET $2`

	// Any word of the search matches; more matched words rank higher.
	searchPageSQL = `SELECT ` + productColumns + ` FROM products,
		replace(plainto_tsquery('simple', $1)::text, '&', '|')::tsquery AS query
	WHERE to_tsvector('simple', title) @@ query
	ORDER BY ts_rank(to_tsvector('simple', title), query) DESC, created_at DESC, id
	LIMIT $2 OFFSET $3`

	insertSQL = `INSERT INTO products
		(id, title, description, price, image_path, video_path, user_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4::numeric, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, '')::uuid, $8, $9)`

	updateSQL = `UPDATE products SET
		title = $2, description = $3, price = $4::numeric,
		image_path = NULLIF($5, ''), video_path = NULLIF($6, ''), user_id = NULLIF($7, '')::uuid,
		updated_at = $8
	WHERE id = $1`

	deleteSQL = `DELETE FROM products WHERE id = $1`

	setImagePathSQL = `UPDATE products SET image_path = $2, updated_at = now()
	WHERE id = $1 RETURNING ` + productColumns

	setVideoPathSQL = `UPDATE products SET video_path = $2, updated_at = now()
	WHERE id = $1 RETURNING ` + productColumns
)

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProductRepository is a PostgreSQL implementation of domain.ProductRepository
type ProductRepository struct {
	pool   *pgxpool.Pool
	users  *UserRepository
	tracer trace.Tracer
	logger *slog.Logger
}

func NewProductRepository(pool *pgxpool.Pool, users *UserRepository, tracer trace.Tracer, logger *slog.Logger) *ProductRepository {
	return &ProductRepository{pool: pool, users: users, tracer: tracer, logger: logger}
}

// FindByID retrieves a committed product by ID
func (r *ProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.FindByID")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	product, err := findByID(ctx, r.pool, id, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find product")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Product found")
	return product, nil
}

// Query fetches one row past the page to learn whether another page follows
func (r *ProductRepository) Query(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("query.search", q.Search),
		attribute.Int("query.page", q.Page),
		attribute.Bool("query.with_user", q.WithUser),
	)

	var (
		rows pgx.Rows
		err  error
	)
	if q.Search == "" {
		rows, err = r.pool.Query(ctx, selectPageSQL, q.PerPage+1, q.Offset())
	} else {
		rows, err = r.pool.Query(ctx, searchPageSQL, q.Search, q.PerPage+1, q.Offset())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Query failed")
		return nil, fmt.Errorf("query products: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Scan failed")
		return nil, fmt.Errorf("scan products: %w", err)
	}

	page := &domain.ProductPage{Items: items, Page: max(q.Page, 1), PerPage: q.PerPage}
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

	r.logger.DebugContext(ctx, "Products queried",
		slog.Int("count", len(page.Items)),
		slog.Bool("has_more", page.HasMore),
	)

	span.SetAttributes(attribute.Int("product.count", len(page.Items)))
	span.SetStatus(codes.Ok, "Products retrieved successfully")
	return page, nil
}

// SetMediaPath links an artifact through the column for kind only
func (r *ProductRepository) SetMediaPath(ctx context.Context, id string, kind domain.MediaKind, path string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.SetMediaPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.String("media.kind", string(kind)),
	)

	var query string
	switch kind {
	case domain.MediaImage:
		query = setImagePathSQL
	case domain.MediaVideo:
		query = setVideoPathSQL
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrProductNotFound
	}

	product, err := scanProduct(r.pool.QueryRow(ctx, query, id, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrProductNotFound
		} else {
			err = fmt.Errorf("set %s path: %w", kind, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to set media path")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Media path set")
	return product, nil
}

// WithinTx runs fn in a read-committed transaction
func (r *ProductRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.ProductWriter) error) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.WithinTx")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return fmt.Errorf("%w: begin: %w", domain.ErrTransactionFailed, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.WarnContext(ctx, "Rollback failed", slog.String("error", err.Error()))
		}
	}()

	if err := fn(ctx, &txWriter{q: tx}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Transaction rolled back")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return fmt.Errorf("%w: commit: %w", domain.ErrTransactionFailed, err)
	}

	span.SetStatus(codes.Ok, "Transaction committed")
	return nil
}

type txWriter struct {
	q querier
}

// FindByID locks the row for the rest of the transaction
func (w *txWriter) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	return findByID(ctx, w.q, id, true)
}

func (w *txWriter) Insert(ctx context.Context, p *domain.Product) error {
	_, err := w.q.Exec(ctx, insertSQL,
		p.ID, p.Title, p.Description, p.Price.StringFixed(domain.PriceScale),
		p.ImagePath, p.VideoPath, p.UserID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (w *txWriter) Update(ctx context.Context, p *domain.Product) error {
	tag, err := w.q.Exec(ctx, updateSQL,
		p.ID, p.Title, p.Description, p.Price.StringFixed(domain.PriceScale),
		p.ImagePath, p.VideoPath, p.UserID, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (w *txWriter) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := w.q.Exec(ctx, deleteSQL, id)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func findByID(ctx context.Context, q querier, id string, lock bool) (*domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrProductNotFound
	}

	query := selectByIDSQL
	if lock {
		query += " FOR UPDATE"
	}

	product, err := scanProduct(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return product, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &price,
		&p.ImagePath, &p.VideoPath, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.CreatedAt = p.CreatedAt.In(time.UTC)
	p.UpdatedAt = p.UpdatedAt.In(time.UTC)
	return &p, nil
}
