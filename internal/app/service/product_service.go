package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/app/cachekey"
	"github.com/mrops-br/catalog-media-api/internal/app/dto"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// DefaultPerPage is the listing window size
const DefaultPerPage = 11

// Options tunes the service
type Options struct {
	TTLs         cachekey.TTLs
	PerPage      int
	AssetBaseURL string
}

// ProductService handles product use cases. Reads are cache-aside; every
// commit forgets or repopulates the single-item keys of the product it
// touched.
type ProductService struct {
	repo  domain.ProductRepository
	users domain.UserRepository
	cache domain.Cache
	queue domain.MediaQueue
	opts  Options
	group singleflight.Group

	tracer                trace.Tracer
	logger                *slog.Logger
	productCreatedCounter metric.Int64Counter
	productOperations     metric.Int64Counter
	cacheLookups          metric.Int64Counter
	now                   func() time.Time
}

// NewProductService creates a new product service
func NewProductService(
	repo domain.ProductRepository,
	users domain.UserRepository,
	cache domain.Cache,
	queue domain.MediaQueue,
	opts Options,
	tracer trace.Tracer,
	meter metric.Meter,
	logger *slog.Logger,
) *ProductService {
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.TTLs == (cachekey.TTLs{}) {
		opts.TTLs = cachekey.DefaultTTLs()
	}

	productCreatedCounter, _ := meter.Int64Counter(
		"products.created.total",
		metric.WithDescription("Total number of products created"),
	)

	productOperations, _ := meter.Int64Counter(
		"products.operations",
		metric.WithDescription("Total number of product operations"),
	)

	cacheLookups, _ := meter.Int64Counter(
		"catalog.cache.lookups",
		metric.WithDescription("Cache lookups by cache and result"),
	)

	return &ProductService{
		repo:                  repo,
		users:                 users,
		cache:                 cache,
		queue:                 queue,
		opts:                  opts,
		tracer:                tracer,
		logger:                logger,
		productCreatedCounter: productCreatedCounter,
		productOperations:     productOperations,
		cacheLookups:          cacheLookups,
		now:                   func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and commits a new product, then hands its raw media to
// the ingestion queue. Media is enqueued only after the commit succeeded.
func (s *ProductService) Create(ctx context.Context, cmd *dto.CreateProductCommand) (*dto.ProductResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.title", cmd.Title),
		attribute.String("product.price", cmd.Price.String()),
		attribute.Bool("product.has_image", cmd.Image != nil),
		attribute.Bool("product.has_video", cmd.Video != nil),
	)

	s.logger.InfoContext(ctx, "Creating product",
		slog.String("title", cmd.Title),
		slog.String("price", cmd.Price.String()),
	)

	if err := cmd.Validate(); err != nil {
		return nil, s.fail(ctx, span, "create", "invalid", "Validation failed", err)
	}

	product, err := domain.NewProduct(cmd.Title, cmd.Description, cmd.Price)
	if err != nil {
		return nil, s.fail(ctx, span, "create", "invalid", "Validation failed", err)
	}
	product.ImagePath = cmd.ImagePath
	product.VideoPath = cmd.VideoPath
	product.UserID = cmd.UserID

	span.SetAttributes(attribute.String("product.id", product.ID))

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.ProductWriter) error {
		return tx.Insert(ctx, product)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "create", "failure", "Failed to store product", asTxError(err))
	}

	// Written before the job leaves, so the worker's forget always lands
	// after it.
	s.setCache(ctx, cachekey.Product(product.ID), product, s.opts.TTLs.Record)

	if job, ok := cmd.Pending(product.ID); ok {
		s.enqueue(ctx, job)
	}

	s.productCreatedCounter.Add(ctx, 1)
	s.count(ctx, "create", "success")

	s.logger.InfoContext(ctx, "Product created successfully",
		slog.String("product_id", product.ID),
	)

	span.SetStatus(codes.Ok, "Product created successfully")
	return dto.ToProductResponse(product, s.opts.AssetBaseURL), nil
}

// Update applies the present fields of cmd to the stored product. The
// current row is read inside the transaction, never from the cache.
func (s *ProductService) Update(ctx context.Context, id string, cmd *dto.UpdateProductCommand) (*dto.ProductResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Update")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	s.logger.InfoContext(ctx, "Updating product",
		slog.String("product_id", id),
	)

	if err := cmd.Validate(); err != nil {
		return nil, s.fail(ctx, span, "update", "invalid", "Validation failed", err)
	}

	var updated *domain.Product
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.ProductWriter) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		cmd.ApplyTo(current, s.now())
		if err := current.Validate(); err != nil {
			return err
		}
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		result := "failure"
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			result = "not_found"
		case domain.IsValidation(err):
			result = "invalid"
		default:
			err = asTxError(err)
		}
		return nil, s.fail(ctx, span, "update", result, "Failed to update product", err)
	}

	s.deleteCache(ctx, cachekey.Show(id))
	s.setCache(ctx, cachekey.Product(id), updated, s.opts.TTLs.Record)

	if job, ok := cmd.Pending(id); ok {
		s.enqueue(ctx, job)
	}

	s.count(ctx, "update", "success")

	s.logger.InfoContext(ctx, "Product updated successfully",
		slog.String("product_id", id),
	)

	span.SetStatus(codes.Ok, "Product updated successfully")
	return dto.ToProductResponse(updated, s.opts.AssetBaseURL), nil
}

// Delete removes the product and forgets its single-item cache keys. The
// keys are forgotten after the commit so no reader can repopulate them from
// the deleted row.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "ProductService.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	var deleted bool
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.ProductWriter) error {
		var err error
		deleted, err = tx.Delete(ctx, id)
		return err
	})
	if err != nil {
		return s.fail(ctx, span, "delete", "failure", "Failed to delete product", asTxError(err))
	}
	if !deleted {
		return s.fail(ctx, span, "delete", "not_found", "Product not found", domain.ErrProductNotFound)
	}

	s.deleteCache(ctx, cachekey.Record(id)...)

	s.count(ctx, "delete", "success")

	s.logger.InfoContext(ctx, "Product deleted successfully",
		slog.String("product_id", id),
	)

	span.SetStatus(codes.Ok, "Product deleted successfully")
	return nil
}

// List returns one listing page. Pages are cached by their full query shape;
// when users are not part of that shape they are loaded afterwards and never
// cached.
func (s *ProductService) List(ctx context.Context, filters dto.ListFilters) (*dto.ProductPageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.List")
	defer span.End()

	page := max(filters.Page, 1)
	key := cachekey.List(page, filters.Search, filters.IncludeUser)

	span.SetAttributes(
		attribute.Int("list.page", page),
		attribute.String("list.search", filters.Search),
		attribute.Bool("list.include_user", filters.IncludeUser),
	)

	var result domain.ProductPage
	if !s.getCache(ctx, "list", key, &result) {
		v, err, shared := s.group.Do(key, func() (any, error) {
			fetched, err := s.repo.Query(ctx, domain.ProductQuery{
				Search:   filters.Search,
				Page:     page,
				PerPage:  s.opts.PerPage,
				WithUser: filters.IncludeUser,
			})
			if err != nil {
				return nil, err
			}
			s.setCache(ctx, key, fetched, s.opts.TTLs.List)
			return fetched, nil
		})
		if err != nil {
			return nil, s.fail(ctx, span, "list", "failure", "Failed to retrieve products", err)
		}
		result = clonePage(v.(*domain.ProductPage))
		span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	}

	if !filters.IncludeUser {
		if err := s.loadUsers(ctx, result.Items); err != nil {
			return nil, s.fail(ctx, span, "list", "failure", "Failed to load users", err)
		}
	}

	span.SetAttributes(attribute.Int("product.count", len(result.Items)))
	s.count(ctx, "list", "success")

	s.logger.InfoContext(ctx, "Products listed successfully",
		slog.Int("count", len(result.Items)),
		slog.Int("page", page),
	)

	span.SetStatus(codes.Ok, "Products listed successfully")
	return dto.ToProductPageResponse(&result, s.opts.AssetBaseURL), nil
}

// Show returns one product with its user, cached under the show key only.
// A miss always reads the store.
func (s *ProductService) Show(ctx context.Context, id string) (*dto.ProductResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Show")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	var product domain.Product
	if s.getCache(ctx, "show", cachekey.Show(id), &product) {
		s.count(ctx, "read", "success")
		span.SetStatus(codes.Ok, "Product retrieved from cache")
		return dto.ToProductResponse(&product, s.opts.AssetBaseURL), nil
	}

	v, err, _ := s.group.Do(cachekey.Show(id), func() (any, error) {
		found, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := s.loadUsers(ctx, []*domain.Product{found}); err != nil {
			return nil, err
		}

		s.setCache(ctx, cachekey.Show(id), found, s.opts.TTLs.Show)
		return found, nil
	})
	if err != nil {
		result := "failure"
		if errors.Is(err, domain.ErrProductNotFound) {
			result = "not_found"
		}
		return nil, s.fail(ctx, span, "read", result, "Product not found", err)
	}

	s.count(ctx, "read", "success")

	s.logger.InfoContext(ctx, "Product retrieved successfully",
		slog.String("product_id", id),
	)

	span.SetStatus(codes.Ok, "Product retrieved successfully")
	return dto.ToProductResponse(v.(*domain.Product).Clone(), s.opts.AssetBaseURL), nil
}

// enqueue hands media to the queue. The record is already committed, so a
// failure here is logged and the product stays without that media.
func (s *ProductService) enqueue(ctx context.Context, job domain.PendingMedia) {
	ticket, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.logger.ErrorContext(ctx, "Failed to enqueue media",
			slog.String("product_id", job.ProductID),
			slog.Bool("image", job.Image != nil),
			slog.Bool("video", job.Video != nil),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "Media queued for ingestion",
		slog.String("product_id", job.ProductID),
		slog.String("ticket", ticket),
	)
}

func (s *ProductService) loadUsers(ctx context.Context, products []*domain.Product) error {
	if s.users == nil {
		return nil
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.UserID != "" && p.User == nil {
			ids = append(ids, p.UserID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, p := range products {
		if u, ok := users[p.UserID]; ok && p.User == nil {
			p.User = u
		}
	}
	return nil
}

// getCache treats a failing cache as a miss
func (s *ProductService) getCache(ctx context.Context, cache, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
		s.logger.WarnContext(ctx, "Cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	case hit:
		result = "hit"
	}

	s.cacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
	return err == nil && hit
}

func (s *ProductService) setCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.WarnContext(ctx, "Cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ProductService) deleteCache(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.ErrorContext(ctx, "Cache invalidation failed, entries stay until their TTL",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ProductService) count(ctx context.Context, operation, result string) {
	s.productOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("result", result),
		),
	)
}

func (s *ProductService) fail(ctx context.Context, span trace.Span, operation, result, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	level := slog.LevelError
	if result == "invalid" || result == "not_found" {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, msg,
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)

	s.count(ctx, operation, result)
	return err
}

// asTxError classifies store failures that are not domain errors as
// transaction failures.
func asTxError(err error) error {
	if errors.Is(err, domain.ErrTransactionFailed) ||
		errors.Is(err, domain.ErrProductNotFound) ||
		domain.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
}

func clonePage(p *domain.ProductPage) domain.ProductPage {
	c := *p
	c.Items = make([]*domain.Product, len(p.Items))
	for i, item := range p.Items {
		c.Items[i] = item.Clone()
	}
	return c
}
