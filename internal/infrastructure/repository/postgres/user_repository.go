package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ domain.UserRepository = (*UserRepository)(nil)

const selectUsersSQL = `SELECT id::text, name, email FROM users WHERE id = ANY($1::text[]::uuid[])`

// UserRepository loads product owners
type UserRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *slog.Logger
}

func NewUserRepository(pool *pgxpool.Pool, tracer trace.Tracer, logger *slog.Logger) *UserRepository {
	return &UserRepository{pool: pool, tracer: tracer, logger: logger}
}

// FindByIDs returns the known users among ids in one round trip
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	ctx, span := r.tracer.Start(ctx, "UserRepository.FindByIDs")
	defer span.End()

	valid := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}

	span.SetAttributes(attribute.Int("user.requested", len(valid)))

	found := make(map[string]*domain.User, len(valid))
	if len(valid) == 0 {
		return found, nil
	}

	rows, err := r.pool.Query(ctx, selectUsersSQL, valid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Query failed")
		return nil, fmt.Errorf("query users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.Name, &u.Email)
		return &u, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Scan failed")
		return nil, fmt.Errorf("scan users: %w", err)
	}

	for _, u := range users {
		found[u.ID] = u
	}

	span.SetAttributes(attribute.Int("user.found", len(found)))
	span.SetStatus(codes.Ok, "Users loaded")
	return found, nil
}

// Create inserts a user; owners are otherwise managed outside the catalog
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, email) VALUES ($1::text::uuid, $2, $3)`,
		user.ID, user.Name, user.Email,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) attach(ctx context.Context, products []*domain.Product) error {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.UserID != "" {
			ids = append(ids, p.UserID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	users, err := r.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, p := range products {
		p.User = users[p.UserID]
	}
	return nil
}
