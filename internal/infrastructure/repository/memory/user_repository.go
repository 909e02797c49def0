package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ domain.UserRepository = (*UserRepository)(nil)

// UserRepository is an in-memory implementation of domain.UserRepository
type UserRepository struct {
	mu     sync.RWMutex
	users  map[string]*domain.User
	tracer trace.Tracer
	logger *slog.Logger
}

func NewUserRepository(tracer trace.Tracer, logger *slog.Logger) *UserRepository {
	return &UserRepository{
		users:  make(map[string]*domain.User),
		tracer: tracer,
		logger: logger,
	}
}

// Add stores or replaces a user
func (r *UserRepository) Add(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = &user
}

// FindByIDs returns the known users among ids; unknown ids are skipped
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	_, span := r.tracer.Start(ctx, "UserRepository.FindByIDs")
	defer span.End()

	span.SetAttributes(attribute.Int("user.requested", len(ids)))

	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			c := *u
			found[id] = &c
		}
	}

	span.SetAttributes(attribute.Int("user.found", len(found)))
	span.SetStatus(codes.Ok, "Users loaded")
	return found, nil
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
