package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/app/cachekey"
	"github.com/mrops-br/catalog-media-api/internal/app/dto"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/cache"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/repository/memory"
	"github.com/mrops-br/catalog-media-api/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyRepository counts store reads and can fail commits
type spyRepository struct {
	domain.ProductRepository
	queries   atomic.Int32
	finds     atomic.Int32
	txs       atomic.Int32
	commitErr error
}

func (s *spyRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	s.finds.Add(1)
	return s.ProductRepository.FindByID(ctx, id)
}

func (s *spyRepository) Query(ctx context.Context, q domain.ProductQuery) (*domain.ProductPage, error) {
	s.queries.Add(1)
	return s.ProductRepository.Query(ctx, q)
}

var errAbort = errors.New("abort")

func (s *spyRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.ProductWriter) error) error {
	s.txs.Add(1)
	if s.commitErr == nil {
		return s.ProductRepository.WithinTx(ctx, fn)
	}
	err := s.ProductRepository.WithinTx(ctx, func(ctx context.Context, tx domain.ProductWriter) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errAbort
	})
	if errors.Is(err, errAbort) {
		return s.commitErr
	}
	return err
}

// recordingQueue remembers jobs and whether their product was committed
// when they were enqueued.
type recordingQueue struct {
	mu        sync.Mutex
	store     domain.ProductRepository
	jobs      []domain.PendingMedia
	committed []bool
	err       error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job domain.PendingMedia) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	_, err := q.store.FindByID(ctx, job.ProductID)
	q.jobs = append(q.jobs, job)
	q.committed = append(q.committed, err == nil)
	return "ticket", nil
}

type fixture struct {
	svc   *ProductService
	store *memory.ProductRepository
	users *memory.UserRepository
	spy   *spyRepository
	queue *recordingQueue
	cache *cache.MemoryCache
	clock *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := memory.NewUserRepository(testutil.Tracer(), testutil.Logger())
	store := memory.NewProductRepository(users, testutil.Tracer(), testutil.Logger())
	spy := &spyRepository{ProductRepository: store}
	queue := &recordingQueue{store: store}
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.NewMemoryCache().WithClock(clk.Now)

	svc := NewProductService(spy, users, c, queue, Options{AssetBaseURL: "http://localhost/storage"},
		testutil.Tracer(), testutil.Meter(), testutil.Logger())

	return &fixture{svc: svc, store: store, users: users, spy: spy, queue: queue, cache: c, clock: clk}
}

func (f *fixture) seed(t *testing.T, p *domain.Product) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.ProductWriter) error {
		return tx.Insert(ctx, p)
	})
	require.NoError(t, err)
}

func lampCommand() *dto.CreateProductCommand {
	return &dto.CreateProductCommand{
		Title:       "Lamp",
		Description: "A desk lamp",
		Price:       decimal.RequireFromString("19.99"),
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestCreate_WithoutMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, lampCommand())
	require.NoError(t, err)

	assert.Equal(t, "Lamp", created.Title)
	assert.Equal(t, "19.99", created.Price)
	assert.Equal(t, "$19.99", created.FormattedPrice)
	assert.Empty(t, created.ImagePath)
	assert.Empty(t, created.VideoPath)
	assert.Empty(t, f.queue.jobs)

	stored, err := f.store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("19.99").Equal(stored.Price))

	var snapshot domain.Product
	hit, err := f.cache.Get(ctx, cachekey.Product(created.ID), &snapshot)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestCreate_ThenShowRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := lampCommand()
	cmd.Image = &domain.MediaPayload{Data: []byte("raw"), Extension: "png"}
	created, err := f.svc.Create(ctx, cmd)
	require.NoError(t, err)

	shown, err := f.svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, shown.ID)
	assert.Equal(t, "Lamp", shown.Title)
	assert.Equal(t, "A desk lamp", shown.Description)
	assert.Equal(t, "19.99", shown.Price)
	assert.Empty(t, shown.ImagePath)
}

func TestCreate_EnqueuesAfterCommit(t *testing.T) {
	f := newFixture(t)

	cmd := lampCommand()
	cmd.Image = &domain.MediaPayload{Data: []byte("img"), Extension: "JPG"}
	cmd.Video = &domain.MediaPayload{Data: []byte("vid"), Extension: "mp4"}

	created, err := f.svc.Create(context.Background(), cmd)
	require.NoError(t, err)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, created.ID, job.ProductID)
	assert.NotNil(t, job.Image)
	assert.NotNil(t, job.Video)
	assert.True(t, f.queue.committed[0], "job enqueued before the product was committed")
}

func TestCreate_QueueFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")

	cmd := lampCommand()
	cmd.Video = &domain.MediaPayload{Data: []byte("vid"), Extension: "webm"}

	created, err := f.svc.Create(context.Background(), cmd)
	require.NoError(t, err)

	_, err = f.store.FindByID(context.Background(), created.ID)
	assert.NoError(t, err)
}

func TestCreate_CommitFailure(t *testing.T) {
	f := newFixture(t)
	f.spy.commitErr = errors.New("connection reset")

	cmd := lampCommand()
	cmd.Image = &domain.MediaPayload{Data: []byte("img"), Extension: "png"}

	_, err := f.svc.Create(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Empty(t, f.queue.jobs)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.cache.Len())
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*dto.CreateProductCommand)
		field string
	}{
		{"EmptyTitle", func(c *dto.CreateProductCommand) { c.Title = " " }, "title"},
		{"MissingDescription", func(c *dto.CreateProductCommand) { c.Description = "" }, "description"},
		{"NegativePrice", func(c *dto.CreateProductCommand) { c.Price = decimal.NewFromInt(-1) }, "price"},
		{"GifImage", func(c *dto.CreateProductCommand) {
			c.Image = &domain.MediaPayload{Data: []byte("x"), Extension: "gif"}
		}, "image"},
		{"HugeVideo", func(c *dto.CreateProductCommand) {
			c.Video = &domain.MediaPayload{Data: make([]byte, dto.MaxVideoBytes+1), Extension: "mp4"}
		}, "video"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := lampCommand()
			tt.edit(cmd)

			_, err := f.svc.Create(context.Background(), cmd)

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, int32(0), f.spy.txs.Load())
			assert.Empty(t, f.queue.jobs)
		})
	}
}

func TestUpdate_PriceOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := testutil.NewProduct(testutil.WithTitle("Desk"), testutil.WithPrice("120.00"))
	f.seed(t, p)

	_, err := f.svc.Show(ctx, p.ID)
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, p.ID, &dto.UpdateProductCommand{Price: ptr(decimal.RequireFromString("99.5"))})
	require.NoError(t, err)

	assert.Equal(t, "99.50", updated.Price)
	assert.Equal(t, "Desk", updated.Title)
	assert.Equal(t, p.Description, updated.Description)
	assert.Equal(t, p.ImagePath, updated.ImagePath)
	assert.Equal(t, p.VideoPath, updated.VideoPath)

	var cached domain.Product
	hit, _ := f.cache.Get(ctx, cachekey.Show(p.ID), &cached)
	assert.False(t, hit, "show entry survived the update")

	hit, _ = f.cache.Get(ctx, cachekey.Product(p.ID), &cached)
	require.True(t, hit)
	assert.Equal(t, "99.50", cached.Price.StringFixed(2))

	shown, err := f.svc.Show(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "99.50", shown.Price)
}

func TestUpdate_ReadsStoreNotCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := testutil.NewProduct(testutil.WithTitle("Original"))
	f.seed(t, p)

	stale := p.Clone()
	stale.Title = "Stale"
	require.NoError(t, f.cache.Set(ctx, cachekey.Product(p.ID), stale, time.Hour))

	updated, err := f.svc.Update(ctx, p.ID, &dto.UpdateProductCommand{Description: ptr("new")})
	require.NoError(t, err)
	assert.Equal(t, "Original", updated.Title)
	assert.Equal(t, "new", updated.Description)
}

func TestUpdate_NegativePriceRejectedBeforeCommit(t *testing.T) {
	f := newFixture(t)
	p := testutil.NewProduct(testutil.WithPrice("10.00"))
	f.seed(t, p)

	_, err := f.svc.Update(context.Background(), p.ID, &dto.UpdateProductCommand{Price: ptr(decimal.NewFromInt(-5))})

	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, int32(0), f.spy.txs.Load())

	stored, err := f.store.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", stored.Price.StringFixed(2))
}

func TestUpdate_EnqueuesMedia(t *testing.T) {
	f := newFixture(t)
	p := testutil.NewProduct()
	f.seed(t, p)

	_, err := f.svc.Update(context.Background(), p.ID, &dto.UpdateProductCommand{
		Image: &domain.MediaPayload{Data: []byte("img"), Extension: "webp"},
	})
	require.NoError(t, err)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, p.ID, f.queue.jobs[0].ProductID)
	assert.Nil(t, f.queue.jobs[0].Video)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), "missing", &dto.UpdateProductCommand{Title: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Empty(t, f.queue.jobs)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, lampCommand())
	require.NoError(t, err)
	_, err = f.svc.Show(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	assert.Equal(t, 0, f.cache.Len())

	_, err = f.svc.Show(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	err = f.svc.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestList_CachedWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, testutil.NewProduct(testutil.WithTitle("Lamp shade")))
	f.seed(t, testutil.NewProduct(testutil.WithTitle("Floor lamp")))
	f.seed(t, testutil.NewProduct(testutil.WithTitle("Chair")))

	first, err := f.svc.List(ctx, dto.ListFilters{Page: 1, Search: "lamp"})
	require.NoError(t, err)
	assert.Len(t, first.Data, 2)
	assert.Nil(t, first.NextPage)

	second, err := f.svc.List(ctx, dto.ListFilters{Page: 1, Search: "lamp"})
	require.NoError(t, err)
	assert.Len(t, second.Data, 2)
	assert.Equal(t, int32(1), f.spy.queries.Load())

	_, err = f.svc.List(ctx, dto.ListFilters{Page: 1, Search: "lamp", IncludeUser: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.spy.queries.Load(), "include flag is part of the cache key")

	f.clock.Advance(cachekey.ListTTL + time.Second)
	_, err = f.svc.List(ctx, dto.ListFilters{Page: 1, Search: "lamp"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.spy.queries.Load())
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	for _, p := range testutil.NewProducts(12) {
		f.seed(t, p)
	}

	page, err := f.svc.List(context.Background(), dto.ListFilters{})
	require.NoError(t, err)
	assert.Len(t, page.Data, DefaultPerPage)
	assert.Equal(t, 1, page.CurrentPage)
	require.NotNil(t, page.NextPage)
	assert.Equal(t, 2, *page.NextPage)

	page, err = f.svc.List(context.Background(), dto.ListFilters{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Nil(t, page.NextPage)
}

func TestList_UsersLoadedUncachedWhenNotIncluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.Add(domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com"})
	f.seed(t, testutil.NewProduct(testutil.WithUser("u1")))

	first, err := f.svc.List(ctx, dto.ListFilters{Page: 1})
	require.NoError(t, err)
	require.NotNil(t, first.Data[0].User)
	assert.Equal(t, "Ada", first.Data[0].User.Name)

	f.users.Add(domain.User{ID: "u1", Name: "Ada Lovelace", Email: "ada@example.com"})

	second, err := f.svc.List(ctx, dto.ListFilters{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.spy.queries.Load())
	assert.Equal(t, "Ada Lovelace", second.Data[0].User.Name)

	included, err := f.svc.List(ctx, dto.ListFilters{Page: 1, IncludeUser: true})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", included.Data[0].User.Name)

	f.users.Add(domain.User{ID: "u1", Name: "Countess", Email: "ada@example.com"})
	included, err = f.svc.List(ctx, dto.ListFilters{Page: 1, IncludeUser: true})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", included.Data[0].User.Name, "eager-loaded users are cached with the page")
}

func TestShow_CachedWithUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.Add(domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com"})
	p := testutil.NewProduct(testutil.WithUser("u1"))
	f.seed(t, p)

	shown, err := f.svc.Show(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, shown.User)
	assert.Equal(t, "http://localhost/storage/"+p.ImagePath, shown.ImageURL)

	_, err = f.svc.Show(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.spy.finds.Load())

	f.clock.Advance(cachekey.ShowTTL + time.Second)
	_, err = f.svc.Show(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.spy.finds.Load())
}

func TestShow_ReflectsMediaAfterShowTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, lampCommand())
	require.NoError(t, err)

	_, err = f.svc.Show(ctx, created.ID)
	require.NoError(t, err)

	// A media commit that did not invalidate anything.
	_, err = f.store.SetMediaPath(ctx, created.ID, domain.MediaImage, "images/new.jpg")
	require.NoError(t, err)

	shown, err := f.svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, shown.ImagePath)

	f.clock.Advance(cachekey.ShowTTL + time.Second)

	shown, err = f.svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "images/new.jpg", shown.ImagePath)
}

// linkingQueue finishes ingestion inside Enqueue, before Create returns
type linkingQueue struct {
	store domain.ProductRepository
	cache domain.Cache
	path  string
}

func (q *linkingQueue) Enqueue(ctx context.Context, job domain.PendingMedia) (string, error) {
	if _, err := q.store.SetMediaPath(ctx, job.ProductID, domain.MediaImage, q.path); err != nil {
		return "", err
	}
	return "linked", q.cache.Delete(ctx, cachekey.Record(job.ProductID)...)
}

func TestShow_WorkerFinishingBeforeCreateReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := &linkingQueue{store: f.store, cache: f.cache, path: "images/linked.jpg"}
	svc := NewProductService(f.spy, f.users, f.cache, q, Options{AssetBaseURL: "http://localhost/storage"},
		testutil.Tracer(), testutil.Meter(), testutil.Logger())

	cmd := lampCommand()
	cmd.Image = &domain.MediaPayload{Data: []byte("raw"), Extension: "png"}
	created, err := svc.Create(ctx, cmd)
	require.NoError(t, err)
	assert.Empty(t, created.ImagePath)

	shown, err := svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "images/linked.jpg", shown.ImagePath)

	var record domain.Product
	found, err := f.cache.Get(ctx, cachekey.Product(created.ID), &record)
	require.NoError(t, err)
	assert.False(t, found, "the worker's forget must not be undone by Create")
}

func TestShow_IgnoresRecordSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, lampCommand())
	require.NoError(t, err)

	_, err = f.store.SetMediaPath(ctx, created.ID, domain.MediaImage, "images/fresh.jpg")
	require.NoError(t, err)

	shown, err := f.svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "images/fresh.jpg", shown.ImagePath)
}

func TestShow_ReflectsMediaAfterInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, lampCommand())
	require.NoError(t, err)
	_, err = f.svc.Show(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.store.SetMediaPath(ctx, created.ID, domain.MediaVideo, "videos/new.mp4")
	require.NoError(t, err)
	require.NoError(t, f.cache.Delete(ctx, cachekey.Record(created.ID)...))

	shown, err := f.svc.Show(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "videos/new.mp4", shown.VideoPath)
	assert.Equal(t, "http://localhost/storage/videos/new.mp4", shown.VideoURL)
}

func TestShow_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Show(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
