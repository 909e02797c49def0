// Package testutil builds sample catalog data and no-op observability for
// tests and local seeding.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	sampleImages = []string{"a1.jpg", "a2.jpg", "a3.jpg", "a4.jpg", "a5.jpg"}
	sampleVideos = []string{"a1.mp4", "a2.mp4", "a3.mp4", "a4.mp4", "a5.mp4"}
	sampleWords  = []string{
		"oak", "steel", "lamp", "chair", "desk", "vintage", "compact", "linen",
		"ceramic", "vase", "modern", "walnut", "shelf", "wool", "rug", "brass",
	}
)

// ProductOption customizes a generated product
type ProductOption func(*domain.Product)

// WithTitle sets the title
func WithTitle(title string) ProductOption {
	return func(p *domain.Product) { p.Title = title }
}

// WithPrice sets the price from its decimal string form
func WithPrice(price string) ProductOption {
	return func(p *domain.Product) { p.Price = decimal.RequireFromString(price) }
}

// WithUser links the product to an owner
func WithUser(userID string) ProductOption {
	return func(p *domain.Product) { p.UserID = userID }
}

// WithoutMedia clears both media paths
func WithoutMedia() ProductOption {
	return func(p *domain.Product) {
		p.ImagePath = ""
		p.VideoPath = ""
	}
}

// NewProduct returns a valid product with a three word title, a sample image
// and video path, and a random price between 5 and 500.
func NewProduct(opts ...ProductOption) *domain.Product {
	cents := rand.Int64N(49500) + 500
	p, err := domain.NewProduct(
		words(3),
		words(12)+".",
		decimal.New(cents, -domain.PriceScale),
	)
	if err != nil {
		panic(fmt.Sprintf("testutil: generated invalid product: %v", err))
	}

	p.ImagePath = domain.ImagesNamespace + "/" + sampleImages[rand.IntN(len(sampleImages))]
	p.VideoPath = domain.VideosNamespace + "/" + sampleVideos[rand.IntN(len(sampleVideos))]

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewProducts returns n generated products
func NewProducts(n int, opts ...ProductOption) []*domain.Product {
	products := make([]*domain.Product, n)
	for i := range products {
		products[i] = NewProduct(opts...)
	}
	return products
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = sampleWords[rand.IntN(len(sampleWords))]
	}
	return strings.Join(w, " ")
}

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Tracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer("test")
}

func Meter() metric.Meter {
	return metricnoop.NewMeterProvider().Meter("test")
}
