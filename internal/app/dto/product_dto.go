package dto

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/shopspring/decimal"
)

// Upload rules enforced before any media reaches the queue
const (
	MaxImageBytes = 2048 * 1024
	MaxVideoBytes = 10240 * 1024
)

var (
	ImageExtensions = []string{"jpg", "jpeg", "png", "webp"}
	VideoExtensions = []string{"mp4", "avi", "mov", "webm"}
)

// CreateProductCommand carries a new product and its optional raw media
type CreateProductCommand struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Image       *domain.MediaPayload
	Video       *domain.MediaPayload
	ImagePath   string
	VideoPath   string
	UserID      string
}

// Validate checks the command before anything is written
func (c *CreateProductCommand) Validate() error {
	if err := domain.ValidateTitle(c.Title); err != nil {
		return err
	}
	if strings.TrimSpace(c.Description) == "" {
		return &domain.ValidationError{Field: "description", Message: "description is required"}
	}
	if err := domain.ValidatePrice(c.Price); err != nil {
		return err
	}
	return validateMedia(c.Image, c.Video)
}

// Pending returns the ingestion job for the command's raw media, if any
func (c *CreateProductCommand) Pending(productID string) (domain.PendingMedia, bool) {
	job := domain.PendingMedia{ProductID: productID, Image: c.Image, Video: c.Video}
	return job, !job.Empty()
}

// UpdateProductCommand carries a partial update; nil fields are left as is
type UpdateProductCommand struct {
	Title       *string
	Description *string
	Price       *decimal.Decimal
	Image       *domain.MediaPayload
	Video       *domain.MediaPayload
	ImagePath   *string
	VideoPath   *string
}

// Validate checks only the fields that are present
func (c *UpdateProductCommand) Validate() error {
	if c.Title != nil {
		if err := domain.ValidateTitle(*c.Title); err != nil {
			return err
		}
	}
	if c.Description != nil && strings.TrimSpace(*c.Description) == "" {
		return &domain.ValidationError{Field: "description", Message: "description is required"}
	}
	if c.Price != nil {
		if err := domain.ValidatePrice(*c.Price); err != nil {
			return err
		}
	}
	return validateMedia(c.Image, c.Video)
}

// ApplyTo copies the present fields onto p
func (c *UpdateProductCommand) ApplyTo(p *domain.Product, now time.Time) {
	if c.Title != nil {
		p.Title = *c.Title
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.Price != nil {
		p.Price = c.Price.Round(domain.PriceScale)
	}
	if c.ImagePath != nil {
		p.ImagePath = *c.ImagePath
	}
	if c.VideoPath != nil {
		p.VideoPath = *c.VideoPath
	}
	p.UpdatedAt = now
}

// Pending returns the ingestion job for the command's raw media, if any
func (c *UpdateProductCommand) Pending(productID string) (domain.PendingMedia, bool) {
	job := domain.PendingMedia{ProductID: productID, Image: c.Image, Video: c.Video}
	return job, !job.Empty()
}

func validateMedia(image, video *domain.MediaPayload) error {
	if image != nil {
		if err := validateUpload("image", image, ImageExtensions, MaxImageBytes); err != nil {
			return err
		}
	}
	if video != nil {
		if err := validateUpload("video", video, VideoExtensions, MaxVideoBytes); err != nil {
			return err
		}
	}
	return nil
}

func validateUpload(field string, p *domain.MediaPayload, allowed []string, maxBytes int) error {
	if !slices.Contains(allowed, p.NormalizedExtension()) {
		return &domain.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a file of type: %s", field, strings.Join(allowed, ", ")),
		}
	}
	if len(p.Data) > maxBytes {
		return &domain.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s may not be greater than %d kilobytes", field, maxBytes/1024),
		}
	}
	return nil
}

// ListFilters selects one listing page
type ListFilters struct {
	Page        int
	Search      string
	IncludeUser bool
}

// UserResponse represents the product owner
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProductResponse represents the product response
type ProductResponse struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Price          string        `json:"price"`
	FormattedPrice string        `json:"formatted_price"`
	ImagePath      string        `json:"image_path,omitempty"`
	VideoPath      string        `json:"video_path,omitempty"`
	ImageURL       string        `json:"image_url,omitempty"`
	VideoURL       string        `json:"video_url,omitempty"`
	User           *UserResponse `json:"user,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ToProductResponse converts a domain Product to ProductResponse.
// assetBaseURL prefixes the stored media paths.
func ToProductResponse(p *domain.Product, assetBaseURL string) *ProductResponse {
	resp := &ProductResponse{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		Price:          p.Price.StringFixed(domain.PriceScale),
		FormattedPrice: p.FormattedPrice(),
		ImagePath:      p.ImagePath,
		VideoPath:      p.VideoPath,
		ImageURL:       p.ImageURL(assetBaseURL),
		VideoURL:       p.VideoURL(assetBaseURL),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.User != nil {
		resp.User = &UserResponse{ID: p.User.ID, Name: p.User.Name, Email: p.User.Email}
	}
	return resp
}

// ToProductResponseList converts a list of domain Products to ProductResponse list
func ToProductResponseList(products []*domain.Product, assetBaseURL string) []*ProductResponse {
	responses := make([]*ProductResponse, len(products))
	for i, p := range products {
		responses[i] = ToProductResponse(p, assetBaseURL)
	}
	return responses
}

// ProductPageResponse is a simple-pagination listing page
type ProductPageResponse struct {
	Data        []*ProductResponse `json:"data"`
	CurrentPage int                `json:"current_page"`
	PerPage     int                `json:"per_page"`
	NextPage    *int               `json:"next_page"`
}

// ToProductPageResponse converts a store page to its response
func ToProductPageResponse(page *domain.ProductPage, assetBaseURL string) *ProductPageResponse {
	resp := &ProductPageResponse{
		Data:        ToProductResponseList(page.Items, assetBaseURL),
		CurrentPage: page.Page,
		PerPage:     page.PerPage,
	}
	if page.HasMore {
		next := page.Page + 1
		resp.NextPage = &next
	}
	return resp
}
