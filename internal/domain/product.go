package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxTitleLength bounds the product title, counted in runes
const MaxTitleLength = 255

// PriceScale is the fixed number of decimal places a price carries
const PriceScale = 2

// Product represents the product entity
type Product struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImagePath   string          `json:"image_path,omitempty"`
	VideoPath   string          `json:"video_path,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	User        *User           `json:"user,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// User is the owner a product belongs to
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewProduct creates a new product with validation
func NewProduct(title, description string, price decimal.Decimal) (*Product, error) {
	now := time.Now().UTC()
	product := &Product{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Price:       price.Round(PriceScale),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := product.Validate(); err != nil {
		return nil, err
	}

	return product, nil
}

// Validate performs business validation on the product
func (p *Product) Validate() error {
	if err := ValidateTitle(p.Title); err != nil {
		return err
	}
	return ValidatePrice(p.Price)
}

// ValidateTitle checks the title is present and within bounds
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: "title may not be greater than 255 characters"}
	}
	return nil
}

// ValidatePrice rejects negative prices
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return &ValidationError{Field: "price", Message: "price must be at least 0"}
	}
	return nil
}

// HasImage reports whether an image artifact is linked
func (p *Product) HasImage() bool {
	return p.ImagePath != ""
}

// HasVideo reports whether a video artifact is linked
func (p *Product) HasVideo() bool {
	return p.VideoPath != ""
}

// ImageURL joins the public artifact base URL with the image path
func (p *Product) ImageURL(baseURL string) string {
	if !p.HasImage() {
		return ""
	}
	return joinURL(baseURL, p.ImagePath)
}

// VideoURL joins the public artifact base URL with the video path
func (p *Product) VideoURL(baseURL string) string {
	if !p.HasVideo() {
		return ""
	}
	return joinURL(baseURL, p.VideoPath)
}

// FormattedPrice renders the price as dollars with thousands separators, e.g. $1,234.50
func (p *Product) FormattedPrice() string {
	fixed := p.Price.StringFixed(PriceScale)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}

	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	return sign + "$" + b.String() + "." + frac
}

// Clone returns a deep copy safe to hand out of a store
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	if p.User != nil {
		u := *p.User
		c.User = &u
	}
	return &c
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
