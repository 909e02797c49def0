package dto

import (
	"testing"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductCommand_Validate(t *testing.T) {
	valid := func() *CreateProductCommand {
		return &CreateProductCommand{Title: "Lamp", Description: "d", Price: decimal.NewFromInt(1)}
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Image = &domain.MediaPayload{Data: []byte("x"), Extension: ".PNG"}
	c.Video = &domain.MediaPayload{Data: []byte("x"), Extension: "mov"}
	assert.NoError(t, c.Validate())

	c = valid()
	c.Image = &domain.MediaPayload{Data: make([]byte, MaxImageBytes+1), Extension: "jpg"}
	var ve *domain.ValidationError
	require.ErrorAs(t, c.Validate(), &ve)
	assert.Equal(t, "image", ve.Field)
	assert.Contains(t, ve.Message, "2048 kilobytes")

	c = valid()
	c.Video = &domain.MediaPayload{Data: []byte("x"), Extension: "mkv"}
	require.ErrorAs(t, c.Validate(), &ve)
	assert.Equal(t, "video", ve.Field)
}

func TestCreateProductCommand_Pending(t *testing.T) {
	c := &CreateProductCommand{}
	_, ok := c.Pending("p1")
	assert.False(t, ok)

	c.Video = &domain.MediaPayload{Extension: "mp4"}
	job, ok := c.Pending("p1")
	assert.True(t, ok)
	assert.Equal(t, "p1", job.ProductID)
	assert.Nil(t, job.Image)
}

func TestUpdateProductCommand(t *testing.T) {
	empty := ""
	assert.Error(t, (&UpdateProductCommand{Title: &empty}).Validate())
	assert.Error(t, (&UpdateProductCommand{Description: &empty}).Validate())
	assert.NoError(t, (&UpdateProductCommand{}).Validate())

	p := &domain.Product{Title: "Desk", Description: "old", Price: decimal.NewFromInt(3), ImagePath: "images/a.jpg"}
	price := decimal.RequireFromString("4.567")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	(&UpdateProductCommand{Price: &price}).ApplyTo(p, now)

	assert.Equal(t, "Desk", p.Title)
	assert.Equal(t, "old", p.Description)
	assert.Equal(t, "4.57", p.Price.StringFixed(2))
	assert.Equal(t, "images/a.jpg", p.ImagePath)
	assert.Equal(t, now, p.UpdatedAt)
}

func TestToProductPageResponse(t *testing.T) {
	page := &domain.ProductPage{
		Items: []*domain.Product{{
			ID:        "p1",
			Title:     "Lamp",
			Price:     decimal.RequireFromString("1234.5"),
			ImagePath: "images/a1.jpg",
			User:      &domain.User{ID: "u1", Name: "Ada"},
		}},
		Page:    2,
		PerPage: 11,
		HasMore: true,
	}

	resp := ToProductPageResponse(page, "http://cdn.local/storage/")
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "1234.50", resp.Data[0].Price)
	assert.Equal(t, "$1,234.50", resp.Data[0].FormattedPrice)
	assert.Equal(t, "http://cdn.local/storage/images/a1.jpg", resp.Data[0].ImageURL)
	assert.Empty(t, resp.Data[0].VideoURL)
	assert.Equal(t, "Ada", resp.Data[0].User.Name)
	assert.Equal(t, 2, resp.CurrentPage)
	require.NotNil(t, resp.NextPage)
	assert.Equal(t, 3, *resp.NextPage)

	page.HasMore = false
	assert.Nil(t, ToProductPageResponse(page, "").NextPage)
}
