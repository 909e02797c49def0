package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mrops-br/catalog-media-api/internal/app/dto"
	"github.com/mrops-br/catalog-media-api/internal/app/service"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/http/response"
	"github.com/shopspring/decimal"
)

const multipartMemory = 32 << 20

// Client-facing messages for failures the caller cannot act on
const (
	msgCreateFailed = "Product creation failed, please try again later."
	msgUpdateFailed = "Failed to update product. Please try again later."
	msgDeleteFailed = "Failed to delete product. Please try again later."
	msgReadFailed   = "Failed to retrieve products. Please try again later."
	msgNotFound     = "Product not found"
)

// ProductHandler handles HTTP requests for products
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(service *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		service: service,
		logger:  logger,
	}
}

// CreateProduct handles POST /products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProductRequest(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	cmd, err := req.createCommand()
	if err != nil {
		h.fail(w, r, err, msgCreateFailed)
		return
	}

	product, err := h.service.Create(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err, msgCreateFailed)
		return
	}

	response.JSON(w, http.StatusCreated, product)
}

// UpdateProduct handles PUT and PATCH /products/{id}; absent fields are kept
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := decodeProductRequest(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	cmd, err := req.updateCommand()
	if err != nil {
		h.fail(w, r, err, msgUpdateFailed)
		return
	}

	product, err := h.service.Update(r.Context(), id, cmd)
	if err != nil {
		h.fail(w, r, err, msgUpdateFailed)
		return
	}

	response.JSON(w, http.StatusOK, product)
}

// DeleteProduct handles DELETE /products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, msgDeleteFailed)
		return
	}

	response.NoContent(w)
}

// GetProduct handles GET /products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Show(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, msgReadFailed)
		return
	}

	response.JSON(w, http.StatusOK, product)
}

// ListProducts handles GET /products?page=&search=&include_user=
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	products, err := h.service.List(r.Context(), dto.ListFilters{
		Page:        page,
		Search:      strings.TrimSpace(query.Get("search")),
		IncludeUser: query.Get("include_user") == "true",
	})
	if err != nil {
		h.fail(w, r, err, msgReadFailed)
		return
	}

	response.JSON(w, http.StatusOK, products)
}

func (h *ProductHandler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Message(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body may not exceed %d bytes", tooLarge.Limit))
		return
	}

	h.logger.WarnContext(r.Context(), "Failed to decode request body",
		slog.String("error", err.Error()),
	)
	response.Error(w, http.StatusBadRequest, err)
}

// fail maps a use-case error to its response. Anything that is neither a
// validation problem nor a missing product is reported with message only.
func (h *ProductHandler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Validation(w, ve.Field, ve.Message)
	case errors.Is(err, domain.ErrProductNotFound):
		response.Message(w, http.StatusNotFound, msgNotFound)
	default:
		h.logger.ErrorContext(r.Context(), "Request failed",
			slog.String("error", err.Error()),
		)
		response.Message(w, http.StatusInternalServerError, message)
	}
}

// productRequest is the decoded body of a create or update call; nil
// fields were not sent
type productRequest struct {
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Price       *looseString  `json:"price"`
	ImagePath   *string       `json:"image_path"`
	VideoPath   *string       `json:"video_path"`
	UserID      *string       `json:"user_id"`
	Image       *mediaRequest `json:"image"`
	Video       *mediaRequest `json:"video"`
}

// mediaRequest is an upload sent inside a JSON body, data base64 encoded
type mediaRequest struct {
	Data      []byte `json:"data"`
	Extension string `json:"extension"`
}

// looseString accepts a JSON string or a bare number
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

func decodeProductRequest(r *http.Request) (*productRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
		req := formRequest(r.MultipartForm.Value)
		var err error
		if req.Image, err = formFile(r.MultipartForm, "image"); err != nil {
			return nil, err
		}
		if req.Video, err = formFile(r.MultipartForm, "video"); err != nil {
			return nil, err
		}
		return req, nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return formRequest(r.PostForm), nil
	default:
		var req productRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return &req, nil
	}
}

func formRequest(values map[string][]string) *productRequest {
	field := func(key string) *string {
		v, ok := values[key]
		if !ok || len(v) == 0 {
			return nil
		}
		return &v[0]
	}

	req := &productRequest{
		Title:       field("title"),
		Description: field("description"),
		ImagePath:   field("image_path"),
		VideoPath:   field("video_path"),
		UserID:      field("user_id"),
	}
	if price := field("price"); price != nil {
		p := looseString(*price)
		req.Price = &p
	}
	return req
}

func formFile(form *multipart.Form, name string) (*mediaRequest, error) {
	files := form.File[name]
	if len(files) == 0 {
		return nil, nil
	}

	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s upload: %w", name, err)
	}
	defer f.Close()

	// One byte past the largest allowed upload is enough to reject it
	data, err := io.ReadAll(io.LimitReader(f, dto.MaxVideoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", name, err)
	}

	return &mediaRequest{Data: data, Extension: filepath.Ext(fh.Filename)}, nil
}

func (req *productRequest) createCommand() (*dto.CreateProductCommand, error) {
	if req.Price == nil || strings.TrimSpace(string(*req.Price)) == "" {
		return nil, &domain.ValidationError{Field: "price", Message: "price is required"}
	}
	price, err := parsePrice(*req.Price)
	if err != nil {
		return nil, err
	}

	return &dto.CreateProductCommand{
		Title:       deref(req.Title),
		Description: deref(req.Description),
		Price:       price,
		Image:       req.Image.payload(),
		Video:       req.Video.payload(),
		ImagePath:   deref(req.ImagePath),
		VideoPath:   deref(req.VideoPath),
		UserID:      deref(req.UserID),
	}, nil
}

func (req *productRequest) updateCommand() (*dto.UpdateProductCommand, error) {
	cmd := &dto.UpdateProductCommand{
		Title:       req.Title,
		Description: req.Description,
		Image:       req.Image.payload(),
		Video:       req.Video.payload(),
		ImagePath:   req.ImagePath,
		VideoPath:   req.VideoPath,
	}

	if req.Price != nil {
		if strings.TrimSpace(string(*req.Price)) == "" {
			return nil, &domain.ValidationError{Field: "price", Message: "price is required"}
		}
		price, err := parsePrice(*req.Price)
		if err != nil {
			return nil, err
		}
		cmd.Price = &price
	}

	return cmd, nil
}

func (m *mediaRequest) payload() *domain.MediaPayload {
	if m == nil {
		return nil
	}
	return &domain.MediaPayload{Data: m.Data, Extension: m.Extension}
}

func parsePrice(raw looseString) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(string(raw)))
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Field: "price", Message: "price must be a number"}
	}
	return price, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
