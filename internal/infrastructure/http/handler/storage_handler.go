package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/artifact"
	"github.com/mrops-br/catalog-media-api/internal/infrastructure/http/response"
)

// StorageHandler serves stored artifacts under their public paths
type StorageHandler struct {
	store  domain.ArtifactStore
	logger *slog.Logger
}

func NewStorageHandler(store domain.ArtifactStore, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{store: store, logger: logger}
}

// ServeArtifact handles GET /storage/*
func (h *StorageHandler) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")

	rc, err := h.store.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidPath) {
			response.Message(w, http.StatusNotFound, "artifact not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to open artifact",
			slog.String("path", name),
			slog.String("error", err.Error()),
		)
		response.Message(w, http.StatusInternalServerError, "Failed to read artifact")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifact.ContentType(name))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "Artifact stream interrupted",
			slog.String("path", name),
			slog.String("error", err.Error()),
		)
	}
}
