package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnhq/kiln/lib/images"
)

// ListImages lists all images
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.ImageManager.ListImages(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

// GetImage gets image details
func (s *ApiService) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.ImageManager.GetImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// DeleteImage deletes an image
func (s *ApiService) DeleteImage(w http.ResponseWriter, r *http.Request) {
	err := s.ImageManager.DeleteImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
