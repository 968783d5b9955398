package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/instances"
)

// CreateInstance launches a supervised process from an image.
func (s *ApiService) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req instances.CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Errorf("decode request body: %w", err))
		return
	}
	if req.ImageID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", errors.New("image_id is required"))
		return
	}

	inst, err := s.InstanceManager.CreateInstance(r.Context(), req)
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// ListInstances lists all instances.
func (s *ApiService) ListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.InstanceManager.ListInstances(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetInstance returns an instance with its current supervision state.
func (s *ApiService) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.InstanceManager.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, instances.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DeleteInstance stops the supervised process and removes the instance.
func (s *ApiService) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	err := s.InstanceManager.DeleteInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, instances.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetInstanceLogs returns the tail of an instance's console output.
func (s *ApiService) GetInstanceLogs(w http.ResponseWriter, r *http.Request) {
	tail := 0
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid tail parameter: %q", v))
			return
		}
		tail = n
	}

	lines, err := s.InstanceManager.GetInstanceLogs(r.Context(), chi.URLParam(r, "id"), tail)
	if err != nil {
		if errors.Is(err, instances.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		_, _ = w.Write([]byte(line + "\n"))
	}
}
