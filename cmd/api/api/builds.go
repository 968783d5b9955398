package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnhq/kiln/lib/builds"
)

type createBuildBody struct {
	Name       string `json:"name"`
	ContextDir string `json:"context_dir,omitempty"`
	Recipe     string `json:"recipe"`
}

// CreateBuild validates the recipe and starts or queues a build.
func (s *ApiService) CreateBuild(w http.ResponseWriter, r *http.Request) {
	var body createBuildBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Errorf("decode request body: %w", err))
		return
	}
	if body.Recipe == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", errors.New("recipe is required"))
		return
	}

	build, err := s.BuildManager.CreateBuild(r.Context(), builds.CreateBuildRequest{
		Name:       body.Name,
		ContextDir: body.ContextDir,
	}, []byte(body.Recipe))
	if err != nil {
		// Parse and planning failures are reported before execution begins.
		writeError(w, r, http.StatusBadRequest, "invalid_recipe", err)
		return
	}

	writeJSON(w, http.StatusCreated, build)
}

// ListBuilds lists all builds.
func (s *ApiService) ListBuilds(w http.ResponseWriter, r *http.Request) {
	list, err := s.BuildManager.ListBuilds(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetBuild returns a build by ID.
func (s *ApiService) GetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.BuildManager.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, builds.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// CancelBuild cancels a pending or running build.
func (s *ApiService) CancelBuild(w http.ResponseWriter, r *http.Request) {
	err := s.BuildManager.CancelBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, builds.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", err)
		case errors.Is(err, builds.ErrNotCancelable):
			writeError(w, r, http.StatusConflict, "not_cancelable", err)
		default:
			writeError(w, r, http.StatusInternalServerError, "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBuildLogs returns the captured build output.
func (s *ApiService) GetBuildLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.BuildManager.GetBuildLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, builds.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "error", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(logs)
}
