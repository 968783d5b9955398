package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnhq/kiln/cmd/api/config"
	"github.com/kilnhq/kiln/lib/builds"
	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/instances"
	"github.com/kilnhq/kiln/lib/logger"
)

// ApiService holds the managers behind the HTTP API.
type ApiService struct {
	Config          *config.Config
	BuildManager    builds.Manager
	ImageManager    images.Manager
	InstanceManager instances.Manager
}

// New creates a new ApiService
func New(
	config *config.Config,
	buildManager builds.Manager,
	imageManager images.Manager,
	instanceManager instances.Manager,
) *ApiService {
	return &ApiService{
		Config:          config,
		BuildManager:    buildManager,
		ImageManager:    imageManager,
		InstanceManager: instanceManager,
	}
}

// Routes registers the resource routes on the router. Healthz is
// registered separately so it stays outside auth.
func (s *ApiService) Routes(r chi.Router) {
	r.Route("/builds", func(r chi.Router) {
		r.Post("/", s.CreateBuild)
		r.Get("/", s.ListBuilds)
		r.Get("/{id}", s.GetBuild)
		r.Delete("/{id}", s.CancelBuild)
		r.Get("/{id}/logs", s.GetBuildLogs)
	})

	r.Route("/images", func(r chi.Router) {
		r.Get("/", s.ListImages)
		r.Get("/{id}", s.GetImage)
		r.Delete("/{id}", s.DeleteImage)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Post("/", s.CreateInstance)
		r.Get("/", s.ListInstances)
		r.Get("/{id}", s.GetInstance)
		r.Delete("/{id}", s.DeleteInstance)
		r.Get("/{id}/logs", s.GetInstanceLogs)
	})
}

// Healthz reports service liveness.
func (s *ApiService) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
