package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/sirupsen/logrus"
)

// IndexController reports on and warms the gallery index.
type IndexController interface {
	Status(ctx context.Context) gallery.IndexStats
	Warm(ctx context.Context, progress gallery.Progress) (gallery.IndexStats, error)
}

// SystemInfo is the static part of the system report.
type SystemInfo struct {
	Version         string  `json:"version"`
	DetectorBackend string  `json:"detector_backend"`
	EmbedderBackend string  `json:"embedder_backend"`
	Threshold       float64 `json:"threshold"`
}

// SystemResponse describes the running service.
type SystemResponse struct {
	Service    string             `json:"service"`
	Identities int                `json:"identities"`
	Index      gallery.IndexStats `json:"index"`
	Endpoints  []string           `json:"endpoints"`
	SystemInfo
}

// endpoints lists the public API for the system report.
var endpoints = []string{
	"GET /api/health",
	"GET /api/faces",
	"POST /api/faces/{name}",
	"DELETE /api/faces/{name}",
	"POST /api/recognize",
	"GET /api/system",
	"POST /api/index/warm",
}

// SystemHandler handles the system and index endpoints.
type SystemHandler struct {
	info    SystemInfo
	manager FaceManager
	index   IndexController
	log     logrus.FieldLogger
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(info SystemInfo, manager FaceManager, index IndexController, log logrus.FieldLogger) *SystemHandler {
	return &SystemHandler{info: info, manager: manager, index: index, log: log}
}

// Get reports backends, model, threshold and index state.
func (h *SystemHandler) Get(w http.ResponseWriter, r *http.Request) {
	names, err := h.manager.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to list identities")
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	respondJSON(w, http.StatusOK, SystemResponse{
		Service:    ServiceName,
		Identities: len(names),
		Index:      h.index.Status(r.Context()),
		Endpoints:  endpoints,
		SystemInfo: h.info,
	})
}

// WarmIndex rebuilds the gallery index now instead of on the next match.
func (h *SystemHandler) WarmIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := h.index.Warm(r.Context(), nil)
	if err != nil {
		h.log.WithError(err).Error("failed to warm gallery index")
		respondError(w, http.StatusServiceUnavailable, "failed to build gallery index")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
