package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laurencee/wow-recorder/internal/video"
	"github.com/laurencee/wow-recorder/internal/videoqueue"
)

var (
	// ErrNotFound is returned by a Controller for unknown videos.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned by a Controller for unusable arguments.
	ErrBadRequest = errors.New("bad request")
)

// Controller is the part of the recorder core the HTTP surface drives.
type Controller interface {
	Reconcile()
	Test(ctx context.Context, flavour string, category video.Category) error
	Suspend()
	Resume()
	Videos(ctx context.Context) ([]video.Video, error)
	Protect(ctx context.Context, name string, protected bool) error
	Tag(ctx context.Context, name, tag string) error
	Delete(ctx context.Context, name string) error
	Jobs() []videoqueue.Job
}

// Handler exposes the recorder over HTTP using go-chi.
type Handler struct {
	ctl Controller
	hub *Hub
	log *slog.Logger
}

// NewHandler returns a Handler serving hub's state and driving ctl.
func NewHandler(ctl Controller, hub *Hub, log *slog.Logger) *Handler {
	return &Handler{ctl: ctl, hub: hub, log: log}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/jobs", h.GetJobs)
	r.Post("/reconcile", h.Reconcile)
	r.Post("/test/{flavour}", h.Test)
	r.Post("/power/{event}", h.Power)
	r.Route("/videos", func(r chi.Router) {
		r.Get("/", h.ListVideos)
		r.Post("/{name}/protect", h.Protect)
		r.Post("/{name}/tag", h.Tag)
		r.Delete("/{name}", h.DeleteVideo)
	})
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Snapshot())
}

// GetJobs handles GET /jobs.
func (h *Handler) GetJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Jobs())
}

// Reconcile handles POST /reconcile. The pass runs in the background.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.ctl.Reconcile()
	w.WriteHeader(http.StatusAccepted)
}

// Test handles POST /test/{flavour}?category=<category>.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	flavour := chi.URLParam(r, "flavour")
	category := video.Category(r.URL.Query().Get("category"))
	if category == "" {
		h.log.Debug("test without category", slog.String("flavour", flavour))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.ctl.Test(r.Context(), flavour, category); err != nil {
		h.fail(w, "test activity failed", err, slog.String("flavour", flavour))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Power handles POST /power/{suspend|resume}.
func (h *Handler) Power(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "event") {
	case "suspend":
		h.ctl.Suspend()
	case "resume":
		h.ctl.Resume()
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListVideos handles GET /videos.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.ctl.Videos(r.Context())
	if err != nil {
		h.fail(w, "list videos failed", err)
		return
	}
	if videos == nil {
		videos = []video.Video{}
	}
	writeJSON(w, http.StatusOK, videos)
}

// Protect handles POST /videos/{name}/protect. Body: {"protected": true}.
func (h *Handler) Protect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Protected bool `json:"protected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid protect body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.ctl.Protect(r.Context(), name, body.Protected); err != nil {
		h.fail(w, "protect video failed", err, slog.String("name", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tag handles POST /videos/{name}/tag. Body: {"tag": "wipe at 10%"}.
func (h *Handler) Tag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.log.Debug("invalid tag body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.ctl.Tag(r.Context(), name, body.Tag); err != nil {
		h.fail(w, "tag video failed", err, slog.String("name", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteVideo handles DELETE /videos/{name}.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.ctl.Delete(r.Context(), name); err != nil {
		h.fail(w, "delete video failed", err, slog.String("name", name))
		return
	}
	h.log.Info("video deleted", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error, attrs ...any) {
	switch {
	case errors.Is(err, ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrBadRequest):
		h.log.Info(msg, append(attrs, slog.String("error", err.Error()))...)
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.log.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
