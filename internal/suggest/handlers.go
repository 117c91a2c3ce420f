package suggest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/arkastore/backend-promo/internal/common"
)

// Handler exposes the suggestion surface: kick off a generation run and
// browse the resulting drafts.
type Handler struct {
	Client *asynq.Client
	Store  Store
}

// Routes mounts the suggestion endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/generate", h.Generate)
	return r
}

// Generate enqueues a background generation run.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.Client == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "task client not configured", nil)
		return
	}
	info, err := h.Client.EnqueueContext(r.Context(), NewGenerateTask())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to enqueue generation", nil)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"taskId": info.ID}})
}

// List returns recent drafts, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "draft store not configured", nil)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	drafts, err := h.Store.ListDrafts(r.Context(), limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list drafts", nil)
		return
	}
	if drafts == nil {
		drafts = []Draft{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": drafts})
}
