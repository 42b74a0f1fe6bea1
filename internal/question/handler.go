package question

import (
	"context"
	"errors"
	"net/http"

	"cbtengine/internal/app/apiresp"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	BulkUpsert(ctx context.Context, items []Question) ([]Question, error)
	List(ctx context.Context, f Filter) ([]Question, error)
}

type bulkUpsertRequest struct {
	Questions []Question `json:"questions"`
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) BulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req bulkUpsertRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Questions) == 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "questions is required")
		return
	}

	items, err := h.svc.BulkUpsert(r.Context(), req.Questions)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInUse):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"count": len(items), "questions": items})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		ClassLevel: q.Get("class_level"),
		Subject:    q.Get("subject"),
	}
	if raw := q.Get("type"); raw != "" {
		if f.Type = NormalizeType(raw); f.Type == "" {
			apiresp.WriteError(w, r, http.StatusBadRequest, "unknown question type")
			return
		}
	}

	items, err := h.svc.List(r.Context(), f)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

