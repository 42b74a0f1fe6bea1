package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cbtengine/internal/app/apiresp"
	"cbtengine/internal/exam"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reportService interface {
	SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error)
	ExportJSON(ctx context.Context, examID string, w io.Writer) error
	ExportXLSX(ctx context.Context, examID string) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	examID := strings.TrimSpace(chi.URLParam(r, "id"))
	if examID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return
	}
	sum, err := h.svc.SummaryByExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

// Export streams results as a file; ?format=xlsx selects a workbook,
// anything else JSON.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	examID := strings.TrimSpace(chi.URLParam(r, "id"))
	if examID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		raw, err := h.svc.ExportXLSX(r.Context(), examID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results-%s.xlsx"`, examID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}

	var buf bytes.Buffer
	if err := h.svc.ExportJSON(r.Context(), examID, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results-%s.json"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, exam.ErrExamNotFound) {
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
		return
	}
	apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
}
