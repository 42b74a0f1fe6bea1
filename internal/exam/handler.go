package exam

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"cbtengine/internal/app/apiresp"
	"cbtengine/internal/question"
	"cbtengine/internal/theory"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	StartSession(ctx context.Context, in StartSessionInput) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SessionQuestions(ctx context.Context, sessionID string) ([]question.StudentView, error)
	SaveProgress(ctx context.Context, in SaveProgressInput) error
	RecordAnswer(ctx context.Context, in RecordAnswerInput) error
	Submit(ctx context.Context, in SubmitInput) (*Result, error)
	GetResult(ctx context.Context, sessionID string) (*Result, error)
	CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error)
	GetExam(ctx context.Context, examID string) (*Exam, error)
	ListResults(ctx context.Context, examID string) ([]Result, error)
	PreviewTheory(ctx context.Context, in TheoryPreviewInput) ([]theory.Slot, error)
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ExamID) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "exam_id is required")
		return
	}

	sess, err := h.svc.StartSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if sess.WritePending {
		status = http.StatusAccepted
	}
	apiresp.WriteOK(w, r, status, sess)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sess)
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	items, err := h.svc.SessionQuestions(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req SaveProgressInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = sessionID

	if err := h.svc.SaveProgress(r.Context(), req); err != nil {
		h.writeMutationError(w, r, sessionID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"saved": true})
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	questionID := strings.TrimSpace(chi.URLParam(r, "questionID"))
	if questionID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "question id is required")
		return
	}
	var req RecordAnswerInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = sessionID
	req.QuestionID = questionID

	if err := h.svc.RecordAnswer(r.Context(), req); err != nil {
		h.writeMutationError(w, r, sessionID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"saved": true})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req SubmitInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = sessionID

	res, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.WritePending {
		status = http.StatusAccepted
	}
	apiresp.WriteOK(w, r, status, res)
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetResult(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var req CreateExamInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ex, err := h.svc.CreateExam(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, ex)
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID := strings.TrimSpace(chi.URLParam(r, "id"))
	if examID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return
	}
	ex, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, ex)
}

func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	examID := strings.TrimSpace(chi.URLParam(r, "id"))
	if examID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return
	}
	items, err := h.svc.ListResults(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) PreviewTheory(w http.ResponseWriter, r *http.Request) {
	var req TheoryPreviewInput
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	structure, err := h.svc.PreviewTheory(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	total, bound := theory.CountSlots(structure)
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"structure":    structure,
		"question_ids": theory.QuestionIDs(structure),
		"slots":        total,
		"bound_slots":  bound,
	})
}

// writeMutationError answers a rejected write on a completed session with the
// session as it is now.
func (h *Handler) writeMutationError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	if !errors.Is(err, ErrSessionAlreadyCompleted) {
		writeServiceError(w, r, err)
		return
	}
	sess, getErr := h.svc.GetSession(r.Context(), sessionID)
	if getErr != nil {
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		return
	}
	apiresp.WriteConflict(w, r, err.Error(), sess)
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrExamNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrResultNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionAlreadyCompleted),
		errors.Is(err, ErrSessionNotCompleted),
		errors.Is(err, ErrDeadlineNotReached),
		errors.Is(err, ErrExamExists):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrQuestionNotInSession):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
