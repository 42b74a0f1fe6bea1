package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cbtengine/internal/question"
	"cbtengine/internal/theory"

	"github.com/go-chi/chi/v5"
)

type mockExamService struct {
	startSessionFn     func(ctx context.Context, in StartSessionInput) (*Session, error)
	getSessionFn       func(ctx context.Context, sessionID string) (*Session, error)
	sessionQuestionsFn func(ctx context.Context, sessionID string) ([]question.StudentView, error)
	saveProgressFn     func(ctx context.Context, in SaveProgressInput) error
	recordAnswerFn     func(ctx context.Context, in RecordAnswerInput) error
	submitFn           func(ctx context.Context, in SubmitInput) (*Result, error)
	getResultFn        func(ctx context.Context, sessionID string) (*Result, error)
	createExamFn       func(ctx context.Context, in CreateExamInput) (*Exam, error)
	getExamFn          func(ctx context.Context, examID string) (*Exam, error)
	listResultsFn      func(ctx context.Context, examID string) ([]Result, error)
	previewTheoryFn    func(ctx context.Context, in TheoryPreviewInput) ([]theory.Slot, error)
}

func (m *mockExamService) StartSession(ctx context.Context, in StartSessionInput) (*Session, error) {
	if m.startSessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startSessionFn(ctx, in)
}

func (m *mockExamService) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if m.getSessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getSessionFn(ctx, sessionID)
}

func (m *mockExamService) SessionQuestions(ctx context.Context, sessionID string) ([]question.StudentView, error) {
	if m.sessionQuestionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.sessionQuestionsFn(ctx, sessionID)
}

func (m *mockExamService) SaveProgress(ctx context.Context, in SaveProgressInput) error {
	if m.saveProgressFn == nil {
		return errors.New("not implemented")
	}
	return m.saveProgressFn(ctx, in)
}

func (m *mockExamService) RecordAnswer(ctx context.Context, in RecordAnswerInput) error {
	if m.recordAnswerFn == nil {
		return errors.New("not implemented")
	}
	return m.recordAnswerFn(ctx, in)
}

func (m *mockExamService) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, in)
}

func (m *mockExamService) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	if m.getResultFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getResultFn(ctx, sessionID)
}

func (m *mockExamService) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	if m.createExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createExamFn(ctx, in)
}

func (m *mockExamService) GetExam(ctx context.Context, examID string) (*Exam, error) {
	if m.getExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getExamFn(ctx, examID)
}

func (m *mockExamService) ListResults(ctx context.Context, examID string) ([]Result, error) {
	if m.listResultsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listResultsFn(ctx, examID)
}

func (m *mockExamService) PreviewTheory(ctx context.Context, in TheoryPreviewInput) ([]theory.Slot, error) {
	if m.previewTheoryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.previewTheoryFn(ctx, in)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStartSessionPassesStudentIdentity(t *testing.T) {
	var got StartSessionInput
	h := NewHandler(&mockExamService{
		startSessionFn: func(ctx context.Context, in StartSessionInput) (*Session, error) {
			got = in
			return &Session{ID: "s-1", ExamID: in.ExamID, QuestionIDs: []string{"q1"}}, nil
		},
	})

	body := bytes.NewBufferString(`{"exam_id":"math-1","student_name":"Ada","student_id":"STU-7"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", body)
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got.ExamID != "math-1" || got.StudentName != "Ada" || got.StudentID != "STU-7" {
		t.Fatalf("unexpected input: %+v", got)
	}
	data, _ := decodeBody(t, w)["data"].(map[string]interface{})
	if data["id"] != "s-1" {
		t.Fatalf("expected session id in response, got %v", data["id"])
	}
}

func TestStartSessionPendingWriteIsAccepted(t *testing.T) {
	h := NewHandler(&mockExamService{
		startSessionFn: func(ctx context.Context, in StartSessionInput) (*Session, error) {
			return &Session{ID: "s-1", WritePending: true}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(`{"exam_id":"e"}`))
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}

func TestStartSessionRequiresExamID(t *testing.T) {
	called := false
	h := NewHandler(&mockExamService{
		startSessionFn: func(ctx context.Context, in StartSessionInput) (*Session, error) {
			called = true
			return nil, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if called {
		t.Fatalf("service must not be called")
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "exam not found", err: ErrExamNotFound, status: http.StatusNotFound},
		{name: "session not found", err: ErrSessionNotFound, status: http.StatusNotFound},
		{name: "already completed", err: ErrSessionAlreadyCompleted, status: http.StatusConflict},
		{name: "deadline not reached", err: ErrDeadlineNotReached, status: http.StatusConflict},
		{name: "invalid input wrapped", err: fmt.Errorf("%w: bad", ErrInvalidInput), status: http.StatusBadRequest},
		{name: "question not in session", err: ErrQuestionNotInSession, status: http.StatusBadRequest},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockExamService{
				submitFn: func(ctx context.Context, in SubmitInput) (*Result, error) { return nil, tc.err },
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/submit", nil)
			req = withChiParam(req, "id", "s-1")
			w := httptest.NewRecorder()
			h.Submit(w, req)

			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			body := decodeBody(t, w)
			if body["ok"] != false {
				t.Fatalf("expected ok=false")
			}
			if tc.status == http.StatusInternalServerError {
				errBody, _ := body["error"].(map[string]interface{})
				if errBody["message"] != "internal error" {
					t.Fatalf("internal errors must not leak, got %v", errBody["message"])
				}
			}
		})
	}
}

func TestSubmitIdempotentReturnsSameResult(t *testing.T) {
	fixed := &Result{
		ID:             "r-1",
		SessionID:      "s-1",
		ExamID:         "e-1",
		Score:          3,
		TotalPoints:    4,
		Percentage:     75,
		Passed:         true,
		SubmissionType: SubmissionStudent,
		CompletedAt:    time.Now().UTC(),
	}
	calls := 0
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Result, error) {
			calls++
			return fixed, nil
		},
	})

	callSubmit := func() map[string]interface{} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/submit", bytes.NewBufferString(`{"answers":{"q1":"A"}}`))
		req = withChiParam(req, "id", "s-1")
		w := httptest.NewRecorder()
		h.Submit(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		return decodeBody(t, w)
	}

	first := callSubmit()
	second := callSubmit()
	if calls != 2 {
		t.Fatalf("expected submit called twice, got %d", calls)
	}
	firstData, _ := json.Marshal(first["data"])
	secondData, _ := json.Marshal(second["data"])
	if string(firstData) != string(secondData) {
		t.Fatalf("expected identical results, got %s vs %s", firstData, secondData)
	}
}

func TestSubmitForwardsAnswersAndType(t *testing.T) {
	var got SubmitInput
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, in SubmitInput) (*Result, error) {
			got = in
			return &Result{ID: "r"}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-9/submit",
		bytes.NewBufferString(`{"answers":{"q1":"B"},"submission_type":"auto"}`))
	req = withChiParam(req, "id", "s-9")
	w := httptest.NewRecorder()
	h.Submit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.SessionID != "s-9" || got.Answers["q1"] != "B" || got.SubmissionType != SubmissionAuto {
		t.Fatalf("unexpected input: %+v", got)
	}
}

func TestSaveProgressOnCompletedSessionReturnsCurrentState(t *testing.T) {
	h := NewHandler(&mockExamService{
		saveProgressFn: func(ctx context.Context, in SaveProgressInput) error {
			return ErrSessionAlreadyCompleted
		},
		getSessionFn: func(ctx context.Context, sessionID string) (*Session, error) {
			return &Session{ID: sessionID, IsCompleted: true, Status: StatusCompleted}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/s-1/progress",
		bytes.NewBufferString(`{"answers":{"q1":"A"},"position":1}`))
	req = withChiParam(req, "id", "s-1")
	w := httptest.NewRecorder()
	h.SaveProgress(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	data, _ := decodeBody(t, w)["data"].(map[string]interface{})
	if data["status"] != string(StatusCompleted) {
		t.Fatalf("expected current session in conflict body, got %v", data)
	}
}

func TestSaveAnswerUsesPathQuestionID(t *testing.T) {
	var got RecordAnswerInput
	h := NewHandler(&mockExamService{
		recordAnswerFn: func(ctx context.Context, in RecordAnswerInput) error {
			got = in
			return nil
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/s-1/answers/q7",
		bytes.NewBufferString(`{"answer":"C","position":6}`))
	req = withChiParam(req, "id", "s-1")
	req = withChiParam(req, "questionID", "q7")
	w := httptest.NewRecorder()
	h.SaveAnswer(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.SessionID != "s-1" || got.QuestionID != "q7" || got.Answer != "C" || got.Position != 6 {
		t.Fatalf("unexpected input: %+v", got)
	}
}

func TestResultNotCompletedIsConflict(t *testing.T) {
	h := NewHandler(&mockExamService{
		getResultFn: func(ctx context.Context, sessionID string) (*Result, error) {
			return nil, ErrSessionNotCompleted
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1/result", nil)
	req = withChiParam(req, "id", "s-1")
	w := httptest.NewRecorder()
	h.Result(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestPreviewTheoryReportsBoundSlots(t *testing.T) {
	h := NewHandler(&mockExamService{
		previewTheoryFn: func(ctx context.Context, in TheoryPreviewInput) ([]theory.Slot, error) {
			return []theory.Slot{
				{ID: "1", Label: "1", Level: theory.LevelMain, QuestionID: "t1", Children: []theory.Slot{
					{ID: "1a", Label: "a", Level: theory.LevelSub},
				}},
			}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/theory/structure",
		bytes.NewBufferString(`{"mode":"auto","settings":{"total_main_questions":1,"include_alphabet":true}}`))
	w := httptest.NewRecorder()
	h.PreviewTheory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, _ := decodeBody(t, w)["data"].(map[string]interface{})
	if data["slots"] != float64(2) || data["bound_slots"] != float64(1) {
		t.Fatalf("unexpected counts: %v", data)
	}
}
