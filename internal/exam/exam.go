package exam

import (
	"errors"
	"strings"
	"time"

	"cbtengine/internal/theory"
)

var (
	ErrExamNotFound            = errors.New("exam not found")
	ErrExamExists              = errors.New("exam already exists")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionAlreadyCompleted = errors.New("session already completed")
	ErrSessionNotCompleted     = errors.New("session not completed")
	ErrResultNotFound          = errors.New("result not found")
	ErrQuestionNotInSession    = errors.New("question not in session")
	ErrDeadlineNotReached      = errors.New("deadline not reached")
	ErrInvalidInput            = errors.New("invalid input")
	// ErrPersistenceTimeout is logged when a durable write is still in flight
	// after the bounded wait. Callers continue with the store-assigned id.
	ErrPersistenceTimeout = errors.New("persistence timeout")
)

type ExamType string

const (
	ExamTypeObjectives ExamType = "Objectives"
	ExamTypeTheory     ExamType = "Theory"
)

func NormalizeExamType(v string) ExamType {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "objectives", "objective":
		return ExamTypeObjectives
	case "theory":
		return ExamTypeTheory
	default:
		return ""
	}
}

type TheoryMode string

const (
	TheoryModeAuto   TheoryMode = "auto"
	TheoryModeManual TheoryMode = "manual"
)

type TheoryConfig struct {
	Mode      TheoryMode      `json:"mode"`
	Settings  theory.Settings `json:"settings"`
	Structure []theory.Slot   `json:"structure,omitempty"`
}

type Exam struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Subject         string        `json:"subject,omitempty"`
	ClassLevel      string        `json:"class_level,omitempty"`
	Term            string        `json:"term,omitempty"`
	Type            ExamType      `json:"exam_type"`
	DurationMinutes int           `json:"duration_minutes"`
	PassingScore    int           `json:"passing_score"`
	QuestionIDs     []string      `json:"question_ids"`
	DisplayCount    *int          `json:"display_count,omitempty"`
	Theory          *TheoryConfig `json:"theory,omitempty"`
	TotalPoints     int           `json:"total_points"`
	IsActive        bool          `json:"is_active"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e Exam) displayLimit() int {
	if e.DisplayCount == nil {
		return 0
	}
	return *e.DisplayCount
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type SubmissionType string

const (
	SubmissionStudent SubmissionType = "student"
	SubmissionAuto    SubmissionType = "auto"
)

func normalizeSubmissionType(v SubmissionType) SubmissionType {
	switch strings.ToLower(strings.TrimSpace(string(v))) {
	case "", "student":
		return SubmissionStudent
	case "auto":
		return SubmissionAuto
	default:
		return ""
	}
}

// Session is one student's attempt. QuestionIDs is decided at creation and
// never regenerated.
type Session struct {
	ID              string            `json:"id"`
	ExamID          string            `json:"exam_id"`
	StudentName     string            `json:"student_name"`
	StudentID       string            `json:"student_id"`
	QuestionIDs     []string          `json:"question_ids"`
	Answers         map[string]string `json:"answers"`
	CurrentPosition int               `json:"current_position"`
	StartedAt       time.Time         `json:"started_at"`
	IsCompleted     bool              `json:"is_completed"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`

	Status        Status     `json:"status"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
	RemainingSecs int64      `json:"remaining_secs"`
	WritePending  bool       `json:"write_pending,omitempty"`
}

func (s *Session) hasQuestion(id string) bool {
	for _, q := range s.QuestionIDs {
		if q == id {
			return true
		}
	}
	return false
}

// Result is written once per session and never recomputed.
type Result struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	ExamID         string            `json:"exam_id"`
	StudentName    string            `json:"student_name"`
	StudentID      string            `json:"student_id"`
	Score          int               `json:"score"`
	TotalPoints    int               `json:"total_points"`
	Percentage     int               `json:"percentage"`
	Passed         bool              `json:"passed"`
	CorrectAnswers map[string]bool   `json:"correct_answers"`
	Answers        map[string]string `json:"answers"`
	SubmissionType SubmissionType    `json:"submission_type"`
	CompletedAt    time.Time         `json:"completed_at"`
	WritePending   bool              `json:"write_pending,omitempty"`
}
