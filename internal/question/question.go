package question

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeMultipleChoice Type = "multiple_choice"
	TypeTrueFalse      Type = "true_false"
	TypeShortAnswer    Type = "short_answer"
	TypeTheory         Type = "theory"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("question not found")
	ErrInUse        = errors.New("question is used by an exam")
)

// Question is immutable once an in-progress session references it.
type Question struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Type          Type      `json:"type"`
	Options       []string  `json:"options,omitempty"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	Points        int       `json:"points"`
	ClassLevel    string    `json:"class_level,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Term          string    `json:"term,omitempty"`
	ExamType      string    `json:"exam_type,omitempty"`
	Difficulty    string    `json:"difficulty,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StudentView is what a candidate sees: no answer key.
type StudentView struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Type     Type     `json:"type"`
	Options  []string `json:"options,omitempty"`
	Points   int      `json:"points"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Filter selects questions by classification. Empty fields match anything.
type Filter struct {
	ClassLevel string
	Subject    string
	Type       Type
}

// EffectivePoints is the weight used when grading; unset points count as 1.
func (q Question) EffectivePoints() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

func (q Question) IsTheory() bool {
	return q.Type == TypeTheory
}

func (q Question) StudentView() StudentView {
	return StudentView{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Options:  q.Options,
		Points:   q.EffectivePoints(),
		ImageURL: q.ImageURL,
	}
}

// sameContent reports whether two questions grade and display identically.
func sameContent(a, b Question) bool {
	if len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return a.Text == b.Text &&
		a.Type == b.Type &&
		a.CorrectAnswer == b.CorrectAnswer &&
		a.EffectivePoints() == b.EffectivePoints() &&
		a.ClassLevel == b.ClassLevel &&
		a.Subject == b.Subject &&
		a.Term == b.Term &&
		a.ExamType == b.ExamType &&
		a.Difficulty == b.Difficulty &&
		a.ImageURL == b.ImageURL
}

func NormalizeType(v string) Type {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	switch v {
	case "multiple_choice", "multiplechoice", "mcq", "objective":
		return TypeMultipleChoice
	case "true_false", "truefalse", "boolean":
		return TypeTrueFalse
	case "short_answer", "shortanswer", "fill_in":
		return TypeShortAnswer
	case "theory", "essay":
		return TypeTheory
	default:
		return ""
	}
}

// Normalize trims and validates a question before it is stored.
func Normalize(in Question) (Question, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Text = strings.TrimSpace(in.Text)
	in.Type = NormalizeType(string(in.Type))
	in.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)
	in.ClassLevel = strings.TrimSpace(in.ClassLevel)
	in.Subject = strings.TrimSpace(in.Subject)
	in.Term = strings.TrimSpace(in.Term)
	in.ExamType = strings.TrimSpace(in.ExamType)
	in.Difficulty = strings.TrimSpace(in.Difficulty)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Points <= 0 {
		in.Points = 1
	}

	if in.Text == "" {
		return in, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	options := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}

	switch in.Type {
	case TypeMultipleChoice:
		if len(options) < 2 {
			return in, fmt.Errorf("%w: multiple choice needs at least two options", ErrInvalidInput)
		}
		if !containsFold(options, in.CorrectAnswer) {
			return in, fmt.Errorf("%w: correct answer must be one of the options", ErrInvalidInput)
		}
		in.Options = options
	case TypeTrueFalse:
		if !strings.EqualFold(in.CorrectAnswer, "true") && !strings.EqualFold(in.CorrectAnswer, "false") {
			return in, fmt.Errorf("%w: true/false answer must be true or false", ErrInvalidInput)
		}
		in.Options = []string{"True", "False"}
	case TypeShortAnswer:
		if in.CorrectAnswer == "" {
			return in, fmt.Errorf("%w: short answer needs a correct answer", ErrInvalidInput)
		}
		in.Options = nil
	case TypeTheory:
		in.Options = nil
	default:
		return in, fmt.Errorf("%w: unknown question type", ErrInvalidInput)
	}

	return in, nil
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
