package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cbtengine/internal/question"
	"cbtengine/internal/theory"
)

type CreateExamInput struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Subject         string        `json:"subject"`
	ClassLevel      string        `json:"class_level"`
	Term            string        `json:"term"`
	ExamType        string        `json:"exam_type"`
	DurationMinutes int           `json:"duration_minutes"`
	PassingScore    int           `json:"passing_score"`
	QuestionIDs     []string      `json:"question_ids"`
	DisplayCount    *int          `json:"display_count"`
	Theory          *TheoryConfig `json:"theory"`
	Inactive        bool          `json:"inactive"`
}

// CreateExam validates and stores an exam definition. Objective exams with an
// empty pool and a display count draw their pool from every matching
// question; theory exams take their pool from the bound outline slots, which
// may be none.
func (s *Service) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	ex := &Exam{
		ID:              strings.TrimSpace(in.ID),
		Title:           strings.TrimSpace(in.Title),
		Subject:         strings.TrimSpace(in.Subject),
		ClassLevel:      strings.TrimSpace(in.ClassLevel),
		Term:            strings.TrimSpace(in.Term),
		Type:            NormalizeExamType(in.ExamType),
		DurationMinutes: in.DurationMinutes,
		PassingScore:    in.PassingScore,
		DisplayCount:    in.DisplayCount,
		IsActive:        !in.Inactive,
		CreatedAt:       s.now().UTC(),
	}
	if ex.ID == "" {
		ex.ID = s.store.NewID()
	}

	switch {
	case ex.Title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case ex.Type == "":
		return nil, fmt.Errorf("%w: unknown exam type %q", ErrInvalidInput, in.ExamType)
	case ex.DurationMinutes <= 0:
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
	case ex.PassingScore < 0 || ex.PassingScore > 100:
		return nil, fmt.Errorf("%w: passing_score must be between 0 and 100", ErrInvalidInput)
	case ex.DisplayCount != nil && *ex.DisplayCount < 0:
		return nil, fmt.Errorf("%w: display_count must not be negative", ErrInvalidInput)
	}

	var err error
	if ex.Type == ExamTypeTheory {
		err = s.buildTheoryPool(ctx, ex, in.Theory)
	} else {
		err = s.buildObjectivePool(ctx, ex, in.QuestionIDs)
	}
	if err != nil {
		return nil, err
	}
	// An outline with nothing bound is still an exam: its slots stay
	// placeholders and it grades to zero.
	if len(ex.QuestionIDs) == 0 && ex.Type != ExamTypeTheory {
		return nil, fmt.Errorf("%w: exam has no questions", ErrInvalidInput)
	}

	found, err := s.questions.GetByIDs(ctx, ex.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load exam questions: %w", err)
	}
	for _, id := range ex.QuestionIDs {
		q, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question %s", ErrInvalidInput, id)
		}
		ex.TotalPoints += q.EffectivePoints()
	}

	if err := s.store.CreateExam(ctx, ex); err != nil {
		return nil, err
	}
	s.logger.Info("exam created",
		"exam_id", ex.ID,
		"exam_type", string(ex.Type),
		"questions", len(ex.QuestionIDs),
		"total_points", ex.TotalPoints,
	)
	return ex, nil
}

func (s *Service) GetExam(ctx context.Context, examID string) (*Exam, error) {
	return s.store.GetExam(ctx, strings.TrimSpace(examID))
}

func (s *Service) buildObjectivePool(ctx context.Context, ex *Exam, ids []string) error {
	ex.QuestionIDs = dedupe(ids)
	if len(ex.QuestionIDs) > 0 || ex.displayLimit() == 0 {
		return nil
	}
	if ex.ClassLevel == "" || ex.Subject == "" {
		return fmt.Errorf("%w: class_level and subject are required to build the pool", ErrInvalidInput)
	}
	matching, err := s.questions.List(ctx, question.Filter{ClassLevel: ex.ClassLevel, Subject: ex.Subject})
	if err != nil {
		return fmt.Errorf("list pool questions: %w", err)
	}
	for _, q := range matching {
		if !q.IsTheory() {
			ex.QuestionIDs = append(ex.QuestionIDs, q.ID)
		}
	}
	return nil
}

func (s *Service) buildTheoryPool(ctx context.Context, ex *Exam, cfg *TheoryConfig) error {
	if cfg == nil {
		cfg = &TheoryConfig{Mode: TheoryModeAuto, Settings: theory.DefaultSettings()}
	}
	structure, err := s.PreviewTheory(ctx, TheoryPreviewInput{
		Mode:       cfg.Mode,
		Settings:   cfg.Settings,
		Structure:  cfg.Structure,
		ClassLevel: ex.ClassLevel,
		Subject:    ex.Subject,
	})
	if err != nil {
		return err
	}
	ex.Theory = &TheoryConfig{Mode: cfg.Mode, Settings: cfg.Settings, Structure: structure}
	if ex.Theory.Mode == "" {
		ex.Theory.Mode = TheoryModeAuto
	}
	ex.QuestionIDs = theory.QuestionIDs(structure)
	// Display count has no meaning for an outline.
	ex.DisplayCount = nil
	return nil
}

type TheoryPreviewInput struct {
	Mode       TheoryMode      `json:"mode"`
	Settings   theory.Settings `json:"settings"`
	Structure  []theory.Slot   `json:"structure"`
	ClassLevel string          `json:"class_level"`
	Subject    string          `json:"subject"`
}

// PreviewTheory produces the outline an exam would get without storing it.
func (s *Service) PreviewTheory(ctx context.Context, in TheoryPreviewInput) ([]theory.Slot, error) {
	switch in.Mode {
	case TheoryModeManual:
		structure, err := theory.Normalize(in.Structure)
		if err != nil {
			if errors.Is(err, theory.ErrInvalidStructure) || errors.Is(err, theory.ErrTooManyParts) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return nil, err
		}
		return structure, nil
	case "", TheoryModeAuto:
		settings := in.Settings
		if settings.TotalMainQuestions <= 0 {
			return nil, fmt.Errorf("%w: total_main_questions must be positive", ErrInvalidInput)
		}
		if settings.IncludeRoman && !settings.IncludeAlphabet {
			return nil, fmt.Errorf("%w: roman parts require alphabet parts", ErrInvalidInput)
		}
		candidates, err := s.questions.List(ctx, question.Filter{
			ClassLevel: strings.TrimSpace(in.ClassLevel),
			Subject:    strings.TrimSpace(in.Subject),
			Type:       question.TypeTheory,
		})
		if err != nil {
			return nil, fmt.Errorf("list theory questions: %w", err)
		}
		pool := make([]string, 0, len(candidates))
		for _, q := range candidates {
			pool = append(pool, q.ID)
		}
		return theory.Generate(settings, pool, s.rand), nil
	default:
		return nil, fmt.Errorf("%w: unknown theory mode %q", ErrInvalidInput, in.Mode)
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
