package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"cbtengine/internal/exam"

	"github.com/xuri/excelize/v2"
)

type resultSource interface {
	GetExam(ctx context.Context, examID string) (*exam.Exam, error)
	ListResults(ctx context.Context, examID string) ([]exam.Result, error)
}

type Service struct {
	results resultSource
}

type ExamSummary struct {
	ExamID            string  `json:"exam_id"`
	Title             string  `json:"title"`
	TotalPoints       int     `json:"total_points"`
	PassingScore      int     `json:"passing_score"`
	Participants      int     `json:"participants"`
	Passed            int     `json:"passed"`
	AutoSubmitted     int     `json:"auto_submitted"`
	AveragePercentage float64 `json:"average_percentage"`
	HighestPercentage int     `json:"highest_percentage"`
	LowestPercentage  int     `json:"lowest_percentage"`
}

func NewService(results resultSource) *Service {
	return &Service{results: results}
}

func (s *Service) SummaryByExam(ctx context.Context, examID string) (*ExamSummary, error) {
	ex, err := s.results.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	items, err := s.results.ListResults(ctx, examID)
	if err != nil {
		return nil, err
	}
	return summarize(ex, items), nil
}

func summarize(ex *exam.Exam, items []exam.Result) *ExamSummary {
	out := &ExamSummary{
		ExamID:       ex.ID,
		Title:        ex.Title,
		TotalPoints:  ex.TotalPoints,
		PassingScore: ex.PassingScore,
		Participants: len(items),
	}
	if len(items) == 0 {
		return out
	}

	sum := 0
	out.HighestPercentage = items[0].Percentage
	out.LowestPercentage = items[0].Percentage
	for _, r := range items {
		sum += r.Percentage
		if r.Passed {
			out.Passed++
		}
		if r.SubmissionType == exam.SubmissionAuto {
			out.AutoSubmitted++
		}
		out.HighestPercentage = max(out.HighestPercentage, r.Percentage)
		out.LowestPercentage = min(out.LowestPercentage, r.Percentage)
	}
	avg := float64(sum) / float64(len(items))
	out.AveragePercentage = math.Round(avg*100) / 100
	return out
}

type exportDocument struct {
	Summary *ExamSummary  `json:"summary"`
	Results []exam.Result `json:"results"`
}

// ExportJSON writes the summary followed by every result of the exam.
func (s *Service) ExportJSON(ctx context.Context, examID string, w io.Writer) error {
	ex, items, err := s.load(ctx, examID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportDocument{Summary: summarize(ex, items), Results: items}); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

// ExportXLSX renders one row per result, ranked by percentage, plus a summary
// sheet.
func (s *Service) ExportXLSX(ctx context.Context, examID string) ([]byte, error) {
	ex, items, err := s.load(ctx, examID)
	if err != nil {
		return nil, err
	}
	ranked := make([]exam.Result, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Percentage > ranked[j].Percentage
	})

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	headers := []string{"rank", "student_id", "student_name", "score", "total_points", "percentage", "passed", "submission_type", "completed_at", "session_id"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range ranked {
		row := i + 2
		values := []any{
			i + 1,
			it.StudentID,
			it.StudentName,
			it.Score,
			it.TotalPoints,
			it.Percentage,
			it.Passed,
			string(it.SubmissionType),
			it.CompletedAt.Format("2006-01-02 15:04:05"),
			it.SessionID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "J", 20)

	sum := summarize(ex, items)
	if _, err := f.NewSheet("summary"); err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}
	rows := [][]any{
		{"exam_id", sum.ExamID},
		{"title", sum.Title},
		{"total_points", sum.TotalPoints},
		{"passing_score", sum.PassingScore},
		{"participants", sum.Participants},
		{"passed", sum.Passed},
		{"auto_submitted", sum.AutoSubmitted},
		{"average_percentage", sum.AveragePercentage},
		{"highest_percentage", sum.HighestPercentage},
		{"lowest_percentage", sum.LowestPercentage},
	}
	for i, kv := range rows {
		for col, v := range kv {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			_ = f.SetCellValue("summary", cell, v)
		}
	}
	_ = f.SetColWidth("summary", "A", "B", 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) load(ctx context.Context, examID string) (*exam.Exam, []exam.Result, error) {
	ex, err := s.results.GetExam(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.results.ListResults(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	return ex, items, nil
}
