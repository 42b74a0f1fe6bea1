package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"cbtengine/internal/exam"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeResults struct {
	ex    *exam.Exam
	items []exam.Result
}

func (f *fakeResults) GetExam(ctx context.Context, examID string) (*exam.Exam, error) {
	if f.ex == nil || f.ex.ID != examID {
		return nil, exam.ErrExamNotFound
	}
	return f.ex, nil
}

func (f *fakeResults) ListResults(ctx context.Context, examID string) ([]exam.Result, error) {
	return f.items, nil
}

func sampleSource() *fakeResults {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &fakeResults{
		ex: &exam.Exam{ID: "e1", Title: "Civic Education", TotalPoints: 10, PassingScore: 50},
		items: []exam.Result{
			{ID: "r1", SessionID: "s1", StudentID: "A", StudentName: "Amaka", Score: 4, TotalPoints: 10, Percentage: 40, SubmissionType: exam.SubmissionAuto, CompletedAt: at},
			{ID: "r2", SessionID: "s2", StudentID: "B", StudentName: "Bayo", Score: 9, TotalPoints: 10, Percentage: 90, Passed: true, SubmissionType: exam.SubmissionStudent, CompletedAt: at},
			{ID: "r3", SessionID: "s3", StudentID: "C", StudentName: "Chioma", Score: 7, TotalPoints: 10, Percentage: 67, Passed: true, SubmissionType: exam.SubmissionStudent, CompletedAt: at},
		},
	}
}

func TestSummaryByExam(t *testing.T) {
	svc := NewService(sampleSource())
	sum, err := svc.SummaryByExam(context.Background(), "e1")
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Participants)
	assert.Equal(t, 2, sum.Passed)
	assert.Equal(t, 1, sum.AutoSubmitted)
	assert.Equal(t, 90, sum.HighestPercentage)
	assert.Equal(t, 40, sum.LowestPercentage)
	assert.InDelta(t, 65.67, sum.AveragePercentage, 0.001)

	_, err = svc.SummaryByExam(context.Background(), "missing")
	assert.ErrorIs(t, err, exam.ErrExamNotFound)
}

func TestSummaryWithoutResults(t *testing.T) {
	src := sampleSource()
	src.items = nil
	sum, err := NewService(src).SummaryByExam(context.Background(), "e1")
	require.NoError(t, err)
	assert.Zero(t, sum.Participants)
	assert.Zero(t, sum.AveragePercentage)
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewService(sampleSource()).ExportJSON(context.Background(), "e1", &buf))

	var doc struct {
		Summary ExamSummary   `json:"summary"`
		Results []exam.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 3, doc.Summary.Participants)
	assert.Len(t, doc.Results, 3)
}

func TestExportXLSXRanksByPercentage(t *testing.T) {
	raw, err := NewService(sampleSource()).ExportXLSX(context.Background(), "e1")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "student_id", rows[0][1])
	assert.Equal(t, "B", rows[1][1])
	assert.Equal(t, "C", rows[2][1])
	assert.Equal(t, "A", rows[3][1])

	summary, err := f.GetRows("summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"participants", "3"}, summary[4])
}
