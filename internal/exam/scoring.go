package exam

import (
	"math"
	"strings"
	"time"

	"cbtengine/internal/question"
)

type ScoreInput struct {
	QuestionType  question.Type
	TheoryExam    bool
	CorrectAnswer string
	Answer        string
	Points        int
}

type ScoreResult struct {
	Answered    bool   `json:"answered"`
	IsCorrect   bool   `json:"is_correct"`
	EarnedScore int    `json:"earned_score"`
	Reason      string `json:"reason"`
}

// ScoreQuestion grades a single answer. Theory items are reviewed by hand
// outside the engine and earn their points by default.
func ScoreQuestion(in ScoreInput) ScoreResult {
	points := in.Points
	if points <= 0 {
		points = 1
	}
	answer := strings.TrimSpace(in.Answer)
	answered := answer != ""

	if in.TheoryExam || in.QuestionType == question.TypeTheory {
		return ScoreResult{Answered: answered, IsCorrect: true, EarnedScore: points, Reason: "theory_default"}
	}

	correct := strings.TrimSpace(in.CorrectAnswer)
	switch {
	case correct == "":
		return ScoreResult{Answered: answered, Reason: "missing_answer_key"}
	case !answered:
		return ScoreResult{Reason: "unanswered"}
	case strings.EqualFold(answer, correct):
		return ScoreResult{Answered: true, IsCorrect: true, EarnedScore: points, Reason: "correct"}
	default:
		return ScoreResult{Answered: true, Reason: "wrong"}
	}
}

// Grade computes the result of a session over its own question list.
// Question ids that no longer resolve are skipped and count toward neither
// score nor total. The caller assigns the result id.
func Grade(sess Session, ex Exam, questions map[string]question.Question, submission SubmissionType, completedAt time.Time) Result {
	res := Result{
		SessionID:      sess.ID,
		ExamID:         sess.ExamID,
		StudentName:    sess.StudentName,
		StudentID:      sess.StudentID,
		CorrectAnswers: make(map[string]bool, len(sess.QuestionIDs)),
		Answers:        make(map[string]string, len(sess.Answers)),
		SubmissionType: submission,
		CompletedAt:    completedAt,
	}
	for k, v := range sess.Answers {
		res.Answers[k] = v
	}

	theoryExam := ex.Type == ExamTypeTheory
	for _, id := range sess.QuestionIDs {
		q, ok := questions[id]
		if !ok {
			continue
		}
		points := q.EffectivePoints()
		res.TotalPoints += points

		scored := ScoreQuestion(ScoreInput{
			QuestionType:  q.Type,
			TheoryExam:    theoryExam,
			CorrectAnswer: q.CorrectAnswer,
			Answer:        sess.Answers[id],
			Points:        points,
		})
		res.CorrectAnswers[id] = scored.IsCorrect
		res.Score += scored.EarnedScore
	}

	res.Percentage = percentage(res.Score, res.TotalPoints)
	res.Passed = res.Percentage >= ex.PassingScore
	return res
}

func percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}
