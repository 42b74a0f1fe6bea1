package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"cbtengine/internal/db"

	"github.com/google/uuid"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) NewID() string {
	return uuid.NewString()
}

func (s *SQLStore) CreateExam(ctx context.Context, ex *Exam) error {
	ids, err := json.Marshal(nonNil(ex.QuestionIDs))
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	var theoryRaw sql.NullString
	if ex.Theory != nil {
		b, err := json.Marshal(ex.Theory)
		if err != nil {
			return fmt.Errorf("marshal theory config: %w", err)
		}
		theoryRaw = sql.NullString{String: string(b), Valid: true}
	}
	var display sql.NullInt64
	if ex.DisplayCount != nil {
		display = sql.NullInt64{Int64: int64(*ex.DisplayCount), Valid: true}
	}

	// Pool membership is kept alongside the exam so the question bank can
	// refuse edits to questions an exam already grades against.
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO exams (
				id, title, subject, class_level, term, exam_type, duration_minutes,
				passing_score, question_ids, display_count, theory_config, total_points,
				is_active, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`, ex.ID, ex.Title, ex.Subject, ex.ClassLevel, ex.Term, string(ex.Type), ex.DurationMinutes,
			ex.PassingScore, string(ids), display, theoryRaw, ex.TotalPoints,
			ex.IsActive, ex.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrExamExists
		}
		for _, qid := range ex.QuestionIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO exam_questions (exam_id, question_id) VALUES ($1, $2)
				ON CONFLICT (exam_id, question_id) DO NOTHING
			`, ex.ID, qid); err != nil {
				return fmt.Errorf("insert exam question %s: %w", qid, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (*Exam, error) {
	var (
		ex        Exam
		examType  string
		ids       string
		display   sql.NullInt64
		theoryRaw sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subject, class_level, term, exam_type, duration_minutes,
			passing_score, question_ids, display_count, theory_config, total_points,
			is_active, created_at
		FROM exams
		WHERE id = $1
	`, id).Scan(
		&ex.ID, &ex.Title, &ex.Subject, &ex.ClassLevel, &ex.Term, &examType, &ex.DurationMinutes,
		&ex.PassingScore, &ids, &display, &theoryRaw, &ex.TotalPoints,
		&ex.IsActive, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("query exam: %w", err)
	}

	ex.Type = ExamType(examType)
	ex.CreatedAt = time.UnixMilli(createdAt).UTC()
	if err := json.Unmarshal([]byte(ids), &ex.QuestionIDs); err != nil {
		return nil, fmt.Errorf("decode exam question ids: %w", err)
	}
	if display.Valid {
		n := int(display.Int64)
		ex.DisplayCount = &n
	}
	if theoryRaw.Valid && theoryRaw.String != "" {
		ex.Theory = &TheoryConfig{}
		if err := json.Unmarshal([]byte(theoryRaw.String), ex.Theory); err != nil {
			return nil, fmt.Errorf("decode theory config: %w", err)
		}
	}
	return &ex, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	ids, err := json.Marshal(nonNil(sess.QuestionIDs))
	if err != nil {
		return fmt.Errorf("marshal session question ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exam_sessions (
			id, exam_id, student_name, student_id, question_ids,
			current_position, started_at, is_completed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
	`, sess.ID, sess.ExamID, sess.StudentName, sess.StudentID, string(ids),
		sess.CurrentPosition, sess.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	return loadSession(ctx, s.db, id)
}

func (s *SQLStore) SaveAnswers(ctx context.Context, sessionID string, answers map[string]string, position int, at time.Time) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE exam_sessions
			SET current_position = $2
			WHERE id = $1 AND is_completed = FALSE
		`, sessionID, position)
		if err != nil {
			return fmt.Errorf("update session position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return sessionStateError(ctx, tx, sessionID)
		}
		return upsertAnswers(ctx, tx, sessionID, answers, at)
	})
}

func (s *SQLStore) CompleteSession(ctx context.Context, in CompleteInput) (*Result, bool, error) {
	var (
		out     *Result
		created bool
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Claiming the row first serializes concurrent completions: a second
		// caller blocks here and then sees is_completed already set.
		res, err := tx.ExecContext(ctx, `
			UPDATE exam_sessions
			SET is_completed = TRUE, ended_at = $2
			WHERE id = $1 AND is_completed = FALSE
		`, in.SessionID, in.EndedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("claim session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			if err := sessionStateError(ctx, tx, in.SessionID); !errors.Is(err, ErrSessionAlreadyCompleted) {
				return err
			}
			existing, err := loadResult(ctx, tx, in.SessionID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}

		if err := upsertAnswers(ctx, tx, in.SessionID, in.Answers, in.EndedAt); err != nil {
			return err
		}
		sess, err := loadSession(ctx, tx, in.SessionID)
		if err != nil {
			return err
		}

		graded := in.Grade(*sess)
		ins, err := insertResult(ctx, tx, &graded)
		if err != nil {
			return err
		}
		if !ins {
			existing, err := loadResult(ctx, tx, in.SessionID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		out = &graded
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *SQLStore) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	return loadResult(ctx, s.db, sessionID)
}

func (s *SQLStore) ListResults(ctx context.Context, examID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, resultColumns+`
		WHERE exam_id = $1
		ORDER BY completed_at ASC, id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListOpenSessions(ctx context.Context) ([]OpenSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, e.duration_minutes
		FROM exam_sessions s
		JOIN exams e ON e.id = s.exam_id
		WHERE s.is_completed = FALSE
		ORDER BY s.started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	out := make([]OpenSession, 0)
	for rows.Next() {
		var (
			o         OpenSession
			startedAt int64
			minutes   int
		)
		if err := rows.Scan(&o.ID, &startedAt, &minutes); err != nil {
			return nil, fmt.Errorf("scan open session: %w", err)
		}
		o.StartedAt = time.UnixMilli(startedAt).UTC()
		o.Duration = time.Duration(minutes) * time.Minute
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open sessions: %w", err)
	}
	return out, nil
}

func loadSession(ctx context.Context, q queryable, id string) (*Session, error) {
	var (
		sess      Session
		ids       string
		startedAt int64
		endedAt   sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, exam_id, student_name, student_id, question_ids,
			current_position, started_at, is_completed, ended_at
		FROM exam_sessions
		WHERE id = $1
	`, id).Scan(
		&sess.ID, &sess.ExamID, &sess.StudentName, &sess.StudentID, &ids,
		&sess.CurrentPosition, &startedAt, &sess.IsCompleted, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &sess.QuestionIDs); err != nil {
		return nil, fmt.Errorf("decode session question ids: %w", err)
	}
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		sess.EndedAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT question_id, answer
		FROM session_answers
		WHERE session_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query session answers: %w", err)
	}
	defer rows.Close()

	sess.Answers = make(map[string]string)
	for rows.Next() {
		var qid, answer string
		if err := rows.Scan(&qid, &answer); err != nil {
			return nil, fmt.Errorf("scan session answer: %w", err)
		}
		sess.Answers[qid] = answer
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session answers: %w", err)
	}
	return &sess, nil
}

// sessionStateError explains why a conditional update on an open session
// touched no rows.
func sessionStateError(ctx context.Context, q queryable, sessionID string) error {
	var completed bool
	err := q.QueryRowContext(ctx, `SELECT is_completed FROM exam_sessions WHERE id = $1`, sessionID).Scan(&completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("query session state: %w", err)
	}
	if completed {
		return ErrSessionAlreadyCompleted
	}
	return fmt.Errorf("session %s changed concurrently", sessionID)
}

func upsertAnswers(ctx context.Context, tx *sql.Tx, sessionID string, answers map[string]string, at time.Time) error {
	// Stable key order keeps row locks ordered across concurrent writers.
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, qid := range keys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_answers (session_id, question_id, answer, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, question_id)
			DO UPDATE SET
				answer = EXCLUDED.answer,
				updated_at = EXCLUDED.updated_at
		`, sessionID, qid, answers[qid], at.UnixMilli()); err != nil {
			return fmt.Errorf("upsert answer %s: %w", qid, err)
		}
	}
	return nil
}

func insertResult(ctx context.Context, tx *sql.Tx, r *Result) (bool, error) {
	correct, err := json.Marshal(r.CorrectAnswers)
	if err != nil {
		return false, fmt.Errorf("marshal correct answers: %w", err)
	}
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return false, fmt.Errorf("marshal result answers: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO results (
			id, session_id, exam_id, student_name, student_id, score, total_points,
			percentage, passed, correct_answers, answers, submission_type, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO NOTHING
	`, r.ID, r.SessionID, r.ExamID, r.StudentName, r.StudentID, r.Score, r.TotalPoints,
		r.Percentage, r.Passed, string(correct), string(answers), string(r.SubmissionType), r.CompletedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

const resultColumns = `
	SELECT id, session_id, exam_id, student_name, student_id, score, total_points,
		percentage, passed, correct_answers, answers, submission_type, completed_at
	FROM results
`

func loadResult(ctx context.Context, q queryable, sessionID string) (*Result, error) {
	r, err := scanResult(q.QueryRowContext(ctx, resultColumns+` WHERE session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		r           Result
		correct     string
		answers     string
		submission  string
		completedAt int64
	)
	if err := row.Scan(
		&r.ID, &r.SessionID, &r.ExamID, &r.StudentName, &r.StudentID, &r.Score, &r.TotalPoints,
		&r.Percentage, &r.Passed, &correct, &answers, &submission, &completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	if err := json.Unmarshal([]byte(correct), &r.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("decode correct answers: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return nil, fmt.Errorf("decode result answers: %w", err)
	}
	r.SubmissionType = SubmissionType(submission)
	r.CompletedAt = time.UnixMilli(completedAt).UTC()
	return &r, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
