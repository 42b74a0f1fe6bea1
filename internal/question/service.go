package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cbtengine/internal/db"

	"github.com/google/uuid"
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(conn *sql.DB) *Service {
	return &Service{db: conn, now: time.Now}
}

// BulkUpsert validates every item first and stores them in one transaction.
// Items without an id receive a new one. A question that belongs to an exam
// pool may be re-sent unchanged but not edited; such a batch fails with
// ErrInUse and stores nothing.
func (s *Service) BulkUpsert(ctx context.Context, items []Question) ([]Question, error) {
	out := make([]Question, 0, len(items))
	for i, it := range items {
		q, err := Normalize(it)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = s.now().UTC()
		}
		out = append(out, q)
	}

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, q := range out {
			if err := checkEditable(ctx, tx, q); err != nil {
				return err
			}
			if err := upsert(ctx, tx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkEditable(ctx context.Context, tx *sql.Tx, q Question) error {
	stored, err := scanQuestion(tx.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, q.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load question %s: %w", q.ID, err)
	}
	if sameContent(*stored, q) {
		return nil
	}

	var refs int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_questions WHERE question_id = $1`, q.ID,
	).Scan(&refs); err != nil {
		return fmt.Errorf("count exam references for %s: %w", q.ID, err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: %s", ErrInUse, q.ID)
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, q Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if q.Options == nil {
		options = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO questions (
			id, text, question_type, options, correct_answer, points,
			class_level, subject, term, exam_type, difficulty, image_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id)
		DO UPDATE SET
			text = EXCLUDED.text,
			question_type = EXCLUDED.question_type,
			options = EXCLUDED.options,
			correct_answer = EXCLUDED.correct_answer,
			points = EXCLUDED.points,
			class_level = EXCLUDED.class_level,
			subject = EXCLUDED.subject,
			term = EXCLUDED.term,
			exam_type = EXCLUDED.exam_type,
			difficulty = EXCLUDED.difficulty,
			image_url = EXCLUDED.image_url
	`, q.ID, q.Text, string(q.Type), string(options), q.CorrectAnswer, q.Points,
		q.ClassLevel, q.Subject, q.Term, q.ExamType, q.Difficulty, q.ImageURL, q.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert question %s: %w", q.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, text, question_type, options, correct_answer, points,
		class_level, subject, term, exam_type, difficulty, image_url, created_at
	FROM questions
`

func (s *Service) Get(ctx context.Context, id string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// GetByIDs returns the questions that exist, keyed by id. Unknown ids are
// simply absent from the map.
func (s *Service) GetByIDs(ctx context.Context, ids []string) (map[string]Question, error) {
	out := make(map[string]Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out[q.ID] = *q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE ($1 = '' OR class_level = $1)
			AND ($2 = '' OR subject = $2)
			AND ($3 = '' OR question_type = $3)
		ORDER BY created_at ASC, id ASC
	`, f.ClassLevel, f.Subject, string(f.Type))
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// ImportJSON reads either a JSON array of questions or an object with a
// "questions" array and upserts them.
func (s *Service) ImportJSON(ctx context.Context, r io.Reader) ([]Question, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var items []Question
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Questions []Question `json:"questions"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: decode question bank: %v", ErrInvalidInput, err)
		}
		items = wrapped.Questions
	}
	return s.BulkUpsert(ctx, items)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var (
		q         Question
		qType     string
		options   string
		createdAt int64
	)
	if err := row.Scan(
		&q.ID, &q.Text, &qType, &options, &q.CorrectAnswer, &q.Points,
		&q.ClassLevel, &q.Subject, &q.Term, &q.ExamType, &q.Difficulty, &q.ImageURL, &createdAt,
	); err != nil {
		return nil, err
	}
	q.Type = Type(qType)
	if options != "" {
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for %s: %w", q.ID, err)
		}
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	q.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &q, nil
}
