package exam

import (
	"context"
	"time"
)

// Store is the durable home of exams, sessions and results.
type Store interface {
	// NewID returns the identifier the store will persist a new record under.
	NewID() string

	CreateExam(ctx context.Context, ex *Exam) error
	GetExam(ctx context.Context, id string) (*Exam, error)

	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// SaveAnswers merges answers per question id and moves the position.
	// It fails with ErrSessionAlreadyCompleted once the session is final.
	SaveAnswers(ctx context.Context, sessionID string, answers map[string]string, position int, at time.Time) error
	// CompleteSession atomically marks the session completed, merges the final
	// answers and stores the result produced by in.Grade. When the session was
	// already completed it returns the stored result and created=false.
	CompleteSession(ctx context.Context, in CompleteInput) (res *Result, created bool, err error)

	GetResult(ctx context.Context, sessionID string) (*Result, error)
	ListResults(ctx context.Context, examID string) ([]Result, error)
	ListOpenSessions(ctx context.Context) ([]OpenSession, error)
}

type CompleteInput struct {
	SessionID string
	Answers   map[string]string
	EndedAt   time.Time
	// Grade receives the session with every stored answer merged in.
	Grade func(sess Session) Result
}

// OpenSession is what a deadline monitor needs to be re-armed after restart.
type OpenSession struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
}
