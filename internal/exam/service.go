package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cbtengine/internal/deadline"
	"cbtengine/internal/draw"
	"cbtengine/internal/question"
)

// QuestionSource is the read side of the question bank.
type QuestionSource interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]question.Question, error)
	List(ctx context.Context, f question.Filter) ([]question.Question, error)
}

// Watcher arms and disarms per-session deadline monitors.
type Watcher interface {
	Watch(sessionID string, startedAt time.Time, duration time.Duration)
	Stop(sessionID string)
}

type noopWatcher struct{}

func (noopWatcher) Watch(string, time.Time, time.Duration) {}
func (noopWatcher) Stop(string)                            {}

type Config struct {
	// CreateWait and SubmitWait bound how long a caller waits for the durable
	// write. Zero waits for the write to finish.
	CreateWait time.Duration
	SubmitWait time.Duration
	// WriteTimeout caps a write that outlived its wait window.
	WriteTimeout time.Duration
	// DeadlineGrace absorbs clock skew between client timers and the server.
	DeadlineGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		CreateWait:    2 * time.Second,
		SubmitWait:    3 * time.Second,
		WriteTimeout:  30 * time.Second,
		DeadlineGrace: 5 * time.Second,
	}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRandom(src draw.Source) Option {
	return func(s *Service) { s.rand = src }
}

func WithWatcher(w Watcher) Option {
	return func(s *Service) {
		if w != nil {
			s.watcher = w
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

type Service struct {
	store     Store
	questions QuestionSource
	cfg       Config
	now       func() time.Time
	rand      draw.Source
	watcher   Watcher
	logger    *slog.Logger
}

func NewService(store Store, questions QuestionSource, cfg Config, opts ...Option) *Service {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.DeadlineGrace < 0 {
		cfg.DeadlineGrace = 0
	}
	s := &Service{
		store:     store,
		questions: questions,
		cfg:       cfg,
		now:       time.Now,
		rand:      draw.Default,
		watcher:   noopWatcher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWatcher attaches the deadline monitor registry after construction; the
// registry itself needs the service to submit through.
func (s *Service) SetWatcher(w Watcher) {
	if w == nil {
		w = noopWatcher{}
	}
	s.watcher = w
}

type StartSessionInput struct {
	ExamID      string `json:"exam_id"`
	StudentName string `json:"student_name"`
	StudentID   string `json:"student_id"`
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*Session, error) {
	in.ExamID = strings.TrimSpace(in.ExamID)
	in.StudentName = strings.TrimSpace(in.StudentName)
	in.StudentID = strings.TrimSpace(in.StudentID)
	if in.ExamID == "" || in.StudentName == "" || in.StudentID == "" {
		return nil, fmt.Errorf("%w: exam_id, student_name and student_id are required", ErrInvalidInput)
	}

	ex, err := s.store.GetExam(ctx, in.ExamID)
	if err != nil {
		return nil, err
	}
	if !ex.IsActive {
		return nil, ErrExamNotFound
	}

	sess := &Session{
		ID:              s.store.NewID(),
		ExamID:          ex.ID,
		StudentName:     in.StudentName,
		StudentID:       in.StudentID,
		QuestionIDs:     SelectSessionQuestions(ex.QuestionIDs, ex.displayLimit(), s.rand),
		Answers:         map[string]string{},
		CurrentPosition: 0,
		StartedAt:       s.now().UTC().Truncate(time.Millisecond),
	}

	record := *sess
	pending, err := s.awaitWrite(ctx, s.cfg.CreateWait, "create session", sess.ID, func(ctx context.Context) error {
		return s.store.CreateSession(ctx, &record)
	})
	if err != nil {
		return nil, err
	}
	sess.WritePending = pending

	s.watcher.Watch(sess.ID, sess.StartedAt, ex.Duration())
	s.logger.Info("session started",
		"session_id", sess.ID,
		"exam_id", ex.ID,
		"student_id", sess.StudentID,
		"questions", len(sess.QuestionIDs),
		"write_pending", pending,
	)

	s.decorate(sess, ex)
	return sess, nil
}

// GetSession returns the session. An in-progress session past its deadline is
// completed as an auto submission before it is returned.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ex, err := s.store.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}

	if !sess.IsCompleted {
		if deadline.Expired(sess.StartedAt, ex.Duration(), s.now()) {
			res, err := s.complete(ctx, sess, ex, nil, SubmissionAuto)
			if err != nil {
				return nil, err
			}
			if reloaded, err := s.store.GetSession(ctx, sessionID); err == nil {
				sess = reloaded
			}
			sess.WritePending = res.WritePending
		} else {
			s.watch(ctx, sess, ex)
		}
	}

	s.decorate(sess, ex)
	return sess, nil
}

// SessionQuestions returns the session's questions in session order without
// answer keys.
func (s *Service) SessionQuestions(ctx context.Context, sessionID string) ([]question.StudentView, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	found, err := s.questions.GetByIDs(ctx, sess.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load session questions: %w", err)
	}
	out := make([]question.StudentView, 0, len(sess.QuestionIDs))
	for _, id := range sess.QuestionIDs {
		if q, ok := found[id]; ok {
			out = append(out, q.StudentView())
		}
	}
	return out, nil
}

type SaveProgressInput struct {
	SessionID string            `json:"-"`
	Answers   map[string]string `json:"answers"`
	Position  int               `json:"position"`
}

type RecordAnswerInput struct {
	SessionID  string `json:"-"`
	QuestionID string `json:"-"`
	Answer     string `json:"answer"`
	Position   int    `json:"position"`
}

func (s *Service) RecordAnswer(ctx context.Context, in RecordAnswerInput) error {
	if strings.TrimSpace(in.QuestionID) == "" {
		return fmt.Errorf("%w: question id is required", ErrInvalidInput)
	}
	return s.SaveProgress(ctx, SaveProgressInput{
		SessionID: in.SessionID,
		Answers:   map[string]string{in.QuestionID: in.Answer},
		Position:  in.Position,
	})
}

// SaveProgress merges answers into the session: keys present overwrite,
// keys absent are kept.
func (s *Service) SaveProgress(ctx context.Context, in SaveProgressInput) error {
	if in.Position < 0 {
		return fmt.Errorf("%w: position must not be negative", ErrInvalidInput)
	}

	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return err
	}
	if sess.IsCompleted {
		return ErrSessionAlreadyCompleted
	}
	ex, err := s.store.GetExam(ctx, sess.ExamID)
	if err != nil {
		return err
	}

	now := s.now()
	if s.pastGrace(sess, ex, now) {
		if _, err := s.complete(ctx, sess, ex, nil, SubmissionAuto); err != nil {
			s.logger.Error("complete expired session", "session_id", sess.ID, "error", err)
		}
		return ErrSessionAlreadyCompleted
	}

	for qid := range in.Answers {
		if !sess.hasQuestion(qid) {
			return fmt.Errorf("%w: %s", ErrQuestionNotInSession, qid)
		}
	}
	position := in.Position
	if n := len(sess.QuestionIDs); n > 0 && position >= n {
		position = n - 1
	}

	if err := s.store.SaveAnswers(ctx, sess.ID, in.Answers, position, now); err != nil {
		return err
	}
	s.watch(ctx, sess, ex)
	return nil
}

type SubmitInput struct {
	SessionID      string            `json:"-"`
	Answers        map[string]string `json:"answers"`
	SubmissionType SubmissionType    `json:"submission_type"`
}

// Submit completes the session. It is idempotent: once a result exists every
// call returns it unchanged.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	st := normalizeSubmissionType(in.SubmissionType)
	if st == "" {
		return nil, fmt.Errorf("%w: unknown submission type %q", ErrInvalidInput, in.SubmissionType)
	}

	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsCompleted {
		return s.existingResult(ctx, sess.ID)
	}
	ex, err := s.store.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	answers := make(map[string]string, len(in.Answers))
	for qid, v := range in.Answers {
		if !sess.hasQuestion(qid) {
			s.logger.Warn("dropping answer outside session", "session_id", sess.ID, "question_id", qid)
			continue
		}
		answers[qid] = v
	}

	switch {
	case st == SubmissionAuto && deadline.Remaining(sess.StartedAt, ex.Duration(), now) > s.cfg.DeadlineGrace:
		return nil, ErrDeadlineNotReached
	case s.pastGrace(sess, ex, now):
		// Too late for new answers; the deadline already decided the outcome.
		answers = nil
		st = SubmissionAuto
	}

	return s.complete(ctx, sess, ex, answers, st)
}

// AutoSubmit is invoked by the deadline monitor.
func (s *Service) AutoSubmit(ctx context.Context, sessionID string) error {
	_, err := s.Submit(ctx, SubmitInput{SessionID: sessionID, SubmissionType: SubmissionAuto})
	return err
}

// GetResult returns the session's result, completing an expired session
// first.
func (s *Service) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsCompleted {
		return nil, ErrSessionNotCompleted
	}
	return s.existingResult(ctx, sessionID)
}

func (s *Service) ListResults(ctx context.Context, examID string) ([]Result, error) {
	if _, err := s.store.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, examID)
}

// ResumeMonitors re-arms deadline monitors for every open session, typically
// at process start. Sessions already past their deadline fire right away.
func (s *Service) ResumeMonitors(ctx context.Context) (int, error) {
	open, err := s.store.ListOpenSessions(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range open {
		s.watcher.Watch(o.ID, o.StartedAt, o.Duration)
	}
	return len(open), nil
}

func (s *Service) complete(ctx context.Context, sess *Session, ex *Exam, final map[string]string, st SubmissionType) (*Result, error) {
	questions, err := s.questions.GetByIDs(ctx, sess.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load graded questions: %w", err)
	}

	endedAt := s.now().UTC().Truncate(time.Millisecond)
	resultID := s.store.NewID()
	grade := func(merged Session) Result {
		r := Grade(merged, *ex, questions, st, endedAt)
		r.ID = resultID
		return r
	}

	// Graded from what this process knows, returned only when the write is
	// still pending after the wait window.
	local := *sess
	local.Answers = make(map[string]string, len(sess.Answers)+len(final))
	for k, v := range sess.Answers {
		local.Answers[k] = v
	}
	for k, v := range final {
		local.Answers[k] = v
	}
	speculative := grade(local)

	var (
		stored  *Result
		created bool
	)
	pending, err := s.awaitWrite(ctx, s.cfg.SubmitWait, "complete session", sess.ID, func(ctx context.Context) error {
		r, c, err := s.store.CompleteSession(ctx, CompleteInput{
			SessionID: sess.ID,
			Answers:   final,
			EndedAt:   endedAt,
			Grade:     grade,
		})
		if err != nil {
			return err
		}
		stored, created = r, c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.watcher.Stop(sess.ID)

	if pending {
		speculative.WritePending = true
		return &speculative, nil
	}
	if created {
		s.logger.Info("session completed",
			"session_id", sess.ID,
			"submission_type", string(st),
			"score", stored.Score,
			"total_points", stored.TotalPoints,
			"percentage", stored.Percentage,
		)
	} else {
		s.logger.Info("session already completed, returning stored result", "session_id", sess.ID)
	}
	return stored, nil
}

// watch arms the monitor for a session loaded as in progress. A submit that
// committed after the load has already called Stop, so the row is read again
// and a monitor armed too late is disarmed.
func (s *Service) watch(ctx context.Context, sess *Session, ex *Exam) {
	s.watcher.Watch(sess.ID, sess.StartedAt, ex.Duration())
	cur, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		s.logger.Warn("recheck session after arming monitor", "session_id", sess.ID, "error", err)
		return
	}
	if cur.IsCompleted {
		s.watcher.Stop(sess.ID)
	}
}

func (s *Service) existingResult(ctx context.Context, sessionID string) (*Result, error) {
	s.watcher.Stop(sessionID)
	res, err := s.store.GetResult(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrResultNotFound) {
			return nil, fmt.Errorf("completed session %s has no result: %w", sessionID, err)
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) pastGrace(sess *Session, ex *Exam, now time.Time) bool {
	return deadline.Expired(sess.StartedAt, ex.Duration()+s.cfg.DeadlineGrace, now)
}

func (s *Service) decorate(sess *Session, ex *Exam) {
	if sess.Answers == nil {
		sess.Answers = map[string]string{}
	}
	end := sess.StartedAt.Add(ex.Duration())
	sess.DeadlineAt = &end
	if sess.IsCompleted {
		sess.Status = StatusCompleted
		sess.RemainingSecs = 0
		return
	}
	sess.Status = StatusInProgress
	sess.RemainingSecs = deadline.Seconds(deadline.Remaining(sess.StartedAt, ex.Duration(), s.now()))
}

// awaitWrite runs write and waits at most wait for it. When the window
// elapses first the write keeps running detached, its outcome is logged and
// pending is true. A write that fails inside the window is returned as is.
func (s *Service) awaitWrite(ctx context.Context, wait time.Duration, op, sessionID string, write func(context.Context) error) (pending bool, err error) {
	if wait <= 0 {
		return false, write(ctx)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- write(writeCtx)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case err := <-done:
		return false, err
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("write not acknowledged in time, continuing",
		"op", op,
		"session_id", sessionID,
		"wait", wait,
		"error", ErrPersistenceTimeout,
	)
	go func() {
		if err := <-done; err != nil {
			s.logger.Error("pending write failed", "op", op, "session_id", sessionID, "error", err)
			return
		}
		s.logger.Info("pending write settled", "op", op, "session_id", sessionID)
	}()
	return true, nil
}
