package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are unix milliseconds and JSON payloads are TEXT so one schema
// serves both PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		question_type TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 1,
		class_level TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		term TEXT NOT NULL DEFAULT '',
		exam_type TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_classification ON questions (class_level, subject)`,
	`CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		class_level TEXT NOT NULL DEFAULT '',
		term TEXT NOT NULL DEFAULT '',
		exam_type TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		passing_score INTEGER NOT NULL,
		question_ids TEXT NOT NULL DEFAULT '[]',
		display_count INTEGER,
		theory_config TEXT,
		total_points INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exam_questions (
		exam_id TEXT NOT NULL REFERENCES exams(id),
		question_id TEXT NOT NULL,
		PRIMARY KEY (exam_id, question_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exam_questions_question ON exam_questions (question_id)`,
	`CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL REFERENCES exams(id),
		student_name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		question_ids TEXT NOT NULL,
		current_position INTEGER NOT NULL DEFAULT 0,
		started_at BIGINT NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		ended_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exam_sessions_open ON exam_sessions (is_completed)`,
	`CREATE TABLE IF NOT EXISTS session_answers (
		session_id TEXT NOT NULL REFERENCES exam_sessions(id),
		question_id TEXT NOT NULL,
		answer TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, question_id)
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES exam_sessions(id),
		exam_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		student_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		total_points INTEGER NOT NULL,
		percentage INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		correct_answers TEXT NOT NULL,
		answers TEXT NOT NULL,
		submission_type TEXT NOT NULL,
		completed_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_exam ON results (exam_id, completed_at)`,
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
