// Package archive keeps a durable copy of completed study turns so that
// transcripts can be matched to their export code after the browser session ends.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Turn is one question/answer pair.
type Turn struct {
	SessionID     string
	ExportCode    string
	DisplayName   string
	Authenticated bool
	Question      string
	QuestionAt    string
	Answer        string
	AnswerAt      string
}

// Store persists turns in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the archive at path and applies migrations.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger.With().Str("component", "archive").Logger()}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate archive: %w", err)
	}
	return nil
}

// RecordTurn appends a completed turn.
func (s *Store) RecordTurn(ctx context.Context, turn Turn) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO turns
		(session_id, export_code, display_name, authenticated, question, question_at, answer, answer_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.ExportCode, turn.DisplayName, turn.Authenticated,
		turn.Question, turn.QuestionAt, turn.Answer, turn.AnswerAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}

	s.logger.Debug().Str("session", turn.SessionID).Str("export_code", turn.ExportCode).Msg("turn archived")
	return nil
}

// TurnsByExportCode lists archived turns for an export code in insertion order.
func (s *Store) TurnsByExportCode(ctx context.Context, code string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, export_code, display_name, authenticated,
		question, question_at, answer, answer_at FROM turns WHERE export_code = ? ORDER BY id`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.ExportCode, &t.DisplayName, &t.Authenticated,
			&t.Question, &t.QuestionAt, &t.Answer, &t.AnswerAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
