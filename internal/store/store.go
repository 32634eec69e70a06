// Package store persists session transcripts in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ai-speech-session-service/internal/models"
)

// ErrNotFound is returned when no transcript exists for a session.
var ErrNotFound = errors.New("transcript not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_transcripts (
	session_id    TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL,
	language_code TEXT NOT NULL,
	state         TEXT NOT NULL,
	error_code    TEXT NOT NULL DEFAULT '',
	transcript    TEXT NOT NULL DEFAULT '',
	segments      JSONB NOT NULL DEFAULT '[]'::jsonb,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_transcripts_tenant_idx
	ON session_transcripts (tenant_id, started_at DESC);
`

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect opens a pool for url and verifies it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the transcript table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// SaveTranscript inserts or replaces the transcript of a session.
func (s *Store) SaveTranscript(ctx context.Context, r models.TranscriptRecord) error {
	segments := r.Segments
	if segments == nil {
		segments = []models.TranscriptSegment{}
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_transcripts
			(session_id, tenant_id, provider, language_code, state, error_code, transcript, segments, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			error_code = EXCLUDED.error_code,
			transcript = EXCLUDED.transcript,
			segments = EXCLUDED.segments,
			ended_at = EXCLUDED.ended_at
	`, r.SessionID, r.TenantID, r.Provider, r.LanguageCode, r.State, r.ErrorCode, r.Text, raw, r.StartedAt, r.EndedAt)
	return err
}

// GetTranscript loads the transcript of a session.
func (s *Store) GetTranscript(ctx context.Context, sessionID string) (*models.TranscriptRecord, error) {
	var (
		r   models.TranscriptRecord
		raw []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT session_id, tenant_id, provider, language_code, state, error_code, transcript, segments, started_at, ended_at
		FROM session_transcripts
		WHERE session_id = $1
	`, sessionID).Scan(&r.SessionID, &r.TenantID, &r.Provider, &r.LanguageCode, &r.State, &r.ErrorCode, &r.Text, &raw, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &r.Segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	return &r, nil
}
