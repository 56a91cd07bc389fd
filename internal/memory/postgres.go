package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists segments, facts and profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			has_open_loops BOOLEAN NOT NULL DEFAULT FALSE,
			last_activity_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL,
			doc JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_segments_session_activity ON segments (session_id, last_activity_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_segments_user_activity ON segments (user_id, last_activity_at DESC);`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evidence TEXT NOT NULL DEFAULT '',
			source_segment_id TEXT NOT NULL DEFAULT '',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_user_key ON facts (user_id, lower(key));`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, id, sessionID string) (Segment, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM segments WHERE id=$1 AND session_id=$2`, id, sessionID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Segment{}, ErrNotFound
	}
	if err != nil {
		return Segment{}, fmt.Errorf("get segment: %w", err)
	}
	return decodeSegment(doc)
}

func (s *PostgresStore) QuerySessionSegments(ctx context.Context, sessionID string, filter SegmentFilter) ([]Segment, error) {
	return s.querySegments(ctx, "session_id", sessionID, filter)
}

func (s *PostgresStore) QueryUserSegments(ctx context.Context, userID string, filter SegmentFilter) ([]Segment, error) {
	return s.querySegments(ctx, "user_id", userID, filter)
}

func (s *PostgresStore) querySegments(ctx context.Context, column, value string, filter SegmentFilter) ([]Segment, error) {
	query := `SELECT doc FROM segments WHERE ` + column + `=$1`
	args := []any{value}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.OnlyWithOpenLoops {
		query += " AND has_open_loops"
	}
	query += " ORDER BY last_activity_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	out := make([]Segment, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		seg, err := decodeSegment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertSegment(ctx context.Context, seg Segment) (Segment, error) {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	prev := seg.Version
	seg.Version++
	doc, err := json.Marshal(seg)
	if err != nil {
		return Segment{}, fmt.Errorf("encode segment: %w", err)
	}

	var tag pgconn.CommandTag
	if prev == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO segments (id, session_id, user_id, status, has_open_loops, last_activity_at, version, doc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			seg.ID, seg.SessionID, seg.UserID, string(seg.Status), seg.HasOpenLoops(), seg.LastActivityAt, seg.Version, doc,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE segments SET status=$3, has_open_loops=$4, last_activity_at=$5, version=$6, doc=$7
			 WHERE id=$1 AND session_id=$2 AND version=$8`,
			seg.ID, seg.SessionID, string(seg.Status), seg.HasOpenLoops(), seg.LastActivityAt, seg.Version, doc, prev,
		)
	}
	if err != nil {
		return Segment{}, fmt.Errorf("upsert segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Segment{}, fmt.Errorf("upsert segment %s at version %d: %w", seg.ID, prev, ErrConflict)
	}
	return seg, nil
}

func (s *PostgresStore) DeleteSegment(ctx context.Context, id, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE id=$1 AND session_id=$2`, id, sessionID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SearchFacts(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error) {
	patterns := likePatterns(keywords)
	if len(patterns) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, key, value, category, confidence, evidence, source_segment_id, verified, created_at
		 FROM facts
		 WHERE user_id=$1 AND (key ILIKE ANY($2) OR value ILIKE ANY($2))
		 ORDER BY confidence DESC, created_at DESC
		 LIMIT $3`,
		userID, patterns, limit*4,
	)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	facts := make([]Fact, 0, limit)
	for rows.Next() {
		var f Fact
		var category string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Key, &f.Value, &category, &f.Confidence, &f.Evidence, &f.SourceSegmentID, &f.Verified, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		f.Category = ParseFactCategory(category)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return rankFacts(facts, keywords, limit), nil
}

func (s *PostgresStore) SaveFact(ctx context.Context, fact Fact) (string, error) {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO facts (id, user_id, key, value, category, confidence, evidence, source_segment_id, verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, lower(key)) DO UPDATE SET
			value=EXCLUDED.value, category=EXCLUDED.category, confidence=EXCLUDED.confidence,
			evidence=EXCLUDED.evidence, source_segment_id=EXCLUDED.source_segment_id, verified=EXCLUDED.verified
		 RETURNING id`,
		fact.ID, fact.UserID, fact.Key, fact.Value, string(fact.Category), fact.Confidence,
		fact.Evidence, fact.SourceSegmentID, fact.Verified, fact.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save fact: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM user_profiles WHERE user_id=$1`, userID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var p UserProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, profile UserProfile) error {
	if profile.LastUpdated.IsZero() {
		profile.LastUpdated = time.Now().UTC()
	}
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, doc, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		profile.UserID, doc, profile.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfileField(ctx context.Context, userID, field, value string) error {
	now := time.Now().UTC()
	seed, err := json.Marshal(UserProfile{UserID: userID, Preferences: map[string]string{field: value}, LastUpdated: now})
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, doc, updated_at) VALUES ($1, $2, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
			doc = jsonb_set(
				jsonb_set(user_profiles.doc, '{preferences}', COALESCE(user_profiles.doc->'preferences', '{}'::jsonb), true),
				ARRAY['preferences', $3::text], to_jsonb($4::text), true),
			updated_at = $5`,
		userID, seed, field, value, now,
	)
	if err != nil {
		return fmt.Errorf("update profile field %s: %w", field, err)
	}
	return nil
}

func (s *PostgresStore) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin erase: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM facts WHERE user_id=$1`,
		`DELETE FROM user_profiles WHERE user_id=$1`,
	} {
		if _, err := tx.Exec(ctx, stmt, userID); err != nil {
			return fmt.Errorf("erase user data: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeSegment(doc []byte) (Segment, error) {
	var seg Segment
	if err := json.Unmarshal(doc, &seg); err != nil {
		return Segment{}, fmt.Errorf("decode segment: %w", err)
	}
	if seg.ID == "" || seg.SessionID == "" {
		return Segment{}, fmt.Errorf("decode segment: missing id or session id")
	}
	if seg.Status != StatusActive && seg.Status != StatusPaused {
		seg.Status = StatusPaused
	}
	return seg, nil
}

func likePatterns(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		kw = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(kw)
		out = append(out, "%"+kw+"%")
	}
	return out
}
