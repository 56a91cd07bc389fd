package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteFactStore keeps facts and profiles in a single-node SQLite file.
type SQLiteFactStore struct {
	db *sql.DB
}

func NewSQLiteFactStore(ctx context.Context, dbPath string) (*SQLiteFactStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteFactStore{db: db}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			evidence TEXT NOT NULL DEFAULT '',
			source_segment_id TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_user_key ON facts (user_id, lower(key))`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init %q: %w", stmt, err)
		}
	}
	return s, nil
}

func (s *SQLiteFactStore) SearchFacts(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error) {
	var clauses []string
	args := []any{userID}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		args = append(args, "%"+kw+"%")
		clauses = append(clauses, fmt.Sprintf("lower(key) LIKE ?%d OR lower(value) LIKE ?%d", len(args), len(args)))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	args = append(args, limit*4)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, key, value, category, confidence, evidence, source_segment_id, verified, created_at
		 FROM facts WHERE user_id=?1 AND (`+strings.Join(clauses, " OR ")+`)
		 ORDER BY confidence DESC LIMIT ?`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var (
			f         Fact
			category  string
			verified  int
			createdAt string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Key, &f.Value, &category, &f.Confidence, &f.Evidence, &f.SourceSegmentID, &verified, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		f.Category = ParseFactCategory(category)
		f.Verified = verified != 0
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return rankFacts(facts, keywords, limit), nil
}

func (s *SQLiteFactStore) SaveFact(ctx context.Context, fact Fact) (string, error) {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	verified := 0
	if fact.Verified {
		verified = 1
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO facts (id, user_id, key, value, category, confidence, evidence, source_segment_id, verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, lower(key)) DO UPDATE SET
			value=excluded.value, category=excluded.category, confidence=excluded.confidence,
			evidence=excluded.evidence, source_segment_id=excluded.source_segment_id, verified=excluded.verified
		 RETURNING id`,
		fact.ID, fact.UserID, fact.Key, fact.Value, string(fact.Category), fact.Confidence,
		fact.Evidence, fact.SourceSegmentID, verified, fact.CreatedAt.Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save fact: %w", err)
	}
	return id, nil
}

func (s *SQLiteFactStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM user_profiles WHERE user_id=?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var p UserProfile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *SQLiteFactStore) SaveProfile(ctx context.Context, profile UserProfile) error {
	if profile.LastUpdated.IsZero() {
		profile.LastUpdated = time.Now().UTC()
	}
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		profile.UserID, string(doc), profile.LastUpdated.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// UpdateProfileField sets one preference inside a read-modify-write
// transaction.
func (s *SQLiteFactStore) UpdateProfileField(ctx context.Context, userID, field, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile update: %w", err)
	}
	defer tx.Rollback()

	p := UserProfile{UserID: userID}
	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM user_profiles WHERE user_id=?`, userID).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read profile: %w", err)
	default:
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return fmt.Errorf("decode profile: %w", err)
		}
	}
	if p.Preferences == nil {
		p.Preferences = make(map[string]string)
	}
	p.Preferences[field] = value
	p.LastUpdated = time.Now().UTC()

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		userID, string(raw), p.LastUpdated.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("update profile field %s: %w", field, err)
	}
	return tx.Commit()
}

func (s *SQLiteFactStore) DeleteUserData(ctx context.Context, userID string) error {
	for _, stmt := range []string{
		`DELETE FROM facts WHERE user_id=?`,
		`DELETE FROM user_profiles WHERE user_id=?`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("erase user data: %w", err)
		}
	}
	return nil
}

func (s *SQLiteFactStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
