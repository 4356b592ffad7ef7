// Package history keeps an append-only SQLite log of manifest revisions.
// Revisions are superseded by newer ones, never updated or deleted.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

var (
	// ErrNoHistory is returned when an identity has no recorded revisions.
	ErrNoHistory = errors.New("no recorded revisions")
	// ErrInsufficientHistory is returned by Drift with fewer than two revisions.
	ErrInsufficientHistory = errors.New("drift needs at least two revisions")
)

const schema = `
CREATE TABLE IF NOT EXISTS revisions (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	protocol_type TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	version       TEXT NOT NULL,
	hash          TEXT NOT NULL,
	body          TEXT NOT NULL,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS revisions_identity ON revisions (protocol_type, entity_id, seq);
`

// Revision is one recorded manifest state.
type Revision struct {
	ID           string             `json:"id"`
	ProtocolType urn.ProtocolType   `json:"protocolType"`
	EntityID     string             `json:"entityId"`
	Version      string             `json:"version"`
	Hash         string             `json:"hash"`
	RecordedAt   time.Time          `json:"recordedAt"`
	Manifest     *manifest.Manifest `json:"manifest"`
}

// Store is the revision log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the log at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	log.Debug(log.CatHistory, "Opening database", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		log.ErrorErr(log.CatHistory, "Failed to open database", err, "path", path)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatHistory, "Failed to ping database", err, "path", path)
		return nil, err
	}
	s, err := New(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info(log.CatHistory, "Connected to database", "path", path)
	return s, nil
}

// New wraps an open database, creating the schema when missing.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends m as a new revision unless its content hash equals the
// latest recorded revision for the same identity. The boolean reports
// whether a row was written.
func (s *Store) Record(ctx context.Context, m *manifest.Manifest) (*Revision, bool, error) {
	latest, err := s.Latest(ctx, m.ProtocolType(), m.EntityID())
	switch {
	case err == nil && latest.Hash == m.Hash():
		log.Debug(log.CatHistory, "revision unchanged", "urn", m.URN().Base(), "hash", m.Hash())
		return latest, false, nil
	case err != nil && !errors.Is(err, ErrNoHistory):
		return nil, false, err
	}

	body, err := m.MarshalJSON()
	if err != nil {
		return nil, false, fmt.Errorf("encode %s: %w", m.URN(), err)
	}
	rev := &Revision{
		ID:           uuid.NewString(),
		ProtocolType: m.ProtocolType(),
		EntityID:     m.EntityID(),
		Version:      m.Version(),
		Hash:         m.Hash(),
		RecordedAt:   s.now(),
		Manifest:     m,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO revisions (id, protocol_type, entity_id, version, hash, body, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, string(rev.ProtocolType), rev.EntityID, rev.Version, rev.Hash, string(body),
		rev.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		log.ErrorErr(log.CatHistory, "insert revision failed", err, "urn", m.URN().Base())
		return nil, false, fmt.Errorf("record %s: %w", m.URN(), err)
	}
	log.Info(log.CatHistory, "revision recorded", "urn", m.URN().String(), "id", rev.ID, "hash", rev.Hash)
	return rev, true, nil
}

// List returns every revision of an identity, newest first.
func (s *Store) List(ctx context.Context, t urn.ProtocolType, entityID string) ([]*Revision, error) {
	return s.query(ctx, -1, t, entityID)
}

// Latest returns the newest revision of an identity.
func (s *Store) Latest(ctx context.Context, t urn.ProtocolType, entityID string) (*Revision, error) {
	revs, err := s.query(ctx, 1, t, entityID)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoHistory, t, entityID)
	}
	return revs[0], nil
}

func (s *Store) query(ctx context.Context, limit int, t urn.ProtocolType, entityID string) ([]*Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, protocol_type, entity_id, version, hash, body, recorded_at
		   FROM revisions
		  WHERE protocol_type = ? AND entity_id = ?
		  ORDER BY seq DESC
		  LIMIT ?`,
		string(t), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	revs := []*Revision{}
	for rows.Next() {
		var (
			rev        Revision
			pt         string
			body       string
			recordedAt string
		)
		if err := rows.Scan(&rev.ID, &pt, &rev.EntityID, &rev.Version, &rev.Hash, &body, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		rev.ProtocolType = urn.ProtocolType(pt)
		if rev.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("revision %s timestamp: %w", rev.ID, err)
		}
		if rev.Manifest, err = manifest.Parse([]byte(body), manifest.FormatJSON); err != nil {
			return nil, fmt.Errorf("revision %s body: %w", rev.ID, err)
		}
		revs = append(revs, &rev)
	}
	return revs, rows.Err()
}

// DriftReport compares the two newest revisions of an identity.
type DriftReport struct {
	From      *Revision          `json:"from"`
	To        *Revision          `json:"to"`
	Diff      diff.Result        `json:"diff"`
	Migration diff.MigrationPlan `json:"migration"`
}

// Drift diffs the previous revision against the latest one.
func (s *Store) Drift(ctx context.Context, t urn.ProtocolType, entityID string) (*DriftReport, error) {
	revs, err := s.query(ctx, 2, t, entityID)
	if err != nil {
		return nil, err
	}
	if len(revs) < 2 {
		return nil, fmt.Errorf("%w: %s:%s has %d", ErrInsufficientHistory, t, entityID, len(revs))
	}
	to, from := revs[0], revs[1]
	res := diff.Manifests(from.Manifest, to.Manifest)
	return &DriftReport{
		From:      from,
		To:        to,
		Diff:      res,
		Migration: diff.PlanFor(res),
	}, nil
}
