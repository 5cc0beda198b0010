package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/skills"
	_ "modernc.org/sqlite"
)

// SQLite persists descriptors in SQLite. The full descriptor is stored as
// JSON; indexed columns serve filtering.
type SQLite struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLite creates a SQLite-backed store and ensures schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureSkillSchema(db); err != nil {
		return nil, storeError("migrate", err)
	}
	return &SQLite{db: db}, nil
}

// SaveSkill inserts or replaces d.
func (s *SQLite) SaveSkill(ctx context.Context, d skills.Descriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return storeError("encode", err)
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (id, tier, owner, enabled, updated_at, descriptor_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			owner = excluded.owner,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at,
			descriptor_json = excluded.descriptor_json
	`,
		d.ID,
		string(d.Tier),
		string(d.Owner),
		d.Enabled,
		updated.UTC(),
		string(raw),
	)
	if err != nil {
		return storeError("save", err)
	}
	return nil
}

// DeleteSkill removes id. Absent ids are ignored.
func (s *SQLite) DeleteSkill(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id); err != nil {
		return storeError("delete", err)
	}
	return nil
}

// ListSkills returns every descriptor sorted by id.
func (s *SQLite) ListSkills(ctx context.Context) ([]skills.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT descriptor_json FROM skills ORDER BY id ASC`)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer rows.Close()

	var out []skills.Descriptor
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeError("scan", err)
		}
		var d skills.Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, storeError("decode", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list", err)
	}
	return out, nil
}

// Close closes the database when the store opened it.
func (s *SQLite) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func ensureSkillSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			owner TEXT,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			updated_at TIMESTAMP,
			descriptor_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_skills_owner ON skills(owner);
	`)
	return err
}
