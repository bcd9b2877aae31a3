// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package store provides storage implementations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite database driver
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/modhaven/modhaven/pkg/mods"
)

// Error codes for storage failures.
const (
	CodeStoreOpenFailed = "STORE_OPEN_FAILED"
	CodeStoreNotFound   = "STORE_NOT_FOUND"
	CodeStoreQuery      = "STORE_QUERY_FAILED"
)

// SQLiteStore owns the catalog database handle. Repositories share the
// underlying connection pool.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the catalog database at path. The open
// is retried with backoff because another process may briefly hold the
// database lock.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, oops.Code(CodeStoreOpenFailed).With("path", path).Wrapf(err, "open database")
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, oops.Code(CodeStoreOpenFailed).With("path", path).Wrapf(err, "ping database")
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Mods returns the mod repository backed by this store.
func (s *SQLiteStore) Mods() *SQLiteModRepository {
	return &SQLiteModRepository{db: s.db}
}

// Classifications returns the classification repository backed by this store.
func (s *SQLiteStore) Classifications() *SQLiteClassificationRepository {
	return &SQLiteClassificationRepository{db: s.db}
}

// SQLiteModRepository implements mods.ModRepository using SQLite.
type SQLiteModRepository struct {
	db *sql.DB
}

var _ mods.ModRepository = (*SQLiteModRepository)(nil)

// Insert persists a new mod.
func (r *SQLiteModRepository) Insert(ctx context.Context, m *mods.Mod) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mods (id, name, version, archive, enabled, tags, imported_at, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Version, m.Archive, m.Enabled,
		strings.Join(m.Tags, ","), m.ImportedAt.UTC().Format(time.RFC3339Nano), m.Description,
	)
	if err != nil {
		return oops.Code(CodeStoreQuery).With("mod_id", m.ID).Wrapf(err, "insert mod")
	}
	return nil
}

// Update replaces an existing mod row.
func (r *SQLiteModRepository) Update(ctx context.Context, m *mods.Mod) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mods SET name = ?, version = ?, archive = ?, enabled = ?, tags = ?, description = ?
		 WHERE id = ?`,
		m.Name, m.Version, m.Archive, m.Enabled, strings.Join(m.Tags, ","), m.Description, m.ID,
	)
	if err != nil {
		return oops.Code(CodeStoreQuery).With("mod_id", m.ID).Wrapf(err, "update mod")
	}
	return requireRow(res, m.ID)
}

// Delete removes a mod and its classification assignments.
func (r *SQLiteModRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mods WHERE id = ?`, id)
	if err != nil {
		return oops.Code(CodeStoreQuery).With("mod_id", id).Wrapf(err, "delete mod")
	}
	return requireRow(res, id)
}

// Get returns a mod by ID.
func (r *SQLiteModRepository) Get(ctx context.Context, id string) (*mods.Mod, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, version, archive, enabled, tags, imported_at, description
		 FROM mods WHERE id = ?`, id)
	m, err := scanMod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code(CodeStoreNotFound).With("mod_id", id).Errorf("mod not found")
	}
	if err != nil {
		return nil, oops.Code(CodeStoreQuery).With("mod_id", id).Wrapf(err, "get mod")
	}
	return m, nil
}

// List returns all mods ordered by name.
func (r *SQLiteModRepository) List(ctx context.Context) ([]*mods.Mod, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, version, archive, enabled, tags, imported_at, description
		 FROM mods ORDER BY name`)
	if err != nil {
		return nil, oops.Code(CodeStoreQuery).Wrapf(err, "list mods")
	}
	defer rows.Close()

	var out []*mods.Mod
	for rows.Next() {
		m, err := scanMod(rows)
		if err != nil {
			return nil, oops.Code(CodeStoreQuery).Wrapf(err, "scan mod row")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(CodeStoreQuery).Wrapf(err, "iterate mods")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMod(row rowScanner) (*mods.Mod, error) {
	var m mods.Mod
	var tags, importedAt string
	if err := row.Scan(&m.ID, &m.Name, &m.Version, &m.Archive, &m.Enabled, &tags, &importedAt, &m.Description); err != nil {
		return nil, err
	}
	if tags != "" {
		m.Tags = strings.Split(tags, ",")
	}
	t, err := time.Parse(time.RFC3339Nano, importedAt)
	if err != nil {
		return nil, oops.With("imported_at", importedAt).Wrapf(err, "corrupt timestamp")
	}
	m.ImportedAt = t
	return &m, nil
}

func requireRow(res sql.Result, modID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code(CodeStoreQuery).With("mod_id", modID).Wrap(err)
	}
	if n == 0 {
		return oops.Code(CodeStoreNotFound).With("mod_id", modID).Errorf("mod not found")
	}
	return nil
}

// SQLiteClassificationRepository implements mods.ClassificationRepository
// using SQLite.
type SQLiteClassificationRepository struct {
	db *sql.DB
}

var _ mods.ClassificationRepository = (*SQLiteClassificationRepository)(nil)

// Insert persists a new classification.
func (r *SQLiteClassificationRepository) Insert(ctx context.Context, c *mods.Classification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO classifications (id, name, color) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.Color,
	)
	if err != nil {
		return oops.Code(CodeStoreQuery).With("classification_id", c.ID).Wrapf(err, "insert classification")
	}
	return nil
}

// Delete removes a classification. Assignments cascade.
func (r *SQLiteClassificationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classifications WHERE id = ?`, id)
	if err != nil {
		return oops.Code(CodeStoreQuery).With("classification_id", id).Wrapf(err, "delete classification")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code(CodeStoreQuery).With("classification_id", id).Wrap(err)
	}
	if n == 0 {
		return oops.Code(CodeStoreNotFound).With("classification_id", id).Errorf("classification not found")
	}
	return nil
}

// List returns all classifications ordered by name.
func (r *SQLiteClassificationRepository) List(ctx context.Context) ([]*mods.Classification, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, color FROM classifications ORDER BY name`)
	if err != nil {
		return nil, oops.Code(CodeStoreQuery).Wrapf(err, "list classifications")
	}
	defer rows.Close()
	return collectClassifications(rows)
}

// Assign links a mod to a classification.
func (r *SQLiteClassificationRepository) Assign(ctx context.Context, modID, classificationID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO mod_classifications (mod_id, classification_id) VALUES (?, ?)`,
		modID, classificationID,
	)
	if err != nil {
		return oops.Code(CodeStoreQuery).
			With("mod_id", modID).
			With("classification_id", classificationID).
			Wrapf(err, "assign classification")
	}
	return nil
}

// Unassign removes the link between a mod and a classification.
func (r *SQLiteClassificationRepository) Unassign(ctx context.Context, modID, classificationID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mod_classifications WHERE mod_id = ? AND classification_id = ?`,
		modID, classificationID,
	)
	if err != nil {
		return oops.Code(CodeStoreQuery).
			With("mod_id", modID).
			With("classification_id", classificationID).
			Wrapf(err, "unassign classification")
	}
	return nil
}

// ForMod returns the classifications assigned to a mod, ordered by name.
func (r *SQLiteClassificationRepository) ForMod(ctx context.Context, modID string) ([]*mods.Classification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.color
		 FROM classifications c
		 JOIN mod_classifications mc ON mc.classification_id = c.id
		 WHERE mc.mod_id = ? ORDER BY c.name`, modID)
	if err != nil {
		return nil, oops.Code(CodeStoreQuery).With("mod_id", modID).Wrapf(err, "classifications for mod")
	}
	defer rows.Close()
	return collectClassifications(rows)
}

func collectClassifications(rows *sql.Rows) ([]*mods.Classification, error) {
	var out []*mods.Classification
	for rows.Next() {
		var c mods.Classification
		if err := rows.Scan(&c.ID, &c.Name, &c.Color); err != nil {
			return nil, oops.Code(CodeStoreQuery).Wrapf(err, "scan classification row")
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code(CodeStoreQuery).Wrapf(err, "iterate classifications")
	}
	return out, nil
}
