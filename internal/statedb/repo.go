package statedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/refsync/internal/syncstate"
)

// Load reads every baseline row into a fresh State.
func (db *DB) Load(ctx context.Context) (*syncstate.State, error) {
	st := syncstate.NewState()

	lib, err := db.libraryVersion(ctx)
	if err != nil {
		return nil, err
	}
	st.SeedLibraryVersion(lib)

	rows, err := db.conn.QueryContext(ctx, `SELECT key, version FROM item_versions`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var v int64
		if err := rows.Scan(&key, &v); err != nil {
			return nil, fmt.Errorf("statedb: scan version: %w", err)
		}
		st.SeedVersion(key, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := db.conn.QueryContext(ctx, `SELECT key, tags FROM item_tags`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var key, raw string
		if err := tagRows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("statedb: scan tags: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("statedb: decode tags for %s: %w", key, err)
		}
		st.SeedTags(key, tags)
	}
	return st, tagRows.Err()
}

// Save writes the pending changes inside a single transaction.
func (db *DB) Save(ctx context.Context, ch syncstate.Changes) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statedb: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if ch.Reset {
		for _, q := range []string{
			`DELETE FROM item_versions`,
			`DELETE FROM item_tags`,
			`DELETE FROM library_state`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("statedb: reset: %w", err)
			}
		}
	}

	if ch.LibraryChanged {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO library_state (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value
		`, libraryVersionKey, ch.LibraryVersion)
		if err != nil {
			return fmt.Errorf("statedb: save library version: %w", err)
		}
	}

	now := time.Now().UTC()
	if len(ch.Versions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO item_versions (key, version, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				version    = excluded.version,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("statedb: prepare version upsert: %w", err)
		}
		defer stmt.Close()
		for key, v := range ch.Versions {
			if _, err := stmt.ExecContext(ctx, key, v.Version, now); err != nil {
				return fmt.Errorf("statedb: upsert version %s: %w", key, err)
			}
		}
	}

	if len(ch.Tags) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO item_tags (key, tags, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				tags       = excluded.tags,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("statedb: prepare tag upsert: %w", err)
		}
		defer stmt.Close()
		for key, t := range ch.Tags {
			tags := t.Tags
			if tags == nil {
				tags = []string{}
			}
			raw, err := json.Marshal(tags)
			if err != nil {
				return fmt.Errorf("statedb: encode tags %s: %w", key, err)
			}
			if _, err := stmt.ExecContext(ctx, key, string(raw), now); err != nil {
				return fmt.Errorf("statedb: upsert tags %s: %w", key, err)
			}
		}
	}

	return tx.Commit()
}

// Stats summarises the stored state.
type Stats struct {
	Records        int   `json:"records"`
	LibraryVersion int64 `json:"library_version"`
}

// Stats returns row counts for status reporting.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM item_versions`).Scan(&s.Records); err != nil {
		return Stats{}, fmt.Errorf("statedb: stats: %w", err)
	}
	lib, err := db.libraryVersion(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.LibraryVersion = lib
	return s, nil
}

// libraryVersion returns the stored cursor. A missing row means never synced.
func (db *DB) libraryVersion(ctx context.Context) (int64, error) {
	var v int64
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM library_state WHERE name = ?`, libraryVersionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("statedb: load library version: %w", err)
	}
	return v, nil
}
