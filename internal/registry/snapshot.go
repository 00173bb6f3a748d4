package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// sqlite3 registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS urls (
	url TEXT PRIMARY KEY,
	first_seen TIMESTAMP NOT NULL,
	published_date TIMESTAMP,
	first_post_id TEXT NOT NULL,
	first_post_author TEXT NOT NULL,
	times_seen INTEGER NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	evaluated INTEGER NOT NULL,
	evaluated_at TIMESTAMP,
	is_related INTEGER NOT NULL,
	relevance_score REAL NOT NULL
);
`

// Save writes the full table to the snapshot file at path, replacing any
// previous snapshot content.
func (r *Registry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init snapshot schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM urls"); err != nil {
		return fmt.Errorf("clear snapshot table: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO urls (
			url, first_seen, published_date, first_post_id, first_post_author,
			times_seen, last_updated, evaluated, evaluated_at, is_related, relevance_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range r.snapshot() {
		if _, err := stmt.Exec(
			e.URL,
			e.FirstSeen,
			nullableTime(e.PublishedDate),
			e.FirstPostID,
			e.FirstPostAuthor,
			e.TimesSeen,
			e.LastUpdated,
			boolToInt(e.Evaluated),
			nullableTime(e.EvaluatedAt),
			boolToInt(e.IsRelated),
			e.RelevanceScore,
		); err != nil {
			return fmt.Errorf("insert %s: %w", e.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the whole table back from the snapshot file. A missing file
// leaves the registry empty, which is the first-run case.
func (r *Registry) Load(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		r.replace(nil)
		return nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init snapshot schema: %w", err)
	}

	rows, err := db.Query(`
		SELECT url, first_seen, published_date, first_post_id, first_post_author,
			times_seen, last_updated, evaluated, evaluated_at, is_related, relevance_score
		FROM urls`)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			published   sql.NullTime
			evaluatedAt sql.NullTime
			evaluated   int
			isRelated   int
		)
		if err := rows.Scan(
			&e.URL, &e.FirstSeen, &published, &e.FirstPostID, &e.FirstPostAuthor,
			&e.TimesSeen, &e.LastUpdated, &evaluated, &evaluatedAt, &isRelated, &e.RelevanceScore,
		); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}
		if published.Valid {
			t := published.Time.UTC()
			e.PublishedDate = &t
		}
		if evaluatedAt.Valid {
			t := evaluatedAt.Time.UTC()
			e.EvaluatedAt = &t
		}
		e.FirstSeen = e.FirstSeen.UTC()
		e.LastUpdated = e.LastUpdated.UTC()
		e.Evaluated = evaluated != 0
		e.IsRelated = isRelated != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate snapshot rows: %w", err)
	}
	r.replace(entries)
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
