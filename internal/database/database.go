package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("detection not found")

// Database is the durable event log backed by SQLite.
type Database struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers from the pipeline, the API and the sweeper.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			person_name TEXT,
			status TEXT NOT NULL,
			original_photo_path TEXT,
			zoom_photo_path TEXT,
			camera_name TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timestamp ON detections(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_status_timestamp ON detections(status, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] migrations completed")
	return nil
}

// Insert appends an event and returns its store-assigned id.
func (d *Database) Insert(ctx context.Context, ev *DetectionEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	query := `INSERT INTO detections
		(timestamp, person_name, status, original_photo_path, zoom_photo_path, camera_name)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query, FormatTimestamp(ev.Timestamp), ev.PersonName, string(ev.Status),
		ev.OriginalPhotoPath, ev.ZoomPhotoPath, ev.CameraName)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read detection id: %w", err)
	}
	ev.ID = id
	return id, nil
}

const selectColumns = `SELECT id, timestamp, person_name, status, original_photo_path, zoom_photo_path, camera_name
		FROM detections`

// List returns the most recent events first. An empty status returns every event.
func (d *Database) List(ctx context.Context, limit int, status Status) ([]*DetectionEvent, error) {
	query := selectColumns + ` WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var events []*DetectionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	return events, nil
}

// Get returns a single event or ErrNotFound.
func (d *Database) Get(ctx context.Context, id int64) (*DetectionEvent, error) {
	row := d.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// UpdateIdentity relabels the still-unknown event recorded at ts. Events that were
// already corrected, or that share nothing but a name, are left alone.
func (d *Database) UpdateIdentity(ctx context.Context, ts time.Time, name string) (int64, error) {
	if name == "" || name == UnknownPerson {
		return 0, fmt.Errorf("invalid identity %q", name)
	}

	query := `UPDATE detections SET person_name = ?, status = ?
		WHERE timestamp = ? AND person_name = ? AND status = ?`

	res, err := d.db.ExecContext(ctx, query, name, string(StatusKnown),
		FormatTimestamp(ts), UnknownPerson, string(StatusUnknown))
	if err != nil {
		return 0, fmt.Errorf("failed to update detection identity: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes one event. cleanup runs before the row is removed so the caller
// can drop the referenced artifact files; it cannot veto the deletion.
func (d *Database) Delete(ctx context.Context, id int64, cleanup func(*DetectionEvent)) error {
	ev, err := d.Get(ctx, id)
	if err != nil {
		return err
	}

	if cleanup != nil {
		cleanup(ev)
	}

	res, err := d.db.ExecContext(ctx, "DELETE FROM detections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete detection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes events older than now minus days, running cleanup for each one
// first. days <= 0 disables pruning.
func (d *Database) Prune(ctx context.Context, days int, now time.Time, cleanup func(*DetectionEvent)) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -days)

	rows, err := d.db.QueryContext(ctx, selectColumns+` WHERE timestamp < ?`, FormatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to select old detections: %w", err)
	}

	var old []*DetectionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		old = append(old, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate old detections: %w", err)
	}

	deleted := 0
	for _, ev := range old {
		if cleanup != nil {
			cleanup(ev)
		}
		if _, err := d.db.ExecContext(ctx, "DELETE FROM detections WHERE id = ?", ev.ID); err != nil {
			return deleted, fmt.Errorf("failed to delete old detection %d: %w", ev.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// Counts returns the number of events per status.
func (d *Database) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM detections GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{StatusKnown: 0, StatusUnknown: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*DetectionEvent, error) {
	var ev DetectionEvent
	var ts, status string
	var name, original, zoom, camera sql.NullString

	if err := s.Scan(&ev.ID, &ts, &name, &status, &original, &zoom, &camera); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan detection: %w", err)
	}

	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse detection timestamp %q: %w", ts, err)
	}

	ev.Timestamp = parsed
	ev.PersonName = name.String
	ev.Status = Status(status)
	ev.OriginalPhotoPath = original.String
	ev.ZoomPhotoPath = zoom.String
	ev.CameraName = camera.String
	return &ev, nil
}
