// Package store is the Image Store of spec.md §2.2: a directory of JPEG
// files plus the single-table SQLite database recording every capture and
// its upload state. Structure follows the teacher's
// internal/repository/sqlite/sqlite.go single-writer discipline.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Image is one row of the images table (spec.md §3).
type Image struct {
	ID          int64
	Source      string
	Filename    string
	Path        string
	CapturedAt  int64
	SizeBytes   int64
	Uploaded    bool
	Attempts    int
	LastError   *string
}

// Stats summarises the queue for /api/stats.
type Stats struct {
	TotalImages   int
	PendingUpload int
	Uploaded      int
	PerSource     map[string]int
}

// Store wraps the SQLite connection. All mutations serialize through conn
// (SetMaxOpenConns(1)); multi-row fetches are read-only per spec.md §5.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open creates/opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		filename TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		captured_at INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		uploaded INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_images_source ON images(source);
	CREATE INDEX IF NOT EXISTS idx_images_uploaded ON images(uploaded);
	CREATE INDEX IF NOT EXISTS idx_images_captured_at ON images(captured_at);
	`
	_, err := s.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Insert records a successful capture. This insert is the authoritative
// event of spec.md §4.2 step 4.
func (s *Store) Insert(img Image) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		INSERT INTO images (source, filename, path, captured_at, size_bytes, uploaded, attempts)
		VALUES (?, ?, ?, ?, ?, 0, 0)
	`, img.Source, img.Filename, img.Path, img.CapturedAt, img.SizeBytes)
	if err != nil {
		return 0, fmt.Errorf("store: insert %s: %w", img.Filename, err)
	}
	return res.LastInsertId()
}

// Exists reports whether a row with this filename already exists (filenames
// embed the epoch, so collisions require >1 press/second on one source).
func (s *Store) Exists(filename string) (bool, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM images WHERE filename = ?`, filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", filename, err)
	}
	return n > 0, nil
}

// GetPending returns up to limit rows with uploaded=0, ordered by id
// ascending (the uploader's FIFO intent, spec.md §4.4).
func (s *Store) GetPending(limit int) ([]Image, error) {
	rows, err := s.conn.Query(`
		SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
		FROM images WHERE uploaded = 0 ORDER BY id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get pending: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// GetByFilename looks up a single row by its unique filename.
func (s *Store) GetByFilename(filename string) (*Image, error) {
	row := s.conn.QueryRow(`
		SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
		FROM images WHERE filename = ?
	`, filename)
	img, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get by filename %s: %w", filename, err)
	}
	return img, nil
}

// List returns rows matching an optional source filter, newest first.
func (s *Store) List(source string, limit, offset int) ([]Image, error) {
	var rows *sql.Rows
	var err error
	if source != "" {
		rows, err = s.conn.Query(`
			SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
			FROM images WHERE source = ? ORDER BY captured_at DESC LIMIT ? OFFSET ?
		`, source, limit, offset)
	} else {
		rows, err = s.conn.Query(`
			SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
			FROM images ORDER BY captured_at DESC LIMIT ? OFFSET ?
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// ListByDay returns rows captured within [dayStart, dayEnd) epoch seconds,
// optionally filtered by source.
func (s *Store) ListByDay(dayStart, dayEnd int64, source string) ([]Image, error) {
	var rows *sql.Rows
	var err error
	if source != "" {
		rows, err = s.conn.Query(`
			SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
			FROM images WHERE captured_at >= ? AND captured_at < ? AND source = ?
			ORDER BY captured_at ASC
		`, dayStart, dayEnd, source)
	} else {
		rows, err = s.conn.Query(`
			SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
			FROM images WHERE captured_at >= ? AND captured_at < ?
			ORDER BY captured_at ASC
		`, dayStart, dayEnd)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list by day: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// MarkUploaded sets uploaded=true and clears last_error. attempts is left
// as-is; callers record every send, the successful one included, with
// MarkAttempt before calling this.
func (s *Store) MarkUploaded(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`UPDATE images SET uploaded = 1, last_error = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark uploaded %d: %w", id, err)
	}
	return nil
}

// MarkAttempt increments attempts and records the failure reason. attempts
// is monotone non-decreasing by construction (only ever incremented).
func (s *Store) MarkAttempt(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`UPDATE images SET attempts = attempts + 1, last_error = ? WHERE id = ?`, truncate(reason, 200), id)
	if err != nil {
		return fmt.Errorf("store: mark attempt %d: %w", id, err)
	}
	return nil
}

// MarkAbandoned resolves the "missing backing file" / "oversize" open
// question (see SPEC_FULL.md): the row is considered terminally resolved
// and dropped from the uploader's pending queue by setting uploaded=true
// with an explanatory last_error, rather than deleted or retried forever.
func (s *Store) MarkAbandoned(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`
		UPDATE images SET uploaded = 1, attempts = attempts + 1, last_error = ? WHERE id = ?
	`, truncate(reason, 200), id)
	if err != nil {
		return fmt.Errorf("store: mark abandoned %d: %w", id, err)
	}
	return nil
}

// SelectOlderThan returns rows captured before cutoff (epoch seconds), the
// candidate set for the Cleanup Worker.
func (s *Store) SelectOlderThan(cutoff int64) ([]Image, error) {
	rows, err := s.conn.Query(`
		SELECT id, source, filename, path, captured_at, size_bytes, uploaded, attempts, last_error
		FROM images WHERE captured_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: select older than %d: %w", cutoff, err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// Delete removes a row. Callers must unlink the backing file first (or
// confirm it is already gone) so file and row are destroyed together.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %d: %w", id, err)
	}
	return nil
}

// Stats aggregates queue depth for /api/stats.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	st.PerSource = make(map[string]int)

	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&st.TotalImages); err != nil {
		return st, fmt.Errorf("store: stats total: %w", err)
	}
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM images WHERE uploaded = 0`).Scan(&st.PendingUpload); err != nil {
		return st, fmt.Errorf("store: stats pending: %w", err)
	}
	st.Uploaded = st.TotalImages - st.PendingUpload

	rows, err := s.conn.Query(`SELECT source, COUNT(*) FROM images GROUP BY source`)
	if err != nil {
		return st, fmt.Errorf("store: stats per-source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return st, fmt.Errorf("store: scan per-source: %w", err)
		}
		st.PerSource[src] = n
	}
	return st, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanImage(row scannable) (*Image, error) {
	var img Image
	var uploaded int
	var lastErr sql.NullString
	if err := row.Scan(&img.ID, &img.Source, &img.Filename, &img.Path, &img.CapturedAt,
		&img.SizeBytes, &uploaded, &img.Attempts, &lastErr); err != nil {
		return nil, err
	}
	img.Uploaded = uploaded != 0
	if lastErr.Valid {
		v := lastErr.String
		img.LastError = &v
	}
	return &img, nil
}

func scanImages(rows *sql.Rows) ([]Image, error) {
	var out []Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FileExists is a small helper so callers (uploader, cleanup) don't import
// os directly for this one check.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
