// Package sqlite implements the storage.Storer interface on top of three
// SQLite database files sharing a single connection: the favorites and
// submission metadata live in the main database, page snapshots and the
// media index are attached under the schema names "pages" and "media".
package sqlite

import (
	"bytes"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-sqlite3"

	favarch "github.com/codedcells/favarch/internal"
	"github.com/codedcells/favarch/pkg/storage"
)

//go:embed queries/*.sql
//go:embed queries/*.sql.tpl
var queryFS embed.FS

const driverName = "sqlite3_hamming"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("hamming", hammingDistance, true)
		},
	})
}

// hammingDistance counts differing bits between two fingerprints, both
// reinterpreted as unsigned 64-bit values.
func hammingDistance(a, b int64) int64 {
	return int64(bits.OnesCount64(uint64(a) ^ uint64(b)))
}

// DB is a SQLite implementation of the storage.Storer interface.
type DB struct {
	Conn *sql.DB // The raw database connection, exposed for extensibility.
}

var _ storage.Storer = (*DB)(nil)

// New opens the three database files, attaches the snapshot and media
// databases to the main connection and ensures the schema is up to date.
func New(favesPath, pagesPath, mediaPath string) (*DB, error) {
	for _, p := range []string{favesPath, pagesPath, mediaPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, fmt.Sprintf("file:%s?_journal_mode=WAL", favesPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ATTACH is per connection, so the pool must never hand out a second one.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for schema, path := range map[string]string{"pages": pagesPath, "media": mediaPath} {
		if _, err := db.Exec(fmt.Sprintf("ATTACH DATABASE ? AS %s", schema), path); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to attach %s database: %w", schema, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s.journal_mode=WAL", schema)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set journal mode on %s database: %w", schema, err)
		}
	}

	instance := &DB{Conn: db}
	if err := instance.createSchema(); err != nil {
		_ = instance.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return instance, nil
}

// getQuery reads a raw SQL query from the embedded filesystem.
func getQuery(name string) (string, error) {
	b, err := queryFS.ReadFile("queries/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded query %s: %w", name, err)
	}
	return string(b), nil
}

// getParsedQuery parses and executes a SQL template from the embedded
// filesystem.
func getParsedQuery(templateName string, data any) (string, error) {
	t, err := template.ParseFS(queryFS, "queries/"+templateName)
	if err != nil {
		return "", fmt.Errorf("failed to parse embedded query template %s: %w", templateName, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute embedded query template %s: %w", templateName, err)
	}
	return buf.String(), nil
}

// createSchema creates the necessary tables if they don't exist.
func (db *DB) createSchema() error {
	query, err := getQuery("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Conn.Exec(query)
	return err
}

// InsertFavorites records favorite relations for a user, swallowing
// duplicates, and returns the identifiers that were new for that user.
func (db *DB) InsertFavorites(user string, ids []int64) ([]int64, error) {
	query, err := getQuery("insert_fave.sql")
	if err != nil {
		return nil, err
	}
	tx, err := db.Conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare favorite insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var fresh []int64
	for _, id := range ids {
		res, err := stmt.Exec(user, id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert favorite %d for %s: %w", id, user, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected for favorite %d: %w", id, err)
		}
		if n > 0 {
			fresh = append(fresh, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit favorites: %w", err)
	}
	return fresh, nil
}

// UpsertSubmission inserts or replaces a submission metadata row and reports
// whether the identifier was previously unknown.
func (db *DB) UpsertSubmission(sub favarch.Submission) (bool, error) {
	existsQuery, err := getQuery("submission_exists.sql")
	if err != nil {
		return false, err
	}
	upsertQuery, err := getQuery("upsert_submission.sql")
	if err != nil {
		return false, err
	}
	tx, err := db.Conn.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRow(existsQuery, sub.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check submission %d: %w", sub.ID, err)
	}
	_, err = tx.Exec(upsertQuery,
		sub.ID, sub.Rating, sub.ThumbnailURL, sub.TagString(),
		sub.Title, sub.User, sub.DisplayName, sub.Description)
	if err != nil {
		return false, fmt.Errorf("failed to upsert submission %d: %w", sub.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit submission %d: %w", sub.ID, err)
	}
	return !exists, nil
}

// UpsertPage inserts or replaces the compressed page snapshot for an identifier.
func (db *DB) UpsertPage(id int64, compressed []byte, capturedAt time.Time) error {
	query, err := getQuery("upsert_page.sql")
	if err != nil {
		return err
	}
	if _, err := db.Conn.Exec(query, id, compressed, capturedAt); err != nil {
		return fmt.Errorf("failed to upsert page %d: %w", id, err)
	}
	return nil
}

// GetPage returns the compressed snapshot for an identifier.
func (db *DB) GetPage(id int64) ([]byte, error) {
	query, err := getQuery("get_page.sql")
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = db.Conn.QueryRow(query, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d: %w", id, err)
	}
	return blob, nil
}

// UpsertMedia inserts or replaces the media index row for an identifier.
func (db *DB) UpsertMedia(id int64, relPath string, fingerprint *int64) error {
	query, err := getQuery("upsert_media.sql")
	if err != nil {
		return err
	}
	if _, err := db.Conn.Exec(query, id, relPath, fingerprint); err != nil {
		return fmt.Errorf("failed to upsert media %d: %w", id, err)
	}
	return nil
}

// MediaExists reports which of the given identifiers already have a media
// index row.
func (db *DB) MediaExists(ids []int64) (map[int64]bool, error) {
	exists := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return exists, nil
	}
	query, err := getParsedQuery("media_exists.sql.tpl", struct{ Placeholders string }{
		Placeholders: strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","),
	})
	if err != nil {
		return nil, err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.Conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query media existence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		exists[id] = true
	}
	return exists, rows.Err()
}

// GetMedia returns the media row for an identifier.
func (db *DB) GetMedia(id int64) (*storage.MediaRecord, error) {
	query, err := getQuery("get_media.sql")
	if err != nil {
		return nil, err
	}
	rec, err := scanMediaRecord(db.Conn.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media %d: %w", id, err)
	}
	return rec, nil
}

// MediaByPath returns media rows whose stored path contains the substring.
func (db *DB) MediaByPath(substr string) ([]storage.MediaRecord, error) {
	query, err := getQuery("media_by_path.sql")
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn.Query(query, substr)
	if err != nil {
		return nil, fmt.Errorf("failed to query media by path: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.MediaRecord
	for rows.Next() {
		rec, err := scanMediaRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MissingPages returns identifiers present in the metadata table but absent
// from the snapshot table, in a bounded batch.
func (db *DB) MissingPages(limit, offset int) ([]int64, error) {
	return db.missingIDs("missing_pages.sql", limit, offset)
}

// MissingMedia returns identifiers present in the metadata table but absent
// from the media index, in a bounded batch.
func (db *DB) MissingMedia(limit, offset int) ([]int64, error) {
	return db.missingIDs("missing_media.sql", limit, offset)
}

func (db *DB) missingIDs(queryName string, limit, offset int) ([]int64, error) {
	query, err := getQuery(queryName)
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindSimilar returns media rows within maxDistance of the query fingerprint,
// ascending by distance. With maxDistance zero only exact matches are
// considered, which avoids scanning the whole index.
func (db *DB) FindSimilar(fingerprint int64, maxDistance int) ([]storage.Match, error) {
	exactQuery, err := getQuery("find_exact.sql")
	if err != nil {
		return nil, err
	}
	matches, err := db.collectMatches(exactQuery, fingerprint)
	if err != nil {
		return nil, err
	}
	if maxDistance == 0 || len(matches) > 0 {
		return matches, nil
	}

	scanQuery, err := getQuery("find_similar.sql")
	if err != nil {
		return nil, err
	}
	return db.collectMatches(scanQuery, fingerprint, maxDistance)
}

func (db *DB) collectMatches(query string, args ...any) ([]storage.Match, error) {
	rows, err := db.Conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar media: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	withDistance := len(cols) == 4

	var matches []storage.Match
	for rows.Next() {
		var m storage.Match
		if withDistance {
			err = rows.Scan(&m.ID, &m.Path, &m.Fingerprint, &m.Distance)
		} else {
			err = rows.Scan(&m.ID, &m.Path, &m.Fingerprint)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// HashlessMedia returns media rows missing a fingerprint, bounded.
func (db *DB) HashlessMedia(limit int) ([]storage.MediaRecord, error) {
	query, err := getQuery("hashless_media.sql")
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unhashed media: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.MediaRecord
	for rows.Next() {
		var rec storage.MediaRecord
		if err := rows.Scan(&rec.ID, &rec.Path); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetMediaHash backfills the fingerprint of an existing media row.
func (db *DB) SetMediaHash(id int64, fingerprint int64) error {
	query, err := getQuery("set_media_hash.sql")
	if err != nil {
		return err
	}
	res, err := db.Conn.Exec(query, fingerprint, id)
	if err != nil {
		return fmt.Errorf("failed to set hash for media %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for media %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("media %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaRecord(row rowScanner) (*storage.MediaRecord, error) {
	var rec storage.MediaRecord
	var hash sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.Path, &hash); err != nil {
		return nil, err
	}
	if hash.Valid {
		rec.Fingerprint = &hash.Int64
	}
	return &rec, nil
}
