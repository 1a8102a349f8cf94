package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"photovault/pkg/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS albums (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	user_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	album_id TEXT,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	uploaded_at TEXT NOT NULL,
	enhanced_url TEXT,
	enhanced_at TEXT,
	ai_tags TEXT,
	faces INTEGER
);
CREATE INDEX IF NOT EXISTS idx_photos_album ON photos(album_id);
`

// SQLiteStore persists the local mirror in a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	seed AdminSeed
}

// NewSQLiteStore opens (or creates) the database file and its tables.
func NewSQLiteStore(path string, seed AdminSeed) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db, seed: seed}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAll returns records in insertion order.
func (s *SQLiteStore) GetAll(ctx context.Context, c domain.Collection) ([]domain.Record, error) {
	switch c {
	case domain.CollectionUsers:
		return s.listUsers(ctx)
	case domain.CollectionAlbums:
		return s.listAlbums(ctx)
	case domain.CollectionPhotos:
		return s.listPhotos(ctx)
	}
	return nil, validCollection(c)
}

// BulkPut upserts each record in its own statement.
func (s *SQLiteStore) BulkPut(ctx context.Context, c domain.Collection, records []domain.Record) error {
	if err := validCollection(c); err != nil {
		return err
	}
	var failures []RecordError
	for i, rec := range records {
		err := checkRecord(c, rec)
		if err == nil {
			err = s.put(ctx, rec)
		}
		if err != nil {
			failures = append(failures, RecordError{Index: i, ID: recordID(rec), Err: err})
		}
	}
	if len(failures) > 0 {
		return &BulkPutError{Collection: c, Failures: failures}
	}
	return nil
}

// Clear deletes every row of the collection's table.
func (s *SQLiteStore) Clear(ctx context.Context, c domain.Collection) error {
	if err := validCollection(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+string(c))
	return err
}

// Delete removes the row with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, c domain.Collection, id string) error {
	if err := validCollection(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+string(c)+" WHERE id = ?", id)
	return err
}

// ResetDB clears all collections and reseeds the administrator.
func (s *SQLiteStore) ResetDB(ctx context.Context) error {
	return resetDB(ctx, s, s.seed)
}

// EnsureAdminExists inserts the administrator when no admin user is present.
func (s *SQLiteStore) EnsureAdminExists(ctx context.Context) error {
	return ensureAdmin(ctx, s, s.seed)
}

func (s *SQLiteStore) put(ctx context.Context, rec domain.Record) error {
	var err error
	switch r := rec.(type) {
	case domain.User:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO users (id, email, name, role, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				email = excluded.email,
				name = excluded.name,
				role = excluded.role,
				created_at = excluded.created_at`,
			r.ID, r.Email, r.Name, string(r.Role), formatTime(r.CreatedAt))
	case domain.Album:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO albums (id, name, user_id, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				user_id = excluded.user_id,
				created_at = excluded.created_at`,
			r.ID, r.Name, r.UserID, formatTime(r.CreatedAt))
	case domain.Photo:
		var tags sql.NullString
		if r.AITags != nil {
			raw, mErr := json.Marshal(r.AITags)
			if mErr != nil {
				return fmt.Errorf("encode tags: %w", mErr)
			}
			tags = sql.NullString{String: string(raw), Valid: true}
		}
		var enhancedAt sql.NullString
		if r.EnhancedAt != nil {
			enhancedAt = sql.NullString{String: formatTime(*r.EnhancedAt), Valid: true}
		}
		var faces sql.NullInt64
		if r.Faces != nil {
			faces = sql.NullInt64{Int64: int64(*r.Faces), Valid: true}
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO photos (id, album_id, user_id, name, url, uploaded_at, enhanced_url, enhanced_at, ai_tags, faces)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				album_id = excluded.album_id,
				user_id = excluded.user_id,
				name = excluded.name,
				url = excluded.url,
				uploaded_at = excluded.uploaded_at,
				enhanced_url = excluded.enhanced_url,
				enhanced_at = excluded.enhanced_at,
				ai_tags = excluded.ai_tags,
				faces = excluded.faces`,
			r.ID, nullString(r.AlbumID), r.UserID, r.Name, r.URL, formatTime(r.UploadedAt),
			nullString(r.EnhancedURL), enhancedAt, tags, faces)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}
	return err
}

func (s *SQLiteStore) listUsers(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, email, name, role, created_at FROM users ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		var u domain.User
		var role, createdAt string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role, &createdAt); err != nil {
			return nil, err
		}
		u.Role = domain.UserRole(role)
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) listAlbums(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, user_id, created_at FROM albums ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		var a domain.Album
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.UserID, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("album %s: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) listPhotos(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, user_id, name, url, uploaded_at, enhanced_url, enhanced_at, ai_tags, faces
		FROM photos ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		var p domain.Photo
		var albumID, enhancedURL, enhancedAt, tags sql.NullString
		var faces sql.NullInt64
		var uploadedAt string
		if err := rows.Scan(&p.ID, &albumID, &p.UserID, &p.Name, &p.URL, &uploadedAt, &enhancedURL, &enhancedAt, &tags, &faces); err != nil {
			return nil, err
		}
		if p.UploadedAt, err = parseTime(uploadedAt); err != nil {
			return nil, fmt.Errorf("photo %s: %w", p.ID, err)
		}
		p.AlbumID = stringPtr(albumID)
		p.EnhancedURL = stringPtr(enhancedURL)
		if enhancedAt.Valid {
			t, err := parseTime(enhancedAt.String)
			if err != nil {
				return nil, fmt.Errorf("photo %s: %w", p.ID, err)
			}
			p.EnhancedAt = &t
		}
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), &p.AITags); err != nil {
				return nil, fmt.Errorf("photo %s tags: %w", p.ID, err)
			}
		}
		if faces.Valid {
			n := int(faces.Int64)
			p.Faces = &n
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
