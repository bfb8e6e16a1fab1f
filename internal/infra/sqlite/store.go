// Package sqlite implements the persistence gateway on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"localtube/internal/domain"
	"localtube/internal/infra/sqlite/migrations"
	"localtube/internal/ports"
)

// Store provides source and media persistence.
type Store struct {
	db   *sql.DB
	path string
}

var _ ports.Store = (*Store)(nil)

// NewStore opens (creating if needed) the database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "localtube.db")

	// WAL for concurrent readers while worker slots write
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Sources ====================

func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, url, name, provider, fetch_last_days, refresh_frequency, sponsorblock, last_refreshed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, src.ID, src.URL, src.Name, src.Provider, src.FetchLastDays, src.RefreshFrequency,
		src.SponsorBlock, nullTime(src.LastRefreshedAt), src.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

const sourceColumns = "id, url, name, provider, fetch_last_days, refresh_frequency, sponsorblock, last_refreshed_at, created_at"

func (s *Store) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	return scanSource(row)
}

func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sourceColumns+" FROM sources ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

func (s *Store) UpdateSourceInfo(ctx context.Context, id, name, provider string) error {
	return s.execOne(ctx, "UPDATE sources SET name = ?, provider = ? WHERE id = ?", name, provider, id)
}

func (s *Store) SetSourceRefreshed(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "UPDATE sources SET last_refreshed_at = ? WHERE id = ?", at.UTC(), id)
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	return s.execOne(ctx, "DELETE FROM sources WHERE id = ?", id)
}

// ==================== Medias ====================

func (s *Store) CreateMedia(ctx context.Context, m *domain.Media) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.DownloadState == "" {
		m.DownloadState = domain.DownloadPending
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO medias (id, source_id, external_id, url, download_state, media_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, nullString(m.SourceID), m.ExternalID, m.URL, string(m.DownloadState),
		nullString(m.MediaPath), string(meta), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting media: %w", err)
	}
	return nil
}

const mediaColumns = "id, source_id, external_id, url, download_state, media_path, metadata, created_at"

func (s *Store) GetMedia(ctx context.Context, id string) (*domain.Media, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM medias WHERE id = ?", id)
	return scanMedia(row)
}

func (s *Store) FindMediaByExternalID(ctx context.Context, sourceID, externalID string) (*domain.Media, error) {
	var row *sql.Row
	if sourceID == "" {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+mediaColumns+" FROM medias WHERE source_id IS NULL AND external_id = ?", externalID)
	} else {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+mediaColumns+" FROM medias WHERE source_id = ? AND external_id = ?", sourceID, externalID)
	}
	return scanMedia(row)
}

func (s *Store) FindMediaByPath(ctx context.Context, path string) (*domain.Media, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM medias WHERE media_path = ?", path)
	return scanMedia(row)
}

func (s *Store) ListMedia(ctx context.Context) ([]domain.Media, error) {
	return s.queryMedia(ctx, "SELECT "+mediaColumns+" FROM medias ORDER BY created_at, id")
}

func (s *Store) ListMediaBySource(ctx context.Context, sourceID string) ([]domain.Media, error) {
	return s.queryMedia(ctx,
		"SELECT "+mediaColumns+" FROM medias WHERE source_id = ? ORDER BY created_at, id", sourceID)
}

func (s *Store) UpdateMediaMetadata(ctx context.Context, id string, meta domain.MediaMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	return s.execOne(ctx, "UPDATE medias SET metadata = ? WHERE id = ?", string(b), id)
}

func (s *Store) SetMediaDownloaded(ctx context.Context, id, path string, meta domain.MediaMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	return s.execOne(ctx, `
		UPDATE medias SET media_path = ?, download_state = ?, metadata = ? WHERE id = ?
	`, path, string(domain.DownloadDone), string(b), id)
}

func (s *Store) SetMediaState(ctx context.Context, id string, state domain.DownloadState) error {
	return s.execOne(ctx, "UPDATE medias SET download_state = ? WHERE id = ?", string(state), id)
}

func (s *Store) ClearMediaPath(ctx context.Context, id string) error {
	return s.execOne(ctx, `
		UPDATE medias SET media_path = NULL, download_state = ? WHERE id = ?
	`, string(domain.DownloadPending), id)
}

func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	return s.execOne(ctx, "DELETE FROM medias WHERE id = ?", id)
}

// ==================== helpers ====================

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) queryMedia(ctx context.Context, query string, args ...any) ([]domain.Media, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying medias: %w", err)
	}
	defer rows.Close()

	var medias []domain.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		medias = append(medias, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating medias: %w", err)
	}
	return medias, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*domain.Source, error) {
	var src domain.Source
	var lastRefreshed sql.NullTime
	err := row.Scan(&src.ID, &src.URL, &src.Name, &src.Provider, &src.FetchLastDays,
		&src.RefreshFrequency, &src.SponsorBlock, &lastRefreshed, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	if lastRefreshed.Valid {
		src.LastRefreshedAt = lastRefreshed.Time
	}
	return &src, nil
}

func scanMedia(row scanner) (*domain.Media, error) {
	var m domain.Media
	var sourceID, mediaPath, metadata sql.NullString
	var state string
	err := row.Scan(&m.ID, &sourceID, &m.ExternalID, &m.URL, &state, &mediaPath,
		&metadata, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning media: %w", err)
	}
	m.SourceID = sourceID.String
	m.MediaPath = mediaPath.String
	m.DownloadState = domain.DownloadState(state)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling media metadata: %w", err)
		}
	}
	return &m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
