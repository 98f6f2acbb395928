// Package history is the transcription History Store: a SQLite-backed,
// full-text-searchable log of everything the daemon has transcribed, with
// content-addressed audio archiving and count/age-based retention.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fede/whisperaloud/internal/config"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite-backed transcription history.
type Store struct {
	db    *sql.DB
	cfg   config.PersistenceConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history database at cfg.DBPath, creating its schema
// and FTS5 index if they do not yet exist.
func Open(ctx context.Context, cfg config.PersistenceConfig, log *slog.Logger) (*Store, error) {
	dbPath := config.ExpandHome(cfg.DBPath)
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > 0 {
		s.log.Debug("history schema up to date", slog.Int("version", version))
		return nil
	}

	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TIMESTAMP NOT NULL,
    text TEXT NOT NULL,
    language TEXT,
    confidence REAL,
    duration REAL,
    processing_time REAL,
    segments TEXT,
    audio_path TEXT,
    audio_hash TEXT,
    tags TEXT,
    notes TEXT,
    favorite INTEGER NOT NULL DEFAULT 0,
    session_id TEXT,
    status TEXT NOT NULL DEFAULT 'completed',
    fail_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_timestamp ON transcriptions(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_transcriptions_favorite ON transcriptions(favorite);
CREATE INDEX IF NOT EXISTS idx_transcriptions_session ON transcriptions(session_id);
CREATE INDEX IF NOT EXISTS idx_transcriptions_audio_hash ON transcriptions(audio_hash);

CREATE VIRTUAL TABLE IF NOT EXISTS transcriptions_fts USING fts5(
    text, tags, notes,
    content=transcriptions,
    content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS transcriptions_ai AFTER INSERT ON transcriptions BEGIN
    INSERT INTO transcriptions_fts(rowid, text, tags, notes) VALUES (new.id, new.text, new.tags, new.notes);
END;
CREATE TRIGGER IF NOT EXISTS transcriptions_ad AFTER DELETE ON transcriptions BEGIN
    DELETE FROM transcriptions_fts WHERE rowid = old.id;
END;
CREATE TRIGGER IF NOT EXISTS transcriptions_au AFTER UPDATE ON transcriptions BEGIN
    INSERT INTO transcriptions_fts(transcriptions_fts, rowid, text, tags, notes) VALUES('delete', old.id, old.text, old.tags, old.notes);
    INSERT INTO transcriptions_fts(rowid, text, tags, notes) VALUES (new.id, new.text, new.tags, new.notes);
END;

CREATE TABLE IF NOT EXISTS audio_blobs (
    hash TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    ref_count INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	s.log.Info("created fresh history schema")
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, "PRAGMA user_version")
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert adds entry to the store, deduplicating by AudioHash when set:
// an entry whose audio matches a prior recording reuses the prior audio
// file and increments its reference count instead of archiving again.
// Returns the new row ID and newAudio, which is false only when AudioHash
// matched an existing blob; an entry without AudioHash also reports true
// (the caller uses this to decide whether to write audio to disk at all).
func (s *Store) Insert(ctx context.Context, entry Entry) (id int64, newAudio bool, err error) {
	now := s.clock().UTC()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.CreatedAt, entry.UpdatedAt = now, now
	if entry.Status == "" {
		entry.Status = StatusCompleted
	}

	segmentsJSON, err := json.Marshal(entry.Segments)
	if err != nil {
		return 0, false, fmt.Errorf("marshal segments: %w", err)
	}
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return 0, false, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	newAudio = true
	if entry.AudioHash != "" {
		var existingPath string
		scanErr := tx.QueryRowContext(ctx, "SELECT path FROM audio_blobs WHERE hash = ?", entry.AudioHash).Scan(&existingPath)
		switch scanErr {
		case nil:
			entry.AudioPath = existingPath
			newAudio = false
			if _, err = tx.ExecContext(ctx, "UPDATE audio_blobs SET ref_count = ref_count + 1 WHERE hash = ?", entry.AudioHash); err != nil {
				return 0, false, err
			}
		case sql.ErrNoRows:
			if _, err = tx.ExecContext(ctx,
				"INSERT INTO audio_blobs(hash, path, ref_count) VALUES (?, ?, 1)",
				entry.AudioHash, entry.AudioPath); err != nil {
				return 0, false, err
			}
		default:
			err = scanErr
			return 0, false, err
		}
	}

	res, execErr := tx.ExecContext(ctx, `
        INSERT INTO transcriptions (
            timestamp, text, language, confidence, duration, processing_time,
            segments, audio_path, audio_hash, tags, notes, favorite,
            session_id, status, fail_reason, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Text, entry.Language, entry.Confidence, entry.DurationSec, entry.ProcessingTime,
		string(segmentsJSON), entry.AudioPath, entry.AudioHash, string(tagsJSON), entry.Notes, boolToInt(entry.Favorite),
		entry.SessionID, entry.Status, entry.FailReason, entry.CreatedAt, entry.UpdatedAt)
	if execErr != nil {
		err = execErr
		return 0, false, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return 0, false, err
	}
	return id, newAudio, nil
}

// GetByID returns the entry with the given id, or nil if not found.
func (s *Store) GetByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM transcriptions WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries ordered newest-first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM transcriptions ORDER BY timestamp DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search runs an FTS5 query over text, tags and notes.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT t.id, t.timestamp, t.text, t.language, t.confidence, t.duration, t.processing_time,
               t.segments, t.audio_path, t.audio_hash, t.tags, t.notes, t.favorite, t.session_id,
               t.status, t.fail_reason, t.created_at, t.updated_at
        FROM transcriptions t
        JOIN transcriptions_fts fts ON t.id = fts.rowid
        WHERE transcriptions_fts MATCH ?
        ORDER BY t.timestamp DESC
        LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetFavorites returns favorited entries, newest-first.
func (s *Store) GetFavorites(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM transcriptions WHERE favorite = 1 ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetBySession returns all entries recorded under sessionID.
func (s *Store) GetBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM transcriptions WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?", sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ToggleFavorite flips the favorite flag on id and returns the new value.
func (s *Store) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current int
	if err = tx.QueryRowContext(ctx, "SELECT favorite FROM transcriptions WHERE id = ?", id).Scan(&current); err != nil {
		return false, err
	}
	next := 1
	if current == 1 {
		next = 0
	}
	if _, err = tx.ExecContext(ctx, "UPDATE transcriptions SET favorite = ?, updated_at = ? WHERE id = ?", next, s.clock().UTC(), id); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return next == 1, nil
}

// SetNotes updates an entry's free-form notes.
func (s *Store) SetNotes(ctx context.Context, id int64, notes string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE transcriptions SET notes = ?, updated_at = ? WHERE id = ?", notes, s.clock().UTC(), id)
	return err
}

// SetTags replaces an entry's tag set.
func (s *Store) SetTags(ctx context.Context, id int64, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "UPDATE transcriptions SET tags = ?, updated_at = ? WHERE id = ?", string(tagsJSON), s.clock().UTC(), id)
	return err
}

// Delete removes entry id. If it was the last reference to its audio blob,
// the blob's ref count is released and the returned path should be removed
// from the archive by the caller (the Store does not touch the filesystem).
func (s *Store) Delete(ctx context.Context, id int64) (released string, deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var audioHash string
	scanErr := tx.QueryRowContext(ctx, "SELECT audio_hash FROM transcriptions WHERE id = ?", id).Scan(&audioHash)
	if scanErr == sql.ErrNoRows {
		return "", false, tx.Commit()
	}
	if scanErr != nil {
		err = scanErr
		return "", false, err
	}

	res, execErr := tx.ExecContext(ctx, "DELETE FROM transcriptions WHERE id = ?", id)
	if execErr != nil {
		err = execErr
		return "", false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return "", false, tx.Commit()
	}

	if audioHash != "" {
		var refCount int
		var path string
		if err = tx.QueryRowContext(ctx, "SELECT ref_count, path FROM audio_blobs WHERE hash = ?", audioHash).Scan(&refCount, &path); err != nil && err != sql.ErrNoRows {
			return "", false, err
		}
		if refCount <= 1 {
			if _, err = tx.ExecContext(ctx, "DELETE FROM audio_blobs WHERE hash = ?", audioHash); err != nil {
				return "", false, err
			}
			released = path
		} else {
			if _, err = tx.ExecContext(ctx, "UPDATE audio_blobs SET ref_count = ref_count - 1 WHERE hash = ?", audioHash); err != nil {
				return "", false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", false, err
	}
	return released, true, nil
}

// Prune enforces the configured retention policy: entries older than
// RetentionDays are deleted, then, if MaxEntries is still exceeded, the
// oldest surplus entries are deleted regardless of age.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		rows, err := s.db.QueryContext(ctx, "SELECT id FROM transcriptions WHERE timestamp < ?", cutoff)
		if err != nil {
			return fmt.Errorf("select expired entries: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if _, _, err := s.Delete(ctx, id); err != nil {
				return fmt.Errorf("prune expired entry %d: %w", id, err)
			}
		}
		if len(ids) > 0 {
			s.log.Info("pruned expired history entries", slog.Int("count", len(ids)), slog.Int("retention_days", s.cfg.RetentionDays))
		}
	}

	if s.cfg.MaxEntries > 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT id FROM transcriptions ORDER BY timestamp DESC LIMIT -1 OFFSET ?", s.cfg.MaxEntries)
		if err != nil {
			return fmt.Errorf("select surplus entries: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if _, _, err := s.Delete(ctx, id); err != nil {
				return fmt.Errorf("prune surplus entry %d: %w", id, err)
			}
		}
		if len(ids) > 0 {
			s.log.Info("pruned history entries over max_entries", slog.Int("count", len(ids)), slog.Int("max_entries", s.cfg.MaxEntries))
		}
	}
	return nil
}

// GetStats computes aggregate statistics over the whole store.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByLanguage: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcriptions").Scan(&stats.TotalCount); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT language, COUNT(*) FROM transcriptions GROUP BY language")
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var lang sql.NullString
		var count int
		if err := rows.Scan(&lang, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByLanguage[lang.String] = count
	}
	rows.Close()

	var avgConf, totalDur sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, "SELECT AVG(confidence), SUM(duration) FROM transcriptions").Scan(&avgConf, &totalDur); err != nil {
		return stats, err
	}
	stats.AvgConfidence = avgConf.Float64
	stats.TotalDuration = totalDur.Float64

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcriptions WHERE favorite = 1").Scan(&stats.FavoritesCount); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcriptions WHERE audio_path IS NOT NULL AND audio_path != ''").Scan(&stats.WithAudioCount); err != nil {
		return stats, err
	}
	return stats, nil
}

const selectColumns = `SELECT id, timestamp, text, language, confidence, duration, processing_time,
    segments, audio_path, audio_hash, tags, notes, favorite, session_id, status, fail_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var segmentsJSON, tagsJSON sql.NullString
	var favorite int
	var language, audioPath, audioHash, notes, sessionID, status, failReason sql.NullString
	if err := row.Scan(&e.ID, &e.Timestamp, &e.Text, &language, &e.Confidence, &e.DurationSec, &e.ProcessingTime,
		&segmentsJSON, &audioPath, &audioHash, &tagsJSON, &notes, &favorite, &sessionID, &status, &failReason, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Language = language.String
	e.AudioPath = audioPath.String
	e.AudioHash = audioHash.String
	e.Notes = notes.String
	e.SessionID = sessionID.String
	e.Status = status.String
	e.FailReason = failReason.String
	e.Favorite = favorite != 0
	if segmentsJSON.Valid && segmentsJSON.String != "" {
		if err := json.Unmarshal([]byte(segmentsJSON.String), &e.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
