package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/folder-mcp/foldermcp/internal/filestate"
)

// Store persists document state and chunk metadata for one folder.
// WAL mode with a single writer connection keeps concurrent readers
// (status queries from another process) from blocking indexing.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateIntegrity checks a database file before opening it for writing.
// Returns nil if the file is absent (it will be created) or healthy.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens (or creates) the embeddings database for folder.
// A corrupted database is cleared and recreated; the folder will be
// re-indexed from scratch on the next scan.
func Open(folder string) (*Store, error) {
	path := DBPath(folder)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	if validErr := validateIntegrity(path); validErr != nil {
		slog.Warn("embeddings_db_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))

		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("database corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")

		slog.Info("embeddings_db_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, folder will reindex"))
	}

	return open(path)
}

// OpenMemory creates an in-memory store for testing.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}

// OpenReadOnly opens an existing embeddings database without taking the
// writer connection. Used by status queries from other processes.
func OpenReadOnly(folder string) (*Store, error) {
	path := DBPath(folder)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no index database at %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &Store{db: db, path: path}, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		path            TEXT PRIMARY KEY,
		content_hash    TEXT NOT NULL,
		size            INTEGER NOT NULL DEFAULT 0,
		mtime           INTEGER NOT NULL DEFAULT 0,
		state           TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		started_at      INTEGER NOT NULL DEFAULT 0,
		indexed_at      INTEGER NOT NULL DEFAULT 0,
		failure_reason  TEXT NOT NULL DEFAULT '',
		chunk_count     INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);

	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		path          TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
		chunk_index   INTEGER NOT NULL,
		chunk_total   INTEGER NOT NULL,
		content       TEXT NOT NULL,
		token_count   INTEGER NOT NULL,
		start_offset  INTEGER NOT NULL,
		end_offset    INTEGER NOT NULL,
		params        TEXT NOT NULL,
		key_phrases   TEXT NOT NULL DEFAULT '[]',
		topics        TEXT NOT NULL DEFAULT '[]',
		readability   REAL NOT NULL DEFAULT 0,
		embedding     BLOB,
		model         TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetDocument returns the record for path, or nil if the path is untracked.
func (s *Store) GetDocument(ctx context.Context, path string) (*filestate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, size, mtime, state, attempts,
		       last_attempt_at, started_at, indexed_at, failure_reason, chunk_count
		FROM documents WHERE path = ?`, path)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// UpsertDocument inserts or replaces the record for rec.Path.
func (s *Store) UpsertDocument(ctx context.Context, rec *filestate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(path, content_hash, size, mtime, state, attempts,
			 last_attempt_at, started_at, indexed_at, failure_reason, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size = excluded.size,
			mtime = excluded.mtime,
			state = excluded.state,
			attempts = excluded.attempts,
			last_attempt_at = excluded.last_attempt_at,
			started_at = excluded.started_at,
			indexed_at = excluded.indexed_at,
			failure_reason = excluded.failure_reason,
			chunk_count = excluded.chunk_count`,
		rec.Path, rec.ContentHash, rec.Size, unixOrZero(rec.ModTime),
		string(rec.State), rec.Attempts, unixOrZero(rec.LastAttemptAt),
		unixOrZero(rec.StartedAt), unixOrZero(rec.IndexedAt),
		rec.FailureReason, rec.ChunkCount)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", rec.Path, err)
	}
	return nil
}

// ListDocuments returns all tracked records ordered by path.
func (s *Store) ListDocuments(ctx context.Context) ([]*filestate.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content_hash, size, mtime, state, attempts,
		       last_attempt_at, started_at, indexed_at, failure_reason, chunk_count
		FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var recs []*filestate.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteDocument removes a document and, via cascade, its chunks.
// Returns the IDs of the deleted chunks so the caller can evict them from
// the vector and keyword indexes.
func (s *Store) DeleteDocument(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ids, err := s.chunkIDs(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return nil, fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return ids, nil
}

func (s *Store) chunkIDs(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceChunks atomically swaps a document's chunks for a fresh set.
// Returns the IDs of the chunks that were replaced.
func (s *Store) ReplaceChunks(ctx context.Context, path string, chunks []*ChunkRecord) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	old, err := s.chunkIDs(ctx, path)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return nil, fmt.Errorf("failed to clear chunks for %s: %w", path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(id, path, chunk_index, chunk_total, content, token_count,
			 start_offset, end_offset, params, key_phrases, topics,
			 readability, embedding, model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		phrases, err := json.Marshal(ch.KeyPhrases)
		if err != nil {
			return nil, err
		}
		topics, err := json.Marshal(ch.Topics)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, path, ch.Index, ch.Total, ch.Content, ch.TokenCount,
			ch.StartOffset, ch.EndOffset, string(ch.ParamsJSON),
			string(phrases), string(topics), ch.Readability,
			encodeVector(ch.Embedding), ch.Model); err != nil {
			return nil, fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return old, nil
}

// GetChunks returns chunks by ID. Missing IDs are silently omitted so a
// search result that raced a re-index degrades instead of failing.
func (s *Store) GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, path, chunk_index, chunk_total, content, token_count,
		       start_offset, end_offset, params, key_phrases, topics,
		       readability, embedding, model
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ChunkRecord, len(ids))
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[ch.ID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve caller order (search ranking).
	out := make([]*ChunkRecord, 0, len(ids))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// ChunksByPath returns a document's chunks in index order.
func (s *Store) ChunksByPath(ctx context.Context, path string) ([]*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, chunk_index, chunk_total, content, token_count,
		       start_offset, end_offset, params, key_phrases, topics,
		       readability, embedding, model
		FROM chunks WHERE path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []*ChunkRecord
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// DocumentModel returns the embedding model of a document's stored
// chunks, or "" when the document has none.
func (s *Store) DocumentModel(ctx context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var model string
	err := s.db.QueryRowContext(ctx,
		`SELECT model FROM chunks WHERE path = ? LIMIT 1`, path).Scan(&model)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query chunk model for %s: %w", path, err)
	}
	return model, nil
}

// AllEmbeddings streams every stored chunk embedding. Used to rebuild the
// in-memory vector graph when the persisted one is missing or stale.
func (s *Store) AllEmbeddings(ctx context.Context) (ids []string, vectors [][]float32, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, err
		}
		vec := decodeVector(blob)
		if vec == nil {
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, rows.Err()
}

// ReclaimStuck flips documents that have sat in processing longer than
// threshold back to pending. Returns how many were reclaimed.
func (s *Store) ReclaimStuck(ctx context.Context, threshold time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	cutoff := now.Add(-threshold).Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET state = ?
		WHERE state = ? AND started_at > 0 AND started_at < ?`,
		string(filestate.StatePending), string(filestate.StateProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck documents: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats summarizes the folder's index.
func (s *Store) Stats(ctx context.Context) (*FolderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &FolderStats{States: StateCounts{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*), COALESCE(SUM(size), 0) FROM documents GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		var size int64
		if err := rows.Scan(&state, &count, &size); err != nil {
			return nil, err
		}
		stats.States[filestate.State(state)] = count
		stats.DocumentCount += count
		stats.TotalBytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, err
	}
	return stats, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*filestate.Record, error) {
	var rec filestate.Record
	var state string
	var mtime, lastAttempt, started, indexed int64

	err := row.Scan(&rec.Path, &rec.ContentHash, &rec.Size, &mtime, &state,
		&rec.Attempts, &lastAttempt, &started, &indexed,
		&rec.FailureReason, &rec.ChunkCount)
	if err != nil {
		return nil, err
	}

	rec.State = filestate.State(state)
	rec.ModTime = timeOrZero(mtime)
	rec.LastAttemptAt = timeOrZero(lastAttempt)
	rec.StartedAt = timeOrZero(started)
	rec.IndexedAt = timeOrZero(indexed)
	return &rec, nil
}

func scanChunk(row rowScanner) (*ChunkRecord, error) {
	var ch ChunkRecord
	var params, phrases, topics string
	var blob []byte

	err := row.Scan(&ch.ID, &ch.Path, &ch.Index, &ch.Total, &ch.Content,
		&ch.TokenCount, &ch.StartOffset, &ch.EndOffset, &params,
		&phrases, &topics, &ch.Readability, &blob, &ch.Model)
	if err != nil {
		return nil, err
	}

	ch.ParamsJSON = []byte(params)
	if err := json.Unmarshal([]byte(phrases), &ch.KeyPhrases); err != nil {
		return nil, fmt.Errorf("corrupt key_phrases for chunk %s: %w", ch.ID, err)
	}
	if err := json.Unmarshal([]byte(topics), &ch.Topics); err != nil {
		return nil, fmt.Errorf("corrupt topics for chunk %s: %w", ch.ID, err)
	}
	ch.Embedding = decodeVector(blob)
	return &ch, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
