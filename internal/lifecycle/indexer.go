package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/folder-mcp/foldermcp/internal/chunk"
	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/filestate"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// IndexFolder runs one indexing pass over the folder: reconcile deleted
// files, then walk the tree and process every file the state manager
// says is due. Per-file failures are recorded and skipped over; worker
// failures abort the pass because every remaining file would hit the
// same wall.
func (m *Manager) IndexFolder(ctx context.Context, folder string, embedder model.Embedder, progress func(done, total int)) error {
	f, ok := m.Get(folder)
	if !ok {
		return errors.New(errors.ErrCodeInvalidPath, "folder is not managed: "+folder, nil)
	}

	files, err := f.scan()
	if err != nil {
		return err
	}
	if err := m.reconcileDeleted(ctx, f, files); err != nil {
		return err
	}

	total := len(files)
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.processFile(ctx, f, rel, embedder); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, total)
		}
	}

	if err := f.vectors.Save(store.VectorPath(f.Root)); err != nil {
		m.logger.Warn("vector_index_save_failed",
			slog.String("folder", f.Root),
			slog.String("error", err.Error()))
	}
	return nil
}

// scan walks the folder and returns the indexable files as sorted
// slash-separated relative paths.
func (f *Folder) scan() ([]string, error) {
	var files []string
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(f.Root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && f.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if f.filter.ShouldIndex(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPath, "failed to scan folder", err)
	}
	sort.Strings(files)
	return files, nil
}

// reconcileDeleted drops tracked documents whose files are gone and
// evicts their chunks from both indexes.
func (m *Manager) reconcileDeleted(ctx context.Context, f *Folder, present []string) error {
	onDisk := make(map[string]struct{}, len(present))
	for _, rel := range present {
		onDisk[rel] = struct{}{}
	}

	docs, err := f.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, ok := onDisk[doc.Path]; ok {
			continue
		}
		oldIDs, err := f.store.DeleteDocument(ctx, doc.Path)
		if err != nil {
			return err
		}
		f.evict(ctx, oldIDs)
		m.logger.Info("document_removed",
			slog.String("folder", f.Root),
			slog.String("path", doc.Path))
	}
	return nil
}

func (f *Folder) evict(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	f.vectors.Delete(ids)
	_ = f.keywords.Delete(ctx, ids)
}

// processFile brings one file's index entry up to date with its current
// content hash.
func (m *Manager) processFile(ctx context.Context, f *Folder, rel string, embedder model.Embedder) error {
	abs := filepath.Join(f.Root, filepath.FromSlash(rel))
	now := time.Now()

	hash, err := filestate.HashFile(abs)
	if err != nil {
		// Raced with a delete; the next pass reconciles it.
		m.logger.Warn("hash_failed", slog.String("path", rel), slog.String("error", err.Error()))
		return nil
	}

	rec, err := f.store.GetDocument(ctx, rel)
	if err != nil {
		return err
	}
	if filestate.Decide(rec, hash, now) == filestate.DecisionSkip {
		// An unchanged file still needs re-embedding after a model switch.
		stored, err := f.store.DocumentModel(ctx, rel)
		if err != nil {
			return err
		}
		if stored == "" || stored == embedder.ModelName() {
			return nil
		}
	}

	if rec == nil || rec.ContentHash != hash {
		var size int64
		var modTime time.Time
		if info, statErr := os.Stat(abs); statErr == nil {
			size = info.Size()
			modTime = info.ModTime()
		}
		rec = filestate.NewRecord(rel, hash, size, modTime)
	}
	filestate.StartProcessing(rec, now)
	if err := f.store.UpsertDocument(ctx, rec); err != nil {
		return err
	}

	records, err := m.buildChunks(ctx, f, rel, abs, hash, embedder)
	if err != nil {
		if errors.GetCategory(err) == errors.CategoryWorker {
			// Record the failure, then surface it: the worker is down.
			filestate.MarkFailure(rec, err.Error(), false, time.Now())
			_ = f.store.UpsertDocument(ctx, rec)
			return err
		}
		filestate.MarkFailure(rec, err.Error(), errors.IsCorruption(err), time.Now())
		m.logger.Warn("file_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()),
			slog.String("state", string(rec.State)))
		return f.store.UpsertDocument(ctx, rec)
	}

	oldIDs, err := f.store.ReplaceChunks(ctx, rel, records)
	if err != nil {
		return err
	}
	f.evict(ctx, oldIDs)

	// A parseable file with nothing to chunk is skipped, not indexed:
	// indexed always means at least one chunk exists.
	if len(records) == 0 {
		filestate.MarkSkipped(rec, "no indexable content", time.Now())
		m.logger.Debug("file_skipped", slog.String("path", rel))
		return f.store.UpsertDocument(ctx, rec)
	}

	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		vecs[i] = r.Embedding
	}
	if err := f.vectors.Add(ids, vecs); err != nil {
		return err
	}
	if err := f.keywords.Index(ctx, records); err != nil {
		return err
	}

	filestate.MarkSuccess(rec, len(records), time.Now())
	if err := f.store.UpsertDocument(ctx, rec); err != nil {
		return err
	}

	m.logger.Debug("file_indexed",
		slog.String("path", rel),
		slog.Int("chunks", len(records)))
	return nil
}

// buildChunks parses, chunks, and embeds one file.
func (m *Manager) buildChunks(ctx context.Context, f *Folder, rel, abs, hash string, embedder model.Embedder) ([]*store.ChunkRecord, error) {
	doc, err := m.parsers.Parse(ctx, abs)
	if err != nil {
		return nil, err
	}
	chunks, err := m.chunker.ChunkDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vecs, err := embedBatches(ctx, embedder, texts)
	if err != nil {
		return nil, err
	}

	records := make([]*store.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		params, err := chunk.MarshalParams(ch.Params)
		if err != nil {
			return nil, err
		}
		records[i] = &store.ChunkRecord{
			ID:          chunkID(rel, hash, i),
			Path:        rel,
			Index:       ch.Index,
			Total:       ch.Total,
			Content:     ch.Content,
			TokenCount:  ch.TokenCount,
			StartOffset: ch.StartOffset,
			EndOffset:   ch.EndOffset,
			ParamsJSON:  params,
			KeyPhrases:  ch.Semantics.KeyPhrases,
			Topics:      ch.Semantics.Topics,
			Readability: ch.Semantics.Readability,
			Embedding:   vecs[i],
			Model:       embedder.ModelName(),
		}
	}
	return records, nil
}

// embedBatches embeds texts in worker-sized batches.
func embedBatches(ctx context.Context, embedder model.Embedder, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += model.DefaultBatchSize {
		end := min(start+model.DefaultBatchSize, len(texts))
		batch, err := embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, batch...)
	}
	if len(vecs) != len(texts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedded %d of %d chunks", len(vecs), len(texts)), nil)
	}
	return vecs, nil
}

// chunkID derives a content-addressed chunk identifier.
func chunkID(path, hash string, index int) string {
	h := sha256.Sum256([]byte(path + "\x00" + hash + "\x00" + strconv.Itoa(index)))
	return hex.EncodeToString(h[:])
}
