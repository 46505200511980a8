package embeddings

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"time"

	"github.com/phat-labs/phatd/pkg/retrieval"
)

// SyncWorker keeps the pgvector table in sync with the JSONL corpus.
// It re-reads the corpus on an interval, embeds new or changed documents
// in batches, and prunes rows whose documents left the corpus.
type SyncWorker struct {
	corpus    *retrieval.Store
	store     *Store
	tei       *TEIClient
	interval  time.Duration
	batchSize int
}

// NewSyncWorker creates a new background sync worker.
func NewSyncWorker(corpus *retrieval.Store, store *Store, tei *TEIClient, interval time.Duration, batchSize int) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &SyncWorker{
		corpus:    corpus,
		store:     store,
		tei:       tei,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run starts the sync loop. Blocks until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("corpus embedding sync started",
		"corpus", w.corpus.Path(),
		"interval", w.interval,
		"batch_size", w.batchSize,
	)

	// Initial sync on startup (backfill)
	if embedded, err := w.SyncOnce(ctx); err != nil {
		slog.Warn("initial corpus sync failed", "error", err)
	} else if embedded > 0 {
		slog.Info("initial corpus sync complete", "embedded", embedded)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("corpus embedding sync stopping")
			return
		case <-ticker.C:
			if embedded, err := w.SyncOnce(ctx); err != nil {
				slog.Warn("corpus sync cycle failed", "error", err)
			} else if embedded > 0 {
				slog.Info("corpus sync cycle", "embedded", embedded)
			}
		}
	}
}

// SyncOnce runs a single sync cycle:
//  1. Load the full corpus from JSONL
//  2. Get all embedded IDs + content hashes from pgvector
//  3. Find new or changed (hash mismatch) documents
//  4. Batch embed via TEI and upsert into pgvector
//  5. Prune embeddings whose documents are gone
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	docs, err := w.corpus.Load()
	if err != nil {
		return 0, fmt.Errorf("load corpus: %w", err)
	}

	embedded, err := w.store.GetEmbedded(ctx)
	if err != nil {
		return 0, fmt.Errorf("get embedded: %w", err)
	}

	var toEmbed []retrieval.Document
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		seen[doc.ID] = true
		existingHash, exists := embedded[doc.ID]
		if !exists || existingHash != ContentHash(doc.Text) {
			toEmbed = append(toEmbed, doc)
		}
	}

	// Prune documents that left the corpus
	for id := range embedded {
		if !seen[id] {
			if err := w.store.Delete(ctx, id); err != nil {
				slog.Warn("prune embedding failed", "doc", id, "error", err)
			}
		}
	}

	if len(toEmbed) == 0 {
		return 0, nil
	}

	slog.Info("documents need embedding",
		"corpus", len(docs),
		"already_embedded", len(embedded),
		"to_embed", len(toEmbed),
	)

	totalEmbedded := 0
	for i := 0; i < len(toEmbed); i += w.batchSize {
		end := i + w.batchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		batch := toEmbed[i:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		hashes := make([]string, len(batch))
		for j, doc := range batch {
			ids[j] = doc.ID
			texts[j] = doc.Text
			hashes[j] = ContentHash(doc.Text)
		}

		vectors, err := w.tei.EmbedDocuments(ctx, texts)
		if err != nil {
			slog.Warn("embed batch failed", "error", err, "batch_start", i, "batch_size", len(texts))
			continue
		}

		if err := w.store.UpsertBatch(ctx, ids, texts, vectors, hashes); err != nil {
			slog.Warn("store batch failed", "error", err, "batch_start", i)
			continue
		}

		totalEmbedded += len(vectors)
	}

	return totalEmbedded, nil
}

// ContentHash computes an MD5 hash of document text for staleness detection.
func ContentHash(text string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(text)))
}
