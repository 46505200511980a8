package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store provides pgvector-backed storage and similarity search for
// embedded corpus documents. Indexing is Postgres's job; the store only
// writes rows and runs distance queries.
type Store struct {
	pool *pgxpool.Pool
}

// Chunk is a similarity search hit: a document's text with its cosine
// distance to the query (lower is more similar).
type Chunk struct {
	DocID    string
	Text     string
	Distance float64
}

// NewStore creates a new pgvector store and verifies the connection.
func NewStore(ctx context.Context, pgURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	// Register pgvector types on each new connection
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Init creates the pgvector extension, table, and index if they don't exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS corpus_embeddings (
			doc_id       TEXT PRIMARY KEY,
			text         TEXT NOT NULL,
			embedding    vector(768) NOT NULL,
			content_hash TEXT NOT NULL,
			embedded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create corpus_embeddings table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_corpus_embeddings_hnsw
		ON corpus_embeddings
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`)
	if err != nil {
		return fmt.Errorf("create HNSW index: %w", err)
	}

	slog.Info("corpus embedding store initialized")
	return nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertBatch stores embeddings for multiple documents in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, docIDs, texts []string, vectors [][]float32, hashes []string) error {
	if len(docIDs) != len(texts) || len(docIDs) != len(vectors) || len(docIDs) != len(hashes) {
		return fmt.Errorf("mismatched batch sizes: ids=%d texts=%d vectors=%d hashes=%d",
			len(docIDs), len(texts), len(vectors), len(hashes))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range docIDs {
		vec := pgvector.NewVector(vectors[i])
		_, err := tx.Exec(ctx, `
			INSERT INTO corpus_embeddings (doc_id, text, embedding, content_hash, embedded_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (doc_id) DO UPDATE
			SET text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				content_hash = EXCLUDED.content_hash,
				embedded_at = now()
		`, docIDs[i], texts[i], vec, hashes[i])
		if err != nil {
			return fmt.Errorf("upsert embedding %s: %w", docIDs[i], err)
		}
	}

	return tx.Commit(ctx)
}

// Search returns the top-K most similar document chunks by cosine distance.
func (s *Store) Search(ctx context.Context, queryVector []float32, limit int) ([]Chunk, error) {
	vec := pgvector.NewVector(queryVector)
	rows, err := s.pool.Query(ctx, `
		SELECT doc_id, text, embedding <=> $1 AS distance
		FROM corpus_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.DocID, &c.Text, &c.Distance); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetEmbedded returns all embedded document IDs with their content hashes.
func (s *Store) GetEmbedded(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT doc_id, content_hash FROM corpus_embeddings")
	if err != nil {
		return nil, fmt.Errorf("get embedded: %w", err)
	}
	defer rows.Close()

	embedded := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scan embedded: %w", err)
		}
		embedded[id] = hash
	}
	return embedded, rows.Err()
}

// Delete removes the embedding for a document no longer in the corpus.
func (s *Store) Delete(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM corpus_embeddings WHERE doc_id = $1", docID)
	return err
}

// Stats returns the embedded document count.
func (s *Store) Stats(ctx context.Context) (count int, err error) {
	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM corpus_embeddings").Scan(&count)
	return
}
