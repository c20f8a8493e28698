package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mudler/ragscope/rag/types"
	"github.com/mudler/xlog"
)

// PostgresDB stores chunks in a pgvector table, one table per collection.
type PostgresDB struct {
	pool           *pgxpool.Pool
	collectionName string
	tableName      string
	embedder       *Embedder
	embeddingDims  int
}

// NewPostgresDBCollection creates a new PostgreSQL-based collection
func NewPostgresDBCollection(ctx context.Context, collectionName, databaseURL string, embedder *Embedder) (*PostgresDB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for PostgreSQL engine")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The column type needs the dimensions, which only the model knows.
	testEmbedding, err := embedder.EmbedQuery(ctx, "test")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get test embedding: %w", err)
	}

	pg := &PostgresDB{
		pool:           pool,
		collectionName: collectionName,
		tableName:      sanitizeTableName(collectionName),
		embedder:       embedder,
		embeddingDims:  len(testEmbedding),
	}

	if err := pg.setupDatabase(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}

	return pg, nil
}

func sanitizeTableName(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, " ", "_")
	if len(name) > 0 && (name[0] < 'a' || name[0] > 'z') && (name[0] < 'A' || name[0] > 'Z') {
		name = "col_" + name
	}
	return "chunks_" + name
}

func (p *PostgresDB) setupDatabase(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}

	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS collection_config (
			collection_name TEXT PRIMARY KEY,
			embedding_model TEXT NOT NULL,
			embedding_dimensions INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create collection_config table: %w", err)
	}

	var model string
	var dims int
	err = p.pool.QueryRow(ctx,
		"SELECT embedding_model, embedding_dimensions FROM collection_config WHERE collection_name = $1",
		p.collectionName).Scan(&model, &dims)
	switch {
	case err == pgx.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read collection config: %w", err)
	case model != p.embedder.Model() || dims != p.embeddingDims:
		// Stored vectors are not comparable with the new model's.
		xlog.Warn("Embedding model changed, dropping stored chunks; run ingest again",
			"collection", p.collectionName, "old_model", model, "new_model", p.embedder.Model())
		if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", p.tableName)); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO collection_config (collection_name, embedding_model, embedding_dimensions)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection_name) DO UPDATE
		SET embedding_model = EXCLUDED.embedding_model,
			embedding_dimensions = EXCLUDED.embedding_dimensions,
			updated_at = NOW()
	`, p.collectionName, p.embedder.Model(), p.embeddingDims)
	if err != nil {
		return fmt.Errorf("failed to save collection config: %w", err)
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding VECTOR(%d)
		)
	`, p.tableName, p.embeddingDims))
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}

	return nil
}

func (p *PostgresDB) Count() int {
	var count int
	err := p.pool.QueryRow(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", p.tableName)).Scan(&count)
	if err != nil {
		xlog.Error("Failed to count chunks", "table", p.tableName, "error", err)
		return 0
	}
	return count
}

func (p *PostgresDB) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", p.tableName)); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", p.tableName, err)
	}
	return nil
}

func (p *PostgresDB) Store(ctx context.Context, docs []types.Document) error {
	if len(docs) == 0 {
		return fmt.Errorf("no documents to store")
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	embeddings, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, d := range docs {
		metadata, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", d.ID, err)
		}
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4::vector)
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
		`, p.tableName), d.ID, d.Content, metadata, formatVector(embeddings[i]))
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	return nil
}

func (p *PostgresDB) Search(ctx context.Context, query string, similarEntries int) ([]types.Result, error) {
	if similarEntries <= 0 {
		return []types.Result{}, nil
	}

	embedding, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, p.tableName), formatVector(embedding), similarEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", p.tableName, err)
	}
	defer rows.Close()

	results := []types.Result{}
	for rows.Next() {
		var (
			r          types.Result
			metadata   []byte
			similarity float64
		)
		if err := rows.Scan(&r.ID, &r.Content, &metadata, &similarity); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", r.ID, err)
			}
		}
		r.Similarity = float32(similarity)
		r.CombinedScore = r.Similarity
		results = append(results, r)
	}

	return results, rows.Err()
}

// Close releases the connection pool.
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
