// Package pgvector stores chunk vectors in Postgres using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/lectern/internal/vectorindex"
)

// Store implements vectorindex.Index on top of the chunks table.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return vectorindex.Wrap("pgvector ping", err)
	}
	return nil
}

const upsertChunkSQL = `
INSERT INTO chunks (id, document_id, source_file, section_title, chunk_index, content, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  document_id = EXCLUDED.document_id,
  source_file = EXCLUDED.source_file,
  section_title = EXCLUDED.section_title,
  chunk_index = EXCLUDED.chunk_index,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  updated_at = NOW();
`

// Upsert writes all points in one transaction.
func (s *Store) Upsert(ctx context.Context, points []vectorindex.Point) (err error) {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return vectorindex.Wrap("pgvector upsert", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = vectorindex.Wrap("pgvector commit", cerr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertChunkSQL)
	if err != nil {
		return vectorindex.Wrap("pgvector prepare", err)
	}
	defer stmt.Close()

	for _, p := range points {
		lit, err := encodeVectorLiteral(p.Vector)
		if err != nil {
			return vectorindex.Wrap("pgvector upsert "+p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.DocumentID, p.SourceFile, p.SectionTitle, p.ChunkIndex, p.Text, lit); err != nil {
			return vectorindex.Wrap("pgvector upsert "+p.ID, err)
		}
	}
	return nil
}

const searchChunksSQL = `
SELECT id, source_file, section_title, chunk_index, content, embedding <=> $1::vector AS distance
FROM chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`

// Search returns the closest chunks by cosine distance; score is 1 - distance.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorindex.Hit, error) {
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, vectorindex.Wrap("pgvector search", err)
	}
	rows, err := s.DB.QueryContext(ctx, searchChunksSQL, lit, vectorindex.ClampTopK(topK))
	if err != nil {
		return nil, vectorindex.Wrap("pgvector search", err)
	}
	defer rows.Close()

	hits := make([]vectorindex.Hit, 0)
	for rows.Next() {
		var (
			h        vectorindex.Hit
			distance float64
		)
		if err := rows.Scan(&h.ID, &h.SourceFile, &h.SectionTitle, &h.ChunkIndex, &h.Text, &distance); err != nil {
			return nil, vectorindex.Wrap("pgvector scan", err)
		}
		h.Score = vectorindex.ClampScore(1 - distance)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorindex.Wrap("pgvector rows", err)
	}
	vectorindex.SortHits(hits)
	return hits, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, vectorindex.Wrap("pgvector count", err)
	}
	return n, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
