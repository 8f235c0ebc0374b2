// Package postgres implements storage.ChunkRepository on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DefaultConfig returns pool settings for dsn.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 10 * time.Minute,
		DialTimeout:     10 * time.Second,
	}
}

// ChunkStore implements storage.ChunkRepository for PostgreSQL.
type ChunkStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.ChunkRepository = (*ChunkStore)(nil)

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*ChunkStore, error) {
	logger := slog.Default().With("component", "postgres")
	if cfg.DSN == "" {
		return nil, core.ConfigurationError("postgres DSN is required")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, core.ConfigurationError("invalid postgres DSN: %v", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "plansight"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, core.ExternalServiceError("postgres", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, core.ExternalServiceError("postgres", err)
	}

	store := &ChunkStore{pool: pool, logger: logger}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to chunk store")
	return store, nil
}

// EnsureSchema creates the chunk table and match_chunks function if missing.
func (s *ChunkStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return core.ExternalServiceError("postgres", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *ChunkStore) Close() error {
	s.pool.Close()
	return nil
}

// PutChunks replaces the chunks of a document in one transaction.
func (s *ChunkStore) PutChunks(ctx context.Context, runID, documentID string, chunks []*core.Chunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ids := make([]string, len(chunks))
		for i, chunk := range chunks {
			chunk.RunID = runID
			chunk.DocumentID = documentID
			ids[i] = chunk.ID

			var seq int64
			err := tx.QueryRow(ctx, `
				INSERT INTO chunks (id, run_id, document_id, chunk_index, content, page, section, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
				ON CONFLICT (id) DO UPDATE SET
					chunk_index = EXCLUDED.chunk_index,
					content     = EXCLUDED.content,
					page        = EXCLUDED.page,
					section     = EXCLUDED.section,
					embedding   = EXCLUDED.embedding
				RETURNING seq`,
				chunk.ID, runID, documentID, chunk.Index, chunk.Content, chunk.Page, chunk.Section,
				formatVector(chunk.Vector),
			).Scan(&seq)
			if err != nil {
				return core.ExternalServiceError("postgres", err)
			}
			chunk.Seq = uint64(seq)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM chunks WHERE run_id = $1 AND document_id = $2 AND NOT (id = ANY($3))`,
			runID, documentID, ids,
		); err != nil {
			return core.ExternalServiceError("postgres", err)
		}
		return nil
	})
}

// GetChunks returns a document's chunks ordered by index.
func (s *ChunkStore) GetChunks(ctx context.Context, runID, documentID string) ([]*core.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, run_id, document_id, seq, chunk_index, content, page, section, embedding::text
		FROM chunks WHERE run_id = $1 AND document_id = $2
		ORDER BY chunk_index`, runID, documentID)
}

// ListRunChunks returns every chunk of a run ordered by sequence number.
func (s *ChunkStore) ListRunChunks(ctx context.Context, runID string) ([]*core.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, run_id, document_id, seq, chunk_index, content, page, section, embedding::text
		FROM chunks WHERE run_id = $1
		ORDER BY seq`, runID)
}

func (s *ChunkStore) queryChunks(ctx context.Context, sql string, args ...any) ([]*core.Chunk, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, core.ExternalServiceError("postgres", err)
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		var (
			chunk     core.Chunk
			seq       int64
			embedding *string
		)
		if err := rows.Scan(&chunk.ID, &chunk.RunID, &chunk.DocumentID, &seq, &chunk.Index,
			&chunk.Content, &chunk.Page, &chunk.Section, &embedding); err != nil {
			return nil, core.ExternalServiceError("postgres", err)
		}
		chunk.Seq = uint64(seq)
		if embedding != nil {
			chunk.Vector, err = parseVector(*embedding)
			if err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ExternalServiceError("postgres", err)
	}
	return chunks, nil
}

// UpdateVectors sets the vectors of existing chunks.
func (s *ChunkStore) UpdateVectors(ctx context.Context, runID string, vectors map[string][]float32) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for id, vector := range vectors {
			tag, err := tx.Exec(ctx,
				`UPDATE chunks SET embedding = $3::vector WHERE run_id = $1 AND id = $2`,
				runID, id, formatVector(vector))
			if err != nil {
				return core.ExternalServiceError("postgres", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: chunk %s in run %s", storage.ErrNotFound, id, runID)
			}
		}
		return nil
	})
}

// FindSimilar ranks a run's chunks with the match_chunks function.
func (s *ChunkStore) FindSimilar(ctx context.Context, runID string, vector []float32, minSimilarity float32, limit int) ([]core.ChunkMatch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, seq, content, page, section, similarity
		 FROM match_chunks($1::vector, $2, $3, $4)`,
		formatVector(vector), runID, float64(minSimilarity), limit)
	if err != nil {
		return nil, core.ExternalServiceError("postgres", err)
	}
	defer rows.Close()

	matches := []core.ChunkMatch{}
	for rows.Next() {
		var (
			match      core.ChunkMatch
			seq        int64
			similarity float64
		)
		if err := rows.Scan(&match.ChunkID, &match.DocumentID, &seq, &match.Content,
			&match.Page, &match.Section, &similarity); err != nil {
			return nil, core.ExternalServiceError("postgres", err)
		}
		match.Seq = uint64(seq)
		match.Score = float32(similarity)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ExternalServiceError("postgres", err)
	}
	return matches, nil
}

// CountChunks returns the number of chunks stored for a run.
func (s *ChunkStore) CountChunks(ctx context.Context, runID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE run_id = $1`, runID).Scan(&count); err != nil {
		return 0, core.ExternalServiceError("postgres", err)
	}
	return count, nil
}

// formatVector renders v in pgvector's text form, or nil for an empty vector.
func formatVector(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	s := b.String()
	return &s
}

// parseVector reads pgvector's text form.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: malformed vector %q", storage.ErrSerializationFailed, s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	v := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed vector component %q", storage.ErrSerializationFailed, part)
		}
		v[i] = float32(f)
	}
	return v, nil
}
