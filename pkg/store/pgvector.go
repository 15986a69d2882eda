package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
)

type ArchiveConfig struct {
	ConnString  string
	TablePrefix string
	VectorDim   int // 0 creates the schema on the first Save
	SearchLimit int
}

// Archive keeps drafted sessions with their chunk embeddings in Postgres.
type Archive struct {
	config ArchiveConfig
	pool   *pgxpool.Pool

	mu    sync.Mutex
	ready bool
}

var _ types.Archive = (*Archive)(nil)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,40}$`)

func NewWithConfig(ctx context.Context, config ArchiveConfig) (*Archive, error) {
	if config.ConnString == "" {
		return nil, fmt.Errorf("%w: database connection string is empty", models.ErrInvalidConfig)
	}
	if config.TablePrefix == "" {
		config.TablePrefix = "reachout"
	}
	if !identifier.MatchString(config.TablePrefix) {
		return nil, fmt.Errorf("%w: invalid table prefix %q", models.ErrInvalidConfig, config.TablePrefix)
	}
	if config.VectorDim < 0 {
		return nil, fmt.Errorf("%w: vector dimension must not be negative", models.ErrInvalidConfig)
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &Archive{
		config: config,
		pool:   pool,
	}

	if config.VectorDim > 0 {
		if err := a.ensureSchema(ctx, config.VectorDim); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *Archive) sessionsTable() string { return a.config.TablePrefix + "_sessions" }
func (a *Archive) chunksTable() string   { return a.config.TablePrefix + "_chunks" }

func (a *Archive) ensureSchema(ctx context.Context, dim int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		if dim != a.config.VectorDim {
			return fmt.Errorf("%w: archive stores %d dimensions, got %d", models.ErrDimensionMismatch, a.config.VectorDim, dim)
		}
		return nil
	}

	stored, err := a.storedDim(ctx)
	if err != nil {
		return err
	}
	if stored > 0 && stored != dim {
		return fmt.Errorf("%w: archive stores %d dimensions, got %d", models.ErrDimensionMismatch, stored, dim)
	}

	// Enable pgvector extension
	if _, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			style TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, a.sessionsTable()),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			chunk_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			token_count INTEGER NOT NULL,
			embedding vector(%d),
			PRIMARY KEY (session_id, chunk_id)
		)`, a.chunksTable(), a.sessionsTable(), dim),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, a.chunksTable(), a.chunksTable()),
	}
	for _, stmt := range statements {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}

	a.config.VectorDim = dim
	a.ready = true
	return nil
}

// storedDim reads the embedding dimension of an existing chunks table, or 0
// when the table does not exist. Callers hold a.mu.
func (a *Archive) storedDim(ctx context.Context) (int, error) {
	var dim int
	err := a.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1::text) AND attname = 'embedding' AND NOT attisdropped`,
		a.chunksTable()).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect archive schema: %w", err)
	}
	return dim, nil
}

// loadSchema adopts a schema written by an earlier process. It reports false
// when nothing has been archived yet.
func (a *Archive) loadSchema(ctx context.Context) (bool, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return true, a.config.VectorDim, nil
	}

	dim, err := a.storedDim(ctx)
	if err != nil {
		return false, 0, err
	}
	if dim <= 0 {
		return false, 0, nil
	}
	a.config.VectorDim = dim
	a.ready = true
	return true, dim, nil
}

// Save writes the session and all of its chunks in one transaction.
func (a *Archive) Save(ctx context.Context, rec types.SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: session id is empty", models.ErrInvalidArgument)
	}
	_, dim, err := a.loadSchema(ctx)
	if err != nil {
		return err
	}
	for _, c := range rec.Chunks {
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", models.ErrDimensionMismatch, c.Chunk.ID, len(c.Vector), dim)
		}
	}
	if dim == 0 {
		return fmt.Errorf("%w: session %s has no embedded chunks", models.ErrInvalidArgument, rec.ID)
	}
	if err := a.ensureSchema(ctx, dim); err != nil {
		return err
	}

	// Begin transaction
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, subject, body, style)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			style = EXCLUDED.style`, a.sessionsTable()),
		rec.ID,
		sanitizeUTF8(rec.Email.Subject),
		sanitizeUTF8(rec.Email.Body),
		rec.Email.Style,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (session_id, chunk_id, document_id, source, position, content, start_offset, end_offset, token_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, chunk_id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		a.chunksTable())

	batch := &pgx.Batch{}
	for _, c := range rec.Chunks {
		batch.Queue(stmt,
			rec.ID,
			c.Chunk.ID,
			c.Chunk.DocumentID,
			string(c.Chunk.Source),
			c.Chunk.Position,
			sanitizeUTF8(c.Chunk.Text),
			c.Chunk.StartOffset,
			c.Chunk.EndOffset,
			c.Chunk.TokenCount,
			pgvector.NewVector(c.Vector),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range rec.Chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Similar returns archived chunks closest to vector by cosine distance.
func (a *Archive) Similar(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	ready, dim, err := a.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, archive stores %d", models.ErrDimensionMismatch, len(vector), dim)
	}
	if limit <= 0 {
		limit = a.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, document_id, source, position, content, start_offset, end_offset, token_count,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		a.chunksTable())

	rows, err := a.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var (
			h      models.Hit
			source string
		)
		err := rows.Scan(
			&h.Chunk.ID,
			&h.Chunk.DocumentID,
			&source,
			&h.Chunk.Position,
			&h.Chunk.Text,
			&h.Chunk.StartOffset,
			&h.Chunk.EndOffset,
			&h.Chunk.TokenCount,
			&h.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		h.Chunk.Source = models.SourceType(source)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
