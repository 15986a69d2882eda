// Package retriever merges nearest-neighbor results from the job and resume indexes.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
	"github.com/xhad/reachout/pkg/index"
)

const (
	DefaultKPerSource = 4
	DefaultMaxResults = 10
)

// Config bounds how much each source contributes and the merged total.
type Config struct {
	KPerSource int
	MaxResults int
}

// Retriever embeds query texts and searches both indexes.
type Retriever struct {
	embedder types.Embedder
	config   Config
	logger   *slog.Logger
}

// New creates a Retriever. Zero config values take the defaults.
func New(embedder types.Embedder, config Config) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: retriever needs an embedder", models.ErrInvalidConfig)
	}
	if config.KPerSource < 0 || config.MaxResults < 0 {
		return nil, fmt.Errorf("%w: retriever limits must not be negative", models.ErrInvalidConfig)
	}
	if config.KPerSource == 0 {
		config.KPerSource = DefaultKPerSource
	}
	if config.MaxResults == 0 {
		config.MaxResults = DefaultMaxResults
	}
	return &Retriever{embedder: embedder, config: config, logger: slog.Default()}, nil
}

// WithLogger replaces the logger.
func (r *Retriever) WithLogger(l *slog.Logger) *Retriever {
	r.logger = l
	return r
}

// Config returns the effective limits.
func (r *Retriever) Config() Config { return r.config }

// Retrieve runs every query against both indexes with the configured k.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, job, resume *index.Index) (models.RetrievalResult, error) {
	return r.RetrieveK(ctx, queries, job, resume, r.config.KPerSource)
}

// RetrieveK is Retrieve with an explicit per-source k. Either index may be nil
// or empty; only the available sources are searched.
func (r *Retriever) RetrieveK(ctx context.Context, queries []string, job, resume *index.Index, kPerSource int) (models.RetrievalResult, error) {
	if kPerSource <= 0 {
		return nil, fmt.Errorf("%w: k per source must be positive, got %d", models.ErrInvalidArgument, kPerSource)
	}

	queries = cleanQueries(queries)
	var sources []*index.Index
	for _, idx := range []*index.Index{job, resume} {
		if idx.Len() > 0 {
			sources = append(sources, idx)
		}
	}
	if len(queries) == 0 || len(sources) == 0 {
		r.logger.Debug("nothing to retrieve", "stage", "retrieval", "queries", len(queries), "sources", len(sources))
		return models.RetrievalResult{}, nil
	}

	vecs, err := r.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(vecs) != len(queries) {
		return nil, fmt.Errorf("%w: got %d vectors for %d queries", models.ErrEmbeddingService, len(vecs), len(queries))
	}

	var merged models.RetrievalResult
	for _, vec := range vecs {
		for _, idx := range sources {
			hits, err := idx.Query(vec, kPerSource)
			if err != nil {
				return nil, err
			}
			merged = append(merged, hits...)
		}
	}

	out := Merge(merged, r.config.MaxResults)
	r.logger.Debug("retrieved context",
		"stage", "retrieval",
		"queries", len(queries),
		"candidates", len(merged),
		"results", len(out))
	return out, nil
}

// Merge deduplicates hits by chunk id keeping the best score, sorts by score
// descending with first-seen order on ties, and keeps at most limit hits.
func Merge(hits models.RetrievalResult, limit int) models.RetrievalResult {
	pos := make(map[string]int, len(hits))
	out := make(models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if i, ok := pos[h.Chunk.ID]; ok {
			if h.Score > out[i].Score {
				out[i].Score = h.Score
			}
			continue
		}
		pos[h.Chunk.ID] = len(out)
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cleanQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// EmbedQuery embeds a single text, used for archive lookups.
func EmbedQuery(ctx context.Context, emb types.Embedder, text string) ([]float32, error) {
	vecs, err := emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", models.ErrEmbeddingService, len(vecs))
	}
	return vecs[0], nil
}
