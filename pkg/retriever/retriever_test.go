package retriever_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/index"
	"github.com/xhad/reachout/pkg/retriever"
)

// mapEmbedder looks query vectors up by text.
type mapEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls int
}

func (m *mapEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vecs[t]
	}
	return out, nil
}

func (m *mapEmbedder) Dimension() int { return 2 }

func build(t *testing.T, source models.SourceType, vecs map[string][]float32, order ...string) *index.Index {
	t.Helper()
	entries := make([]index.Entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, index.Entry{
			Chunk:  models.Chunk{ID: id, Source: source, Text: "text of " + id},
			Vector: models.EmbeddingVector{ChunkID: id, Vector: vecs[id]},
		})
	}
	idx, err := index.Build(entries)
	require.NoError(t, err)
	return idx
}

func ids(r models.RetrievalResult) []string {
	out := make([]string, len(r))
	for i, h := range r {
		out[i] = h.Chunk.ID
	}
	return out
}

func fixture(t *testing.T) (*index.Index, *index.Index) {
	job := build(t, models.SourceJob, map[string][]float32{
		"job:0": {1, 0},
		"job:1": {0, 1},
	}, "job:0", "job:1")
	resume := build(t, models.SourceResume, map[string][]float32{
		"resume:0": {0.9, 0.1},
		"resume:1": {0.1, 0.9},
		"resume:2": {-1, 0},
	}, "resume:0", "resume:1", "resume:2")
	return job, resume
}

func TestRetrieve_MergesBothSources(t *testing.T) {
	job, resume := fixture(t)
	emb := &mapEmbedder{vecs: map[string][]float32{"go": {1, 0}}}
	r, err := retriever.New(emb, retriever.Config{KPerSource: 2, MaxResults: 10})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"go"}, job, resume)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:0", "resume:0", "resume:1", "job:1"}, ids(res))
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestRetrieve_DeduplicatesAcrossQueries(t *testing.T) {
	job, resume := fixture(t)
	emb := &mapEmbedder{vecs: map[string][]float32{
		"go":          {1, 0},
		"go services": {0.95, 0.05},
	}}
	r, err := retriever.New(emb, retriever.Config{KPerSource: 1})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"go", "go services"}, job, resume)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:0", "resume:0"}, ids(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.Equal(t, 1, emb.calls)
}

func TestRetrieve_KeepsIdenticalTextFromDifferentChunks(t *testing.T) {
	same := func(id string, source models.SourceType) *index.Index {
		idx, err := index.Build([]index.Entry{{
			Chunk:  models.Chunk{ID: id, Source: source, Text: "Go microservices"},
			Vector: models.EmbeddingVector{ChunkID: id, Vector: []float32{1, 0}},
		}})
		require.NoError(t, err)
		return idx
	}
	job := same("job:0", models.SourceJob)
	resume := same("resume:0", models.SourceResume)
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0}}}
	r, err := retriever.New(emb, retriever.Config{})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"q"}, job, resume)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:0", "resume:0"}, ids(res))
}

func TestRetrieve_TruncatesToMaxResults(t *testing.T) {
	job, resume := fixture(t)
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {1, 1}}}
	r, err := retriever.New(emb, retriever.Config{KPerSource: 3, MaxResults: 2})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"q"}, job, resume)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestRetrieve_MissingSource(t *testing.T) {
	job, _ := fixture(t)
	empty, err := index.Build(nil)
	require.NoError(t, err)
	emb := &mapEmbedder{vecs: map[string][]float32{"q": {0, 1}}}
	r, err := retriever.New(emb, retriever.Config{})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"q"}, job, empty)
	require.NoError(t, err)
	assert.Equal(t, []string{"job:1", "job:0"}, ids(res))

	res, err = r.Retrieve(context.Background(), []string{"q"}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetrieve_NoQueries(t *testing.T) {
	job, resume := fixture(t)
	emb := &mapEmbedder{}
	r, err := retriever.New(emb, retriever.Config{})
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), []string{"", "  "}, job, resume)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, emb.calls)
}

func TestRetrieve_Errors(t *testing.T) {
	job, resume := fixture(t)

	failing := &mapEmbedder{err: models.ErrEmbeddingService}
	r, err := retriever.New(failing, retriever.Config{})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), []string{"q"}, job, resume)
	assert.ErrorIs(t, err, models.ErrEmbeddingService)

	wrongDim := &mapEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	r, err = retriever.New(wrongDim, retriever.Config{})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), []string{"q"}, job, resume)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	_, err = r.RetrieveK(context.Background(), []string{"q"}, job, resume, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestNew_Validation(t *testing.T) {
	_, err := retriever.New(nil, retriever.Config{})
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))

	_, err = retriever.New(&mapEmbedder{}, retriever.Config{MaxResults: -1})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	r, err := retriever.New(&mapEmbedder{}, retriever.Config{})
	require.NoError(t, err)
	assert.Equal(t, retriever.Config{KPerSource: 4, MaxResults: 10}, r.Config())
}

func TestMerge(t *testing.T) {
	hit := func(id string, score float64) models.Hit {
		return models.Hit{Chunk: models.Chunk{ID: id}, Score: score}
	}
	in := models.RetrievalResult{hit("a", 0.5), hit("b", 0.7), hit("a", 0.9), hit("c", 0.7)}

	out := retriever.Merge(in, 0)
	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
	assert.Equal(t, 0.9, out[0].Score)

	assert.Len(t, retriever.Merge(in, 1), 1)
}
