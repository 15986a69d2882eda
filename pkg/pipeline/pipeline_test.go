package pipeline_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
	"github.com/xhad/reachout/pkg/llm"
	"github.com/xhad/reachout/pkg/pipeline"
	"github.com/xhad/reachout/pkg/processor"
	"github.com/xhad/reachout/pkg/profile"
	"github.com/xhad/reachout/pkg/prompt"
	"github.com/xhad/reachout/pkg/retriever"
)

const (
	jobText    = "Seeking a backend engineer with Go and distributed systems experience"
	resumeText = "5 years building Go microservices; led a distributed tracing project"
)

// echoModel answers with a fixed subject and the user turn as the body.
type echoModel struct {
	calls atomic.Int32
	fail  func(user string) error
}

func (m *echoModel) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls.Add(1)
	if m.fail != nil {
		if err := m.fail(user); err != nil {
			return "", err
		}
	}
	return "Subject: Backend engineer outreach\n\n" + user, nil
}

// hangingModel never answers and ignores ctx.
type hangingModel struct{ calls atomic.Int32 }

func (m *hangingModel) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls.Add(1)
	time.Sleep(time.Second)
	return "", nil
}

// recordingGenerator keeps the last prompt.
type recordingGenerator struct {
	mu     sync.Mutex
	prompt models.Prompt
}

func (g *recordingGenerator) Generate(ctx context.Context, p models.Prompt) (models.GeneratedEmail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompt = p
	return models.GeneratedEmail{Subject: "s", Body: p.UserMessage()}, nil
}

// flakyEmbedder fails calls after the first okCalls with err, or a 503 when
// err is nil. With failures > 0 it recovers after that many failed calls.
type flakyEmbedder struct {
	inner    *llm.HashEmbedder
	okCalls  int32
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	if n > f.okCalls && (f.failures == 0 || n <= f.okCalls+f.failures) {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("503 service unavailable")
	}
	return f.inner.Embed(ctx, texts)
}

func (f *flakyEmbedder) Dimension() int { return f.inner.Dimension() }

type memoryArchive struct {
	mu      sync.Mutex
	records []types.SessionRecord
	err     error
}

func (a *memoryArchive) Save(ctx context.Context, rec types.SessionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}

func (a *memoryArchive) Similar(ctx context.Context, vector []float32, limit int) ([]models.Hit, error) {
	return nil, nil
}

func (a *memoryArchive) Close() {}

func fastGenerator(t *testing.T, model types.TextModel) *llm.Generator {
	t.Helper()
	g, err := llm.NewGenerator(model, llm.GeneratorConfig{
		MaxAttempts:    3,
		AttemptTimeout: 20 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	require.NoError(t, err)
	return g
}

func newPipeline(t *testing.T, emb types.Embedder, gen types.Generator) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(emb, gen, pipeline.Config{
		EmbedRetry: llm.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return p
}

func TestDraftEmail_GroundsOnBothSources(t *testing.T) {
	gen := &recordingGenerator{}
	p := newPipeline(t, llm.NewHashEmbedder(256), gen)
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, resumeText)
	require.NoError(t, err)
	require.Equal(t, 1, job.Len())
	require.Equal(t, 1, resume.Len())

	email, err := p.DraftEmail(ctx, job, resume, jobText, resumeText)
	require.NoError(t, err)
	assert.Equal(t, "professional", email.Style)

	require.Len(t, gen.prompt.Context, 2)
	assert.Contains(t, gen.prompt.Context, resumeText)
	assert.Contains(t, email.Body, "Go microservices")
	assert.Contains(t, email.Body, "distributed tracing")

	ret, err := retriever.New(llm.NewHashEmbedder(256), retriever.Config{})
	require.NoError(t, err)
	result, err := ret.Retrieve(ctx, pipeline.Queries(jobText, resumeText), job, resume)
	require.NoError(t, err)
	rank := slices.IndexFunc(result, func(h models.Hit) bool { return h.Chunk.Source == models.SourceResume })
	require.GreaterOrEqual(t, rank, 0)
	assert.Less(t, rank, 2)
	assert.Contains(t, result[rank].Chunk.Text, "Go microservices")
	assert.Contains(t, result[rank].Chunk.Text, "distributed tracing")
}

func TestRetrieve_RelevantResumeChunkRanksTopTwo(t *testing.T) {
	p, err := pipeline.New(llm.NewHashEmbedder(256), &recordingGenerator{}, pipeline.Config{
		Chunker: processor.ProcessorConfig{ChunkSize: 12},
	})
	require.NoError(t, err)
	ctx := context.Background()

	resumeDoc := resumeText + ". Also enjoys watercolor painting on weekends and baking sourdough bread at home."
	job, resume, err := p.BuildIndexes(ctx, jobText, resumeDoc)
	require.NoError(t, err)
	require.Equal(t, 2, resume.Len())

	ret, err := retriever.New(llm.NewHashEmbedder(256), retriever.Config{})
	require.NoError(t, err)
	result, err := ret.Retrieve(ctx, pipeline.Queries(jobText, ""), job, resume)
	require.NoError(t, err)
	require.Len(t, result, 3)

	rank := slices.IndexFunc(result, func(h models.Hit) bool {
		return strings.Contains(h.Chunk.Text, "Go microservices")
	})
	require.GreaterOrEqual(t, rank, 0)
	assert.Less(t, rank, 2)
	assert.Equal(t, models.SourceResume, result[rank].Chunk.Source)
	assert.Contains(t, result[rank].Chunk.Text, "distributed tracing")
	assert.Contains(t, result[2].Chunk.Text, "watercolor")
}

func TestDraftEmail_EndToEnd(t *testing.T) {
	model := &echoModel{}
	p := newPipeline(t, llm.NewHashEmbedder(256), fastGenerator(t, model))
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, resumeText)
	require.NoError(t, err)

	var stages []models.Stage
	email, err := p.DraftEmail(ctx, job, resume, "Backend engineer\nGo, distributed systems", "Go microservices",
		pipeline.WithStyle("casual"),
		pipeline.WithProgress(func(s models.Stage) { stages = append(stages, s) }))
	require.NoError(t, err)

	assert.Equal(t, "Backend engineer outreach", email.Subject)
	assert.Contains(t, email.Body, "Go")
	assert.Contains(t, email.Body, "distributed")
	assert.Equal(t, "casual", email.Style)
	assert.Equal(t, []models.Stage{models.StageRetrieval, models.StageGeneration}, stages)
	assert.EqualValues(t, 1, model.calls.Load())
}

func TestDraftEmail_KPerSource(t *testing.T) {
	gen := &recordingGenerator{}
	p, err := pipeline.New(llm.NewHashEmbedder(128), gen, pipeline.Config{
		Chunker: processor.ProcessorConfig{ChunkSize: 6},
	})
	require.NoError(t, err)
	ctx := context.Background()

	text := "Go services at scale. Kubernetes clusters in production. Postgres tuning and backups. Team lead for five engineers."
	job, resume, err := p.BuildIndexes(ctx, text, "")
	require.NoError(t, err)
	require.Equal(t, 4, job.Len())

	_, err = p.DraftEmail(ctx, job, resume, "Go services", "")
	require.NoError(t, err)
	assert.Len(t, gen.prompt.Context, 4)

	_, err = p.DraftEmail(ctx, job, resume, "Go services", "", pipeline.WithKPerSource(1))
	require.NoError(t, err)
	require.Len(t, gen.prompt.Context, 1)
	assert.Equal(t, "Go services at scale.", gen.prompt.Context[0])
}

func TestBuildIndexes_EmptyResume(t *testing.T) {
	p := newPipeline(t, llm.NewHashEmbedder(128), fastGenerator(t, &echoModel{}))
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, "   ")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Len())
	assert.Equal(t, 0, resume.Len())

	email, err := p.DraftEmail(ctx, job, resume, jobText, "")
	require.NoError(t, err)
	assert.Contains(t, email.Body, "distributed systems")
	assert.NotContains(t, email.Body, "microservices")
}

func TestBuildIndexes_EmptyJob(t *testing.T) {
	p := newPipeline(t, llm.NewHashEmbedder(128), fastGenerator(t, &echoModel{}))

	_, _, err := p.BuildIndexes(context.Background(), "", resumeText)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	stage, ok := models.FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, models.StageIndexing, stage)
}

func TestBuildIndexes_EmbeddingFailure(t *testing.T) {
	emb := &flakyEmbedder{inner: llm.NewHashEmbedder(64)}
	p := newPipeline(t, emb, fastGenerator(t, &echoModel{}))

	_, _, err := p.BuildIndexes(context.Background(), jobText, "")
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.ErrorContains(t, err, "after 3 attempts")
	stage, _ := models.FailedStage(err)
	assert.Equal(t, models.StageIndexing, stage)
	assert.EqualValues(t, 3, emb.calls.Load())
}

func TestBuildIndexes_RetriesTransientEmbedding(t *testing.T) {
	emb := &flakyEmbedder{inner: llm.NewHashEmbedder(64), failures: 1}
	p := newPipeline(t, emb, fastGenerator(t, &echoModel{}))

	job, resume, err := p.BuildIndexes(context.Background(), jobText, "")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Len())
	assert.Equal(t, 0, resume.Len())
	assert.EqualValues(t, 2, emb.calls.Load())
}

func TestBuildIndexes_PermanentEmbeddingFailureNotRetried(t *testing.T) {
	emb := &flakyEmbedder{inner: llm.NewHashEmbedder(64), err: errors.New("401 unauthorized")}
	p := newPipeline(t, emb, fastGenerator(t, &echoModel{}))

	_, _, err := p.BuildIndexes(context.Background(), jobText, "")
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.EqualValues(t, 1, emb.calls.Load())
}

func TestDraftEmail_RetriesTransientQueryEmbedding(t *testing.T) {
	emb := &flakyEmbedder{inner: llm.NewHashEmbedder(64), okCalls: 1, failures: 1}
	gen := &recordingGenerator{}
	p := newPipeline(t, emb, gen)
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, "")
	require.NoError(t, err)

	_, err = p.DraftEmail(ctx, job, resume, jobText, "")
	require.NoError(t, err)
	assert.Equal(t, []string{jobText}, gen.prompt.Context)
	assert.EqualValues(t, 3, emb.calls.Load())
}

func TestBuildIndexes_ChunksLongDocuments(t *testing.T) {
	p, err := pipeline.New(llm.NewHashEmbedder(64), fastGenerator(t, &echoModel{}), pipeline.Config{})
	require.NoError(t, err)

	long := strings.Repeat("Designed Go services for payments. ", 60)
	job, resume, err := p.BuildIndexes(context.Background(), long, long)
	require.NoError(t, err)
	assert.Greater(t, job.Len(), 1)
	assert.Equal(t, job.Len(), resume.Len())

	ids := map[string]bool{}
	for _, e := range append(job.Entries(), resume.Entries()...) {
		assert.False(t, ids[e.Chunk.ID], "duplicate chunk id %s", e.Chunk.ID)
		ids[e.Chunk.ID] = true
	}
}

func TestDraftEmail_RetrievalFailure(t *testing.T) {
	emb := &flakyEmbedder{inner: llm.NewHashEmbedder(64), okCalls: 2}
	p := newPipeline(t, emb, fastGenerator(t, &echoModel{}))
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, resumeText)
	require.NoError(t, err)

	_, err = p.DraftEmail(ctx, job, resume, jobText, resumeText)
	require.Error(t, err)
	stage, ok := models.FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, models.StageRetrieval, stage)
}

func TestDraftEmail_GenerationTimesOut(t *testing.T) {
	model := &hangingModel{}
	p := newPipeline(t, llm.NewHashEmbedder(64), fastGenerator(t, model))
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, resumeText)
	require.NoError(t, err)

	_, err = p.DraftEmail(ctx, job, resume, jobText, resumeText)
	assert.ErrorIs(t, err, models.ErrGeneration)
	stage, ok := models.FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, models.StageGeneration, stage)
	assert.EqualValues(t, 3, model.calls.Load())
}

func TestDraftEmail_BudgetTooSmall(t *testing.T) {
	p, err := pipeline.New(llm.NewHashEmbedder(64), &recordingGenerator{}, pipeline.Config{})
	require.NoError(t, err)
	small, err := pipeline.New(llm.NewHashEmbedder(64), &recordingGenerator{}, pipeline.Config{
		Prompt: prompt.Config{BudgetChars: 50},
	})
	require.NoError(t, err)

	job, resume, err := p.BuildIndexes(context.Background(), jobText, resumeText)
	require.NoError(t, err)

	_, err = small.DraftEmail(context.Background(), job, resume, jobText, resumeText)
	assert.ErrorIs(t, err, models.ErrBudgetTooSmall)
	stage, _ := models.FailedStage(err)
	assert.Equal(t, models.StageGeneration, stage)
}

func TestDraftVariants(t *testing.T) {
	model := &echoModel{fail: func(user string) error {
		if strings.Contains(user, "friendly") {
			return errors.New("401 unauthorized")
		}
		return nil
	}}
	p := newPipeline(t, llm.NewHashEmbedder(64), fastGenerator(t, model))
	ctx := context.Background()

	job, resume, err := p.BuildIndexes(ctx, jobText, resumeText)
	require.NoError(t, err)

	emails, err := p.DraftVariants(ctx, job, resume, jobText, resumeText, nil)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "enthusiastic", emails[0].Style)
	assert.Equal(t, "professional", emails[1].Style)

	_, err = p.DraftVariants(ctx, job, resume, jobText, resumeText, []string{"casual"})
	assert.ErrorIs(t, err, models.ErrGeneration)
	stage, _ := models.FailedStage(err)
	assert.Equal(t, models.StageGeneration, stage)
}

func TestRun_ArchivesSession(t *testing.T) {
	archive := &memoryArchive{err: errors.New("database is down")}
	p := newPipeline(t, llm.NewHashEmbedder(64), fastGenerator(t, &echoModel{})).WithArchive(archive)

	var stages []models.Stage
	s, err := p.Run(context.Background(), pipeline.Request{
		JobText:       jobText,
		ResumeText:    resumeText,
		JobSummary:    jobText,
		ResumeSummary: resumeText,
	}, pipeline.WithProgress(func(st models.Stage) { stages = append(stages, st) }))
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "Backend engineer outreach", s.Email.Subject)
	assert.Equal(t, []models.Stage{models.StageIndexing, models.StageRetrieval, models.StageGeneration}, stages)

	require.Len(t, archive.records, 1)
	rec := archive.records[0]
	assert.Equal(t, s.ID, rec.ID)
	require.Len(t, rec.Chunks, 2)
	assert.Equal(t, models.SourceJob, rec.Chunks[0].Chunk.Source)
	assert.Equal(t, models.SourceResume, rec.Chunks[1].Chunk.Source)
	assert.Len(t, rec.Chunks[0].Vector, 64)

	jobVec, ok := s.JobIndex.Vector(rec.Chunks[0].Chunk.ID)
	require.True(t, ok)
	assert.Equal(t, jobVec, rec.Chunks[0].Vector)
	resumeVec, ok := s.ResumeIndex.Vector(rec.Chunks[1].Chunk.ID)
	require.True(t, ok)
	assert.Equal(t, resumeVec, rec.Chunks[1].Vector)
}

func TestNewRequest(t *testing.T) {
	job := profile.JobPosting{Title: "Backend Engineer", Company: "Acme", Skills: []string{"go", "kubernetes"}}
	res := profile.Resume{Name: "Jane Doe", Skills: []string{"go"}, RawText: resumeText}

	req := pipeline.NewRequest(job, res)
	assert.Equal(t, "Job Title: Backend Engineer\n\nCompany: Acme\n\nRequired Skills: go, kubernetes", req.JobText)
	assert.Equal(t, resumeText, req.ResumeText)
	assert.Equal(t, "Position: Backend Engineer at Acme\nRequired skills: go, kubernetes", req.JobSummary)
	assert.Equal(t, "Candidate: Jane Doe\nSkills: go\nMatched skills: go (50% of required)", req.ResumeSummary)
}

func TestQueries(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, pipeline.Queries("a\n\n b \n", "b\nc"))
	assert.Equal(t, []string{pipeline.FallbackQuery}, pipeline.Queries(" ", ""))
}

func TestNew_Validation(t *testing.T) {
	_, err := pipeline.New(nil, &recordingGenerator{}, pipeline.Config{})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = pipeline.New(llm.NewHashEmbedder(8), &recordingGenerator{}, pipeline.Config{
		Chunker: processor.ProcessorConfig{ChunkSize: 10, ChunkOverlap: 10},
	})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
