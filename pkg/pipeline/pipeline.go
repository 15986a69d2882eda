// Package pipeline wires chunking, embedding, retrieval, prompt assembly and
// generation into the two calls a UI needs: BuildIndexes and DraftEmail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/internal/types"
	"github.com/xhad/reachout/pkg/index"
	"github.com/xhad/reachout/pkg/llm"
	"github.com/xhad/reachout/pkg/processor"
	"github.com/xhad/reachout/pkg/prompt"
	"github.com/xhad/reachout/pkg/retriever"
)

// FallbackQuery is used when both summaries are empty.
const FallbackQuery = "relevant skills and experience for this role"

// Config groups the settings of every stage.
type Config struct {
	Chunker   processor.ProcessorConfig
	Retriever retriever.Config
	Prompt    prompt.Config
	Style     string
	// EmbedRetry bounds retries of transient embedding failures while indexing
	// and while embedding retrieval queries.
	EmbedRetry llm.RetryConfig
}

// Pipeline owns no per-request state. Every request builds its own indexes, so
// one Pipeline can serve concurrent requests.
type Pipeline struct {
	processor *processor.Processor
	embedder  types.Embedder
	retriever *retriever.Retriever
	assembler *prompt.Assembler
	generator types.Generator
	archive   types.Archive
	style     string
	logger    *slog.Logger
}

// New builds a pipeline around the injected embedder and generator.
func New(embedder types.Embedder, generator types.Generator, config Config) (*Pipeline, error) {
	if embedder == nil || generator == nil {
		return nil, fmt.Errorf("%w: pipeline needs an embedder and a generator", models.ErrInvalidConfig)
	}

	embedder = llm.NewRetryingEmbedder(embedder, config.EmbedRetry)

	proc, err := processor.NewWithConfig(config.Chunker)
	if err != nil {
		return nil, err
	}
	ret, err := retriever.New(embedder, config.Retriever)
	if err != nil {
		return nil, err
	}
	asm, err := prompt.New(config.Prompt)
	if err != nil {
		return nil, err
	}
	if config.Style == "" {
		config.Style = prompt.DefaultStyle
	}

	return &Pipeline{
		processor: proc,
		embedder:  embedder,
		retriever: ret,
		assembler: asm,
		generator: generator,
		style:     config.Style,
		logger:    slog.Default(),
	}, nil
}

// WithLogger replaces the logger of the pipeline and its retriever.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	p.logger = l
	p.retriever.WithLogger(l)
	return p
}

// WithArchive stores every completed Run in a.
func (p *Pipeline) WithArchive(a types.Archive) *Pipeline {
	p.archive = a
	return p
}

// BuildIndexes chunks and embeds both texts concurrently and builds one index
// per source once every embedding has finished. An empty resume gives an empty
// resume index.
func (p *Pipeline) BuildIndexes(ctx context.Context, jobText, resumeText string) (*index.Index, *index.Index, error) {
	job, resume, err := p.buildIndexes(ctx, models.NewDocument(models.SourceJob, jobText), models.NewDocument(models.SourceResume, resumeText))
	if err != nil {
		return nil, nil, err
	}
	return job, resume, nil
}

func (p *Pipeline) buildIndexes(ctx context.Context, jobDoc, resumeDoc models.Document) (*index.Index, *index.Index, error) {
	if strings.TrimSpace(jobDoc.RawText) == "" {
		return nil, nil, stageErr(models.StageIndexing, fmt.Errorf("%w: job text is empty", models.ErrInvalidArgument))
	}

	start := time.Now()
	var jobEntries, resumeEntries []index.Entry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		jobEntries, err = p.embedDocument(gctx, jobDoc)
		return err
	})
	g.Go(func() error {
		var err error
		resumeEntries, err = p.embedDocument(gctx, resumeDoc)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, stageErr(models.StageIndexing, err)
	}

	jobIdx, err := index.Build(jobEntries)
	if err != nil {
		return nil, nil, stageErr(models.StageIndexing, err)
	}
	resumeIdx, err := index.Build(resumeEntries)
	if err != nil {
		return nil, nil, stageErr(models.StageIndexing, err)
	}
	if jobIdx.Len() > 0 && resumeIdx.Len() > 0 && jobIdx.Dimension() != resumeIdx.Dimension() {
		return nil, nil, stageErr(models.StageIndexing, fmt.Errorf("%w: job index has %d dimensions, resume index %d",
			models.ErrDimensionMismatch, jobIdx.Dimension(), resumeIdx.Dimension()))
	}

	p.logger.Info("indexes built",
		"stage", models.StageIndexing,
		"job_chunks", jobIdx.Len(),
		"resume_chunks", resumeIdx.Len(),
		"duration", time.Since(start))
	return jobIdx, resumeIdx, nil
}

func (p *Pipeline) embedDocument(ctx context.Context, doc models.Document) ([]index.Entry, error) {
	chunks, err := p.processor.Process(doc)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vecs, err := llm.EmbedChunks(ctx, p.embedder, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed %s document: %w", doc.SourceType, err)
	}

	entries := make([]index.Entry, len(chunks))
	for i := range chunks {
		entries[i] = index.Entry{Chunk: chunks[i], Vector: vecs[i]}
	}
	return entries, nil
}

type draftOptions struct {
	style      string
	kPerSource int
	progress   func(models.Stage)
}

// DraftOption adjusts a single DraftEmail call.
type DraftOption func(*draftOptions)

// WithStyle selects the email style for one draft.
func WithStyle(style string) DraftOption {
	return func(o *draftOptions) { o.style = style }
}

// WithKPerSource overrides how many chunks each index contributes per query.
func WithKPerSource(k int) DraftOption {
	return func(o *draftOptions) { o.kPerSource = k }
}

// WithProgress reports each stage as it starts.
func WithProgress(fn func(models.Stage)) DraftOption {
	return func(o *draftOptions) { o.progress = fn }
}

// DraftEmail retrieves context for the summaries from both indexes and asks the
// generator for an email. Failures carry the stage that failed.
func (p *Pipeline) DraftEmail(ctx context.Context, job, resume *index.Index, jobSummary, resumeSummary string, opts ...DraftOption) (models.GeneratedEmail, error) {
	o := draftOptions{style: p.style, kPerSource: p.retriever.Config().KPerSource}
	for _, opt := range opts {
		opt(&o)
	}
	report := func(s models.Stage) {
		if o.progress != nil {
			o.progress(s)
		}
	}

	report(models.StageRetrieval)
	start := time.Now()
	queries := Queries(jobSummary, resumeSummary)
	result, err := p.retriever.RetrieveK(ctx, queries, job, resume, o.kPerSource)
	if err != nil {
		return models.GeneratedEmail{}, stageErr(models.StageRetrieval, err)
	}
	p.logger.Info("context retrieved",
		"stage", models.StageRetrieval,
		"queries", len(queries),
		"hits", len(result),
		"duration", time.Since(start))

	report(models.StageGeneration)
	start = time.Now()
	pr, err := p.assembler.Assemble(result, jobSummary, resumeSummary, o.style)
	if err != nil {
		return models.GeneratedEmail{}, stageErr(models.StageGeneration, err)
	}

	email, err := p.generator.Generate(ctx, pr)
	if err != nil {
		return models.GeneratedEmail{}, stageErr(models.StageGeneration, err)
	}
	email.Style = o.style
	p.logger.Info("email drafted",
		"stage", models.StageGeneration,
		"style", o.style,
		"context_chunks", len(pr.Context),
		"prompt_chars", pr.Len(),
		"duration", time.Since(start))
	return email, nil
}

// DraftVariants drafts one email per style. A failed style is logged and
// skipped; the call fails only when every style fails.
func (p *Pipeline) DraftVariants(ctx context.Context, job, resume *index.Index, jobSummary, resumeSummary string, styles []string) ([]models.GeneratedEmail, error) {
	if len(styles) == 0 {
		styles = prompt.Styles()
	}

	var (
		out  []models.GeneratedEmail
		errs []error
	)
	for _, style := range styles {
		email, err := p.DraftEmail(ctx, job, resume, jobSummary, resumeSummary, WithStyle(style))
		if err != nil {
			p.logger.Warn("variant failed", "style", style, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out = append(out, email)
	}
	if len(out) == 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Queries turns the summaries into retrieval queries, one per non-empty line.
func Queries(jobSummary, resumeSummary string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range []string{jobSummary, resumeSummary} {
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = append(out, FallbackQuery)
	}
	return out
}

func stageErr(stage models.Stage, err error) error {
	var se *models.StageError
	if errors.As(err, &se) {
		return err
	}
	return &models.StageError{Stage: stage, Err: err}
}
