package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/index"
	"github.com/xhad/reachout/pkg/llm"
	"github.com/xhad/reachout/pkg/pipeline"
	"github.com/xhad/reachout/pkg/profile"
	"github.com/xhad/reachout/pkg/resume"
	"github.com/xhad/reachout/pkg/retriever"
	"github.com/xhad/reachout/pkg/scraper"
	"github.com/xhad/reachout/pkg/store"
	"github.com/xhad/reachout/server"
)

func newDraftCmd(a *app) *cobra.Command {
	var (
		jobURL     string
		jobFile    string
		resumePath string
		style      string
		variants   bool
		analyze    bool
		kPerSource int
	)

	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Draft an outreach email for a job posting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			job, err := a.loadJob(cmd, jobURL, jobFile)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(resumePath)
			if err != nil {
				return fmt.Errorf("failed to read resume: %w", err)
			}
			text, err := resume.ExtractText(resumePath, data)
			if err != nil {
				return err
			}
			res := resume.Parse(text)

			match := profile.MatchSkills(job.Skills, res.Skills)
			if len(match.Matched) > 0 {
				color.New(color.FgGreen).Fprintf(errOut, "✓ Skill match %.0f%%: %s\n", match.Percentage, strings.Join(match.Matched, ", "))
			}
			if len(match.Missing) > 0 {
				color.New(color.FgYellow).Fprintf(errOut, "Missing: %s\n", strings.Join(match.Missing, ", "))
			}

			p, gen, cleanup, err := a.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			req := pipeline.NewRequest(job, res)

			if variants {
				var jobIdx, resumeIdx *index.Index
				err := spin(errOut, stageLabels[models.StageIndexing], func() error {
					var err error
					jobIdx, resumeIdx, err = p.BuildIndexes(ctx, req.JobText, req.ResumeText)
					return err
				})
				if err != nil {
					return err
				}

				var emails []models.GeneratedEmail
				err = spin(errOut, "Drafting variants...", func() error {
					var err error
					emails, err = p.DraftVariants(ctx, jobIdx, resumeIdx, req.JobSummary, req.ResumeSummary, nil)
					return err
				})
				if err != nil {
					return err
				}
				for _, email := range emails {
					color.New(color.FgMagenta).Fprintf(out, "\n== %s ==\n", email.Style)
					printEmail(out, email)
				}
				return nil
			}

			var opts []pipeline.DraftOption
			if style != "" {
				opts = append(opts, pipeline.WithStyle(style))
			}
			if kPerSource > 0 {
				opts = append(opts, pipeline.WithKPerSource(kPerSource))
			}
			bar := getProgressBar(errOut, 3, "Starting...")
			opts = append(opts, pipeline.WithProgress(func(s models.Stage) {
				bar.Describe(color.BlueString(stageLabels[s]))
				bar.Add(1)
			}))

			session, err := p.Run(ctx, req, opts...)
			bar.Finish()
			fmt.Fprint(errOut, "\n")
			if err != nil {
				if stage, ok := models.FailedStage(err); ok {
					color.New(color.FgRed).Fprintf(errOut, "✗ %s failed\n", stage)
				}
				return err
			}

			fmt.Fprintln(out)
			printEmail(out, session.Email)

			if analyze {
				var analysis llm.EmailAnalysis
				err := spin(errOut, "Analyzing email...", func() error {
					var err error
					analysis, err = gen.Analyze(ctx, session.Email, job, res)
					return err
				})
				if err != nil {
					return err
				}
				printAnalysis(out, analysis)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobURL, "job-url", "", "URL of the job posting")
	cmd.Flags().StringVar(&jobFile, "job-file", "", "File containing the job description")
	cmd.Flags().StringVar(&resumePath, "resume", "", "Resume file (.txt, .md, .pdf or .docx)")
	cmd.Flags().StringVar(&style, "style", "", "Email style (professional, casual, enthusiastic)")
	cmd.Flags().BoolVar(&variants, "variants", false, "Draft one email per style")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "Score the drafted email")
	cmd.Flags().IntVar(&kPerSource, "k", 0, "Chunks retrieved from each source per query (defaults to retriever.k_per_source)")
	cmd.MarkFlagRequired("resume")
	cmd.MarkFlagsMutuallyExclusive("job-url", "job-file")
	cmd.MarkFlagsOneRequired("job-url", "job-file")
	cmd.MarkFlagsMutuallyExclusive("style", "variants")
	cmd.MarkFlagsMutuallyExclusive("analyze", "variants")
	cmd.MarkFlagsMutuallyExclusive("k", "variants")
	return cmd
}

func (a *app) loadJob(cmd *cobra.Command, jobURL, jobFile string) (profile.JobPosting, error) {
	if jobFile != "" {
		data, err := os.ReadFile(jobFile)
		if err != nil {
			return profile.JobPosting{}, fmt.Errorf("failed to read job description: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return profile.JobPosting{}, fmt.Errorf("%w: %s is empty", models.ErrInvalidArgument, jobFile)
		}
		return profile.JobFromText(string(data)), nil
	}

	s, err := scraper.NewWithConfig(a.config.ScraperConfig())
	if err != nil {
		return profile.JobPosting{}, fmt.Errorf("failed to initialize scraper: %w", err)
	}
	var job profile.JobPosting
	err = spin(cmd.ErrOrStderr(), "Fetching job posting...", func() error {
		var err error
		job, err = s.FetchJob(cmd.Context(), jobURL)
		return err
	})
	return job, err
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the drafting API over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, _, cleanup, err := a.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := scraper.NewWithConfig(a.config.ScraperConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize scraper: %w", err)
			}

			if addr == "" {
				addr = a.config.Server.Addr
			}
			srv, err := server.New(p, s, server.Config{
				Addr:           addr,
				AllowedOrigins: a.config.Server.AllowedOrigins,
			})
			if err != nil {
				return err
			}

			color.Green("Listening on %s", addr)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr)")
	return cmd
}

func newScrapeCmd(a *app) *cobra.Command {
	var asText bool

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Fetch a job posting and print its structured fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.loadJob(cmd, args[0], "")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asText {
				fmt.Fprintln(out, profile.JobText(job))
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}

	cmd.Flags().BoolVar(&asText, "text", false, "Print the corpus text instead of JSON")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <query>",
		Short: "Search chunks archived by earlier drafts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.config.Database.URL == "" {
				return fmt.Errorf("%w: history needs database.url or DATABASE_URL", models.ErrInvalidConfig)
			}

			emb, err := llm.NewEmbedderWithConfig(ctx, a.config.EmbedderConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize embedder: %w", err)
			}
			retrying := llm.NewRetryingEmbedder(emb, a.config.EmbedRetryConfig())
			vec, err := retriever.EmbedQuery(ctx, retrying, strings.Join(args, " "))
			if err != nil {
				return err
			}

			archive, err := store.NewWithConfig(ctx, a.config.ArchiveConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize archive: %w", err)
			}
			defer archive.Close()

			hits, err := archive.Similar(ctx, vec, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No archived drafts yet")
				return nil
			}
			for _, h := range hits {
				color.New(color.FgCyan).Fprintf(out, "[%.3f] %s %s\n", h.Score, h.Chunk.Source, h.Chunk.ID)
				fmt.Fprintln(out, h.Chunk.Text)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of chunks (defaults to database.search_limit)")
	return cmd
}
