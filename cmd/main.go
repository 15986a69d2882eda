package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/reachout/internal/models"
	cfgPkg "github.com/xhad/reachout/pkg/config"
	"github.com/xhad/reachout/pkg/llm"
	"github.com/xhad/reachout/pkg/pipeline"
	"github.com/xhad/reachout/pkg/store"
)

// newTextModel is replaced in tests.
var newTextModel = llm.NewTextModel

type app struct {
	configPath string
	verbose    bool
	config     *cfgPkg.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "reachout",
		Short:         "Draft outreach emails grounded in a job posting and a resume",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log pipeline progress")

	root.AddCommand(newDraftCmd(a), newServeCmd(a), newScrapeCmd(a), newHistoryCmd(a))
	return root
}

func (a *app) loadConfig(logOut io.Writer) error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	cfg, err := cfgPkg.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Check(); err != nil {
		return err
	}
	a.config = cfg
	return nil
}

// newPipeline wires the configured backends. The returned cleanup closes the
// archive when one is configured.
func (a *app) newPipeline(ctx context.Context) (*pipeline.Pipeline, *llm.Generator, func(), error) {
	emb, err := llm.NewEmbedderWithConfig(ctx, a.config.EmbedderConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	model, err := newTextModel(ctx, a.config.ChatConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}
	gen, err := llm.NewGenerator(model, a.config.GeneratorConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := pipeline.New(emb, gen, a.config.PipelineConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {}
	if a.config.Database.URL != "" {
		archive, err := store.NewWithConfig(ctx, a.config.ArchiveConfig())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		p.WithArchive(archive)
		cleanup = archive.Close
	}
	return p, gen, cleanup, nil
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("stages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// spin animates a spinner while fn runs.
func spin(w io.Writer, description string, fn func() error) error {
	bar := getSpinner(w, description)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()

	err := fn()
	close(done)
	bar.Finish()
	fmt.Fprint(w, "\n")
	return err
}

var stageLabels = map[models.Stage]string{
	models.StageIndexing:   "Indexing job posting and resume...",
	models.StageRetrieval:  "Retrieving relevant context...",
	models.StageGeneration: "Drafting email...",
}

func printEmail(w io.Writer, email models.GeneratedEmail) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "Subject: %s\n\n", email.Subject)
	fmt.Fprintln(w, email.Body)
}

func printAnalysis(w io.Writer, a llm.EmailAnalysis) {
	color.New(color.FgMagenta, color.Bold).Fprintf(w, "\nAnalysis (overall %.1f/10)\n", a.Overall())
	fmt.Fprintf(w, "  Personalization: %d\n  Skill match:     %d\n  Professionalism: %d\n  Attractiveness:  %d\n  Clarity:         %d\n",
		a.Personalization, a.SkillMatch, a.Professionalism, a.Attractiveness, a.Clarity)
	for _, s := range a.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}
