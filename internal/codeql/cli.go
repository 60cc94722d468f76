// Package codeql drives the analysis engine's command line.
package codeql

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"scanstep/internal/logging"
	"scanstep/internal/stepconfig"
)

// stderrTail bounds how much engine stderr is kept in error messages.
const stderrTail = 2048

// AnalyzeOptions are the per-run knobs passed to the engine.
type AnalyzeOptions struct {
	OutputDir   string
	MemoryMB    int
	Threads     int
	AddSnippets bool
	Category    string
}

// CLI runs engine commands. Commands run one at a time.
type CLI struct {
	Path   string
	Logger *zap.SugaredLogger
	Stdout io.Writer

	// exec is a test seam; nil runs the real binary.
	exec func(ctx context.Context, args []string) error
	now  func() time.Time
}

func NewCLI(path string, logger *zap.SugaredLogger) *CLI {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CLI{Path: path, Logger: logger, Stdout: os.Stdout, now: time.Now}
}

// RunAnalyze runs queries and interprets results for every configured
// language, in order. The first failing language stops the run and is
// reported through *AnalysisError together with the stats gathered so far.
func (c *CLI) RunAnalyze(ctx context.Context, cfg *stepconfig.Config, opts AnalyzeOptions) (*AnalysisStats, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create output directory %s", opts.OutputDir)
	}

	stats := NewAnalysisStats()
	for _, lang := range cfg.Languages {
		dbPath := cfg.DatabasePath(lang)
		ls := LanguageStats{}

		c.Logger.Infow("Analyzing database", logging.FieldLanguage, lang, logging.FieldPath, dbPath)
		start := c.now()
		args := []string{"database", "run-queries", dbPath,
			fmt.Sprintf("--ram=%d", opts.MemoryMB),
			fmt.Sprintf("--threads=%d", opts.Threads),
			"--min-disk-free=1024",
		}
		args = append(args, cfg.Queries[lang]...)
		if err := c.invoke(ctx, args); err != nil {
			ls.Failed = true
			stats.Languages[lang] = ls
			return stats, &AnalysisError{Language: lang, Stats: stats, Err: err}
		}
		ls.AnalyzeDurationMS = c.now().Sub(start).Milliseconds()

		start = c.now()
		sarifPath := filepath.Join(opts.OutputDir, lang+".sarif")
		args = []string{"database", "interpret-results", dbPath,
			"--format=sarif-latest",
			"--output=" + sarifPath,
			fmt.Sprintf("--threads=%d", opts.Threads),
		}
		if opts.AddSnippets {
			args = append(args, "--sarif-add-snippets")
		} else {
			args = append(args, "--no-sarif-add-snippets")
		}
		if opts.Category != "" {
			args = append(args, "--sarif-category="+opts.Category)
		}
		if err := c.invoke(ctx, args); err != nil {
			ls.Failed = true
			stats.Languages[lang] = ls
			return stats, &AnalysisError{Language: lang, Stats: stats, Err: err}
		}
		ls.InterpretDurationMS = c.now().Sub(start).Milliseconds()
		stats.Languages[lang] = ls
	}
	return stats, nil
}

// RunCleanup trims every configured database to the given cleanup mode.
func (c *CLI) RunCleanup(ctx context.Context, cfg *stepconfig.Config, level string) error {
	for _, lang := range cfg.Languages {
		c.Logger.Infow("Cleaning up database", logging.FieldLanguage, lang)
		if err := c.invoke(ctx, []string{"database", "cleanup", cfg.DatabasePath(lang), "--mode=" + level}); err != nil {
			return errors.Wrapf(err, "cleanup %s database", lang)
		}
	}
	return nil
}

// DatabaseBundle writes the database at dbPath into a single zip at outPath.
func (c *CLI) DatabaseBundle(ctx context.Context, dbPath, outPath, name string) error {
	return c.invoke(ctx, []string{"database", "bundle", dbPath, "--output=" + outPath, "--name=" + name})
}

func (c *CLI) invoke(ctx context.Context, args []string) error {
	c.Logger.Debugf("Running %s", shellquote.Join(append([]string{c.Path}, args...)...))
	if c.exec != nil {
		return c.exec(ctx, args)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		if msg == "" {
			return errors.Wrapf(err, "%s %s", c.Path, strings.Join(args[:2], " "))
		}
		return errors.Wrapf(err, "%s %s: %s", c.Path, strings.Join(args[:2], " "), msg)
	}
	return nil
}
