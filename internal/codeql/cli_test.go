package codeql

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"scanstep/internal/logging"
	"scanstep/internal/stepconfig"
)

type recorder struct {
	calls  [][]string
	failOn func(args []string) error
}

func (r *recorder) exec(_ context.Context, args []string) error {
	r.calls = append(r.calls, append([]string(nil), args...))
	if r.failOn != nil {
		return r.failOn(args)
	}
	return nil
}

func newTestCLI(r *recorder) *CLI {
	c := NewCLI("codeql", logging.Nop())
	c.exec = r.exec
	tick := time.Unix(0, 0)
	c.now = func() time.Time {
		tick = tick.Add(50 * time.Millisecond)
		return tick
	}
	return c
}

func testConfig(t *testing.T, langs ...string) *stepconfig.Config {
	t.Helper()
	dir := t.TempDir()
	return &stepconfig.Config{Languages: langs, TempDir: dir, DBLocation: filepath.Join(dir, "dbs")}
}

func TestRunAnalyze_AllLanguages(t *testing.T) {
	r := &recorder{}
	c := newTestCLI(r)
	cfg := testConfig(t, "go", "python")
	cfg.Queries = map[string][]string{"go": {"security-extended"}}
	out := filepath.Join(t.TempDir(), "results")

	stats, err := c.RunAnalyze(context.Background(), cfg, AnalyzeOptions{OutputDir: out, MemoryMB: 4096, Threads: 2, Category: "/language:go"})
	if err != nil {
		t.Fatalf("RunAnalyze: %v", err)
	}
	if len(stats.Languages) != 2 || len(stats.FailedLanguages()) != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Languages["go"].AnalyzeDurationMS != 50 {
		t.Fatalf("analyze duration = %d", stats.Languages["go"].AnalyzeDurationMS)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
	if len(r.calls) != 4 {
		t.Fatalf("expected 4 engine calls, got %d", len(r.calls))
	}

	wantRun := []string{"database", "run-queries", cfg.DatabasePath("go"), "--ram=4096", "--threads=2", "--min-disk-free=1024", "security-extended"}
	if !reflect.DeepEqual(r.calls[0], wantRun) {
		t.Fatalf("run-queries args:\n got %v\nwant %v", r.calls[0], wantRun)
	}
	interp := strings.Join(r.calls[1], " ")
	for _, want := range []string{"interpret-results", "--output=" + filepath.Join(out, "go.sarif"), "--no-sarif-add-snippets", "--sarif-category=/language:go"} {
		if !strings.Contains(interp, want) {
			t.Fatalf("interpret-results args %q missing %q", interp, want)
		}
	}
}

func TestRunAnalyze_StopsAtFirstFailure(t *testing.T) {
	r := &recorder{failOn: func(args []string) error {
		if args[1] == "run-queries" && strings.HasSuffix(args[2], "java") {
			return errors.New("out of memory")
		}
		return nil
	}}
	c := newTestCLI(r)
	cfg := testConfig(t, "go", "java", "python")

	stats, err := c.RunAnalyze(context.Background(), cfg, AnalyzeOptions{OutputDir: t.TempDir(), MemoryMB: 1, Threads: 1, AddSnippets: true})
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AnalysisError, got %v", err)
	}
	if ae.Language != "java" || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("unexpected error: %v", err)
	}
	if PartialStats(err) != stats {
		t.Fatalf("partial stats should be the returned stats")
	}
	if _, ok := stats.Languages["python"]; ok {
		t.Fatalf("python should not have been analyzed")
	}
	if got := stats.FailedLanguages(); !reflect.DeepEqual(got, []string{"java"}) {
		t.Fatalf("FailedLanguages = %v", got)
	}
	if goStats := stats.Languages["go"]; goStats.Failed || goStats.InterpretDurationMS == 0 {
		t.Fatalf("go should have completed: %+v", stats.Languages["go"])
	}
	if fields := stats.StatusFields(); fields["analyze_failure_language"] != "java" {
		t.Fatalf("status fields = %v", fields)
	}
}

func TestRunCleanup(t *testing.T) {
	r := &recorder{}
	c := newTestCLI(r)
	cfg := testConfig(t, "go", "ruby")

	if err := c.RunCleanup(context.Background(), cfg, "brutal"); err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	want := [][]string{
		{"database", "cleanup", cfg.DatabasePath("go"), "--mode=brutal"},
		{"database", "cleanup", cfg.DatabasePath("ruby"), "--mode=brutal"},
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("calls = %v", r.calls)
	}
}

func TestDatabaseBundle(t *testing.T) {
	r := &recorder{}
	c := newTestCLI(r)
	if err := c.DatabaseBundle(context.Background(), "/db/go", "/db/go.zip", "go"); err != nil {
		t.Fatalf("DatabaseBundle: %v", err)
	}
	want := []string{"database", "bundle", "/db/go", "--output=/db/go.zip", "--name=go"}
	if !reflect.DeepEqual(r.calls[0], want) {
		t.Fatalf("args = %v", r.calls[0])
	}
}

func TestInvoke_RealBinaryReportsStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-engine")
	body := "#!/bin/sh\necho \"fatal: database is locked\" >&2\nexit 3\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCLI(script, logging.Nop())
	c.Stdout = &strings.Builder{}
	err := c.DatabaseBundle(context.Background(), "/db/go", "/db/go.zip", "go")
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
