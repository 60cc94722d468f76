package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"scanstep/internal/config"
	"scanstep/internal/output"
)

var runnerEnv = []string{
	"GITHUB_REF", "GITHUB_SHA", "GITHUB_REPOSITORY", "GITHUB_SERVER_URL", "GITHUB_API_URL",
	"GITHUB_EVENT_PATH", "GITHUB_OUTPUT", "GITHUB_ENV", "GITHUB_TOKEN", "RUNNER_TEMP", "RUNNER_DEBUG",
	"CODEQL_LOCAL_RUN", "CODEQL_WORKFLOW_STARTED_AT",
	"INPUT_TOKEN", "INPUT_UPLOAD", "INPUT_UPLOAD-DATABASE", "INPUT_OUTPUT", "INPUT_CLEANUP-LEVEL",
}

// clearRunnerEnv unsets every variable the step reads so the developer's
// environment does not leak in. Values are restored after the test.
func clearRunnerEnv(t *testing.T) {
	t.Helper()
	for _, k := range runnerEnv {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func setRunnerEnv(t *testing.T, runnerTemp string) {
	t.Helper()
	clearRunnerEnv(t)
	t.Setenv("GITHUB_REF", "refs/heads/main")
	t.Setenv("GITHUB_SHA", "0123456789abcdef0123456789abcdef01234567")
	t.Setenv("GITHUB_REPOSITORY", "octo/hello")
	t.Setenv("GITHUB_SERVER_URL", "https://github.com")
	t.Setenv("GITHUB_OUTPUT", filepath.Join(runnerTemp, "github_output"))
	t.Setenv("GITHUB_ENV", filepath.Join(runnerTemp, "github_env"))
	t.Setenv("RUNNER_TEMP", runnerTemp)
	t.Setenv("CODEQL_LOCAL_RUN", "true")
	t.Setenv("INPUT_TOKEN", "s3cret")
}

// fakeEngine writes a shell script that records its arguments and succeeds.
func fakeEngine(t *testing.T, dir string) (bin, argsLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine")
	}
	bin = filepath.Join(dir, "codeql")
	argsLog = filepath.Join(dir, "args.log")
	script := "#!/bin/sh\necho \"$@\" >> " + argsLog + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsLog
}

func writeStepConfig(t *testing.T, runnerTemp string, v map[string]any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runnerTemp, "config"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func readEvents(t *testing.T, path string) []output.Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []output.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var e output.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestRunStep_LocalRun(t *testing.T) {
	dir := t.TempDir()
	setRunnerEnv(t, dir)
	bin, argsLog := fakeEngine(t, dir)
	writeStepConfig(t, dir, map[string]any{
		"languages":     []string{"go", "python"},
		"codeQLCmd":     bin,
		"dbLocation":    filepath.Join(dir, "dbs"),
		"gitHubVersion": map[string]string{"type": "dotcom"},
	})
	t.Setenv("INPUT_UPLOAD", "false")
	t.Setenv("INPUT_UPLOAD-DATABASE", "false")
	t.Setenv("INPUT_OUTPUT", filepath.Join(dir, "results"))

	cfg := config.New()
	cfg.Output.StatusOut = filepath.Join(dir, "status.ndjson")
	var stdout, stderr bytes.Buffer

	if code := runStep(context.Background(), cfg, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code %d; stdout=%s", code, stdout.String())
	}

	args, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"database run-queries " + filepath.Join(dir, "dbs", "go"),
		"database interpret-results " + filepath.Join(dir, "dbs", "python"),
		"database cleanup " + filepath.Join(dir, "dbs", "go") + " --mode=brutal",
	} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("engine was not called with %q:\n%s", want, args)
		}
	}

	events := readEvents(t, cfg.Output.StatusOut)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Status != "starting" || events[1].Status != "success" {
		t.Fatalf("unexpected statuses: %s, %s", events[0].Status, events[1].Status)
	}
	if events[2].Type != output.EventRunFinished || events[2].Outcome != "succeeded" {
		t.Fatalf("unexpected final event: %+v", events[2])
	}
	if strings.Contains(string(events[1].Record), "s3cret") {
		t.Fatalf("token leaked into status record")
	}

	outputs, err := os.ReadFile(filepath.Join(dir, "github_output"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(outputs), "db-locations<<") || !strings.Contains(string(outputs), "sarif-output<<") {
		t.Fatalf("step outputs missing:\n%s", outputs)
	}
	env, err := os.ReadFile(filepath.Join(dir, "github_env"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(env), "CODEQL_WORKFLOW_STARTED_AT<<") {
		t.Fatalf("workflow start time not exported:\n%s", env)
	}
}

func TestRunStep_MissingInitConfigFails(t *testing.T) {
	dir := t.TempDir()
	setRunnerEnv(t, dir)

	var stdout, stderr bytes.Buffer
	if code := runStep(context.Background(), config.New(), &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "::error::Config file could not be found") {
		t.Fatalf("expected failure marker; stdout=%s", stdout.String())
	}
}

func TestRunStep_MissingEnvironmentFails(t *testing.T) {
	clearRunnerEnv(t)
	t.Setenv("INPUT_TOKEN", "s3cret")

	var stdout, stderr bytes.Buffer
	if code := runStep(context.Background(), config.New(), &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "::error::") || !strings.Contains(out, "GITHUB_REF") || !strings.Contains(out, "GITHUB_SHA") {
		t.Fatalf("expected every missing parameter named; stdout=%s", out)
	}
}

func TestRunStep_InvalidBooleanInputReportsFailure(t *testing.T) {
	dir := t.TempDir()
	setRunnerEnv(t, dir)
	t.Setenv("INPUT_UPLOAD", "yes")

	cfg := config.New()
	cfg.Output.StatusOut = filepath.Join(dir, "status.ndjson")
	var stdout, stderr bytes.Buffer
	if code := runStep(context.Background(), cfg, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "::error::input does not meet YAML 1.2") {
		t.Fatalf("expected the input error; stdout=%s", stdout.String())
	}

	events := readEvents(t, cfg.Output.StatusOut)
	if len(events) != 3 || events[0].Status != "starting" || events[1].Status != "failure" {
		t.Fatalf("expected starting and failure records, got %+v", events)
	}
	if !strings.Contains(string(events[1].Record), "upload") {
		t.Fatalf("failure record should name the input: %s", events[1].Record)
	}
}

func TestRunStep_MissingTokenFails(t *testing.T) {
	dir := t.TempDir()
	setRunnerEnv(t, dir)
	_ = os.Unsetenv("INPUT_TOKEN")

	var stdout, stderr bytes.Buffer
	if code := runStep(context.Background(), config.New(), &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "token is required") {
		t.Fatalf("stdout=%s", stdout.String())
	}
}

func TestRunStep_LoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	clearRunnerEnv(t)
	envFile := filepath.Join(dir, "step.env")
	contents := strings.Join([]string{
		"GITHUB_REF=refs/heads/main",
		"GITHUB_SHA=0123456789abcdef0123456789abcdef01234567",
		"GITHUB_REPOSITORY=octo/hello",
		"GITHUB_SERVER_URL=https://github.com",
		"RUNNER_TEMP=" + dir,
		"CODEQL_LOCAL_RUN=true",
		"INPUT_TOKEN=s3cret",
		"GITHUB_ENV=" + filepath.Join(dir, "github_env"),
	}, "\n")
	if err := os.WriteFile(envFile, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.New()
	cfg.Runtime.EnvFile = envFile
	var stdout, stderr bytes.Buffer
	runStep(context.Background(), cfg, &stdout, &stderr)

	// With the environment loaded, the run gets as far as the missing init config.
	if !strings.Contains(stdout.String(), "Has the 'init' step been called?") {
		t.Fatalf("stdout=%s", stdout.String())
	}
}

func TestRunStep_MissingEnvFileFails(t *testing.T) {
	clearRunnerEnv(t)
	cfg := config.New()
	cfg.Runtime.EnvFile = filepath.Join(t.TempDir(), "absent.env")

	var stdout, stderr bytes.Buffer
	if code := runStep(context.Background(), cfg, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "load env file") {
		t.Fatalf("stdout=%s", stdout.String())
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := config.New()
	cfg.Output.Emit = []string{"ndjson"}
	cfg.Output.StatusOut = filepath.Join(t.TempDir(), "status.json")

	var buf bytes.Buffer
	m, err := buildSinks(cfg, &buf)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sinks, got %d", m.Len())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg.Output.Emit = []string{"yaml"}
	if _, err := buildSinks(cfg, &buf); err == nil {
		t.Fatalf("expected error for unknown emit format")
	}
}
