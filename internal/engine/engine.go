package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"scanstep/internal/actionctx"
	"scanstep/internal/codeql"
	"scanstep/internal/config"
	gh "scanstep/internal/github"
	"scanstep/internal/logging"
	"scanstep/internal/output"
	"scanstep/internal/status"
	"scanstep/internal/stepconfig"
	"scanstep/internal/upload"
)

// Stages of a run. failed and aborted are absorbing.
const (
	StageStarting           = "starting"
	StageAnalyzing          = "analyzing"
	StageCleaningUp         = "cleaning-up"
	StageUploadingDatabases = "uploading-databases"
	StageUploadingResults   = "uploading-results"
	StageFinished           = "finished"
	StageFailed             = "failed"
	StageAborted            = "aborted"
)

// finishTimeout bounds sending the terminal record once the run context is
// gone.
const finishTimeout = 30 * time.Second

// Step outputs published for later steps.
const (
	OutputDBLocations = "db-locations"
	OutputSarifDir    = "sarif-output"
)

// Outcome is the terminal state of a run.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ExitCode maps an outcome to the process exit code.
func ExitCode(o Outcome) int {
	// Exit code contract:
	// 0 = analysis ran and every language succeeded
	// 1 = the step failed or the server refused the run
	if o == Succeeded {
		return 0
	}
	return 1
}

// ConfigLoader reads the configuration persisted by the init step.
// A nil config with a nil error means the init step never ran.
type ConfigLoader interface {
	GetConfig(tempDir string) (*stepconfig.Config, error)
}

// Analyzer is the analysis engine.
type Analyzer interface {
	RunAnalyze(ctx context.Context, cfg *stepconfig.Config, opts codeql.AnalyzeOptions) (*codeql.AnalysisStats, error)
	RunCleanup(ctx context.Context, cfg *stepconfig.Config, level string) error
	DatabaseBundle(ctx context.Context, dbPath, outPath, name string) error
}

// ResultUploader sends SARIF results to code scanning.
type ResultUploader interface {
	UploadFromActions(ctx context.Context, outputDir string, variant gh.Variant) (*upload.UploadStats, error)
}

// DatabaseUploader uploads databases when eligible. It never fails the run.
type DatabaseUploader interface {
	MaybeUpload(ctx context.Context, variant gh.Variant, dbs codeql.DatabaseLocation)
}

// StatusSender builds and sends status records.
type StatusSender interface {
	BuildBase(ctx context.Context, stage string, st status.Status, startedAt time.Time, cause, stack string) (status.Base, error)
	Send(ctx context.Context, rec status.Record) bool
}

// Platform is the runner toolkit.
type Platform interface {
	SetOutput(name, value string) error
	SetFailed(msg string)
	IsDebug() bool
	StartGroup(name string)
	EndGroup()
	Writer() io.Writer
}

type Options struct {
	Config *config.Config
	// Inputs, when set, is overlaid onto Config after the starting record so
	// invalid inputs are reported as a failed run.
	Inputs config.InputSource
	Env    *actionctx.ExecutionContext

	Loader ConfigLoader
	// NewAnalyzer binds the engine adapter to the loaded config (which names
	// the engine binary).
	NewAnalyzer func(cfg *stepconfig.Config) Analyzer
	// NewDatabaseUploader builds the database uploader around the bundler of
	// the current analyzer.
	NewDatabaseUploader func(bundler Analyzer) DatabaseUploader
	Results             ResultUploader
	Status              StatusSender
	Platform            Platform
	Host                codeql.Host

	// Events receives the run.finished lifecycle event.
	Events interface{ Write(v any) error }
	Logger *zap.SugaredLogger

	// WorkDir resolves a relative output directory.
	WorkDir string
}

// Engine sequences analysis, cleanup, database upload, result upload and
// status reporting for one run.
type Engine struct {
	cfg      *config.Config
	inputs   config.InputSource
	env      *actionctx.ExecutionContext
	loader   ConfigLoader
	analyzer func(cfg *stepconfig.Config) Analyzer
	dbUpload func(bundler Analyzer) DatabaseUploader
	results  ResultUploader
	status   StatusSender
	platform Platform
	host     codeql.Host
	events   interface{ Write(v any) error }
	log      *zap.SugaredLogger
	workDir  string

	stage string
	now   func() time.Time
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	host := opts.Host
	if host == nil {
		host = codeql.SystemHost{}
	}
	return &Engine{
		cfg:      opts.Config,
		inputs:   opts.Inputs,
		env:      opts.Env,
		loader:   opts.Loader,
		analyzer: opts.NewAnalyzer,
		dbUpload: opts.NewDatabaseUploader,
		results:  opts.Results,
		status:   opts.Status,
		platform: opts.Platform,
		host:     host,
		events:   opts.Events,
		log:      logger.Named("engine"),
		workDir:  opts.WorkDir,
		now:      time.Now,
	}
}

// runState carries what the stages have produced so far. The failure path
// reads whatever is present.
type runState struct {
	cfg         *stepconfig.Config
	stats       *codeql.AnalysisStats
	uploadStats *upload.UploadStats
	dbs         codeql.DatabaseLocation
}

// Run executes the step once and returns its terminal outcome.
func (e *Engine) Run(ctx context.Context) Outcome {
	o := e.run(ctx)
	switch o {
	case Failed:
		e.enter(StageFailed)
	case Aborted:
		e.enter(StageAborted)
	default:
		e.enter(StageFinished)
	}
	if e.events != nil {
		if err := e.events.Write(output.Event{Type: output.EventRunFinished, Outcome: o.String(), ExitCode: ExitCode(o)}); err != nil {
			e.log.Debugf("Could not write run.finished event: %v", err)
		}
	}
	return o
}

func (e *Engine) run(ctx context.Context) Outcome {
	startedAt := e.now()
	e.enter(StageStarting)

	base, err := e.status.BuildBase(ctx, StageStarting, status.StatusStarting, startedAt, "", "")
	if err != nil {
		e.platform.SetFailed(err.Error())
		return Failed
	}
	if !e.status.Send(ctx, status.NewRecord(base)) {
		return Aborted
	}

	st := &runState{}
	defer func() {
		if st.cfg != nil && (st.cfg.DebugMode || e.platform.IsDebug()) {
			e.printDebugLogs(st.cfg)
		}
	}()

	if err := e.runStages(ctx, st); err != nil {
		e.log.Debugf("Run failed: %+v", err)
		e.platform.SetFailed(err.Error())
		if st.stats == nil {
			st.stats = codeql.PartialStats(err)
		}
		e.sendFinish(ctx, StageFailed, startedAt, st, err)
		return Failed
	}

	if failed := st.stats.FailedLanguages(); len(failed) > 0 {
		e.platform.SetFailed("Analysis failed for " + strings.Join(failed, ", "))
		e.sendFinish(ctx, StageFinished, startedAt, st, nil)
		return Failed
	}
	e.sendFinish(ctx, StageFinished, startedAt, st, nil)
	return Succeeded
}

func (e *Engine) runStages(ctx context.Context, st *runState) error {
	e.enter(StageAnalyzing)
	if e.inputs != nil {
		if err := e.cfg.LoadInputs(e.inputs); err != nil {
			return err
		}
	}
	if err := e.cfg.ValidateInputs(); err != nil {
		return err
	}

	tempDir := e.env.RunnerTemp
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	cfg, err := e.loader.GetConfig(tempDir)
	if err != nil {
		return err
	}
	if cfg == nil {
		return &ConfigNotFoundError{Path: stepconfig.Path(tempDir)}
	}
	st.cfg = cfg

	memory, err := codeql.MemoryMB(e.cfg.Inputs.RAM, e.host)
	if err != nil {
		return err
	}
	threads, err := codeql.Threads(e.cfg.Inputs.Threads, e.host, e.log)
	if err != nil {
		return err
	}
	outputDir := e.cfg.ResolveOutputDir(e.workDir)

	analyzer := e.analyzer(cfg)
	stats, err := analyzer.RunAnalyze(ctx, cfg, codeql.AnalyzeOptions{
		OutputDir:   outputDir,
		MemoryMB:    memory,
		Threads:     threads,
		AddSnippets: e.cfg.Inputs.AddSnippets,
		Category:    e.cfg.Inputs.Category,
	})
	st.stats = stats
	if err != nil {
		return err
	}

	st.dbs = codeql.DatabaseLocation(cfg.DatabaseLocations())
	e.publishOutputs(st.dbs, outputDir)

	e.enter(StageCleaningUp)
	if e.cfg.Inputs.CleanupLevel == config.CleanupNone {
		e.log.Info("Skipping database cleanup")
	} else {
		if err := analyzer.RunCleanup(ctx, cfg, e.cfg.Inputs.CleanupLevel); err != nil {
			return err
		}
	}

	e.enter(StageUploadingDatabases)
	variant := cfg.Variant(e.env.ServerURL)
	e.dbUpload(analyzer).MaybeUpload(ctx, variant, st.dbs)

	e.enter(StageUploadingResults)
	if !e.cfg.Inputs.Upload {
		e.log.Info("Not uploading results")
		return nil
	}
	up, err := e.results.UploadFromActions(ctx, outputDir, variant)
	if err != nil {
		return err
	}
	st.uploadStats = up
	return nil
}

func (e *Engine) publishOutputs(dbs codeql.DatabaseLocation, outputDir string) {
	raw, err := json.Marshal(dbs)
	if err == nil {
		err = e.platform.SetOutput(OutputDBLocations, string(raw))
	}
	if err != nil {
		e.log.Warnf("Could not publish %s: %v", OutputDBLocations, err)
	}
	if err := e.platform.SetOutput(OutputSarifDir, outputDir); err != nil {
		e.log.Warnf("Could not publish %s: %v", OutputSarifDir, err)
	}
}

// sendFinish emits the single terminal record of the run. It is sent even
// when the run context was cancelled.
func (e *Engine) sendFinish(ctx context.Context, stage string, startedAt time.Time, st *runState, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var cause, stack string
	if runErr != nil {
		cause = runErr.Error()
		stack = fmt.Sprintf("%+v", runErr)
	}
	base, err := e.status.BuildBase(ctx, stage, status.StatusFor(st.stats, runErr), startedAt, cause, stack)
	if err != nil {
		e.log.Warnf("Could not build final status report: %v", err)
		return
	}
	e.status.Send(ctx, status.NewRecord(base, st.stats.StatusFields(), st.uploadStats.StatusFields()))
}

func (e *Engine) enter(stage string) {
	e.stage = stage
	e.log.Debugw("Entering stage", logging.FieldStage, stage)
}

// Stage reports the stage the engine is in.
func (e *Engine) Stage() string {
	return e.stage
}
