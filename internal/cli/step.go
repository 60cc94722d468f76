package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"scanstep/internal/actionctx"
	"scanstep/internal/actions"
	"scanstep/internal/codeql"
	"scanstep/internal/config"
	"scanstep/internal/dbupload"
	"scanstep/internal/engine"
	"scanstep/internal/flags"
	gh "scanstep/internal/github"
	"scanstep/internal/logging"
	"scanstep/internal/output"
	"scanstep/internal/refs"
	"scanstep/internal/status"
	"scanstep/internal/stepconfig"
	"scanstep/internal/upload"
)

// runStep wires the collaborators for one run and returns the exit code.
// Setup errors (env file, flags, environment, token) are reported through the
// runner only: the run context a status record needs may be what is missing.
// Step inputs are validated by the engine, after the starting record.
func runStep(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := actions.NewRunner(stdout)
	fail := func(err error) int {
		runner.SetFailed(err.Error())
		return 1
	}

	if cfg.Runtime.EnvFile != "" {
		if err := godotenv.Load(cfg.Runtime.EnvFile); err != nil {
			return fail(errors.Wrapf(err, "load env file %s", cfg.Runtime.EnvFile))
		}
	}
	inputs := actions.NewInputs(viper.New())
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	env, err := actionctx.FromEnvironment(viper.New())
	if err != nil {
		return fail(err)
	}

	logger, sync := logging.New(logging.Options{
		Out:   stdout,
		Debug: cfg.Runtime.Verbose || runner.IsDebug(),
		Plain: env.LocalRun,
		File:  cfg.Runtime.LogFile,
	})
	defer sync()

	token, source, err := gh.ResolveAuthToken(inputs.Optional(flags.InputToken))
	if err != nil {
		return fail(err)
	}
	logger.Debugf("Using API token from %s", source)

	client, err := gh.NewClient(ctx, token,
		gh.WithAPIURL(env.APIURL),
		gh.WithTimeout(cfg.Runtime.APITimeout),
		gh.WithVerbose(cfg.Runtime.Verbose, stderr),
	)
	if err != nil {
		return fail(err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fail(errors.Wrap(err, "determine working directory"))
	}
	checkoutPath := inputs.Optional(flags.InputCheckoutPath)
	if checkoutPath == "" {
		checkoutPath = workDir
	}

	sinks, err := buildSinks(cfg, stdout)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warnf("Could not close status outputs: %v", err)
		}
	}()

	resolver := refs.NewResolver(env, &refs.GitHeadProvider{Path: checkoutPath, Fallback: env.SHA, Logger: logger})

	eng := engine.NewEngine(engine.Options{
		Config:              cfg,
		Inputs:              inputs,
		Env:                 env,
		Loader:              stepconfig.Loader{},
		NewAnalyzer:         newAnalyzer(logger, stdout),
		NewDatabaseUploader: newDatabaseUploader(cfg, env, resolver, client, logger),
		Results: upload.NewResultUploader(upload.Options{
			Env:          env,
			Refs:         resolver,
			Client:       client.Client,
			CheckoutPath: checkoutPath,
			Logger:       logger,
		}),
		Status: status.NewReporter(status.Options{
			Env:      env,
			Refs:     resolver,
			Client:   client.Client,
			Platform: runner,
			Sinks:    sinks,
			Logger:   logger,
			Token:    token,
			Matrix:   inputs.Optional(flags.InputMatrix),
		}),
		Platform: runner,
		Host:     codeql.SystemHost{},
		Events:   sinks,
		Logger:   logger,
		WorkDir:  workDir,
	})
	return engine.ExitCode(eng.Run(ctx))
}

func newAnalyzer(logger *zap.SugaredLogger, stdout io.Writer) func(*stepconfig.Config) engine.Analyzer {
	return func(sc *stepconfig.Config) engine.Analyzer {
		c := codeql.NewCLI(sc.CodeQLCmd, logger)
		c.Stdout = stdout
		return c
	}
}

func newDatabaseUploader(cfg *config.Config, env *actionctx.ExecutionContext, resolver *refs.Resolver, client *gh.Client, logger *zap.SugaredLogger) func(engine.Analyzer) engine.DatabaseUploader {
	return func(bundler engine.Analyzer) engine.DatabaseUploader {
		return dbupload.NewUploader(dbupload.Options{
			Enabled: cfg.Inputs.UploadDatabase,
			Env:     env,
			Refs:    resolver,
			Client:  client.Client,
			Bundler: bundler,
			Logger:  logger,
			Verbose: cfg.Runtime.Verbose,
		})
	}
}

// buildSinks attaches the local status outputs requested by flags.
func buildSinks(cfg *config.Config, stdout io.Writer) (*output.Manager, error) {
	m := output.NewManager()
	for _, format := range cfg.Output.Emit {
		s, err := output.NewEmitSink(stdout, format)
		if err != nil {
			return nil, err
		}
		if err := m.AddSink(s); err != nil {
			return nil, err
		}
	}
	if cfg.Output.StatusOut != "" {
		s, err := output.NewFileSink(cfg.Output.StatusOut, cfg.Output.StatusOutFormat)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		if err := m.AddSink(s); err != nil {
			return nil, err
		}
	}
	return m, nil
}
