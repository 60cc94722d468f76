package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scanstep/internal/config"
	"scanstep/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "scanstep",
	Short: "Run the analyze step of a code scanning workflow",
	Long: `scanstep runs the analyze step of a code scanning workflow.

It reads the configuration persisted by the init step, analyzes every
database, cleans them up, uploads databases and SARIF results, and reports
the step's progress to the code scanning status API.

Inputs:
	Step inputs are read from INPUT_<NAME> environment variables, as set by the
	runner: token, output, upload, upload-database, cleanup-level, category,
	ram, threads, add-snippets, matrix, checkout_path.

Output:
	Logs are written as workflow commands on stdout. Status records can also be
	written locally:
	- --status-out / --status-out-format: write records to a file (json or ndjson)
	- --emit: write records to stdout (json or ndjson)

	NDJSON mode emits one JSON object per line with a "type" field
	(status.reported, run.finished).

Exit codes:
	0 = analysis ran and every language succeeded
	1 = the step failed, or the server refused the run

Examples:
	# Inside a workflow step
	scanstep

	# Locally, against a dotenv file with the runner environment
	CODEQL_LOCAL_RUN=true scanstep --env-file step.env --emit ndjson`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStep(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable debug logging (prints every API call and full error details)")

	// Runtime
	rootCmd.Flags().StringVar(&cfg.Runtime.EnvFile, flags.FlagEnvFile, "", "Load environment variables from this dotenv file before reading inputs")
	rootCmd.Flags().StringVar(&cfg.Runtime.LogFile, flags.FlagLogFile, "", "Mirror all log entries as JSON into this file (rotated)")
	rootCmd.Flags().DurationVar(&cfg.Runtime.APITimeout, flags.FlagAPITimeout, cfg.Runtime.APITimeout, "Timeout for each API request (default: 2m)")

	// Output
	rootCmd.Flags().StringVar(&cfg.Output.StatusOut, flags.FlagStatusOut, "", "Write status records to this path")
	rootCmd.Flags().StringVar(&cfg.Output.StatusOutFormat, flags.FlagStatusOutFormat, "", "Format for --status-out: json|ndjson (default: inferred from file extension)")
	rootCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit status records to stdout: json|ndjson (repeatable; comma-separated accepted)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
