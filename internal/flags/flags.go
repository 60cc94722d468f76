package flags

// Package flags defines canonical CLI flag names and step input names shared
// across the CLI, config and engine.
// IMPORTANT: Flag names are *names* without leading dashes. Input names are the
// keys declared in the step metadata; the runner exposes them as INPUT_<NAME>.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Output.StatusOut, flags.FlagStatusOut, "", "...")
//	v.GetString(flags.InputCleanupLevel)
const (
	// Runtime
	FlagVerbose = "verbose"
	FlagEnvFile = "env-file"
	FlagLogFile = "log-file"

	// API
	FlagAPITimeout = "api-timeout"

	// Output
	FlagStatusOut       = "status-out"
	FlagStatusOutFormat = "status-out-format"
	FlagEmit            = "emit"
)

const (
	InputToken          = "token"
	InputOutput         = "output"
	InputUpload         = "upload"
	InputUploadDatabase = "upload-database"
	InputCleanupLevel   = "cleanup-level"
	InputCategory       = "category"
	InputRAM            = "ram"
	InputThreads        = "threads"
	InputAddSnippets    = "add-snippets"
	InputMatrix         = "matrix"
	InputCheckoutPath   = "checkout_path"
)
