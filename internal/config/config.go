package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"scanstep/internal/flags"
)

// CleanupNone skips database cleanup entirely.
const CleanupNone = "none"

var cleanupLevels = []string{CleanupNone, "light", "normal", "brutal", "clear"}

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove inputs, keep these in sync:
	// - input names in internal/flags
	// - LoadInputs below
	// - the step wiring in internal/cli/root.go
	Inputs  Inputs
	Output  Output
	Runtime Runtime
}

// Inputs are the step inputs supplied by the workflow (INPUT_<NAME>).
type Inputs struct {
	// Token authenticates API calls (input "token", falling back to GITHUB_TOKEN).
	Token string

	// OutputDir receives the SARIF files produced by analysis (input "output").
	OutputDir string

	// Upload toggles uploading results to code scanning (input "upload").
	Upload bool

	// UploadDatabase toggles uploading analysis databases (input "upload-database").
	UploadDatabase bool

	// CleanupLevel is passed to database cleanup (input "cleanup-level").
	// Allowed values: none, light, normal, brutal, clear. "none" skips cleanup.
	CleanupLevel string

	// Category distinguishes several analyses of the same commit (input "category").
	Category string

	// RAM and Threads are validated by the engine adapter against the host.
	RAM     string
	Threads string

	// AddSnippets includes code snippets in SARIF (input "add-snippets").
	AddSnippets bool

	// Matrix is the JSON of the job's matrix (input "matrix").
	Matrix string

	// CheckoutPath is the repository root used in uploaded results (input "checkout_path").
	CheckoutPath string
}

type Output struct {
	// StatusOut writes status records to this path (see --status-out).
	StatusOut string

	// StatusOutFormat selects the format for --status-out (see --status-out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the file extension.
	StatusOutFormat string

	// Emit writes status records to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string
}

type Runtime struct {
	// Verbose enables debug logging and request-level API logging (see --verbose).
	// Runner debug mode (RUNNER_DEBUG=1) turns it on as well.
	Verbose bool

	// EnvFile is a dotenv file loaded before reading inputs (see --env-file).
	EnvFile string

	// LogFile mirrors all log entries as JSON into a rotated file (see --log-file).
	LogFile string

	// APITimeout bounds each API request (see --api-timeout). Must be > 0.
	APITimeout time.Duration
}

func New() *Config {
	return &Config{
		Inputs: Inputs{
			OutputDir:      "../results",
			Upload:         true,
			UploadDatabase: true,
			CleanupLevel:   "brutal",
		},
		Runtime: Runtime{
			APITimeout: 2 * time.Minute,
		},
	}
}

// InputSource reads step inputs by name; missing inputs read as "".
type InputSource interface {
	Optional(name string) string
}

// LoadInputs overlays every supplied input onto c. Inputs that are not set
// keep their defaults. Boolean inputs follow the runner's strict rules.
func (c *Config) LoadInputs(src InputSource) error {
	str := func(name string, dst *string) {
		if v := src.Optional(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v := src.Optional(name)
		if v == "" {
			return nil
		}
		b, err := ParseBoolInput(name, v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}

	str(flags.InputToken, &c.Inputs.Token)
	str(flags.InputOutput, &c.Inputs.OutputDir)
	str(flags.InputCleanupLevel, &c.Inputs.CleanupLevel)
	str(flags.InputCategory, &c.Inputs.Category)
	str(flags.InputRAM, &c.Inputs.RAM)
	str(flags.InputThreads, &c.Inputs.Threads)
	str(flags.InputMatrix, &c.Inputs.Matrix)
	str(flags.InputCheckoutPath, &c.Inputs.CheckoutPath)

	if err := boolean(flags.InputUpload, &c.Inputs.Upload); err != nil {
		return err
	}
	if err := boolean(flags.InputUploadDatabase, &c.Inputs.UploadDatabase); err != nil {
		return err
	}
	return boolean(flags.InputAddSnippets, &c.Inputs.AddSnippets)
}

// ParseBoolInput accepts the YAML 1.2 core schema booleans the runner
// documents: true | True | TRUE | false | False | FALSE.
func ParseBoolInput(name, raw string) (bool, error) {
	switch strings.TrimSpace(raw) {
	case "true", "True", "TRUE":
		return true, nil
	case "false", "False", "FALSE":
		return false, nil
	}
	return false, errors.Newf("input does not meet YAML 1.2 \"Core Schema\" specification: %s\n"+
		"Support boolean input list: `true | True | TRUE | false | False | FALSE`", name)
}

// ValidateInputs checks and normalizes the step inputs. Cleanup levels are
// matched exactly: the runner passes them to the engine verbatim.
func (c *Config) ValidateInputs() error {
	c.Inputs.CleanupLevel = strings.TrimSpace(c.Inputs.CleanupLevel)
	if c.Inputs.CleanupLevel == "" {
		c.Inputs.CleanupLevel = "brutal"
	}
	if !contains(cleanupLevels, c.Inputs.CleanupLevel) {
		return errors.Newf("unsupported cleanup-level: %s (must be one of: %s)", c.Inputs.CleanupLevel, strings.Join(cleanupLevels, ", "))
	}
	c.Inputs.OutputDir = strings.TrimSpace(c.Inputs.OutputDir)
	if c.Inputs.OutputDir == "" {
		return errors.New("output must not be empty")
	}
	c.Inputs.Category = strings.TrimSpace(c.Inputs.Category)
	return nil
}

// Validate checks and normalizes the command-line flags.
func (c *Config) Validate() error {
	// Output
	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v == "" {
			return errors.New("--emit must be one of: json, ndjson")
		}
		if v != "json" && v != "ndjson" {
			return errors.Newf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.StatusOut != "" {
		c.Output.StatusOutFormat = normalizeEnumValue(c.Output.StatusOutFormat)
		if c.Output.StatusOutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.StatusOut))
			switch ext {
			case ".json":
				c.Output.StatusOutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.StatusOutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer status output format from file extension (missing extension); use --status-out-format")
				}
				return errors.Newf("cannot infer status output format from file extension %q; use --status-out-format", ext)
			}
		} else if c.Output.StatusOutFormat != "json" && c.Output.StatusOutFormat != "ndjson" {
			return errors.Newf("unsupported status output format: %s", c.Output.StatusOutFormat)
		}
	}

	// Runtime
	if c.Runtime.APITimeout <= 0 {
		return errors.New("--api-timeout must be > 0")
	}
	return nil
}

// ResolveOutputDir makes a relative output directory absolute against base
// (the workspace).
func (c *Config) ResolveOutputDir(base string) string {
	if filepath.IsAbs(c.Inputs.OutputDir) || base == "" {
		return filepath.Clean(c.Inputs.OutputDir)
	}
	return filepath.Join(base, c.Inputs.OutputDir)
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
