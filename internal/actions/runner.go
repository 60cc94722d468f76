package actions

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Runner writes workflow commands understood by the hosting runner.
//
// Commands go to out (normally stdout). Outputs and exported variables use the
// file commands named by GITHUB_OUTPUT / GITHUB_ENV when present.
type Runner struct {
	out    io.Writer
	getenv func(string) string
	setenv func(string, string) error

	// delimiter is a test seam for heredoc delimiters in file commands.
	delimiter func() string

}

func NewRunner(out io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		out:       out,
		getenv:    os.Getenv,
		setenv:    os.Setenv,
		delimiter: func() string { return "ghadelimiter_" + uuid.NewString() },
	}
}

// IsDebug reports whether step debug logging is enabled on the runner.
func (r *Runner) IsDebug() bool {
	return r.getenv("RUNNER_DEBUG") == "1"
}

// SetOutput publishes a step output for downstream steps.
func (r *Runner) SetOutput(name, value string) error {
	if path := r.getenv("GITHUB_OUTPUT"); path != "" {
		return r.appendFileCommand(path, name, value)
	}
	_, err := fmt.Fprintf(r.out, "::set-output name=%s::%s\n", escapeProperty(name), escapeData(value))
	return err
}

// ExportVariable sets an environment variable for this process and for later steps.
func (r *Runner) ExportVariable(name, value string) error {
	if err := r.setenv(name, value); err != nil {
		return errors.Wrapf(err, "set %s", name)
	}
	if path := r.getenv("GITHUB_ENV"); path != "" {
		return r.appendFileCommand(path, name, value)
	}
	_, err := fmt.Fprintf(r.out, "::set-env name=%s::%s\n", escapeProperty(name), escapeData(value))
	return err
}

// SetFailed marks the step failed with a human-readable message.
// The process exit code is decided by the caller.
func (r *Runner) SetFailed(msg string) {
	_, _ = fmt.Fprintf(r.out, "::error::%s\n", escapeData(msg))
}

func (r *Runner) StartGroup(name string) {
	_, _ = fmt.Fprintf(r.out, "::group::%s\n", escapeData(name))
}

func (r *Runner) EndGroup() {
	_, _ = fmt.Fprintln(r.out, "::endgroup::")
}

// Writer returns the command stream so callers can print raw content inside a group.
func (r *Runner) Writer() io.Writer {
	return r.out
}

func (r *Runner) appendFileCommand(path, key, value string) error {
	delim := r.delimiter()
	if strings.Contains(key, delim) {
		return errors.Newf("unexpected input: name should not contain the delimiter %q", delim)
	}
	if strings.Contains(value, delim) {
		return errors.Newf("unexpected input: value should not contain the delimiter %q", delim)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open file command %s", path)
	}
	_, werr := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", key, delim, value, delim)
	if cerr := f.Close(); cerr != nil && werr == nil {
		werr = cerr
	}
	if werr != nil {
		return errors.Wrapf(werr, "write file command %s", path)
	}
	return nil
}

func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}

func escapeProperty(s string) string {
	s = escapeData(s)
	s = strings.ReplaceAll(s, ":", "%3A")
	s = strings.ReplaceAll(s, ",", "%2C")
	return s
}

// EscapeData escapes a message for use in a workflow command.
func EscapeData(s string) string {
	return escapeData(s)
}
