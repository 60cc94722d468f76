package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"

	"scanstep/internal/actionctx"
	"scanstep/internal/logging"
	"scanstep/internal/output"
)

const (
	// MaxExceptionBytes bounds the exception text carried by a record.
	MaxExceptionBytes = 16 * 1024

	// WorkflowStartedAtVar is exported on the first report so later steps of
	// the same job share the workflow start time.
	WorkflowStartedAtVar = "CODEQL_WORKFLOW_STARTED_AT"

	defaultActionName = "finish"
	unknownActionOid  = "unknown"
	redacted          = "***"
	truncatedSuffix   = "... (truncated)"
)

// RefSource resolves the ref results are attributed to.
type RefSource interface {
	Ref(ctx context.Context) (string, error)
}

// Platform is the subset of the runner toolkit the reporter needs.
type Platform interface {
	ExportVariable(name, value string) error
	SetFailed(msg string)
}

// RecordWriter mirrors records to the local output sinks.
type RecordWriter interface {
	Write(v any) error
}

type Options struct {
	Env      *actionctx.ExecutionContext
	Refs     RefSource
	Client   *github.Client
	Platform Platform
	Sinks    RecordWriter
	Logger   *zap.SugaredLogger

	// Token is redacted from exception text.
	Token string
	// Matrix is the raw matrix input (JSON); "null" or empty is omitted.
	Matrix     string
	ActionName string
}

// Reporter builds and sends status records.
type Reporter struct {
	env        *actionctx.ExecutionContext
	refs       RefSource
	client     *github.Client
	platform   Platform
	sinks      RecordWriter
	log        *zap.SugaredLogger
	token      string
	matrix     string
	actionName string

	workflowStartedAt string
	now               func() time.Time
}

func NewReporter(opts Options) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	name := opts.ActionName
	if name == "" {
		name = defaultActionName
	}
	matrix := strings.TrimSpace(opts.Matrix)
	if matrix == "null" {
		matrix = ""
	}
	r := &Reporter{
		env:        opts.Env,
		refs:       opts.Refs,
		client:     opts.Client,
		platform:   opts.Platform,
		sinks:      opts.Sinks,
		log:        logger.Named("status"),
		token:      opts.Token,
		matrix:     matrix,
		actionName: name,
		now:        time.Now,
	}
	if opts.Env != nil {
		r.workflowStartedAt = opts.Env.WorkflowStartedAt
	}
	return r
}

// BuildBase assembles the fixed part of a record for stage.
//
// The duration is measured from startedAt to the time of the call. cause and
// stack are redacted of the auth token; stack is truncated to
// MaxExceptionBytes. Failing to resolve the ref is the only error.
func (r *Reporter) BuildBase(ctx context.Context, stage string, st Status, startedAt time.Time, cause, stack string) (Base, error) {
	ref, err := r.refs.Ref(ctx)
	if err != nil {
		return Base{}, errors.Wrap(err, "resolve ref for status report")
	}

	now := r.now()
	actionStartedAt := startedAt.UTC().Format(time.RFC3339Nano)
	if r.workflowStartedAt == "" {
		r.workflowStartedAt = actionStartedAt
		if r.platform != nil {
			if err := r.platform.ExportVariable(WorkflowStartedAtVar, r.workflowStartedAt); err != nil {
				r.log.Debugf("Could not export %s: %v", WorkflowStartedAtVar, err)
			}
		}
	}

	b := Base{
		Stage:           stage,
		WorkflowRunID:   r.env.RunID,
		WorkflowName:    r.env.WorkflowName,
		JobName:         r.env.JobName,
		AnalysisKey:     r.env.AnalysisKey(),
		CommitOid:       r.env.SHA,
		Ref:             ref,
		ActionName:      r.actionName,
		ActionRef:       r.env.ActionRef,
		ActionOid:       unknownActionOid,
		StartedAt:       r.workflowStartedAt,
		ActionStartedAt: actionStartedAt,
		DurationMS:      now.Sub(startedAt).Milliseconds(),
		Status:          st,
		Cause:           r.redact(cause),
		Exception:       truncate(r.redact(stack), MaxExceptionBytes),
		MatrixVars:      r.matrix,
		RunnerOS:        r.env.RunnerOS,
	}
	if st.Terminal() {
		b.CompletedAt = now.UTC().Format(time.RFC3339Nano)
	}
	return b, nil
}

// Send mirrors rec to the output sinks and transmits it.
//
// The result tells the caller whether to continue: false only when the server
// refuses the run (403). Every other failure is logged and swallowed.
func (r *Reporter) Send(ctx context.Context, rec Record) bool {
	raw, err := json.Marshal(rec)
	if err != nil {
		r.log.Warnf("Could not encode status report: %v", err)
		return true
	}
	if r.sinks != nil {
		if err := r.sinks.Write(output.StatusEvent(rec.Stage, string(rec.Status), raw)); err != nil {
			r.log.Warnf("Could not write status report: %v", err)
		}
	}
	r.log.Debugf("Sending status report: %s", raw)

	if r.env.LocalRun {
		r.log.Debug("Not sending status report because this is a local run")
		return true
	}
	if r.client == nil {
		r.log.Debug("Not sending status report because no API client is configured")
		return true
	}

	path := fmt.Sprintf("repos/%s/%s/code-scanning/analysis/status", r.env.Repository.Owner, r.env.Repository.Name)
	req, err := r.client.NewRequest(http.MethodPut, path, json.RawMessage(raw))
	if err != nil {
		r.log.Warn((&TransportError{Err: err}).Error())
		return true
	}
	_, err = r.client.Do(ctx, req, nil)
	if err == nil {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusForbidden:
			r.fail(r.forbiddenMessage())
			return false
		case http.StatusUnprocessableEntity:
			if r.env.ServerURL != "https://github.com" {
				r.log.Debug("Status report was not accepted; this server does not support the status report schema.")
			} else {
				r.log.Debug("Status report was not accepted; the step is out of date for this API.")
			}
			return true
		}
		r.log.Warnw((&TransportError{StatusCode: ghErr.Response.StatusCode, Err: err}).Error(),
			logging.FieldHTTPStatus, ghErr.Response.StatusCode)
		return true
	}
	r.log.Warn((&TransportError{Err: err}).Error())
	return true
}

func (r *Reporter) forbiddenMessage() string {
	if r.env.EventName == "push" && r.env.Actor == "dependabot[bot]" {
		return `Workflows triggered by Dependabot on the "push" event run with read-only access. Uploading code scanning results requires write access. To use code scanning with Dependabot, please ensure you are using the "pull_request" event for this workflow and avoid triggering on the "push" event for Dependabot branches.`
	}
	return "This run does not have permission to access code scanning API endpoints. The workflow token needs the security-events: write permission."
}

func (r *Reporter) fail(msg string) {
	if r.platform != nil {
		r.platform.SetFailed(msg)
		return
	}
	r.log.Error(msg)
}

func (r *Reporter) redact(s string) string {
	if r.token == "" || s == "" {
		return s
	}
	return strings.ReplaceAll(s, r.token, redacted)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len(truncatedSuffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}
