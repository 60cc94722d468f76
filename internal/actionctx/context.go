// Package actionctx captures the per-run facts supplied by the runner
// environment into an immutable ExecutionContext.
package actionctx

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v81/github"
	"github.com/spf13/viper"
)

// Repository is an owner/name pair ("nwo").
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses "owner/name".
func ParseRepository(nwo string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(nwo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, errors.Newf("invalid repository %q: expected OWNER/NAME", nwo)
	}
	return Repository{Owner: owner, Name: name}, nil
}

// ExecutionContext is built once at startup and never mutated.
type ExecutionContext struct {
	Ref        string // GITHUB_REF as declared by the trigger
	SHA        string // GITHUB_SHA: the commit checked out for this ref
	Repository Repository
	ServerURL  string
	APIURL     string

	WorkflowName string
	WorkflowRef  string
	RunID        int64
	JobName      string
	RunnerOS     string
	RunnerTemp   string
	ActionRef    string
	EventName    string
	Actor        string

	// DefaultBranch comes from the triggering event payload; empty when the
	// payload carries no repository.
	DefaultBranch string

	// LocalRun is set for runs outside a hosted runner (CODEQL_LOCAL_RUN).
	LocalRun bool
	// WorkflowStartedAt is the start time exported by an earlier step, if any.
	WorkflowStartedAt string
}

var required = []string{"GITHUB_REF", "GITHUB_SHA", "GITHUB_REPOSITORY", "GITHUB_SERVER_URL"}

// FromEnvironment reads the runner environment through v. Missing required
// parameters are reported together.
func FromEnvironment(v *viper.Viper) (*ExecutionContext, error) {
	if v == nil {
		v = viper.New()
	}
	get := func(name string) string {
		_ = v.BindEnv(name, name)
		return strings.TrimSpace(v.GetString(name))
	}

	var missing []string
	for _, name := range required {
		if get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Newf("required environment parameter(s) not set: %s", strings.Join(missing, ", "))
	}

	repo, err := ParseRepository(get("GITHUB_REPOSITORY"))
	if err != nil {
		return nil, err
	}

	ec := &ExecutionContext{
		Ref:               get("GITHUB_REF"),
		SHA:               get("GITHUB_SHA"),
		Repository:        repo,
		ServerURL:         strings.TrimSuffix(get("GITHUB_SERVER_URL"), "/"),
		APIURL:            get("GITHUB_API_URL"),
		WorkflowName:      get("GITHUB_WORKFLOW"),
		WorkflowRef:       get("GITHUB_WORKFLOW_REF"),
		RunID:             -1,
		JobName:           get("GITHUB_JOB"),
		RunnerOS:          get("RUNNER_OS"),
		RunnerTemp:        get("RUNNER_TEMP"),
		ActionRef:         get("GITHUB_ACTION_REF"),
		EventName:         get("GITHUB_EVENT_NAME"),
		Actor:             get("GITHUB_ACTOR"),
		LocalRun:          isTruthy(get("CODEQL_LOCAL_RUN")),
		WorkflowStartedAt: get("CODEQL_WORKFLOW_STARTED_AT"),
	}
	if raw := get("GITHUB_RUN_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ec.RunID = id
		}
	}
	if path := get("GITHUB_EVENT_PATH"); path != "" {
		branch, err := defaultBranchFromEvent(path)
		if err != nil {
			return nil, err
		}
		ec.DefaultBranch = branch
	}
	return ec, nil
}

// AnalysisKey identifies the analysis within the workflow as "<workflow file>:<job>".
// GITHUB_WORKFLOW_REF has the form "owner/repo/.github/workflows/x.yml@refs/heads/main".
func (ec *ExecutionContext) AnalysisKey() string {
	if ec.WorkflowRef == "" {
		return ec.JobName
	}
	path, _, _ := strings.Cut(ec.WorkflowRef, "@")
	prefix := ec.Repository.String() + "/"
	path = strings.TrimPrefix(path, prefix)
	return path + ":" + ec.JobName
}

// CheckoutURI is the file URI of the workspace root used in uploaded results.
func (ec *ExecutionContext) CheckoutURI(checkoutPath string) string {
	return "file://" + checkoutPath
}

type eventPayload struct {
	Repository *github.Repository `json:"repository"`
}

func defaultBranchFromEvent(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "read event payload %s", path)
	}
	var ev eventPayload
	if err := json.Unmarshal(b, &ev); err != nil {
		return "", errors.Wrapf(err, "parse event payload %s", path)
	}
	return ev.Repository.GetDefaultBranch(), nil
}

func isTruthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
