// Package refs decides which ref analysis results are attributed to.
//
// A pull_request run checks out the synthetic merge commit behind
// refs/pull/<n>/merge. If a later step moves the workspace to another commit,
// the merge ref no longer describes what was analyzed and the PR head ref is
// used instead.
package refs

import (
	"context"
	"regexp"

	"scanstep/internal/actionctx"
)

var pullMergeRef = regexp.MustCompile(`^refs/pull/(\d+)/merge$`)

// InvalidStateError reports that the run environment cannot support ref
// resolution (for example, no declared ref).
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string {
	return "invalid state: " + e.Msg
}

// OidProvider returns the commit currently checked out in the workspace.
type OidProvider interface {
	CurrentOid(ctx context.Context) string
}

// OidFunc adapts a function to OidProvider.
type OidFunc func(ctx context.Context) string

func (f OidFunc) CurrentOid(ctx context.Context) string { return f(ctx) }

// ResolveRef returns the ref under which results should be attributed.
//
// Branch and tag refs are returned unchanged. For refs/pull/<n>/merge the
// current workspace commit is compared with checkedOutOid; on mismatch the
// corresponding refs/pull/<n>/head is returned.
func ResolveRef(ctx context.Context, declaredRef, checkedOutOid string, current OidProvider) (string, error) {
	if declaredRef == "" {
		return "", &InvalidStateError{Msg: "declared ref is empty"}
	}
	m := pullMergeRef.FindStringSubmatch(declaredRef)
	if m == nil {
		return declaredRef, nil
	}
	if current == nil {
		return "", &InvalidStateError{Msg: "no provider for the current commit"}
	}
	if current.CurrentOid(ctx) == checkedOutOid {
		return declaredRef, nil
	}
	return "refs/pull/" + m[1] + "/head", nil
}

// Resolver binds ResolveRef to the run's ExecutionContext.
type Resolver struct {
	env      *actionctx.ExecutionContext
	provider OidProvider
}

func NewResolver(env *actionctx.ExecutionContext, provider OidProvider) *Resolver {
	return &Resolver{env: env, provider: provider}
}

// Ref resolves the declared ref of the run. The provider is consulted at call
// time, so a checkout performed after startup is observed.
func (r *Resolver) Ref(ctx context.Context) (string, error) {
	if r == nil || r.env == nil {
		return "", &InvalidStateError{Msg: "no execution context"}
	}
	return ResolveRef(ctx, r.env.Ref, r.env.SHA, r.provider)
}

// BranchName strips a refs/heads/ prefix.
func BranchName(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}
