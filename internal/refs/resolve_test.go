package refs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"scanstep/internal/actionctx"
)

var (
	oidA = strings.Repeat("a", 40)
	oidB = strings.Repeat("b", 40)
)

type countingProvider struct {
	oid   string
	calls int
}

func (p *countingProvider) CurrentOid(context.Context) string {
	p.calls++
	return p.oid
}

func TestResolveRef_EmptyDeclaredRef(t *testing.T) {
	for _, current := range []OidProvider{nil, &countingProvider{oid: oidA}} {
		_, err := ResolveRef(context.Background(), "", oidA, current)
		var ise *InvalidStateError
		if !errors.As(err, &ise) {
			t.Fatalf("expected InvalidStateError, got %v", err)
		}
	}
}

func TestResolveRef_MergeRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		current string
		want    string
	}{
		{"unchanged checkout keeps merge ref", "refs/pull/1/merge", oidA, "refs/pull/1/merge"},
		{"advanced checkout uses head ref", "refs/pull/1/merge", oidB, "refs/pull/1/head"},
		{"multi-digit pr number", "refs/pull/4021/merge", oidB, "refs/pull/4021/head"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &countingProvider{oid: tt.current}
			got, err := ResolveRef(context.Background(), tt.ref, oidA, p)
			if err != nil {
				t.Fatalf("ResolveRef: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
			if p.calls != 1 {
				t.Fatalf("expected provider to be called once, got %d", p.calls)
			}
		})
	}
}

func TestResolveRef_NonMergeRefsUnchanged(t *testing.T) {
	refs := []string{
		"refs/heads/main",
		"refs/tags/v1.0.0",
		"refs/pull/1/head",
		"refs/heads/refs/pull/1/merge",
		"refs/pull/x/merge",
	}
	for _, ref := range refs {
		for _, current := range []string{oidA, oidB} {
			p := &countingProvider{oid: current}
			got, err := ResolveRef(context.Background(), ref, oidA, p)
			if err != nil {
				t.Fatalf("ResolveRef(%q): %v", ref, err)
			}
			if got != ref {
				t.Fatalf("ResolveRef(%q) = %q, want unchanged", ref, got)
			}
			if p.calls != 0 {
				t.Fatalf("provider should not be consulted for %q", ref)
			}
		}
	}
}

func TestResolver_UsesExecutionContext(t *testing.T) {
	env := &actionctx.ExecutionContext{Ref: "refs/pull/1/merge", SHA: oidA}

	got, err := NewResolver(env, OidFunc(func(context.Context) string { return oidA })).Ref(context.Background())
	if err != nil || got != "refs/pull/1/merge" {
		t.Fatalf("scenario A: got %q, %v", got, err)
	}

	got, err = NewResolver(env, OidFunc(func(context.Context) string { return oidB })).Ref(context.Background())
	if err != nil || got != "refs/pull/1/head" {
		t.Fatalf("scenario B: got %q, %v", got, err)
	}
}

func TestBranchName(t *testing.T) {
	if got := BranchName("refs/heads/main"); got != "main" {
		t.Fatalf("got %q", got)
	}
	if got := BranchName("refs/pull/1/merge"); got != "refs/pull/1/merge" {
		t.Fatalf("got %q", got)
	}
}

func TestGitHeadProvider(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("main.go"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Unix(1700000000, 0)},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sub := filepath.Join(dir, "pkg")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	p := &GitHeadProvider{Path: sub, Fallback: oidA}
	if got := p.CurrentOid(context.Background()); got != hash.String() {
		t.Fatalf("CurrentOid = %q, want %q", got, hash.String())
	}
}

func TestGitHeadProvider_FallsBackOutsideRepository(t *testing.T) {
	p := &GitHeadProvider{Path: t.TempDir(), Fallback: oidA}
	if got := p.CurrentOid(context.Background()); got != oidA {
		t.Fatalf("CurrentOid = %q, want fallback", got)
	}
}
