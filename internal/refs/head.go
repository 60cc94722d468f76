package refs

import (
	"context"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// GitHeadProvider reads HEAD of the repository containing Path.
//
// When the repository cannot be opened or HEAD cannot be resolved the
// Fallback oid is returned, so callers treat the workspace as unchanged.
type GitHeadProvider struct {
	Path     string
	Fallback string
	Logger   *zap.SugaredLogger
}

func (p *GitHeadProvider) CurrentOid(_ context.Context) string {
	path := p.Path
	if path == "" {
		path = "."
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		p.debugf("Could not open repository at %s, using checked-out commit: %v", path, err)
		return p.Fallback
	}
	head, err := repo.Head()
	if err != nil {
		p.debugf("Could not resolve HEAD at %s, using checked-out commit: %v", path, err)
		return p.Fallback
	}
	return head.Hash().String()
}

func (p *GitHeadProvider) debugf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Debugf(format, args...)
	}
}
