// Package dbupload pushes analysis databases to the code scanning API when
// the run is eligible. It is best effort: nothing here fails the run.
package dbupload

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"

	"scanstep/internal/actionctx"
	"scanstep/internal/codeql"
	gh "scanstep/internal/github"
	"scanstep/internal/logging"
	"scanstep/internal/refs"
)

// Bundler packs a database directory into a single zip.
type Bundler interface {
	DatabaseBundle(ctx context.Context, dbPath, outPath, name string) error
}

// RefSource resolves the ref being analyzed.
type RefSource interface {
	Ref(ctx context.Context) (string, error)
}

type Options struct {
	// Enabled is the upload-database input.
	Enabled bool
	Env     *actionctx.ExecutionContext
	Refs    RefSource
	Client  *github.Client
	Bundler Bundler
	Logger  *zap.SugaredLogger
	Verbose bool
}

type Uploader struct {
	enabled bool
	env     *actionctx.ExecutionContext
	refs    RefSource
	client  *github.Client
	bundler Bundler
	log     *zap.SugaredLogger
	verbose bool
}

func NewUploader(opts Options) *Uploader {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Uploader{
		enabled: opts.Enabled,
		env:     opts.Env,
		refs:    opts.Refs,
		client:  opts.Client,
		bundler: opts.Bundler,
		log:     logger.Named("dbupload"),
		verbose: opts.Verbose,
	}
}

// MaybeUpload bundles and uploads every database in dbs if the run is
// eligible. Eligibility is checked in order and the first failing check
// skips the upload. Languages are uploaded one at a time; a failure for one
// language is logged and the rest are still attempted.
func (u *Uploader) MaybeUpload(ctx context.Context, variant gh.Variant, dbs codeql.DatabaseLocation) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Warnf("Database upload stopped unexpectedly: %v", r)
		}
	}()

	if !u.enabled {
		u.log.Debug("Database upload disabled in workflow. Skipping upload.")
		return
	}
	if variant != gh.VariantDotcom {
		u.log.Debugf("Not running against github.com (%s). Skipping upload.", variant)
		return
	}
	onDefault, err := u.analyzingDefaultBranch(ctx)
	if err != nil {
		u.log.Debugf("Could not determine the default branch: %s. Skipping upload.", gh.DescribeError(err, u.verbose))
		return
	}
	if !onDefault {
		u.log.Debug("Not analyzing default branch. Skipping upload.")
		return
	}
	if err := u.probe(ctx); err != nil {
		var optOut *OptOutError
		if errors.As(err, &optOut) {
			u.log.Debug("Repository is not opted in to database uploads. Skipping upload.")
		} else {
			u.log.Infof("Skipping database upload due to unknown error: %v", err)
		}
		return
	}

	for _, lang := range dbs.Languages() {
		if err := u.uploadLanguageSafely(ctx, lang, dbs[lang]); err != nil {
			u.log.Warnf("Failed to upload database for %s: %v", lang, err)
			continue
		}
		u.log.With(logging.FieldLanguage, lang).Info("Successfully uploaded database")
	}
}

func (u *Uploader) analyzingDefaultBranch(ctx context.Context) (bool, error) {
	ref, err := u.refs.Ref(ctx)
	if err != nil {
		return false, err
	}
	if !strings.HasPrefix(ref, "refs/heads/") {
		return false, nil
	}
	def := u.env.DefaultBranch
	if def == "" {
		repo, _, err := u.client.Repositories.Get(ctx, u.env.Repository.Owner, u.env.Repository.Name)
		if err != nil {
			return false, errors.Wrap(err, "get repository")
		}
		def = repo.GetDefaultBranch()
	}
	return def != "" && refs.BranchName(ref) == def, nil
}

// probe checks that the databases endpoint exists for this repository.
func (u *Uploader) probe(ctx context.Context) error {
	path := fmt.Sprintf("repos/%s/%s/code-scanning/databases", u.env.Repository.Owner, u.env.Repository.Name)
	req, err := u.client.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return &UnknownUploadError{Err: err}
	}
	_, err = u.client.Do(ctx, req, nil)
	if err == nil {
		return nil
	}
	code := gh.StatusCode(err)
	if code == http.StatusNotFound {
		return &OptOutError{Repository: u.env.Repository.String()}
	}
	return &UnknownUploadError{StatusCode: code, Err: errors.New(gh.DescribeError(err, u.verbose))}
}

// uploadLanguageSafely turns a panic during one language's upload into an
// error so the remaining languages are still attempted.
func (u *Uploader) uploadLanguageSafely(ctx context.Context, lang, dbPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("database upload stopped unexpectedly: %v", r)
		}
	}()
	return u.uploadLanguage(ctx, lang, dbPath)
}

func (u *Uploader) uploadLanguage(ctx context.Context, lang, dbPath string) error {
	zipPath := dbPath + ".zip"
	if err := u.bundler.DatabaseBundle(ctx, dbPath, zipPath, lang); err != nil {
		return errors.Wrap(err, "bundle database")
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return errors.Wrap(err, "open bundle")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat bundle")
	}

	endpoint, err := u.client.BaseURL.Parse(fmt.Sprintf("repos/%s/%s/code-scanning/databases/%s",
		u.env.Repository.Owner, u.env.Repository.Name, url.PathEscape(lang)))
	if err != nil {
		return errors.Wrap(err, "build upload url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint.String(), f)
	if err != nil {
		return errors.Wrap(err, "build upload request")
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/zip")

	u.log.Debugw("Uploading database", logging.FieldLanguage, lang, logging.FieldPath, zipPath)
	if _, err := u.client.Do(ctx, req, nil); err != nil {
		return &UnknownUploadError{Language: lang, StatusCode: gh.StatusCode(err), Err: errors.New(gh.DescribeError(err, u.verbose))}
	}
	return nil
}
