// Package upload sends the SARIF produced by analysis to code scanning.
package upload

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"

	"scanstep/internal/actionctx"
	gh "scanstep/internal/github"
	"scanstep/internal/logging"
)

// UploadStats describes a completed result upload.
type UploadStats struct {
	RawUploadSizeBytes    int
	ZippedUploadSizeBytes int
	NumResultsInSarif     int
	SarifID               string
}

func (s *UploadStats) StatusFields() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{
		"raw_upload_size_bytes":    s.RawUploadSizeBytes,
		"zipped_upload_size_bytes": s.ZippedUploadSizeBytes,
		"num_results_in_sarif":     s.NumResultsInSarif,
	}
	if s.SarifID != "" {
		out["sarif_id"] = s.SarifID
	}
	return out
}

// RefSource resolves the ref results are attributed to.
type RefSource interface {
	Ref(ctx context.Context) (string, error)
}

type Options struct {
	Env          *actionctx.ExecutionContext
	Refs         RefSource
	Client       *github.Client
	CheckoutPath string
	Logger       *zap.SugaredLogger
}

type ResultUploader struct {
	env          *actionctx.ExecutionContext
	refs         RefSource
	client       *github.Client
	checkoutPath string
	log          *zap.SugaredLogger
}

func NewResultUploader(opts Options) *ResultUploader {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &ResultUploader{
		env:          opts.Env,
		refs:         opts.Refs,
		client:       opts.Client,
		checkoutPath: opts.CheckoutPath,
		log:          logger.Named("upload"),
	}
}

// UploadFromActions combines every SARIF file under outputDir into one log
// and uploads it for the run's commit and resolved ref.
func (u *ResultUploader) UploadFromActions(ctx context.Context, outputDir string, variant gh.Variant) (*UploadStats, error) {
	paths, err := findSarifFiles(outputDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Newf("no SARIF files found to upload in %s", outputDir)
	}
	u.log.Infof("Uploading results from %d SARIF file(s)", len(paths))

	combined, err := combineSarifFiles(paths)
	if err != nil {
		return nil, err
	}
	numResults, tool, err := combined.summarize()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(combined)
	if err != nil {
		return nil, errors.Wrap(err, "encode combined SARIF")
	}
	payload, zippedSize, err := gzipBase64(raw)
	if err != nil {
		return nil, err
	}

	ref, err := u.refs.Ref(ctx)
	if err != nil {
		return nil, err
	}
	analysis := &github.SarifAnalysis{
		CommitSHA:   github.Ptr(u.env.SHA),
		Ref:         github.Ptr(ref),
		Sarif:       github.Ptr(payload),
		CheckoutURI: github.Ptr(u.env.CheckoutURI(u.checkoutPath)),
	}
	if tool != "" {
		analysis.ToolName = github.Ptr(tool)
	}
	if t, err := time.Parse(time.RFC3339Nano, u.env.WorkflowStartedAt); err == nil {
		analysis.StartedAt = &github.Timestamp{Time: t}
	}

	u.log.Debugf("Uploading %d bytes (%d compressed) to %s for %s", len(raw), zippedSize, variant, ref)
	id, _, err := u.client.CodeScanning.UploadSarif(ctx, u.env.Repository.Owner, u.env.Repository.Name, analysis)
	if err != nil {
		return nil, errors.Wrap(err, "upload SARIF")
	}

	stats := &UploadStats{
		RawUploadSizeBytes:    len(raw),
		ZippedUploadSizeBytes: zippedSize,
		NumResultsInSarif:     numResults,
		SarifID:               id.GetID(),
	}
	u.log.Infof("Successfully uploaded results (%d result(s))", numResults)
	return stats, nil
}
