package dbupload

import "fmt"

// OptOutError means the repository is not opted in to database uploads
// (the probe answered 404). It is an expected skip.
type OptOutError struct {
	Repository string
}

func (e *OptOutError) Error() string {
	return fmt.Sprintf("repository %s is not opted in to database uploads", e.Repository)
}

// UnknownUploadError is any other failure of the probe or of an upload.
type UnknownUploadError struct {
	Language   string // empty for the probe
	StatusCode int
	Err        error
}

func (e *UnknownUploadError) Error() string {
	what := "database upload probe"
	if e.Language != "" {
		what = "database upload for " + e.Language
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %v", what, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", what, e.Err)
}

func (e *UnknownUploadError) Unwrap() error {
	return e.Err
}
