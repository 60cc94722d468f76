package codeql

import "github.com/cockroachdb/errors"

// AnalysisError is returned when analysis of a language fails. Stats holds
// whatever was measured before the failure.
type AnalysisError struct {
	Language string
	Stats    *AnalysisStats
	Err      error
}

func (e *AnalysisError) Error() string {
	return "error running analysis for " + e.Language + ": " + e.Err.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// PartialStats extracts the partial statistics carried by err, if any.
func PartialStats(err error) *AnalysisStats {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Stats
	}
	return nil
}
