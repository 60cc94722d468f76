// Package status builds and transmits the structured status records sent to
// the code scanning API at each milestone of a run.
package status

import (
	"encoding/json"

	"scanstep/internal/codeql"
)

// Status is the status enum carried by every record.
type Status string

const (
	StatusStarting Status = "starting"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusAborted  Status = "aborted"
)

// Terminal reports whether the status closes the action run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusAborted:
		return true
	}
	return false
}

// StatusFor returns failure iff err is non-nil or any language failed.
func StatusFor(stats *codeql.AnalysisStats, err error) Status {
	if err != nil || len(stats.FailedLanguages()) > 0 {
		return StatusFailure
	}
	return StatusSuccess
}

// Base holds the fields every record carries.
type Base struct {
	// Stage is the orchestrator stage that produced the record. It is not
	// part of the API payload.
	Stage string `json:"-"`

	WorkflowRunID   int64  `json:"workflow_run_id"`
	WorkflowName    string `json:"workflow_name"`
	JobName         string `json:"job_name"`
	AnalysisKey     string `json:"analysis_key"`
	CommitOid       string `json:"commit_oid"`
	Ref             string `json:"ref"`
	ActionName      string `json:"action_name"`
	ActionRef       string `json:"action_ref,omitempty"`
	ActionOid       string `json:"action_oid"`
	StartedAt       string `json:"started_at"`
	ActionStartedAt string `json:"action_started_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	DurationMS      int64  `json:"action_duration_ms"`
	Status          Status `json:"status"`
	Cause           string `json:"cause,omitempty"`
	Exception       string `json:"exception,omitempty"`
	MatrixVars      string `json:"matrix_vars,omitempty"`
	RunnerOS        string `json:"runner_os,omitempty"`
}

// Record is a Base plus whatever stats are known when it is reported.
// Records are independent; each one is built from scratch.
type Record struct {
	Base
	Fields map[string]any
}

// NewRecord returns a record over base with the given field sets merged in
// order. Base fields always win over colliding stat fields.
func NewRecord(base Base, fieldSets ...map[string]any) Record {
	r := Record{Base: base}
	for _, fs := range fieldSets {
		for k, v := range fs {
			if r.Fields == nil {
				r.Fields = make(map[string]any)
			}
			r.Fields[k] = v
		}
	}
	return r
}

// MarshalJSON flattens Base and Fields into a single object.
func (r Record) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(r.Base)
	if err != nil {
		return nil, err
	}
	if len(r.Fields) == 0 {
		return b, nil
	}
	m := make(map[string]any, len(r.Fields)+16)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Fields {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return json.Marshal(m)
}
