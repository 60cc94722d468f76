package codeql

import (
	"sort"
)

// LanguageStats is the outcome of analyzing one language.
type LanguageStats struct {
	Failed              bool
	AnalyzeDurationMS   int64
	InterpretDurationMS int64
}

// AnalysisStats is produced once per run by RunAnalyze and not modified after.
type AnalysisStats struct {
	Languages map[string]LanguageStats
}

func NewAnalysisStats() *AnalysisStats {
	return &AnalysisStats{Languages: make(map[string]LanguageStats)}
}

// FailedLanguages returns the sorted set of languages whose analysis failed.
func (s *AnalysisStats) FailedLanguages() []string {
	if s == nil {
		return nil
	}
	var out []string
	for lang, ls := range s.Languages {
		if ls.Failed {
			out = append(out, lang)
		}
	}
	sort.Strings(out)
	return out
}

// StatusFields flattens the stats into status record fields.
func (s *AnalysisStats) StatusFields() map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any)
	for lang, ls := range s.Languages {
		if ls.AnalyzeDurationMS > 0 {
			out["analyze_builtin_queries_"+lang+"_duration_ms"] = ls.AnalyzeDurationMS
		}
		if ls.InterpretDurationMS > 0 {
			out["interpret_results_"+lang+"_duration_ms"] = ls.InterpretDurationMS
		}
	}
	if failed := s.FailedLanguages(); len(failed) > 0 {
		out["analyze_failure_language"] = failed[0]
		if len(failed) > 1 {
			out["analyze_failure_languages"] = failed
		}
	}
	return out
}

// DatabaseLocation maps a language to the directory of its database.
type DatabaseLocation map[string]string

// Languages returns the keys in sorted order.
func (d DatabaseLocation) Languages() []string {
	out := make([]string, 0, len(d))
	for lang := range d {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
