package arbiter

import (
	"encoding/json"
	"errors"

	"cna/internal/llm"
)

var (
	errNoObject   = errors.New("reply contains no JSON object")
	errNoDecision = errors.New("no JSON object in reply decodes as a verdict")
)

// wireVerdict distinguishes an absent proceed flag from false.
type wireVerdict struct {
	HasConflicts      *bool    `json:"has_conflicts"`
	ConflictsDetected []string `json:"conflicts_detected"`
	DataQualityIssues []string `json:"data_quality_issues"`
	Recommendations   []string `json:"recommendations"`
	Proceed           *bool    `json:"proceed_to_final_report"`
}

// ParseVerdict extracts the verdict from a free-form reply. Balanced objects are
// tried left to right and the first one that decodes strictly and carries a
// verdict field wins. A missing proceed flag means proceed.
func ParseVerdict(reply string) (Verdict, error) {
	candidates := llm.JSONObjects(reply)
	if len(candidates) == 0 {
		return Verdict{}, errNoObject
	}
	var lastErr error = errNoDecision
	for _, c := range candidates {
		var w wireVerdict
		if err := json.Unmarshal([]byte(c), &w); err != nil {
			lastErr = err
			continue
		}
		if w.HasConflicts == nil && w.Proceed == nil {
			continue
		}
		v := Verdict{
			HasConflicts:      w.HasConflicts != nil && *w.HasConflicts,
			ConflictsDetected: nonNil(w.ConflictsDetected),
			DataQualityIssues: nonNil(w.DataQualityIssues),
			Recommendations:   nonNil(w.Recommendations),
			Proceed:           w.Proceed == nil || *w.Proceed,
		}
		return v, nil
	}
	return Verdict{}, lastErr
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
