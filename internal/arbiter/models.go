package arbiter

// SevereConflictThreshold is the number of listed conflicts at which a reviewer's
// request to stop is honoured. Fewer conflicts are treated as not severe enough
// to block the report. The value needs product sign-off before it changes.
const SevereConflictThreshold = 3

// NoData is shown to the reviewer in place of an analysis that was not produced.
const NoData = "no data"

// Verdict is the reviewer's judgement over the four analyses.
type Verdict struct {
	HasConflicts      bool     `json:"has_conflicts"`
	ConflictsDetected []string `json:"conflicts_detected"`
	DataQualityIssues []string `json:"data_quality_issues"`
	Recommendations   []string `json:"recommendations"`
	Proceed           bool     `json:"proceed_to_final_report"`
	OverrideReason    string   `json:"override_reason,omitempty"`
	// AIResponse keeps the raw reply when it could not be parsed.
	AIResponse string `json:"ai_response,omitempty"`
	// Error keeps the collaborator failure when the review could not run.
	Error string `json:"error,omitempty"`

	// Fallback is set when the verdict was not produced by the reviewer.
	Fallback bool `json:"-"`
}

// Overridden reports whether a stop request was lifted by the threshold rule.
func (v Verdict) Overridden() bool {
	return v.OverrideReason != ""
}

// Outputs are the analysis artifacts under review. Empty fields render as NoData.
type Outputs struct {
	Clinical       string `json:"clinical_context"`
	Anthropometric string `json:"anthropometric_evaluation"`
	Biochemical    string `json:"biochemical_interpretation"`
	Dietary        string `json:"dietary_assessment"`
}

func orNoData(s string) string {
	if s == "" {
		return NoData
	}
	return s
}

// withDefaults replaces missing outputs with NoData.
func (o Outputs) withDefaults() Outputs {
	return Outputs{
		Clinical:       orNoData(o.Clinical),
		Anthropometric: orNoData(o.Anthropometric),
		Biochemical:    orNoData(o.Biochemical),
		Dietary:        orNoData(o.Dietary),
	}
}
