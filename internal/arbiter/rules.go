package arbiter

const (
	overrideReason          = "conflicts are not severe enough to block the report"
	recommendUnparsedReply  = "reviewer reply could not be parsed; manual review recommended"
	recommendReviewerFailed = "conflict review failed; manual review recommended"
)

// ApplyOverride lifts a stop request when fewer than threshold conflicts are listed.
// Pure function: no I/O.
func ApplyOverride(v Verdict, threshold int) Verdict {
	if v.HasConflicts && !v.Proceed && len(v.ConflictsDetected) < threshold {
		v.Proceed = true
		v.OverrideReason = overrideReason
	}
	return v
}

// FallbackVerdict is the safe default used whenever the reviewer's answer is unusable.
// The raw reply and the error, when present, are kept for audit.
func FallbackVerdict(reply string, err error) Verdict {
	v := Verdict{
		HasConflicts:      false,
		ConflictsDetected: []string{},
		DataQualityIssues: []string{},
		Recommendations:   []string{recommendUnparsedReply},
		Proceed:           true,
		AIResponse:        reply,
		Fallback:          true,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

// FailedVerdict is the safe default when the reviewer could not be consulted.
func FailedVerdict(err error) Verdict {
	v := FallbackVerdict("", err)
	v.Recommendations = []string{recommendReviewerFailed}
	return v
}
