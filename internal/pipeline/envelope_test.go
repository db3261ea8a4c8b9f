package pipeline_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cna/internal/arbiter"
	"cna/internal/patient"
	"cna/internal/pipeline"
	dErrors "cna/pkg/domain-errors"
)

func envelopeKeys(t *testing.T, r *pipeline.Result) map[string]json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(r.Envelope())
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestEnvelopeShapes(t *testing.T) {
	validation := patient.ValidationResult{IsValid: false, MissingFields: []string{"lab_results"}, Warnings: []string{}}

	t.Run("invalid input", func(t *testing.T) {
		env := envelopeKeys(t, &pipeline.Result{Status: pipeline.StatusInvalid, SessionID: "s1", Validation: &validation})
		assert.ElementsMatch(t, []string{"error", "errorType", "validationResults", "sessionId"}, keys(env))
		assert.JSONEq(t, `"ValidationError"`, string(env["errorType"]))
	})

	t.Run("conflict abort", func(t *testing.T) {
		verdict := arbiter.Verdict{HasConflicts: true, ConflictsDetected: []string{"a", "b", "c"}}
		env := envelopeKeys(t, &pipeline.Result{
			Status:          pipeline.StatusConflict,
			SessionID:       "s2",
			Verdict:         &verdict,
			ConflictTraceID: "Coordinator_conflict_analysis_0000abcd",
		})
		assert.ElementsMatch(t, []string{"error", "conflictVerdict", "sessionId", "conflictTraceId"}, keys(env))

		var v map[string]any
		require.NoError(t, json.Unmarshal(env["conflictVerdict"], &v))
		assert.Equal(t, false, v["proceed_to_final_report"])
		assert.NotContains(t, v, "Fallback")
	})

	t.Run("stage failure", func(t *testing.T) {
		err := dErrors.Wrap(errors.New("boom"), dErrors.CodeStageExecution, "stage failed")
		env := envelopeKeys(t, &pipeline.Result{
			Status:       pipeline.StatusFailed,
			SessionID:    "s3",
			Err:          err,
			LastTraceID:  "a",
			ErrorTraceID: "b",
		})
		assert.ElementsMatch(t, []string{"error", "errorType", "sessionId", "lastTraceId", "errorTraceId"}, keys(env))
		assert.JSONEq(t, `"StageExecutionError"`, string(env["errorType"]))
		assert.JSONEq(t, `"stage failed: boom"`, string(env["error"]))
	})
}

func TestErrorType(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"input":     {dErrors.New(dErrors.CodeInputFormat, "bad json"), pipeline.ErrorTypeInputFormat},
		"timeout":   {dErrors.New(dErrors.CodeTimeout, "late"), pipeline.ErrorTypeStageExecution},
		"stage":     {dErrors.New(dErrors.CodeStageExecution, "x"), pipeline.ErrorTypeStageExecution},
		"validator": {dErrors.New(dErrors.CodeValidation, "x"), pipeline.ErrorTypeValidation},
		"uncoded":   {errors.New("x"), pipeline.ErrorTypeInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, pipeline.ErrorType(tc.err))
		})
	}
}

func TestInputFailure(t *testing.T) {
	r := pipeline.InputFailure(errors.New("unexpected EOF"))
	assert.Equal(t, pipeline.StatusFailed, r.Status)
	assert.NotEmpty(t, r.SessionID)
	assert.True(t, r.Failed())

	env := envelopeKeys(t, r)
	assert.JSONEq(t, `"InputFormatError"`, string(env["errorType"]))
	assert.NotContains(t, env, "lastTraceId")

	assert.Equal(t, pipeline.ErrorTypeInputFormat, pipeline.ErrorType(pipeline.InputFailure(nil).Err))
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
