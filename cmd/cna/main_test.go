package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	err := root.Execute()

	var env map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &env), out.String())
	return env, err
}

func TestAssessMalformedInput(t *testing.T) {
	env, err := execute(t, `{"patient_info": `, "assess")
	assert.ErrorIs(t, err, errAssessmentFailed)
	assert.Equal(t, "InputFormatError", env["errorType"])
	assert.NotEmpty(t, env["sessionId"])
}

func TestAssessEmptyInput(t *testing.T) {
	env, err := execute(t, "", "assess")
	assert.Error(t, err)
	assert.Equal(t, "InputFormatError", env["errorType"])
}

func TestAssessInvalidPatientData(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	env, err := execute(t, `{"patient_info": {"height_cm": 170}, "diagnoses": []}`, "assess")

	assert.ErrorIs(t, err, errAssessmentFailed)
	assert.Equal(t, "ValidationError", env["errorType"])
	validation, ok := env["validationResults"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, validation["isValid"])
	assert.Equal(t, []any{"lab_results"}, validation["missingFields"])
}

func TestAssessWithoutAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	env, err := execute(t, `{"patient_info": {}, "diagnoses": [], "lab_results": {}}`, "assess")
	assert.Error(t, err)
	assert.Equal(t, "InternalError", env["errorType"])
}

func TestAssessMissingInputFile(t *testing.T) {
	env, err := execute(t, "", "assess", "--input", "/nonexistent/patient.json")
	assert.Error(t, err)
	assert.Equal(t, "InputFormatError", env["errorType"])
}

func TestExtractRejectsEmptyBatch(t *testing.T) {
	env, err := execute(t, `{"images": [], "text": "  "}`, "extract")
	assert.ErrorIs(t, err, errExtractionFailed)
	assert.Equal(t, "InputFormatError", env["errorType"])
	assert.NotContains(t, env, "sessionId")
}

func TestExtractWithoutAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	env, err := execute(t, `{"text": "ALB 30 g/L"}`, "extract")
	assert.ErrorIs(t, err, errExtractionFailed)
	assert.Equal(t, "InternalError", env["errorType"])
}

func TestExtractMissingInputFile(t *testing.T) {
	env, err := execute(t, "", "extract", "--input", "/nonexistent/images.json")
	assert.ErrorIs(t, err, errExtractionFailed)
	assert.Equal(t, "InputFormatError", env["errorType"])
}
