// Package stage holds the analysis units the pipeline sequences. Each stage turns
// the patient record (and upstream artifacts) into one text artifact through an
// Analyst collaborator.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cna/internal/patient"
)

// Analyst is the text-completion collaborator behind every stage.
type Analyst interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Stage is one orchestrated unit producing a named artifact.
type Stage interface {
	// Name is the trace stage name, e.g. "ClinicalContextAnalyzer".
	Name() string
	// DataType is the trace data type, e.g. "clinical_analysis".
	DataType() string
	// Snapshot is the input recorded in the stage's trace.
	Snapshot(in Input) any
	Run(ctx context.Context, in Input) (string, error)
}

// Input is what the sequencer hands to a stage. Upstream is keyed by artifact name.
type Input struct {
	Record   *patient.Record
	Upstream map[string]string
}

// Stage names as they appear in trace ids.
const (
	NameClinical       = "ClinicalContextAnalyzer"
	NameAnthropometric = "AnthropometricEvaluator"
	NameBiochemical    = "BiochemicalInterpreter"
	NameDietary        = "DietaryAssessor"
	NameReporter       = "DiagnosticReporter"
)

// Trace data types.
const (
	DataClinical       = "clinical_analysis"
	DataAnthropometric = "anthropometric_eval"
	DataBiochemical    = "biochemical_interp"
	DataDietary        = "dietary_assessment"
	DataReport         = "final_report"
)

// Artifact keys used in Input.Upstream and the reviewer's view of the outputs.
const (
	ArtifactClinical       = "clinical_context"
	ArtifactAnthropometric = "anthropometric_evaluation"
	ArtifactBiochemical    = "biochemical_interpretation"
	ArtifactDietary        = "dietary_assessment"
)

// DefaultLanguage is the language reports are written in unless configured otherwise.
const DefaultLanguage = "Chinese"

type options struct {
	language string
}

type Option func(*options)

// WithLanguage sets the language the analyst is asked to answer in.
func WithLanguage(language string) Option {
	return func(o *options) {
		if language != "" {
			o.language = language
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{language: DefaultLanguage}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func complete(ctx context.Context, analyst Analyst, name, prompt string) (string, error) {
	out, err := analyst.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func render(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

func prompt(role, task, language string, sections ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(role))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(task))
	for _, s := range sections {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	fmt.Fprintf(&b, "\n\nWrite your answer in %s.", language)
	return b.String()
}
