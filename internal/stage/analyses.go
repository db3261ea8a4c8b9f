package stage

import (
	"context"

	"cna/internal/patient"
)

const clinicalRole = `You are a clinical context analyst. Interpret the patient's medical conditions and their
nutritional impact: primary diagnoses, comorbidities, severity and current treatment. Identify
disease-related drivers such as hypermetabolism, inflammation, malabsorption or organ
dysfunction, and summarize the clinical context and likely causes of malnutrition.`

const anthropometricRole = `You are an anthropometric evaluator. Process and interpret body measurements: compute BMI
and weight change percentage and compare them with reference standards. Interpret arm
circumference and skinfold values to judge fat and muscle reserves, decide whether phenotypic
malnutrition criteria (low BMI, weight loss, reduced muscle mass) are met and grade their
severity.`

const biochemicalRole = `You are a biochemical indicator interpreter. Analyse laboratory data relevant to nutritional
status. Interpret serum proteins (albumin, prealbumin) in light of the clinical context and
inflammatory markers such as CRP, assess immune, vitamin, mineral and electrolyte markers, and
distinguish protein loss caused by malnutrition from that caused by inflammation.`

const dietaryRole = `You are a dietary assessor. Estimate the patient's energy, protein and fluid requirements
from the clinical picture, compare them with the reported intake, note qualitative aspects of
the diet (texture, intolerances) and decide whether etiologic malnutrition criteria (reduced
intake or assimilation) are met.`

// Clinical analyses the overall clinical context.
type Clinical struct {
	analyst Analyst
	opts    options
}

func NewClinical(analyst Analyst, opts ...Option) *Clinical {
	return &Clinical{analyst: analyst, opts: buildOptions(opts)}
}

func (s *Clinical) Name() string     { return NameClinical }
func (s *Clinical) DataType() string { return DataClinical }

func (s *Clinical) Snapshot(in Input) any { return in.Record }

func (s *Clinical) Run(ctx context.Context, in Input) (string, error) {
	p := prompt(clinicalRole, "Analyze the clinical context for the following patient data:", s.opts.language, render(in.Record))
	return complete(ctx, s.analyst, s.Name(), p)
}

// Anthropometric evaluates body measurements.
type Anthropometric struct {
	analyst Analyst
	opts    options
}

func NewAnthropometric(analyst Analyst, opts ...Option) *Anthropometric {
	return &Anthropometric{analyst: analyst, opts: buildOptions(opts)}
}

func (s *Anthropometric) Name() string     { return NameAnthropometric }
func (s *Anthropometric) DataType() string { return DataAnthropometric }

func (s *Anthropometric) Snapshot(in Input) any { return in.Record }

func (s *Anthropometric) Run(ctx context.Context, in Input) (string, error) {
	p := prompt(anthropometricRole, "Evaluate the anthropometric data for the following patient:", s.opts.language, render(in.Record))
	return complete(ctx, s.analyst, s.Name(), p)
}

// Biochemical interprets lab results against the clinical context artifact.
type Biochemical struct {
	analyst Analyst
	opts    options
}

func NewBiochemical(analyst Analyst, opts ...Option) *Biochemical {
	return &Biochemical{analyst: analyst, opts: buildOptions(opts)}
}

func (s *Biochemical) Name() string     { return NameBiochemical }
func (s *Biochemical) DataType() string { return DataBiochemical }

type biochemicalSnapshot struct {
	LabResults      patient.LabResults `json:"lab_results"`
	ClinicalContext string             `json:"clinical_context"`
}

func (s *Biochemical) Snapshot(in Input) any {
	snap := biochemicalSnapshot{ClinicalContext: in.Upstream[ArtifactClinical]}
	if in.Record != nil {
		snap.LabResults = in.Record.LabResults
	}
	return snap
}

func (s *Biochemical) Run(ctx context.Context, in Input) (string, error) {
	snap := s.Snapshot(in).(biochemicalSnapshot)
	p := prompt(biochemicalRole, "Interpret the biochemical lab results for the patient given the clinical context.", s.opts.language,
		"Clinical context:\n"+snap.ClinicalContext,
		"Lab results:\n"+render(snap.LabResults),
	)
	return complete(ctx, s.analyst, s.Name(), p)
}

// Dietary assesses intake against estimated requirements.
type Dietary struct {
	analyst Analyst
	opts    options
}

func NewDietary(analyst Analyst, opts ...Option) *Dietary {
	return &Dietary{analyst: analyst, opts: buildOptions(opts)}
}

func (s *Dietary) Name() string     { return NameDietary }
func (s *Dietary) DataType() string { return DataDietary }

func (s *Dietary) Snapshot(in Input) any { return in.Record }

func (s *Dietary) Run(ctx context.Context, in Input) (string, error) {
	p := prompt(dietaryRole, "Assess the dietary intake and needs for the following patient:", s.opts.language, render(in.Record))
	return complete(ctx, s.analyst, s.Name(), p)
}
