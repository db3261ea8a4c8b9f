package stage_test

//go:generate mockgen -source=stage.go -destination=mocks/mocks.go -package=mocks Analyst,Stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"cna/internal/patient"
	"cna/internal/stage"
	"cna/internal/stage/mocks"
)

type StageSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	analyst *mocks.MockAnalyst
	ctx     context.Context
	record  *patient.Record
}

func TestStageSuite(t *testing.T) {
	suite.Run(t, new(StageSuite))
}

func (s *StageSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.analyst = mocks.NewMockAnalyst(s.ctrl)
	s.ctx = context.Background()
	height := patient.Quantity(170)
	s.record = &patient.Record{
		PatientInfo: &patient.Info{HeightCM: &height},
		Diagnoses:   []patient.Diagnosis{{Description: "gastric cancer"}},
		LabResults: patient.LabResults{
			patient.LabBiochemistry: {{Name: "ALB", Value: "28", Unit: "g/L"}},
		},
	}
}

func (s *StageSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *StageSuite) TestIdentity() {
	cases := []struct {
		stage    stage.Stage
		name     string
		dataType string
	}{
		{stage.NewClinical(s.analyst), "ClinicalContextAnalyzer", "clinical_analysis"},
		{stage.NewAnthropometric(s.analyst), "AnthropometricEvaluator", "anthropometric_eval"},
		{stage.NewBiochemical(s.analyst), "BiochemicalInterpreter", "biochemical_interp"},
		{stage.NewDietary(s.analyst), "DietaryAssessor", "dietary_assessment"},
		{stage.NewReporter(s.analyst), "DiagnosticReporter", "final_report"},
	}
	for _, tc := range cases {
		s.Equal(tc.name, tc.stage.Name())
		s.Equal(tc.dataType, tc.stage.DataType())
	}
}

func (s *StageSuite) TestAnalysisPrompts() {
	s.Run("clinical prompt carries the record and language", func() {
		s.analyst.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, prompt string) (string, error) {
				s.Contains(prompt, "gastric cancer")
				s.Contains(prompt, "Write your answer in English.")
				return "clinical summary", nil
			})

		out, err := stage.NewClinical(s.analyst, stage.WithLanguage("English")).Run(s.ctx, stage.Input{Record: s.record})
		s.Require().NoError(err)
		s.Equal("clinical summary", out)
	})

	s.Run("default language is Chinese", func() {
		s.analyst.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, prompt string) (string, error) {
				s.Contains(prompt, "Write your answer in Chinese.")
				return "diet", nil
			})
		_, err := stage.NewDietary(s.analyst).Run(s.ctx, stage.Input{Record: s.record})
		s.Require().NoError(err)
	})

	s.Run("biochemical prompt uses the clinical artifact", func() {
		s.analyst.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, prompt string) (string, error) {
				s.Contains(prompt, "inflammatory state")
				s.Contains(prompt, "ALB")
				return "labs", nil
			})

		in := stage.Input{Record: s.record, Upstream: map[string]string{stage.ArtifactClinical: "inflammatory state"}}
		_, err := stage.NewBiochemical(s.analyst).Run(s.ctx, in)
		s.Require().NoError(err)
	})

	s.Run("collaborator errors are wrapped with the stage name", func() {
		s.analyst.EXPECT().Complete(gomock.Any(), gomock.Any()).Return("", errors.New("quota exceeded"))
		_, err := stage.NewAnthropometric(s.analyst).Run(s.ctx, stage.Input{Record: s.record})
		s.Require().Error(err)
		s.Contains(err.Error(), "AnthropometricEvaluator")
		s.Contains(err.Error(), "quota exceeded")
	})
}

func (s *StageSuite) TestSnapshots() {
	s.Run("biochemical snapshot holds labs and clinical context", func() {
		in := stage.Input{Record: s.record, Upstream: map[string]string{stage.ArtifactClinical: "ctx"}}
		snap := stage.NewBiochemical(s.analyst).Snapshot(in)
		s.NotNil(snap)
	})

	s.Run("reporter snapshot fills missing artifacts with the no-data marker", func() {
		snap := stage.NewReporter(s.analyst).Snapshot(stage.Input{Upstream: map[string]string{stage.ArtifactClinical: "ctx"}})
		m, ok := snap.(map[string]string)
		s.Require().True(ok)
		s.Equal("ctx", m[stage.ArtifactClinical])
		s.Equal(stage.NoData, m[stage.ArtifactDietary])
	})
}

func (s *StageSuite) TestReporter() {
	s.analyst.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, prompt string) (string, error) {
			s.Contains(prompt, "Nutrition diagnosis (PES format)")
			s.Contains(prompt, "anthro")
			return "#### Patient summary\n**Severe** risk\n### Goals", nil
		})

	in := stage.Input{Upstream: map[string]string{
		stage.ArtifactClinical:       "clinical",
		stage.ArtifactAnthropometric: "anthro",
		stage.ArtifactBiochemical:    "labs",
		stage.ArtifactDietary:        "diet",
	}}
	out, err := stage.NewReporter(s.analyst).Run(s.ctx, in)
	s.Require().NoError(err)
	s.Equal("Patient summary\nSevere risk\n Goals", out)
}

func (s *StageSuite) TestCleanReport() {
	s.Equal("plain text", stage.CleanReport("  *plain* text \n"))
	s.Equal("", stage.CleanReport("###"))
}
