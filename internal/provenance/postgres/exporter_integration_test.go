//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"cna/internal/provenance"
	"cna/internal/provenance/postgres"
	"cna/pkg/testutil/containers"
)

type ExporterSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	exporter *postgres.Exporter
}

func TestExporterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ExporterSuite))
}

func (s *ExporterSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.exporter = postgres.New(s.postgres.DB)
	s.Require().NoError(s.exporter.EnsureSchema(context.Background()))
}

func (s *ExporterSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "trace_records"))
}

// TestExportsTracerRecords verifies a tracer wired with the exporter persists its lineage.
func (s *ExporterSuite) TestExportsTracerRecords() {
	ctx := context.Background()
	tracer := provenance.New("session-pg", nil, provenance.WithExporter(s.exporter))

	first, err := tracer.Record(ctx, provenance.Entry{Stage: "ClinicalContextAnalyzer", DataType: "clinical_analysis", Output: "ctx"})
	s.Require().NoError(err)
	second, err := tracer.Record(ctx, provenance.Entry{Stage: "DietaryAssessor", DataType: "dietary_assessment", Output: "diet", Dependencies: []string{first}})
	s.Require().NoError(err)

	records, err := s.exporter.ListSession(ctx, "session-pg")
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(first, records[0].ID)
	s.Equal(second, records[1].ID)
	s.Equal([]string{first}, records[1].Dependencies)
	s.JSONEq(`"diet"`, string(records[1].Output))
}

// TestExportIsIdempotent verifies duplicate ids are ignored.
func (s *ExporterSuite) TestExportIsIdempotent() {
	ctx := context.Background()
	record := provenance.Record{ID: "Stage_type_0000abcd", SessionID: "session-dup", Stage: "Stage", DataType: "type"}

	s.Require().NoError(s.exporter.Export(ctx, record))
	s.Require().NoError(s.exporter.Export(ctx, record))

	records, err := s.exporter.ListSession(ctx, "session-dup")
	s.Require().NoError(err)
	s.Len(records, 1)
	s.JSONEq(`null`, string(records[0].Input))
}
