package stage

import (
	"context"
	"fmt"
	"strings"
)

// NoData stands in for an artifact that was never produced.
const NoData = "no data"

const reporterRole = `You are a clinical nutrition diagnostic reporting specialist. Synthesize the clinical
context, anthropometric, biochemical and dietary analyses into one complete, professional
nutrition diagnosis report written in natural prose. Do not use markdown markers such as
asterisks or hash signs and do not open with an introductory sentence.`

var reportSections = []string{
	"Patient summary",
	"Nutritional risk level",
	"Key assessment findings",
	"Nutrition diagnosis (PES format)",
	"Main nutrition problems",
	"Nutrition therapy goals (SMART)",
	"Nutrition interventions",
}

// Reporter is the terminal synthesis stage.
type Reporter struct {
	analyst Analyst
	opts    options
}

func NewReporter(analyst Analyst, opts ...Option) *Reporter {
	return &Reporter{analyst: analyst, opts: buildOptions(opts)}
}

func (s *Reporter) Name() string     { return NameReporter }
func (s *Reporter) DataType() string { return DataReport }

// Snapshot records the four artifacts the report was written from.
func (s *Reporter) Snapshot(in Input) any {
	return map[string]string{
		ArtifactClinical:       artifact(in.Upstream, ArtifactClinical),
		ArtifactAnthropometric: artifact(in.Upstream, ArtifactAnthropometric),
		ArtifactBiochemical:    artifact(in.Upstream, ArtifactBiochemical),
		ArtifactDietary:        artifact(in.Upstream, ArtifactDietary),
	}
}

func (s *Reporter) Run(ctx context.Context, in Input) (string, error) {
	var structure strings.Builder
	for i, title := range reportSections {
		fmt.Fprintf(&structure, "%d. %s\n", i+1, title)
	}
	p := prompt(reporterRole,
		"Write the report from the assessments below. Use exactly these section titles in this order, each followed directly by its content and separated by a blank line:\n"+structure.String(),
		s.opts.language,
		"Clinical context analysis:\n"+artifact(in.Upstream, ArtifactClinical),
		"Anthropometric evaluation:\n"+artifact(in.Upstream, ArtifactAnthropometric),
		"Biochemical interpretation:\n"+artifact(in.Upstream, ArtifactBiochemical),
		"Dietary assessment:\n"+artifact(in.Upstream, ArtifactDietary),
	)
	out, err := complete(ctx, s.analyst, s.Name(), p)
	if err != nil {
		return "", err
	}
	return CleanReport(out), nil
}

var markdownMarkers = strings.NewReplacer("####", "", "###", "", "*", "")

// CleanReport strips markdown heading and emphasis markers from a report.
func CleanReport(text string) string {
	return strings.TrimSpace(markdownMarkers.Replace(text))
}

func artifact(upstream map[string]string, key string) string {
	if v, ok := upstream[key]; ok && v != "" {
		return v
	}
	return NoData
}
