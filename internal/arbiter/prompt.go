package arbiter

import (
	"fmt"
	"strings"
)

const reviewTemplate = `Review the following assessments produced by the clinical nutrition team and decide whether
they contain SEVERE logical conflicts that make a reliable report impossible.

Clinical context analysis:
%s

Anthropometric evaluation:
%s

Biochemical interpretation:
%s

Dietary assessment:
%s

Rules:
- Only severe, fundamental contradictions may stop the assessment (proceed_to_final_report=false).
- Minor numeric differences (for example weight loss percentages differing by 1-2%%), different
  phrasing and incomplete data must NOT stop the assessment. Record them in conflicts_detected or
  recommendations and keep proceed_to_final_report=true.
- Some divergence in medical interpretation is normal.

Examples of severe conflicts:
- one assessment concludes malnutrition while another concludes good nutritional status
- energy requirement estimates differ by more than 50%%
- key indicators are interpreted in opposite, irreconcilable ways

Answer in %s with exactly one JSON object:
{
  "has_conflicts": true or false,
  "conflicts_detected": ["conflict descriptions"],
  "data_quality_issues": ["data quality issues"],
  "recommendations": ["recommendations"],
  "proceed_to_final_report": true or false
}`

// BuildPrompt renders the consolidated review prompt.
func BuildPrompt(outputs Outputs, language string) string {
	o := outputs.withDefaults()
	return strings.TrimSpace(fmt.Sprintf(reviewTemplate,
		o.Clinical, o.Anthropometric, o.Biochemical, o.Dietary, language))
}
