package patient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDocuments(t *testing.T, raw string) []RawDocument {
	t.Helper()
	var docs []RawDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &docs))
	return docs
}

func TestConsolidate(t *testing.T) {
	docs := decodeDocuments(t, `[
		{"document_type": "会诊记录", "department": "营养科", "NRS2002_score": "4分",
		 "人体测量": {"身高": "168cm", "体重": 50.5},
		 "主要诊断": ["胃恶性肿瘤", "重度营养不良"]},
		{"document_type": "生化检查", "items": [{"name": "白蛋白", "value": 28.1, "unit": "g/L"}]},
		{"document_type": "血常规", "indicators": [{"name": "HGB", "value": "95", "unit": "g/L"}],
		 "patient_info": {"height_cm": 170, "age": 63}},
		{"document_type": "病历", "data": {"主要诊断": ["胃恶性肿瘤"], "主要症状": "进食减少", "治疗方案": "化疗"}},
		{"病历": {"主要诊断": ["贫血"], "主要症状": ["乏力"], "人体测量": {"BMI": 17.9}}}
	]`)

	r := Consolidate(docs)

	t.Run("result passes validation", func(t *testing.T) {
		assert.True(t, Validate(r).IsValid)
	})

	t.Run("consultation measurements and later fill-only info", func(t *testing.T) {
		assert.Equal(t, 168.0, r.PatientInfo.HeightCM.Float())
		assert.Equal(t, 50.5, r.PatientInfo.WeightKG.Float())
		assert.Equal(t, 63.0, r.PatientInfo.Age.Float())
		assert.Equal(t, 17.9, r.PatientInfo.BMI.Float())
	})

	t.Run("diagnoses are deduplicated by description", func(t *testing.T) {
		descriptions := make([]string, 0, len(r.Diagnoses))
		for _, d := range r.Diagnoses {
			descriptions = append(descriptions, d.Description)
		}
		assert.Equal(t, []string{"胃恶性肿瘤", "重度营养不良", "贫血"}, descriptions)
		assert.Equal(t, DiagnosisFromConsultation, r.Diagnoses[0].Type)
	})

	t.Run("lab items land in their categories", func(t *testing.T) {
		require.Len(t, r.LabResults[LabBiochemistry], 1)
		assert.Equal(t, Text("28.1"), r.LabResults[LabBiochemistry][0].Value)
		require.Len(t, r.LabResults[LabCompleteBloodCount], 1)
		assert.Empty(t, r.LabResults[LabStoolRoutine])
	})

	t.Run("consultation fields, symptoms and plan", func(t *testing.T) {
		assert.Equal(t, 4.0, r.ConsultationRecord.NRS2002Score.Float())
		assert.Equal(t, "营养科", *r.ConsultationRecord.Department)
		assert.Equal(t, []string{"进食减少", "乏力"}, r.SymptomsAndHistory.Notes)
		assert.Equal(t, "化疗", *r.TreatmentPlan.Summary)
	})
}

func TestConsolidateEmptyList(t *testing.T) {
	r := Consolidate(nil)
	result := Validate(r)
	assert.True(t, result.IsValid)
	assert.Empty(t, r.Diagnoses)
}
