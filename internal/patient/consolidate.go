package patient

import (
	"bytes"
	"encoding/json"
	"strings"

	platformstrings "cna/pkg/platform/strings"
)

// Document types emitted by the upstream per-document extraction service.
const (
	DocConsultation  = "会诊记录"
	DocBiochemistry  = "生化检查"
	DocBloodCount    = "血常规"
	DocMedicalRecord = "病历"
)

// Diagnosis type labels attached to diagnoses lifted from each document kind.
const (
	DiagnosisFromConsultation = "会诊诊断"
	DiagnosisFromRecord       = "病历诊断"
)

const (
	keyDocumentType  = "document_type"
	keyAnthropometry = "人体测量"
	keyMainDiagnoses = "主要诊断"
	keyMainSymptoms  = "主要症状"
	keyTreatment     = "治疗方案"
	keyItems         = "items"
	keyIndicators    = "indicators"
	keyPatientInfo   = "patient_info"
	keyData          = "data"
)

// RawDocument is one per-document extract as produced upstream.
type RawDocument map[string]json.RawMessage

// Type returns the document_type tag, or "" when absent.
func (d RawDocument) Type() string {
	var s string
	_ = json.Unmarshal(d[keyDocumentType], &s)
	return s
}

// Consolidate folds a list of per-document extracts into a single record.
// The result always carries the required top-level blocks, possibly empty.
func Consolidate(docs []RawDocument) *Record {
	r := &Record{
		PatientInfo: &Info{},
		Diagnoses:   []Diagnosis{},
		LabResults: LabResults{
			LabBiochemistry:       []LabItem{},
			LabCompleteBloodCount: []LabItem{},
			LabStoolRoutine:       []LabItem{},
		},
		SymptomsAndHistory: &SymptomsAndHistory{},
		TreatmentPlan:      &TreatmentPlan{},
		ConsultationRecord: &ConsultationRecord{},
	}

	for _, doc := range docs {
		switch doc.Type() {
		case DocConsultation:
			var c ConsultationRecord
			if json.Unmarshal(encodeDocument(doc), &c) == nil {
				Merge(r, &Record{ConsultationRecord: &c})
			}
			if info := measurements(doc[keyAnthropometry]); info != nil {
				overwriteInfo(r.PatientInfo, info)
			}
			r.Diagnoses = append(r.Diagnoses, diagnosesOf(doc[keyMainDiagnoses], DiagnosisFromConsultation)...)

		case DocBiochemistry:
			if items, err := decodeLabItems(doc[keyItems]); err == nil {
				r.LabResults[LabBiochemistry] = append(r.LabResults[LabBiochemistry], items...)
			}

		case DocBloodCount:
			if items, err := decodeLabItems(doc[keyIndicators]); err == nil {
				r.LabResults[LabCompleteBloodCount] = append(r.LabResults[LabCompleteBloodCount], items...)
			}
			if info := measurements(doc[keyPatientInfo]); info != nil {
				mergeInfo(r.PatientInfo, info)
			}

		case DocMedicalRecord:
			if data := objectOf(doc[keyData]); data != nil {
				consolidateMedicalRecord(r, data, false)
			}

		default:
			if record := objectOf(doc[DocMedicalRecord]); record != nil {
				consolidateMedicalRecord(r, record, true)
			}
		}
	}

	r.Diagnoses = DedupeDiagnoses(r.Diagnoses)
	return r
}

func consolidateMedicalRecord(r *Record, doc RawDocument, withMeasurements bool) {
	r.Diagnoses = append(r.Diagnoses, diagnosesOf(doc[keyMainDiagnoses], DiagnosisFromRecord)...)
	r.SymptomsAndHistory.Notes = platformstrings.AppendUnique(r.SymptomsAndHistory.Notes, stringsOf(doc[keyMainSymptoms]))
	if plan := textOf(doc[keyTreatment]); plan != "" {
		r.TreatmentPlan.Summary = &plan
	}
	if withMeasurements {
		if info := measurements(doc[keyAnthropometry]); info != nil {
			mergeInfo(r.PatientInfo, info)
		}
	}
}

// overwriteInfo copies every set field of src into dst. Consultation records
// carry the most recent measurements, so they win over earlier documents.
func overwriteInfo(dst, src *Info) {
	for _, pair := range []struct{ d, s **Quantity }{
		{&dst.Age, &src.Age}, {&dst.HeightCM, &src.HeightCM}, {&dst.WeightKG, &src.WeightKG}, {&dst.BMI, &src.BMI},
	} {
		if *pair.s != nil {
			v := **pair.s
			*pair.d = &v
		}
	}
	if src.Name != nil {
		dst.Name = src.Name
	}
	if src.Gender != nil {
		dst.Gender = src.Gender
	}
}

var measurementAliases = map[string]string{
	"height_cm": "height_cm", "height": "height_cm", "身高": "height_cm",
	"weight_kg": "weight_kg", "weight": "weight_kg", "体重": "weight_kg",
	"bmi": "bmi", "BMI": "bmi",
	"age": "age", "年龄": "age",
	"name": "name", "姓名": "name",
	"gender": "gender", "性别": "gender",
}

// measurements decodes an anthropometry block keyed by English or Chinese labels.
func measurements(raw json.RawMessage) *Info {
	obj := objectOf(raw)
	if obj == nil {
		return nil
	}
	info := &Info{}
	found := false
	for key, value := range obj {
		canonical, ok := measurementAliases[key]
		if !ok {
			continue
		}
		switch canonical {
		case "name", "gender":
			s := textOf(value)
			if s == "" {
				continue
			}
			if canonical == "name" {
				info.Name = &s
			} else {
				info.Gender = &s
			}
		default:
			q, err := OptionalQuantity(value)
			if err != nil || q == nil {
				continue
			}
			switch canonical {
			case "height_cm":
				info.HeightCM = q
			case "weight_kg":
				info.WeightKG = q
			case "bmi":
				info.BMI = q
			case "age":
				info.Age = q
			}
		}
		found = true
	}
	if !found {
		return nil
	}
	return info
}

func diagnosesOf(raw json.RawMessage, kind string) []Diagnosis {
	descriptions := stringsOf(raw)
	out := make([]Diagnosis, 0, len(descriptions))
	for _, d := range descriptions {
		out = append(out, Diagnosis{Type: kind, Description: d})
	}
	return out
}

// stringsOf accepts a string or a list of strings.
func stringsOf(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return platformstrings.DedupeAndTrim(list)
	}
	if s := textOf(raw); s != "" {
		return []string{s}
	}
	return nil
}

// textOf renders a string as-is and any other JSON value compactly.
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func objectOf(raw json.RawMessage) RawDocument {
	if len(raw) == 0 {
		return nil
	}
	var obj RawDocument
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func encodeDocument(doc RawDocument) []byte {
	b, _ := json.Marshal(doc)
	return b
}
