package ingest

import (
	"slices"

	"cna/internal/patient"
)

// EmptyRecord returns the canonical schema with every block present: nullable
// scalars unset and list fields empty.
func EmptyRecord() *patient.Record {
	return &patient.Record{
		PatientInfo: &patient.Info{},
		Diagnoses:   []patient.Diagnosis{},
		LabResults: patient.LabResults{
			patient.LabBiochemistry:       []patient.LabItem{},
			patient.LabCompleteBloodCount: []patient.LabItem{},
			patient.LabStoolRoutine:       []patient.LabItem{},
		},
		SymptomsAndHistory: &patient.SymptomsAndHistory{},
		TreatmentPlan:      &patient.TreatmentPlan{KeyMedications: []string{}},
		ConsultationRecord: &patient.ConsultationRecord{},
	}
}

// Integrate folds the successful documents, in order, into one canonical record.
// Earlier documents win for scalars; lists accumulate without duplicates.
func Integrate(docs []Document) *patient.Record {
	out := EmptyRecord()
	for _, d := range docs {
		if d.Success && d.Data != nil {
			patient.Merge(out, d.Data)
		}
	}
	return out
}

// NewResult assembles a Result from per-item documents.
func NewResult(docs []Document) *Result {
	r := &Result{
		TotalImages:   len(docs),
		DocumentTypes: map[string]int{},
		Documents:     docs,
		Integrated:    Integrate(docs),
	}
	for _, d := range docs {
		if !d.Success {
			continue
		}
		r.Successful++
		r.DocumentTypes[NormalizeType(d.DocumentType)]++
	}
	return r
}

// NormalizeType maps unknown or empty tags to OtherDocument.
func NormalizeType(t string) string {
	if slices.Contains(DocumentTypes, t) {
		return t
	}
	return OtherDocument
}
