package patient

import (
	"strings"

	platformstrings "cna/pkg/platform/strings"
)

// Merge folds extracted data from src into dst without destroying what dst
// already holds: scalars are filled only when unset and lists only grow,
// skipping entries dst already has. Merging the same src twice is a no-op the
// second time.
func Merge(dst, src *Record) {
	if dst == nil || src == nil {
		return
	}

	if src.PatientInfo != nil {
		if dst.PatientInfo == nil {
			dst.PatientInfo = &Info{}
		}
		mergeInfo(dst.PatientInfo, src.PatientInfo)
	}

	dst.Diagnoses = mergeDiagnoses(dst.Diagnoses, src.Diagnoses)

	for category, items := range src.LabResults {
		if len(items) == 0 {
			continue
		}
		if dst.LabResults == nil {
			dst.LabResults = LabResults{}
		}
		dst.LabResults[category] = mergeLabItems(dst.LabResults[category], items)
	}

	if s := src.SymptomsAndHistory; s != nil {
		if dst.SymptomsAndHistory == nil {
			dst.SymptomsAndHistory = &SymptomsAndHistory{}
		}
		d := dst.SymptomsAndHistory
		fillString(&d.ChiefComplaint, s.ChiefComplaint)
		fillString(&d.HistorySummary, s.HistorySummary)
		d.Notes = platformstrings.AppendUnique(d.Notes, s.Notes)
	}

	if t := src.TreatmentPlan; t != nil {
		if dst.TreatmentPlan == nil {
			dst.TreatmentPlan = &TreatmentPlan{}
		}
		d := dst.TreatmentPlan
		fillString(&d.Summary, t.Summary)
		d.KeyMedications = platformstrings.AppendUnique(d.KeyMedications, t.KeyMedications)
	}

	if c := src.ConsultationRecord; c != nil {
		if dst.ConsultationRecord == nil {
			dst.ConsultationRecord = &ConsultationRecord{}
		}
		d := dst.ConsultationRecord
		fillString(&d.Department, c.Department)
		fillString(&d.Purpose, c.Purpose)
		fillString(&d.FindingsAndConclusion, c.FindingsAndConclusion)
		fillString(&d.Recommendations, c.Recommendations)
		fill(&d.NRS2002Score, c.NRS2002Score)
		fillString(&d.PESStatementSummary, c.PESStatementSummary)
	}
}

func mergeInfo(dst, src *Info) {
	fillString(&dst.Name, src.Name)
	fillString(&dst.Gender, src.Gender)
	fill(&dst.Age, src.Age)
	fill(&dst.HeightCM, src.HeightCM)
	fill(&dst.WeightKG, src.WeightKG)
	fill(&dst.BMI, src.BMI)
}

func fill[T any](dst **T, src *T) {
	if *dst != nil || src == nil {
		return
	}
	v := *src
	*dst = &v
}

func fillString(dst **string, src *string) {
	if src == nil || strings.TrimSpace(*src) == "" {
		return
	}
	fill(dst, src)
}

func mergeDiagnoses(dst, src []Diagnosis) []Diagnosis {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, d := range dst {
		seen[diagnosisKey(d)] = struct{}{}
	}
	for _, d := range src {
		key := diagnosisKey(d)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, d)
	}
	return dst
}

func diagnosisKey(d Diagnosis) string {
	return strings.TrimSpace(d.Description)
}

// DedupeDiagnoses drops repeated descriptions, keeping the first occurrence.
func DedupeDiagnoses(in []Diagnosis) []Diagnosis {
	if in == nil {
		return nil
	}
	return mergeDiagnoses(make([]Diagnosis, 0, len(in)), in)
}

func mergeLabItems(dst, src []LabItem) []LabItem {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, it := range dst {
		seen[labKey(it)] = struct{}{}
	}
	for _, it := range src {
		key := labKey(it)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, it)
	}
	return dst
}

func labKey(it LabItem) string {
	return strings.TrimSpace(it.Name) + "\x00" + strings.TrimSpace(string(it.Value)) + "\x00" + strings.TrimSpace(it.Unit)
}
