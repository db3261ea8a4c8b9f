package patient

// Required top-level fields. Their absence blocks the pipeline.
const (
	FieldPatientInfo = "patient_info"
	FieldDiagnoses   = "diagnoses"
	FieldLabResults  = "lab_results"
)

// ValidationResult reports whether a record may enter the pipeline.
type ValidationResult struct {
	IsValid       bool     `json:"isValid"`
	MissingFields []string `json:"missingFields"`
	Warnings      []string `json:"warnings"`
}

// Validate checks the required top-level fields and records missing optional
// sub-fields as warnings. It never mutates the record.
func Validate(r *Record) ValidationResult {
	result := ValidationResult{
		IsValid:       true,
		MissingFields: []string{},
		Warnings:      []string{},
	}
	if r == nil {
		r = &Record{}
	}

	if r.PatientInfo == nil {
		result.missing(FieldPatientInfo)
	}
	if r.Diagnoses == nil {
		result.missing(FieldDiagnoses)
	}
	if r.LabResults == nil {
		result.missing(FieldLabResults)
	}

	if info := r.PatientInfo; info != nil {
		if info.HeightCM == nil {
			result.warn("patient_info.height_cm is missing")
		}
		if info.WeightKG == nil {
			result.warn("patient_info.weight_kg is missing")
		}
	}

	if labs := r.LabResults; labs != nil {
		if _, ok := labs[LabBiochemistry]; !ok {
			result.warn("biochemistry results are missing")
		}
		if _, ok := labs[LabCompleteBloodCount]; !ok {
			result.warn("complete blood count results are missing")
		}
	}

	if c := r.ConsultationRecord; c != nil && c.NRS2002Score == nil {
		result.warn("NRS2002 risk score is missing")
	}

	return result
}

func (v *ValidationResult) missing(field string) {
	v.IsValid = false
	v.MissingFields = append(v.MissingFields, field)
}

func (v *ValidationResult) warn(msg string) {
	v.Warnings = append(v.Warnings, msg)
}
