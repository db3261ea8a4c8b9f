package patient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is the canonical patient aggregate fed to every analysis stage.
// Nil pointers and nil collections mean "absent", which the validator relies on.
type Record struct {
	PatientInfo        *Info               `json:"patient_info,omitempty"`
	Diagnoses          []Diagnosis         `json:"diagnoses,omitempty"`
	LabResults         LabResults          `json:"lab_results,omitempty"`
	SymptomsAndHistory *SymptomsAndHistory `json:"symptoms_and_history,omitempty"`
	TreatmentPlan      *TreatmentPlan      `json:"treatment_plan,omitempty"`
	ConsultationRecord *ConsultationRecord `json:"consultation_record,omitempty"`
}

// Info holds identity and anthropometric fields.
type Info struct {
	Name     *string   `json:"name,omitempty"`
	Gender   *string   `json:"gender,omitempty"`
	Age      *Quantity `json:"age,omitempty"`
	HeightCM *Quantity `json:"height_cm,omitempty"`
	WeightKG *Quantity `json:"weight_kg,omitempty"`
	BMI      *Quantity `json:"bmi,omitempty"`
}

type Diagnosis struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
}

// Lab result categories the extraction prompt asks for.
const (
	LabBiochemistry       = "biochemistry"
	LabCompleteBloodCount = "complete_blood_count"
	LabStoolRoutine       = "stool_routine"
)

// LabResults maps a category (biochemistry, complete_blood_count, ...) to its items.
type LabResults map[string][]LabItem

type LabItem struct {
	Name           string `json:"name"`
	Value          Text   `json:"value,omitempty"`
	Unit           string `json:"unit,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
}

type SymptomsAndHistory struct {
	ChiefComplaint *string `json:"chief_complaint,omitempty"`
	HistorySummary *string `json:"history_of_present_illness_summary,omitempty"`
	// Notes collects free-form symptom text lifted from other documents.
	Notes []string `json:"notes,omitempty"`
}

type TreatmentPlan struct {
	Summary        *string  `json:"summary,omitempty"`
	KeyMedications []string `json:"key_medications,omitempty"`
}

type ConsultationRecord struct {
	Department            *string   `json:"department,omitempty"`
	Purpose               *string   `json:"purpose,omitempty"`
	FindingsAndConclusion *string   `json:"findings_and_conclusion,omitempty"`
	Recommendations       *string   `json:"recommendations,omitempty"`
	NRS2002Score          *Quantity `json:"NRS2002_score,omitempty"`
	PESStatementSummary   *string   `json:"PES_statement_summary,omitempty"`
}

// ErrNoNumber is returned for quantity strings without any number, such as
// "" or "未测". Record fields treat them as absent.
var ErrNoNumber = errors.New("no numeric value")

// Quantity is a numeric measurement. It accepts JSON numbers and numeric strings
// with trailing units ("170cm", "65.5 kg"), which extracted documents often carry.
type Quantity float64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*q = Quantity(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("quantity must be a number or numeric string: %w", err)
	}
	f, ok := ParseLeadingNumber(s)
	if !ok {
		return fmt.Errorf("quantity %q: %w", s, ErrNoNumber)
	}
	*q = Quantity(f)
	return nil
}

// OptionalQuantity decodes raw into a quantity. Null, missing and non-numeric
// strings yield nil; other malformed values are errors.
func OptionalQuantity(raw json.RawMessage) (*Quantity, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var q Quantity
	if err := json.Unmarshal(trimmed, &q); err != nil {
		if errors.Is(err, ErrNoNumber) {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

// UnmarshalJSON leaves measurements unset when their text carries no number.
func (i *Info) UnmarshalJSON(data []byte) error {
	type plain Info
	aux := struct {
		*plain
		Age      json.RawMessage `json:"age"`
		HeightCM json.RawMessage `json:"height_cm"`
		WeightKG json.RawMessage `json:"weight_kg"`
		BMI      json.RawMessage `json:"bmi"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		raw  json.RawMessage
		dst  **Quantity
	}{
		{"age", aux.Age, &i.Age},
		{"height_cm", aux.HeightCM, &i.HeightCM},
		{"weight_kg", aux.WeightKG, &i.WeightKG},
		{"bmi", aux.BMI, &i.BMI},
	} {
		q, err := OptionalQuantity(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = q
	}
	return nil
}

// UnmarshalJSON leaves NRS2002_score unset when its text carries no number.
func (c *ConsultationRecord) UnmarshalJSON(data []byte) error {
	type plain ConsultationRecord
	aux := struct {
		*plain
		NRS2002Score json.RawMessage `json:"NRS2002_score"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	q, err := OptionalQuantity(aux.NRS2002Score)
	if err != nil {
		return fmt.Errorf("NRS2002_score: %w", err)
	}
	c.NRS2002Score = q
	return nil
}

// Float returns q as float64; a nil receiver yields 0.
func (q *Quantity) Float() float64 {
	if q == nil {
		return 0
	}
	return float64(*q)
}

// ParseLeadingNumber reads the first decimal number in s, ignoring surrounding units.
func ParseLeadingNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	start := strings.IndexFunc(s, func(r rune) bool {
		return (r >= '0' && r <= '9') || r == '-' || r == '.'
	})
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == start && c == '-') {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Text is a lab value rendered as a string. Extractions emit numbers, strings or
// booleans for the same field, so all of them decode into their textual form.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*t = Text(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*t = Text(strconv.FormatBool(v))
	default:
		*t = Text(bytes.TrimSpace(data))
	}
	return nil
}

// UnmarshalJSON accepts each category either as a list of items or as an object
// mapping indicator names to values, which hand-written inputs commonly use.
func (l *LabResults) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lab_results must be an object: %w", err)
	}
	out := make(LabResults, len(raw))
	for category, body := range raw {
		items, err := decodeLabItems(body)
		if err != nil {
			return fmt.Errorf("lab_results.%s: %w", category, err)
		}
		out[category] = items
	}
	*l = out
	return nil
}

func decodeLabItems(body json.RawMessage) ([]LabItem, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		items := []LabItem{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var byName map[string]Text
	if err := json.Unmarshal(trimmed, &byName); err != nil {
		return nil, fmt.Errorf("expected a list of items or a name/value object: %w", err)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]LabItem, 0, len(names))
	for _, name := range names {
		items = append(items, LabItem{Name: name, Value: byName[name]})
	}
	return items, nil
}
