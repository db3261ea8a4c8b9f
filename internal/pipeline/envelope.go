package pipeline

import (
	"time"

	"github.com/google/uuid"

	"cna/internal/arbiter"
	"cna/internal/ingest"
	"cna/internal/patient"
	dErrors "cna/pkg/domain-errors"
)

// Status is the outcome class of a session.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusConflict  Status = "conflict_abort"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
)

// Error types reported at the process boundary.
const (
	ErrorTypeInputFormat    = "InputFormatError"
	ErrorTypeValidation     = "ValidationError"
	ErrorTypeStageExecution = "StageExecutionError"
	ErrorTypeInternal       = "InternalError"
)

const (
	msgValidationFailed = "patient data validation failed"
	msgConflictAbort    = "severe conflicts between analyses; final report not generated"
)

// Result is everything a session produced. Envelope renders it for the caller.
type Result struct {
	Status    Status
	SessionID string
	State     State

	Report              string
	AssessmentTimestamp time.Time
	Elapsed             time.Duration
	Validation          *patient.ValidationResult
	Verdict             *arbiter.Verdict
	Trace               TraceSummary
	Ingestion           *ingest.Result
	ConflictTraceID     string

	Err          error
	LastTraceID  string
	ErrorTraceID string
}

// Failed reports whether the envelope carries an error field.
func (r *Result) Failed() bool {
	return r.Status != StatusCompleted
}

type TraceSummary struct {
	TotalSteps           int      `json:"totalSteps"`
	FinalReportTraceID   string   `json:"finalReportTraceId"`
	ConflictTraceID      string   `json:"conflictTraceId"`
	IntermediateTraceIDs []string `json:"intermediateTraceIds"`
}

type SuccessEnvelope struct {
	Report              string                   `json:"report"`
	SessionID           string                   `json:"sessionId"`
	AssessmentTimestamp string                   `json:"assessmentTimestamp"`
	ElapsedSeconds      float64                  `json:"elapsedSeconds"`
	ValidationResult    patient.ValidationResult `json:"validationResult"`
	ConflictVerdict     arbiter.Verdict          `json:"conflictVerdict"`
	TraceSummary        TraceSummary             `json:"traceSummary"`
	IngestionResults    *ingest.Result           `json:"ingestionResults,omitempty"`
}

type ConflictEnvelope struct {
	Error           string          `json:"error"`
	ConflictVerdict arbiter.Verdict `json:"conflictVerdict"`
	SessionID       string          `json:"sessionId"`
	ConflictTraceID string          `json:"conflictTraceId"`
}

type InvalidEnvelope struct {
	Error             string                   `json:"error"`
	ErrorType         string                   `json:"errorType"`
	ValidationResults patient.ValidationResult `json:"validationResults"`
	SessionID         string                   `json:"sessionId"`
}

type FailureEnvelope struct {
	Error             string                    `json:"error"`
	ErrorType         string                    `json:"errorType"`
	SessionID         string                    `json:"sessionId"`
	LastTraceID       string                    `json:"lastTraceId,omitempty"`
	ErrorTraceID      string                    `json:"errorTraceId,omitempty"`
	ValidationResults *patient.ValidationResult `json:"validationResults,omitempty"`
}

// Envelope returns the JSON object written to the caller.
func (r *Result) Envelope() any {
	switch r.Status {
	case StatusCompleted:
		env := SuccessEnvelope{
			Report:              r.Report,
			SessionID:           r.SessionID,
			AssessmentTimestamp: r.AssessmentTimestamp.Format(time.RFC3339Nano),
			ElapsedSeconds:      r.Elapsed.Seconds(),
			TraceSummary:        r.Trace,
			IngestionResults:    r.Ingestion,
		}
		if r.Validation != nil {
			env.ValidationResult = *r.Validation
		}
		if r.Verdict != nil {
			env.ConflictVerdict = *r.Verdict
		}
		return env
	case StatusConflict:
		env := ConflictEnvelope{
			Error:           msgConflictAbort,
			SessionID:       r.SessionID,
			ConflictTraceID: r.ConflictTraceID,
		}
		if r.Verdict != nil {
			env.ConflictVerdict = *r.Verdict
		}
		return env
	case StatusInvalid:
		env := InvalidEnvelope{
			Error:     msgValidationFailed,
			ErrorType: ErrorTypeValidation,
			SessionID: r.SessionID,
		}
		if r.Validation != nil {
			env.ValidationResults = *r.Validation
		}
		return env
	default:
		msg := "assessment failed"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return FailureEnvelope{
			Error:             msg,
			ErrorType:         ErrorType(r.Err),
			SessionID:         r.SessionID,
			LastTraceID:       r.LastTraceID,
			ErrorTraceID:      r.ErrorTraceID,
			ValidationResults: r.Validation,
		}
	}
}

// ErrorType maps a coded error to its boundary name.
func ErrorType(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInputFormat:
		return ErrorTypeInputFormat
	case dErrors.CodeValidation:
		return ErrorTypeValidation
	case dErrors.CodeStageExecution, dErrors.CodeTimeout:
		return ErrorTypeStageExecution
	default:
		return ErrorTypeInternal
	}
}

// InputFailure builds the result for input that never reached a session.
func InputFailure(err error) *Result {
	if err == nil {
		err = dErrors.New(dErrors.CodeInputFormat, "invalid input")
	} else if !dErrors.HasCode(err, dErrors.CodeInputFormat) {
		err = dErrors.Wrap(err, dErrors.CodeInputFormat, "invalid input")
	}
	return &Result{
		Status:    StatusFailed,
		SessionID: uuid.NewString(),
		Err:       err,
	}
}

// StartupFailure builds the result when the pipeline could not be assembled.
func StartupFailure(err error) *Result {
	return &Result{
		Status:    StatusFailed,
		SessionID: uuid.NewString(),
		Err:       dErrors.Wrap(err, dErrors.CodeInternal, "startup failed"),
	}
}
