// Package httptransport exposes the assessment pipeline over HTTP. Bodies and
// response envelopes are the same as the CLI's stdin and stdout documents.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cna/internal/ingest"
	"cna/internal/intake"
	"cna/internal/pipeline"
	dErrors "cna/pkg/domain-errors"
)

// Runner executes one assessment session.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Result
}

type Handler struct {
	runner    Runner
	extractor ingest.Extractor
	logger    *slog.Logger
}

type Option func(*Handler)

// WithExtractor enables POST /recognition, which runs ingestion on its own.
func WithExtractor(e ingest.Extractor) Option {
	return func(h *Handler) {
		h.extractor = e
	}
}

func New(runner Runner, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{runner: runner, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts assessment endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/assessment", h.HandleAssessment)
	if h.extractor != nil {
		r.Post("/recognition", h.HandleRecognition)
	}
}

// HandleAssessment handles POST /assessment.
func (h *Handler) HandleAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)
	start := time.Now()

	req, err := intake.Decode(http.MaxBytesReader(w, r.Body, intake.MaxInputBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "assessment input rejected",
			"request_id", requestID,
			"error", err,
		)
		result := pipeline.InputFailure(err)
		writeJSON(w, StatusFor(result), result.Envelope())
		return
	}

	result := h.runner.Run(ctx, req)
	h.logger.InfoContext(ctx, "assessment served",
		"request_id", requestID,
		"session_id", result.SessionID,
		"status", result.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, StatusFor(result), result.Envelope())
}

// ErrorResponse is the body of a failed recognition request.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// HandleRecognition handles POST /recognition: it extracts the submitted
// images, files and text and returns the ingestion result without assessing.
func (h *Handler) HandleRecognition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)
	start := time.Now()

	batch, err := intake.DecodeBatch(http.MaxBytesReader(w, r.Body, intake.MaxInputBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "recognition input rejected",
			"request_id", requestID,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.extractor.Extract(ctx, batch)
	if err != nil {
		code, msg := dErrors.CodeStageExecution, "recognition failed"
		if errors.Is(err, context.DeadlineExceeded) {
			code, msg = dErrors.CodeTimeout, "recognition exceeded its deadline"
		}
		err = dErrors.Wrap(err, code, msg)
		h.logger.ErrorContext(ctx, "recognition failed",
			"request_id", requestID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		writeError(w, statusForError(err), err)
		return
	}
	h.logger.InfoContext(ctx, "recognition served",
		"request_id", requestID,
		"items", result.TotalImages,
		"successful", result.Successful,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusFor maps a session outcome to its HTTP status.
func StatusFor(r *pipeline.Result) int {
	switch r.Status {
	case pipeline.StatusCompleted:
		return http.StatusOK
	case pipeline.StatusConflict:
		return http.StatusConflict
	case pipeline.StatusInvalid:
		return http.StatusUnprocessableEntity
	}
	return statusForError(r.Err)
}

func statusForError(err error) int {
	switch {
	case dErrors.HasCode(err, dErrors.CodeInputFormat):
		return http.StatusBadRequest
	case dErrors.HasCode(err, dErrors.CodeTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), ErrorType: pipeline.ErrorType(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
