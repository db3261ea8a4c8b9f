// Package pipeline sequences the analysis stages of one assessment session,
// records the lineage of every artifact and gates the final report on the
// conflict verdict.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"cna/internal/arbiter"
	"cna/internal/ingest"
	"cna/internal/patient"
	"cna/internal/pipeline/metrics"
	"cna/internal/provenance"
	"cna/internal/stage"
	dErrors "cna/pkg/domain-errors"
)

// Coordinator trace identity for conflict review and failures.
const (
	CoordinatorStage = "Coordinator"
	DataConflict     = "conflict_analysis"
	DataError        = "error"
)

// Stages are the collaborating stages in pipeline order.
type Stages struct {
	Clinical       stage.Stage
	Anthropometric stage.Stage
	Biochemical    stage.Stage
	Dietary        stage.Stage
	Reporter       stage.Stage
}

// Reviewer produces the conflict verdict. *arbiter.Arbiter implements it.
type Reviewer interface {
	Review(ctx context.Context, outputs arbiter.Outputs) arbiter.Verdict
}

// Request is one assessment. A nil or empty Ingestion skips the ingestion stage;
// otherwise the extracted data is merged into Record in place.
type Request struct {
	Record    *patient.Record
	Ingestion *ingest.Batch
}

type Pipeline struct {
	stages    Stages
	reviewer  Reviewer
	ingestor  ingest.Extractor
	exporters []provenance.Exporter

	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	stageTimeout time.Duration
	concurrent   bool
	now          func() time.Time
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithIngestor enables the ingestion stage.
func WithIngestor(e ingest.Extractor) Option {
	return func(p *Pipeline) {
		p.ingestor = e
	}
}

// WithExporter sends every trace record of every session to e.
func WithExporter(e provenance.Exporter) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.exporters = append(p.exporters, e)
		}
	}
}

// WithStageTimeout bounds each collaborator call. Zero means no deadline.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.stageTimeout = d
	}
}

// WithConcurrentAnalyses runs the clinical, anthropometric and dietary stages in
// parallel. Biochemical analysis still waits for all three.
func WithConcurrentAnalyses(enabled bool) Option {
	return func(p *Pipeline) {
		p.concurrent = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		p.tracer = tp.Tracer("cna/pipeline")
	}
}

func New(stages Stages, reviewer Reviewer, opts ...Option) (*Pipeline, error) {
	if stages.Clinical == nil || stages.Anthropometric == nil || stages.Biochemical == nil ||
		stages.Dietary == nil || stages.Reporter == nil {
		return nil, errors.New("all five stages are required")
	}
	if reviewer == nil {
		return nil, errors.New("conflict reviewer is required")
	}
	p := &Pipeline{
		stages:   stages,
		reviewer: reviewer,
		logger:   slog.Default(),
		tracer:   otel.Tracer("cna/pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one session. It never returns nil; failures are encoded in the result.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	id := uuid.NewString()
	opts := []provenance.Option{provenance.WithLogger(p.logger), provenance.WithClock(p.now)}
	for _, e := range p.exporters {
		opts = append(opts, provenance.WithExporter(e))
	}
	s := newSession(id, p.now(), req.Record, provenance.New(id, provenance.NewInMemoryStore(), opts...))

	ctx, span := p.tracer.Start(ctx, "assessment", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	p.logger.InfoContext(ctx, "assessment started",
		"session_id", id,
		"ingestion", req.Ingestion != nil && !req.Ingestion.Empty(),
		"concurrent", p.concurrent,
	)

	result := p.run(ctx, s, req)
	result.SessionID = id
	result.State = s.state
	result.Elapsed = p.now().Sub(s.started)

	p.metrics.IncOutcome(string(result.Status))
	p.metrics.ObserveSessionLatency(result.Elapsed)
	span.SetAttributes(attribute.String("status", string(result.Status)))
	if result.Err != nil {
		span.SetStatus(codes.Error, result.Err.Error())
	}
	p.logger.InfoContext(ctx, "assessment finished",
		"session_id", id,
		"status", result.Status,
		"state", s.state,
		"trace_records", s.tracer.Len(),
		"duration_ms", result.Elapsed.Milliseconds(),
	)
	return result
}

func (p *Pipeline) run(ctx context.Context, s *session, req Request) *Result {
	if err := p.advance(s, StateValidating); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}
	s.validation = patient.Validate(s.record)
	if !s.validation.IsValid {
		p.logger.WarnContext(ctx, "patient data invalid",
			"session_id", s.id,
			"missing_fields", s.validation.MissingFields,
		)
		if err := p.advance(s, StateAborted); err != nil {
			return p.fail(ctx, s, CoordinatorStage, err)
		}
		return &Result{Status: StatusInvalid, Validation: &s.validation}
	}
	if err := p.advance(s, StateValid); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}

	if req.Ingestion != nil && !req.Ingestion.Empty() {
		if err := p.advance(s, StateIngesting); err != nil {
			return p.fail(ctx, s, CoordinatorStage, err)
		}
		if err := p.ingest(ctx, s, *req.Ingestion); err != nil {
			return p.fail(ctx, s, ingest.StageName, err)
		}
	}

	analyze := p.analyzeSequentially
	if p.concurrent {
		analyze = p.analyzeConcurrently
	}
	if err := analyze(ctx, s); err != nil {
		return p.fail(ctx, s, failedStage(err), err)
	}

	if err := p.advance(s, StateDetectingConflicts); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}
	verdict, conflictID, err := p.detectConflicts(ctx, s)
	if err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}
	if !verdict.Proceed {
		p.logger.WarnContext(ctx, "report blocked by conflict verdict",
			"session_id", s.id,
			"conflicts", len(verdict.ConflictsDetected),
			"trace_id", conflictID,
		)
		if err := p.advance(s, StateAborted); err != nil {
			return p.fail(ctx, s, CoordinatorStage, err)
		}
		return &Result{Status: StatusConflict, Verdict: &verdict, ConflictTraceID: conflictID, Validation: &s.validation}
	}

	if err := p.advance(s, StateClear); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}
	if err := p.advance(s, StateSynthesizing); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}
	deps := p.reportDependencies(s, conflictID)
	report, reportID, err := p.execute(ctx, s, p.stages.Reporter, s.input(), deps)
	if err != nil {
		return p.fail(ctx, s, failedStage(err), err)
	}
	if err := p.advance(s, StateCompleted); err != nil {
		return p.fail(ctx, s, CoordinatorStage, err)
	}

	return &Result{
		Status:              StatusCompleted,
		Report:              report,
		AssessmentTimestamp: p.now(),
		Validation:          &s.validation,
		Verdict:             &verdict,
		ConflictTraceID:     conflictID,
		Ingestion:           s.ingestion,
		Trace: TraceSummary{
			TotalSteps:           s.tracer.Len(),
			FinalReportTraceID:   reportID,
			ConflictTraceID:      conflictID,
			IntermediateTraceIDs: deps,
		},
	}
}

func (p *Pipeline) advance(s *session, to State) error {
	if err := s.transition(to); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "session state")
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, s *session, batch ingest.Batch) error {
	if p.ingestor == nil {
		return &stageError{stage: ingest.StageName, err: dErrors.New(dErrors.CodeStageExecution, "ingestion requested but no ingestion collaborator is configured")}
	}
	ctx, span := p.tracer.Start(ctx, "stage "+ingest.StageName)
	defer span.End()

	start := time.Now()
	result, err := callWithDeadline(ctx, p.stageTimeout, func(ctx context.Context) (*ingest.Result, error) {
		return p.ingestor.Extract(ctx, batch)
	})
	p.metrics.ObserveStageLatency(ingest.StageName, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stageFailure(ingest.StageName, err)
	}

	id, err := s.tracer.Record(ctx, provenance.Entry{
		Stage:    ingest.StageName,
		DataType: ingest.DataType,
		Input:    batch.Summary(),
		Output:   result,
	})
	if err != nil {
		return &stageError{stage: ingest.StageName, err: dErrors.Wrap(err, dErrors.CodeInternal, "record trace")}
	}
	if result != nil {
		patient.Merge(s.record, result.Integrated)
	}
	s.ingestion = result
	s.ingestionID = id
	p.logger.InfoContext(ctx, "stage complete",
		"session_id", s.id,
		"stage", ingest.StageName,
		"trace_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

type analysis struct {
	state State
	stage stage.Stage
	key   string
}

func (p *Pipeline) analyzeSequentially(ctx context.Context, s *session) error {
	steps := []analysis{
		{StateAnalyzingClinical, p.stages.Clinical, stage.ArtifactClinical},
		{StateAnalyzingAnthropometric, p.stages.Anthropometric, stage.ArtifactAnthropometric},
		{StateAnalyzingBiochemical, p.stages.Biochemical, stage.ArtifactBiochemical},
		{StateAnalyzingDietary, p.stages.Dietary, stage.ArtifactDietary},
	}
	for _, step := range steps {
		if err := p.advance(s, step.state); err != nil {
			return &stageError{stage: CoordinatorStage, err: err}
		}
		if err := p.analyze(ctx, s, step); err != nil {
			return err
		}
	}
	return nil
}

// analyzeConcurrently runs the independent analyses in parallel. Wait is the
// barrier before biochemical analysis and conflict review.
func (p *Pipeline) analyzeConcurrently(ctx context.Context, s *session) error {
	if err := p.advance(s, StateAnalyzingConcurrent); err != nil {
		return &stageError{stage: CoordinatorStage, err: err}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, step := range []analysis{
		{StateAnalyzingConcurrent, p.stages.Clinical, stage.ArtifactClinical},
		{StateAnalyzingConcurrent, p.stages.Anthropometric, stage.ArtifactAnthropometric},
		{StateAnalyzingConcurrent, p.stages.Dietary, stage.ArtifactDietary},
	} {
		g.Go(func() error {
			return p.analyze(gctx, s, step)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.advance(s, StateAnalyzingBiochemical); err != nil {
		return &stageError{stage: CoordinatorStage, err: err}
	}
	return p.analyze(ctx, s, analysis{StateAnalyzingBiochemical, p.stages.Biochemical, stage.ArtifactBiochemical})
}

func (p *Pipeline) analyze(ctx context.Context, s *session, step analysis) error {
	var deps []string
	if step.key == stage.ArtifactBiochemical {
		if _, clinicalID := s.artifact(stage.ArtifactClinical); clinicalID != "" {
			deps = []string{clinicalID}
		}
	}
	out, id, err := p.execute(ctx, s, step.stage, s.input(), deps)
	if err != nil {
		return err
	}
	s.setArtifact(step.key, out, id)
	return nil
}

// execute runs one stage under the stage deadline and records its trace. No
// trace is written for a stage that fails or misses its deadline.
func (p *Pipeline) execute(ctx context.Context, s *session, st stage.Stage, in stage.Input, deps []string) (string, string, error) {
	name := st.Name()
	ctx, span := p.tracer.Start(ctx, "stage "+name, trace.WithAttributes(attribute.String("session_id", s.id)))
	defer span.End()

	start := time.Now()
	out, err := callWithDeadline(ctx, p.stageTimeout, func(ctx context.Context) (string, error) {
		return st.Run(ctx, in)
	})
	p.metrics.ObserveStageLatency(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", stageFailure(name, err)
	}

	id, err := s.tracer.Record(ctx, provenance.Entry{
		Stage:        name,
		DataType:     st.DataType(),
		Input:        st.Snapshot(in),
		Output:       out,
		Dependencies: deps,
	})
	if err != nil {
		return "", "", &stageError{stage: name, err: dErrors.Wrap(err, dErrors.CodeInternal, "record trace")}
	}
	span.SetAttributes(attribute.String("trace_id", id))
	p.logger.InfoContext(ctx, "stage complete",
		"session_id", s.id,
		"stage", name,
		"trace_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, id, nil
}

func (p *Pipeline) detectConflicts(ctx context.Context, s *session) (arbiter.Verdict, string, error) {
	ctx, span := p.tracer.Start(ctx, "conflict review")
	defer span.End()

	clinical, _ := s.artifact(stage.ArtifactClinical)
	anthropometric, _ := s.artifact(stage.ArtifactAnthropometric)
	biochemical, _ := s.artifact(stage.ArtifactBiochemical)
	dietary, _ := s.artifact(stage.ArtifactDietary)
	outputs := arbiter.Outputs{
		Clinical:       clinical,
		Anthropometric: anthropometric,
		Biochemical:    biochemical,
		Dietary:        dietary,
	}

	verdict, err := callWithDeadline(ctx, p.stageTimeout, func(ctx context.Context) (arbiter.Verdict, error) {
		return p.reviewer.Review(ctx, outputs), nil
	})
	if err != nil {
		p.logger.WarnContext(ctx, "conflict review missed its deadline, proceeding with fallback verdict",
			"session_id", s.id,
			"error", err,
		)
		verdict = arbiter.FailedVerdict(err)
	}
	if verdict.Fallback {
		p.metrics.IncVerdictFallback()
	}
	if verdict.Overridden() {
		p.metrics.IncOverride()
	}

	id, err := s.tracer.Record(ctx, provenance.Entry{
		Stage:        CoordinatorStage,
		DataType:     DataConflict,
		Input:        outputs,
		Output:       verdict,
		Dependencies: s.analysisTraceIDs(),
	})
	if err != nil {
		return arbiter.Verdict{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "record conflict trace")
	}
	span.SetAttributes(
		attribute.Bool("has_conflicts", verdict.HasConflicts),
		attribute.Bool("proceed", verdict.Proceed),
	)
	return verdict, id, nil
}

// reportDependencies lists every prior trace: ingestion first, then the
// analyses in stage order, then the conflict review.
func (p *Pipeline) reportDependencies(s *session, conflictID string) []string {
	var deps []string
	if s.ingestionID != "" {
		deps = append(deps, s.ingestionID)
	}
	deps = append(deps, s.analysisTraceIDs()...)
	return append(deps, conflictID)
}

// fail records the coordinator error trace and moves the session to errored.
func (p *Pipeline) fail(ctx context.Context, s *session, stageName string, err error) *Result {
	ctx = context.WithoutCancel(ctx)
	last := s.tracer.Last()
	var deps []string
	if last != "" {
		deps = []string{last}
	}

	reason := "error"
	if dErrors.HasCode(err, dErrors.CodeTimeout) {
		reason = "timeout"
	}
	p.metrics.IncStageFailure(stageName, reason)

	errorID, recErr := s.tracer.Record(ctx, provenance.Entry{
		Stage:    CoordinatorStage,
		DataType: DataError,
		Input:    map[string]string{"stage": stageName},
		Output: map[string]string{
			"error_type":    ErrorType(err),
			"error_message": err.Error(),
		},
		Dependencies: deps,
	})
	if recErr != nil {
		p.logger.ErrorContext(ctx, "failed to record error trace", "session_id", s.id, "error", recErr)
	}
	if !s.state.Terminal() {
		s.state = StateErrored
	}

	p.logger.ErrorContext(ctx, "assessment failed",
		"session_id", s.id,
		"stage", stageName,
		"error_type", ErrorType(err),
		"error", err,
		"last_trace_id", last,
	)
	return &Result{
		Status:       StatusFailed,
		Err:          err,
		LastTraceID:  last,
		ErrorTraceID: errorID,
		Validation:   &s.validation,
	}
}

// stageError ties a failure to the stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func stageFailure(name string, err error) error {
	code, msg := dErrors.CodeStageExecution, "stage failed"
	if errors.Is(err, context.DeadlineExceeded) {
		code, msg = dErrors.CodeTimeout, "stage exceeded its deadline"
	}
	return &stageError{stage: name, err: dErrors.Wrap(err, code, msg)}
}

func failedStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return CoordinatorStage
}

// callWithDeadline runs fn under timeout. A reply that arrives after the
// deadline is discarded even if fn ignores its context.
func callWithDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		value T
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		v, err := fn(ctx)
		done <- reply{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
