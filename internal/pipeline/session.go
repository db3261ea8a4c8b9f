package pipeline

import (
	"maps"
	"sync"
	"time"

	"cna/internal/ingest"
	"cna/internal/patient"
	"cna/internal/provenance"
	"cna/internal/stage"
)

// session is the per-invocation state. It is discarded once the result is built.
type session struct {
	id         string
	started    time.Time
	record     *patient.Record
	validation patient.ValidationResult
	tracer     *provenance.Tracer

	ingestion   *ingest.Result
	ingestionID string

	// state is only touched by the coordinating goroutine.
	state State

	mu        sync.Mutex
	artifacts map[string]string
	traceIDs  map[string]string
}

func newSession(id string, started time.Time, record *patient.Record, tracer *provenance.Tracer) *session {
	return &session{
		id:        id,
		started:   started,
		record:    record,
		tracer:    tracer,
		state:     StateCreated,
		artifacts: make(map[string]string),
		traceIDs:  make(map[string]string),
	}
}

func (s *session) transition(to State) error {
	if err := ValidateTransition(s.state, to); err != nil {
		return err
	}
	s.state = to
	return nil
}

// setArtifact stores a stage output and its trace id under the artifact key.
func (s *session) setArtifact(key, output, traceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = output
	s.traceIDs[key] = traceID
}

func (s *session) artifact(key string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[key], s.traceIDs[key]
}

// input hands a stage the record and a private copy of the artifacts so far.
func (s *session) input() stage.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stage.Input{Record: s.record, Upstream: maps.Clone(s.artifacts)}
}

// analysisTraceIDs returns the analysis trace ids in fixed stage order.
func (s *session) analysisTraceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(analysisOrder))
	for _, key := range analysisOrder {
		if id := s.traceIDs[key]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

var analysisOrder = []string{
	stage.ArtifactClinical,
	stage.ArtifactAnthropometric,
	stage.ArtifactBiochemical,
	stage.ArtifactDietary,
}
