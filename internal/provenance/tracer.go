// Package provenance records the lineage of every artifact a pipeline session
// produces. Records are append-only and may only depend on records that already
// exist, so the graph is a DAG by construction.
package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cna/pkg/platform/sentinel"
)

// ErrUnknownDependency is returned when an entry names a trace id that was never recorded.
var ErrUnknownDependency = fmt.Errorf("unknown dependency: %w", sentinel.ErrNotFound)

// Store persists trace records for one session.
type Store interface {
	Append(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	Has(ctx context.Context, id string) bool
	List(ctx context.Context) ([]Record, error)
}

// Exporter receives a copy of every record after it is stored. Exporters are a
// write-only audit sink; their failures never fail the session.
type Exporter interface {
	Export(ctx context.Context, record Record) error
}

type Tracer struct {
	sessionID string
	store     Store
	exporters []Exporter
	logger    *slog.Logger
	now       func() time.Time

	// mu spans the dependency check and the append.
	mu    sync.Mutex
	last  string
	count int
}

type Option func(*Tracer)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithExporter adds an audit sink. Nil exporters are ignored.
func WithExporter(e Exporter) Option {
	return func(t *Tracer) {
		if e != nil {
			t.exporters = append(t.exporters, e)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		t.now = now
	}
}

// New creates a tracer bound to one session. A nil store gets an in-memory one.
func New(sessionID string, store Store, opts ...Option) *Tracer {
	if store == nil {
		store = NewInMemoryStore()
	}
	t := &Tracer{
		sessionID: sessionID,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTraceID builds "<stage>_<dataType>_<8 hex chars>".
func NewTraceID(stage, dataType string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return stage + "_" + dataType + "_" + suffix
}

// Record freezes the entry's snapshots and appends a new trace record.
// Every dependency must already be recorded in this session.
func (t *Tracer) Record(ctx context.Context, entry Entry) (string, error) {
	if entry.Stage == "" || entry.DataType == "" {
		return "", errors.New("trace entry requires stage and data type")
	}
	input, err := freeze(entry.Input)
	if err != nil {
		return "", fmt.Errorf("snapshot input of %s: %w", entry.Stage, err)
	}
	output, err := freeze(entry.Output)
	if err != nil {
		return "", fmt.Errorf("snapshot output of %s: %w", entry.Stage, err)
	}

	record := Record{
		ID:           NewTraceID(entry.Stage, entry.DataType),
		Stage:        entry.Stage,
		DataType:     entry.DataType,
		Input:        input,
		Output:       output,
		Dependencies: append([]string{}, entry.Dependencies...),
		SessionID:    t.sessionID,
	}

	t.mu.Lock()
	for _, dep := range record.Dependencies {
		if !t.store.Has(ctx, dep) {
			t.mu.Unlock()
			return "", fmt.Errorf("trace %s depends on %s: %w", record.ID, dep, ErrUnknownDependency)
		}
	}
	record.Timestamp = t.now()
	if err := t.store.Append(ctx, record); err != nil {
		t.mu.Unlock()
		return "", fmt.Errorf("append trace %s: %w", record.ID, err)
	}
	t.last = record.ID
	t.count++
	t.mu.Unlock()

	t.logger.DebugContext(ctx, "trace recorded",
		"session_id", t.sessionID,
		"stage", record.Stage,
		"trace_id", record.ID,
		"dependencies", len(record.Dependencies),
	)
	t.export(ctx, record)
	return record.ID, nil
}

func (t *Tracer) export(ctx context.Context, record Record) {
	for _, e := range t.exporters {
		if err := e.Export(ctx, record); err != nil {
			t.logger.WarnContext(ctx, "trace export failed",
				"session_id", t.sessionID,
				"trace_id", record.ID,
				"error", err,
			)
		}
	}
}

// Get returns the record or an error wrapping sentinel.ErrNotFound.
func (t *Tracer) Get(ctx context.Context, id string) (Record, error) {
	return t.store.Get(ctx, id)
}

// CollectChain returns the record and its transitive dependencies, each exactly
// once, with every dependency ordered before its dependents. The walk uses an
// explicit stack so deep chains cannot exhaust the goroutine stack, and the
// visited set makes it terminate even if the store holds a cycle.
func (t *Tracer) CollectChain(ctx context.Context, id string) ([]Record, error) {
	type frame struct {
		id     string
		record Record
		done   bool
	}

	var chain []Record
	visited := make(map[string]bool)
	stack := []frame{{id: id}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.done {
			chain = append(chain, f.record)
			continue
		}
		if visited[f.id] {
			continue
		}
		visited[f.id] = true

		record, err := t.store.Get(ctx, f.id)
		if err != nil {
			return nil, fmt.Errorf("collect chain of %s: %w", id, err)
		}
		stack = append(stack, frame{id: f.id, record: record, done: true})
		for i := len(record.Dependencies) - 1; i >= 0; i-- {
			if dep := record.Dependencies[i]; !visited[dep] {
				stack = append(stack, frame{id: dep})
			}
		}
	}
	return chain, nil
}

// Records returns every record of the session in append order.
func (t *Tracer) Records(ctx context.Context) ([]Record, error) {
	return t.store.List(ctx)
}

// Last returns the id of the most recent record, or "" when none exist.
func (t *Tracer) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func freeze(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return append(json.RawMessage{}, raw...), nil
	}
	return json.Marshal(v)
}
