package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cna/pkg/platform/sentinel"
)

type TracerSuite struct {
	suite.Suite
	store  *InMemoryStore
	tracer *Tracer
	ctx    context.Context
}

func (s *TracerSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.tracer = New("session-1", s.store)
	s.ctx = context.Background()
}

func TestTracerSuite(t *testing.T) {
	suite.Run(t, new(TracerSuite))
}

func (s *TracerSuite) record(stage string, deps ...string) string {
	id, err := s.tracer.Record(s.ctx, Entry{
		Stage:        stage,
		DataType:     "analysis",
		Input:        map[string]string{"stage": stage},
		Output:       stage + " output",
		Dependencies: deps,
	})
	s.Require().NoError(err)
	return id
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func (s *TracerSuite) TestRecord() {
	s.Run("builds id from stage, data type and a short hex suffix", func() {
		id, err := s.tracer.Record(s.ctx, Entry{Stage: "ClinicalContextAnalyzer", DataType: "clinical_analysis"})
		s.Require().NoError(err)
		s.Regexp(regexp.MustCompile(`^ClinicalContextAnalyzer_clinical_analysis_[0-9a-f]{8}$`), id)
	})

	s.Run("stores session, timestamp and dependencies", func() {
		now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
		tracer := New("session-2", nil, WithClock(func() time.Time { return now }))
		first, err := tracer.Record(s.ctx, Entry{Stage: "A", DataType: "a"})
		s.Require().NoError(err)
		second, err := tracer.Record(s.ctx, Entry{Stage: "B", DataType: "b", Dependencies: []string{first}})
		s.Require().NoError(err)

		got, err := tracer.Get(s.ctx, second)
		s.Require().NoError(err)
		s.Equal("session-2", got.SessionID)
		s.Equal(now, got.Timestamp)
		s.Equal([]string{first}, got.Dependencies)
		s.Equal(second, tracer.Last())
		s.Equal(2, tracer.Len())
	})

	s.Run("rejects unknown dependencies without appending", func() {
		before := s.tracer.Len()
		_, err := s.tracer.Record(s.ctx, Entry{Stage: "X", DataType: "x", Dependencies: []string{"missing"}})
		s.Require().Error(err)
		s.ErrorIs(err, ErrUnknownDependency)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Equal(before, s.tracer.Len())
	})

	s.Run("rejects entries without stage", func() {
		_, err := s.tracer.Record(s.ctx, Entry{DataType: "x"})
		s.Require().Error(err)
	})
}

func (s *TracerSuite) TestSnapshotsAreFrozen() {
	input := map[string]string{"weight": "50kg"}
	id, err := s.tracer.Record(s.ctx, Entry{Stage: "A", DataType: "a", Input: input, Output: "ok"})
	s.Require().NoError(err)

	input["weight"] = "80kg"

	got, err := s.tracer.Get(s.ctx, id)
	s.Require().NoError(err)
	var decoded map[string]string
	s.Require().NoError(json.Unmarshal(got.Input, &decoded))
	s.Equal("50kg", decoded["weight"])
	s.JSONEq(`"ok"`, string(got.Output))
}

func (s *TracerSuite) TestGetUnknown() {
	_, err := s.tracer.Get(s.ctx, "nope")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *TracerSuite) TestCollectChain() {
	s.Run("linear chain orders dependencies first", func() {
		a := s.record("A")
		b := s.record("B", a)
		c := s.record("C", b)

		chain, err := s.tracer.CollectChain(s.ctx, c)
		s.Require().NoError(err)
		s.Equal([]string{a, b, c}, ids(chain))
	})

	s.Run("diamond yields the shared ancestor once", func() {
		a := s.record("A")
		b := s.record("B", a)
		c := s.record("C", a)
		d := s.record("D", b, c)

		chain, err := s.tracer.CollectChain(s.ctx, d)
		s.Require().NoError(err)
		s.Equal([]string{a, b, c, d}, ids(chain))
	})

	s.Run("record without dependencies is its own chain", func() {
		a := s.record("Solo")
		chain, err := s.tracer.CollectChain(s.ctx, a)
		s.Require().NoError(err)
		s.Equal([]string{a}, ids(chain))
	})

	s.Run("unknown id is not found", func() {
		_, err := s.tracer.CollectChain(s.ctx, "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("terminates on a cycle in the store", func() {
		store := NewInMemoryStore()
		s.Require().NoError(store.Append(s.ctx, Record{ID: "x", Dependencies: []string{"y"}}))
		s.Require().NoError(store.Append(s.ctx, Record{ID: "y", Dependencies: []string{"x"}}))
		tracer := New("cyclic", store)

		chain, err := tracer.CollectChain(s.ctx, "x")
		s.Require().NoError(err)
		s.Equal([]string{"y", "x"}, ids(chain))
	})

	s.Run("deep chains do not recurse", func() {
		tracer := New("deep", nil)
		prev, err := tracer.Record(s.ctx, Entry{Stage: "S", DataType: "d"})
		s.Require().NoError(err)
		for i := 0; i < 5000; i++ {
			prev, err = tracer.Record(s.ctx, Entry{Stage: "S", DataType: "d", Dependencies: []string{prev}})
			s.Require().NoError(err)
		}
		chain, err := tracer.CollectChain(s.ctx, prev)
		s.Require().NoError(err)
		s.Len(chain, 5001)
		s.Equal(prev, chain[len(chain)-1].ID)
	})
}

func (s *TracerSuite) TestRecordsInAppendOrder() {
	a := s.record("A")
	b := s.record("B", a)
	records, err := s.tracer.Records(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{a, b}, ids(records))
}

func (s *TracerSuite) TestConcurrentAppends() {
	root := s.record("Root")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.tracer.Record(s.ctx, Entry{Stage: "Worker", DataType: "w", Dependencies: []string{root}})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(33, s.tracer.Len())
}

type recordingExporter struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (e *recordingExporter) Export(_ context.Context, r Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, r)
	return e.err
}

func (s *TracerSuite) TestExporters() {
	s.Run("receives every stored record", func() {
		exp := &recordingExporter{}
		tracer := New("exported", nil, WithExporter(exp))
		id, err := tracer.Record(s.ctx, Entry{Stage: "A", DataType: "a"})
		s.Require().NoError(err)
		s.Require().Len(exp.records, 1)
		s.Equal(id, exp.records[0].ID)
	})

	s.Run("export failure does not fail recording", func() {
		exp := &recordingExporter{err: errors.New("broker down")}
		tracer := New("exported", nil, WithExporter(exp), WithExporter(nil))
		_, err := tracer.Record(s.ctx, Entry{Stage: "A", DataType: "a"})
		s.Require().NoError(err)
		s.Equal(1, tracer.Len())
	})
}

func (s *TracerSuite) TestStoreRejectsDuplicateID() {
	s.Require().NoError(s.store.Append(s.ctx, Record{ID: "dup"}))
	err := s.store.Append(s.ctx, Record{ID: "dup"})
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}
