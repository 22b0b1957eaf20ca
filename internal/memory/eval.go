package memory

import (
	"encoding/json"
	"time"

	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

// Replay op kinds.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
)

// ReplayOp is one step of a replay trace. Get ops carry the expected
// outcome so the evaluator can score recall.
type ReplayOp struct {
	Kind        string `json:"kind"`
	Key         string `json:"key"`
	Value       string `json:"value,omitempty"`
	ExpectHit   bool   `json:"expect_hit,omitempty"`
	ExpectValue string `json:"expect_value,omitempty"`
}

// ReplayTrace is an ordered, deterministic workload.
type ReplayTrace struct {
	Name       string     `json:"name"`
	BlobBudget int        `json:"blob_budget"`
	Ops        []ReplayOp `json:"ops"`
}

// EvalReport is the quantitative outcome of one replay.
type EvalReport struct {
	RecallRate      float64 `json:"recall_rate"`
	BlobUtilization float64 `json:"blob_utilization"`
	OpCount         int     `json:"op_count"`
}

// Evaluate replays the trace against a scratch copy of the design and
// scores it. Persisted working memory is never touched; the caller
// archives the result with RecordEval.
func Evaluate(designID string, trace ReplayTrace) (*EvalReport, error) {
	backend, err := New(designID, newScratch())
	if err != nil {
		return nil, err
	}

	var lookups, hits int
	for _, op := range trace.Ops {
		switch op.Kind {
		case OpPut:
			if err := backend.Put(op.Key, op.Value); err != nil {
				return nil, err
			}
		case OpDelete:
			if err := backend.Delete(op.Key); err != nil {
				return nil, err
			}
		case OpGet:
			value, ok, err := backend.Get(op.Key)
			if err != nil {
				return nil, err
			}
			lookups++
			if ok == op.ExpectHit && (!op.ExpectHit || op.ExpectValue == "" || value == op.ExpectValue) {
				hits++
			}
		default:
			return nil, errors.NewValidation("unknown replay op kind: " + op.Kind)
		}
	}

	budget := trace.BlobBudget
	if budget <= 0 {
		budget = 2000
	}
	blob, err := backend.AsContextBlob(budget)
	if err != nil {
		return nil, err
	}

	report := &EvalReport{OpCount: len(trace.Ops)}
	if lookups > 0 {
		report.RecallRate = float64(hits) / float64(lookups)
	}
	report.BlobUtilization = float64(len(blob)) / float64(budget)
	if report.BlobUtilization > 1 {
		report.BlobUtilization = 1
	}
	return report, nil
}

// RecordEval archives a report for a design and returns the stored run.
func RecordEval(st *store.Store, design store.MemoryDesignVersion, report *EvalReport) (*store.MemoryEvalRun, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, errors.NewStorage("marshal eval report", err)
	}
	run := &store.MemoryEvalRun{
		ID:              store.NewID(),
		Design:          design,
		RanAt:           time.Now().UTC(),
		RecallRate:      report.RecallRate,
		BlobUtilization: report.BlobUtilization,
		OpCount:         report.OpCount,
		ReportJSON:      string(raw),
	}
	if err := st.InsertMemoryEvalRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// scratch is the in-memory kvStore replays run against.
type scratch struct {
	values map[string]string
	order  []string
}

func newScratch() *scratch {
	return &scratch{values: make(map[string]string)}
}

func (s *scratch) MemPut(key, value string) error {
	if _, exists := s.values[key]; exists {
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.values[key] = value
	// Most recent first, matching the persisted iteration order.
	s.order = append([]string{key}, s.order...)
	return nil
}

func (s *scratch) MemGet(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *scratch) MemDelete(key string) error {
	if _, exists := s.values[key]; !exists {
		return nil
	}
	delete(s.values, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *scratch) MemIterAll() ([]store.WorkingMemoryEntry, error) {
	out := make([]store.WorkingMemoryEntry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, store.WorkingMemoryEntry{Key: k, Value: s.values[k]})
	}
	return out, nil
}
