package runtime

import (
	"maps"
	"time"

	"github.com/sbl8/staticgraph/model"
)

// ExecutionStats tracks per-session invocation metrics and arena usage.
type ExecutionStats struct {
	Invocations    int64
	Failures       int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
	LastLatency    time.Duration
	OpInvocations  map[model.OpKind]int64

	ArenaCapacity  int
	ArenaBoundary  int
	ArenaPeak      int
	OverflowCount  int
	OverflowBytes  int
	ScratchBuffers int
}

func (s *ExecutionStats) recordInvoke(latency time.Duration, err error) {
	s.Invocations++
	if err != nil {
		s.Failures++
	}
	s.LastLatency = latency
	s.TotalLatency += latency
	s.AverageLatency = s.TotalLatency / time.Duration(s.Invocations)
}

func (s *ExecutionStats) recordOp(op model.OpKind) {
	if s.OpInvocations == nil {
		s.OpInvocations = make(map[model.OpKind]int64)
	}
	s.OpInvocations[op]++
}

func (s *ExecutionStats) recordArena(a *Arena) {
	if a == nil {
		return
	}
	s.ArenaCapacity = a.Capacity()
	s.ArenaBoundary = a.Boundary()
	s.ArenaPeak = a.Peak()
	s.OverflowCount = a.OverflowCount()
	s.OverflowBytes = a.OverflowBytes()
	s.ScratchBuffers = a.ScratchCount()
}

func (s ExecutionStats) clone() ExecutionStats {
	s.OpInvocations = maps.Clone(s.OpInvocations)
	return s
}
