package perf

import (
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/batchflow/types"
)

// OperationSummary is the rolled-up view of one tracked operation.
type OperationSummary struct {
	Operation   string        `json:"operation"`
	Calls       int64         `json:"calls"`
	Errors      int64         `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration"`
	SuccessRate float64       `json:"success_rate"`
	Knobs       Knobs         `json:"knobs"`
}

// Summary is a read-only snapshot for operators: current system state,
// rolling averages, per-operation health, and the same threshold checks the
// optimizer applies, rendered as human-readable recommendations. Building a
// summary never mutates ledger state.
type Summary struct {
	Timestamp        time.Time            `json:"timestamp"`
	Current          *types.SystemMetrics `json:"current,omitempty"`
	AvgCPUPercent    float64              `json:"avg_cpu_percent"`
	AvgMemoryPercent float64              `json:"avg_memory_percent"`
	AvgThreadCount   float64              `json:"avg_thread_count"`
	Operations       []OperationSummary   `json:"operations"`
	Recommendations  []string             `json:"recommendations"`
	Suggestions      []string             `json:"suggestions"`
}

// Summary builds a point-in-time performance summary.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{Timestamp: time.Now()}

	if current, ok := l.system.Latest(); ok {
		cp := current
		s.Current = &cp
	}

	recent := l.system.Last(rollingWindow)
	if len(recent) > 0 {
		var cpu, mem, threads float64
		for _, m := range recent {
			cpu += m.CPUPercent
			mem += m.MemoryPercent
			threads += float64(m.ThreadCount)
		}
		n := float64(len(recent))
		s.AvgCPUPercent = cpu / n
		s.AvgMemoryPercent = mem / n
		s.AvgThreadCount = threads / n
	}

	names := make([]string, 0, len(l.ops))
	for name := range l.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries := l.ops[name].Last(l.ops[name].Len())
		var total time.Duration
		for _, m := range entries {
			total += m.Duration
		}
		op := OperationSummary{
			Operation: name,
			Calls:     l.calls[name],
			Errors:    l.errs[name],
			Knobs:     l.knobs[name],
		}
		if len(entries) > 0 {
			op.AvgDuration = total / time.Duration(len(entries))
		}
		if op.Calls > 0 {
			op.SuccessRate = float64(op.Calls-op.Errors) / float64(op.Calls)
		}
		s.Operations = append(s.Operations, op)

		if op.AvgDuration > slowOperationThreshold {
			s.Recommendations = append(s.Recommendations, fmt.Sprintf(
				"operation %q averages %s per call, above the %s slow threshold; its timeout knob will be tightened",
				name, op.AvgDuration.Round(time.Millisecond), slowOperationThreshold))
		}
	}

	if s.AvgCPUPercent > cpuHighWater {
		s.Recommendations = append(s.Recommendations, fmt.Sprintf(
			"cpu averages %.1f%%, above %.0f%%; batch-size knobs will shrink",
			s.AvgCPUPercent, cpuHighWater))
	}
	if s.AvgMemoryPercent > memoryHighWater {
		s.Recommendations = append(s.Recommendations, fmt.Sprintf(
			"memory averages %.1f%%, above %.0f%%; cache-size knobs will shrink",
			s.AvgMemoryPercent, memoryHighWater))
	}

	s.Suggestions = l.suggestions.Last(l.suggestions.Len())
	return s
}
