package testutil

import (
	"fmt"
	"time"

	"github.com/BaSui01/batchflow/types"
)

// MakeUnit builds a valid unit for the given partition and priority.
func MakeUnit(partition string, priority int) *types.Unit {
	return &types.Unit{
		ID:        fmt.Sprintf("unit-%d", time.Now().UnixNano()),
		UserID:    "user-1",
		Partition: partition,
		Content:   "hello",
		Channel:   types.ChannelText,
		ArrivedAt: time.Now(),
		Priority:  priority,
	}
}

// MakeSystemSample builds a system metrics sample with the given CPU and
// memory percentages.
func MakeSystemSample(cpu, memory float64) types.SystemMetrics {
	return types.SystemMetrics{
		Timestamp:     time.Now(),
		CPUPercent:    cpu,
		MemoryPercent: memory,
		MemoryMB:      512,
		ThreadCount:   20,
	}
}

// MakeProcessingMetric builds a successful processing metric for an
// operation.
func MakeProcessingMetric(operation string, duration time.Duration) types.ProcessingMetric {
	return types.ProcessingMetric{
		Operation: operation,
		Timestamp: time.Now(),
		Duration:  duration,
		Success:   true,
		InputSize: 1,
	}
}
