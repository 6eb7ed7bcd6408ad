package types

import "time"

// SystemMetrics is one OS-level resource sample. Samples are immutable once
// appended to the ledger and evicted oldest-first.
type SystemMetrics struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryMB        float64   `json:"memory_mb"`
	MemoryPercent   float64   `json:"memory_percent"`
	DiskIOBytes     uint64    `json:"disk_io_bytes"`
	NetworkIOBytes  uint64    `json:"network_io_bytes"`
	ThreadCount     int       `json:"thread_count"`
	ConnectionCount int       `json:"connection_count"`
}

// ProcessingMetric records one timed operation, typically a batch execution.
type ProcessingMetric struct {
	Operation  string            `json:"operation"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   time.Duration     `json:"duration"`
	Success    bool              `json:"success"`
	InputSize  int               `json:"input_size"`
	OutputSize int               `json:"output_size"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AlertType identifies what resource or condition breached a threshold.
type AlertType string

const (
	AlertCPU         AlertType = "cpu"
	AlertMemory      AlertType = "memory"
	AlertThreads     AlertType = "threads"
	AlertConnections AlertType = "connections"
)

// AlertSeverity ranks alerts for subscribers.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is delivered to subscribed callbacks when a sampled metric crosses
// its threshold.
type Alert struct {
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Timestamp time.Time     `json:"timestamp"`
}
