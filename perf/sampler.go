package perf

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

// SamplerConfig configures the OS metric sampling loop.
type SamplerConfig struct {
	// Interval between samples. Zero means the default of 1s.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// OnSample, when set, receives every sample after it is recorded. Used
	// to mirror samples into prometheus gauges.
	OnSample func(types.SystemMetrics) `yaml:"-" json:"-"`
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{Interval: time.Second}
}

// Sampler periodically captures OS-level resource usage for this process,
// appends it to the ledger, and lets the alerter evaluate thresholds.
// Individual probe failures are logged and sampling continues with whatever
// counters were readable.
type Sampler struct {
	ledger  *Ledger
	alerter *Alerter
	config  SamplerConfig
	logger  *zap.Logger
	proc    *process.Process

	done chan struct{}
}

// NewSampler creates a sampler bound to the current process.
func NewSampler(ledger *Ledger, alerter *Alerter, config SamplerConfig, logger *zap.Logger) (*Sampler, error) {
	if config.Interval <= 0 {
		config.Interval = DefaultSamplerConfig().Interval
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Sampler{
		ledger:  ledger,
		alerter: alerter,
		config:  config,
		logger:  logger.With(zap.String("component", "sampler")),
		proc:    proc,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the sampling loop until ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Wait blocks until the sampling loop has exited.
func (s *Sampler) Wait() {
	<-s.done
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick()
		}
	}
}

func (s *Sampler) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sampler tick panicked", zap.Any("panic", r))
		}
	}()

	m := s.Sample()
	s.ledger.RecordSystem(m)
	if s.alerter != nil {
		s.alerter.Evaluate(m)
	}
	if s.config.OnSample != nil {
		s.config.OnSample(m)
	}
}

// Sample captures one best-effort snapshot of OS-level resource usage.
func (s *Sampler) Sample() types.SystemMetrics {
	m := types.SystemMetrics{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err != nil {
		s.logger.Debug("cpu probe failed", zap.Error(err))
	} else if len(pct) > 0 {
		m.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		s.logger.Debug("memory probe failed", zap.Error(err))
	} else {
		m.MemoryPercent = vm.UsedPercent
	}

	if info, err := s.proc.MemoryInfo(); err != nil {
		s.logger.Debug("process memory probe failed", zap.Error(err))
	} else if info != nil {
		m.MemoryMB = float64(info.RSS) / (1024 * 1024)
	}

	if counters, err := disk.IOCounters(); err != nil {
		s.logger.Debug("disk probe failed", zap.Error(err))
	} else {
		for _, c := range counters {
			m.DiskIOBytes += c.ReadBytes + c.WriteBytes
		}
	}

	if counters, err := gnet.IOCounters(false); err != nil {
		s.logger.Debug("network probe failed", zap.Error(err))
	} else {
		for _, c := range counters {
			m.NetworkIOBytes += c.BytesSent + c.BytesRecv
		}
	}

	if threads, err := s.proc.NumThreads(); err != nil {
		s.logger.Debug("thread probe failed", zap.Error(err))
	} else {
		m.ThreadCount = int(threads)
	}

	if conns, err := s.proc.Connections(); err != nil {
		s.logger.Debug("connection probe failed", zap.Error(err))
	} else {
		m.ConnectionCount = len(conns)
	}

	return m
}
