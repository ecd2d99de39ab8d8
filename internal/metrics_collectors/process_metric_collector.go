package metrics_collectors

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// ProcessMetricCollector collects CPU, memory and thread metrics for the
// running daemon.
type ProcessMetricCollector struct {
	Logger zerolog.Logger
	Prefix string

	proc *process.Process
}

// NewProcessMetricCollector creates a collector for the current process.
func NewProcessMetricCollector(prefix string, logger zerolog.Logger) (*ProcessMetricCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessMetricCollector{Logger: logger, Prefix: prefix, proc: proc}, nil
}

func (p *ProcessMetricCollector) Name() string {
	return "process"
}

func (p *ProcessMetricCollector) Collect(ctx context.Context) []Sample {
	var samples []Sample

	if cpuPercent, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		samples = append(samples, Sample{
			Name:  p.Prefix + "process_cpu_percent",
			Help:  "CPU usage of the daemon process in percent.",
			Type:  TypeGauge,
			Value: cpuPercent,
		})
	} else {
		p.Logger.Warn().Err(err).Int32("pid", p.proc.Pid).Msg("Failed to get CPU usage")
	}

	if memInfo, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		samples = append(samples, Sample{
			Name:  p.Prefix + "process_resident_memory_bytes",
			Help:  "Resident memory of the daemon process in bytes.",
			Type:  TypeGauge,
			Value: float64(memInfo.RSS),
		})
	} else {
		p.Logger.Warn().Err(err).Int32("pid", p.proc.Pid).Msg("Failed to get memory information")
	}

	if threads, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		samples = append(samples, Sample{
			Name:  p.Prefix + "process_threads",
			Help:  "OS threads used by the daemon process.",
			Type:  TypeGauge,
			Value: float64(threads),
		})
	}

	p.Logger.Debug().Int("samples", len(samples)).Msg("Process metrics collection completed successfully")
	return samples
}
