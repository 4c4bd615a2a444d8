package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pulseguard/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSource samples the machine the engine runs on.
type HostSource struct {
	now func() time.Time
}

func NewHostSource(now func() time.Time) *HostSource {
	if now == nil {
		now = time.Now
	}
	return &HostSource{now: now}
}

func (h *HostSource) Name() string {
	return "host"
}

func (h *HostSource) Collect(ctx context.Context) ([]models.MetricSample, error) {
	ts := h.now()
	samples := make([]models.MetricSample, 0, 3)
	var result *multierror.Error

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("cpu: %w", err))
	} else if len(percents) > 0 {
		samples = append(samples, models.MetricSample{MetricName: "cpu_utilization", Value: percents[0], Timestamp: ts})
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("memory: %w", err))
	} else {
		samples = append(samples, models.MetricSample{MetricName: "memory_utilization", Value: vm.UsedPercent, Timestamp: ts})
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("load: %w", err))
	} else {
		samples = append(samples, models.MetricSample{MetricName: "load_1", Value: avg.Load1, Timestamp: ts})
	}

	return samples, result.ErrorOrNil()
}
