package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/pulseguard/internal/models"
	"golang.org/x/sync/semaphore"
)

const (
	maxConcurrentCollections = 10
	retryAttempts            = 3
	retryDelay               = 5 * time.Second
)

// dockerAPI is the part of the docker client the source needs.
type dockerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
}

// DockerSource samples CPU and memory usage of every running container and
// the fleet averages the scaling policies usually key on.
type DockerSource struct {
	client     dockerAPI
	sem        *semaphore.Weighted
	retryDelay time.Duration
	now        func() time.Time
}

func NewDockerSource(now func() time.Time) (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerSource(cli, now), nil
}

func newDockerSource(api dockerAPI, now func() time.Time) *DockerSource {
	if now == nil {
		now = time.Now
	}
	return &DockerSource{
		client:     api,
		sem:        semaphore.NewWeighted(maxConcurrentCollections),
		retryDelay: retryDelay,
		now:        now,
	}
}

func (d *DockerSource) Name() string {
	return "docker"
}

type containerUsage struct {
	name          string
	cpuPercent    float64
	memoryPercent float64
}

func (d *DockerSource) Collect(ctx context.Context) ([]models.MetricSample, error) {
	containers, err := d.client.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		usages = make([]containerUsage, 0, len(containers))
		errs   []error
	)
	for _, container := range containers {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(c types.Container) {
			defer wg.Done()
			defer d.sem.Release(1)

			usage, err := d.collectWithRetry(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("container %s: %w", c.ID, err))
				return
			}
			usages = append(usages, usage)
		}(container)
	}
	wg.Wait()

	ts := d.now()
	samples := make([]models.MetricSample, 0, 2*len(usages)+2)
	var cpuSum, memSum float64
	for _, u := range usages {
		samples = append(samples,
			models.MetricSample{MetricName: "container." + u.name + ".cpu_percent", Value: u.cpuPercent, Timestamp: ts},
			models.MetricSample{MetricName: "container." + u.name + ".memory_percent", Value: u.memoryPercent, Timestamp: ts},
		)
		cpuSum += u.cpuPercent
		memSum += u.memoryPercent
	}
	if n := len(usages); n > 0 {
		samples = append(samples,
			models.MetricSample{MetricName: "containers.cpu_percent", Value: cpuSum / float64(n), Timestamp: ts},
			models.MetricSample{MetricName: "containers.memory_percent", Value: memSum / float64(n), Timestamp: ts},
		)
	}

	if len(errs) > 0 {
		return samples, fmt.Errorf("collection errors: %v", errs)
	}
	return samples, nil
}

func (d *DockerSource) collectWithRetry(ctx context.Context, c types.Container) (containerUsage, error) {
	var usage containerUsage
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay), retryAttempts-1), ctx)
	err := backoff.Retry(func() error {
		var err error
		usage, err = d.collectContainer(ctx, c)
		return err
	}, b)
	if err != nil {
		return containerUsage{}, fmt.Errorf("failed after %d attempts: %w", retryAttempts, err)
	}
	return usage, nil
}

func (d *DockerSource) collectContainer(ctx context.Context, c types.Container) (containerUsage, error) {
	resp, err := d.client.ContainerStats(ctx, c.ID, false)
	if err != nil {
		return containerUsage{}, err
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return containerUsage{}, err
	}

	memoryPercent := 0.0
	if stats.MemoryStats.Limit > 0 {
		memoryPercent = float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
	}

	return containerUsage{
		name:          containerName(c),
		cpuPercent:    calculateCPUPercentUnix(stats),
		memoryPercent: memoryPercent,
	}, nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

func calculateCPUPercentUnix(stats types.StatsJSON) float64 {
	cpuPercent := 0.0
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if systemDelta > 0.0 && cpuDelta > 0.0 {
		cpuPercent = (cpuDelta / systemDelta) * cpus * 100.0
	}
	return cpuPercent
}
