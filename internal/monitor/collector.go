package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source produces a batch of samples each time the collector polls it.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]models.MetricSample, error)
}

// Recorder is the ingest side of the sample store.
type Recorder interface {
	RecordSample(sample models.MetricSample) error
}

type Collector struct {
	recorder Recorder
	sources  []Source
	interval time.Duration
	logger   *logrus.Logger
	metrics  *CollectorMetrics
}

type CollectorMetrics struct {
	mutex               sync.RWMutex
	totalCollections    uint64
	failedCollections   uint64
	samplesRecorded     uint64
	samplesRejected     uint64
	totalProcessingTime time.Duration
}

func NewCollector(recorder Recorder, interval time.Duration, logger *logrus.Logger, sources ...Source) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		recorder: recorder,
		sources:  sources,
		interval: interval,
		logger:   logger,
		metrics:  &CollectorMetrics{},
	}
}

func (c *Collector) AddSource(src Source) {
	c.sources = append(c.sources, src)
}

func (c *Collector) Sources() int {
	return len(c.sources)
}

// Run polls every source once immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := c.CollectOnce(ctx); err != nil {
		c.logger.WithError(err).Warn("Error collecting metrics")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.CollectOnce(ctx); err != nil {
				c.logger.WithError(err).Warn("Error collecting metrics")
			}
		case <-ctx.Done():
			return
		}
	}
}

// CollectOnce polls all sources concurrently and records what they return.
// A failing source does not prevent the others from being recorded.
func (c *Collector) CollectOnce(ctx context.Context) error {
	startTime := time.Now()
	defer func() {
		c.metrics.mutex.Lock()
		c.metrics.totalProcessingTime += time.Since(startTime)
		c.metrics.totalCollections++
		c.metrics.mutex.Unlock()
	}()

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		src := src
		g.Go(func() error {
			samples, err := src.Collect(gctx)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("source %s: %w", src.Name(), err))
				mu.Unlock()
			}
			c.record(src.Name(), samples)
			return nil
		})
	}
	_ = g.Wait()

	if err := result.ErrorOrNil(); err != nil {
		c.metrics.mutex.Lock()
		c.metrics.failedCollections++
		c.metrics.mutex.Unlock()
		return err
	}
	return nil
}

func (c *Collector) record(source string, samples []models.MetricSample) {
	var ok, rejected uint64
	for _, s := range samples {
		if err := c.recorder.RecordSample(s); err != nil {
			rejected++
			c.logger.WithFields(logrus.Fields{
				"source": source,
				"metric": s.MetricName,
			}).WithError(err).Debug("Dropping invalid sample")
			continue
		}
		ok++
	}

	c.metrics.mutex.Lock()
	c.metrics.samplesRecorded += ok
	c.metrics.samplesRejected += rejected
	c.metrics.mutex.Unlock()
}

func (c *Collector) GetMetrics() map[string]interface{} {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()

	avg := 0.0
	if c.metrics.totalCollections > 0 {
		avg = c.metrics.totalProcessingTime.Seconds() / float64(c.metrics.totalCollections)
	}
	return map[string]interface{}{
		"total_collections":   c.metrics.totalCollections,
		"failed_collections":  c.metrics.failedCollections,
		"samples_recorded":    c.metrics.samplesRecorded,
		"samples_rejected":    c.metrics.samplesRejected,
		"avg_processing_time": avg,
		"sources":             len(c.sources),
		"goroutines":          runtime.NumGoroutine(),
	}
}
