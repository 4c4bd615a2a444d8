package engine

import (
	"context"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultInterval = 30 * time.Second

type RuleEvaluator interface {
	Evaluate(now time.Time) []models.RuleEvent
}

type ScalingEvaluator interface {
	Evaluate(now time.Time) []models.ScaleDecision
}

// EventSink accepts rule events for the alert lifecycle.
type EventSink interface {
	Submit(events ...models.RuleEvent) error
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	At        time.Time
	Events    []models.RuleEvent
	Decisions []models.ScaleDecision
	Duration  time.Duration
}

// Scheduler drives the rule and scaling passes on a fixed interval.
type Scheduler struct {
	rules    RuleEvaluator
	scaling  ScalingEvaluator
	sink     EventSink
	interval time.Duration
	now      func() time.Time
	logger   *logrus.Logger

	onTick []func(TickResult)
}

func NewScheduler(rules RuleEvaluator, scaling ScalingEvaluator, sink EventSink, interval time.Duration, now func() time.Time, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		rules:    rules,
		scaling:  scaling,
		sink:     sink,
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// OnTick registers a callback run after every tick, mainly for telemetry.
func (s *Scheduler) OnTick(fn func(TickResult)) {
	s.onTick = append(s.onTick, fn)
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.WithError(err).Error("Scheduler tick failed")
			}
		}
	}
}

// Tick runs the rule pass and the scaling pass concurrently and hands the
// rule events to the lifecycle.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.now()
	result := TickResult{At: now}
	start := time.Now()

	g, _ := errgroup.WithContext(ctx)
	if s.rules != nil {
		g.Go(func() error {
			result.Events = s.rules.Evaluate(now)
			return nil
		})
	}
	if s.scaling != nil {
		g.Go(func() error {
			result.Decisions = s.scaling.Evaluate(now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var err error
	if len(result.Events) > 0 && s.sink != nil {
		err = s.sink.Submit(result.Events...)
	}
	result.Duration = time.Since(start)

	s.logger.WithFields(logrus.Fields{
		"events":    len(result.Events),
		"decisions": len(result.Decisions),
		"duration":  result.Duration.String(),
	}).Debug("Scheduler tick")

	for _, fn := range s.onTick {
		fn(result)
	}
	return result, err
}
