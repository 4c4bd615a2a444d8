package scaling

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrUnknownPolicy = errors.New("unknown scaling policy")

// DefaultMaxStaleness matches the default evaluation interval.
const DefaultMaxStaleness = 30 * time.Second

type PolicySource interface {
	ListScalingPolicies() []models.ScalingPolicy
}

type SampleReader interface {
	Latest(name string) (models.MetricSample, bool)
	WindowDuration(name string, d time.Duration, now time.Time) []models.MetricSample
}

// Observer receives every decision that changed the instance count.
type Observer interface {
	OnScaleDecision(d models.ScaleDecision)
}

type ObserverFunc func(d models.ScaleDecision)

func (f ObserverFunc) OnScaleDecision(d models.ScaleDecision) { f(d) }

// Engine decides instance counts per policy. A scale action needs the value to
// leave the hysteresis band and the policy cooldown to have elapsed.
type Engine struct {
	policies     PolicySource
	samples      SampleReader
	logger       *logrus.Logger
	maxStaleness time.Duration

	mutex  sync.RWMutex
	states map[string]*models.ScalingState

	obsMutex  sync.RWMutex
	observers []Observer
}

func NewEngine(policies PolicySource, samples SampleReader, logger *logrus.Logger) *Engine {
	return &Engine{
		policies:     policies,
		samples:      samples,
		logger:       logger,
		maxStaleness: DefaultMaxStaleness,
		states:       make(map[string]*models.ScalingState),
	}
}

// SetMaxStaleness bounds the age of the latest sample a policy acts on.
// Averaged policies are bounded by their own window instead. Non-positive
// values restore the default.
func (e *Engine) SetMaxStaleness(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxStaleness
	}
	e.maxStaleness = d
}

func (e *Engine) AddObserver(o Observer) {
	e.obsMutex.Lock()
	defer e.obsMutex.Unlock()
	e.observers = append(e.observers, o)
}

// Evaluate runs every policy once, in name order. Every policy yields a
// decision; only actual scale actions reach the observers.
func (e *Engine) Evaluate(now time.Time) []models.ScaleDecision {
	policies := e.policies.ListScalingPolicies()
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	decisions := make([]models.ScaleDecision, 0, len(policies))
	var actions []models.ScaleDecision
	for i := range policies {
		d, ok := e.evaluateSafely(&policies[i], now)
		if !ok {
			continue
		}
		decisions = append(decisions, d)
		if d.Action != models.ScaleNone {
			actions = append(actions, d)
		}
	}

	for _, d := range actions {
		e.logger.WithFields(logrus.Fields{
			"policy":    d.Policy,
			"action":    d.Action,
			"from":      d.From,
			"to":        d.To,
			"value":     d.Value,
			"emergency": d.Emergency,
		}).Info("Scaling decision")
		e.notify(d)
	}
	return decisions
}

func (e *Engine) evaluateSafely(p *models.ScalingPolicy, now time.Time) (d models.ScaleDecision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"policy": p.Name,
				"panic":  r,
			}).Error("Scaling policy evaluation failed")
			ok = false
		}
	}()
	return e.evaluatePolicy(p, now), true
}

func (e *Engine) evaluatePolicy(p *models.ScalingPolicy, now time.Time) models.ScaleDecision {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	state := e.stateFor(p)
	decision := models.ScaleDecision{
		Policy:     p.Name,
		MetricName: p.MetricName,
		Action:     models.ScaleNone,
		From:       state.CurrentInstances,
		To:         state.CurrentInstances,
		At:         now,
	}

	value, missing := e.value(p, now)
	state.LastEvaluatedAt = now
	if missing != "" {
		decision.Reason = missing
		return decision
	}
	decision.Value = value
	state.LastValue = value

	cooldownElapsed := state.LastScaleActionAt.IsZero() || now.Sub(state.LastScaleActionAt) >= p.Cooldown
	current := state.CurrentInstances

	switch {
	case value >= p.ScaleUpThreshold && current < p.MaxInstances:
		if !cooldownElapsed {
			decision.CooldownActive = true
			decision.Reason = fmt.Sprintf("%.2f >= %.2f but cooldown active until %s",
				value, p.ScaleUpThreshold, state.LastScaleActionAt.Add(p.Cooldown).Format(time.RFC3339))
			return decision
		}
		step := p.Step
		if p.EmergencyMultiplier > 1 && value >= p.ScaleUpThreshold*p.EmergencyMultiplier {
			step = p.EmergencyStep
			decision.Emergency = true
		}
		decision.Action = models.ScaleUp
		decision.To = minInt(current+step, p.MaxInstances)
		decision.Reason = fmt.Sprintf("%.2f >= scale up threshold %.2f", value, p.ScaleUpThreshold)
		if decision.Emergency {
			decision.Reason += fmt.Sprintf(" (emergency x%.2f)", p.EmergencyMultiplier)
		}
	case value <= p.ScaleDownThreshold && current > p.MinInstances:
		if !cooldownElapsed {
			decision.CooldownActive = true
			decision.Reason = fmt.Sprintf("%.2f <= %.2f but cooldown active until %s",
				value, p.ScaleDownThreshold, state.LastScaleActionAt.Add(p.Cooldown).Format(time.RFC3339))
			return decision
		}
		decision.Action = models.ScaleDown
		decision.To = maxInt(current-p.Step, p.MinInstances)
		decision.Reason = fmt.Sprintf("%.2f <= scale down threshold %.2f", value, p.ScaleDownThreshold)
	case value >= p.ScaleUpThreshold:
		decision.Reason = "at max instances"
		return decision
	case value <= p.ScaleDownThreshold:
		decision.Reason = "at min instances"
		return decision
	default:
		decision.Reason = "within band"
		return decision
	}

	state.CurrentInstances = decision.To
	state.LastScaleActionAt = now
	if decision.Action == models.ScaleUp {
		state.LastDirection = models.DirectionUp
	} else {
		state.LastDirection = models.DirectionDown
	}
	return decision
}

// stateFor must be called with the mutex held.
func (e *Engine) stateFor(p *models.ScalingPolicy) *models.ScalingState {
	state, ok := e.states[p.Name]
	if !ok {
		initial := p.InitialInstances
		if initial == 0 {
			initial = p.MinInstances
		}
		state = &models.ScalingState{
			Policy:           p.Name,
			MetricName:       p.MetricName,
			CurrentInstances: initial,
			LastDirection:    models.DirectionNone,
		}
		e.states[p.Name] = state
	}
	// policy bounds may have been tightened since the last pass
	state.CurrentInstances = clamp(state.CurrentInstances, p.MinInstances, p.MaxInstances)
	return state
}

// value returns the policy input, or the reason there is none.
func (e *Engine) value(p *models.ScalingPolicy, now time.Time) (float64, string) {
	if p.Aggregation == models.AggregationAverage {
		window := e.samples.WindowDuration(p.MetricName, p.AverageWindow, now)
		if len(window) == 0 {
			return 0, "no data"
		}
		var sum float64
		for _, s := range window {
			sum += s.Value
		}
		return sum / float64(len(window)), ""
	}
	s, ok := e.samples.Latest(p.MetricName)
	if !ok {
		return 0, "no data"
	}
	if now.Sub(s.Timestamp) > e.maxStaleness {
		return 0, "stale data"
	}
	return s.Value, ""
}

func (e *Engine) notify(d models.ScaleDecision) {
	e.obsMutex.RLock()
	defer e.obsMutex.RUnlock()
	for _, o := range e.observers {
		o.OnScaleDecision(d)
	}
}

// SetCurrentInstances reconciles the engine with the real instance count,
// e.g. after a manual change. It does not start a cooldown.
func (e *Engine) SetCurrentInstances(policy string, n int) error {
	var target *models.ScalingPolicy
	for _, p := range e.policies.ListScalingPolicies() {
		if p.Name == policy {
			p := p
			target = &p
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%s: %w", policy, ErrUnknownPolicy)
	}
	if n < target.MinInstances || n > target.MaxInstances {
		return models.NewValidationError("instances",
			fmt.Sprintf("policy %s: %d is outside [%d, %d]", policy, n, target.MinInstances, target.MaxInstances))
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	state := e.stateFor(target)
	state.CurrentInstances = n
	return nil
}

func (e *Engine) State(policy string) (models.ScalingState, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	s, ok := e.states[policy]
	if !ok {
		return models.ScalingState{}, false
	}
	return *s, true
}

// States returns a copy of every policy state, sorted by policy name.
func (e *Engine) States() []models.ScalingState {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	out := make([]models.ScalingState, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Policy < out[j].Policy })
	return out
}

func clamp(v, lo, hi int) int {
	return maxInt(lo, minInt(v, hi))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
