package alert

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
)

// SampleWindow is the read side of the sample store the evaluator needs.
type SampleWindow interface {
	Span(name string, start, end time.Time) ([]models.MetricSample, bool)
}

// RuleSource lists the rules to evaluate, sorted by id.
type RuleSource interface {
	ListEnabledRules() []models.AlertRule
}

// DefaultMaxStaleness matches the default evaluation interval.
const DefaultMaxStaleness = 30 * time.Second

// RuleEvaluator turns sustained threshold breaches into rule events. It is
// level-triggered: a rule whose whole window breaches produces a triggered
// event on every pass until the window clears. A sample's value is held for
// at most maxStaleness; a window whose newest sample is older than that is
// not evaluable.
type RuleEvaluator struct {
	rules        RuleSource
	samples      SampleWindow
	logger       *logrus.Logger
	maxStaleness time.Duration

	mutex    sync.RWMutex
	statuses map[string]models.RuleStatus
}

func NewRuleEvaluator(rules RuleSource, samples SampleWindow, logger *logrus.Logger) *RuleEvaluator {
	return &RuleEvaluator{
		rules:        rules,
		samples:      samples,
		logger:       logger,
		maxStaleness: DefaultMaxStaleness,
		statuses:     make(map[string]models.RuleStatus),
	}
}

// SetMaxStaleness changes how long the newest sample of a window stays
// usable. Non-positive values restore the default.
func (e *RuleEvaluator) SetMaxStaleness(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxStaleness
	}
	e.maxStaleness = d
}

// Evaluate runs every enabled rule in id order and returns the events they
// produced. A rule that panics is logged and marked as errored.
func (e *RuleEvaluator) Evaluate(now time.Time) []models.RuleEvent {
	rules := e.rules.ListEnabledRules()
	events := make([]models.RuleEvent, 0, len(rules))
	statuses := make(map[string]models.RuleStatus, len(rules))

	for i := range rules {
		status, event := e.evaluateSafely(&rules[i], now)
		statuses[status.RuleID] = status
		if event != nil {
			events = append(events, *event)
		}
	}

	e.mutex.Lock()
	e.statuses = statuses
	e.mutex.Unlock()
	return events
}

// DryRun evaluates a single rule against the current samples without
// recording its status.
func (e *RuleEvaluator) DryRun(rule models.AlertRule, now time.Time) (models.RuleStatus, *models.RuleEvent) {
	return e.evaluateSafely(&rule, now)
}

func (e *RuleEvaluator) evaluateSafely(rule *models.AlertRule, now time.Time) (status models.RuleStatus, event *models.RuleEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"rule_id": rule.ID,
				"metric":  rule.MetricName,
				"panic":   r,
			}).Error("Rule evaluation failed")
			status = models.RuleStatus{
				RuleID:      rule.ID,
				State:       models.RuleStateError,
				Detail:      fmt.Sprintf("evaluation panicked: %v", r),
				EvaluatedAt: now,
			}
			event = nil
		}
	}()
	return e.evaluateRule(rule, now)
}

func (e *RuleEvaluator) evaluateRule(rule *models.AlertRule, now time.Time) (models.RuleStatus, *models.RuleEvent) {
	status := models.RuleStatus{RuleID: rule.ID, EvaluatedAt: now}

	window, covered := e.samples.Span(rule.MetricName, now.Add(-rule.SustainedFor), now)
	if !covered {
		status.State = models.RuleStateSkipped
		status.Detail = fmt.Sprintf("no samples of %s cover the last %s", rule.MetricName, rule.SustainedFor)
		return status, nil
	}
	status.Window = models.SummarizeWindow(window)

	newest := window[len(window)-1]
	if age := now.Sub(newest.Timestamp); age > e.maxStaleness {
		status.State = models.RuleStateSkipped
		status.Detail = fmt.Sprintf("newest sample of %s is %s old", rule.MetricName, age)
		return status, nil
	}
	// the anchor alone only says what the value was when the window opened
	if rule.SustainedFor > 0 && len(window) < 2 {
		status.State = models.RuleStateSkipped
		status.Detail = fmt.Sprintf("no samples of %s inside the last %s", rule.MetricName, rule.SustainedFor)
		return status, nil
	}

	breaching := 0
	for _, s := range window {
		if rule.Comparator.Compare(s.Value, rule.Threshold) {
			breaching++
		}
	}

	switch breaching {
	case len(window):
		status.State = models.RuleStateTriggered
		return status, &models.RuleEvent{
			Kind:          models.RuleTriggered,
			RuleID:        rule.ID,
			MetricName:    rule.MetricName,
			ObservedValue: newest.Value,
			Severity:      occurrenceSeverity(rule, window),
			Timestamp:     now,
			Window:        status.Window,
		}
	case 0:
		status.State = models.RuleStateCleared
		return status, &models.RuleEvent{
			Kind:          models.RuleCleared,
			RuleID:        rule.ID,
			MetricName:    rule.MetricName,
			ObservedValue: newest.Value,
			Severity:      rule.Severity,
			Timestamp:     now,
			Window:        status.Window,
		}
	default:
		status.State = models.RuleStatePending
		status.Detail = fmt.Sprintf("%d of %d samples breach", breaching, len(window))
		return status, nil
	}
}

// occurrenceSeverity raises the severity when the whole window is also past
// the escalation threshold.
func occurrenceSeverity(rule *models.AlertRule, window []models.MetricSample) models.Severity {
	if rule.EscalationThreshold == nil {
		return rule.Severity
	}
	for _, s := range window {
		if !rule.Comparator.Compare(s.Value, *rule.EscalationThreshold) {
			return rule.Severity
		}
	}
	return rule.EscalationSeverity
}

// Statuses returns the outcome of the last pass for every evaluated rule, sorted by rule id.
func (e *RuleEvaluator) Statuses() []models.RuleStatus {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	out := make([]models.RuleStatus, 0, len(e.statuses))
	for _, s := range e.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func (e *RuleEvaluator) Status(ruleID string) (models.RuleStatus, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	s, ok := e.statuses[ruleID]
	return s, ok
}
