package alert

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulseguard/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert transition")
	ErrClosed            = errors.New("lifecycle manager closed")
)

const (
	SystemActor = "system"

	ReasonTriggered    = "triggered"
	ReasonEscalated    = "escalated"
	ReasonAcknowledged = "acknowledged"
	ReasonResolved     = "resolved"
	ReasonCleared      = "cleared"

	DefaultShards     = 4
	defaultQueueDepth = 256
)

// Observer receives every alert transition after the state lock is released.
type Observer interface {
	OnTransition(t models.AlertTransition)
}

type ObserverFunc func(t models.AlertTransition)

func (f ObserverFunc) OnTransition(t models.AlertTransition) { f(t) }

// UpdateObserver is implemented by observers that also want alert changes
// that are not state transitions, such as delivery annotations.
type UpdateObserver interface {
	OnAlertUpdate(a models.Alert)
}

// RuleLookup resolves the rule behind an event.
type RuleLookup interface {
	GetRule(id string) (models.AlertRule, error)
}

// LifecycleManager owns every alert and moves it through
// active -> acknowledged -> resolved. At most one alert per rule is open.
type LifecycleManager struct {
	rules  RuleLookup
	now    func() time.Time
	logger *logrus.Logger

	mutex  sync.RWMutex
	alerts map[string]*models.Alert
	open   map[string]string // rule id -> open alert id

	obsMutex  sync.RWMutex
	observers []Observer

	sendMutex sync.RWMutex
	closed    bool
	shards    []chan models.RuleEvent
	workers   sync.WaitGroup

	// pending counts submitted events not yet applied. A plain counter, since
	// Submit and Drain may overlap.
	pendingMutex sync.Mutex
	pendingCond  *sync.Cond
	pending      int
}

func NewLifecycleManager(rules RuleLookup, shards int, now func() time.Time, logger *logrus.Logger) *LifecycleManager {
	if shards <= 0 {
		shards = DefaultShards
	}
	if now == nil {
		now = time.Now
	}
	m := &LifecycleManager{
		rules:  rules,
		now:    now,
		logger: logger,
		alerts: make(map[string]*models.Alert),
		open:   make(map[string]string),
		shards: make([]chan models.RuleEvent, shards),
	}
	m.pendingCond = sync.NewCond(&m.pendingMutex)
	for i := range m.shards {
		m.shards[i] = make(chan models.RuleEvent, defaultQueueDepth)
		m.workers.Add(1)
		go m.worker(m.shards[i])
	}
	return m
}

func (m *LifecycleManager) AddObserver(o Observer) {
	m.obsMutex.Lock()
	defer m.obsMutex.Unlock()
	m.observers = append(m.observers, o)
}

func (m *LifecycleManager) worker(queue <-chan models.RuleEvent) {
	defer m.workers.Done()
	for ev := range queue {
		if _, err := m.Apply(ev); err != nil {
			m.logger.WithFields(logrus.Fields{
				"rule_id": ev.RuleID,
				"kind":    ev.Kind,
			}).WithError(err).Warn("Failed to apply rule event")
		}
		m.donePending()
	}
}

// Submit queues events for asynchronous processing. Events of the same rule
// land on the same shard and are applied in submission order.
func (m *LifecycleManager) Submit(events ...models.RuleEvent) error {
	m.sendMutex.RLock()
	defer m.sendMutex.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ev := range events {
		m.addPending()
		m.shards[shardFor(ev.RuleID, len(m.shards))] <- ev
	}
	return nil
}

func shardFor(ruleID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ruleID))
	return int(h.Sum32() % uint32(n))
}

func (m *LifecycleManager) addPending() {
	m.pendingMutex.Lock()
	m.pending++
	m.pendingMutex.Unlock()
}

func (m *LifecycleManager) donePending() {
	m.pendingMutex.Lock()
	m.pending--
	if m.pending == 0 {
		m.pendingCond.Broadcast()
	}
	m.pendingMutex.Unlock()
}

// Drain blocks until no submitted event is waiting to be applied. Events
// submitted while Drain waits are waited for too.
func (m *LifecycleManager) Drain() {
	m.pendingMutex.Lock()
	for m.pending > 0 {
		m.pendingCond.Wait()
	}
	m.pendingMutex.Unlock()
}

// Close stops accepting events, applies what is queued and stops the workers.
func (m *LifecycleManager) Close() {
	m.sendMutex.Lock()
	if m.closed {
		m.sendMutex.Unlock()
		return
	}
	m.closed = true
	for _, q := range m.shards {
		close(q)
	}
	m.sendMutex.Unlock()
	m.workers.Wait()
}

// Apply processes one rule event synchronously. It returns the transition it
// caused, or nil when the event only updated an open alert or was a no-op.
func (m *LifecycleManager) Apply(ev models.RuleEvent) (*models.AlertTransition, error) {
	if ev.RuleID == "" {
		return nil, models.NewValidationError("rule_id", "event without rule id")
	}
	now := ev.Timestamp
	if now.IsZero() {
		now = m.now()
	}

	var t *models.AlertTransition
	switch ev.Kind {
	case models.RuleTriggered:
		rule, err := m.rules.GetRule(ev.RuleID)
		if err != nil {
			return nil, err
		}
		m.mutex.Lock()
		t = m.trigger(rule, ev, now)
		m.mutex.Unlock()
	case models.RuleCleared:
		m.mutex.Lock()
		if id, ok := m.open[ev.RuleID]; ok {
			t = m.resolve(m.alerts[id], SystemActor, ReasonCleared, now)
		}
		m.mutex.Unlock()
	default:
		return nil, models.NewValidationError("kind", fmt.Sprintf("unknown event kind %q", ev.Kind))
	}

	if t != nil {
		m.notify(*t)
	}
	return t, nil
}

// trigger must be called with the mutex held.
func (m *LifecycleManager) trigger(rule models.AlertRule, ev models.RuleEvent, now time.Time) *models.AlertTransition {
	severity := ev.Severity
	if !severity.Valid() {
		severity = rule.Severity
	}

	id, ok := m.open[rule.ID]
	if !ok {
		title := rule.Name
		if title == "" {
			title = rule.ID
		}
		a := &models.Alert{
			ID:              uuid.New().String(),
			RuleID:          rule.ID,
			MetricName:      rule.MetricName,
			Title:           title,
			Description:     describe(rule, ev.ObservedValue),
			Severity:        severity,
			Status:          models.AlertStatusActive,
			ObservedValue:   ev.ObservedValue,
			Threshold:       rule.Threshold,
			Occurrences:     1,
			TriggeredAt:     now,
			LastTriggeredAt: now,
			Channels:        append([]string(nil), rule.Channels...),
			Metadata:        map[string]string{},
			Revision:        1,
		}
		setWindowMetadata(a, ev)
		m.alerts[a.ID] = a
		m.open[rule.ID] = a.ID
		return &models.AlertTransition{Alert: a.Clone(), From: "", To: a.Status, At: now, Reason: ReasonTriggered}
	}

	a := m.alerts[id]
	a.Occurrences++
	a.LastTriggeredAt = now
	a.ObservedValue = ev.ObservedValue
	a.Revision++
	setWindowMetadata(a, ev)

	if !severity.HigherThan(a.Severity) {
		return nil
	}

	from := a.Status
	a.Metadata["escalated_from"] = string(a.Severity)
	a.Severity = severity
	a.Description = describe(rule, ev.ObservedValue)
	if from == models.AlertStatusAcknowledged {
		a.Metadata["acknowledged_by"] = a.AcknowledgedBy
		if a.AcknowledgedAt != nil {
			a.Metadata["acknowledged_at"] = a.AcknowledgedAt.Format(time.RFC3339)
		}
		a.AcknowledgedAt = nil
		a.AcknowledgedBy = ""
		a.Status = models.AlertStatusActive
	}
	return &models.AlertTransition{Alert: a.Clone(), From: from, To: a.Status, At: now, Reason: ReasonEscalated}
}

// resolve must be called with the mutex held.
func (m *LifecycleManager) resolve(a *models.Alert, actor, reason string, now time.Time) *models.AlertTransition {
	resolvedAt := now
	if resolvedAt.Before(a.TriggeredAt) {
		resolvedAt = a.TriggeredAt
	}
	from := a.Status
	a.Status = models.AlertStatusResolved
	a.ResolvedAt = &resolvedAt
	a.ResolvedBy = actor
	a.Revision++
	delete(m.open, a.RuleID)
	return &models.AlertTransition{Alert: a.Clone(), From: from, To: a.Status, At: resolvedAt, Reason: reason}
}

func (m *LifecycleManager) Acknowledge(id, actor string) (models.Alert, error) {
	if actor == "" {
		return models.Alert{}, models.NewValidationError("actor", "actor is required")
	}
	now := m.now()

	m.mutex.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.mutex.Unlock()
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	if a.Status != models.AlertStatusActive {
		status := a.Status
		m.mutex.Unlock()
		return models.Alert{}, fmt.Errorf("cannot acknowledge %s alert: %w", status, ErrInvalidTransition)
	}
	a.Status = models.AlertStatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = actor
	a.Revision++
	t := models.AlertTransition{Alert: a.Clone(), From: models.AlertStatusActive, To: a.Status, At: now, Reason: ReasonAcknowledged}
	m.mutex.Unlock()

	m.notify(t)
	return t.Alert, nil
}

func (m *LifecycleManager) Resolve(id, actor string) (models.Alert, error) {
	if actor == "" {
		return models.Alert{}, models.NewValidationError("actor", "actor is required")
	}
	now := m.now()

	m.mutex.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.mutex.Unlock()
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	if !a.Status.Open() {
		m.mutex.Unlock()
		return models.Alert{}, fmt.Errorf("alert %s is already resolved: %w", id, ErrInvalidTransition)
	}
	t := m.resolve(a, actor, ReasonResolved, now)
	m.mutex.Unlock()

	m.notify(*t)
	return t.Alert, nil
}

// AnnotateDelivery records the outcome of a notification attempt in the
// alert metadata. It never changes the alert status.
func (m *LifecycleManager) AnnotateDelivery(alertID string, result models.DeliveryResult) error {
	m.mutex.Lock()
	a, ok := m.alerts[alertID]
	if !ok {
		m.mutex.Unlock()
		return fmt.Errorf("alert %s: %w", alertID, ErrAlertNotFound)
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	key := "delivery." + result.ChannelID
	a.Metadata[key] = string(result.Status)
	a.Metadata[key+".attempts"] = strconv.Itoa(result.Attempts)
	if result.Error != "" {
		a.Metadata[key+".error"] = result.Error
	} else {
		delete(a.Metadata, key+".error")
	}
	a.Revision++
	snapshot := a.Clone()
	m.mutex.Unlock()

	m.obsMutex.RLock()
	defer m.obsMutex.RUnlock()
	for _, o := range m.observers {
		if uo, ok := o.(UpdateObserver); ok {
			uo.OnAlertUpdate(snapshot)
		}
	}
	return nil
}

func (m *LifecycleManager) notify(t models.AlertTransition) {
	m.obsMutex.RLock()
	defer m.obsMutex.RUnlock()
	for _, o := range m.observers {
		o.OnTransition(t)
	}
}

func (m *LifecycleManager) Get(id string) (models.Alert, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	return a.Clone(), nil
}

// OpenAlert returns the active or acknowledged alert of a rule, if any.
func (m *LifecycleManager) OpenAlert(ruleID string) (models.Alert, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.open[ruleID]
	if !ok {
		return models.Alert{}, false
	}
	return m.alerts[id].Clone(), true
}

// List returns the alerts matching the filter, newest first.
func (m *LifecycleManager) List(filter models.AlertFilter) []models.Alert {
	m.mutex.RLock()
	out := make([]models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if filter.Match(a) {
			out = append(out, a.Clone())
		}
	}
	m.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out
}

func (m *LifecycleManager) Counts() map[models.AlertStatus]int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	counts := map[models.AlertStatus]int{
		models.AlertStatusActive:       0,
		models.AlertStatusAcknowledged: 0,
		models.AlertStatusResolved:     0,
	}
	for _, a := range m.alerts {
		counts[a.Status]++
	}
	return counts
}

// Prune forgets resolved alerts that were resolved before the cutoff.
func (m *LifecycleManager) Prune(before time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for id, a := range m.alerts {
		if a.Status == models.AlertStatusResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			delete(m.alerts, id)
			n++
		}
	}
	return n
}

// Restore reloads open alerts, typically from the archive after a restart.
// Alerts for rules that already have an open alert are ignored.
func (m *LifecycleManager) Restore(alerts []models.Alert) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for i := range alerts {
		a := alerts[i].Clone()
		if !a.Status.Open() {
			continue
		}
		if _, ok := m.open[a.RuleID]; ok {
			continue
		}
		m.alerts[a.ID] = &a
		m.open[a.RuleID] = a.ID
		n++
	}
	return n
}

func describe(rule models.AlertRule, value float64) string {
	if rule.Description != "" {
		return fmt.Sprintf("%s (current %.2f, threshold %s %.2f)", rule.Description, value, rule.Comparator, rule.Threshold)
	}
	return fmt.Sprintf("%s is %.2f (threshold %s %.2f for %s)",
		rule.MetricName, value, rule.Comparator, rule.Threshold, rule.SustainedFor)
}

func setWindowMetadata(a *models.Alert, ev models.RuleEvent) {
	if ev.Window.Count == 0 {
		return
	}
	a.Metadata["window.samples"] = strconv.Itoa(ev.Window.Count)
	a.Metadata["window.min"] = strconv.FormatFloat(ev.Window.Min, 'f', -1, 64)
	a.Metadata["window.max"] = strconv.FormatFloat(ev.Window.Max, 'f', -1, 64)
}
