package alert

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	transitions []models.AlertTransition
	updates     []models.Alert
}

func (r *recorder) OnTransition(t models.AlertTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) OnAlertUpdate(a models.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, a)
}

func (r *recorder) all() []models.AlertTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AlertTransition(nil), r.transitions...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLifecycle(t *testing.T) (*LifecycleManager, *recorder, *fakeClock) {
	t.Helper()
	store := NewRuleStore()
	require.NoError(t, store.AddRule(cpuRule()))
	clock := &fakeClock{now: t0}
	m := NewLifecycleManager(store, 2, clock.Now, quietLogger())
	rec := &recorder{}
	m.AddObserver(rec)
	t.Cleanup(m.Close)
	return m, rec, clock
}

func triggered(at time.Time, value float64, sev models.Severity) models.RuleEvent {
	return models.RuleEvent{
		Kind:          models.RuleTriggered,
		RuleID:        "cpu-high",
		MetricName:    "cpu",
		ObservedValue: value,
		Severity:      sev,
		Timestamp:     at,
	}
}

func cleared(at time.Time) models.RuleEvent {
	return models.RuleEvent{Kind: models.RuleCleared, RuleID: "cpu-high", MetricName: "cpu", Timestamp: at}
}

func TestLifecycle_TriggerCreatesAlert(t *testing.T) {
	m, rec, _ := newLifecycle(t)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.AlertStatus(""), tr.From)
	assert.Equal(t, models.AlertStatusActive, tr.To)
	assert.Equal(t, ReasonTriggered, tr.Reason)

	a := tr.Alert
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "cpu-high", a.RuleID)
	assert.Equal(t, "High CPU", a.Title)
	assert.Equal(t, 1, a.Occurrences)
	assert.Equal(t, t0, a.TriggeredAt)
	assert.Equal(t, []string{"slack-ops"}, a.Channels)
	assert.Len(t, rec.all(), 1)
}

func TestLifecycle_RetriggerIncrementsOccurrences(t *testing.T) {
	m, rec, _ := newLifecycle(t)

	first, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)

	tr, err := m.Apply(triggered(t0.Add(30*time.Second), 78, models.SeverityHigh))
	require.NoError(t, err)
	assert.Nil(t, tr)

	a, err := m.Get(first.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Occurrences)
	assert.Equal(t, t0, a.TriggeredAt)
	assert.Equal(t, t0.Add(30*time.Second), a.LastTriggeredAt)
	assert.Equal(t, 78.0, a.ObservedValue)
	assert.Len(t, rec.all(), 1)
}

func TestLifecycle_EscalationWhileActive(t *testing.T) {
	m, _, _ := newLifecycle(t)

	_, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)

	tr, err := m.Apply(triggered(t0.Add(time.Minute), 95, models.SeverityCritical))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.AlertStatusActive, tr.From)
	assert.Equal(t, models.AlertStatusActive, tr.To)
	assert.Equal(t, ReasonEscalated, tr.Reason)
	assert.Equal(t, models.SeverityCritical, tr.Alert.Severity)
	assert.Equal(t, "high", tr.Alert.Metadata["escalated_from"])
}

func TestLifecycle_AcknowledgeThenCleared(t *testing.T) {
	m, rec, clock := newLifecycle(t)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	id := tr.Alert.ID

	clock.Advance(time.Minute)
	a, err := m.Acknowledge(id, "ops")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, a.Status)
	assert.Equal(t, "ops", a.AcknowledgedBy)
	require.NotNil(t, a.AcknowledgedAt)

	// same severity re-trigger keeps it acknowledged
	tr, err = m.Apply(triggered(t0.Add(90*time.Second), 80, models.SeverityHigh))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = m.Apply(cleared(t0.Add(10 * time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.AlertStatusAcknowledged, tr.From)
	assert.Equal(t, models.AlertStatusResolved, tr.To)
	assert.Equal(t, ReasonCleared, tr.Reason)
	assert.Equal(t, SystemActor, tr.Alert.ResolvedBy)
	require.NotNil(t, tr.Alert.ResolvedAt)
	assert.False(t, tr.Alert.ResolvedAt.Before(tr.Alert.TriggeredAt))

	_, open := m.OpenAlert("cpu-high")
	assert.False(t, open)

	reasons := []string{}
	for _, tr := range rec.all() {
		reasons = append(reasons, tr.Reason)
	}
	assert.Equal(t, []string{ReasonTriggered, ReasonAcknowledged, ReasonCleared}, reasons)
}

func TestLifecycle_EscalationReopensAcknowledged(t *testing.T) {
	m, _, _ := newLifecycle(t)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	_, err = m.Acknowledge(tr.Alert.ID, "ops")
	require.NoError(t, err)

	tr, err = m.Apply(triggered(t0.Add(time.Minute), 96, models.SeverityCritical))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.AlertStatusAcknowledged, tr.From)
	assert.Equal(t, models.AlertStatusActive, tr.To)
	assert.Equal(t, models.SeverityCritical, tr.Alert.Severity)
	assert.Equal(t, "ops", tr.Alert.Metadata["acknowledged_by"])
	assert.Empty(t, tr.Alert.AcknowledgedBy)

	// it can be acknowledged again
	_, err = m.Acknowledge(tr.Alert.ID, "oncall")
	assert.NoError(t, err)
}

func TestLifecycle_ResolvedAtNeverBeforeTriggeredAt(t *testing.T) {
	m, _, _ := newLifecycle(t)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)

	// clock is behind the event timestamp
	tr, err = m.Apply(cleared(t0.Add(-time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, t0, *tr.Alert.ResolvedAt)
}

func TestLifecycle_RetriggerAfterResolveGetsNewID(t *testing.T) {
	m, _, _ := newLifecycle(t)

	first, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	_, err = m.Resolve(first.Alert.ID, "ops")
	require.NoError(t, err)

	second, err := m.Apply(triggered(t0.Add(time.Hour), 75, models.SeverityHigh))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Alert.ID, second.Alert.ID)
	assert.Equal(t, 1, second.Alert.Occurrences)

	old, err := m.Get(first.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, old.Status)
}

func TestLifecycle_InvalidOperatorTransitions(t *testing.T) {
	m, _, _ := newLifecycle(t)

	_, err := m.Acknowledge("missing", "ops")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = m.Resolve("missing", "ops")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	id := tr.Alert.ID

	var verr *models.ValidationError
	_, err = m.Acknowledge(id, "")
	assert.ErrorAs(t, err, &verr)

	_, err = m.Acknowledge(id, "ops")
	require.NoError(t, err)
	_, err = m.Acknowledge(id, "ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Resolve(id, "ops")
	require.NoError(t, err)
	_, err = m.Resolve(id, "ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Acknowledge(id, "ops")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycle_ClearWithoutOpenAlertIsNoop(t *testing.T) {
	m, rec, _ := newLifecycle(t)
	tr, err := m.Apply(cleared(t0))
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Empty(t, rec.all())
}

func TestLifecycle_UnknownRule(t *testing.T) {
	m, _, _ := newLifecycle(t)
	ev := triggered(t0, 1, models.SeverityLow)
	ev.RuleID = "ghost"
	_, err := m.Apply(ev)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestLifecycle_SubmitPreservesPerRuleOrder(t *testing.T) {
	m, rec, _ := newLifecycle(t)

	events := make([]models.RuleEvent, 0, 40)
	for i := 0; i < 20; i++ {
		at := t0.Add(time.Duration(2*i) * time.Minute)
		events = append(events, triggered(at, 75, models.SeverityHigh), cleared(at.Add(time.Minute)))
	}
	require.NoError(t, m.Submit(events...))
	m.Drain()

	all := rec.all()
	require.Len(t, all, 40)
	for i, tr := range all {
		if i%2 == 0 {
			assert.Equal(t, models.AlertStatusActive, tr.To, fmt.Sprintf("transition %d", i))
		} else {
			assert.Equal(t, models.AlertStatusResolved, tr.To, fmt.Sprintf("transition %d", i))
		}
	}
	assert.Len(t, m.List(models.AlertFilter{Status: models.AlertStatusResolved}), 20)
}

func TestLifecycle_SubmitAfterClose(t *testing.T) {
	m, _, _ := newLifecycle(t)
	m.Close()
	assert.ErrorIs(t, m.Submit(triggered(t0, 75, models.SeverityHigh)), ErrClosed)
}

func TestLifecycle_AnnotateDelivery(t *testing.T) {
	m, rec, _ := newLifecycle(t)
	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)

	err = m.AnnotateDelivery(tr.Alert.ID, models.DeliveryResult{
		ChannelID: "slack-ops",
		Status:    models.DeliveryFailed,
		Attempts:  3,
		Error:     "timeout",
	})
	require.NoError(t, err)

	a, err := m.Get(tr.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, a.Status)
	assert.Equal(t, "failed", a.Metadata["delivery.slack-ops"])
	assert.Equal(t, "timeout", a.Metadata["delivery.slack-ops.error"])
	assert.Equal(t, "3", a.Metadata["delivery.slack-ops.attempts"])
	assert.Len(t, rec.updates, 1)

	assert.ErrorIs(t, m.AnnotateDelivery("nope", models.DeliveryResult{ChannelID: "x"}), ErrAlertNotFound)
}

func TestLifecycle_ListPruneRestore(t *testing.T) {
	m, _, _ := newLifecycle(t)
	first, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	_, err = m.Apply(cleared(t0.Add(time.Minute)))
	require.NoError(t, err)
	second, err := m.Apply(triggered(t0.Add(2*time.Minute), 75, models.SeverityHigh))
	require.NoError(t, err)

	all := m.List(models.AlertFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, second.Alert.ID, all[0].ID)
	assert.Len(t, m.List(models.AlertFilter{Severity: models.SeverityLow}), 0)
	assert.Equal(t, 1, m.Counts()[models.AlertStatusActive])

	assert.Equal(t, 1, m.Prune(t0.Add(time.Hour)))
	_, err = m.Get(first.Alert.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)

	other, _, _ := newLifecycle(t)
	assert.Equal(t, 1, other.Restore(m.List(models.AlertFilter{})))
	restored, ok := other.OpenAlert("cpu-high")
	require.True(t, ok)
	assert.Equal(t, second.Alert.ID, restored.ID)
}

func TestLifecycle_DrainWhileSubmitting(t *testing.T) {
	m, _, _ := newLifecycle(t)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				at := t0.Add(time.Duration(g*100+i) * time.Second)
				_ = m.Submit(triggered(at, 75, models.SeverityHigh), cleared(at))
			}
		}(g)
	}

	drained := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			m.Drain()
		}
		close(drained)
	}()

	wg.Wait()
	m.Drain()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not return")
	}

	m.pendingMutex.Lock()
	defer m.pendingMutex.Unlock()
	assert.Equal(t, 0, m.pending)
}

func TestLifecycle_RevisionGrowsWithEveryChange(t *testing.T) {
	m, rec, _ := newLifecycle(t)

	tr, err := m.Apply(triggered(t0, 75, models.SeverityHigh))
	require.NoError(t, err)
	id := tr.Alert.ID
	revisions := []int64{tr.Alert.Revision}

	acked, err := m.Acknowledge(id, "ana")
	require.NoError(t, err)
	revisions = append(revisions, acked.Revision)

	require.NoError(t, m.AnnotateDelivery(id, models.DeliveryResult{AlertID: id, ChannelID: "slack-ops", Status: models.DeliveryDelivered}))
	require.Len(t, rec.updates, 1)
	revisions = append(revisions, rec.updates[0].Revision)

	resolved, err := m.Resolve(id, "ana")
	require.NoError(t, err)
	revisions = append(revisions, resolved.Revision)

	for i := 1; i < len(revisions); i++ {
		assert.Greater(t, revisions[i], revisions[i-1])
	}
}
