package report

import (
	"errors"
	"testing"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeHistory struct {
	alerts    []models.Alert
	decisions []models.ScaleDecision
	err       error
}

func (f *fakeHistory) AlertsBetween(since, until time.Time) ([]models.Alert, error) {
	return f.alerts, f.err
}

func (f *fakeHistory) ScaleDecisionsBetween(since, until time.Time) ([]models.ScaleDecision, error) {
	return f.decisions, f.err
}

func ptr(t time.Time) *time.Time { return &t }

func TestGenerator_Summarize(t *testing.T) {
	history := &fakeHistory{
		alerts: []models.Alert{
			{ID: "1", RuleID: "cpu-high", Title: "High CPU", Severity: models.SeverityHigh, Status: models.AlertStatusResolved,
				Occurrences: 3, TriggeredAt: t0, AcknowledgedAt: ptr(t0.Add(2 * time.Minute)), ResolvedAt: ptr(t0.Add(10 * time.Minute))},
			{ID: "2", RuleID: "cpu-high", Title: "High CPU", Severity: models.SeverityCritical, Status: models.AlertStatusActive,
				Occurrences: 1, TriggeredAt: t0.Add(time.Hour)},
			{ID: "3", RuleID: "error-spike", Title: "Errors", Severity: models.SeverityMedium, Status: models.AlertStatusResolved,
				Occurrences: 2, TriggeredAt: t0, AcknowledgedAt: ptr(t0.Add(4 * time.Minute)), ResolvedAt: ptr(t0.Add(20 * time.Minute))},
		},
		decisions: []models.ScaleDecision{
			{Policy: "web", Action: models.ScaleUp, From: 2, To: 3},
			{Policy: "web", Action: models.ScaleUp, From: 3, To: 6, Emergency: true},
			{Policy: "web", Action: models.ScaleDown, From: 6, To: 5},
			{Policy: "api", Action: models.ScaleDown, From: 4, To: 3},
		},
	}

	s, err := NewGenerator(history).Summarize(t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, s.TotalAlerts)
	assert.Equal(t, 1, s.BySeverity["critical"])
	assert.Equal(t, 2, s.ByStatus["resolved"])
	assert.Equal(t, 3*time.Minute, s.MeanTimeToAcknowledge)
	assert.Equal(t, 15*time.Minute, s.MeanTimeToResolve)

	require.Len(t, s.TopRules, 2)
	assert.Equal(t, "cpu-high", s.TopRules[0].RuleID)
	assert.Equal(t, 2, s.TopRules[0].AlertCount)
	assert.Equal(t, 4, s.TopRules[0].Occurrences)
	assert.Equal(t, models.SeverityCritical, s.TopRules[0].MaxSeverity)

	assert.Equal(t, 2, s.ScaleUps)
	assert.Equal(t, 2, s.ScaleDowns)
	assert.Equal(t, 1, s.EmergencyScales)
	require.Len(t, s.Policies, 2)
	assert.Equal(t, PolicySummary{Policy: "web", Actions: 3, PeakInstances: 6, LastInstances: 5}, s.Policies[1])

	text, err := RenderText(s)
	require.NoError(t, err)
	assert.Contains(t, text, "Alerts: 3")
	assert.Contains(t, text, "critical: 1")
	assert.Contains(t, text, "mean time to resolve: 15m0s")
	assert.Contains(t, text, "Scaling: 2 up, 2 down, 1 emergency")
}

func TestGenerator_EmptyAndErrors(t *testing.T) {
	s, err := NewGenerator(&fakeHistory{}).Summarize(t0, t0.Add(time.Hour))
	require.NoError(t, err)
	text, err := RenderText(s)
	require.NoError(t, err)
	assert.Contains(t, text, "mean time to acknowledge: -")

	_, err = NewGenerator(&fakeHistory{err: errors.New("db down")}).Summarize(t0, t0)
	assert.Error(t, err)
}
