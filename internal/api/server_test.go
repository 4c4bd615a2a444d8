package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulseguard/internal/alert"
	"github.com/pulseguard/internal/models"
	"github.com/pulseguard/internal/monitor"
	"github.com/pulseguard/internal/report"
	"github.com/pulseguard/internal/scaling"
	"github.com/pulseguard/internal/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type emptyHistory struct{}

func (emptyHistory) AlertsBetween(since, until time.Time) ([]models.Alert, error) {
	return nil, nil
}

func (emptyHistory) ScaleDecisionsBetween(since, until time.Time) ([]models.ScaleDecision, error) {
	return []models.ScaleDecision{{Policy: "web", Action: models.ScaleUp, From: 2, To: 3}}, nil
}

type testEnv struct {
	server    *Server
	lifecycle *alert.LifecycleManager
	rules     *alert.RuleStore
	samples   *monitor.SampleStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(io.Discard)

	rules := alert.NewRuleStore()
	require.NoError(t, rules.AddRule(models.AlertRule{
		ID: "cpu-high", Name: "High CPU", MetricName: "cpu", Comparator: ">=",
		Threshold: 70, SustainedFor: time.Minute, Severity: models.SeverityHigh, Enabled: true,
	}))
	require.NoError(t, rules.AddPolicy(models.ScalingPolicy{
		Name: "web", MetricName: "cpu", ScaleUpThreshold: 80, ScaleDownThreshold: 40,
		MinInstances: 2, MaxInstances: 10, Cooldown: time.Minute,
	}))

	samples := monitor.NewSampleStore(0, 0)
	lifecycle := alert.NewLifecycleManager(rules, 2, func() time.Time { return t0 }, l)
	t.Cleanup(lifecycle.Close)

	srv := NewServer(Deps{
		Samples:   samples,
		Rules:     rules,
		Evaluator: alert.NewRuleEvaluator(rules, samples, l),
		Lifecycle: lifecycle,
		Scaling:   scaling.NewEngine(rules, samples, l),
		Reports:   report.NewGenerator(emptyHistory{}),
		Metrics:   telemetry.NewMetrics(),
	}, l)
	srv.now = func() time.Time { return t0 }

	return &testEnv{server: srv, lifecycle: lifecycle, rules: rules, samples: samples}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewBuffer(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestIngestAndWindow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/metrics", []models.MetricSample{
		{MetricName: "cpu", Value: 71, Timestamp: t0.Add(-2 * time.Minute)},
		{MetricName: "cpu", Value: 75, Timestamp: t0.Add(-time.Minute)},
		{MetricName: "cpu", Value: 78, Timestamp: t0},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(http.MethodPost, "/api/v1/metrics", models.MetricSample{MetricName: "mem", Value: 10, Timestamp: t0})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(http.MethodGet, "/api/v1/metrics/cpu/window?count=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var window []models.MetricSample
	decode(t, w, &window)
	require.Len(t, window, 2)
	assert.Equal(t, 75.0, window[0].Value)

	w = env.do(http.MethodGet, "/api/v1/metrics/cpu/window?duration=90s", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &window)
	assert.Len(t, window, 2)

	w = env.do(http.MethodGet, "/api/v1/metrics", nil)
	var names []string
	decode(t, w, &names)
	assert.ElementsMatch(t, []string{"cpu", "mem"}, names)
}

func TestIngestRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"name":`},
		{"missing name", `{"value":1,"timestamp":"2024-03-01T09:00:00Z"}`},
		{"missing timestamp", `{"name":"cpu","value":1}`},
		{"one bad in batch", `[{"name":"cpu","value":1,"timestamp":"2024-03-01T09:00:00Z"},{"name":"","value":1,"timestamp":"2024-03-01T09:00:00Z"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/v1/metrics", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, env.samples.Names())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/metrics/cpu/window", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/metrics/cpu/window?count=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/metrics/cpu/window?duration=abc", nil).Code)
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.lifecycle.Apply(models.RuleEvent{
		Kind: models.RuleTriggered, RuleID: "cpu-high", MetricName: "cpu", ObservedValue: 80, Timestamp: t0,
	})
	require.NoError(t, err)
	id := tr.Alert.ID

	w := env.do(http.MethodGet, "/api/v1/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []models.Alert
	decode(t, w, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, id, alerts[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/alerts?status=bogus", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/alerts/nope", nil).Code)

	// missing actor
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/alerts/nope/acknowledge", actorRequest{Actor: "ana"}).Code)

	w = env.do(http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", actorRequest{Actor: "ana"})
	require.Equal(t, http.StatusOK, w.Code)
	var acked models.Alert
	decode(t, w, &acked)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "ana", acked.AcknowledgedBy)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", actorRequest{Actor: "ana"}).Code)

	w = env.do(http.MethodPost, "/api/v1/alerts/"+id+"/resolve", actorRequest{Actor: "ana"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/v1/alerts/"+id+"/resolve", actorRequest{Actor: "ana"}).Code)
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPut, "/api/v1/rules/cpu-high/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rule models.AlertRule
	decode(t, w, &rule)
	assert.False(t, rule.Enabled)

	w = env.do(http.MethodGet, "/api/v1/rules?enabled=true", nil)
	var rules []models.AlertRule
	decode(t, w, &rules)
	assert.Empty(t, rules)

	assert.Equal(t, http.StatusOK, env.do(http.MethodPut, "/api/v1/rules/cpu-high/enable", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/v1/rules/nope/enable", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/rules/status", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/rules/cpu-high", nil).Code)
}

func TestValidateRule(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.samples.Record("cpu", 90, t0.Add(time.Duration(i-2)*30*time.Second)))
	}

	w := env.do(http.MethodPost, "/api/v1/rules/validate", models.AlertRule{
		ID: "probe", MetricName: "cpu", Comparator: ">", Threshold: 80,
		SustainedFor: time.Minute, Severity: models.SeverityLow, Enabled: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Valid  bool              `json:"valid"`
		Status models.RuleStatus `json:"status"`
		Event  *models.RuleEvent `json:"event"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Valid)
	assert.Equal(t, models.RuleStateTriggered, resp.Status.State)
	require.NotNil(t, resp.Event)

	w = env.do(http.MethodPost, "/api/v1/rules/validate", models.AlertRule{
		ID: "bad", MetricName: "cpu", Comparator: "==", Threshold: 80, Severity: models.SeverityLow,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScalingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/scaling/state/web", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state models.ScalingState
	decode(t, w, &state)
	assert.Equal(t, 2, state.CurrentInstances)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/scaling/state/nope", nil).Code)

	w = env.do(http.MethodPut, "/api/v1/scaling/state/web", map[string]int{"current_instances": 5})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &state)
	assert.Equal(t, 5, state.CurrentInstances)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/v1/scaling/state/web", map[string]int{"current_instances": 50}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/v1/scaling/state/nope", map[string]int{"current_instances": 5}).Code)

	w = env.do(http.MethodGet, "/api/v1/scaling/policies", nil)
	var policies []models.ScalingPolicy
	decode(t, w, &policies)
	require.Len(t, policies, 1)
	assert.Equal(t, 1, policies[0].Step)
}

func TestReportAndHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/reports/summary?since=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary report.Summary
	decode(t, w, &summary)
	assert.Equal(t, 1, summary.ScaleUps)
	assert.True(t, summary.Until.Equal(t0))

	w = env.do(http.MethodGet, "/api/v1/reports/summary?format=text", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Scaling: 1 up")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/reports/summary?since=-1h", nil).Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)

	w = env.do(http.MethodGet, "/api/v1/metrics/prometheus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pulseguard_http_requests_total")
}
