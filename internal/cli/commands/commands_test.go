package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeEngine struct {
	pushed []models.MetricSample
	actor  string
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	switch r.Method + " " + r.URL.Path {
	case "GET /api/v1/alerts":
		enc.Encode([]models.Alert{{ID: "a1", RuleID: "cpu-high", Severity: models.SeverityHigh,
			Status: models.AlertStatusActive, ObservedValue: 82.5, Occurrences: 2, TriggeredAt: t0}})
	case "POST /api/v1/alerts/a1/acknowledge":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.actor = body["actor"]
		enc.Encode(models.Alert{ID: "a1", Status: models.AlertStatusAcknowledged})
	case "GET /api/v1/rules/status":
		enc.Encode([]models.RuleStatus{{RuleID: "cpu-high", State: models.RuleStatePending, EvaluatedAt: t0}})
	case "PUT /api/v1/rules/cpu-high/disable":
		enc.Encode(models.AlertRule{ID: "cpu-high"})
	case "POST /api/v1/rules/validate":
		enc.Encode(map[string]interface{}{
			"valid":  true,
			"status": models.RuleStatus{RuleID: "probe", State: models.RuleStateTriggered},
			"event":  models.RuleEvent{Kind: models.RuleTriggered, ObservedValue: 91, Severity: models.SeverityLow},
		})
	case "GET /api/v1/scaling/state/web":
		enc.Encode(models.ScalingState{Policy: "web", MetricName: "cpu", CurrentInstances: 4, LastDirection: models.DirectionUp})
	case "POST /api/v1/metrics":
		json.NewDecoder(r.Body).Decode(&f.pushed)
		w.WriteHeader(http.StatusAccepted)
		enc.Encode(map[string]int{"accepted": len(f.pushed)})
	case "GET /api/v1/reports/summary":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Alerts: 7\n"))
	default:
		w.WriteHeader(http.StatusNotFound)
		enc.Encode(map[string]string{"error": "not found"})
	}
}

func run(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{Use: "pulseguard-cli", SilenceUsage: true}
	root.AddCommand(NewAlertCommand(), NewRuleCommand(), NewScalingCommand(), NewMetricCommand(), NewReportCommand())
	return root
}

func TestCommands(t *testing.T) {
	engine := &fakeEngine{}
	srv := httptest.NewServer(engine)
	defer srv.Close()
	t.Setenv("PULSEGUARD_API_URL", srv.URL)

	out, err := run(t, newRoot(), "alert", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu-high")
	assert.Contains(t, out, "82.50")

	out, err = run(t, newRoot(), "alert", "ack", "a1", "--actor", "ana")
	require.NoError(t, err)
	assert.Contains(t, out, "Alert a1 acknowledged by ana")
	assert.Equal(t, "ana", engine.actor)

	out, err = run(t, newRoot(), "rule", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = run(t, newRoot(), "rule", "disable", "cpu-high")
	require.NoError(t, err)
	assert.Contains(t, out, "Rule cpu-high disabled")

	out, err = run(t, newRoot(), "scaling", "state", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "up")

	out, err = run(t, newRoot(), "metric", "push", "cpu", "71.5", "--at", t0.Format(time.RFC3339))
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded cpu=71.5")
	require.Len(t, engine.pushed, 1)
	assert.True(t, engine.pushed[0].Timestamp.Equal(t0))

	out, err = run(t, newRoot(), "report", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Alerts: 7")

	root := newRoot()
	root.SetIn(bytes.NewBufferString(`{"id":"probe","metric_name":"cpu","comparator":">","threshold":80,"severity":"low"}`))
	out, err = run(t, root, "rule", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "State: triggered")
	assert.Contains(t, out, "Would emit: triggered (value 91.00, severity low)")

	_, err = run(t, newRoot(), "alert", "resolve", "missing")
	assert.Error(t, err)

	_, err = run(t, newRoot(), "metric", "push", "cpu", "lots")
	assert.Error(t, err)
}

func TestRuleValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
rules:
  - id: cpu-high
    metric_name: cpu
    comparator: ">="
    threshold: 70
    sustained_for: 5m
    severity: high
    enabled: true
`), 0644))
	out, err := run(t, newRoot(), "rule", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"rules":[{"id":"x","metric_name":"cpu","comparator":"==","severity":"high"}]}`), 0644))
	_, err = run(t, newRoot(), "rule", "validate", bad)
	assert.Error(t, err)
}
