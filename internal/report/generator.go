package report

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/pulseguard/internal/models"
)

const maxTopRules = 10

// History is the archive the generator reads from.
type History interface {
	AlertsBetween(since, until time.Time) ([]models.Alert, error)
	ScaleDecisionsBetween(since, until time.Time) ([]models.ScaleDecision, error)
}

type Generator struct {
	history History
	tmpl    *template.Template
}

type Summary struct {
	Since       time.Time      `json:"since"`
	Until       time.Time      `json:"until"`
	TotalAlerts int            `json:"total_alerts"`
	BySeverity  map[string]int `json:"by_severity"`
	ByStatus    map[string]int `json:"by_status"`
	TopRules    []RuleSummary  `json:"top_rules"`

	MeanTimeToAcknowledge time.Duration `json:"mean_time_to_acknowledge"`
	MeanTimeToResolve     time.Duration `json:"mean_time_to_resolve"`

	ScaleUps        int             `json:"scale_ups"`
	ScaleDowns      int             `json:"scale_downs"`
	EmergencyScales int             `json:"emergency_scales"`
	Policies        []PolicySummary `json:"policies"`
}

type RuleSummary struct {
	RuleID      string          `json:"rule_id"`
	Title       string          `json:"title"`
	AlertCount  int             `json:"alert_count"`
	Occurrences int             `json:"occurrences"`
	MaxSeverity models.Severity `json:"max_severity"`
}

type PolicySummary struct {
	Policy        string `json:"policy"`
	Actions       int    `json:"actions"`
	PeakInstances int    `json:"peak_instances"`
	LastInstances int    `json:"last_instances"`
}

func NewGenerator(history History) *Generator {
	return &Generator{
		history: history,
		tmpl:    template.Must(template.New("summary").Funcs(template.FuncMap{"dur": formatDuration}).Parse(summaryTemplate)),
	}
}

func (g *Generator) Summarize(since, until time.Time) (*Summary, error) {
	alerts, err := g.history.AlertsBetween(since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %w", err)
	}
	decisions, err := g.history.ScaleDecisionsBetween(since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %w", err)
	}

	s := &Summary{
		Since:      since,
		Until:      until,
		BySeverity: map[string]int{},
		ByStatus:   map[string]int{},
	}
	processAlerts(s, alerts)
	processDecisions(s, decisions)
	return s, nil
}

func processAlerts(s *Summary, alerts []models.Alert) {
	rules := make(map[string]*RuleSummary)
	var ackTotal, resolveTotal time.Duration
	var acked, resolved int

	for _, a := range alerts {
		s.TotalAlerts++
		s.BySeverity[string(a.Severity)]++
		s.ByStatus[string(a.Status)]++

		if a.AcknowledgedAt != nil {
			ackTotal += a.AcknowledgedAt.Sub(a.TriggeredAt)
			acked++
		}
		if a.ResolvedAt != nil {
			resolveTotal += a.ResolvedAt.Sub(a.TriggeredAt)
			resolved++
		}

		rs, ok := rules[a.RuleID]
		if !ok {
			rs = &RuleSummary{RuleID: a.RuleID, Title: a.Title}
			rules[a.RuleID] = rs
		}
		rs.AlertCount++
		rs.Occurrences += a.Occurrences
		if a.Severity.HigherThan(rs.MaxSeverity) {
			rs.MaxSeverity = a.Severity
		}
	}

	if acked > 0 {
		s.MeanTimeToAcknowledge = ackTotal / time.Duration(acked)
	}
	if resolved > 0 {
		s.MeanTimeToResolve = resolveTotal / time.Duration(resolved)
	}

	for _, rs := range rules {
		s.TopRules = append(s.TopRules, *rs)
	}
	sort.Slice(s.TopRules, func(i, j int) bool {
		if s.TopRules[i].AlertCount != s.TopRules[j].AlertCount {
			return s.TopRules[i].AlertCount > s.TopRules[j].AlertCount
		}
		return s.TopRules[i].RuleID < s.TopRules[j].RuleID
	})
	if len(s.TopRules) > maxTopRules {
		s.TopRules = s.TopRules[:maxTopRules]
	}
}

func processDecisions(s *Summary, decisions []models.ScaleDecision) {
	policies := make(map[string]*PolicySummary)
	for _, d := range decisions {
		switch d.Action {
		case models.ScaleUp:
			s.ScaleUps++
		case models.ScaleDown:
			s.ScaleDowns++
		default:
			continue
		}
		if d.Emergency {
			s.EmergencyScales++
		}

		ps, ok := policies[d.Policy]
		if !ok {
			ps = &PolicySummary{Policy: d.Policy}
			policies[d.Policy] = ps
		}
		ps.Actions++
		if d.To > ps.PeakInstances {
			ps.PeakInstances = d.To
		}
		ps.LastInstances = d.To
	}

	for _, ps := range policies {
		s.Policies = append(s.Policies, *ps)
	}
	sort.Slice(s.Policies, func(i, j int) bool { return s.Policies[i].Policy < s.Policies[j].Policy })
}

// RenderText formats a summary for terminals.
func (g *Generator) RenderText(s *Summary) (string, error) {
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// RenderText formats a summary with the default template.
func RenderText(s *Summary) (string, error) {
	return NewGenerator(nil).RenderText(s)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

const summaryTemplate = `PulseGuard report {{.Since.Format "2006-01-02 15:04"}} - {{.Until.Format "2006-01-02 15:04"}}

Alerts: {{.TotalAlerts}}
  critical: {{index .BySeverity "critical"}}  high: {{index .BySeverity "high"}}  medium: {{index .BySeverity "medium"}}  low: {{index .BySeverity "low"}}
  active: {{index .ByStatus "active"}}  acknowledged: {{index .ByStatus "acknowledged"}}  resolved: {{index .ByStatus "resolved"}}
  mean time to acknowledge: {{dur .MeanTimeToAcknowledge}}
  mean time to resolve: {{dur .MeanTimeToResolve}}
{{if .TopRules}}
Top rules:
{{range .TopRules}}  {{printf "%-24s" .RuleID}} alerts={{.AlertCount}} occurrences={{.Occurrences}} max_severity={{.MaxSeverity}}
{{end}}{{end}}
Scaling: {{.ScaleUps}} up, {{.ScaleDowns}} down, {{.EmergencyScales}} emergency
{{range .Policies}}  {{printf "%-24s" .Policy}} actions={{.Actions}} peak={{.PeakInstances}} last={{.LastInstances}}
{{end}}`
