package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pulseguard/internal/models"
	"github.com/pulseguard/internal/report"
)

const DefaultBaseURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient talks to the engine at PULSEGUARD_API_URL, or localhost:8080.
func NewClient() *Client {
	baseURL := os.Getenv("PULSEGUARD_API_URL")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return NewClientWithURL(baseURL)
}

func NewClientWithURL(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) ListAlerts(status, severity string) ([]models.Alert, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if severity != "" {
		query.Set("severity", severity)
	}

	var alerts []models.Alert
	if err := c.get("/api/v1/alerts", query, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) GetAlert(id string) (*models.Alert, error) {
	var a models.Alert
	if err := c.get("/api/v1/alerts/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) AcknowledgeAlert(id, actor string) (*models.Alert, error) {
	var a models.Alert
	if err := c.send(http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/acknowledge", map[string]string{"actor": actor}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ResolveAlert(id, actor string) (*models.Alert, error) {
	var a models.Alert
	if err := c.send(http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/resolve", map[string]string{"actor": actor}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListRules() ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := c.get("/api/v1/rules", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) RuleStatuses() ([]models.RuleStatus, error) {
	var statuses []models.RuleStatus
	if err := c.get("/api/v1/rules/status", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *Client) SetRuleEnabled(id string, enabled bool) (*models.AlertRule, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var rule models.AlertRule
	if err := c.send(http.MethodPut, "/api/v1/rules/"+url.PathEscape(id)+"/"+action, nil, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// DryRunResult is what the engine would decide for a rule right now.
type DryRunResult struct {
	Valid  bool              `json:"valid"`
	Status models.RuleStatus `json:"status"`
	Event  *models.RuleEvent `json:"event"`
}

func (c *Client) DryRunRule(rule models.AlertRule) (*DryRunResult, error) {
	var result DryRunResult
	if err := c.send(http.MethodPost, "/api/v1/rules/validate", rule, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ScalingStates() ([]models.ScalingState, error) {
	var states []models.ScalingState
	if err := c.get("/api/v1/scaling/state", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) ScalingState(policy string) (*models.ScalingState, error) {
	var state models.ScalingState
	if err := c.get("/api/v1/scaling/state/"+url.PathEscape(policy), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) PushSamples(samples ...models.MetricSample) (int, error) {
	var resp struct {
		Accepted int `json:"accepted"`
	}
	if err := c.send(http.MethodPost, "/api/v1/metrics", samples, &resp); err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

// MetricWindow fetches the last count samples, or the samples of the last
// duration when count is zero.
func (c *Client) MetricWindow(name string, duration time.Duration, count int) ([]models.MetricSample, error) {
	query := url.Values{}
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	} else {
		query.Set("duration", duration.String())
	}

	var samples []models.MetricSample
	if err := c.get("/api/v1/metrics/"+url.PathEscape(name)+"/window", query, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) ReportSummary(since time.Duration) (*report.Summary, error) {
	var s report.Summary
	if err := c.get("/api/v1/reports/summary", url.Values{"since": {since.String()}}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ReportText(since time.Duration) (string, error) {
	resp, err := c.doRequest(http.MethodGet, "/api/v1/reports/summary",
		url.Values{"since": {since.String()}, "format": {"text"}}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	return string(b), nil
}

func (c *Client) get(endpoint string, query url.Values, v interface{}) error {
	resp, err := c.doRequest(http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) send(method, endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(method, endpoint, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(method, endpoint string, query url.Values, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	return resp, nil
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
