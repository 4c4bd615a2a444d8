package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pulseguard/internal/alert"
	"github.com/pulseguard/internal/logger"
	"github.com/pulseguard/internal/models"
	"github.com/pulseguard/internal/monitor"
	"github.com/pulseguard/internal/report"
	"github.com/pulseguard/internal/scaling"
	"github.com/pulseguard/internal/stream"
	"github.com/pulseguard/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const maxWindowCount = 10000

// Deps are the engine components served over HTTP. Hub and Metrics are
// optional.
type Deps struct {
	Samples   *monitor.SampleStore
	Rules     *alert.RuleStore
	Evaluator *alert.RuleEvaluator
	Lifecycle *alert.LifecycleManager
	Scaling   *scaling.Engine
	Reports   *report.Generator
	Hub       *stream.Hub
	Metrics   *telemetry.Metrics
}

type Server struct {
	deps   Deps
	logger *logrus.Logger
	now    func() time.Time
	router *gin.Engine
	srv    *http.Server
}

func NewServer(deps Deps, logger *logrus.Logger) *Server {
	server := &Server{
		deps:   deps,
		logger: logger,
		now:    time.Now,
		router: gin.New(),
	}
	server.srv = &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.setupRoutes()
	return server
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), logger.Middleware(s.logger))
	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.Middleware())
	}

	s.router.GET("/healthz", s.health)

	api := s.router.Group("/api/v1")
	api.GET("/healthz", s.health)

	metrics := api.Group("/metrics")
	{
		metrics.POST("", s.ingestSamples)
		metrics.GET("", s.listMetrics)
		metrics.GET("/:name/window", s.metricWindow)
		if s.deps.Metrics != nil {
			metrics.GET("/prometheus", gin.WrapH(s.deps.Metrics.Handler()))
		}
	}

	alerts := api.Group("/alerts")
	{
		alerts.GET("", s.listAlerts)
		alerts.GET("/:id", s.getAlert)
		alerts.POST("/:id/acknowledge", s.acknowledgeAlert)
		alerts.POST("/:id/resolve", s.resolveAlert)
	}

	rules := api.Group("/rules")
	{
		rules.GET("", s.listRules)
		rules.GET("/status", s.ruleStatuses)
		rules.GET("/:id", s.getRule)
		rules.PUT("/:id/enable", s.enableRule)
		rules.PUT("/:id/disable", s.disableRule)
		rules.POST("/validate", s.validateRule)
	}

	scale := api.Group("/scaling")
	{
		scale.GET("/policies", s.listPolicies)
		scale.GET("/state", s.scalingStates)
		scale.GET("/state/:policy", s.scalingState)
		scale.PUT("/state/:policy", s.setInstances)
	}

	api.GET("/reports/summary", s.reportSummary)

	if s.deps.Hub != nil {
		api.GET("/stream", s.deps.Hub.Handler())
	}
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	s.srv.Addr = fmt.Sprintf(":%d", port)
	s.logger.WithField("port", port).Info("API server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown is safe to call before Start; Start then returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// writeError maps engine errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var verr *models.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, alert.ErrAlertNotFound),
		errors.Is(err, alert.ErrRuleNotFound),
		errors.Is(err, alert.ErrPolicyNotFound),
		errors.Is(err, scaling.ErrUnknownPolicy):
		status = http.StatusNotFound
	case errors.Is(err, alert.ErrInvalidTransition),
		errors.Is(err, alert.ErrDuplicate):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"time":    s.now().UTC(),
		"alerts":  s.deps.Lifecycle.Counts(),
		"metrics": len(s.deps.Samples.Names()),
	}
	if s.deps.Hub != nil {
		body["stream_clients"] = s.deps.Hub.Clients()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) ingestSamples(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	samples, err := models.DecodeSamples(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid sample payload: %v", err)})
		return
	}
	// reject the whole batch before recording anything
	for i, sample := range samples {
		if err := sample.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "index": i})
			return
		}
	}
	for _, sample := range samples {
		if err := s.deps.Samples.RecordSample(sample); err != nil {
			writeError(c, err)
			return
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SamplesIngested("api", len(samples))
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(samples)})
}

func (s *Server) listMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Samples.Names())
}

func (s *Server) metricWindow(c *gin.Context) {
	name := c.Param("name")
	switch {
	case c.Query("duration") != "":
		d, err := time.ParseDuration(c.Query("duration"))
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be a positive duration such as 5m"})
			return
		}
		c.JSON(http.StatusOK, s.deps.Samples.WindowDuration(name, d, s.now()))
	case c.Query("count") != "":
		n, err := strconv.Atoi(c.Query("count"))
		if err != nil || n <= 0 || n > maxWindowCount {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("count must be between 1 and %d", maxWindowCount)})
			return
		}
		c.JSON(http.StatusOK, s.deps.Samples.WindowCount(name, n))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either duration or count is required"})
	}
}

func (s *Server) listAlerts(c *gin.Context) {
	filter := models.AlertFilter{
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
		RuleID:   c.Query("rule_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Lifecycle.List(filter))
}

func (s *Server) getAlert(c *gin.Context) {
	a, err := s.deps.Lifecycle.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func bindActor(c *gin.Context) (string, bool) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return req.Actor, true
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	actor, ok := bindActor(c)
	if !ok {
		return
	}
	a, err := s.deps.Lifecycle.Acknowledge(c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) resolveAlert(c *gin.Context) {
	actor, ok := bindActor(c)
	if !ok {
		return
	}
	a, err := s.deps.Lifecycle.Resolve(c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listRules(c *gin.Context) {
	if c.Query("enabled") == "true" {
		c.JSON(http.StatusOK, s.deps.Rules.ListEnabledRules())
		return
	}
	c.JSON(http.StatusOK, s.deps.Rules.ListRules())
}

func (s *Server) ruleStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Evaluator.Statuses())
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.deps.Rules.GetRule(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) enableRule(c *gin.Context) {
	s.toggleRule(c, true)
}

func (s *Server) disableRule(c *gin.Context) {
	s.toggleRule(c, false)
}

func (s *Server) toggleRule(c *gin.Context, enabled bool) {
	id := c.Param("id")
	if err := s.deps.Rules.ToggleRule(id, enabled); err != nil {
		writeError(c, err)
		return
	}
	s.logger.WithFields(logrus.Fields{"rule_id": id, "enabled": enabled}).Info("Rule toggled")
	rule, err := s.deps.Rules.GetRule(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// validateRule checks a rule without storing it and reports what it would
// decide against the samples currently held.
func (s *Server) validateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(c, err)
		return
	}
	status, event := s.deps.Evaluator.DryRun(rule, s.now())
	c.JSON(http.StatusOK, gin.H{
		"valid":  true,
		"status": status,
		"event":  event,
	})
}

func (s *Server) listPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Rules.ListScalingPolicies())
}

func (s *Server) scalingStates(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scaling.States())
}

func (s *Server) scalingState(c *gin.Context) {
	name := c.Param("policy")
	if state, ok := s.deps.Scaling.State(name); ok {
		c.JSON(http.StatusOK, state)
		return
	}
	// not evaluated yet
	p, err := s.deps.Rules.GetPolicy(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ScalingState{
		Policy:           p.Name,
		MetricName:       p.MetricName,
		CurrentInstances: p.InitialInstances,
		LastDirection:    models.DirectionNone,
	})
}

func (s *Server) setInstances(c *gin.Context) {
	var req struct {
		CurrentInstances *int `json:"current_instances"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CurrentInstances == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current_instances is required"})
		return
	}
	name := c.Param("policy")
	if err := s.deps.Scaling.SetCurrentInstances(name, *req.CurrentInstances); err != nil {
		writeError(c, err)
		return
	}
	state, _ := s.deps.Scaling.State(name)
	c.JSON(http.StatusOK, state)
}

func (s *Server) reportSummary(c *gin.Context) {
	if s.deps.Reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reports are not available"})
		return
	}
	since := 24 * time.Hour
	if v := c.Query("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration such as 24h"})
			return
		}
		since = d
	}

	now := s.now()
	summary, err := s.deps.Reports.Summarize(now.Add(-since), now)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "text" {
		text, err := s.deps.Reports.RenderText(summary)
		if err != nil {
			writeError(c, err)
			return
		}
		c.String(http.StatusOK, text)
		return
	}
	c.JSON(http.StatusOK, summary)
}
