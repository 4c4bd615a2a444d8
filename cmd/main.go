package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseguard/internal/alert"
	"github.com/pulseguard/internal/api"
	"github.com/pulseguard/internal/bus"
	"github.com/pulseguard/internal/config"
	"github.com/pulseguard/internal/database"
	"github.com/pulseguard/internal/engine"
	"github.com/pulseguard/internal/logger"
	"github.com/pulseguard/internal/models"
	"github.com/pulseguard/internal/monitor"
	"github.com/pulseguard/internal/notify"
	"github.com/pulseguard/internal/report"
	"github.com/pulseguard/internal/scaling"
	"github.com/pulseguard/internal/stream"
	"github.com/pulseguard/internal/telemetry"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "pulseguard",
	Short:        "PulseGuard - metrics alerting and autoscaling decision engine",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default configs/config.yaml)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// countingRecorder reports ingested samples per source.
type countingRecorder struct {
	store   *monitor.SampleStore
	metrics *telemetry.Metrics
	source  string
}

func (r countingRecorder) RecordSample(s models.MetricSample) error {
	if err := r.store.RecordSample(s); err != nil {
		return err
	}
	r.metrics.SamplesIngested(r.source, 1)
	return nil
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := database.Initialize(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	archive := database.NewArchive(database.GetDB(), log)

	rules, err := loadRules(cfg, log)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	hub := stream.NewHub(log)
	samples := monitor.NewSampleStore(cfg.Ingest.MaxSamplesPerMetric, cfg.Ingest.Retention)
	evaluator := alert.NewRuleEvaluator(rules, samples, log)
	evaluator.SetMaxStaleness(cfg.Engine.MaxStaleness)

	lifecycle := alert.NewLifecycleManager(rules, cfg.Engine.LifecycleShards, time.Now, log)
	if open, err := archive.OpenAlerts(); err != nil {
		log.WithError(err).Warn("Failed to restore open alerts")
	} else if n := lifecycle.Restore(open); n > 0 {
		log.WithField("alerts", n).Info("Restored open alerts")
	}

	dispatcher := notify.NewDispatcher(rules, lifecycle, notify.Config{
		MaxAttempts:      cfg.Notify.MaxAttempts,
		BaseDelay:        cfg.Notify.BaseDelay,
		MaxDelay:         cfg.Notify.MaxDelay,
		Concurrency:      cfg.Notify.Concurrency,
		BreakerThreshold: cfg.Notify.BreakerThreshold,
		BreakerTimeout:   cfg.Notify.BreakerTimeout,
	}, log)
	registerSenders(dispatcher, cfg)
	dispatcher.AddResultObserver(metrics)

	scaler := scaling.NewEngine(rules, samples, log)
	scaler.SetMaxStaleness(cfg.Engine.MaxStaleness)

	lifecycle.AddObserver(archive)
	lifecycle.AddObserver(dispatcher)
	lifecycle.AddObserver(metrics)
	lifecycle.AddObserver(hub)
	scaler.AddObserver(archive)
	scaler.AddObserver(metrics)
	scaler.AddObserver(hub)

	if cfg.NATS.URL != "" {
		b, err := bus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.WithError(err).Warn("NATS unavailable, continuing without the bus")
		} else {
			defer b.Close()
			lifecycle.AddObserver(b)
			scaler.AddObserver(b)
			if _, err := b.SubscribeSamples(countingRecorder{store: samples, metrics: metrics, source: "nats"}); err != nil {
				log.WithError(err).Warn("Failed to subscribe to metric samples")
			}
		}
	}

	scheduler := engine.NewScheduler(evaluator, scaler, lifecycle, cfg.Engine.EvaluationInterval, time.Now, log)
	scheduler.OnTick(metrics.ObserveTick)
	scheduler.OnTick(func(engine.TickResult) {
		metrics.SetAlertCounts(lifecycle.Counts())
	})

	collector := monitor.NewCollector(countingRecorder{store: samples, metrics: metrics, source: "collector"}, cfg.Collector.Interval, log)
	if cfg.Collector.Host {
		collector.AddSource(monitor.NewHostSource(time.Now))
	}
	if cfg.Collector.Docker {
		src, err := monitor.NewDockerSource(time.Now)
		if err != nil {
			log.WithError(err).Warn("Docker source disabled")
		} else {
			collector.AddSource(src)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Retention.Schedule, func() {
		cutoff := time.Now().Add(-cfg.Retention.ResolvedAlerts)
		deleted, err := archive.DeleteResolvedBefore(cutoff)
		if err != nil {
			log.WithError(err).Warn("Failed to prune archived alerts")
		}
		pruned := lifecycle.Prune(cutoff)
		log.WithFields(logrus.Fields{
			"archived": deleted,
			"memory":   pruned,
		}).Info("Pruned resolved alerts")
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", cfg.Retention.Schedule, err)
	}
	c.Start()
	defer c.Stop()

	server := api.NewServer(api.Deps{
		Samples:   samples,
		Rules:     rules,
		Evaluator: evaluator,
		Lifecycle: lifecycle,
		Scaling:   scaler,
		Reports:   report.NewGenerator(archive),
		Hub:       hub,
		Metrics:   metrics,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if collector.Sources() > 0 {
		g.Go(func() error {
			collector.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.Start(cfg.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.WithFields(logrus.Fields{
		"rules":    len(rules.ListRules()),
		"policies": len(rules.ListScalingPolicies()),
		"interval": cfg.Engine.EvaluationInterval,
	}).Info("PulseGuard started")

	err = g.Wait()

	lifecycle.Close()
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if werr := dispatcher.Wait(waitCtx); werr != nil {
		log.WithError(werr).Warn("Notifications still in flight at shutdown")
	}
	log.Info("PulseGuard stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func loadRules(cfg *config.Config, log *logrus.Logger) (*alert.RuleStore, error) {
	rules := alert.NewRuleStore()
	if err := rules.Load(cfg.RuleSet()); err != nil {
		return nil, fmt.Errorf("invalid rules in config: %w", err)
	}
	if cfg.RulesFile != "" {
		if err := rules.ImportFile(cfg.RulesFile); err != nil {
			return nil, err
		}
	}
	if rules.Snapshot().Empty() {
		log.Info("No rules configured, loading the default rule set")
		if err := rules.Load(alert.DefaultRuleSet()); err != nil {
			return nil, fmt.Errorf("failed to load default rules: %w", err)
		}
	}
	return rules, nil
}

// registerSenders always registers webhook and Slack; Slack incoming
// webhooks need no bot token.
func registerSenders(d *notify.Dispatcher, cfg *config.Config) {
	d.RegisterSender(models.ChannelWebhook, notify.NewWebhookSender(cfg.Notify.WebhookTimeout))
	d.RegisterSender(models.ChannelSlack, notify.NewSlackSender(cfg.Notify.Slack.Token, cfg.Notify.Slack.Username))

	if email := cfg.Notify.Email; email.SMTPHost != "" {
		d.RegisterSender(models.ChannelEmail, notify.NewEmailSender(email.SMTPHost, email.SMTPPort, email.Username, email.Password, email.From))
	}
	if cfg.Notify.SMSGatewayURL != "" {
		d.RegisterSender(models.ChannelSMS, notify.NewGatewaySender(cfg.Notify.SMSGatewayURL, cfg.Notify.WebhookTimeout))
	}
	if cfg.Notify.PhoneGatewayURL != "" {
		d.RegisterSender(models.ChannelPhone, notify.NewGatewaySender(cfg.Notify.PhoneGatewayURL, cfg.Notify.WebhookTimeout))
	}
}
