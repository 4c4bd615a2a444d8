package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pulseguard/internal/models"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Engine struct {
		EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
		LifecycleShards    int           `mapstructure:"lifecycle_shards"`
		// MaxStaleness bounds how long a sample's value is held; 0 means one
		// evaluation interval.
		MaxStaleness time.Duration `mapstructure:"max_staleness"`
	} `mapstructure:"engine"`

	Ingest struct {
		MaxSamplesPerMetric int           `mapstructure:"max_samples_per_metric"`
		Retention           time.Duration `mapstructure:"retention"`
	} `mapstructure:"ingest"`

	Notify struct {
		MaxAttempts      int           `mapstructure:"max_attempts"`
		BaseDelay        time.Duration `mapstructure:"base_delay"`
		MaxDelay         time.Duration `mapstructure:"max_delay"`
		Concurrency      int           `mapstructure:"concurrency"`
		BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
		BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
		WebhookTimeout   time.Duration `mapstructure:"webhook_timeout"`

		Slack struct {
			Token    string `mapstructure:"token"`
			Username string `mapstructure:"username"`
		} `mapstructure:"slack"`

		Email struct {
			SMTPHost string `mapstructure:"smtp_host"`
			SMTPPort int    `mapstructure:"smtp_port"`
			Username string `mapstructure:"username"`
			Password string `mapstructure:"password"`
			From     string `mapstructure:"from"`
		} `mapstructure:"email"`

		// SMS and phone channels go through an HTTP gateway.
		SMSGatewayURL   string `mapstructure:"sms_gateway_url"`
		PhoneGatewayURL string `mapstructure:"phone_gateway_url"`
	} `mapstructure:"notify"`

	Collector struct {
		Interval time.Duration `mapstructure:"interval"`
		Docker   bool          `mapstructure:"docker"`
		Host     bool          `mapstructure:"host"`
	} `mapstructure:"collector"`

	Retention struct {
		Schedule       string        `mapstructure:"schedule"`
		ResolvedAlerts time.Duration `mapstructure:"resolved_alerts"`
	} `mapstructure:"retention"`

	NATS struct {
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`

	RulesFile string                       `mapstructure:"rules_file"`
	Rules     []models.AlertRule           `mapstructure:"rules"`
	Policies  []models.ScalingPolicy       `mapstructure:"policies"`
	Channels  []models.NotificationChannel `mapstructure:"channels"`
}

// RuleSet returns the rules, policies and channels declared inline.
func (c *Config) RuleSet() models.RuleSet {
	return models.RuleSet{Rules: c.Rules, Policies: c.Policies, Channels: c.Channels}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "data/pulseguard.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.evaluation_interval", "30s")
	v.SetDefault("engine.lifecycle_shards", 4)
	v.SetDefault("engine.max_staleness", "0s")

	v.SetDefault("ingest.max_samples_per_metric", 1024)
	v.SetDefault("ingest.retention", "1h")

	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.base_delay", "2s")
	v.SetDefault("notify.max_delay", "30s")
	v.SetDefault("notify.concurrency", 16)
	v.SetDefault("notify.breaker_threshold", 10)
	v.SetDefault("notify.breaker_timeout", "1m")
	v.SetDefault("notify.webhook_timeout", "10s")
	v.SetDefault("notify.slack.username", "PulseGuard")
	v.SetDefault("notify.email.smtp_port", 587)

	v.SetDefault("collector.interval", "15s")
	v.SetDefault("collector.docker", false)
	v.SetDefault("collector.host", false)

	v.SetDefault("retention.schedule", "@every 1h")
	v.SetDefault("retention.resolved_alerts", "168h")

	v.SetDefault("nats.subject_prefix", "pulseguard")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("PULSEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"server.port",
		"database.path",
		"logging.level",
		"nats.url",
		"notify.slack.token",
		"notify.email.password",
	} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads config.yaml from ./configs or the working directory, or the file
// at path when it is set. A missing file is not an error: defaults are used
// and written out for the next start.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			writeDefaults(v)
		case path != "" && os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

func writeDefaults(v *viper.Viper) {
	if err := os.MkdirAll("configs", 0755); err != nil {
		return
	}
	// best effort; a read-only working directory still starts with defaults
	_ = v.SafeWriteConfigAs(filepath.Join("configs", "config.yaml"))
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Engine.MaxStaleness == 0 {
		cfg.Engine.MaxStaleness = cfg.Engine.EvaluationInterval
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.NewValidationError("server.port", fmt.Sprintf("invalid port %d", c.Server.Port))
	}
	if c.Engine.EvaluationInterval <= 0 {
		return models.NewValidationError("engine.evaluation_interval", "must be positive")
	}
	if c.Engine.MaxStaleness < 0 {
		return models.NewValidationError("engine.max_staleness", "must not be negative")
	}
	if c.Engine.LifecycleShards < 1 {
		return models.NewValidationError("engine.lifecycle_shards", "must be at least 1")
	}
	if c.Collector.Interval <= 0 {
		return models.NewValidationError("collector.interval", "must be positive")
	}
	return nil
}
