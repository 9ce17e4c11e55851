package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-lockstep/v1/coordinator"
	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/simulator"
)

// Config holds everything the simulator binary can be told. Keys use
// underscores in lockstep.yaml and LOCKSTEP_* variables, hyphens on the
// command line.
type Config struct {
	Coordinator coordinator.Config `mapstructure:",squash"`

	Pairs         int           `mapstructure:"pairs" validate:"gte=0"`
	Transfers     int           `mapstructure:"transfers" validate:"gte=0"`
	Accounts      int           `mapstructure:"accounts" validate:"gte=2"`
	Workers       int           `mapstructure:"workers" validate:"gte=0"`
	WorkDuration  time.Duration `mapstructure:"work_duration" validate:"gte=0"`
	AuditInterval time.Duration `mapstructure:"audit_interval" validate:"gte=0"`

	RedisAddr    string   `mapstructure:"redis_addr"`
	NATSURL      string   `mapstructure:"nats_url"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	MetricsAddr  string   `mapstructure:"metrics_addr"`
	Trace        bool     `mapstructure:"trace"`
	Debug        bool     `mapstructure:"debug"`
}

func newFlagSet() *pflag.FlagSet {
	def := coordinator.DefaultConfig()
	fs := pflag.NewFlagSet("lockstep-sim", pflag.ContinueOnError)
	fs.Int("pairs", 1, "Number of concurrent ServiceA/ServiceB pairs")
	fs.Int("transfers", 0, "Number of random concurrent transfers to run after the pairs")
	fs.Int("accounts", 4, "Number of accounts used by transfers")
	fs.Int("workers", 0, "Executor workers (0 means 4*GOMAXPROCS)")
	fs.Duration("lock-timeout", def.LockTimeout, "Per-lock acquisition timeout")
	fs.Int("max-attempts", def.MaxAttempts, "Attempts per transaction, the first one included")
	fs.Duration("retry-delay", def.RetryDelay, "Pause between attempts")
	fs.Duration("retry-jitter", def.RetryJitter, "Random extra pause added to retry-delay")
	fs.Duration("work-duration", simulator.DefaultWorkDuration, "Simulated work time of ServiceA/ServiceB")
	fs.Duration("audit-interval", 50*time.Millisecond, "Balance audit period during transfers (0 disables periodic audits)")
	fs.String("redis-addr", "", "Keep transfer balances in Redis at this address")
	fs.String("nats-url", "", "Publish transaction events to NATS")
	fs.StringSlice("kafka-brokers", nil, "Publish transaction events to Kafka")
	fs.String("metrics-addr", "", "Serve /metrics and the /events streams on this address")
	fs.Bool("trace", false, "Print OpenTelemetry spans to stdout")
	fs.Bool("debug", false, "Enable development logging")
	fs.String("config", "", "Path to a config file (default ./lockstep.yaml if present)")
	return fs
}

// Load resolves the configuration from defaults, an optional config file,
// LOCKSTEP_* environment variables and command line flags, in increasing
// order of precedence.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	v.SetEnvPrefix("LOCKSTEP")
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lockstep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", lserrors.ErrInvalidConfig, err)
	}
	return &cfg, nil
}
