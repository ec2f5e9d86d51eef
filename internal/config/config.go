package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Saga      SagaConfig      `mapstructure:"saga"`
	Autonomy  AutonomyConfig  `mapstructure:"autonomy"`
	Outcomes  OutcomesConfig  `mapstructure:"outcomes"`
	QuoteFeed QuoteFeedConfig `mapstructure:"quote_feed"`
	Collab    CollabConfig    `mapstructure:"collab"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RealizeOutcomes string `mapstructure:"realize_outcomes"`
	AutonomousScan  string `mapstructure:"autonomous_scan"`
}

type SagaConfig struct {
	// StepTimeout bounds every external call made from a step; a timeout is a
	// step failure, not a hang.
	StepTimeout   time.Duration `mapstructure:"step_timeout"`
	MaxDriveSteps int           `mapstructure:"max_drive_steps"`
}

type AutonomyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	MaxOrders    int           `mapstructure:"max_orders"`

	// Hard floors. Configured policies can only tighten these, never loosen.
	HardConfidenceFloor float64 `mapstructure:"hard_confidence_floor"`
	HardRiskCeiling     float64 `mapstructure:"hard_risk_ceiling"`
	HardMaxDailyTrades  int     `mapstructure:"hard_max_daily_trades"`
}

type OutcomesConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	MinHoldingDays int           `mapstructure:"min_holding_days"`
	BatchSize      int           `mapstructure:"batch_size"`
}

type QuoteFeedConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxAssets       int           `mapstructure:"max_assets"`
}

type CollabConfig struct {
	ComplianceTimeout time.Duration `mapstructure:"compliance_timeout"`
	OracleTimeout     time.Duration `mapstructure:"oracle_timeout"`
	ShipmentTimeout   time.Duration `mapstructure:"shipment_timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.realize_outcomes", "@every 1h")
	v.SetDefault("cron.autonomous_scan", "@every 30s")

	v.SetDefault("saga.step_timeout", "15s")
	v.SetDefault("saga.max_drive_steps", 10)

	// Autonomy stays disabled by default; the DB kill switch can still force
	// DENY even when this is on.
	v.SetDefault("autonomy.enabled", false)
	v.SetDefault("autonomy.scan_interval", "30s")
	v.SetDefault("autonomy.max_orders", 50)
	v.SetDefault("autonomy.hard_confidence_floor", 0.85)
	v.SetDefault("autonomy.hard_risk_ceiling", 0.30)
	v.SetDefault("autonomy.hard_max_daily_trades", 1)

	v.SetDefault("outcomes.enabled", true)
	v.SetDefault("outcomes.scan_interval", "1h")
	v.SetDefault("outcomes.min_holding_days", 1)
	v.SetDefault("outcomes.batch_size", 100)

	v.SetDefault("quote_feed.enabled", false)
	v.SetDefault("quote_feed.url", "")
	v.SetDefault("quote_feed.refresh_interval", "30s")
	v.SetDefault("quote_feed.max_assets", 200)

	v.SetDefault("collab.compliance_timeout", "10s")
	v.SetDefault("collab.oracle_timeout", "10s")
	v.SetDefault("collab.shipment_timeout", "10s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
