package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Enable bool `mapstructure:"ENABLE"`
		// Protocol is the OTLP transport: grpc or http.
		Protocol string `mapstructure:"PROTOCOL"`
		Endpoint string `mapstructure:"ENDPOINT"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		// Type selects the storage backend once at startup: postgres, mysql or sqlite.
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		File           string `mapstructure:"FILE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Reward   Reward `mapstructure:"REWARD"`
	Throttle struct {
		Enable bool          `mapstructure:"ENABLE"`
		Limit  int           `mapstructure:"LIMIT"`
		Window time.Duration `mapstructure:"WINDOW"`
	} `mapstructure:"THROTTLE"`
	Rules struct {
		CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	} `mapstructure:"RULES"`
}

// Reward holds the monetary and limit defaults of the engine. Limit values
// here only apply when no limit_configs row has been written by an admin.
type Reward struct {
	CoinsPerUSD             int64  `mapstructure:"COINS_PER_USD"`
	MarkupFactor            string `mapstructure:"MARKUP_FACTOR"`
	PostbackEnforceDailyCap bool   `mapstructure:"POSTBACK_ENFORCE_DAILY_CAP"`
	PostbackDefaultPayout   string `mapstructure:"POSTBACK_DEFAULT_PAYOUT"`
	ResetHour               int    `mapstructure:"RESET_HOUR"`
	Defaults                Limits `mapstructure:"DEFAULTS"`
	NodeID                  int64  `mapstructure:"NODE_ID"`
}

type Limits struct {
	AdsFree          int    `mapstructure:"ADS_FREE"`
	AdsPaid          int    `mapstructure:"ADS_PAID"`
	TasksFree        int    `mapstructure:"TASKS_FREE"`
	TasksPaid        int    `mapstructure:"TASKS_PAID"`
	SurveysFree      int    `mapstructure:"SURVEYS_FREE"`
	SurveysPaid      int    `mapstructure:"SURVEYS_PAID"`
	InstallsFree     int    `mapstructure:"INSTALLS_FREE"`
	InstallsPaid     int    `mapstructure:"INSTALLS_PAID"`
	DailyEarnCapFree string `mapstructure:"DAILY_EARN_CAP_FREE"`
	DailyEarnCapPaid string `mapstructure:"DAILY_EARN_CAP_PAID"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "rewardcore")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("OTEL.ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("PYROSCOPE.ADDR", "http://localhost:4040")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.FILE", "data/rewardcore.db")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("REWARD.COINS_PER_USD", 500)
	v.SetDefault("REWARD.MARKUP_FACTOR", "2")
	v.SetDefault("REWARD.POSTBACK_ENFORCE_DAILY_CAP", true)
	v.SetDefault("REWARD.POSTBACK_DEFAULT_PAYOUT", "0.50")
	v.SetDefault("REWARD.RESET_HOUR", 0)
	v.SetDefault("REWARD.NODE_ID", 1)
	v.SetDefault("REWARD.DEFAULTS.ADS_FREE", 10)
	v.SetDefault("REWARD.DEFAULTS.ADS_PAID", 50)
	v.SetDefault("REWARD.DEFAULTS.TASKS_FREE", 8)
	v.SetDefault("REWARD.DEFAULTS.TASKS_PAID", 8)
	v.SetDefault("REWARD.DEFAULTS.SURVEYS_FREE", 2)
	v.SetDefault("REWARD.DEFAULTS.SURVEYS_PAID", 10)
	v.SetDefault("REWARD.DEFAULTS.INSTALLS_FREE", 5)
	v.SetDefault("REWARD.DEFAULTS.INSTALLS_PAID", 20)
	v.SetDefault("REWARD.DEFAULTS.DAILY_EARN_CAP_FREE", "2.00")
	v.SetDefault("REWARD.DEFAULTS.DAILY_EARN_CAP_PAID", "20.00")
	v.SetDefault("THROTTLE.ENABLE", true)
	v.SetDefault("THROTTLE.LIMIT", 30)
	v.SetDefault("THROTTLE.WINDOW", time.Minute)
	v.SetDefault("RULES.CACHE_TTL", 10*time.Minute)
}

// LoadConfig reads config.yaml from the working directory (optional) and
// overlays environment variables, e.g. DATABASE_TYPE=sqlite.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE.TYPE %q", c.Database.Type)
	}
	if c.Reward.CoinsPerUSD <= 0 {
		return fmt.Errorf("REWARD.COINS_PER_USD must be > 0")
	}
	if c.Reward.ResetHour < 0 || c.Reward.ResetHour > 23 {
		return fmt.Errorf("REWARD.RESET_HOUR must be within 0-23")
	}
	if c.Otel.Enable && c.Otel.Protocol != "grpc" && c.Otel.Protocol != "http" {
		return fmt.Errorf("unsupported OTEL.PROTOCOL %q", c.Otel.Protocol)
	}
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}
	return nil
}
