package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Gateway    GatewayConfig
	Reconciler ReconcilerConfig
	Redis      RedisConfig
	Firebase   FirebaseConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // mysql, postgres or sqlite
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// GatewayConfig selects the payment gateway. Provider "mock" wires the
// in-memory gateway and is meant for development only.
type GatewayConfig struct {
	Provider       string
	BaseURL        string
	Email          string
	Password       string
	WebhookSecret  string
	WebhookBaseURL string // callback is WebhookBaseURL + /api/v1/webhooks/payments
	Timeout        time.Duration
	Currency       string

	MockSuccessWeight int
	MockFailureWeight int
	MockPendingWeight int
	MockSeed          int64
}

func (g GatewayConfig) CallbackURL() string {
	if g.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(g.WebhookBaseURL, "/") + "/api/v1/webhooks/payments"
}

type ReconcilerConfig struct {
	Enabled         bool
	Interval        time.Duration
	EscalationAfter time.Duration
	InitiatedGrace  time.Duration
	BatchSize       int
	LeaseTTL        time.Duration
}

// RedisConfig is optional; with no Addr the reconciler uses a process-local lease.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"server.port":                 "PORT",
	"server.env":                  "APP_ENV",
	"database.driver":             "DB_DRIVER",
	"database.dsn":                "DB_DSN",
	"jwt.accesssecret":            "JWT_SECRET",
	"jwt.accessexpiry":            "JWT_ACCESS_EXPIRY",
	"gateway.provider":            "PAYMENT_GATEWAY",
	"gateway.baseurl":             "GATEWAY_BASE_URL",
	"gateway.email":               "GATEWAY_EMAIL",
	"gateway.password":            "GATEWAY_PASSWORD",
	"gateway.webhooksecret":       "GATEWAY_WEBHOOK_SECRET",
	"gateway.webhookbaseurl":      "GATEWAY_WEBHOOK_BASE_URL",
	"gateway.timeout":             "GATEWAY_TIMEOUT",
	"gateway.currency":            "CURRENCY",
	"gateway.mockseed":            "MOCK_GATEWAY_SEED",
	"reconciler.enabled":          "RECONCILER_ENABLED",
	"reconciler.interval":         "RECONCILE_INTERVAL",
	"reconciler.escalationafter":  "RECONCILE_ESCALATION_AFTER",
	"reconciler.initiatedgrace":   "RECONCILE_INITIATED_GRACE",
	"reconciler.batchsize":        "RECONCILE_BATCH_SIZE",
	"redis.addr":                  "REDIS_ADDR",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"firebase.serviceaccountpath": "FIREBASE_SERVICE_ACCOUNT",
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8099",
			Env:          "development",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 45 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "schoolpay:schoolpay@tcp(localhost:3306)/schoolpay?charset=utf8mb4&parseTime=True&loc=UTC",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: "change-me-in-production",
			AccessExpiry: 15 * time.Minute,
			Issuer:       "schoolpay",
		},
		Gateway: GatewayConfig{
			Provider:          "liberec",
			BaseURL:           "https://card-api.theliberec.com",
			Timeout:           30 * time.Second,
			Currency:          "KES",
			MockSuccessWeight: 70,
			MockFailureWeight: 15,
			MockPendingWeight: 15,
		},
		Reconciler: ReconcilerConfig{
			Enabled:         true,
			Interval:        5 * time.Minute,
			EscalationAfter: 24 * time.Hour,
			InitiatedGrace:  10 * time.Minute,
			BatchSize:       200,
			LeaseTTL:        10 * time.Minute,
		},
	}
}

// Load returns the defaults overlaid by an optional config file (yaml, json
// or toml, path in SCHOOLPAY_CONFIG) and then by environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v, v.GetString("SCHOOLPAY_CONFIG"))
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
