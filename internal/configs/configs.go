/*
Package configs loads the server's settings.

Values come, lowest precedence first, from built-in defaults, an optional
YAML file (--config), environment variables, and command-line flags. The
environment variable names are the ones existing deployments already set
(ENVIRONMENT, PORT, ALLOWED_ORIGINS, JWT_SECRET, DATABASE_URL, ...).
*/
package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int
	NodeID      string

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string
	SessionCookie  string
	RateLimit      float64
	RateBurst      int

	// Persistence Settings
	StoreDriver string
	DatabaseDSN string
	SQLitePath  string

	// Cluster Settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	// Avatar Settings
	S3BucketName      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	AvatarBaseURL     string

	// Messaging Settings
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	TypingTTL           time.Duration
	OfflineGrace        time.Duration
	PresenceScope       string
	PageSize            int
	MaxContentBytes     int
	InboundRate         float64
	InboundBurst        int
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

const devJWTSecret = "your_default_insecure_secret_key_change_me"

// setting is one configuration key with its environment variable and default.
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"environment", "ENVIRONMENT", "development"},
	{"port", "PORT", 8080},
	{"node_id", "NODE_ID", ""},
	{"allowed_origins", "ALLOWED_ORIGINS", ""},
	{"jwt_secret", "JWT_SECRET", ""},
	{"session_cookie", "SESSION_COOKIE", "forum_session"},
	{"rate_limit", "RATE_LIMIT", 5.0},
	{"rate_burst", "RATE_BURST", 20},
	{"store_driver", "STORE_DRIVER", ""},
	{"database_url", "DATABASE_URL", ""},
	{"sqlite_path", "SQLITE_PATH", "forumdm.db"},
	{"redis_addr", "REDIS_ADDR", ""},
	{"redis_password", "REDIS_PASSWORD", ""},
	{"redis_db", "REDIS_DB", 0},
	{"nats_url", "NATS_URL", ""},
	{"s3_bucket_name", "S3_BUCKET_NAME", ""},
	{"s3_endpoint", "S3_ENDPOINT", ""},
	{"s3_region", "S3_REGION", ""},
	{"s3_access_key_id", "S3_ACCESS_KEY_ID", ""},
	{"s3_secret_access_key", "S3_SECRET_ACCESS_KEY", ""},
	{"avatar_base_url", "AVATAR_BASE_URL", ""},
	{"heartbeat_interval", "HEARTBEAT_INTERVAL", 25 * time.Second},
	{"max_missed_heartbeats", "MAX_MISSED_HEARTBEATS", 3},
	{"typing_ttl", "TYPING_TTL", 3 * time.Second},
	{"offline_grace", "OFFLINE_GRACE", time.Duration(0)},
	{"presence_scope", "PRESENCE_SCOPE", "all"},
	{"page_size", "PAGE_SIZE", 10},
	{"max_content_bytes", "MAX_CONTENT_BYTES", 5000},
	{"inbound_rate", "INBOUND_RATE", 20.0},
	{"inbound_burst", "INBOUND_BURST", 40},
}

// LoadConfig parses args (without the program name) and the environment.
// It returns pflag.ErrHelp when --help was requested.
func LoadConfig(args []string) (*AppConfig, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	flags := pflag.NewFlagSet("forumdm", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.String("environment", "development", "running environment (development, production)")
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("store-driver", "", "message store: memory, postgres or sqlite")
	flags.String("node-id", "", "cluster node identifier (default \"local\")")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	for key, name := range map[string]string{
		"environment":  "environment",
		"port":         "port",
		"store_driver": "store-driver",
		"node_id":      "node-id",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", *configFile, err)
		}
	}

	cfg := &AppConfig{
		Environment:         v.GetString("environment"),
		Port:                v.GetInt("port"),
		NodeID:              v.GetString("node_id"),
		AllowedOrigins:      splitList(v.GetString("allowed_origins")),
		JWTSecret:           v.GetString("jwt_secret"),
		SessionCookie:       v.GetString("session_cookie"),
		RateLimit:           v.GetFloat64("rate_limit"),
		RateBurst:           v.GetInt("rate_burst"),
		StoreDriver:         v.GetString("store_driver"),
		DatabaseDSN:         v.GetString("database_url"),
		SQLitePath:          v.GetString("sqlite_path"),
		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		RedisDB:             v.GetInt("redis_db"),
		NATSURL:             v.GetString("nats_url"),
		S3BucketName:        v.GetString("s3_bucket_name"),
		S3Endpoint:          v.GetString("s3_endpoint"),
		S3Region:            v.GetString("s3_region"),
		S3AccessKeyID:       v.GetString("s3_access_key_id"),
		S3SecretAccessKey:   v.GetString("s3_secret_access_key"),
		AvatarBaseURL:       v.GetString("avatar_base_url"),
		HeartbeatInterval:   v.GetDuration("heartbeat_interval"),
		MaxMissedHeartbeats: v.GetInt("max_missed_heartbeats"),
		TypingTTL:           v.GetDuration("typing_ttl"),
		OfflineGrace:        v.GetDuration("offline_grace"),
		PresenceScope:       v.GetString("presence_scope"),
		PageSize:            v.GetInt("page_size"),
		MaxContentBytes:     v.GetInt("max_content_bytes"),
		InboundRate:         v.GetFloat64("inbound_rate"),
		InboundBurst:        v.GetInt("inbound_burst"),
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills environment-dependent defaults and validates the result.
func (c *AppConfig) normalize() error {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.NodeID == "" {
		c.NodeID = "local"
	}

	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", c.Environment)
		}
		c.JWTSecret = devJWTSecret
	}

	if c.StoreDriver == "" {
		if c.IsDevelopment() && c.DatabaseDSN == "" {
			c.StoreDriver = StoreMemory
		} else {
			c.StoreDriver = StorePostgres
		}
	}
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory, postgres or sqlite)", c.StoreDriver)
	}

	if c.S3BucketName != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		return errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET_NAME is set")
	}

	switch c.PresenceScope {
	case "all", "contacts":
	default:
		return fmt.Errorf("unknown PRESENCE_SCOPE %q (want all or contacts)", c.PresenceScope)
	}

	if c.HeartbeatInterval <= 0 || c.MaxMissedHeartbeats < 1 {
		return errors.New("HEARTBEAT_INTERVAL must be positive and MAX_MISSED_HEARTBEATS at least 1")
	}
	if c.PageSize < 1 || c.MaxContentBytes < 1 {
		return errors.New("PAGE_SIZE and MAX_CONTENT_BYTES must be positive")
	}

	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
