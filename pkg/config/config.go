package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"sslmode"`
	MaxConns           int32         `yaml:"max_conns"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// MQConfig holds the RabbitMQ settings. An empty URL disables event publishing.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis settings used by the alert deduper.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds the secret used to validate API bearer tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// IMAPConfig is the global mailbox account used when a listener runs without
// a user id.
type IMAPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ListenerConfig tunes the per-user polling loop.
type ListenerConfig struct {
	Mailbox        string        `yaml:"mailbox"`
	Interval       time.Duration `yaml:"interval"`
	MaxRetries     int           `yaml:"max_retries"`
	Lookback       time.Duration `yaml:"lookback"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Autostart      bool          `yaml:"autostart"`
}

// ClassifierConfig configures the Gemini provider.
type ClassifierConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SMSConfig configures the SMS gateway and the global fallback recipients.
type SMSConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	Numbers  []string      `yaml:"numbers"`
	Timeout  time.Duration `yaml:"timeout"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// VaultConfig holds the passphrase the credential vault key is derived from.
type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

// OverrideDBFromEnv applies DB_* environment variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
	if mode := os.Getenv("DB_SSLMODE"); mode != "" {
		cfg.SSLMode = mode
	}
}

func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

func OverrideLogFromEnv(cfg *LogConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
}

// OverrideIMAPFromEnv applies the EMAIL_* variables of the global account.
func OverrideIMAPFromEnv(cfg *IMAPConfig) {
	if host := os.Getenv("EMAIL_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("EMAIL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("EMAIL_USER"); user != "" {
		cfg.User = user
	}
	if pass := os.Getenv("EMAIL_PASS"); pass != "" {
		cfg.Password = pass
	}
}

func OverrideClassifierFromEnv(cfg *ClassifierConfig) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		cfg.Model = model
	}
}

// OverrideSMSFromEnv applies SMS_TOKEN and the comma separated SMS_NUMBERS.
func OverrideSMSFromEnv(cfg *SMSConfig) {
	if token := os.Getenv("SMS_TOKEN"); token != "" {
		cfg.Token = token
	}
	if numbers := os.Getenv("SMS_NUMBERS"); numbers != "" {
		cfg.Numbers = SplitList(numbers)
	}
}

func OverrideVaultFromEnv(cfg *VaultConfig) {
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		cfg.Passphrase = key
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
