// Package config assembles the service configuration from config/*.yaml and
// the environment.
package config

import (
	"fmt"
	"time"

	"mailwatch/pkg/config"
)

type Config struct {
	DB         config.DBConfig         `yaml:"db"`
	MQ         config.MQConfig         `yaml:"mq"`
	Redis      config.RedisConfig      `yaml:"redis"`
	JWT        config.JWTConfig        `yaml:"jwt"`
	Server     config.ServerConfig     `yaml:"server"`
	Log        config.LogConfig        `yaml:"log"`
	IMAP       config.IMAPConfig       `yaml:"imap"`
	Listener   config.ListenerConfig   `yaml:"listener"`
	Classifier config.ClassifierConfig `yaml:"classifier"`
	SMS        config.SMSConfig        `yaml:"sms"`
	Vault      config.VaultConfig      `yaml:"vault"`
}

// Load reads base.yaml plus the env overlay from dir, then applies
// environment overrides.
func Load(env, dir string) (*Config, error) {
	merged, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(merged, &cfg); err != nil {
		return nil, fmt.Errorf("config %q: %w", env, err)
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideIMAPFromEnv(&cfg.IMAP)
	config.OverrideClassifierFromEnv(&cfg.Classifier)
	config.OverrideSMSFromEnv(&cfg.SMS)
	config.OverrideVaultFromEnv(&cfg.Vault)

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.SMS.DedupTTL <= 0 {
		cfg.SMS.DedupTTL = 24 * time.Hour
	}
}
