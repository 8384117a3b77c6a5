package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port         string
	Env          string
	Backend      string
	DBSource     string
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment with viper. The storage
// backend defaults to memory; postgres requires DB_SOURCE.
func Load() (*Config, error) {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("environment", "development")
	viper.SetDefault("storage.backend", BackendMemory)
	viper.SetDefault("storage.db_source", "")
	viper.SetDefault("kafka.brokers", "")
	viper.SetDefault("kafka.topic", "ledger.movements")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.BindEnv("storage.db_source", "DB_SOURCE")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_TOPIC")
	viper.AutomaticEnv()

	cfg := &Config{
		Port:       viper.GetString("server.port"),
		Env:        viper.GetString("environment"),
		Backend:    viper.GetString("storage.backend"),
		DBSource:   viper.GetString("storage.db_source"),
		KafkaTopic: viper.GetString("kafka.topic"),
	}

	if brokers := viper.GetString("kafka.brokers"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE is required when STORAGE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	return cfg, nil
}
