package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge configuration, loaded with precedence
// flags > environment > file > defaults.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type KafkaConfig struct {
	BootstrapServers []string `yaml:"bootstrap_servers"`
}

type BridgeConfig struct {
	// ID prefixes every generated consumer instance name.
	ID string `yaml:"id"`
}

type ProducerConfig struct {
	// Compression applied to produced batches: none, gzip, snappy, lz4 or
	// zstd.
	Compression string `yaml:"compression"`
}

type ConsumerConfig struct {
	// IdleTimeout is the inactivity span after which an instance is deleted.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// SweepInterval is how often idle instances are looked for.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PollTimeout bounds a single poll when the request carries no timeout.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// MaxBytes caps the encoded poll response when the request carries no
	// max_bytes.
	MaxBytes int64 `yaml:"max_bytes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Kafka: KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
		},
		Bridge: BridgeConfig{
			ID: "kafka-bridge",
		},
		Producer: ProducerConfig{
			Compression: "none",
		},
		Consumer: ConsumerConfig{
			IdleTimeout:   5 * time.Minute,
			SweepInterval: 10 * time.Second,
			PollTimeout:   1 * time.Second,
			MaxBytes:      10 << 20, // 10MB
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads config from file and environment on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("KAFBRIDGE_HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("KAFBRIDGE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("KAFBRIDGE_BOOTSTRAP_SERVERS"); v != "" {
		c.Kafka.BootstrapServers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFBRIDGE_ID"); v != "" {
		c.Bridge.ID = v
	}
	if v := os.Getenv("KAFBRIDGE_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Consumer.IdleTimeout = d
		}
	}
	if v := os.Getenv("KAFBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
