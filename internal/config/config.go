package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type DB struct {
	URL             string        `env:"DATABASE_URL,required"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"16"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"8"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"15m"`
}

type HTTP struct {
	Port      string `env:"PORT" envDefault:"8080"`
	JWTSecret string `env:"JWT_SECRET"`
}

// Kafka mirror of the event stream; disabled when no brokers are set.
type Kafka struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	EventTopic       string `env:"KAFKA_EVENT_TOPIC" envDefault:"platform-events"`
}

// Redis relay for multi-instance subscriber fanout; disabled when no
// address is set.
type Redis struct {
	Addr         string `env:"REDIS_ADDR"`
	Password     string `env:"REDIS_PASSWORD"`
	RelayChannel string `env:"REDIS_RELAY_CHANNEL" envDefault:"platform-events"`
}

type Automation struct {
	SweepInterval time.Duration `env:"APPROVAL_SWEEP_INTERVAL" envDefault:"1m"`
}

type Config struct {
	DB         DB
	HTTP       HTTP
	Kafka      Kafka
	Redis      Redis
	Automation Automation
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
