package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	SourceMemory = "memory"
	SourceRedis  = "redis"
	SourceDemo   = "demo"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Everything has a default so the binary runs locally with no setup; the
// store and driver source follow PG_DSN / REDIS_ADDR unless set explicitly.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	StoreDriver   string `env:"STORE_DRIVER"`
	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"ride_dispatch"`

	DriverSource  string `env:"DRIVER_SOURCE"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisGeoKey   string `env:"REDIS_GEO_KEY" envDefault:"drivers_geo"`
	DemoCenterLat float64 `env:"DEMO_CENTER_LAT" envDefault:"12.9716"`
	DemoCenterLng float64 `env:"DEMO_CENTER_LNG" envDefault:"77.5946"`

	KafkaBrokers         []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaLocationTopic   string   `env:"KAFKA_LOCATION_TOPIC" envDefault:"driver-locations"`
	KafkaRideEventsTopic string   `env:"KAFKA_RIDE_EVENTS_TOPIC" envDefault:"ride-events"`

	Fare        FareConfig
	MatcherTopN int `env:"MATCHER_TOP_N" envDefault:"8"`

	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

type FareConfig struct {
	BaseFare                float64 `env:"FARE_BASE" envDefault:"50"`
	PerKmStandard           float64 `env:"FARE_PER_KM_STANDARD" envDefault:"15"`
	PerKmMoto               float64 `env:"FARE_PER_KM_MOTO" envDefault:"5"`
	PerKmAuto               float64 `env:"FARE_PER_KM_AUTO" envDefault:"8"`
	AverageSpeedKmh         float64 `env:"AVERAGE_SPEED_KMH" envDefault:"30"`
	ZeroDistanceToleranceKm float64 `env:"ZERO_DISTANCE_TOLERANCE_KM" envDefault:"0.01"`
	RejectZeroDistance      bool    `env:"REJECT_ZERO_DISTANCE" envDefault:"true"`
}

// Tariff converts the env settings into the estimator's config.
func (f FareConfig) Tariff() fare.Config {
	return fare.Config{
		BaseFare: f.BaseFare,
		PerKmRate: map[models.VehicleClass]float64{
			models.VehicleStandard: f.PerKmStandard,
			models.VehicleMoto:     f.PerKmMoto,
			models.VehicleAuto:     f.PerKmAuto,
		},
		AverageSpeedKmh:         f.AverageSpeedKmh,
		ZeroDistanceToleranceKm: f.ZeroDistanceToleranceKm,
		RejectZeroDistance:      f.RejectZeroDistance,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreMemory
		if cfg.PGDSN != "" {
			cfg.StoreDriver = StorePostgres
		}
	}
	cfg.DriverSource = strings.ToLower(strings.TrimSpace(cfg.DriverSource))
	if cfg.DriverSource == "" {
		cfg.DriverSource = SourceMemory
		if cfg.RedisAddr != "" {
			cfg.DriverSource = SourceRedis
		}
	}
	return cfg, cfg.Validate()
}

func (c ServerConfig) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.DriverSource {
	case SourceMemory:
	case SourceRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis driver source"))
		}
	case SourceDemo:
		if err := (models.Coord{Lat: c.DemoCenterLat, Lng: c.DemoCenterLng}).Validate("demo_center"); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DRIVER_SOURCE %q", c.DriverSource))
	}
	if c.MatcherTopN < 0 {
		errs = append(errs, errors.New("MATCHER_TOP_N must be >= 0"))
	}
	if err := c.Fare.Tariff().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ConsumerConfig configures the driver-location consumer.
type ConsumerConfig struct {
	MetricsAddr   string   `env:"METRICS_ADDR" envDefault:":2112"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic    string   `env:"KAFKA_LOCATION_TOPIC" envDefault:"driver-locations"`
	KafkaGroup    string   `env:"KAFKA_GROUP" envDefault:"ride-dispatch-consumer"`
	RedisAddr     string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	RedisGeoKey   string   `env:"REDIS_GEO_KEY" envDefault:"drivers_geo"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

func splitAndTrim(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
