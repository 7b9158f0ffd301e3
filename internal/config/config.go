package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Booking  BookingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type GatewayConfig struct {
	KeyID       string
	KeySecret   string
	Currency    string
	RedirectURL string
}

// BookingConfig holds the reservation lifecycle knobs: how long an approved
// vendor has to pay and how often the sweeper reclaims lapsed windows.
type BookingConfig struct {
	PaymentWindow time.Duration
	SweepInterval time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: envOr("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	postgresPort, err := envInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresCfg := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		Host:     envOr("POSTGRES_HOST", "localhost"),
		Port:     postgresPort,
		SSLMode:  envOr("POSTGRES_SSLMODE", "disable"),
	}
	for name, v := range map[string]string{
		"POSTGRES_USER":     postgresCfg.User,
		"POSTGRES_PASSWORD": postgresCfg.Password,
		"POSTGRES_DB":       postgresCfg.Name,
	} {
		if v == "" {
			return nil, fmt.Errorf("%s: missing %s", op, name)
		}
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("%s: missing JWT_SECRET", op)
	}

	gatewayCfg := GatewayConfig{
		KeyID:       os.Getenv("GATEWAY_KEY_ID"),
		KeySecret:   os.Getenv("GATEWAY_KEY_SECRET"),
		Currency:    envOr("GATEWAY_CURRENCY", "INR"),
		RedirectURL: envOr("GATEWAY_REDIRECT_URL", "/payments/status"),
	}
	if gatewayCfg.KeyID == "" || gatewayCfg.KeySecret == "" {
		return nil, fmt.Errorf("%s: missing GATEWAY_KEY_ID or GATEWAY_KEY_SECRET", op)
	}

	paymentWindow, err := envDuration("PAYMENT_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sweepInterval, err := envDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Auth:     AuthConfig{JWTSecret: jwtSecret},
		Gateway:  gatewayCfg,
		Booking: BookingConfig{
			PaymentWindow: paymentWindow,
			SweepInterval: sweepInterval,
		},
	}, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
