// Package config предоставляет загрузку конфигурации биллинга из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию сервиса биллинга.
type Config struct {
	App        AppConfig
	HTTP       HTTPConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	JWT        JWTConfig
	Jaeger     JaegerConfig
	Metrics    MetricsConfig
	GRPC       GRPCConfig
	RateLimit  RateLimitConfig
	PortOne    PortOneConfig
	Stripe     StripeConfig
	Reconcile  ReconcileConfig
	Membership MembershipConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"membership-billing"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — настройки публичного HTTP сервера.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"75s"` // больше таймаута PortOne: complete ждёт ответа шлюза
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"membership_billing"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"true"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
// Пустой список брокеров переключает сверку на локальную очередь в процессе.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"billing-reconcile"`
}

// Enabled возвращает true, если Kafka настроена.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != ""
}

// JWTConfig — настройки валидации access токенов покупателя (RS256).
// Сервис только проверяет токены, выдаёт их сервис пользователей.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH,required"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"weav-ai"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// GRPCConfig — внутренний gRPC порт (health checking для оркестратора).
type GRPCConfig struct {
	Enabled bool   `env:"GRPC_HEALTH_ENABLED" envDefault:"true"`
	Host    string `env:"GRPC_HOST" envDefault:"0.0.0.0"`
	Port    int    `env:"GRPC_PORT" envDefault:"50060"`
}

// Addr возвращает адрес gRPC сервера.
func (c GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig — настройки ограничения запросов к публичному API.
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// PortOneConfig — настройки платёжного шлюза PortOne V2.
type PortOneConfig struct {
	Enabled       bool          `env:"PORTONE_ENABLED" envDefault:"true"`
	APIBase       string        `env:"PORTONE_API_BASE" envDefault:"https://api.portone.io"`
	APISecret     string        `env:"PORTONE_API_SECRET"`
	WebhookSecret string        `env:"PORTONE_WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"PORTONE_TIMEOUT" envDefault:"30s"`
}

// StripeConfig — подписочный бэкенд Stripe (в этой сборке не поставляется).
type StripeConfig struct {
	Enabled bool `env:"STRIPE_ENABLED" envDefault:"false"`
}

// ReconcileConfig — настройки асинхронной сверки платежей.
type ReconcileConfig struct {
	MaxRetries    int           `env:"RECONCILE_MAX_RETRIES" envDefault:"3"`
	RetryDelay    time.Duration `env:"RECONCILE_RETRY_DELAY" envDefault:"60s"`
	SweepInterval time.Duration `env:"RECONCILE_SWEEP_INTERVAL" envDefault:"1m"`
	StaleAfter    time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"10m"`
	SweepMaxAge   time.Duration `env:"RECONCILE_SWEEP_MAX_AGE" envDefault:"24h"` // брошенные попытки старше не опрашиваются
	BatchSize     int           `env:"RECONCILE_BATCH_SIZE" envDefault:"50"`
	LocalQueue    int           `env:"RECONCILE_LOCAL_QUEUE" envDefault:"256"`
}

// MembershipConfig — параметры активации членства.
type MembershipConfig struct {
	Validity time.Duration `env:"MEMBERSHIP_VALIDITY" envDefault:"720h"` // 30 дней
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет значения, которые env не умеет ограничить тегами.
func (c *Config) validate() error {
	if c.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("RECONCILE_MAX_RETRIES не может быть отрицательным")
	}
	if c.PortOne.Timeout <= 0 {
		return fmt.Errorf("PORTONE_TIMEOUT должен быть больше нуля")
	}
	if c.Reconcile.SweepMaxAge <= c.Reconcile.StaleAfter {
		return fmt.Errorf("RECONCILE_SWEEP_MAX_AGE должен быть больше RECONCILE_STALE_AFTER")
	}
	if c.Membership.Validity <= 0 {
		return fmt.Errorf("MEMBERSHIP_VALIDITY должен быть больше нуля")
	}
	return nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
