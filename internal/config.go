package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig only carries the verification half of the operator token
// pair; tokens are minted by the back office.
type SecurityConfig struct {
	JWTPublicKey string `mapstructure:"jwt_public_key"`
	Issuer       string `mapstructure:"issuer"`
}

type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	CollectorID    string        `mapstructure:"collector_id"`
	LookupTimeout  time.Duration `mapstructure:"lookup_timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type WebhookConfig struct {
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Workers    int             `mapstructure:"workers"`
	QueueSize  int             `mapstructure:"queue_size"`
	AckTimeout time.Duration   `mapstructure:"ack_timeout"`
}

type RateLimitConfig struct {
	Backend  string        `mapstructure:"backend"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type PricingConfig struct {
	DefaultSet       string  `mapstructure:"default_set"`
	Currency         string  `mapstructure:"currency"`
	CurrencyDecimals int     `mapstructure:"currency_decimals"`
	SourceTaxRate    float64 `mapstructure:"source_tax_rate"`
	ShippingCost     float64 `mapstructure:"shipping_cost"`
	DestinationVAT   float64 `mapstructure:"destination_vat_rate"`
	ExchangeRate     float64 `mapstructure:"exchange_rate"`
	MarginRate       float64 `mapstructure:"margin_rate"`
	GatewayFeeRate   float64 `mapstructure:"gateway_fee_rate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the config from plain environment variables, used
// for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 10*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTPublicKey: getEnv("JWT_PUBLIC_KEY", ""),
			Issuer:       getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Tracing: TracingConfig{
				Enabled:      getEnvAsBool("TRACING_ENABLED", false),
				ServiceName:  getEnv("TRACING_SERVICE_NAME", "storefront"),
				SamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 0.1),
				JaegerURL:    getEnv("JAEGER_URL", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:    getEnv("GATEWAY_ACCESS_TOKEN", ""),
			CollectorID:    getEnv("GATEWAY_COLLECTOR_ID", ""),
			LookupTimeout:  getEnvAsDuration("GATEWAY_LOOKUP_TIMEOUT", 3*time.Second),
			MaxRetries:     uint64(getEnvAsInt("GATEWAY_MAX_RETRIES", 3)),
			InitialBackoff: getEnvAsDuration("GATEWAY_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     getEnvAsDuration("GATEWAY_MAX_BACKOFF", time.Second),
		},
		Webhook: WebhookConfig{
			RateLimit: RateLimitConfig{
				Backend:  getEnv("WEBHOOK_RATE_LIMIT_BACKEND", "memory"),
				Requests: getEnvAsInt("WEBHOOK_RATE_LIMIT_REQUESTS", 60),
				Window:   getEnvAsDuration("WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),
			},
			Workers:    getEnvAsInt("WEBHOOK_WORKERS", 4),
			QueueSize:  getEnvAsInt("WEBHOOK_QUEUE_SIZE", 100),
			AckTimeout: getEnvAsDuration("WEBHOOK_ACK_TIMEOUT", 800*time.Millisecond),
		},
		Pricing: PricingConfig{
			DefaultSet:       getEnv("PRICING_DEFAULT_SET", "default"),
			Currency:         getEnv("PRICING_CURRENCY", "CLP"),
			CurrencyDecimals: getEnvAsInt("PRICING_CURRENCY_DECIMALS", 0),
			SourceTaxRate:    getEnvAsFloat("PRICING_SOURCE_TAX_RATE", 0.07),
			ShippingCost:     getEnvAsFloat("PRICING_SHIPPING_COST", 2),
			DestinationVAT:   getEnvAsFloat("PRICING_DESTINATION_VAT_RATE", 0.19),
			ExchangeRate:     getEnvAsFloat("PRICING_EXCHANGE_RATE", 950),
			MarginRate:       getEnvAsFloat("PRICING_MARGIN_RATE", 0.25),
			GatewayFeeRate:   getEnvAsFloat("PRICING_GATEWAY_FEE_RATE", 0.0349),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "storefront.orders"),
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Webhook.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhook config: %v", err))
	}

	if err := c.Pricing.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("pricing config: %v", err))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka config: brokers are required when enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	// operator endpoints are disabled without a key
	if c.JWTPublicKey == "" {
		return nil
	}
	if _, err := c.GetPublicKey(); err != nil {
		return fmt.Errorf("invalid JWT public key: %w", err)
	}
	return nil
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.LookupTimeout <= 0 {
		return errors.New("lookup_timeout must be positive")
	}
	if c.MaxBackoff > 0 && c.MaxBackoff < c.InitialBackoff {
		return errors.New("max_backoff must be >= initial_backoff")
	}
	return nil
}

func (c *WebhookConfig) Validate() error {
	switch c.RateLimit.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Requests <= 0 {
		return errors.New("rate_limit.requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	if c.Workers < 0 {
		return errors.New("workers cannot be negative")
	}
	if c.Workers > 0 && c.QueueSize <= 0 {
		return errors.New("queue_size must be positive when workers are enabled")
	}
	return nil
}

func (c *PricingConfig) Validate() error {
	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 4 {
		return errors.New("currency_decimals must be between 0 and 4")
	}
	if c.GatewayFeeRate < 0 || c.GatewayFeeRate >= 1 {
		return errors.New("gateway_fee_rate must be in [0, 1)")
	}
	if c.ExchangeRate <= 0 {
		return errors.New("exchange_rate must be positive")
	}
	return nil
}
