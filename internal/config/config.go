// Package config предоставляет структуры и функции для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Драйверы хранилищ.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// Config общая структура для хранения настроек
type Config struct {
	Env               string            `yaml:"env" env:"ENV" env-default:"local"`
	Language          string            `yaml:"language" env:"ENTITLEMENT_LANG" env-default:"zh"`
	Backend           Backend           `yaml:"backend"`
	CredentialStore   CredentialStore   `yaml:"credential_store"`
	SubscriptionCache SubscriptionCache `yaml:"subscription_cache"`
	RedisConnection   `yaml:"redis_connection"`
	RabbitMQ          RabbitMQ     `yaml:"rabbitmq"`
	Connectivity      Connectivity `yaml:"connectivity"`
	Agent             Agent        `yaml:"agent"`
	Payment           Payment      `yaml:"payment"`
	Identity          Identity     `yaml:"identity"`
	HTTPServer        `yaml:"http_server"`
	JWTToken          `yaml:"jwttoken"`
}

// Backend настройки клиента бэкенда подписок
type Backend struct {
	BaseURL string        `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"http://localhost:8080/api/v1"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

// CredentialStore настройки хранилища учётных данных
type CredentialStore struct {
	Driver                  string `yaml:"driver" env-default:"file"`
	Dir                     string `yaml:"dir" env-default:".entitlement/credentials"`
	SealKey                 string `yaml:"seal_key" env:"CREDENTIAL_SEAL_KEY"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"migrations"`
}

// SubscriptionCache настройки слота кэша подписки
type SubscriptionCache struct {
	Driver string `yaml:"driver" env-default:"file"`
	Path   string `yaml:"path" env-default:".entitlement/subscription.json"`
	Key    string `yaml:"key" env-default:"entitlement:subscription"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ настройки публикации событий сверки. Пустой URL отключает брокер.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	Exchange   string        `yaml:"exchange" env-default:"entitlement"`
	RoutingKey string        `yaml:"routing_key" env-default:"reconciliation"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Connectivity настройки проверки доступности сети
type Connectivity struct {
	ProbeInterval time.Duration `yaml:"probe_interval" env-default:"15s"`
	RestoreBurst  int           `yaml:"restore_burst" env-default:"1"`
	RestoreEvery  time.Duration `yaml:"restore_every" env-default:"1m"`
}

// Agent настройки фонового режима
type Agent struct {
	MetricsAddress          string        `yaml:"metrics_address" env-default:":9091"`
	ExpirationCheckInterval time.Duration `yaml:"expiration_check_interval" env-default:"1h"`
}

// Payment настройки платёжного провайдера. ReceiptSecret общий для песочницы и локального бэкенда.
type Payment struct {
	ProductPrefix string `yaml:"product_prefix" env-default:"joyhisn.LightGallery"`
	Method        string `yaml:"method" env-default:"apple_iap"`
	ReceiptSecret string `yaml:"receipt_secret" env:"RECEIPT_SECRET"`
	LedgerPath    string `yaml:"ledger_path" env-default:".entitlement/ledger.json"`
}

// Identity коды авторизации, которые статический провайдер выдаёт для каждого OAuth-провайдера
type Identity struct {
	Codes map[string]string `yaml:"codes"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"20"`
	RateBurst   int           `yaml:"rate_burst" env-default:"40"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey    string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL        time.Duration `yaml:"token_ttl" env-default:"1h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"720h"`
}

// Load читает конфиг из path, переменные окружения перекрывают значения из файла.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность выбранных драйверов и их параметров.
func (c *Config) Validate() error {
	switch c.CredentialStore.Driver {
	case DriverFile:
		if c.CredentialStore.Dir == "" {
			return errors.New("credential_store.dir is required for file driver")
		}
	case DriverPostgres:
		if c.CredentialStore.StorageConnectionString == "" {
			return errors.New("credential_store.storage_connection_string is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown credential_store.driver %q", c.CredentialStore.Driver)
	}

	switch c.SubscriptionCache.Driver {
	case DriverMemory:
	case DriverFile:
		if c.SubscriptionCache.Path == "" {
			return errors.New("subscription_cache.path is required for file driver")
		}
	case DriverRedis:
		if c.AddressRedis == "" {
			return errors.New("redis_connection.addressredis is required for redis driver")
		}
	default:
		return fmt.Errorf("unknown subscription_cache.driver %q", c.SubscriptionCache.Driver)
	}

	switch c.Payment.Method {
	case "apple_iap", "wechat_pay", "alipay":
	default:
		return fmt.Errorf("unknown payment.method %q", c.Payment.Method)
	}

	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be positive")
	}
	return nil
}

// MustLoad загружает .env, если он есть, и конфиг из CONFIG_PATH. Любая ошибка завершает процесс.
func MustLoad() *Config {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// String выводит конфиг без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Language: %s\n"+
			"Backend:\n"+
			"  BaseURL: %s\n"+
			"  Timeout: %s\n"+
			"CredentialStore:\n"+
			"  Driver: %s\n"+
			"  Dir: %s\n"+
			"  SealKey: %s\n"+
			"SubscriptionCache:\n"+
			"  Driver: %s\n"+
			"  Path: %s\n"+
			"  Key: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"  Exchange: %s\n"+
			"Payment:\n"+
			"  Method: %s\n"+
			"  ReceiptSecret: %s\n"+
			"Connectivity:\n"+
			"  ProbeInterval: %s\n"+
			"Agent:\n"+
			"  MetricsAddress: %s\n"+
			"  ExpirationCheckInterval: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"JWTToken:\n"+
			"  JWTSecretKey: %s\n"+
			"  TokenTTL: %s\n",
		c.Env,
		c.Language,
		c.Backend.BaseURL,
		c.Backend.Timeout,
		c.CredentialStore.Driver,
		c.CredentialStore.Dir,
		mask(c.CredentialStore.SealKey),
		c.SubscriptionCache.Driver,
		c.SubscriptionCache.Path,
		c.SubscriptionCache.Key,
		c.AddressRedis,
		c.DB,
		c.RabbitMQ.URL != "",
		c.RabbitMQ.Exchange,
		c.Payment.Method,
		mask(c.Payment.ReceiptSecret),
		c.Connectivity.ProbeInterval,
		c.Agent.MetricsAddress,
		c.Agent.ExpirationCheckInterval,
		c.AddressHTTP,
		mask(c.JWTSecretKey),
		c.TokenTTL,
	)
}

func mask(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return "***"
}
