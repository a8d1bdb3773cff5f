// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Email       EmailConfig
	Kafka       KafkaConfig
	Worker      WorkerConfig
	Store       StoreConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
	RunRelay       bool
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	LocalStorageDir string
}

type PaymentConfig struct {
	Provider             string
	Currency             string
	RequestTimeout       time.Duration
	PendingAttemptTTL    time.Duration
	ChapaSecretKey       string
	ChapaBaseURL         string
	ReturnURL            string
	CallbackURL          string
	CheckoutTitle        string
	CheckoutDescription  string
	StripeSecretKey      string
	StripeSuccessURL     string
	StripeCancelURL      string
	TransactionRefPrefix string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

type WorkerConfig struct {
	Stream          string
	Group           string
	Consumer        string
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	OutboxInterval  time.Duration
	OutboxBatch     int
}

// StoreConfig is printed on receipts.
type StoreConfig struct {
	Name         string
	AddressLine1 string
	AddressLine2 string
	SupportEmail string
	Phone        string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RunRelay:       getEnvAsBool("SERVER_RUN_OUTBOX_RELAY", true),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "shop"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "shop-receipts"),
			LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "./storage"),
		},
		Payment: PaymentConfig{
			Provider:             getEnv("PAYMENT_PROVIDER", "chapa"),
			Currency:             strings.ToUpper(getEnv("PAYMENT_CURRENCY", "ETB")),
			RequestTimeout:       getEnvAsDuration("PAYMENT_REQUEST_TIMEOUT", 15*time.Second),
			PendingAttemptTTL:    getEnvAsDuration("PAYMENT_PENDING_TTL", 30*time.Minute),
			ChapaSecretKey:       getEnv("CHAPA_SECRET_KEY", ""),
			ChapaBaseURL:         getEnv("CHAPA_BASE_URL", "https://api.chapa.co/v1/"),
			ReturnURL:            getEnv("PAYMENT_RETURN_URL", "http://localhost:8080/v1/payments/return"),
			CallbackURL:          getEnv("PAYMENT_CALLBACK_URL", ""),
			CheckoutTitle:        getEnv("PAYMENT_CHECKOUT_TITLE", "Payment for Order"),
			CheckoutDescription:  getEnv("PAYMENT_CHECKOUT_DESCRIPTION", "Payment for purchasing products"),
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripeSuccessURL:     getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/checkout/success"),
			StripeCancelURL:      getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
			TransactionRefPrefix: getEnv("PAYMENT_TX_REF_PREFIX", "TX-"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@shop.local"),
			FromName:     getEnv("FROM_NAME", "Shop"),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvAsSlice("KAFKA_BROKERS", nil),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "shop."),
		},
		Worker: WorkerConfig{
			Stream:          getEnv("WORKER_STREAM", "shop:tasks"),
			Group:           getEnv("WORKER_GROUP", "receipt-workers"),
			Consumer:        getEnv("WORKER_CONSUMER", hostname()),
			MaxAttempts:     getEnvAsInt("WORKER_MAX_ATTEMPTS", 5),
			RetryBackoff:    getEnvAsDuration("WORKER_RETRY_BACKOFF", 2*time.Second),
			RetryBackoffMax: getEnvAsDuration("WORKER_RETRY_BACKOFF_MAX", time.Minute),
			OutboxInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			OutboxBatch:     getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
		},
		Store: StoreConfig{
			Name:         getEnv("STORE_NAME", "ALX E-Commerce Platform"),
			AddressLine1: getEnv("STORE_ADDRESS_LINE1", "123, Damas"),
			AddressLine2: getEnv("STORE_ADDRESS_LINE2", "Yaounde, Cameroon"),
			SupportEmail: getEnv("STORE_SUPPORT_EMAIL", "support@alx-ecommerce.com"),
			Phone:        getEnv("STORE_PHONE", "+237-681-985-010"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" && c.Database.Driver == "postgres" {
		return fmt.Errorf("database password is required in production")
	}

	switch c.Payment.Provider {
	case "chapa":
		if c.Payment.ChapaSecretKey == "" && c.Environment == "production" {
			return fmt.Errorf("CHAPA_SECRET_KEY is required in production")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	if len(c.Payment.Currency) != 3 {
		return fmt.Errorf("payment currency must be an ISO 4217 code, got %q", c.Payment.Currency)
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "worker-1"
	}
	return name
}
