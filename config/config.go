package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPublicKeyTTL   = 24 * time.Hour
)

// Config holds the loaded configuration
type Config struct {
	Env            string        `validate:"required"`
	Addr           string        `validate:"required"`
	APIURL         string        `validate:"required,url"`
	RequestTimeout time.Duration `validate:"gt=0"`
	RedisURL       string        `validate:"omitempty,url"`
	PublicKeyTTL   time.Duration `validate:"gt=0"`

	RateLimitPerMinute int `validate:"gt=0"`
	RateLimitBurst     int `validate:"gt=0"`

	AllowedOrigins []string `validate:"dive,required"`

	DateLayout     string `validate:"required"`
	CurrencySymbol string

	// CloudWatch sinks stay off while their setting is empty.
	CloudWatchLogGroup  string
	CloudWatchNamespace string
	AWSEndpoint         string `validate:"omitempty,url"`
}

// Load reads the configuration from the environment, after loading the
// given .env files (or ./.env when none are given).
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return Config{
		Env:                getEnv("APP_ENV", "development"),
		Addr:               getEnv("STOREFRONT_ADDR", ":8090"),
		APIURL:             getEnv("API_URL", "https://portfolio-ecommerce.onrender.com"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", defaultRequestTimeout),
		RedisURL:           getEnv("REDIS_URL", ""),
		PublicKeyTTL:       getDuration("PUBLIC_KEY_TTL", defaultPublicKeyTTL),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 30),
		AllowedOrigins:     getList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		DateLayout:         getEnv("DATE_LAYOUT", "02/01/2006, 15:04:05"),
		CurrencySymbol:     getEnv("CURRENCY_SYMBOL", "€"),

		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", ""),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", ""),
		AWSEndpoint:         getEnv("AWS_ENDPOINT", ""),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, defaultVal)
		return defaultVal
	}
	return d
}

func getInt(key string, defaultVal int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, defaultVal)
		return defaultVal
	}
	return n
}

// getList splits a comma separated value, dropping trailing slashes.
func getList(key string, defaultVal []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSuffix(strings.TrimSpace(item), "/"); item != "" {
			out = append(out, item)
		}
	}
	return out
}
