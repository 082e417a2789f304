package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=estate port=5432 sslmode=disable"

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	DBMaxOpen   int
	JWTSecret   string
	CORSOrigins string
	LogLevel    string
	MediaRoot   string // uploaded property images/videos
	PublicURL   string // base of links sent by email

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AMQPURL       string // empty: jobs run in-process
	AMQPQueue     string
	MemcachedHost string // empty: local cache only
	RedisAddr     string // empty: no webhook replay dedupe

	SMTPAddr string // empty: emails are logged instead of sent
	SMTPUser string
	SMTPPass string
	MailFrom string

	PaynowInitiateURL string
	PaynowRemoteURL   string
	PaymentAttempts   int
	PaymentRetryDelay time.Duration
	PendingPollEvery  time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", defaultDSN),
		DBMaxOpen:   getEnvInt("DB_MAX_OPEN_CONNS", 20),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MediaRoot:   getEnv("MEDIA_ROOT", "./media"),
		PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8080"),

		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPQueue:     getEnv("AMQP_QUEUE", "estate_jobs"),
		MemcachedHost: getEnv("MEMCACHED_HOST", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),

		SMTPAddr: getEnv("SMTP_ADDR", ""),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASS", ""),
		MailFrom: getEnv("MAIL_FROM", "noreply@estate.local"),

		PaynowInitiateURL: getEnv("PAYNOW_INITIATE_URL", "https://www.paynow.co.zw/interface/initiatetransaction"),
		PaynowRemoteURL:   getEnv("PAYNOW_REMOTE_URL", "https://www.paynow.co.zw/interface/remotetransaction"),
		PaymentAttempts:   getEnvInt("PAYMENT_ATTEMPTS", 3),
		PaymentRetryDelay: getEnvDuration("PAYMENT_RETRY_DELAY", 2*time.Second),
		PendingPollEvery:  getEnvDuration("PENDING_POLL_INTERVAL", 5*time.Minute),
	}

	if cfg.JWTSecret == "" {
		log.Fatal("[FATAL] JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[FATAL] JWT_SECRET must be at least 32 characters")
	}
	if cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN is using the default value, set your own Postgres DSN for production.")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		log.Println("[WARN] CORS_ALLOWED_ORIGINS is using the default value, set your own domain for production.")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[WARN] %s=%q is not a number, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[WARN] %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
