package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Relay    RelayConfig
	SMTP     SMTPConfig
}

type AppConfig struct {
	Port               string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
}

type RelayConfig struct {
	// ResponseTimeoutSeconds is the deadline before the fallback fires.
	ResponseTimeoutSeconds int
	FallbackEnabled        bool
	FallbackType           string // "markov" or "echo"
	// ChannelPrefix distinguishes relay traffic (including control
	// subjects) on the shared messaging platform.
	ChannelPrefix string
	// PSKHex is the hex-encoded 256-bit pre-shared envelope key,
	// provisioned out-of-band to both the relay and the worker.
	PSKHex             string
	BackupDir          string
	SessionIdleMinutes int
	AdminAlertEmail    string
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/relay.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Relay: RelayConfig{
			ResponseTimeoutSeconds: getEnvAsInt("RESPONSE_TIMEOUT_SECONDS", 30),
			FallbackEnabled:        getEnvAsBool("FALLBACK_ENABLED", true),
			FallbackType:           getEnv("FALLBACK_TYPE", "markov"),
			ChannelPrefix:          getEnv("TRANSPORT_CHANNEL_PREFIX", "relay"),
			PSKHex:                 getEnv("RELAY_PSK_HEX", ""),
			BackupDir:              getEnv("BACKUP_DIR", "backups"),
			SessionIdleMinutes:     getEnvAsInt("SESSION_IDLE_MINUTES", 120),
			AdminAlertEmail:        getEnv("ADMIN_ALERT_EMAIL", ""),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "AI Relay"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
