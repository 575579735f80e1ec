package config

import (
	"os"
	"strconv"
	"time"
)

// AppConfig holds process-level settings sourced from the environment.
type AppConfig struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	TokenExpiry     time.Duration
	BcryptCost      int
	RetentionDays   int
	UsageQueueSize  int
	ShutdownTimeout time.Duration
}

func NewAppConfig() *AppConfig {
	return &AppConfig{
		Port:            getEnv("PORT", "5050"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenExpiry:     time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
		BcryptCost:      getEnvInt("BCRYPT_COST", 10),
		RetentionDays:   getEnvInt("USAGE_RETENTION_DAYS", 90),
		UsageQueueSize:  getEnvInt("USAGE_QUEUE_SIZE", 256),
		ShutdownTimeout: 15 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
