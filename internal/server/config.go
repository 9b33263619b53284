package server

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Listen          string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int

	// AutoApprove dispatches confirmation-gated tools without asking.
	// It is a server setting only; requests cannot override it.
	AutoApprove bool

	RequireAuth bool
	JWTSecret   string

	AuditDB    string
	PolicyFile string

	BusDriver  string
	BusURL     string
	BusQueue   string
	BusWorkers int
}

func LoadConfig() Config {
	return Config{
		Listen:          getEnv("MUNIN_LISTEN", "0.0.0.0:8787"),
		ReadTimeout:     getEnvInt("READ_TIMEOUT", 30),
		WriteTimeout:    getEnvInt("WRITE_TIMEOUT", 60),
		ShutdownTimeout: getEnvInt("SHUTDOWN_TIMEOUT", 10),
		AutoApprove:     getEnvBool("MUNIN_AUTO_APPROVE", false),
		RequireAuth:     getEnvBool("REQUIRE_AUTH", false),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		AuditDB:         os.Getenv("AUDIT_DB"),
		PolicyFile:      os.Getenv("POLICY_FILE"),
		BusDriver:       strings.ToLower(getEnv("BUS_DRIVER", "none")),
		BusURL:          os.Getenv("BUS_URL"),
		BusQueue:        getEnv("BUS_QUEUE", "munin.transcripts"),
		BusWorkers:      getEnvInt("BUS_WORKERS", 2),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
