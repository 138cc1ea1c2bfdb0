package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process configuration read from the environment
type Config struct {
	Port          string
	DatabaseURL   string // empty runs on the in-memory store
	RedisURL      string // empty disables cross-instance fan-out
	JWTSecret     string
	CORSOrigins   string
	UploadDir     string
	PublicBaseURL string

	LogLevel  string
	LogFormat string
	LogFile   string

	BusBuffer    int
	HistoryLimit int

	// DevUsers seeds the in-memory identity provider as "id:Name,id:Name".
	// Ignored when DatabaseURL is set.
	DevUsers string
}

// Load reads .env files (if any) and then the environment
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "http://localhost:3000"),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogFile:       os.Getenv("LOG_FILE"),
		DevUsers:      os.Getenv("DEV_USERS"),
	}

	var err error
	if cfg.BusBuffer, err = getInt("BUS_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 100); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

// DevProfiles parses DevUsers. A "+admin" or "+developer" suffix on the name
// grants that role.
func (c *Config) DevProfiles() []DevProfile {
	var out []DevProfile
	for _, entry := range strings.Split(c.DevUsers, ",") {
		id, name, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || id == "" {
			continue
		}
		p := DevProfile{ID: id, Name: name}
		if n, role, ok := strings.Cut(name, "+"); ok {
			p.Name, p.Role = n, role
		}
		out = append(out, p)
	}
	return out
}

// DevProfile is one entry of DEV_USERS
type DevProfile struct {
	ID   string
	Name string
	Role string
}
