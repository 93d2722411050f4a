package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const defaultJWTSecret = "dev-secret-change-me"

// Chat store backends.
const (
	StoreDB       = "db"
	StoreSupabase = "supabase"
)

type Config struct {
	Port                  string
	Env                   string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// AdminSupportID is the real user id behind the "admin" chat sentinel.
	AdminSupportID string

	ChatStore                    string
	SupabaseURL                  string
	SupabaseKey                  string
	SupabaseReturnRepresentation bool

	RedisAddr        string
	DedupeTTLSeconds int
	WSAuthRequired   bool
	CORSOrigins      []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, using environment")
	}
	return Config{
		Port:                         getenv("APP_PORT", "8080"),
		Env:                          getenv("APP_ENV", "dev"),
		DatabaseDriver:               getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:                  getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=medevent port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:                    getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes:        getint("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:          getint("REFRESH_TOKEN_TTL_DAYS", 7),
		AdminSupportID:               getenv("ADMIN_SUPPORT_ID", ""),
		ChatStore:                    getenv("CHAT_STORE", StoreDB),
		SupabaseURL:                  strings.TrimRight(getenv("SUPABASE_URL", ""), "/"),
		SupabaseKey:                  getenv("SUPABASE_SERVICE_KEY", ""),
		SupabaseReturnRepresentation: getbool("SUPABASE_RETURN_REPRESENTATION", true),
		RedisAddr:                    getenv("REDIS_ADDR", ""),
		DedupeTTLSeconds:             getint("DEDUPE_TTL_SECONDS", 300),
		WSAuthRequired:               getbool("WS_AUTH_REQUIRED", false),
		CORSOrigins:                  splitList(getenv("CORS_ORIGINS", "")),
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	if cfg.AdminSupportID == "" {
		return errors.New("ADMIN_SUPPORT_ID is required")
	}
	switch cfg.ChatStore {
	case StoreDB:
	case StoreSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase chat store")
		}
	default:
		return errors.New("CHAT_STORE must be db or supabase")
	}
	return nil
}

// DedupeTTL is how long a client message id is remembered.
func (c Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSeconds) * time.Second
}
