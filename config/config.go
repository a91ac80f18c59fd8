// Package config loads configuration from the environment.
// A .env file is honoured in development; real environment variables win
// because godotenv never overrides variables that are already set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the relay server configuration, one struct per concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Room     RoomConfig
	ICE      ICEConfig
	Storage  StorageConfig
	Email    EmailConfig
	Relay    RelayConfig
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
	PublicURL   string // used in links inside emails
}

// DatabaseConfig selects the metadata store. Driver is "sqlite" (Path) or
// "postgres" (URL).
type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

// AuthConfig verifies the identity provider's access tokens (HS256).
type AuthConfig struct {
	JWTSecret string
}

// RoomConfig mints and verifies topic-scoped room tokens.
type RoomConfig struct {
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// ICEConfig lists STUN servers and the TURN REST shared secret.
type ICEConfig struct {
	STUNURLs      []string
	TURNURLs      []string
	TURNSecret    string
	CredentialTTL time.Duration
}

// StorageConfig is the recordings bucket on local disk.
type StorageConfig struct {
	RecordingsDir string
	MaxUploadSize int64
}

// EmailConfig enables Resend notifications when APIKey is set.
type EmailConfig struct {
	ResendAPIKey string
	FromEmail    string
}

// RelayConfig limits websocket traffic.
type RelayConfig struct {
	BroadcastsPerSecond int
	BroadcastCooldown   time.Duration
	ConnectsPerMinute   int
}

// Load builds the server Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "9090"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxSize, err := strconv.ParseInt(getEnv("RECORDING_MAX_SIZE", "2147483648"), 10, 64) // 2GB
	if err != nil {
		return nil, fmt.Errorf("invalid RECORDING_MAX_SIZE: %w", err)
	}

	roomTTL, err := time.ParseDuration(getEnv("ROOM_TOKEN_TTL", "6h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ROOM_TOKEN_TTL: %w", err)
	}

	turnTTL, err := time.ParseDuration(getEnv("TURN_CREDENTIAL_TTL", "12h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TURN_CREDENTIAL_TTL: %w", err)
	}

	perSecond, err := strconv.Atoi(getEnv("RELAY_BROADCASTS_PER_SECOND", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_BROADCASTS_PER_SECOND: %w", err)
	}

	cooldown, err := time.ParseDuration(getEnv("RELAY_BROADCAST_COOLDOWN", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_BROADCAST_COOLDOWN: %w", err)
	}

	connects, err := strconv.Atoi(getEnv("RELAY_CONNECTS_PER_MINUTE", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_CONNECTS_PER_MINUTE: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	roomSecret := getEnv("ROOM_API_SECRET", "")
	if roomSecret == "" {
		return nil, fmt.Errorf("ROOM_API_SECRET environment variable is required")
	}

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("invalid DATABASE_DRIVER %q: want sqlite or postgres", driver)
	}
	dbURL := getEnv("DATABASE_URL", "")
	if driver == "postgres" && dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
			PublicURL:   getEnv("PUBLIC_URL", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			Driver: driver,
			Path:   getEnv("DATABASE_PATH", "./data/lessons.db"),
			URL:    dbURL,
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Room: RoomConfig{
			APIKey:    getEnv("ROOM_API_KEY", "lessonroom"),
			APISecret: roomSecret,
			TokenTTL:  roomTTL,
		},
		ICE: ICEConfig{
			STUNURLs:      splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
			TURNURLs:      splitList(getEnv("TURN_URLS", "")),
			TURNSecret:    getEnv("TURN_SECRET", ""),
			CredentialTTL: turnTTL,
		},
		Storage: StorageConfig{
			RecordingsDir: getEnv("RECORDINGS_DIR", "./data/recordings"),
			MaxUploadSize: maxSize,
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromEmail:    getEnv("RESEND_FROM", "noreply@example.com"),
		},
		Relay: RelayConfig{
			BroadcastsPerSecond: perSecond,
			BroadcastCooldown:   cooldown,
			ConnectsPerMinute:   connects,
		},
	}

	return cfg, nil
}

// Addr returns the listen address, e.g. "0.0.0.0:9090".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv reads key, returning fallback when it is unset.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// splitList parses a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
