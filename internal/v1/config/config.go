package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ICEServer is one entry of the ICE configuration handed to peers at
// registration time. With a flat overlay network the lists may be empty;
// peers then rely on direct connectivity.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port           string
	RedisAddr      string
	SessionPrivKey string // PEM, RSA private key for session token signing
	SessionPubKey  string // PEM, matching public key

	// OAuth provider (GitHub)
	GithubClientID     string
	GithubClientSecret string
	GithubRedirectURI  string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	RedisPassword   string
	TablePrefix     string
	DevelopmentMode bool
	AllowedOrigins  string

	// Legacy Cognito-compatible validation (optional)
	CognitoRegion      string
	CognitoUserPoolID  string
	CognitoAppClientID string

	// ICE configuration handed out on register
	ICEServers     []ICEServer
	MeshICEServers []ICEServer

	// Tracing (optional)
	OtelCollectorAddr string

	// Rate Limits
	RateLimitAPIGlobal string
	RateLimitAPIPublic string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error listing every missing or invalid variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REDIS_ADDR (format: host:port)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Required: session token keypair. Deployment environments that cannot
	// carry literal newlines in env values encode them as '|'.
	cfg.SessionPrivKey = DecodePEM(os.Getenv("SESSION_PRIVATE_KEY"))
	if cfg.SessionPrivKey == "" {
		errs = append(errs, "SESSION_PRIVATE_KEY is required")
	}
	cfg.SessionPubKey = DecodePEM(os.Getenv("SESSION_PUBLIC_KEY"))
	if cfg.SessionPubKey == "" {
		errs = append(errs, "SESSION_PUBLIC_KEY is required")
	}

	// Required: GitHub OAuth app
	cfg.GithubClientID = os.Getenv("GITHUB_CLIENT_ID")
	if cfg.GithubClientID == "" {
		errs = append(errs, "GITHUB_CLIENT_ID is required")
	}
	cfg.GithubClientSecret = os.Getenv("GITHUB_CLIENT_SECRET")
	if cfg.GithubClientSecret == "" {
		errs = append(errs, "GITHUB_CLIENT_SECRET is required")
	}
	cfg.GithubRedirectURI = os.Getenv("GITHUB_REDIRECT_URI")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Optional: table namespace for the persistent store
	cfg.TablePrefix = getEnvOrDefault("TABLE_PREFIX", "signaling")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: legacy Cognito validator. All three or none.
	cfg.CognitoRegion = os.Getenv("COGNITO_REGION")
	cfg.CognitoUserPoolID = os.Getenv("COGNITO_USER_POOL_ID")
	cfg.CognitoAppClientID = os.Getenv("COGNITO_APP_CLIENT_ID")
	legacySet := 0
	for _, v := range []string{cfg.CognitoRegion, cfg.CognitoUserPoolID, cfg.CognitoAppClientID} {
		if v != "" {
			legacySet++
		}
	}
	if legacySet != 0 && legacySet != 3 {
		errs = append(errs, "COGNITO_REGION, COGNITO_USER_POOL_ID and COGNITO_APP_CLIENT_ID must be set together")
	}

	// Optional: ICE server lists, JSON arrays. Empty means direct connectivity.
	var err error
	cfg.ICEServers, err = parseICEServers(os.Getenv("ICE_SERVERS"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("ICE_SERVERS is not valid JSON: %v", err))
	}
	cfg.MeshICEServers, err = parseICEServers(os.Getenv("MESH_ICE_SERVERS"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("MESH_ICE_SERVERS is not valid JSON: %v", err))
	}

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// HasLegacyAuth reports whether the legacy Cognito validator is configured.
func (c *Config) HasLegacyAuth() bool {
	return c.CognitoRegion != "" && c.CognitoUserPoolID != "" && c.CognitoAppClientID != ""
}

// DecodePEM restores newlines in a PEM value whose line breaks were encoded as '|'.
func DecodePEM(s string) string {
	if strings.Contains(s, "|") && !strings.Contains(s, "\n") {
		return strings.ReplaceAll(s, "|", "\n")
	}
	return s
}

func parseICEServers(raw string) ([]ICEServer, error) {
	if raw == "" {
		return []ICEServer{}, nil
	}
	var servers []ICEServer
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"table_prefix", cfg.TablePrefix,
		"github_client_id", cfg.GithubClientID,
		"legacy_auth", cfg.HasLegacyAuth(),
		"ice_servers", len(cfg.ICEServers),
		"mesh_ice_servers", len(cfg.MeshICEServers),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
