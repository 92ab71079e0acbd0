package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshcompute/signaling/internal/v1/logging"
)

// ParseAllowedOrigins splits a comma-separated origin list, falling back to
// the development defaults when unset.
// Example: ALLOWED_ORIGINS="http://localhost:3000,https://app.example.com"
func ParseAllowedOrigins(originsStr string, defaults []string) []string {
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("ALLOWED_ORIGINS not set. Using default development origins: %s", defaults))
		return defaults
	}
	origins := strings.Split(originsStr, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}
