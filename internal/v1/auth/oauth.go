package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/meshcompute/signaling/internal/v1/logging"
	"github.com/meshcompute/signaling/internal/v1/metrics"
)

// GithubUser is the profile returned by the GitHub user endpoint.
type GithubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// ExternalID returns the provider-scoped user id used as the primary key in
// the identity store.
func (u *GithubUser) ExternalID() string {
	return "github:" + strconv.FormatInt(u.ID, 10)
}

// DisplayName prefers the profile name, falling back to the login.
func (u *GithubUser) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}

// OAuthService exchanges GitHub authorization codes for user profiles.
// Provider calls run behind a circuit breaker with a bounded timeout so a
// slow or failing provider cannot pile up handler goroutines.
type OAuthService struct {
	config  *oauth2.Config
	userURL string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewOAuthService creates the GitHub OAuth exchange service.
func NewOAuthService(clientID, clientSecret, redirectURL string) *OAuthService {
	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     githuboauth.Endpoint,
	}

	st := gobreaker.Settings{
		Name:        "oauth-provider",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
	}

	return &OAuthService{
		config:  config,
		userURL: "https://api.github.com/user",
		cb:      gobreaker.NewCircuitBreaker(st),
		timeout: 10 * time.Second,
	}
}

// ExchangeCode exchanges the authorization code and fetches the user profile.
// The optional redirectURI must match the one used at the front door.
func (s *OAuthService) ExchangeCode(ctx context.Context, code, redirectURI string) (*GithubUser, error) {
	config := s.config
	if redirectURI != "" && redirectURI != config.RedirectURL {
		c := *s.config
		c.RedirectURL = redirectURI
		config = &c
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		token, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return s.fetchUser(ctx, config, token)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("oauth-provider").Inc()
			logging.Warn(ctx, "OAuth circuit breaker open, rejecting exchange")
		}
		return nil, err
	}

	return res.(*GithubUser), nil
}

func (s *OAuthService) fetchUser(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*GithubUser, error) {
	client := config.Client(ctx, token)
	resp, err := client.Get(s.userURL)
	if err != nil {
		return nil, fmt.Errorf("fetch user profile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logging.Error(ctx, "User profile request failed",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("user profile request failed: %s", resp.Status)
	}

	var user GithubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}

	logging.Info(ctx, "Fetched provider user profile",
		zap.String("external_id", user.ExternalID()),
		zap.String("email", logging.RedactEmail(user.Email)))

	return &user, nil
}
