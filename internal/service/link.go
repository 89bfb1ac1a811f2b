package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/open-gamma/backend/internal/authstate"
	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/config"
	"github.com/open-gamma/backend/internal/metrics"
	"github.com/open-gamma/backend/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	stateCookieName = "composio_auth_state"
	stateCookiePath = "/api/v1/auth"

	identityPrefix = "user-"
	identityLength = 10
	// 64 symbols, so a random byte masked to 6 bits picks one without bias.
	identityAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"
)

var (
	ErrInvalidState = errors.New("invalid or expired state")
	ErrNoConnection = errors.New("no connected account found")
	ErrUpstream     = errors.New("account provider unavailable")
)

// LinkProvider is the external account-linking service.
type LinkProvider interface {
	Link(ctx context.Context, userID, authConfigID, callbackURL string) (*client.LinkResult, error)
	ListConnections(ctx context.Context, userID string) ([]model.Connection, error)
}

type UserStore interface {
	EnsureUserExists(ctx context.Context, userID string) error
}

// LinkStart is what StartLink hands back to the HTTP layer.
type LinkStart struct {
	RedirectURL  string
	ConnectionID string
	StateToken   string
}

// LinkService runs the login handshake: mint an identity and a signed state,
// send the browser to the provider, then verify the state on return and
// confirm the provider really holds a connection for that identity.
type LinkService struct {
	codec        *authstate.Codec
	guard        authstate.ReplayGuard
	provider     LinkProvider
	users        UserStore
	metrics      *metrics.Metrics
	authConfigID string
	callbackURL  string
	stateCookie  CookieConfig
	newIdentity  func() (string, error)
	log          *logrus.Entry
}

func NewLinkService(
	codec *authstate.Codec,
	guard authstate.ReplayGuard,
	provider LinkProvider,
	users UserStore,
	cfg config.Config,
	m *metrics.Metrics,
) (*LinkService, error) {
	if cfg.Composio.AuthConfigID == "" {
		return nil, fmt.Errorf("%w: AUTH_CONFIG_ID is required", ErrMisconfigured)
	}

	return &LinkService{
		codec:        codec,
		guard:        guard,
		provider:     provider,
		users:        users,
		metrics:      m,
		authConfigID: cfg.Composio.AuthConfigID,
		callbackURL:  cfg.CallbackURL(),
		stateCookie: CookieConfig{
			Name:     stateCookieName,
			Path:     stateCookiePath,
			Domain:   cfg.Auth.CookieDomain,
			Secure:   cfg.IsProduction(),
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(codec.TTL().Seconds()),
		},
		newIdentity: NewIdentity,
		log:         logrus.WithField("component", "link"),
	}, nil
}

func (s *LinkService) StateCookie() CookieConfig {
	return s.stateCookie
}

// StartLink creates a fresh identity and asks the provider where to send the
// browser. The returned StateToken must be stored in the state cookie.
func (s *LinkService) StartLink(ctx context.Context) (*LinkStart, error) {
	userID, err := s.newIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	token, err := s.codec.Issue(userID)
	if err != nil {
		return nil, fmt.Errorf("issue state: %w", err)
	}

	res, err := s.provider.Link(ctx, userID, s.authConfigID, s.callbackURL)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("Composio link request failed")
		s.metrics.LinkResult("start", "upstream_error")
		return nil, ErrUpstream
	}

	s.metrics.LinkResult("start", "ok")
	s.log.WithField("user_id", userID).Info("Started account link")
	return &LinkStart{
		RedirectURL:  res.RedirectURL,
		ConnectionID: res.ConnectionID,
		StateToken:   token,
	}, nil
}

// CompleteLink verifies the state token from the cookie and, when the
// provider reports at least one connection, returns the linked identity.
// The caller clears the state cookie whatever the outcome.
func (s *LinkService) CompleteLink(ctx context.Context, token string) (string, error) {
	if token == "" {
		s.metrics.LinkResult("complete", "missing_state")
		return "", ErrInvalidState
	}

	st, err := s.codec.Verify(token)
	if err != nil {
		s.metrics.LinkResult("complete", "invalid_state")
		return "", ErrInvalidState
	}
	log := s.log.WithField("user_id", st.UserID)

	conns, err := s.provider.ListConnections(ctx, st.UserID)
	if err != nil {
		log.WithError(err).Error("Composio connection lookup failed")
		s.metrics.LinkResult("complete", "upstream_error")
		return "", ErrUpstream
	}
	if len(conns) == 0 {
		s.metrics.LinkResult("complete", "no_connection")
		return "", ErrNoConnection
	}

	fresh, err := s.guard.Consume(ctx, st)
	if err != nil {
		log.WithError(err).Error("Failed to record consumed state")
		s.metrics.LinkResult("complete", "upstream_error")
		return "", ErrUpstream
	}
	if !fresh {
		log.Warn("Rejected replayed auth state")
		s.metrics.LinkResult("complete", "replayed_state")
		return "", ErrInvalidState
	}

	if err := s.users.EnsureUserExists(ctx, st.UserID); err != nil {
		log.WithError(err).Error("Failed to ensure user exists")
		s.metrics.LinkResult("complete", "store_error")
		return "", fmt.Errorf("ensure user: %w", err)
	}

	s.metrics.LinkResult("complete", "ok")
	log.WithField("connections", len(conns)).Info("Completed account link")
	return st.UserID, nil
}

// NewIdentity returns "user-" followed by 10 random URL-safe characters.
func NewIdentity() (string, error) {
	raw := make([]byte, identityLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	id := make([]byte, identityLength)
	for i, b := range raw {
		id[i] = identityAlphabet[b&63]
	}
	return identityPrefix + string(id), nil
}
