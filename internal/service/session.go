package service

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/open-gamma/backend/internal/config"
	"github.com/open-gamma/backend/internal/model"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionCookieName = "open_gamma_session"
	sessionIssuer     = "open-gamma"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMisconfigured = errors.New("auth config invalid")
)

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// Keys holds independent keys derived from AUTH_SECRET so the state token
// and the session JWT never share key material.
type Keys struct {
	State   []byte
	Session []byte
}

func DeriveKeys(secret string) (Keys, error) {
	if strings.TrimSpace(secret) == "" {
		return Keys{}, fmt.Errorf("%w: AUTH_SECRET is required", ErrMisconfigured)
	}
	derive := func(info string) ([]byte, error) {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		return key, nil
	}

	state, err := derive("open-gamma auth-state v1")
	if err != nil {
		return Keys{}, err
	}
	session, err := derive("open-gamma session v1")
	if err != nil {
		return Keys{}, err
	}
	return Keys{State: state, Session: session}, nil
}

// SessionService issues the session cookie that identifies a linked user.
type SessionService struct {
	key       []byte
	ttl       time.Duration
	cookieCfg CookieConfig
	now       func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

func NewSessionService(key []byte, cfg config.AuthConfig, secure bool) (*SessionService, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: session key is empty", ErrMisconfigured)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid SESSION_TTL", ErrMisconfigured)
	}

	sameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", ErrMisconfigured)
	}
	if sameSite == http.SameSiteNoneMode && !secure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}

	return &SessionService{
		key: key,
		ttl: cfg.SessionTTL,
		cookieCfg: CookieConfig{
			Name:     sessionCookieName,
			Path:     "/",
			Domain:   cfg.CookieDomain,
			Secure:   secure,
			SameSite: sameSite,
			MaxAge:   int(cfg.SessionTTL.Seconds()),
		},
		now: time.Now,
	}, nil
}

func (s *SessionService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

// Issue returns a signed session token for userID.
func (s *SessionService) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidInput
	}
	now := s.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse validates a session token and returns its principal.
func (s *SessionService) Parse(tokenStr string) (*model.AuthUser, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return s.key, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	return &model.AuthUser{ID: claims.Subject}, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, ErrInvalidInput
	}
}
