package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/open-gamma/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeys(t *testing.T) {
	keys, err := DeriveKeys("a-very-long-secret-with-at-least-32-chars")
	require.NoError(t, err)
	assert.Len(t, keys.State, 32)
	assert.Len(t, keys.Session, 32)
	assert.NotEqual(t, keys.State, keys.Session)

	again, err := DeriveKeys("a-very-long-secret-with-at-least-32-chars")
	require.NoError(t, err)
	assert.Equal(t, keys, again)

	_, err = DeriveKeys("  ")
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestSessionIssueAndParse(t *testing.T) {
	svc, err := NewSessionService([]byte("session-key"), config.AuthConfig{SessionTTL: time.Hour}, false)
	require.NoError(t, err)

	token, err := svc.Issue("user-abc")
	require.NoError(t, err)

	user, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-abc", user.ID)

	_, err = svc.Issue(" ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionParseRejects(t *testing.T) {
	svc, err := NewSessionService([]byte("session-key"), config.AuthConfig{SessionTTL: time.Hour}, false)
	require.NoError(t, err)
	other, err := NewSessionService([]byte("other-key"), config.AuthConfig{SessionTTL: time.Hour}, false)
	require.NoError(t, err)

	foreign, err := other.Issue("user-abc")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   "user-abc",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  sessionIssuer,
		Subject: "user-abc",
	}).SignedString([]byte("session-key"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":       "",
		"garbage":     "not-a-jwt",
		"wrong key":   foreign,
		"alg none":    none,
		"missing exp": noExp,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Parse(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestSessionExpires(t *testing.T) {
	svc, err := NewSessionService([]byte("session-key"), config.AuthConfig{SessionTTL: time.Minute}, false)
	require.NoError(t, err)

	now := time.Now()
	svc.now = func() time.Time { return now }
	token, err := svc.Issue("user-abc")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Parse(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionCookieConfig(t *testing.T) {
	svc, err := NewSessionService([]byte("k"), config.AuthConfig{
		SessionTTL:     24 * time.Hour,
		CookieSameSite: "Strict",
		CookieDomain:   "example.com",
	}, true)
	require.NoError(t, err)

	cookie := svc.CookieConfig()
	assert.Equal(t, "open_gamma_session", cookie.Name)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, "example.com", cookie.Domain)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.True(t, cookie.Secure)
	assert.Equal(t, 86400, cookie.MaxAge)
}

func TestNewSessionServiceValidation(t *testing.T) {
	_, err := NewSessionService(nil, config.AuthConfig{SessionTTL: time.Hour}, false)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = NewSessionService([]byte("k"), config.AuthConfig{}, false)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = NewSessionService([]byte("k"), config.AuthConfig{SessionTTL: time.Hour, CookieSameSite: "sideways"}, false)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = NewSessionService([]byte("k"), config.AuthConfig{SessionTTL: time.Hour, CookieSameSite: "none"}, false)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = NewSessionService([]byte("k"), config.AuthConfig{SessionTTL: time.Hour, CookieSameSite: "none"}, true)
	assert.NoError(t, err)
}
