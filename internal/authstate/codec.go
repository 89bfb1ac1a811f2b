// Package authstate issues and verifies the signed state token that binds a
// generated identity to one account-linking attempt.
//
// Wire format:
//
//	base64url(JSON({"userId": "...", "exp": <unix millis>})) "." base64url(HMAC-SHA256(key, payload))
//
// Both halves use unpadded base64url. Nothing is stored server side; the
// token lives in an httpOnly cookie for the duration of the attempt.
package authstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL = 10 * time.Minute

	MinUserIDLength = 1
	MaxUserIDLength = 64
)

// ErrInvalid is the only error Verify returns. Bad signatures, expired
// tokens and malformed payloads all map to it.
var ErrInvalid = errors.New("invalid or expired state")

var ErrEmptySecret = errors.New("state secret is empty")

var logger = logrus.WithField("component", "authstate")

// State is a verified auth state.
type State struct {
	UserID    string
	ExpiresAt time.Time
	// ID identifies the token for single-use tracking.
	ID string
}

type payload struct {
	UserID string `json:"userId"`
	Exp    int64  `json:"exp"`
}

type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type Option func(*Codec)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) { c.ttl = ttl }
}

func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		key: append([]byte(nil), key...),
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue mints a token for userID that expires TTL from now.
func (c *Codec) Issue(userID string) (string, error) {
	if !validUserID(userID) {
		return "", ErrInvalid
	}
	return c.encode(payload{
		UserID: userID,
		Exp:    c.now().Add(c.ttl).UnixMilli(),
	})
}

// Verify checks the signature, expiry and bound identity of token.
func (c *Codec) Verify(token string) (State, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return State{}, c.reject("wrong part count")
	}
	encoded, signature := parts[0], parts[1]

	if !hmac.Equal([]byte(signature), []byte(c.sign(encoded))) {
		return State{}, c.reject("signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return State{}, c.reject("payload encoding")
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return State{}, c.reject("payload json")
	}

	expiresAt := time.UnixMilli(p.Exp)
	if !expiresAt.After(c.now()) {
		return State{}, c.reject("expired")
	}
	if !validUserID(p.UserID) {
		return State{}, c.reject("user id length")
	}

	return State{UserID: p.UserID, ExpiresAt: expiresAt, ID: signature}, nil
}

func (c *Codec) encode(p payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + c.sign(encoded), nil
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Codec) reject(reason string) error {
	logger.WithField("reason", reason).Debug("rejected auth state")
	return ErrInvalid
}

// validUserID bounds the length in UTF-16 code units, so a character outside
// the BMP counts twice.
func validUserID(userID string) bool {
	n := 0
	for _, r := range userID {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n >= MinUserIDLength && n <= MaxUserIDLength
}
