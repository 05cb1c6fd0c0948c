// ABOUTME: Authenticator with the four recognized auth modes and a runtime token set.
// ABOUTME: Validate is a pure function of the presented credentials and transport identity.

package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Mode selects how connect credentials are evaluated.
type Mode string

const (
	// ModeNone accepts every connection.
	ModeNone Mode = "none"

	// ModeToken accepts a token that belongs to the current token set, or a
	// valid signed gateway token when a signing secret is configured.
	ModeToken Mode = "token"

	// ModePassword accepts a password equal to the configured password. The
	// configured value may be a bcrypt hash.
	ModePassword Mode = "password"

	// ModeTransportIdentity accepts connections whose transport layer supplied
	// a non-empty user identity (e.g. an upstream mTLS or proxy header).
	ModeTransportIdentity Mode = "transport-identity"
)

// Auth errors.
var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrUnknownAuthMode = errors.New("unknown auth mode")
)

// Credentials are the auth fields presented on connect.
type Credentials struct {
	Token    string
	Password string
	DeviceID string
}

// Config carries the authenticator's startup configuration.
type Config struct {
	Mode     Mode
	Tokens   []string
	Password string
	// TokenSecret, when set in token mode, additionally accepts HS256-signed
	// gateway tokens minted by a TokenIssuer with the same secret.
	TokenSecret string
}

// Authenticator evaluates connect credentials against a configured mode.
type Authenticator struct {
	mode     Mode
	password string

	mu     sync.RWMutex
	tokens map[string]bool

	issuer *TokenIssuer
}

// New creates an authenticator from config. An empty mode defaults to none.
func New(cfg Config) (*Authenticator, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeNone
	}
	switch mode {
	case ModeNone, ModeToken, ModePassword, ModeTransportIdentity:
	default:
		return nil, ErrUnknownAuthMode
	}

	a := &Authenticator{
		mode:     mode,
		password: cfg.Password,
		tokens:   make(map[string]bool, len(cfg.Tokens)),
	}
	for _, t := range cfg.Tokens {
		if t != "" {
			a.tokens[t] = true
		}
	}
	if cfg.TokenSecret != "" {
		a.issuer = NewTokenIssuer([]byte(cfg.TokenSecret))
	}
	return a, nil
}

// Mode returns the configured auth mode.
func (a *Authenticator) Mode() Mode {
	return a.mode
}

// Validate checks the presented credentials. A nil error means the connection
// is authenticated.
func (a *Authenticator) Validate(creds Credentials, transportIdentity string) error {
	switch a.mode {
	case ModeNone:
		return nil
	case ModeToken:
		return a.validateToken(creds.Token)
	case ModePassword:
		return a.validatePassword(creds.Password)
	case ModeTransportIdentity:
		if transportIdentity == "" {
			return ErrAuthFailed
		}
		return nil
	default:
		return ErrUnknownAuthMode
	}
}

func (a *Authenticator) validateToken(token string) error {
	if token == "" {
		return ErrAuthFailed
	}

	a.mu.RLock()
	ok := a.tokens[token]
	a.mu.RUnlock()
	if ok {
		return nil
	}

	if a.issuer != nil {
		if _, err := a.issuer.Verify(token); err == nil {
			return nil
		}
	}
	return ErrAuthFailed
}

func (a *Authenticator) validatePassword(password string) error {
	if password == "" || a.password == "" {
		return ErrAuthFailed
	}
	if isBcryptHash(a.password) {
		if err := bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)); err != nil {
			return ErrAuthFailed
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) != 1 {
		return ErrAuthFailed
	}
	return nil
}

// isBcryptHash reports whether the configured password looks like a bcrypt
// hash rather than a plaintext value.
func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// AddToken inserts a token into the valid set.
func (a *Authenticator) AddToken(token string) {
	if token == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = true
}

// RemoveToken deletes a token from the valid set.
func (a *Authenticator) RemoveToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

// SetTokens replaces the entire token set.
func (a *Authenticator) SetTokens(tokens []string) {
	next := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t != "" {
			next[t] = true
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = next
}
