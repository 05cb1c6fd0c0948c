// ABOUTME: Tests for the four auth modes and the runtime token set.
// ABOUTME: Covers static tokens, signed tokens, bcrypt, and transport identity.

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownAuthMode)
}

func TestNew_EmptyModeDefaultsToNone(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeNone, a.Mode())
	assert.NoError(t, a.Validate(Credentials{}, ""))
}

func TestValidate_TokenMode(t *testing.T) {
	a, err := New(Config{Mode: ModeToken, Tokens: []string{"tok-a", "tok-b"}})
	require.NoError(t, err)

	assert.NoError(t, a.Validate(Credentials{Token: "tok-a"}, ""))
	assert.NoError(t, a.Validate(Credentials{Token: "tok-b"}, ""))
	assert.ErrorIs(t, a.Validate(Credentials{Token: "tok-c"}, ""), ErrAuthFailed)
	assert.ErrorIs(t, a.Validate(Credentials{}, ""), ErrAuthFailed)
}

func TestValidate_TokenModeRuntimeMutation(t *testing.T) {
	a, err := New(Config{Mode: ModeToken, Tokens: []string{"tok-a"}})
	require.NoError(t, err)

	a.AddToken("tok-new")
	assert.NoError(t, a.Validate(Credentials{Token: "tok-new"}, ""))

	a.RemoveToken("tok-a")
	assert.ErrorIs(t, a.Validate(Credentials{Token: "tok-a"}, ""), ErrAuthFailed)

	a.SetTokens([]string{"only"})
	assert.NoError(t, a.Validate(Credentials{Token: "only"}, ""))
	assert.ErrorIs(t, a.Validate(Credentials{Token: "tok-new"}, ""), ErrAuthFailed)
}

func TestValidate_SignedTokens(t *testing.T) {
	a, err := New(Config{Mode: ModeToken, TokenSecret: "sekrit"})
	require.NoError(t, err)

	issuer := NewTokenIssuer([]byte("sekrit"))
	token, err := issuer.Generate("alice", time.Hour)
	require.NoError(t, err)

	assert.NoError(t, a.Validate(Credentials{Token: token}, ""))

	wrong := NewTokenIssuer([]byte("other"))
	bad, err := wrong.Generate("alice", time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Validate(Credentials{Token: bad}, ""), ErrAuthFailed)
}

func TestTokenIssuer_VerifyReturnsSubject(t *testing.T) {
	issuer := NewTokenIssuer([]byte("sekrit"))
	token, err := issuer.Generate("bob", time.Hour)
	require.NoError(t, err)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", subject)
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("sekrit"))
	token, err := issuer.Generate("bob", -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_PasswordModePlaintext(t *testing.T) {
	a, err := New(Config{Mode: ModePassword, Password: "hunter2"})
	require.NoError(t, err)

	assert.NoError(t, a.Validate(Credentials{Password: "hunter2"}, ""))
	assert.ErrorIs(t, a.Validate(Credentials{Password: "wrong"}, ""), ErrAuthFailed)
	assert.ErrorIs(t, a.Validate(Credentials{}, ""), ErrAuthFailed)
}

func TestValidate_PasswordModeBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := New(Config{Mode: ModePassword, Password: string(hash)})
	require.NoError(t, err)

	assert.NoError(t, a.Validate(Credentials{Password: "hunter2"}, ""))
	assert.ErrorIs(t, a.Validate(Credentials{Password: "wrong"}, ""), ErrAuthFailed)
}

func TestValidate_TransportIdentityMode(t *testing.T) {
	a, err := New(Config{Mode: ModeTransportIdentity})
	require.NoError(t, err)

	assert.NoError(t, a.Validate(Credentials{}, "alice@corp"))
	assert.ErrorIs(t, a.Validate(Credentials{Token: "tok"}, ""), ErrAuthFailed)
}
