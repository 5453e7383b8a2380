package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/fedipanel/internal/config"
)

const testSecret = "correct horse battery staple"

func hmacConfig(t *testing.T) config.IdentityConfig {
	t.Helper()
	t.Setenv("PANEL_TEST_JWT_SECRET", testSecret)
	return config.IdentityConfig{
		Issuer:        "https://social.example.com",
		Audience:      "fedipanel",
		Algorithms:    []string{"HS256"},
		HMACSecretEnv: "PANEL_TEST_JWT_SECRET",
	}
}

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                "https://social.example.com",
		"aud":                "fedipanel",
		"sub":                "109",
		"preferred_username": "ada",
		"roles":              []string{"moderator"},
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerifier_valid(t *testing.T) {
	v, err := NewVerifier(hmacConfig(t))
	require.NoError(t, err)

	c, err := v.Verify(signHS256(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "109", c.AccountID)
	assert.Equal(t, "ada", c.Username)
	assert.Equal(t, []string{"moderator"}, c.Roles)
	assert.False(t, c.ExpiresAt.IsZero())
}

func TestVerifier_claim_paths(t *testing.T) {
	cfg := hmacConfig(t)
	cfg.ClaimPaths = map[string]string{
		"account_id": "account.id",
		"roles":      "realm.roles",
	}
	v, err := NewVerifier(cfg)
	require.NoError(t, err)

	claims := validClaims()
	delete(claims, "sub")
	claims["account"] = map[string]any{"id": "acct-7"}
	claims["realm"] = map[string]any{"roles": "admin moderator"}

	c, err := v.Verify(signHS256(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "acct-7", c.AccountID)
	assert.Equal(t, []string{"admin", "moderator"}, c.Roles)
}

func TestVerifier_rejects(t *testing.T) {
	v, err := NewVerifier(hmacConfig(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		want   string
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, "Token expired"},
		{"no expiry", func(c jwt.MapClaims) { delete(c, "exp") }, "Invalid token"},
		{"issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }, "Invalid token issuer"},
		{"audience", func(c jwt.MapClaims) { c["aud"] = "other" }, "Invalid token audience"},
		{"no account", func(c jwt.MapClaims) { delete(c, "sub") }, "no account id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)
			_, err := v.Verify(signHS256(t, claims))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVerifier_wrong_secret(t *testing.T) {
	v, err := NewVerifier(hmacConfig(t))
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = v.Verify(tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid token signature")
}

func TestVerifier_disallowed_algorithm(t *testing.T) {
	v, err := NewVerifier(hmacConfig(t))
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS384, validClaims()).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Disallowed signing algorithm")
}

func writePEM(t *testing.T, pub any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func TestVerifier_rsa_public_key(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v, err := NewVerifier(config.IdentityConfig{
		Algorithms:    []string{"RS256"},
		PublicKeyFile: writePEM(t, &key.PublicKey),
	})
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims()).SignedString(key)
	require.NoError(t, err)
	c, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "109", c.AccountID)
}

func TestVerifier_ec_public_key(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v, err := NewVerifier(config.IdentityConfig{
		Algorithms:    []string{"ES256"},
		PublicKeyFile: writePEM(t, &key.PublicKey),
	})
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodES256, validClaims()).SignedString(key)
	require.NoError(t, err)
	_, err = v.Verify(tok)
	require.NoError(t, err)
}

func TestNewVerifier_errors(t *testing.T) {
	_, err := NewVerifier(config.IdentityConfig{HMACSecretEnv: "PANEL_TEST_UNSET_SECRET"})
	assert.Error(t, err)

	_, err = NewVerifier(config.IdentityConfig{PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	_, err = NewVerifier(config.IdentityConfig{PublicKeyFile: garbage})
	assert.Error(t, err)

	_, err = NewVerifier(config.IdentityConfig{})
	assert.Error(t, err)
}
