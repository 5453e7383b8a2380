package integration

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://social.test.example"
	testAudience = "fedipanel-test"
)

// TestClaims holds the configurable claims for generating login tokens.
type TestClaims struct {
	AccountID string
	Username  string
	Roles     []string
	Extra     map[string]any
}

// UserClaims returns claims for an ordinary account.
func UserClaims() TestClaims {
	return TestClaims{AccountID: "109", Username: "alice", Roles: []string{"user"}}
}

// OwnerClaims returns claims for the instance owner, which the test policy
// expands through admin to moderator.
func OwnerClaims() TestClaims {
	return TestClaims{AccountID: "1", Username: "root", Roles: []string{"owner"}}
}

// tokenIssuer signs HS256 login tokens with a per-test secret.
type tokenIssuer struct {
	secret []byte
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return &tokenIssuer{secret: []byte(hex.EncodeToString(b))}
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt, expiresAt time.Time) string {
	mapClaims := jwt.MapClaims{
		"iss":                ti.issuer(),
		"aud":                testAudience,
		"iat":                jwt.NewNumericDate(issuedAt),
		"exp":                jwt.NewNumericDate(expiresAt),
		"sub":                claims.AccountID,
		"preferred_username": claims.Username,
	}
	if len(claims.Roles) > 0 {
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}
	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(ti.secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) issuer() string {
	return testIssuer
}

// GenerateToken creates a valid token expiring in one hour.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(time.Hour))
}

// GenerateExpiredToken creates a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-time.Hour))
}
