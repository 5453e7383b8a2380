package session

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/fedipanel/internal/config"
)

// Claims is what a verified login token says about its holder.
type Claims struct {
	AccountID string
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// Verifier checks login tokens issued for the panel.
type Verifier struct {
	cfg config.IdentityConfig
	key any
}

// NewVerifier loads the verification key named by cfg: an HMAC secret from
// the environment or a PEM public key file.
func NewVerifier(cfg config.IdentityConfig) (*Verifier, error) {
	v := &Verifier{cfg: cfg}

	switch {
	case cfg.HMACSecretEnv != "":
		secret := os.Getenv(cfg.HMACSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("session: environment variable %s is empty", cfg.HMACSecretEnv)
		}
		v.key = []byte(secret)
	case cfg.PublicKeyFile != "":
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("session: reading public key: %w", err)
		}
		if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
			v.key = key
		} else if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
			v.key = key
		} else {
			return nil, fmt.Errorf("session: %s holds no RSA or EC public key", cfg.PublicKeyFile)
		}
	default:
		return nil, fmt.Errorf("session: no verification key configured")
	}
	return v, nil
}

// Verify validates the token signature and registered claims and extracts the
// account, username, and roles through the configured claim paths.
func (v *Verifier) Verify(raw string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return v.key, nil }, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%s: %w", classifyJWTError(err), err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("invalid token")
	}

	c := Claims{
		AccountID: claimString(mc, v.claimPath("account_id", "sub")),
		Username:  claimString(mc, v.claimPath("username", "preferred_username")),
		Roles:     claimStrings(mc, v.claimPath("roles", "roles")),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if c.AccountID == "" {
		return Claims{}, fmt.Errorf("token carries no account id")
	}
	return c, nil
}

func (v *Verifier) claimPath(name, fallback string) string {
	if p := v.cfg.ClaimPaths[name]; p != "" {
		return p
	}
	return fallback
}

// lookupClaim walks a dot path through nested claim objects.
func lookupClaim(claims map[string]any, path string) any {
	var cur any = claims
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

func claimString(claims map[string]any, path string) string {
	switch v := lookupClaim(claims, path).(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// claimStrings reads a list claim; a single string counts as one role and a
// space separated string as several.
func claimStrings(claims map[string]any, path string) []string {
	switch v := lookupClaim(claims, path).(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}

func classifyJWTError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "expired"):
		return "Token expired"
	case strings.Contains(s, "issuer"):
		return "Invalid token issuer"
	case strings.Contains(s, "audience"):
		return "Invalid token audience"
	case strings.Contains(s, "signing method"):
		return "Disallowed signing algorithm"
	case strings.Contains(s, "signature"):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}
