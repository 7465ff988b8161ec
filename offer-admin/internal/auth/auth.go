// Package auth identifies the operator behind a request and verifies CI
// webhook signatures.
package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const DevPrincipalHeader = "X-Local-Dev-Principal"

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("missing required role")
)

// Principal is the authenticated operator.
type Principal struct {
	Subject string   `json:"subject"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Source  string   `json:"source"`
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Config struct {
	// PublicKeysFile holds PEM public keys or certificates trusted for
	// operator bearer tokens.
	PublicKeysFile string
	Issuer         string
	RequiredRole   string
	OIDCIssuerURL  string
	OIDCClientID   string
	DevAllowLocal  bool
}

// Verifier accepts bearer tokens signed by one of the configured keys or,
// when an OIDC issuer is configured, ID tokens from that issuer.
type Verifier struct {
	cfg      Config
	keys     []interface{}
	idTokens *oidc.IDTokenVerifier
}

func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	v := &Verifier{cfg: cfg}
	if cfg.PublicKeysFile != "" {
		keys, err := loadKeys(cfg.PublicKeysFile)
		if err != nil {
			return nil, fmt.Errorf("load operator keys: %w", err)
		}
		v.keys = keys
	}
	if cfg.OIDCIssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		v.idTokens = provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})
	}
	return v, nil
}

// WithIDTokenVerifier replaces the OIDC verifier.
func (v *Verifier) WithIDTokenVerifier(iv *oidc.IDTokenVerifier) *Verifier {
	v.idTokens = iv
	return v
}

func loadKeys(path string) ([]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []interface{}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue
			}
			key = cert.PublicKey
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid keys found in %s", path)
	}
	return keys, nil
}

// Authenticate resolves the principal of r.
func (v *Verifier) Authenticate(r *http.Request) (Principal, error) {
	if v.cfg.DevAllowLocal {
		if sub := strings.TrimSpace(r.Header.Get(DevPrincipalHeader)); sub != "" {
			return Principal{Subject: sub, Source: "dev"}, nil
		}
	}
	raw := bearer(r)
	if raw == "" {
		return Principal{}, ErrUnauthenticated
	}

	var p Principal
	var err error
	switch {
	case len(v.keys) > 0:
		p, err = v.verifyToken(raw)
		if err != nil && v.idTokens != nil {
			p, err = v.verifyIDToken(r.Context(), raw)
		}
	case v.idTokens != nil:
		p, err = v.verifyIDToken(r.Context(), raw)
	default:
		return Principal{}, fmt.Errorf("%w: no token verifier configured", ErrUnauthenticated)
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if p.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	if v.cfg.RequiredRole != "" && !hasRole(p.Roles, v.cfg.RequiredRole) {
		return Principal{}, ErrForbidden
	}
	return p, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (v *Verifier) verifyToken(raw string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384"})}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	// PEM keys carry no kid, so every key is tried.
	var err error
	var token *jwt.Token
	for _, key := range v.keys {
		token, err = jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, opts...)
		if err == nil && token.Valid {
			break
		}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("token parse error: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid claims")
	}
	return principalFromClaims(claims, "jwt"), nil
}

func (v *Verifier) verifyIDToken(ctx context.Context, raw string) (Principal, error) {
	idToken, err := v.idTokens.Verify(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return Principal{}, err
	}
	return principalFromClaims(claims, "oidc"), nil
}

// principalFromClaims reads roles from a "roles" array or a space separated
// "scope" string.
func principalFromClaims(claims map[string]interface{}, source string) Principal {
	p := Principal{Source: source}
	p.Subject, _ = claims["sub"].(string)
	p.Email, _ = claims["email"].(string)
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				p.Roles = append(p.Roles, s)
			}
		}
	}
	if scope, ok := claims["scope"].(string); ok {
		p.Roles = append(p.Roles, strings.Fields(scope)...)
	}
	return p
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
