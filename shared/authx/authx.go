// Package authx verifies OIDC bearer tokens against a cached JWKS endpoint
// and carries the verified identity through request contexts.
package authx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

const (
	defaultJWKSTTL      = 5 * time.Minute
	jwksFetchTimeout    = 5 * time.Second
	wellKnownJWKSSuffix = "/.well-known/jwks.json"
)

// AuthContext is the verified identity attached to a request.
type AuthContext struct {
	Subject string
	Email   string
	Name    string
	Roles   []string
	Claims  map[string]any
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(contextKey{}).(AuthContext)
	return auth, ok
}

// JWTVerifier validates signature, issuer, audience and lifetime of bearer
// tokens. Signing keys are fetched lazily from the JWKS endpoint and cached.
type JWTVerifier struct {
	issuer   string
	audience string
	keys     *keyCache
	parser   *jwt.Parser
}

// NewJWTVerifier requires issuer and audience; jwksURL defaults to the
// issuer's well-known location when empty.
func NewJWTVerifier(issuer string, audience string, jwksURL string, ttlSeconds int, clockSkewSeconds int) (*JWTVerifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: missing issuer or audience", ErrInvalidToken)
	}
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + wellKnownJWKSSuffix
	}

	ttl := defaultJWKSTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	var skew time.Duration
	if clockSkewSeconds > 0 {
		skew = time.Duration(clockSkewSeconds) * time.Second
	}

	return &JWTVerifier{
		issuer:   issuer,
		audience: audience,
		keys:     newKeyCache(jwksURL, ttl),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithLeeway(skew),
		),
	}, nil
}

// Verify parses and validates rawToken. Any failure collapses to
// ErrInvalidToken so callers cannot leak verification detail to clients.
func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(rawToken, claims, v.resolveKey(ctx)); err != nil {
		return AuthContext{}, ErrInvalidToken
	}

	// Tokens without explicit lifetime or origin claims are rejected even
	// when the parser accepted them.
	for _, required := range []string{"exp", "nbf", "iss", "aud", "sub"} {
		if claims[required] == nil {
			return AuthContext{}, ErrInvalidToken
		}
	}

	subject := stringClaim(claims, "sub")
	if subject == "" {
		return AuthContext{}, ErrInvalidToken
	}

	return AuthContext{
		Subject: subject,
		Email:   stringClaim(claims, "email"),
		Name:    stringClaim(claims, "name", "preferred_username"),
		Roles:   parseRoles(claims),
		Claims:  map[string]any(claims),
	}, nil
}

func (v *JWTVerifier) resolveKey(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid = strings.TrimSpace(kid); kid == "" {
			return nil, ErrUnknownKID
		}
		return v.keys.get(ctx, kid)
	}
}

// stringClaim returns the first non-empty claim among keys.
func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseRoles merges the roles, role and scp claims into a deduplicated list,
// preserving first-seen order.
func parseRoles(claims map[string]any) []string {
	var roles []string
	seen := map[string]bool{}
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" || seen[role] {
			return
		}
		seen[role] = true
		roles = append(roles, role)
	}

	for _, key := range []string{"roles", "role"} {
		switch t := claims[key].(type) {
		case nil:
		case []string:
			for _, role := range t {
				add(role)
			}
		case []any:
			for _, role := range t {
				add(fmt.Sprint(role))
			}
		case string:
			for _, role := range strings.Fields(t) {
				add(role)
			}
		default:
			add(fmt.Sprint(t))
		}
	}

	if scopes, ok := claims["scp"].(string); ok {
		for _, scope := range strings.Fields(scopes) {
			add(scope)
		}
	}

	return roles
}

// keyCache holds raw public keys by kid, refreshed from the JWKS URL when the
// TTL lapses or an unknown kid arrives. A failed refresh falls back to the
// stale set while it remains valid.
type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	byKID     map[string]any
	staleAt   time.Time
	fetchedAt time.Time
}

func newKeyCache(url string, ttl time.Duration) *keyCache {
	return &keyCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: jwksFetchTimeout},
		byKID:  map[string]any{},
	}
}

func (c *keyCache) get(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}

	if key, ok := c.lookup(kid, true); ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if key, ok := c.lookup(kid, true); ok {
			return key, nil
		}
		return nil, err
	}

	if key, ok := c.lookup(kid, false); ok {
		return key, nil
	}
	return nil, ErrUnknownKID
}

func (c *keyCache) lookup(kid string, checkTTL bool) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byKID[kid]
	if !ok || key == nil {
		return nil, false
	}
	if checkTTL && !time.Now().Before(c.staleAt) {
		return nil, false
	}
	return key, true
}

func (c *keyCache) refresh(ctx context.Context) error {
	body, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return err
	}

	fresh := map[string]any{}
	iter := set.Iterate(ctx)
	for iter.Next(ctx) {
		key, ok := iter.Pair().Value.(jwk.Key)
		if !ok {
			continue
		}
		kid := strings.TrimSpace(key.KeyID())
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		fresh[kid] = raw
	}
	if len(fresh) == 0 {
		return errors.New("jwks document contains no usable keys")
	}

	now := time.Now()
	c.mu.Lock()
	c.byKID = fresh
	c.staleAt = now.Add(c.ttl)
	c.fetchedAt = now
	c.mu.Unlock()
	return nil
}

func (c *keyCache) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
