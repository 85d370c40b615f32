package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims is the user token issued by the identity provider in front of Care.
type Claims struct {
	jwt.RegisteredClaims
	Scope       string   `json:"scope"`
	StateID     string   `json:"state_id,omitempty"`
	DistrictID  string   `json:"district_id,omitempty"`
	FacilityIDs []string `json:"facility_ids,omitempty"`
}

// Caller converts verified claims into the request principal.
func (cl *Claims) Caller() (Caller, error) {
	userID, err := uuid.Parse(cl.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	scope, err := ParseScope(cl.Scope)
	if err != nil {
		return Caller{}, err
	}
	c := Caller{UserID: userID, Scope: scope}
	if cl.StateID != "" {
		id, err := uuid.Parse(cl.StateID)
		if err != nil {
			return Caller{}, fmt.Errorf("state_id: %w", err)
		}
		c.StateID = &id
	}
	if cl.DistrictID != "" {
		id, err := uuid.Parse(cl.DistrictID)
		if err != nil {
			return Caller{}, fmt.Errorf("district_id: %w", err)
		}
		c.DistrictID = &id
	}
	for _, raw := range cl.FacilityIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Caller{}, fmt.Errorf("facility_ids: %w", err)
		}
		c.FacilityIDs = append(c.FacilityIDs, id)
	}
	return c, nil
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
}

// JWKSCache caches JWKS keys fetched from a remote endpoint with a configurable TTL.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *resty.Client
}

// NewJWKSCache creates a new JWKS cache that fetches keys from the given URL.
func NewJWKSCache(jwksURL string, ttl time.Duration, client *resty.Client) *JWKSCache {
	if client == nil {
		client = resty.New().SetTimeout(10 * time.Second)
	}
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  client,
	}
}

// GetKey returns the RSA public key for the given kid. An empty kid selects
// the only key of a single-key set. Keys are refetched on miss or expiry.
func (c *JWKSCache) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.lookup(kid)
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" && len(c.keys) == 1 {
		for _, k := range c.keys {
			return k, true
		}
	}
	k, ok := c.keys[kid]
	return k, ok
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	var jwks JWKSResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&jwks).
		Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

// defaultJWKSCacheTTL is the default time-to-live for cached JWKS keys.
const defaultJWKSCacheTTL = 5 * time.Minute

func jwksKeyFunc(ctx context.Context, cache *JWKSCache) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(ctx, kid)
	}
}

// JWTMiddleware authenticates users with "Authorization: Bearer <jwt>" and
// stores the resulting Caller on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" {
		jwksURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	var cache *JWKSCache
	if len(cfg.SigningKey) == 0 {
		cache = NewJWKSCache(jwksURL, defaultJWKSCacheTTL, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, ok := bearerToken(c.Request().Header.Get("Authorization"), "bearer")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid authorization header")
			}

			claims := &Claims{}
			var token *jwt.Token
			var err error
			if cache == nil {
				token, err = jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
					return cfg.SigningKey, nil
				}, opts...)
			} else {
				token, err = jwt.ParseWithClaims(tokenStr, claims, jwksKeyFunc(c.Request().Context(), cache), opts...)
			}
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			caller, err := claims.Caller()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}
			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

// DevUserID is the caller id assigned by DevAuthMiddleware.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-00000000d0e0")

// DevAuthMiddleware is a permissive middleware for development: requests
// without a caller run with SUPER scope.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if _, ok := CallerFromContext(ctx); !ok {
				ctx = WithCaller(ctx, Caller{UserID: DevUserID, Scope: ScopeSuper})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// RequireCaller rejects requests that reached a handler without a principal.
func RequireCaller() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := CallerFromContext(c.Request().Context()); !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

func bearerToken(header, scheme string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
