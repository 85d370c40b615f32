package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// MiddlewareScheme is the Authorization scheme middleware hosts use when
// calling back into Care.
const MiddlewareScheme = "Middleware_Bearer"

// maxCachedHosts bounds the per-host JWKS caches kept by an authenticator.
const maxCachedHosts = 256

var (
	ErrMiddlewareToken   = errors.New("invalid middleware token")
	ErrUnknownFacility   = errors.New("token subject is not a known facility")
	ErrForeignHost       = errors.New("host is not a middleware of the token facility")
	ErrMiddlewareKeyless = errors.New("middleware signing key unavailable")
)

// FacilityLookup resolves the facility named by a middleware token subject.
type FacilityLookup interface {
	FacilityExists(ctx context.Context, id uuid.UUID) (bool, error)
	// FacilityUsesHost reports whether host is the middleware hostname of the
	// facility, or of one of its live locations or assets.
	FacilityUsesHost(ctx context.Context, id uuid.UUID, host string) (bool, error)
}

// MiddlewareAuthenticator verifies tokens signed by a middleware host. The
// verification key is taken from the JWKS that host publishes, and only
// hosts configured for the token's facility are ever contacted.
type MiddlewareAuthenticator struct {
	facilities FacilityLookup
	client     *resty.Client
	scheme     string
	ttl        time.Duration
	maxHosts   int

	mu     sync.Mutex
	tick   uint64
	caches map[string]*hostCache
}

type hostCache struct {
	jwks *JWKSCache
	used uint64
}

func NewMiddlewareAuthenticator(facilities FacilityLookup, client *resty.Client) *MiddlewareAuthenticator {
	if client == nil {
		client = resty.New().SetTimeout(10 * time.Second)
	}
	return &MiddlewareAuthenticator{
		facilities: facilities,
		client:     client,
		scheme:     "https",
		ttl:        defaultJWKSCacheTTL,
		maxHosts:   maxCachedHosts,
		caches:     make(map[string]*hostCache),
	}
}

// cacheFor returns the JWKS cache of host, evicting the least recently used
// host once maxHosts are held.
func (a *MiddlewareAuthenticator) cacheFor(host string) *JWKSCache {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tick++
	if c, ok := a.caches[host]; ok {
		c.used = a.tick
		return c.jwks
	}
	if len(a.caches) >= a.maxHosts {
		var oldest string
		var at uint64
		for h, c := range a.caches {
			if oldest == "" || c.used < at {
				oldest, at = h, c.used
			}
		}
		delete(a.caches, oldest)
	}
	url := fmt.Sprintf("%s://%s/.well-known/openid-configuration", a.scheme, host)
	c := &hostCache{jwks: NewJWKSCache(url, a.ttl, a.client), used: a.tick}
	a.caches[host] = c
	return c.jwks
}

// Authenticate verifies the Authorization header on behalf of host and
// returns the facility id carried in the token subject. host must already be
// normalised.
func (a *MiddlewareAuthenticator) Authenticate(ctx context.Context, header, host string) (uuid.UUID, error) {
	tokenStr, ok := bearerToken(header, MiddlewareScheme)
	if !ok {
		return uuid.Nil, ErrMiddlewareToken
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, &jwt.RegisteredClaims{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrMiddlewareToken, err)
	}
	subject, _ := unverified.Claims.GetSubject()
	facilityID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, ErrUnknownFacility
	}
	exists, err := a.facilities.FacilityExists(ctx, facilityID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("looking up facility: %w", err)
	}
	if !exists {
		return uuid.Nil, ErrUnknownFacility
	}
	uses, err := a.facilities.FacilityUsesHost(ctx, facilityID, host)
	if err != nil {
		return uuid.Nil, fmt.Errorf("looking up facility hosts: %w", err)
	}
	if !uses {
		return uuid.Nil, ErrForeignHost
	}

	kid, _ := unverified.Header["kid"].(string)
	key, err := a.cacheFor(host).GetKey(ctx, kid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrMiddlewareKeyless, err)
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: signature", ErrMiddlewareToken)
	}
	return facilityID, nil
}

type middlewareFacilityKey struct{}

// WithMiddlewareFacility stores the facility a middleware token was issued
// for.
func WithMiddlewareFacility(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, middlewareFacilityKey{}, id)
}

// MiddlewareFacilityFromContext returns the facility authenticated by
// MiddlewareAuth.
func MiddlewareFacilityFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(middlewareFacilityKey{}).(uuid.UUID)
	return id, ok
}

// MiddlewareAuth guards routes called by middleware hosts. host extracts and
// validates the host the caller claims to be; its error is returned as is.
func (a *MiddlewareAuthenticator) MiddlewareAuth(host func(c echo.Context) (string, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h, err := host(c)
			if err != nil {
				return err
			}
			ctx := c.Request().Context()
			facilityID, err := a.Authenticate(ctx, c.Request().Header.Get("Authorization"), h)
			switch {
			case errors.Is(err, ErrUnknownFacility):
				return echo.NewHTTPError(http.StatusForbidden, "unknown facility")
			case errors.Is(err, ErrForeignHost):
				return echo.NewHTTPError(http.StatusForbidden, "host does not serve this facility")
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid middleware token")
			}
			c.SetRequest(c.Request().WithContext(WithMiddlewareFacility(ctx, facilityID)))
			return next(c)
		}
	}
}
