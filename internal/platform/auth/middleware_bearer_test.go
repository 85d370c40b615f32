package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// fakeFacilities maps each known facility to the middleware hosts it uses.
type fakeFacilities map[uuid.UUID][]string

func (f fakeFacilities) FacilityExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok := f[id]
	return ok, nil
}

func (f fakeFacilities) FacilityUsesHost(ctx context.Context, id uuid.UUID, host string) (bool, error) {
	for _, h := range f[id] {
		if h == host {
			return true, nil
		}
	}
	return false, nil
}

// jwksServer publishes the public half of ks and counts fetches.
func jwksServer(t *testing.T, ks *KeySet) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	e := echo.New()
	e.GET("/.well-known/openid-configuration", func(c echo.Context) error {
		atomic.AddInt32(&hits, 1)
		return OpenIDConfigHandler(ks)(c)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func middlewareToken(t *testing.T, ks *KeySet, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	token.Header["kid"] = ks.Kid
	s, err := token.SignedString(ks.Private)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestAuthenticator(facilities FacilityLookup) *MiddlewareAuthenticator {
	a := NewMiddlewareAuthenticator(facilities, nil)
	a.scheme = "http"
	return a
}

func TestMiddlewareAuthenticator_Valid(t *testing.T) {
	ks := sharedKeySet(t)
	srv, hits := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {host}})

	header := MiddlewareScheme + " " + middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute))
	for i := 0; i < 2; i++ {
		got, err := a.Authenticate(context.Background(), header, host)
		if err != nil {
			t.Fatalf("Authenticate() error: %v", err)
		}
		if got != facility {
			t.Errorf("expected facility %s, got %s", facility, got)
		}
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected JWKS to be fetched once, got %d", n)
	}
}

func TestMiddlewareAuthenticator_UnknownFacility(t *testing.T) {
	ks := sharedKeySet(t)
	srv, hits := jwksServer(t, ks)
	a := newTestAuthenticator(fakeFacilities{})

	header := MiddlewareScheme + " " + middlewareToken(t, ks, uuid.NewString(), time.Now().Add(time.Minute))
	_, err := a.Authenticate(context.Background(), header, strings.TrimPrefix(srv.URL, "http://"))
	if !errors.Is(err, ErrUnknownFacility) {
		t.Fatalf("expected ErrUnknownFacility, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("JWKS should not be fetched for an unknown facility")
	}
}

func TestMiddlewareAuthenticator_HostMustServeFacility(t *testing.T) {
	ks := sharedKeySet(t)
	srv, hits := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {"m.example.net"}})

	header := MiddlewareScheme + " " + middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute))
	_, err := a.Authenticate(context.Background(), header, host)
	if !errors.Is(err, ErrForeignHost) {
		t.Fatalf("expected ErrForeignHost, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("JWKS should not be fetched from a host the facility does not use")
	}
	if len(a.caches) != 0 {
		t.Errorf("expected no cached hosts, got %d", len(a.caches))
	}
}

func TestMiddlewareAuthenticator_CacheIsBounded(t *testing.T) {
	a := newTestAuthenticator(fakeFacilities{})
	a.maxHosts = 2

	first := a.cacheFor("a.example.net")
	a.cacheFor("b.example.net")
	if a.cacheFor("a.example.net") != first {
		t.Fatal("expected the cached JWKS to be reused")
	}
	a.cacheFor("c.example.net")

	if len(a.caches) != 2 {
		t.Fatalf("expected 2 cached hosts, got %d", len(a.caches))
	}
	if _, ok := a.caches["b.example.net"]; ok {
		t.Error("expected the least recently used host to be evicted")
	}
	if _, ok := a.caches["a.example.net"]; !ok {
		t.Error("expected the recently used host to be kept")
	}
}

func TestMiddlewareAuthenticator_FetchHonoursContext(t *testing.T) {
	ks := sharedKeySet(t)
	srv, hits := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {host}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	header := MiddlewareScheme + " " + middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute))
	if _, err := a.Authenticate(ctx, header, host); !errors.Is(err, ErrMiddlewareKeyless) {
		t.Fatalf("expected ErrMiddlewareKeyless, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Error("a cancelled request should not reach the JWKS endpoint")
	}
}

func TestMiddlewareAuthenticator_Rejects(t *testing.T) {
	ks := sharedKeySet(t)
	other, err := GenerateKeySet(2048)
	if err != nil {
		t.Fatal(err)
	}
	other.Kid = ks.Kid
	srv, _ := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {host}})

	tests := map[string]string{
		"wrong scheme": "Bearer " + middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute)),
		"expired":      MiddlewareScheme + " " + middlewareToken(t, ks, facility.String(), time.Now().Add(-time.Minute)),
		"wrong key":    MiddlewareScheme + " " + middlewareToken(t, other, facility.String(), time.Now().Add(time.Minute)),
		"garbage":      MiddlewareScheme + " not-a-jwt",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Authenticate(context.Background(), header, host); err == nil {
				t.Error("expected authentication to fail")
			}
		})
	}
}

func TestMiddlewareAuth_EchoStatus(t *testing.T) {
	ks := sharedKeySet(t)
	srv, _ := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {"m.example.net"}})
	mw := a.MiddlewareAuth(func(c echo.Context) (string, error) { return host, nil })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/asset_config", nil)
	req.Header.Set("Authorization", MiddlewareScheme+" "+middlewareToken(t, ks, uuid.NewString(), time.Now().Add(time.Minute)))
	c := e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, mw(okHandler)(c), http.StatusForbidden)

	req = httptest.NewRequest(http.MethodGet, "/asset_config", nil)
	req.Header.Set("Authorization", MiddlewareScheme+" "+middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute)))
	c = e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, mw(okHandler)(c), http.StatusForbidden)

	req = httptest.NewRequest(http.MethodGet, "/asset_config", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, mw(okHandler)(c), http.StatusUnauthorized)
}

func TestMiddlewareAuth_StoresFacility(t *testing.T) {
	ks := sharedKeySet(t)
	srv, _ := jwksServer(t, ks)
	host := strings.TrimPrefix(srv.URL, "http://")
	facility := uuid.New()
	a := newTestAuthenticator(fakeFacilities{facility: {host}})
	mw := a.MiddlewareAuth(func(c echo.Context) (string, error) { return host, nil })

	var got uuid.UUID
	handler := func(c echo.Context) error {
		got, _ = MiddlewareFacilityFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}
	req := httptest.NewRequest(http.MethodGet, "/asset_config", nil)
	req.Header.Set("Authorization", MiddlewareScheme+" "+middlewareToken(t, ks, facility.String(), time.Now().Add(time.Minute)))
	if err := mw(handler)(echo.New().NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != facility {
		t.Errorf("expected facility %s on the context, got %s", facility, got)
	}
}
