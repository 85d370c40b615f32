package asset

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ohcnetwork/care-sub000/internal/domain/devices"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
)

func newTestServer(f *fixture, caller *auth.Caller) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if caller != nil {
				c.SetRequest(c.Request().WithContext(auth.WithCaller(c.Request().Context(), *caller)))
			}
			return next(c)
		}
	})
	h := NewHandler(f.svc)
	h.RegisterRoutes(api)
	asFacility := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid middleware token")
			}
			ctx := auth.WithMiddlewareFacility(c.Request().Context(), f.facility.ID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	h.RegisterConfigRoutes(e.Group("/asset_config"), asFacility)
	return e
}

func pull(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", auth.MiddlewareScheme+" token")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAsset(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f, &f.super)

	body := `{"name":"Cam-1","asset_class":"CAMERA","location":"` + f.location.ID.String() +
		`","meta":{"local_ip_address":"10.0.0.5"}}`
	rec := do(e, http.MethodPost, "/api/v1/asset", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Asset
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Class() != devices.Camera || got.LocalIP() != "10.0.0.5" {
		t.Errorf("unexpected asset %+v", got)
	}
}

func TestHandler_ValidationRendering(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f, &f.super)

	yesterday := fixedNow.AddDate(0, 0, -1).Format("2006-01-02")
	body := `{"name":"A","location":"` + f.location.ID.String() +
		`","warranty_amc_end_of_validity":"` + yesterday + `"}`
	rec := do(e, http.MethodPost, "/api/v1/asset", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Message map[string]apperr.FieldError `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Message["warranty_amc_end_of_validity"].Code != "past" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_BadDateIsValidationError(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f, &f.super)
	body := `{"name":"A","location":"` + f.location.ID.String() + `","last_serviced_on":"14/03/2026"}`
	rec := do(e, http.MethodPost, "/api/v1/asset", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_NotFoundAndUnauthenticated(t *testing.T) {
	f := newFixture(t)

	rec := do(newTestServer(f, &f.super), http.MethodGet, "/api/v1/asset/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	rec = do(newTestServer(f, &f.super), http.MethodGet, "/api/v1/asset/not-a-uuid", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed id, got %d", rec.Code)
	}
	rec = do(newTestServer(f, nil), http.MethodGet, "/api/v1/asset", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_ForbiddenOutsideScope(t *testing.T) {
	f := newFixture(t)
	a := f.mustAsset(t, "Cam", devices.Camera, "10.0.0.5")
	outsider := auth.Caller{UserID: uuid.New(), Scope: auth.ScopeFacilityMember, FacilityIDs: []uuid.UUID{uuid.New()}}

	rec := do(newTestServer(f, &outsider), http.MethodGet, "/api/v1/asset/"+a.ID.String(), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_ListAssetsEnvelope(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"A", "B", "C"} {
		f.mustAsset(t, n, "", "")
	}
	rec := do(newTestServer(f, &f.super), http.MethodGet, "/api/v1/asset?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Count   int               `json:"count"`
		Next    *string           `json:"next"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 3 || len(out.Results) != 2 || out.Next == nil {
		t.Errorf("unexpected envelope %s", rec.Body.String())
	}
}

func TestHandler_LinkSecondMonitor(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f, &f.super)
	bed := f.mustBed(t, "B")
	m1 := f.mustAsset(t, "M1", devices.VitalsMonitor, "10.0.0.7")
	m2 := f.mustAsset(t, "M2", devices.VitalsMonitor, "10.0.0.8")

	rec := do(e, http.MethodPost, "/api/v1/assetbed", `{"asset":"`+m1.ID.String()+`","bed":"`+bed.ID.String()+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/assetbed", `{"asset":"`+m2.ID.String()+`","bed":"`+bed.ID.String()+`"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "monitor_limit") {
		t.Fatalf("expected 400 monitor_limit, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_LocationMustMatchFacilityInPath(t *testing.T) {
	f := newFixture(t)
	other := f.store.addFacility("")
	rec := do(newTestServer(f, &f.super), http.MethodGet,
		"/api/v1/facility/"+other.ID.String()+"/asset_location/"+f.location.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_AssetConfig(t *testing.T) {
	f := newFixture(t)
	cam := f.mustAsset(t, "Cam", devices.Camera, "10.0.0.5")
	e := newTestServer(f, nil)

	rec := pull(e, "/asset_config/?middleware_hostname=https://M.Example.net/api")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []ConfigEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != cam.ID || got[0].AssetClass != devices.Camera {
		t.Errorf("unexpected config %s", rec.Body.String())
	}

	rec = pull(e, "/asset_config?middleware_hostname=m.example.net")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 without trailing slash, got %d", rec.Code)
	}
	rec = pull(e, "/asset_config")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without hostname, got %d", rec.Code)
	}
	rec = pull(e, "/asset_config?middleware_hostname=bad_host!")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid hostname, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/asset_config/?middleware_hostname=m.example.net", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a middleware token, got %d", rec.Code)
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2026-03-14"`), &d); err != nil {
		t.Fatal(err)
	}
	if !d.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", d)
	}
	out, _ := json.Marshal(d)
	if string(out) != `"2026-03-14"` {
		t.Errorf("unexpected encoding %s", out)
	}
	if err := json.Unmarshal([]byte(`"2026-03-14T00:00:00Z"`), &d); err == nil {
		t.Error("expected error for a timestamp")
	}
}

func TestResolveHostname(t *testing.T) {
	cases := []struct {
		meta, loc, fac, want string
	}{
		{"a", "l", "f", "a"},
		{"", "l", "f", "l"},
		{"", "", "f", "f"},
		{" ", "", "", ""},
	}
	for _, tc := range cases {
		if got := ResolveHostname(tc.meta, tc.loc, tc.fac); got != tc.want {
			t.Errorf("ResolveHostname(%q,%q,%q) = %q, want %q", tc.meta, tc.loc, tc.fac, got, tc.want)
		}
	}
}
