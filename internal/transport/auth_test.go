package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/floe/internal/config"
	"github.com/pitabwire/floe/model"
)

var testSecret = []byte("test-signing-secret")

func testIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:   "https://id.example.com",
		Audience: "floe",
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedRequest(t *testing.T, claims jwt.MapClaims) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
	return req
}

func runAuth(cfg config.IdentityConfig, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	var captured map[string]any
	handler := JWTAuthenticator(cfg, testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	req := authedRequest(t, jwt.MapClaims{
		"iss":        "https://id.example.com",
		"aud":        "floe",
		"account_id": "acct-1",
	})

	rec, claims := runAuth(testIdentityConfig(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if claims["account_id"] != "acct-1" {
		t.Errorf("account_id claim = %v, want acct-1", claims["account_id"])
	}
}

func TestJWTAuthenticator_missingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	rec, _ := runAuth(testIdentityConfig(), req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestJWTAuthenticator_missingHeaderWithHeaderTenancy(t *testing.T) {
	cfg := testIdentityConfig()
	cfg.AllowHeaderTenancy = true

	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	rec, _ := runAuth(cfg, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (header tenancy passthrough)", rec.Code)
	}
}

func TestJWTAuthenticator_expiredToken(t *testing.T) {
	req := authedRequest(t, jwt.MapClaims{
		"iss": "https://id.example.com",
		"aud": "floe",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	rec, _ := runAuth(testIdentityConfig(), req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestJWTAuthenticator_wrongIssuer(t *testing.T) {
	req := authedRequest(t, jwt.MapClaims{
		"iss": "https://evil.example.com",
		"aud": "floe",
	})

	rec, _ := runAuth(testIdentityConfig(), req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestJWTAuthenticator_badSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://id.example.com",
		"aud": "floe",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("different-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rec, _ := runAuth(testIdentityConfig(), req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTenantContext_fromClaims(t *testing.T) {
	cfg := config.IdentityConfig{
		ClaimPaths: map[string]string{
			"account_id":    "org.account",
			"engagement_id": "org.engagement",
		},
	}

	var got model.TenantContext
	handler := TenantContext(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = model.TenantContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	ctx := WithClaims(req.Context(), map[string]any{
		"org": map[string]any{
			"account":    "acct-9",
			"engagement": "eng-3",
		},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.AccountID != "acct-9" || got.EngagementID != "eng-3" {
		t.Errorf("tenant = %+v, want acct-9/eng-3", got)
	}
}

func TestTenantContext_headerFallback(t *testing.T) {
	cfg := config.IdentityConfig{AllowHeaderTenancy: true}

	var got model.TenantContext
	handler := TenantContext(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = model.TenantContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	req.Header.Set("X-Account-Id", "acct-h")
	req.Header.Set("X-Engagement-Id", "eng-h")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.AccountID != "acct-h" || got.EngagementID != "eng-h" {
		t.Errorf("tenant = %+v, want acct-h/eng-h", got)
	}
}

func TestTenantContext_missingScopeRejected(t *testing.T) {
	handler := TenantContext(config.IdentityConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flows", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTenantContext_headersIgnoredWithoutOptIn(t *testing.T) {
	handler := TenantContext(config.IdentityConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/flows", nil)
	req.Header.Set("X-Account-Id", "acct-h")
	req.Header.Set("X-Engagement-Id", "eng-h")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (header tenancy is opt-in)", rec.Code)
	}
}
