package httpapi_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomctx/loomctx/pkg/authz"
	"github.com/loomctx/loomctx/pkg/authz/httpapi"
	"github.com/loomctx/loomctx/pkg/identity"
)

func newTestServer(t *testing.T) (*httpapi.Server, []byte) {
	t.Helper()
	cache := authz.NewCache()
	cache.LoadSnapshot(identity.TenantID("tenant-a"),
		[]authz.Unit{{ID: "company-1", TenantID: "tenant-a", Type: authz.UnitCompany, Name: "Acme"}},
		nil, nil, nil,
	)
	keys := httpapi.MapKeyStore{"good-key": "tenant-a"}
	secret := []byte("shh")
	return httpapi.NewServer(cache, keys, httpapi.RateLimiterConfig{}, secret), secret
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHierarchyRejectsMissingAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/hierarchy", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHierarchyRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/hierarchy", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHierarchyReturnsTenantScopedUnits(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/hierarchy", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Units []authz.Unit `json:"units"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Units) != 1 || body.Units[0].ID != "company-1" {
		t.Fatalf("expected exactly company-1, got %+v", body.Units)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cache := authz.NewCache()
	keys := httpapi.MapKeyStore{"good-key": "tenant-a"}
	srv := httpapi.NewServer(cache, keys, httpapi.RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute}, nil)

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/hierarchy", nil)
		req.Header.Set("Authorization", "Bearer good-key")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do(); got != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", got)
	}
	if got := do(); got != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"kind":"upsert_unit"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/referential", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer good-key")
	req.Header.Set("X-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", rec.Code)
	}
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	srv, secret := newTestServer(t)
	body := []byte(`{"kind":"upsert_unit"}`)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/referential", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer good-key")
	req.Header.Set("X-Signature", sig)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a valid signature, got %d: %s", rec.Code, rec.Body.String())
	}
}
