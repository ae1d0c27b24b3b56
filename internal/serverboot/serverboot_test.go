package serverboot_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/outbackwave/cdxindex/internal/config"
	"github.com/outbackwave/cdxindex/internal/serverboot"
)

func TestBootServesCollectionList(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	srv, err := serverboot.Boot(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/collections")
	if err != nil {
		t.Fatalf("GET /api/collections error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want *", got)
	}
}

func TestBootWithoutJWTSecretLeavesWritesUngated(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	srv, err := serverboot.Boot(cfg, nil, nil)
	if err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/testcoll", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /testcoll error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		t.Errorf("status = %d, want ingest to run without an admin gate when no JWT secret is configured", resp.StatusCode)
	}
}

func TestDeriveJWTSecretIsDeterministicAndFixedLength(t *testing.T) {
	a := serverboot.DeriveJWTSecret("hunter2")
	b := serverboot.DeriveJWTSecret("hunter2")
	if len(a) != 32 {
		t.Errorf("len(secret) = %d, want 32", len(a))
	}
	if string(a) != string(b) {
		t.Error("DeriveJWTSecret is not deterministic for the same input")
	}
}
