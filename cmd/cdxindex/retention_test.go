package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/outbackwave/cdxindex/dbopen"
	"github.com/outbackwave/cdxindex/internal/config"
	"github.com/outbackwave/cdxindex/observability"
)

func TestRetentionCommandDeletesOldEvents(t *testing.T) {
	dataDir := t.TempDir()
	metaPath := filepath.Join(dataDir, "_meta.db")
	db, err := dbopen.Open(metaPath, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open metadata db: %v", err)
	}
	if err := observability.Init(db); err != nil {
		t.Fatalf("init observability schema: %v", err)
	}
	old := time.Now().Add(-200 * 24 * time.Hour).Unix()
	if _, err := db.Exec(`INSERT INTO business_event_logs (event_id, event_type, service_name, action, created_at) VALUES ('e1','x','cmd','ingest', ?)`, old); err != nil {
		t.Fatalf("seed event log: %v", err)
	}
	db.Close()

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cmd := newRetentionCmd(&cfg, func(c *cobra.Command) error { return nil })
	cmd.SetArgs([]string{"--event-logs-days", "90"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("retention command: %v", err)
	}

	db2, err := dbopen.Open(metaPath, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("reopen metadata db: %v", err)
	}
	defer db2.Close()
	var count int
	if err := db2.QueryRow(`SELECT COUNT(*) FROM business_event_logs`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after retention cleanup", count)
	}
}
