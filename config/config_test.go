package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Cache.Backend != "sqlite" {
		t.Fatalf("Defaults are %+v", cfg)
	}
	if cfg.Delivery.HTMLTTL.Std() != 5*time.Minute {
		t.Fatalf("HTML TTL is %s", cfg.Delivery.HTMLTTL.Std())
	}
}

func TestYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folio.yaml")
	content := `
server:
  port: 9000
cache:
  backend: file
  path: /var/cache/folio
  pageTtl: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 || cfg.Cache.Backend != "file" {
		t.Fatalf("Config is %+v", cfg)
	}
	if cfg.Cache.PageTTL.Std() != 30*time.Minute {
		t.Fatalf("Page TTL is %s", cfg.Cache.PageTTL.Std())
	}
	// untouched values keep their defaults
	if cfg.Site.GridSize != 12 {
		t.Fatalf("Grid size is %d", cfg.Site.GridSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOLIO_SERVER_PORT", "7777")
	t.Setenv("FOLIO_DELIVERY_HTMLTTL", "90s")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("Port is %d", cfg.Server.Port)
	}
	if cfg.Delivery.HTMLTTL.Std() != 90*time.Second {
		t.Fatalf("HTML TTL is %s", cfg.Delivery.HTMLTTL.Std())
	}
}
