package app

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(viper.New())

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.DBDriver)
	}
	if cfg.CreateWait != 2*time.Second || cfg.SubmitWait != 3*time.Second {
		t.Fatalf("unexpected waits: create=%s submit=%s", cfg.CreateWait, cfg.SubmitWait)
	}
	if cfg.MonitorInterval != time.Second {
		t.Fatalf("expected 1s monitor interval, got %s", cfg.MonitorInterval)
	}
	if got := cfg.DB().ConnMaxLifetime; got != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %s", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	v := viper.New()
	v.Set("db-driver", "postgres")
	v.Set("db-dsn", "postgres://x")
	v.Set("submit-wait", "500ms")
	v.Set("create-wait", "0s")
	v.Set("cors-origins", []string{" https://school.example ", ""})
	v.Set("csrf-enforced", true)

	cfg := LoadConfig(v)
	if cfg.DBDriver != "postgres" || cfg.DBDSN != "postgres://x" {
		t.Fatalf("unexpected db config: %+v", cfg.DB())
	}
	if cfg.SubmitWait != 500*time.Millisecond {
		t.Fatalf("expected 500ms submit wait, got %s", cfg.SubmitWait)
	}
	if cfg.CreateWait != 0 {
		t.Fatalf("explicit zero create wait must be kept, got %s", cfg.CreateWait)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://school.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if !cfg.CSRFEnforced {
		t.Fatalf("expected csrf enforced")
	}
	if cfg.Engine().SubmitWait != 500*time.Millisecond {
		t.Fatalf("engine config not derived from app config")
	}
}
