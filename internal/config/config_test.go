package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ========== Load 测试 ==========

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "next-crm" {
		t.Errorf("App.Name = %q, want next-crm", cfg.App.Name)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Client.BaseURL == "" {
		t.Error("Client.BaseURL should have a default")
	}
	if Get() != cfg {
		t.Error("Get() should return the last loaded config")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/crm.db
auth:
  jwtSecret: s3cret
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/crm.db" {
		t.Errorf("Database = %+v, want sqlite /tmp/crm.db", cfg.Database)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %q, want s3cret", cfg.Auth.JWTSecret)
	}
	// 未覆盖的项仍使用默认值
	if cfg.Auth.AccessTokenTTL != 3600 {
		t.Errorf("Auth.AccessTokenTTL = %d, want 3600", cfg.Auth.AccessTokenTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

// ========== 辅助方法测试 ==========

func TestHelpers(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	if got, want := db.GetDSN(), "host=h port=5432 user=u password=p dbname=d sslmode=disable"; got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}

	srv := ServerConfig{Host: "0.0.0.0", Port: 80}
	if srv.GetAddr() != "0.0.0.0:80" {
		t.Errorf("ServerConfig.GetAddr() = %q", srv.GetAddr())
	}

	auth := AuthConfig{AccessTokenTTL: 60, RefreshTokenTTL: 120}
	if auth.AccessTTL() != time.Minute || auth.RefreshTTL() != 2*time.Minute {
		t.Errorf("AccessTTL/RefreshTTL = %v/%v", auth.AccessTTL(), auth.RefreshTTL())
	}

	client := ClientConfig{Timeout: 5}
	if client.RequestTimeout() != 5*time.Second {
		t.Errorf("RequestTimeout() = %v", client.RequestTimeout())
	}
}
