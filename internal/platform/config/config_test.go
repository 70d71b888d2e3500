package config

import (
	"os"
	"path/filepath"
	"testing"

	"messaging-gateway/internal/constants"
)

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Name: "messaging-gateway", Version: "test"},
		Server:   ServerConfig{Host: "127.0.0.1", Port: "8080", Timeout: 30},
		Database: DatabaseConfig{Driver: DriverMemory},
		Log:      LogConfig{RotationTimeHours: 24, MaxAgeDays: 7, MaxSizeMB: 10},
	}
}

func TestLoad_TestConfigAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Load(cfg); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}
	if Get() != cfg {
		t.Fatal("Get 應返回傳入的配置")
	}
	if cfg.Realtime.Broker != BrokerLocal {
		t.Errorf("預設中繼應為 local, got %s", cfg.Realtime.Broker)
	}
	if cfg.Limits.Pagination.DefaultPageSize != constants.DefaultPageSize {
		t.Errorf("預設分頁大小應為 %d, got %d", constants.DefaultPageSize, cfg.Limits.Pagination.DefaultPageSize)
	}
	if cfg.Limits.Message.MaxLength != constants.DefaultMaxMessageLength {
		t.Errorf("預設訊息長度錯誤: %d", cfg.Limits.Message.MaxLength)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]func(*Config){
		"missing name":         func(c *Config) { c.App.Name = "" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "sqlite" },
		"mongo without url":    func(c *Config) { c.Database.Driver = DriverMongo },
		"redis without addr":   func(c *Config) { c.Realtime.Broker = BrokerRedis },
		"unknown broker":       func(c *Config) { c.Realtime.Broker = "nats" },
		"jwt without secret":   func(c *Config) { c.Security.Authentication.JWTEnabled = true },
		"encryption no key":    func(c *Config) { c.Security.Encryption.Enabled = true },
		"page size over max":   func(c *Config) { c.Limits.Pagination.DefaultPageSize = 500; c.Limits.Pagination.MaxPageSize = 100 },
		"missing log rotation": func(c *Config) { c.Log.RotationTimeHours = 0 },
		"unknown log level":    func(c *Config) { c.Log.Level = "trace" },
		"bad trusted proxy":    func(c *Config) { c.Server.TrustedProxies = []string{"not-an-ip"} },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		if err := Load(cfg); err == nil {
			t.Errorf("%s: 應驗證失敗", name)
		}
	}
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yaml")
	yaml := `
app:
  name: messaging-gateway
  version: 1.2.3
server:
  port: "9090"
database:
  driver: mongo
  mongo:
    url: mongodb://from-file:27017
    database: mgw
    max_pool_size: 10
log:
  rotation_time_hours: 24
  max_age_days: 7
  max_size_mb: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MGW_DATABASE_MONGO_URL", "mongodb://from-env:27017")
	t.Cleanup(func() { SetEnv("local") })

	if err := Load(); err != nil {
		t.Fatalf("載入失敗: %v", err)
	}
	cfg := Get()
	if cfg.Database.Mongo.URL != "mongodb://from-env:27017" {
		t.Errorf("環境變數應覆蓋檔案, got %s", cfg.Database.Mongo.URL)
	}
	if cfg.Server.Port != "9090" || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("伺服器配置錯誤: %+v", cfg.Server)
	}
	if GetEnv() != "staging" {
		t.Errorf("應從檔名推斷環境, got %s", GetEnv())
	}
	if GetServerAddr() != "0.0.0.0:9090" {
		t.Errorf("地址錯誤: %s", GetServerAddr())
	}
}
