package config

import (
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", DefaultJWTSecret)
	t.Setenv("STORE_BACKEND", BackendMemory)
	t.Setenv("REALTIME_BACKEND", BackendMemory)
	t.Setenv("TOKEN_TTL_HOURS", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.TokenTTLHours != 24 {
		t.Errorf("TokenTTLHours = %d, want 24", cfg.TokenTTLHours)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitBurst != 40 {
		t.Errorf("RateLimitBurst = %d, want 40", cfg.RateLimitBurst)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:            "8081",
			Env:             "development",
			DatabaseURL:     "postgres://localhost/rundy",
			RedisURL:        "redis://localhost:6379",
			JWTSecret:       DefaultJWTSecret,
			TokenTTLHours:   24,
			StoreBackend:    BackendPostgres,
			RealtimeBackend: BackendRedis,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid development config", func(*Config) {}, false},
		{"valid production config", func(c *Config) { c.Env = "production"; c.JWTSecret = "prod-secret" }, false},
		{"memory backends need no urls", func(c *Config) {
			c.StoreBackend, c.RealtimeBackend = BackendMemory, BackendMemory
			c.DatabaseURL, c.RedisURL = "", ""
		}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty database url", func(c *Config) { c.DatabaseURL = "" }, true},
		{"empty redis url", func(c *Config) { c.RedisURL = "" }, true},
		{"unknown store backend", func(c *Config) { c.StoreBackend = "sqlite" }, true},
		{"unknown realtime backend", func(c *Config) { c.RealtimeBackend = "kafka" }, true},
		{"default secret in production", func(c *Config) { c.Env = "production" }, true},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"zero ttl", func(c *Config) { c.TokenTTLHours = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
