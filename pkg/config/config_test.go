package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("INDEX_URL", "http://localhost:9200")

	cfg := Load()
	if cfg.Port != 8087 {
		t.Errorf("default port: want 8087, got %d", cfg.Port)
	}
	if cfg.APIPrefix != "api/v1" {
		t.Errorf("default prefix: want api/v1, got %q", cfg.APIPrefix)
	}
	if cfg.IndexName != "recall-items" {
		t.Errorf("default index name: got %q", cfg.IndexName)
	}
	if cfg.Embedder.Dimension != 3072 {
		t.Errorf("default dimension: got %d", cfg.Embedder.Dimension)
	}
	if cfg.TokenizerEncoding != "cl100k_base" {
		t.Errorf("default encoding: got %q", cfg.TokenizerEncoding)
	}
	if cfg.Env != EnvDevelopment {
		t.Errorf("default env: got %q", cfg.Env)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RECALL_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("INDEX_NAME", "custom")

	cfg := Load()
	if cfg.Env != EnvProduction || !cfg.IsProduction() {
		t.Errorf("env override failed: %q", cfg.Env)
	}
	if cfg.Port != 9000 {
		t.Errorf("port override failed: %d", cfg.Port)
	}
	if cfg.IndexName != "custom" {
		t.Errorf("index name override failed: %q", cfg.IndexName)
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Env:      EnvDevelopment,
		Port:     8087,
		RedisURL: "redis://localhost:6379",
		IndexURL: "http://localhost:9200",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing redis", func(c *Config) { c.RedisURL = "" }},
		{"missing index", func(c *Config) { c.IndexURL = "" }},
		{"bad port", func(c *Config) { c.Port = -1 }},
		{"bad env", func(c *Config) { c.Env = "staging" }},
	}
	for _, tc := range cases {
		cfg := *valid
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RECALL_TEST_VALUE", "hello")

	cases := []struct {
		in   string
		want string
	}{
		{"${RECALL_TEST_VALUE}", "hello"},
		{"$RECALL_TEST_VALUE", "hello"},
		{"${RECALL_TEST_MISSING:-fallback}", "fallback"},
		{"${RECALL_TEST_VALUE:-fallback}", "hello"},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		if got := ExpandEnv(c.in); got != c.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
