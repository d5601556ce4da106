package config

import (
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad(t *testing.T) {
	configContent := `
server:
  port: 9090
  rate_limit: 30
minio:
  endpoint: "localhost:9000"
  access_key: "minioadmin"
  secret_key: "minioadmin"
  bucket: "test-bucket"
  use_ssl: false
  expire_days: 14
mineru:
  api_url: "https://api.mineru.test"
  api_token: "test-token"
  model_version: "vlm"
  poll_interval: 2s
ai:
  base_url: "https://llm.test/v1"
  model: "gpt-test"
  timeout: 30s
pipeline:
  trigger_url: "http://localhost:9090/api/queueAnalysis"
  workers: 4
store:
  driver: sqlite3
  dsn: "file::memory:"
  max_deals: 50
kafka:
  brokers: ["localhost:9092"]
auth:
  jwt_secret: "test-secret"
  token_expire_hours: 48
log:
  level: "debug"
  format: "json"
users:
  - id: "u1"
    email: "investor@example.com"
    password: "testpass"
`
	cfg, err := Load(writeTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 30 {
		t.Errorf("Expected rate limit 30, got %d", cfg.Server.RateLimit)
	}
	if cfg.Minio.ExpireDays != 14 {
		t.Errorf("Expected expire_days 14, got %d", cfg.Minio.ExpireDays)
	}
	if cfg.Mineru.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %v", cfg.Mineru.PollInterval)
	}
	if cfg.AI.Timeout != 30*time.Second {
		t.Errorf("Expected AI timeout 30s, got %v", cfg.AI.Timeout)
	}
	if cfg.AI.ChatModel != "gpt-test" {
		t.Errorf("Expected chat model to default to model, got %s", cfg.AI.ChatModel)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Store.Driver != "sqlite3" || cfg.Store.MaxDeals != 50 {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Topic != "deal.events" {
		t.Errorf("Unexpected kafka config: %+v", cfg.Kafka)
	}
	if cfg.Auth.TokenExpireHours != 48 {
		t.Errorf("Expected token_expire_hours 48, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].UserID() != "u1" {
		t.Errorf("Unexpected users: %+v", cfg.Users)
	}
}

func TestLoadDefaults(t *testing.T) {
	configContent := `
minio:
  endpoint: "localhost:9000"
  access_key: "test"
  secret_key: "test"
`
	cfg, err := Load(writeTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Minio.Bucket != "pitch-decks" {
		t.Errorf("Expected default bucket pitch-decks, got %s", cfg.Minio.Bucket)
	}
	if cfg.Minio.ExpireDays != 7 {
		t.Errorf("Expected default expire_days 7, got %d", cfg.Minio.ExpireDays)
	}
	if cfg.Mineru.PollAttempts != 60 {
		t.Errorf("Expected default poll attempts 60, got %d", cfg.Mineru.PollAttempts)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Expected default store driver memory, got %s", cfg.Store.Driver)
	}
	if cfg.Session.Driver != "memory" {
		t.Errorf("Expected default session driver memory, got %s", cfg.Session.Driver)
	}
	if cfg.Pipeline.DefaultPersona != "SaaS VC" {
		t.Errorf("Expected default persona SaaS VC, got %s", cfg.Pipeline.DefaultPersona)
	}
	if cfg.Upload.MaxSizeMB != 50 {
		t.Errorf("Expected default upload size 50, got %d", cfg.Upload.MaxSizeMB)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected default log config: %+v", cfg.Log)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PITCHLENS_PORT", "7070")
	t.Setenv("PITCHLENS_AI_API_KEY", "sk-env")
	t.Setenv("PITCHLENS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeTempConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.AI.APIKey != "sk-env" {
		t.Errorf("Expected env api key, got %q", cfg.AI.APIKey)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown store", "store:\n  driver: mongo\n"},
		{"sql without dsn", "store:\n  driver: postgres\n"},
		{"unknown session", "session:\n  driver: redis\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tt.content)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTempConfig(t, "invalid: yaml: content:"))
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestFindUser(t *testing.T) {
	cfg := &Config{
		Users: []User{
			{ID: "u1", Email: "one@example.com", Password: "pass1"},
			{Email: "two@example.com", Password: "pass2"},
		},
	}

	user := cfg.FindUser("ONE@example.com")
	if user == nil {
		t.Fatal("Expected to find one@example.com")
	}
	if user.UserID() != "u1" {
		t.Errorf("Expected id u1, got %s", user.UserID())
	}

	if got := cfg.FindUser("two@example.com").UserID(); got != "two@example.com" {
		t.Errorf("Expected email fallback id, got %s", got)
	}

	if cfg.FindUser("nonexistent") != nil {
		t.Error("Expected nil for non-existent user")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash: %v", err)
	}

	hashed := &User{Email: "a@example.com", PasswordHash: string(hash)}
	if !hashed.CheckPassword("s3cret") {
		t.Error("Expected hashed password to match")
	}
	if hashed.CheckPassword("wrong") {
		t.Error("Expected wrong password to fail")
	}

	plain := &User{Email: "b@example.com", Password: "plain"}
	if !plain.CheckPassword("plain") {
		t.Error("Expected plain password to match")
	}

	empty := &User{Email: "c@example.com"}
	if empty.CheckPassword("") {
		t.Error("Expected user without password to never match")
	}
}
