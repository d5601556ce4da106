package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Minio    MinioConfig    `yaml:"minio"`
	Mineru   MineruConfig   `yaml:"mineru"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Session  SessionConfig  `yaml:"session"`
	Auth     AuthConfig     `yaml:"auth"`
	Upload   UploadConfig   `yaml:"upload"`
	Log      LogConfig      `yaml:"log"`
	Users    []User         `yaml:"users"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type MineruConfig struct {
	APIURL       string `yaml:"api_url"`
	APIToken     string `yaml:"api_token"`
	ModelVersion string `yaml:"model_version"`
	CallbackURL  string `yaml:"callback_url"`
	Seed         string `yaml:"seed"`
	UID          string `yaml:"uid"`
	// PollInterval and PollAttempts bound how long a task is polled when no callback arrives.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
}

type AIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ChatModel   string        `yaml:"chat_model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	// TriggerURL receives POST {"dealId": ...} after a deal record is created.
	// Empty disables the notification.
	TriggerURL     string `yaml:"trigger_url"`
	TriggerToken   string `yaml:"trigger_token"`
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
	DefaultPersona string `yaml:"default_persona"`
	// SkipRecovery leaves queued and in-flight deals from a previous run alone
	// at startup. Set it on every instance but one when several share a database.
	SkipRecovery bool `yaml:"skip_recovery"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory, postgres, sqlite3
	DSN      string `yaml:"dsn"`
	MaxDeals int    `yaml:"max_deals"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SessionConfig struct {
	Driver string `yaml:"driver"` // memory, badger
	Dir    string `yaml:"dir"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type UploadConfig struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type User struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

var GlobalConfig *Config

// Load reads the YAML file, applies .env and PITCHLENS_* environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PITCHLENS_PORT", c.Server.Port)
	c.Minio.Endpoint = getEnv("PITCHLENS_MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = getEnv("PITCHLENS_MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = getEnv("PITCHLENS_MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.UseSSL = getEnvBool("PITCHLENS_MINIO_USE_SSL", c.Minio.UseSSL)
	c.Mineru.APIToken = getEnv("PITCHLENS_MINERU_TOKEN", c.Mineru.APIToken)
	c.AI.APIKey = getEnv("PITCHLENS_AI_API_KEY", c.AI.APIKey)
	c.AI.Model = getEnv("PITCHLENS_AI_MODEL", c.AI.Model)
	c.Pipeline.TriggerURL = getEnv("PITCHLENS_TRIGGER_URL", c.Pipeline.TriggerURL)
	c.Pipeline.TriggerToken = getEnv("PITCHLENS_TRIGGER_TOKEN", c.Pipeline.TriggerToken)
	c.Store.Driver = getEnv("PITCHLENS_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("PITCHLENS_STORE_DSN", c.Store.DSN)
	c.Redis.Addr = getEnv("PITCHLENS_REDIS_ADDR", c.Redis.Addr)
	if brokers := os.Getenv("PITCHLENS_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Auth.JWTSecret = getEnv("PITCHLENS_JWT_SECRET", c.Auth.JWTSecret)
	c.Log.Level = getEnv("PITCHLENS_LOG_LEVEL", c.Log.Level)
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "pitch-decks"
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Mineru.ModelVersion == "" {
		c.Mineru.ModelVersion = "vlm"
	}
	if c.Mineru.PollInterval == 0 {
		c.Mineru.PollInterval = 5 * time.Second
	}
	if c.Mineru.PollAttempts == 0 {
		c.Mineru.PollAttempts = 60
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o"
	}
	if c.AI.ChatModel == "" {
		c.AI.ChatModel = c.AI.Model
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 4096
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 180 * time.Second
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 2
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 64
	}
	if c.Pipeline.DefaultPersona == "" {
		c.Pipeline.DefaultPersona = "SaaS VC"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.MaxDeals == 0 {
		c.Store.MaxDeals = 1000
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "deal.events"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.Dir == "" {
		c.Session.Dir = "./data/sessions"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 50
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite3":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Session.Driver {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown session driver %q", c.Session.Driver)
	}
	return nil
}

// FindUser finds a user by email
func (c *Config) FindUser(email string) *User {
	for i := range c.Users {
		if strings.EqualFold(c.Users[i].Email, email) {
			return &c.Users[i]
		}
	}
	return nil
}

// CheckPassword compares against the bcrypt hash when one is configured,
// falling back to the plain development password.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	return u.Password != "" && u.Password == password
}

// UserID returns the configured id, or the email when none is set.
func (u *User) UserID() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Email
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
