package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
	AI       AIConfig       `yaml:"ai"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Seed     SeedConfig     `yaml:"seed"`
}

type ServerConfig struct {
	Port            int `yaml:"port"`
	RateLimit       int `yaml:"rate_limit"`        // requests per minute per client
	SubmitRateLimit int `yaml:"submit_rate_limit"` // maintenance submissions per minute per user
	MaxUploadMB     int `yaml:"max_upload_mb"`
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, postgres, sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	LogQueries   bool   `yaml:"log_queries"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	PublicURL string `yaml:"public_url"` // optional CDN/base URL for stored objects
}

// AIConfig points at the externally hosted inference services.
type AIConfig struct {
	AnalysisURL    string `yaml:"analysis_url"` // image + request analysis service
	ProcedureURL   string `yaml:"procedure_url"`
	TranslationURL string `yaml:"translation_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	TargetLanguage string `yaml:"target_language"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty disables redis, chat fan-out stays in-process
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// SeedConfig lists the accounts and properties created by `portal migrate --seed`.
type SeedConfig struct {
	Properties []SeedProperty `yaml:"properties"`
	Users      []SeedUser     `yaml:"users"`
}

type SeedProperty struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Landlord string `yaml:"landlord"` // email of a seeded landlord
}

type SeedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Property string `yaml:"property"` // property name, tenants only
}

// AITimeout returns the per-call timeout for outbound AI requests.
func (c AIConfig) AITimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// supportedLanguages must stay in step with the procedure templates.
var supportedLanguages = []string{"en", "es"}

func validate(cfg *Config) error {
	lang := strings.ToLower(strings.TrimSpace(cfg.AI.TargetLanguage))
	for _, code := range supportedLanguages {
		if lang == code || strings.HasPrefix(lang, code+"-") || strings.HasPrefix(lang, code+"_") {
			return nil
		}
	}
	return fmt.Errorf("unsupported ai.target_language %q (supported: %s)",
		cfg.AI.TargetLanguage, strings.Join(supportedLanguages, ", "))
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 100
	}
	if cfg.Server.SubmitRateLimit == 0 {
		cfg.Server.SubmitRateLimit = 10
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 60
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "portal.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns / 2
	}
	if cfg.Minio.Bucket == "" {
		cfg.Minio.Bucket = "maintenance"
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 30
	}
	if cfg.AI.TargetLanguage == "" {
		cfg.AI.TargetLanguage = "es"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "portal:chat"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Auth.JWTSecret, "PORTAL_JWT_SECRET")
	setString(&cfg.Database.Driver, "PORTAL_DB_DRIVER")
	setString(&cfg.Database.DSN, "PORTAL_DB_DSN")
	setString(&cfg.AI.APIToken, "HF_API_KEY")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// FindUser finds a seed user by email, ignoring case
func (c *SeedConfig) FindUser(email string) *SeedUser {
	for i := range c.Users {
		if strings.EqualFold(strings.TrimSpace(c.Users[i].Email), strings.TrimSpace(email)) {
			return &c.Users[i]
		}
	}
	return nil
}
