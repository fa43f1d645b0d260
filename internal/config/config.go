package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig
	Auth        AuthConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Transcribe  TranscribeConfig
	Translate   TranslateConfig
	Media       MediaConfig
	Worker      WorkerConfig
	Log         LogConfig
}

type BasicConfig struct {
	Port              int
	UploadsDir        string
	TempDir           string
	MaxUploadBytes    int64
	TempFileTTL       time.Duration
	TempCleanInterval time.Duration
	CORSOrigins       []string
}

type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	IdentityCacheTTL time.Duration
}

type DatabaseConfig struct {
	Driver   string
	DSN      string
	MongoURI string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TranscribeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ProviderConfig holds credentials for one generative provider.
type ProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type TranslateConfig struct {
	Provider  string
	Model     string
	Providers map[string]ProviderConfig
}

type MediaConfig struct {
	FFmpegPath string
	SampleRate int
}

type WorkerConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Addr returns the listen address derived from the port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.BasicConfig.Port)
}

var defaults = map[string]any{
	"port":                4000,
	"uploads_dir":         "uploads",
	"temp_dir":            "",
	"max_upload_mb":       100,
	"temp_file_ttl":       time.Hour,
	"temp_clean_interval": 10 * time.Minute,
	"cors_origins":        "*",
	"jwt_secret":          "",
	"token_ttl":           24 * time.Hour,
	"identity_cache_ttl":  5 * time.Minute,
	"mongo_uri":           "",
	"db_driver":           "",
	"database_dsn":        "scribe.db",
	"redis_addr":          "",
	"redis_password":      "",
	"redis_db":            0,
	"flask_server_url":    "",
	"transcribe_timeout":  time.Duration(0),
	"translate_provider":  "gemini",
	"translate_model":     "",
	"gemini_api_key":      "",
	"openai_api_key":      "",
	"openai_base_url":     "",
	"anthropic_api_key":   "",
	"ffmpeg_path":         "ffmpeg",
	"sample_rate":         16000,
	"worker_min":          1,
	"worker_max":          4,
	"queue_size":          32,
	"worker_idle_timeout": time.Minute,
	"log_level":           "info",
	"log_format":          "json",
}

var defaultModels = map[string]string{
	"gemini": "gemini-2.0-flash",
	"openai": "gpt-4o-mini",
	"claude": "claude-3-5-haiku-latest",
}

// Load reads configuration from .env, the optional file at path, and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		BasicConfig: BasicConfig{
			Port:              v.GetInt("port"),
			UploadsDir:        v.GetString("uploads_dir"),
			TempDir:           v.GetString("temp_dir"),
			MaxUploadBytes:    v.GetInt64("max_upload_mb") << 20,
			TempFileTTL:       v.GetDuration("temp_file_ttl"),
			TempCleanInterval: v.GetDuration("temp_clean_interval"),
			CORSOrigins:       splitList(v.GetString("cors_origins")),
		},
		Auth: AuthConfig{
			JWTSecret:        v.GetString("jwt_secret"),
			TokenTTL:         v.GetDuration("token_ttl"),
			IdentityCacheTTL: v.GetDuration("identity_cache_ttl"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
			DSN:      v.GetString("database_dsn"),
			MongoURI: v.GetString("mongo_uri"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Transcribe: TranscribeConfig{
			BaseURL: strings.TrimRight(v.GetString("flask_server_url"), "/"),
			Timeout: v.GetDuration("transcribe_timeout"),
		},
		Translate: TranslateConfig{
			Provider: strings.ToLower(strings.TrimSpace(v.GetString("translate_provider"))),
			Model:    v.GetString("translate_model"),
			Providers: map[string]ProviderConfig{
				"gemini": {APIKey: v.GetString("gemini_api_key")},
				"openai": {APIKey: v.GetString("openai_api_key"), BaseURL: v.GetString("openai_base_url")},
				"claude": {APIKey: v.GetString("anthropic_api_key")},
			},
		},
		Media: MediaConfig{
			FFmpegPath: v.GetString("ffmpeg_path"),
			SampleRate: v.GetInt("sample_rate"),
		},
		Worker: WorkerConfig{
			MinWorkers:  v.GetInt("worker_min"),
			MaxWorkers:  v.GetInt("worker_max"),
			QueueSize:   v.GetInt("queue_size"),
			IdleTimeout: v.GetDuration("worker_idle_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if cfg.Database.Driver == "" {
		if cfg.Database.MongoURI != "" {
			cfg.Database.Driver = "mongo"
		} else {
			cfg.Database.Driver = "sqlite3"
		}
	}
	if cfg.BasicConfig.TempDir == "" {
		cfg.BasicConfig.TempDir = os.TempDir()
	}
	if cfg.Translate.Model == "" {
		cfg.Translate.Model = defaultModels[cfg.Translate.Provider]
	}
	return cfg
}

// Validate reports every missing or inconsistent required setting.
func (c *Config) Validate() error {
	var problems []string
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.Transcribe.BaseURL == "" {
		problems = append(problems, "FLASK_SERVER_URL is required")
	}
	switch c.Database.Driver {
	case "mongo":
		if c.Database.MongoURI == "" {
			problems = append(problems, "MONGO_URI is required for the mongo driver")
		}
	case "sqlite", "sqlite3", "mysql":
		if c.Database.DSN == "" {
			problems = append(problems, "DATABASE_DSN is required for the sql drivers")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	prov, ok := c.Translate.Providers[c.Translate.Provider]
	if !ok {
		problems = append(problems, fmt.Sprintf("unsupported TRANSLATE_PROVIDER %q", c.Translate.Provider))
	} else if prov.APIKey == "" {
		problems = append(problems, fmt.Sprintf("api key for translate provider %s is required", c.Translate.Provider))
	}
	if c.BasicConfig.Port <= 0 {
		problems = append(problems, "PORT must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
