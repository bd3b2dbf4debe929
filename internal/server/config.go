package server

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	S3       S3Config
	Cleanup  CleanupConfig
}

type ServerConfig struct {
	Port           string
	BaseURL        string
	MaxUploadBytes int64
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type CleanupConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

// NewConfig loads configuration from an optional file, with environment
// variables taking precedence. Env-only deployments are supported; the file
// may be absent.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.BindEnv("Server.Port", "APPDROP_HTTP_PORT")
	v.BindEnv("Server.BaseURL", "APPDROP_BASE_URL")
	v.BindEnv("Server.MaxUploadBytes", "APPDROP_MAX_UPLOAD_BYTES")
	v.BindEnv("Server.AllowedOrigins", "APPDROP_ALLOWED_ORIGINS")
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("S3.Endpoint", "APPDROP_S3_ENDPOINT")
	v.BindEnv("S3.AccessKey", "APPDROP_S3_ACCESS_KEY")
	v.BindEnv("S3.SecretKey", "APPDROP_S3_SECRET_KEY")
	v.BindEnv("S3.Bucket", "APPDROP_S3_BUCKET")
	v.BindEnv("Cleanup.Enabled", "APPDROP_CLEANUP_ENABLED")
	v.BindEnv("Cleanup.Interval", "APPDROP_CLEANUP_INTERVAL")
	v.BindEnv("Cleanup.Retention", "APPDROP_RETENTION")

	v.SetDefault("Server.Port", "5000")
	v.SetDefault("Server.BaseURL", "http://localhost:5000")
	v.SetDefault("Server.MaxUploadBytes", int64(500*1024*1024))
	v.SetDefault("Server.AllowedOrigins", "*")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Cleanup.Enabled", false)
	v.SetDefault("Cleanup.Interval", time.Hour)
	v.SetDefault("Cleanup.Retention", 30*24*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults carry the rest.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	}

	// Environment variables arrive as strings, so every typed field goes
	// through viper's casting layer rather than struct unmarshalling.
	cfg := Config{
		Server: ServerConfig{
			Port:           v.GetString("Server.Port"),
			BaseURL:        v.GetString("Server.BaseURL"),
			MaxUploadBytes: v.GetInt64("Server.MaxUploadBytes"),
			AllowedOrigins: splitOrigins(v.GetString("Server.AllowedOrigins")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("Database.Host"),
			Port:     v.GetString("Database.Port"),
			User:     v.GetString("Database.User"),
			Password: v.GetString("Database.Password"),
			Name:     v.GetString("Database.Name"),
			SSLMode:  v.GetString("Database.SSLMode"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("S3.Endpoint"),
			AccessKey: v.GetString("S3.AccessKey"),
			SecretKey: v.GetString("S3.SecretKey"),
			Bucket:    v.GetString("S3.Bucket"),
		},
		Cleanup: CleanupConfig{
			Enabled:   v.GetBool("Cleanup.Enabled"),
			Interval:  v.GetDuration("Cleanup.Interval"),
			Retention: v.GetDuration("Cleanup.Retention"),
		},
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}
	if cfg.S3.Endpoint == "" || cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" || cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 configuration is incomplete")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be positive, got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Cleanup.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %v", cfg.Cleanup.Retention)
	}

	return &cfg, nil
}

// splitOrigins parses the comma-separated CORS origin list.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// URL returns the database connection string in URL form, usable by both
// the pgx driver and golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
