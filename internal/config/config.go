package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration. Values come from an optional YAML
// file named by CONFIG_FILE, then environment variables, then defaults.
type App struct {
	Env      string `yaml:"env"`
	HTTPPort string `yaml:"http_port"`

	StoreBackend string `yaml:"store_backend"`
	SQLitePath   string `yaml:"sqlite_path"`
	DatabaseURL  string `yaml:"database_url"`
	RedisAddr    string `yaml:"redis_addr"`

	QueueBackend string `yaml:"queue_backend"`
	QueueKey     string `yaml:"queue_key"`
	NATSURL      string `yaml:"nats_url"`
	FeedSize     int    `yaml:"feed_size"`

	JWTIssuer        string        `yaml:"jwt_issuer"`
	JWTSigningKey    string        `yaml:"jwt_signing_key"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	OperatorPasscode string        `yaml:"operator_passcode"`

	FaceServiceURL string  `yaml:"face_service_url"`
	FaceSkip       bool    `yaml:"face_skip"`
	FaceDim        int     `yaml:"face_dim"`
	MatchThreshold float64 `yaml:"match_threshold"`
	Timezone       string  `yaml:"timezone"`

	PhotoBackend string           `yaml:"photo_backend"`
	Cloudinary   CloudinaryConfig `yaml:"cloudinary"`
	MinIO        MinIOConfig      `yaml:"minio"`

	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

// AuthEnabled reports whether the API requires operator tokens.
func (a App) AuthEnabled() bool { return a.OperatorPasscode != "" }

// Defaults returns the built-in configuration.
func Defaults() App {
	return App{
		Env:             "dev",
		HTTPPort:        "8081",
		StoreBackend:    "sqlite",
		SQLitePath:      "data/attendance.db",
		RedisAddr:       "localhost:6379",
		QueueBackend:    "memory",
		QueueKey:        "faceattend:events",
		NATSURL:         "nats://localhost:4222",
		FeedSize:        50,
		JWTIssuer:       "faceattend",
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		FaceServiceURL:  "http://localhost:8000",
		FaceSkip:        true,
		FaceDim:         128,
		MatchThreshold:  0.5,
		PhotoBackend:    "inline",
		Cloudinary:      CloudinaryConfig{Folder: "faceattend"},
		MinIO:           MinIOConfig{Bucket: "faceattend"},
		RateLimitPerMin: 120,
		MaxUploadBytes:  8 << 20,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load builds the configuration and validates it.
func Load() (App, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return App{}, fmt.Errorf("parse config: %w", err)
		}
	}

	e := &envReader{}
	cfg.Env = e.str("APP_ENV", cfg.Env)
	cfg.HTTPPort = e.str("HTTP_PORT", cfg.HTTPPort)
	cfg.StoreBackend = e.str("STORE_BACKEND", cfg.StoreBackend)
	cfg.SQLitePath = e.str("SQLITE_PATH", cfg.SQLitePath)
	cfg.DatabaseURL = e.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = e.str("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = e.str("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueKey = e.str("QUEUE_KEY", cfg.QueueKey)
	cfg.NATSURL = e.str("NATS_URL", cfg.NATSURL)
	cfg.FeedSize = e.integer("FEED_SIZE", cfg.FeedSize)
	cfg.JWTIssuer = e.str("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = e.str("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = e.duration("ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = e.duration("REFRESH_TTL", cfg.RefreshTTL)
	cfg.OperatorPasscode = e.str("OPERATOR_PASSCODE", cfg.OperatorPasscode)
	cfg.FaceServiceURL = e.str("FACE_SERVICE_URL", cfg.FaceServiceURL)
	cfg.FaceSkip = e.boolean("FACE_SKIP", cfg.FaceSkip)
	cfg.FaceDim = e.integer("FACE_DIM", cfg.FaceDim)
	cfg.MatchThreshold = e.float("MATCH_THRESHOLD", cfg.MatchThreshold)
	cfg.Timezone = e.str("TIMEZONE", cfg.Timezone)
	cfg.PhotoBackend = e.str("PHOTO_BACKEND", cfg.PhotoBackend)
	cfg.Cloudinary.CloudName = e.str("CLOUDINARY_CLOUD_NAME", cfg.Cloudinary.CloudName)
	cfg.Cloudinary.APIKey = e.str("CLOUDINARY_API_KEY", cfg.Cloudinary.APIKey)
	cfg.Cloudinary.APISecret = e.str("CLOUDINARY_API_SECRET", cfg.Cloudinary.APISecret)
	cfg.Cloudinary.Folder = e.str("CLOUDINARY_FOLDER", cfg.Cloudinary.Folder)
	cfg.MinIO.Endpoint = e.str("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = e.str("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = e.str("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = e.str("MINIO_BUCKET", cfg.MinIO.Bucket)
	cfg.MinIO.UseSSL = e.boolean("MINIO_USE_SSL", cfg.MinIO.UseSSL)
	cfg.MinIO.PublicURL = e.str("MINIO_PUBLIC_URL", cfg.MinIO.PublicURL)
	cfg.RateLimitPerMin = e.integer("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	cfg.MaxUploadBytes = int64(e.integer("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.LogLevel = e.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = e.str("LOG_FORMAT", cfg.LogFormat)

	if err := errors.Join(e.errs...); err != nil {
		return App{}, err
	}
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Location returns the time zone calendar days are computed in. An empty
// Timezone means the process local zone.
func (a App) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

// Validate rejects settings the binaries cannot start with.
func (a App) Validate() error {
	var errs []error
	switch a.StoreBackend {
	case "sqlite":
		if a.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case "postgres":
		if a.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", a.StoreBackend))
	}
	switch a.QueueBackend {
	case "memory":
	case "redis":
		if a.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis queue"))
		}
	case "nats":
		if a.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats queue"))
		}
		if a.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the shared event feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", a.QueueBackend))
	}
	switch a.PhotoBackend {
	case "inline":
	case "cloudinary":
		if a.Cloudinary.CloudName == "" || a.Cloudinary.APIKey == "" || a.Cloudinary.APISecret == "" {
			errs = append(errs, errors.New("cloudinary photo store needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET"))
		}
	case "minio":
		if a.MinIO.Endpoint == "" || a.MinIO.Bucket == "" {
			errs = append(errs, errors.New("minio photo store needs MINIO_ENDPOINT and MINIO_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PHOTO_BACKEND %q", a.PhotoBackend))
	}
	if a.MatchThreshold < 0 || a.MatchThreshold >= 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD %v must be in [0, 1)", a.MatchThreshold))
	}
	if a.FaceDim <= 0 {
		errs = append(errs, fmt.Errorf("FACE_DIM %d must be positive", a.FaceDim))
	}
	if _, err := a.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if a.AuthEnabled() && a.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required when OPERATOR_PASSCODE is set"))
	}
	if a.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// envReader applies environment overrides and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid duration for %s: %w", key, err))
			return fallback
		}
		return d
	}
	return fallback
}

func (e *envReader) boolean(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid bool for %s: %q", key, val))
			return fallback
		}
		return b
	}
	return fallback
}

func (e *envReader) integer(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid int for %s: %q", key, val))
			return fallback
		}
		return n
	}
	return fallback
}

func (e *envReader) float(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid float for %s: %q", key, val))
			return fallback
		}
		return f
	}
	return fallback
}
