package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures every tunable of the API process. Values come from the environment,
// optionally seeded from a .env file, with defaults that run locally.
type Config struct {
	Port   string
	AppURL string

	JWTSecret string
	JWTTTL    time.Duration

	Database DatabaseConfig
	RedisURL string

	KafkaBrokers []string
	KafkaTopic   string

	FirebaseServiceAccountPath string

	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
	S3Bucket     string
	UploadDir    string

	GoogleMapsAPIKey string

	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIMaxTokens  int
	ChatbotRateLimit int

	SMTP SMTPConfig

	UniversityDomains []string
	PricePerKm        float64
	AdminEmail        string

	SweepInterval  time.Duration
	SweepGrace     time.Duration
	SweepRetention time.Duration
	SweepTick      time.Duration
	Location       *time.Location

	MaxLoginAttempts int
	LoginLockout     time.Duration

	CORSOrigins   []string
	LogLevel      string
	LogFormat     string
	NotifyWorkers int
	NotifyQueue   int
}

type DatabaseConfig struct {
	URL             string
	Host            string
	User            string
	Password        string
	Name            string
	Port            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns DATABASE_URL if set, otherwise a key/value DSN built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type SMTPConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Enabled reports whether enough SMTP settings exist to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.Port != "" && s.Username != "" && s.Password != ""
}

func defaultConfig() Config {
	return Config{
		Port:   "8080",
		AppURL: "http://localhost:8080",
		JWTTTL: 7 * 24 * time.Hour,
		Database: DatabaseConfig{
			Host:            "localhost",
			User:            "postgres",
			Name:            "campusride",
			Port:            "5432",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		KafkaTopic:       "campusride-events",
		UploadDir:        "./uploads",
		OpenAIModel:      "gpt-3.5-turbo",
		OpenAIMaxTokens:  500,
		ChatbotRateLimit: 10,
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     "587",
			FromName: "Campus Ride-Share",
		},
		PricePerKm:       5.0,
		SweepInterval:    time.Hour,
		SweepGrace:       30 * time.Minute,
		SweepRetention:   24 * time.Hour,
		SweepTick:        time.Minute,
		Location:         time.Local,
		MaxLoginAttempts: 5,
		LoginLockout:     15 * time.Minute,
		CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
		LogLevel:         "info",
		LogFormat:        "json",
		NotifyWorkers:    4,
		NotifyQueue:      256,
	}
}

// Load reads a .env file if one exists and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.Port, "PORT")
	setStringFromEnv(&cfg.AppURL, "APP_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)

	setStringFromEnv(&cfg.Database.URL, "DATABASE_URL")
	setStringFromEnv(&cfg.Database.Host, "DB_HOST")
	setStringFromEnv(&cfg.Database.User, "DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	setStringFromEnv(&cfg.Database.Name, "DB_NAME")
	setStringFromEnv(&cfg.Database.Port, "DB_PORT")
	setStringFromEnv(&cfg.Database.SSLMode, "DB_SSLMODE")
	setIntFromEnv(&cfg.Database.MaxIdleConns, "DB_MAX_IDLE", &errs)
	setIntFromEnv(&cfg.Database.MaxOpenConns, "DB_MAX_OPEN", &errs)
	setDurationFromEnv(&cfg.Database.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME", &errs)

	setStringFromEnv(&cfg.RedisURL, "REDIS_URL")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.FirebaseServiceAccountPath, "FIREBASE_SERVICE_ACCOUNT_PATH")

	setStringFromEnv(&cfg.AWSRegion, "AWS_REGION")
	setStringFromEnv(&cfg.AWSAccessKey, "AWS_ACCESS_KEY_ID")
	setStringFromEnv(&cfg.AWSSecretKey, "AWS_SECRET_ACCESS_KEY")
	setStringFromEnv(&cfg.S3Bucket, "AWS_S3_BUCKET")
	setStringFromEnv(&cfg.UploadDir, "UPLOAD_DIR")

	setStringFromEnv(&cfg.GoogleMapsAPIKey, "GOOGLE_MAPS_API_KEY")

	setStringFromEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setStringFromEnv(&cfg.OpenAIModel, "OPENAI_MODEL")
	setIntFromEnv(&cfg.OpenAIMaxTokens, "OPENAI_MAX_TOKENS", &errs)
	setIntFromEnv(&cfg.ChatbotRateLimit, "CHATBOT_RATE_LIMIT", &errs)

	setStringFromEnv(&cfg.SMTP.Host, "SMTP_HOST")
	setStringFromEnv(&cfg.SMTP.Port, "SMTP_PORT")
	setStringFromEnv(&cfg.SMTP.Username, "SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	setStringFromEnv(&cfg.SMTP.FromEmail, "SMTP_FROM_EMAIL")
	setStringFromEnv(&cfg.SMTP.FromName, "SMTP_FROM_NAME")
	if cfg.SMTP.FromEmail == "" {
		cfg.SMTP.FromEmail = cfg.SMTP.Username
	}

	if v := os.Getenv("UNIVERSITY_DOMAIN"); v != "" {
		cfg.UniversityDomains = parseDomains(v)
	}
	setFloatFromEnv(&cfg.PricePerKm, "PRICE_PER_KM", &errs)
	setStringFromEnv(&cfg.AdminEmail, "ADMIN_EMAIL")

	setDurationFromEnv(&cfg.SweepInterval, "SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SweepGrace, "SWEEP_GRACE", &errs)
	setDurationFromEnv(&cfg.SweepRetention, "SWEEP_RETENTION", &errs)
	setDurationFromEnv(&cfg.SweepTick, "SWEEP_TICK", &errs)
	if tz := strings.TrimSpace(os.Getenv("TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
		} else {
			cfg.Location = loc
		}
	}

	setIntFromEnv(&cfg.MaxLoginAttempts, "MAX_LOGIN_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.LoginLockout, "LOGIN_LOCKOUT", &errs)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	setIntFromEnv(&cfg.NotifyWorkers, "NOTIFY_WORKERS", &errs)
	setIntFromEnv(&cfg.NotifyQueue, "NOTIFY_QUEUE", &errs)

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.PricePerKm <= 0 {
		errs = append(errs, errors.New("PRICE_PER_KM must be > 0"))
	}
	for name, d := range map[string]time.Duration{
		"JWT_TTL":         c.JWTTTL,
		"SWEEP_INTERVAL":  c.SweepInterval,
		"SWEEP_GRACE":     c.SweepGrace,
		"SWEEP_RETENTION": c.SweepRetention,
		"SWEEP_TICK":      c.SweepTick,
		"LOGIN_LOCKOUT":   c.LoginLockout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.NotifyWorkers <= 0 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be > 0"))
	}
	if c.ChatbotRateLimit <= 0 {
		errs = append(errs, errors.New("CHATBOT_RATE_LIMIT must be > 0"))
	}
	return errs
}

// EmailAllowed reports whether email belongs to one of the configured university
// domains. With no domains configured every address is allowed.
func (c Config) EmailAllowed(email string) bool {
	if len(c.UniversityDomains) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	for _, d := range c.UniversityDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func parseDomains(v string) []string {
	v = strings.NewReplacer(";", ",", " ", ",").Replace(v)
	var out []string
	for _, d := range splitAndTrim(v) {
		out = append(out, strings.ToLower(strings.TrimPrefix(d, "@")))
	}
	return out
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
