package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
	HTTP      HTTPConfig
	Poll      PollConfig
	SMTP      SMTPConfig
	AMQP      AMQPConfig
	S3        S3Config
	City      string
	LogPath   string
	LogLevel  string

	// Providers holds the registry entries keyed by id; ProviderOrder is their stable order.
	Providers     map[string]*ProviderConfig
	ProviderOrder []string
	ProvidersDir  string
}

type ServerConfig struct {
	Port      int
	BaseURL   string
	StaticDir string
}

type StoreConfig struct {
	Backend     string // sqlite, json, postgres
	DBPath      string
	DataFile    string
	DatabaseURL string
}

type SchedulerConfig struct {
	Interval      time.Duration
	Cron          string
	ProbeInterval time.Duration // 0 probes providers only on command
}

type HTTPConfig struct {
	Timeout           time.Duration
	ProxyURL          string
	RequestsPerSecond float64
	MaxBodyBytes      int64
}

type PollConfig struct {
	Workers         int
	ProviderTimeout time.Duration
	SeenRetention   time.Duration // 0 keeps seen listings forever
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether email delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getEnvInt("PORT", 3000)
	cfg := &Config{
		Server: ServerConfig{
			Port:      port,
			BaseURL:   getEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
			StaticDir: getEnv("STATIC_DIR", "public"),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", "sqlite"),
			DBPath:      getEnv("DB_PATH", "wohnwatch.db"),
			DataFile:    getEnv("DATA_FILE", "data.json"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Interval:      getEnvDuration("POLL_INTERVAL", 30*time.Second),
			Cron:          os.Getenv("POLL_CRON"),
			ProbeInterval: getEnvDuration("PROBE_INTERVAL", 6*time.Hour),
		},
		HTTP: HTTPConfig{
			Timeout:           getEnvDuration("HTTP_TIMEOUT", 20*time.Second),
			ProxyURL:          os.Getenv("HTTP_PROXY_URL"),
			RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 1),
			MaxBodyBytes:      int64(getEnvInt("MAX_BODY_BYTES", 5*1024*1024)),
		},
		Poll: PollConfig{
			Workers:         getEnvInt("PROVIDER_WORKERS", 4),
			ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 90*time.Second),
			SeenRetention:   getEnvDuration("SEEN_RETENTION", 0),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     getEnv("FROM_EMAIL", "wohnung-bot@example.com"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "wohnwatch"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "eu-central-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		City:         getEnv("CITY", "Berlin"),
		LogPath:      getEnv("LOG_PATH", "wohnwatch.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		ProvidersDir: getEnv("PROVIDERS_DIR", filepath.Join("config", "providers")),
	}

	cfg.Providers, cfg.ProviderOrder = DefaultProviders()
	if err := cfg.loadProviderConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadProviderConfigs merges every *.yaml file in ProvidersDir over the built-in providers.
// A file whose id matches a built-in replaces it; new ids are appended in file name order.
func (c *Config) loadProviderConfigs() error {
	entries, err := os.ReadDir(c.ProvidersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.ProvidersDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var p ProviderConfig
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if _, exists := c.Providers[p.ID]; !exists {
			c.ProviderOrder = append(c.ProviderOrder, p.ID)
		}
		c.Providers[p.ID] = &p
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
