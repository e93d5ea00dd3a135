package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facescan/internal/constants"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Google    GoogleConfig    `yaml:"google"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Faces     FacesConfig     `yaml:"faces"`
	Scan      ScanConfig      `yaml:"scan"`
	Worker    WorkerConfig    `yaml:"worker"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Log       LogConfig       `yaml:"log"`
}

type RedisConfig struct {
	URL             string `yaml:"url"`
	QueuePrefix     string `yaml:"queue_prefix"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

type EmbeddingConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type FacesConfig struct {
	Threshold         float64 `yaml:"threshold"` // match when distance is strictly below
	Metric            string  `yaml:"metric"`    // euclidean or cosine
	MaxImageDimension int     `yaml:"max_image_dimension"`
}

type ScanConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	SoftTimeLimit   time.Duration `yaml:"soft_time_limit"`
	HardTimeLimit   time.Duration `yaml:"hard_time_limit"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// ReaperConfig controls settling of abandoned claims. A zero StaleAfter
// disables the reaper.
type ReaperConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	Schedule   string        `yaml:"schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load builds the configuration from embedded defaults, an optional YAML
// file named by CONFIG_FILE, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)
	c.Redis.QueuePrefix = envString("QUEUE_PREFIX", c.Redis.QueuePrefix)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.AllowedOrigins = envList("ALLOWED_ORIGINS", c.Web.AllowedOrigins)

	c.Google.ClientID = envString("GOOGLE_CLIENT_ID", c.Google.ClientID)
	c.Google.ClientSecret = envString("GOOGLE_CLIENT_SECRET", c.Google.ClientSecret)
	c.Google.RedirectURI = envString("GOOGLE_REDIRECT_URI", c.Google.RedirectURI)

	c.Embedding.URL = envString("EMBEDDING_URL", c.Embedding.URL)

	c.Faces.Threshold = envFloat("FACE_MATCH_THRESHOLD", c.Faces.Threshold)
	c.Faces.Metric = envString("FACE_MATCH_METRIC", c.Faces.Metric)
	c.Faces.MaxImageDimension = envInt("MAX_IMAGE_DIMENSION", c.Faces.MaxImageDimension)
	if c.Faces.MaxImageDimension == 0 {
		c.Faces.MaxImageDimension = constants.MaxImageDimension
	}

	c.Scan.TTL = envDuration("SCAN_TTL", c.Scan.TTL)
	c.Scan.MaxRetries = envInt("MAX_RETRIES", c.Scan.MaxRetries)
	c.Scan.RetryBaseDelay = envDuration("RETRY_BASE_DELAY", c.Scan.RetryBaseDelay)
	c.Scan.RetryMaxDelay = envDuration("RETRY_MAX_DELAY", c.Scan.RetryMaxDelay)

	c.Worker.Concurrency = envInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.SoftTimeLimit = envDuration("SOFT_TIME_LIMIT", c.Worker.SoftTimeLimit)
	c.Worker.HardTimeLimit = envDuration("HARD_TIME_LIMIT", c.Worker.HardTimeLimit)
	c.Worker.DownloadTimeout = envDuration("DOWNLOAD_TIMEOUT", c.Worker.DownloadTimeout)

	c.Reaper.StaleAfter = envDuration("REAPER_STALE_AFTER", c.Reaper.StaleAfter)
	c.Reaper.Schedule = envString("REAPER_SCHEDULE", c.Reaper.Schedule)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Redis.URL == "":
		return fmt.Errorf("REDIS_URL is required")
	case c.Scan.TTL <= 0:
		return fmt.Errorf("SCAN_TTL must be positive")
	case c.Scan.MaxRetries < 0:
		return fmt.Errorf("MAX_RETRIES must not be negative")
	case c.Scan.RetryBaseDelay <= 0:
		return fmt.Errorf("RETRY_BASE_DELAY must be positive")
	case c.Scan.RetryMaxDelay < 0:
		return fmt.Errorf("RETRY_MAX_DELAY must not be negative")
	case c.Worker.Concurrency < 1:
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	case c.Worker.SoftTimeLimit <= 0:
		return fmt.Errorf("SOFT_TIME_LIMIT must be positive")
	case c.Worker.HardTimeLimit < c.Worker.SoftTimeLimit:
		return fmt.Errorf("HARD_TIME_LIMIT (%s) must not be shorter than SOFT_TIME_LIMIT (%s)",
			c.Worker.HardTimeLimit, c.Worker.SoftTimeLimit)
	case c.Faces.Threshold <= 0:
		return fmt.Errorf("FACE_MATCH_THRESHOLD must be positive")
	}
	return nil
}

// Addr is the listen address of the web server.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
