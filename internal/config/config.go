package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName    string
	APIBaseURL     string
	APIPort        string
	ChannelBaseURL string
	ChannelPort    string
	ChannelPath    string
	ChannelPoll    string
	HTTPListenAddr string
	LogLevel       string
	SessionFile    string
	DatabaseURL    string
	CORSOrigins    []string

	// Resilient request client.
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Job status channel.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// ListPollInterval is how often the maintenance list re-syncs with the
	// backend while the channel is down.
	ListPollInterval time.Duration

	// Backend TLS. All empty means the system roots and no client cert.
	BackendTLSCACert     string
	BackendTLSCert       string
	BackendTLSKey        string
	BackendTLSServerName string
}

func Load() (*Config, error) {
	origins := getEnv("CORS_ORIGINS", "http://localhost:5173")
	var corsList []string
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			corsList = append(corsList, trimmed)
		}
	}

	sessionFile := getEnv("SESSION_FILE", "")
	if sessionFile == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		sessionFile = filepath.Join(dir, "session.json")
	}

	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "maintconsole"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost"),
		APIPort:        getEnv("API_PORT", "8000"),
		ChannelBaseURL: getEnv("CHANNEL_BASE_URL", "http://localhost"),
		ChannelPort:    getEnv("CHANNEL_PORT", "8001"),
		ChannelPath:    getEnv("CHANNEL_PATH", "/ws/jobs"),
		ChannelPoll:    getEnv("CHANNEL_POLL_PATH", "/events/poll"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SessionFile:    sessionFile,
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		CORSOrigins:    corsList,

		BackendTLSCACert:     getEnv("BACKEND_TLS_CA_CERT", ""),
		BackendTLSCert:       getEnv("BACKEND_TLS_CERT", ""),
		BackendTLSKey:        getEnv("BACKEND_TLS_KEY", ""),
		BackendTLSServerName: getEnv("BACKEND_TLS_SERVER_NAME", ""),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getInt("REQUEST_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getDuration("RETRY_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = getDuration("RETRY_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts, err = getInt("CHANNEL_RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = getDuration("CHANNEL_RECONNECT_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.ListPollInterval, err = getDuration("LIST_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}
	if c.ChannelBaseURL == "" {
		missing = append(missing, "CHANNEL_BASE_URL")
	}
	if c.SessionFile == "" {
		missing = append(missing, "SESSION_FILE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if _, err := url.Parse(c.APIURL()); err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("REQUEST_MAX_RETRIES must not be negative")
	}
	if c.RetryBaseDelay > c.RetryMaxDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must not exceed RETRY_MAX_DELAY")
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("CHANNEL_RECONNECT_ATTEMPTS must be at least 1")
	}
	if (c.BackendTLSCert == "") != (c.BackendTLSKey == "") {
		return fmt.Errorf("BACKEND_TLS_CERT and BACKEND_TLS_KEY must be set together")
	}
	return nil
}

// APIURL returns the REST API base URL including the port.
func (c *Config) APIURL() string {
	return joinHostPort(c.APIBaseURL, c.APIPort)
}

// ChannelWSURL returns the channel endpoint with the scheme changed to ws(s).
func (c *Config) ChannelWSURL() string {
	u := joinHostPort(c.ChannelBaseURL, c.ChannelPort) + c.ChannelPath
	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}
	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}
	return u
}

// ChannelPollURL returns the long-poll fallback endpoint of the channel.
func (c *Config) ChannelPollURL() string {
	return joinHostPort(c.ChannelBaseURL, c.ChannelPort) + c.ChannelPoll
}

// DefaultConfigDir returns ~/.config/maintconsole (honoring XDG_CONFIG_HOME).
func DefaultConfigDir() (string, error) {
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "maintconsole"), nil
}

// joinHostPort appends the port unless it is empty or the base URL already
// names one.
func joinHostPort(base, port string) string {
	base = strings.TrimRight(base, "/")
	if port == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil || u.Port() != "" {
		return base
	}
	u.Host = u.Host + ":" + port
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
