package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config enumerates every recognized option for the hosting server. Unknown
// behavior is never driven by loosely-typed maps; each field below has
// exactly one effect, validated at construction.
type Config struct {
	Port string
	Env  string

	// Agent identity
	Name      string // registered agent name
	Seed      string // deterministic key derivation; empty generates a fresh key
	SeedIndex uint64

	// Endpoint advertisement. Endpoint is the public submit URL; when it is
	// empty MailboxURL, if set, is advertised instead and treated as an
	// ordinary endpoint by peers.
	Endpoint   string
	MailboxURL string

	// Registry
	AlmanacURL           string
	MaxEndpoints         int
	RegistrationInterval time.Duration

	// Optional stores
	RedisURL     string // mirrors envelope history with a 24h TTL
	DatabasePath string // SQLite agent state; empty keeps state in memory
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8000"),
		Env:          getEnv("ENV", "development"),
		Name:         getEnv("AGENT_NAME", "agent"),
		Seed:         os.Getenv("AGENT_SEED"),
		Endpoint:     os.Getenv("AGENT_ENDPOINT"),
		MailboxURL:   os.Getenv("MAILBOX_URL"),
		AlmanacURL:   os.Getenv("ALMANAC_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		DatabasePath: os.Getenv("DATABASE_PATH"),
	}

	var err error
	if cfg.SeedIndex, err = getUint("AGENT_SEED_INDEX", 0); err != nil {
		return nil, err
	}
	maxEndpoints, err := getUint("MAX_ENDPOINTS", 10)
	if err != nil {
		return nil, err
	}
	cfg.MaxEndpoints = int(maxEndpoints)

	interval := getEnv("REGISTRATION_INTERVAL", "5m")
	if cfg.RegistrationInterval, err = time.ParseDuration(interval); err != nil {
		return nil, fmt.Errorf("invalid REGISTRATION_INTERVAL %q: %w", interval, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	for name, value := range map[string]string{
		"AGENT_ENDPOINT": c.Endpoint,
		"MAILBOX_URL":    c.MailboxURL,
		"ALMANAC_URL":    c.AlmanacURL,
	} {
		if value == "" {
			continue
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid %s %q: must be an http(s) URL", name, value)
		}
	}
	if c.RegistrationInterval < time.Second {
		return fmt.Errorf("REGISTRATION_INTERVAL %s too short", c.RegistrationInterval)
	}
	return nil
}

// AdvertisedEndpoint returns the URL peers should deliver to: the public
// endpoint when one is configured, otherwise the mailbox relay.
func (c *Config) AdvertisedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return c.MailboxURL
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
