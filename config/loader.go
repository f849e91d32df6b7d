package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Provider    string        `yaml:"provider"`
	Groq        BackendConfig `yaml:"groq"`
	HuggingFace BackendConfig `yaml:"huggingface"`
	// Timeout bounds a single provider call; zero means no limit
	Timeout     Duration          `yaml:"timeout"`
	Personality PersonalityConfig `yaml:"personality"`
	Server      ServerConfig      `yaml:"server"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	SessionTTL  Duration          `yaml:"session_ttl"`
	Audit       AuditConfig       `yaml:"audit"`
	Debug       bool              `yaml:"debug"`
}

// BackendConfig from YAML. Empty fields take the backend's defaults.
type BackendConfig struct {
	URL    string `yaml:"url"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// PersonalityConfig from YAML. An empty Default defers to the
// personalities file, then to the built-in default.
type PersonalityConfig struct {
	Default string `yaml:"default"`
	File    string `yaml:"file"`
}

// ServerConfig from YAML. Zero ports take the HighPortMode defaults; a
// negative port disables that server.
type ServerConfig struct {
	HighPortMode bool   `yaml:"high_port_mode"`
	HTTPPort     int    `yaml:"http_port"`
	HTTPSPort    int    `yaml:"https_port"`
	SSHPort      int    `yaml:"ssh_port"`
	DNSPort      int    `yaml:"dns_port"`
	SSHHostKey   string `yaml:"ssh_host_key"`
}

// RateLimitConfig from YAML
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuditConfig from YAML
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DB      string `yaml:"db"`
}

// Duration accepts Go duration strings ("30s", "4h") in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Provider:   "groq",
		Timeout:    Duration(60 * time.Second),
		RateLimit:  RateLimitConfig{RPS: 1, Burst: 5},
		SessionTTL: Duration(4 * time.Hour),
		Audit:      AuditConfig{DB: "chat_audit.db"},
	}
}

// Load reads the YAML file at path (a missing file is not an error), then
// applies environment overrides and fills in ports.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillPorts()
	return cfg, nil
}

// loadYAMLFile loads a YAML file into a structure, expanding ${VAR} and
// ${VAR:-default} references first
func loadYAMLFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal([]byte(expandEnv(string(data))), v)
}

// expandEnv expands environment variables in a string
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.Expand(s, func(key string) string {
			// Handle default values like ${VAR:-default}
			parts := strings.SplitN(key, ":-", 2)
			value := os.Getenv(parts[0])
			if value == "" && len(parts) > 1 {
				return parts[1]
			}
			return value
		})
	}
	return s
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg with every variable that is set
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("CHAT_PROVIDER", &cfg.Provider)
	str("GROQ_API_KEY", &cfg.Groq.APIKey)
	str("GROQ_API_URL", &cfg.Groq.URL)
	str("GROQ_MODEL", &cfg.Groq.Model)
	str("HF_TOKEN", &cfg.HuggingFace.APIKey)
	str("HF_API_URL", &cfg.HuggingFace.URL)
	str("HF_MODEL", &cfg.HuggingFace.Model)
	duration("LLM_TIMEOUT", &cfg.Timeout)
	str("DEFAULT_PERSONALITY", &cfg.Personality.Default)
	str("PERSONALITIES_FILE", &cfg.Personality.File)
	flag("HIGH_PORT_MODE", &cfg.Server.HighPortMode)
	num("HTTP_PORT", &cfg.Server.HTTPPort)
	num("HTTPS_PORT", &cfg.Server.HTTPSPort)
	num("SSH_PORT", &cfg.Server.SSHPort)
	num("DNS_PORT", &cfg.Server.DNSPort)
	str("SSH_HOST_KEY", &cfg.Server.SSHHostKey)
	float("RATE_LIMIT_RPS", &cfg.RateLimit.RPS)
	num("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	duration("SESSION_TTL", &cfg.SessionTTL)
	flag("ENABLE_LLM_AUDIT", &cfg.Audit.Enabled)
	str("AUDIT_DB", &cfg.Audit.DB)
	flag("DEBUG", &cfg.Debug)

	return errors.Join(errs...)
}

// fillPorts applies the production or HIGH_PORT_MODE defaults to unset ports
func (c *Config) fillPorts() {
	defaults := [4]int{80, 443, 22, 53}
	if c.Server.HighPortMode {
		defaults = [4]int{8080, 8443, 2222, 8053}
	}
	for i, p := range []*int{&c.Server.HTTPPort, &c.Server.HTTPSPort, &c.Server.SSHPort, &c.Server.DNSPort} {
		if *p == 0 {
			*p = defaults[i]
		}
	}
}

// Validate reports settings that cannot work. A missing API key is not an
// error here: it is reported to the user on the first request.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Provider) {
	case "groq", "streaming", "huggingface", "hf", "blocking":
	default:
		errs = append(errs, fmt.Errorf("CHAT_PROVIDER: unknown provider %q (want groq or huggingface)", c.Provider))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must not be negative"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	for name, port := range map[string]int{
		"HTTP_PORT": c.Server.HTTPPort, "HTTPS_PORT": c.Server.HTTPSPort,
		"SSH_PORT": c.Server.SSHPort, "DNS_PORT": c.Server.DNSPort,
	} {
		if port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if c.Audit.Enabled && c.Audit.DB == "" {
		errs = append(errs, fmt.Errorf("AUDIT_DB is required when ENABLE_LLM_AUDIT is set"))
	}
	return errors.Join(errs...)
}

// Backend returns the settings of the selected provider
func (c *Config) Backend() BackendConfig {
	switch strings.ToLower(c.Provider) {
	case "huggingface", "hf", "blocking":
		return c.HuggingFace
	}
	return c.Groq
}
