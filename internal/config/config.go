// Package config loads the dispatcher settings.
//
// Every key is resolved from the first source that defines it, after any
// explicit overrides:
//  1. the secrets file (dotenv format, SMS_SECRETS_FILE)
//  2. the process environment, after an optional .env in the working directory
//  3. the YAML config file (SMS_CONFIG_FILE or -config), keys case-insensitive
//  4. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Archive drivers.
const (
	ArchiveNone     = "none"
	ArchivePostgres = "postgres"
	ArchiveSQLite   = "sqlite"
)

// Config holds the resolved settings. It is read-only after Load.
type Config struct {
	ProviderURL     string
	ProviderAPIKey  string
	FromNumber      string
	ProviderTimeout time.Duration

	MaxConcurrentRequests int
	RequestsPerMinute     int
	DelayBetweenBatches   time.Duration
	BatchSize             int

	RetryAttempts int
	RetryDelay    time.Duration

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	MessageTemplate       string
	DryRun                bool
	EnableDeliveryReports bool
	DefaultRegion         string

	ResultsDir       string
	SinkQueueSize    int
	SinkCloseTimeout time.Duration

	LogLevel  string
	LogFormat string

	StatusAddr string

	ArchiveDriver string
	DatabaseURL   string
	SQLitePath    string

	AMQPURL string
}

// LoadOptions selects the optional file sources. Empty fields fall back to
// SMS_SECRETS_FILE and SMS_CONFIG_FILE.
type LoadOptions struct {
	SecretsFile string
	ConfigFile  string
	// SkipDotEnv disables loading .env from the working directory.
	SkipDotEnv bool
	// Overrides win over every other source, e.g. command-line flags.
	Overrides map[string]string
	// NoValidate leaves validation to the caller. Tools that only touch the
	// archive use it together with ValidateArchive.
	NoValidate bool
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	if !opts.SkipDotEnv {
		_ = godotenv.Load()
	}

	src := &sources{overrides: opts.Overrides}

	secretsFile := firstNonEmpty(opts.SecretsFile, os.Getenv("SMS_SECRETS_FILE"))
	if secretsFile != "" {
		m, err := godotenv.Read(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("read secrets file %s: %w", secretsFile, err)
		}
		src.secrets = m
	}

	configFile := firstNonEmpty(opts.ConfigFile, os.Getenv("SMS_CONFIG_FILE"))
	if configFile != "" {
		m, err := readYAML(configFile)
		if err != nil {
			return nil, err
		}
		src.file = m
	}

	cfg, err := src.build()
	if err != nil {
		return nil, err
	}
	if opts.NoValidate {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail on the first recipient.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !c.DryRun {
		if c.ProviderAPIKey == "" {
			add("PROVIDER_API_KEY is required unless DRY_RUN is set")
		}
		if c.FromNumber == "" {
			add("FROM_NUMBER is required unless DRY_RUN is set")
		}
		if c.ProviderURL == "" {
			add("PROVIDER_URL cannot be empty")
		}
	}

	positive := []struct {
		key string
		val int
	}{
		{"MAX_CONCURRENT_REQUESTS", c.MaxConcurrentRequests},
		{"REQUESTS_PER_MINUTE", c.RequestsPerMinute},
		{"BATCH_SIZE", c.BatchSize},
		{"RETRY_ATTEMPTS", c.RetryAttempts},
		{"CIRCUIT_BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold},
		{"SINK_QUEUE_SIZE", c.SinkQueueSize},
	}
	for _, p := range positive {
		if p.val < 1 {
			add("%s must be at least 1, got %d", p.key, p.val)
		}
	}
	if c.DelayBetweenBatches < 0 {
		add("DELAY_BETWEEN_BATCHES_MS must be >= 0")
	}
	if c.RetryDelay < 0 {
		add("RETRY_DELAY_MS must be >= 0")
	}
	if c.BreakerTimeout <= 0 {
		add("CIRCUIT_BREAKER_TIMEOUT_SECONDS must be at least 1")
	}
	if strings.TrimSpace(c.MessageTemplate) == "" {
		add("MESSAGE_TEMPLATE cannot be empty")
	}

	problems = append(problems, c.archiveProblems()...)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateArchive checks only the archive settings.
func (c *Config) ValidateArchive() error {
	if problems := c.archiveProblems(); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) archiveProblems() []string {
	switch c.ArchiveDriver {
	case ArchiveNone:
	case ArchivePostgres:
		if c.DatabaseURL == "" {
			return []string{"DATABASE_URL is required for the postgres archive"}
		}
	case ArchiveSQLite:
		if c.SQLitePath == "" {
			return []string{"SQLITE_PATH is required for the sqlite archive"}
		}
	default:
		return []string{fmt.Sprintf("ARCHIVE_DRIVER must be one of none, postgres, sqlite; got %q", c.ArchiveDriver)}
	}
	return nil
}

type sources struct {
	overrides map[string]string
	secrets   map[string]string
	file      map[string]string
	errs      []error
}

func (s *sources) lookup(key string) (string, bool) {
	if v, ok := s.overrides[key]; ok && v != "" {
		return v, true
	}
	if v, ok := s.secrets[key]; ok && v != "" {
		return v, true
	}
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := s.file[strings.ToLower(key)]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s *sources) str(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (s *sources) intVal(key string, def int) int {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (s *sources) boolVal(key string, def bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (s *sources) duration(key string, def time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: invalid duration %q: %w", key, v, err))
		return def
	}
	return d
}

// millis reads an integer count of unit, e.g. *_MS or *_SECONDS keys.
func (s *sources) millis(key string, def int, unit time.Duration) time.Duration {
	return time.Duration(s.intVal(key, def)) * unit
}

func (s *sources) build() (*Config, error) {
	cfg := &Config{
		ProviderURL:     s.str("PROVIDER_URL", "http://localhost:9090"),
		ProviderAPIKey:  s.str("PROVIDER_API_KEY", ""),
		FromNumber:      s.str("FROM_NUMBER", ""),
		ProviderTimeout: s.duration("PROVIDER_TIMEOUT", 15*time.Second),

		MaxConcurrentRequests: s.intVal("MAX_CONCURRENT_REQUESTS", 10),
		RequestsPerMinute:     s.intVal("REQUESTS_PER_MINUTE", 100),
		DelayBetweenBatches:   s.millis("DELAY_BETWEEN_BATCHES_MS", 1000, time.Millisecond),
		BatchSize:             s.intVal("BATCH_SIZE", 50),

		RetryAttempts: s.intVal("RETRY_ATTEMPTS", 3),
		RetryDelay:    s.millis("RETRY_DELAY_MS", 1000, time.Millisecond),

		BreakerFailureThreshold: s.intVal("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerTimeout:          s.millis("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 60, time.Second),

		MessageTemplate:       s.str("MESSAGE_TEMPLATE", "Hello {DisplayName}"),
		DryRun:                s.boolVal("DRY_RUN", false),
		EnableDeliveryReports: s.boolVal("ENABLE_DELIVERY_REPORTS", false),
		DefaultRegion:         strings.ToUpper(s.str("DEFAULT_REGION", "IT")),

		ResultsDir:       s.str("RESULTS_DIR", "./results"),
		SinkQueueSize:    s.intVal("SINK_QUEUE_SIZE", 1000),
		SinkCloseTimeout: s.duration("SINK_CLOSE_TIMEOUT", 30*time.Second),

		LogLevel:  strings.ToLower(s.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(s.str("LOG_FORMAT", "console")),

		StatusAddr: s.str("STATUS_ADDR", ""),

		ArchiveDriver: strings.ToLower(s.str("ARCHIVE_DRIVER", ArchiveNone)),
		DatabaseURL:   s.str("DATABASE_URL", ""),
		SQLitePath:    s.str("SQLITE_PATH", "./results/archive.db"),

		AMQPURL: s.str("AMQP_URL", ""),
	}
	if len(s.errs) > 0 {
		return nil, errors.Join(s.errs...)
	}
	return cfg, nil
}

// readYAML flattens the top level of a YAML document into lowercase keys.
// Nested values are not supported; the settings are all scalars.
func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml unmarshal %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: key %q must be a scalar", path, k)
		case nil:
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
