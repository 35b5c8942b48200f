package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsInDryRun(t *testing.T) {
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load(LoadOptions{SkipDotEnv: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConcurrentRequests != 10 || cfg.RequestsPerMinute != 100 || cfg.BatchSize != 50 {
		t.Fatalf("unexpected limiter defaults: %+v", cfg)
	}
	if cfg.DelayBetweenBatches != time.Second || cfg.RetryDelay != time.Second {
		t.Fatalf("unexpected delays: %s %s", cfg.DelayBetweenBatches, cfg.RetryDelay)
	}
	if cfg.BreakerTimeout != time.Minute || cfg.BreakerFailureThreshold != 5 {
		t.Fatalf("unexpected breaker defaults: %s %d", cfg.BreakerTimeout, cfg.BreakerFailureThreshold)
	}
	if cfg.MessageTemplate != "Hello {DisplayName}" || cfg.ArchiveDriver != ArchiveNone {
		t.Fatalf("unexpected defaults: %q %q", cfg.MessageTemplate, cfg.ArchiveDriver)
	}
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PROVIDER_API_KEY", "")
	t.Setenv("FROM_NUMBER", "")

	_, err := Load(LoadOptions{SkipDotEnv: true})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", verr.Problems)
	}
}

func TestSourcePrecedence(t *testing.T) {
	secrets := writeFile(t, "secrets.env", "PROVIDER_API_KEY=from-secrets\nBATCH_SIZE=7\n")
	file := writeFile(t, "config.yaml", strings.Join([]string{
		"batch_size: 20",
		"requests_per_minute: 30",
		"FROM_NUMBER: \"+390000000\"",
		"dry_run: false",
		"message_template: \"Ciao {Name}\"",
	}, "\n"))

	t.Setenv("BATCH_SIZE", "9")
	t.Setenv("REQUESTS_PER_MINUTE", "45")
	t.Setenv("PROVIDER_API_KEY", "from-env")

	cfg, err := Load(LoadOptions{SkipDotEnv: true, SecretsFile: secrets, ConfigFile: file})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProviderAPIKey != "from-secrets" || cfg.BatchSize != 7 {
		t.Fatalf("secrets must win: key=%s batch=%d", cfg.ProviderAPIKey, cfg.BatchSize)
	}
	if cfg.RequestsPerMinute != 45 {
		t.Fatalf("env must beat the config file, got %d", cfg.RequestsPerMinute)
	}
	if cfg.FromNumber != "+390000000" || cfg.MessageTemplate != "Ciao {Name}" {
		t.Fatalf("config file values not applied: %q %q", cfg.FromNumber, cfg.MessageTemplate)
	}
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("BATCH_SIZE", "lots")

	if _, err := Load(LoadOptions{SkipDotEnv: true}); err == nil || !strings.Contains(err.Error(), "BATCH_SIZE") {
		t.Fatalf("expected BATCH_SIZE error, got %v", err)
	}

	t.Setenv("BATCH_SIZE", "0")
	t.Setenv("ARCHIVE_DRIVER", "mongo")
	_, err := Load(LoadOptions{SkipDotEnv: true})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) != 2 {
		t.Fatalf("expected batch size and driver problems, got %v", err)
	}
}

func TestNestedYAMLRejected(t *testing.T) {
	file := writeFile(t, "config.yaml", "provider:\n  url: http://x\n")
	if _, err := Load(LoadOptions{SkipDotEnv: true, ConfigFile: file}); err == nil {
		t.Fatalf("expected nested key to be rejected")
	}
}

func TestOverridesWin(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("MESSAGE_TEMPLATE", "from env")

	cfg, err := Load(LoadOptions{SkipDotEnv: true, Overrides: map[string]string{
		"DRY_RUN":          "true",
		"MESSAGE_TEMPLATE": "from flag",
	}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DryRun || cfg.MessageTemplate != "from flag" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidateArchiveOnly(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PROVIDER_API_KEY", "")
	t.Setenv("ARCHIVE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(LoadOptions{SkipDotEnv: true, NoValidate: true})
	if err != nil {
		t.Fatalf("load without validation: %v", err)
	}
	var verr *ValidationError
	if err := cfg.ValidateArchive(); !errors.As(err, &verr) || len(verr.Problems) != 1 {
		t.Fatalf("expected only the DATABASE_URL problem, got %v", err)
	}
}
