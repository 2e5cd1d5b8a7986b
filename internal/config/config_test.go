package config

import (
	"log/slog"
	"os"
	"testing"
)

// requiredArgs are the flags without which validate() rejects the config.
var requiredArgs = []string{
	"--provider-api-url", "https://api.telco.example",
	"--provider-api-key", "key-123",
	"--credential-id", "cred-1",
	"--caller-ids", "+15559990000",
}

func loadArgs(extra ...string) []string {
	return append(append([]string{"callbridge"}, requiredArgs...), extra...)
}

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"CALLBRIDGE_DATA_DIR", "CALLBRIDGE_HTTP_PORT", "CALLBRIDGE_LOG_LEVEL",
		"CALLBRIDGE_LOG_FORMAT", "CALLBRIDGE_SESSION_TTL", "CALLBRIDGE_SWEEP_INTERVAL",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = loadArgs()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.SessionTTLMinutes != defaultSessionTTL {
		t.Errorf("SessionTTLMinutes = %d, want %d", cfg.SessionTTLMinutes, defaultSessionTTL)
	}
	if cfg.RecordCalls {
		t.Error("RecordCalls should default to false")
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = loadArgs()
	t.Setenv("CALLBRIDGE_HTTP_PORT", "9090")
	t.Setenv("CALLBRIDGE_DATA_DIR", "/tmp/callbridge-test")
	t.Setenv("CALLBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("CALLBRIDGE_RECORD_CALLS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/callbridge-test" {
		t.Errorf("DataDir = %q, want /tmp/callbridge-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.RecordCalls {
		t.Error("RecordCalls should be overridden to true")
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = loadArgs("--http-port", "3000", "--log-level", "warn")
	t.Setenv("CALLBRIDGE_HTTP_PORT", "9090")
	t.Setenv("CALLBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = loadArgs("--http-port", "99999")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = loadArgs("--log-level", "verbose")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateMissingProvider(t *testing.T) {
	os.Args = []string{"callbridge", "--caller-ids", "+15559990000"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when provider settings are missing")
	}
}

func TestValidateMissingCallerIDs(t *testing.T) {
	os.Args = []string{"callbridge",
		"--provider-api-url", "https://api.telco.example",
		"--provider-api-key", "key-123",
		"--credential-id", "cred-1",
		"--caller-ids", " , ",
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when no caller IDs are configured")
	}
}

func TestCallerIDList(t *testing.T) {
	cfg := &Config{CallerIDs: "+15550001111, +15550002222 ,,+15550003333"}
	got := cfg.CallerIDList()
	want := []string{"+15550001111", "+15550002222", "+15550003333"}
	if len(got) != len(want) {
		t.Fatalf("CallerIDList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CallerIDList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
