package config

import (
	"log/slog"
	"testing"
	"time"
)

// clearBoxEnv очищает все переменные окружения BOX_* для чистого теста.
func clearBoxEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"BOX_PORT", "BOX_ID", "BOX_API_KEY", "BOX_RUNS_ROOT", "BOX_DB_PATH",
		"BOX_NAS_CONFIG", "BOX_NAS_CRED", "BOX_MOUNT_ROOT",
		"BOX_RETENTION_SCHEDULE", "BOX_CANCEL_GRACE", "BOX_PROBE_TIMEOUT",
		"BOX_PORT_GLOBS", "BOX_PLOT_BIN",
		"BOX_TLS_CERT", "BOX_TLS_KEY", "BOX_LOG_LEVEL", "BOX_LOG_FORMAT",
		"BOX_SHUTDOWN_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearBoxEnv(t)
	t.Setenv("BOX_RUNS_ROOT", "/var/lib/boxd/runs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: хотели 8080, получили %d", cfg.Port)
	}
	if cfg.RunsRoot != "/var/lib/boxd/runs" {
		t.Errorf("RunsRoot: получили %q", cfg.RunsRoot)
	}
	if cfg.DBPath != "/var/lib/boxd/runs/box.db" {
		t.Errorf("DBPath: хотели <runs_root>/box.db, получили %q", cfg.DBPath)
	}
	if cfg.RetentionSchedule != "@every 6h" {
		t.Errorf("RetentionSchedule: получили %q", cfg.RetentionSchedule)
	}
	if cfg.CancelGrace != 5*time.Second {
		t.Errorf("CancelGrace: хотели 5s, получили %s", cfg.CancelGrace)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: хотели info, получили %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: хотели json, получили %q", cfg.LogFormat)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey: хотели пустой, получили %q", cfg.APIKey)
	}
	if len(cfg.PortGlobs) != 2 || cfg.PortGlobs[0] != "/dev/ttyACM*" {
		t.Errorf("PortGlobs: получили %v", cfg.PortGlobs)
	}
	if cfg.PlotBin != "" {
		t.Errorf("PlotBin: хотели пустой, получили %q", cfg.PlotBin)
	}
}

func TestLoad_MissingRunsRoot(t *testing.T) {
	clearBoxEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Load: ожидали ошибку при отсутствии BOX_RUNS_ROOT")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearBoxEnv(t)
	t.Setenv("BOX_RUNS_ROOT", "/runs")
	t.Setenv("BOX_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Fatal("Load: ожидали ошибку при порте вне диапазона")
	}

	t.Setenv("BOX_PORT", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("Load: ожидали ошибку при нечисловом порте")
	}
}

func TestLoad_TLSPairRequired(t *testing.T) {
	clearBoxEnv(t)
	t.Setenv("BOX_RUNS_ROOT", "/runs")
	t.Setenv("BOX_TLS_CERT", "/etc/boxd/tls.crt")

	if _, err := Load(); err == nil {
		t.Fatal("Load: ожидали ошибку при TLS-сертификате без ключа")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearBoxEnv(t)
	t.Setenv("BOX_RUNS_ROOT", "/runs")
	t.Setenv("BOX_PORT", "9090")
	t.Setenv("BOX_API_KEY", "secret")
	t.Setenv("BOX_CANCEL_GRACE", "30s")
	t.Setenv("BOX_LOG_LEVEL", "debug")
	t.Setenv("BOX_LOG_FORMAT", "text")
	t.Setenv("BOX_RETENTION_SCHEDULE", "@every 1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port: хотели 9090, получили %d", cfg.Port)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey: получили %q", cfg.APIKey)
	}
	if cfg.CancelGrace != 30*time.Second {
		t.Errorf("CancelGrace: хотели 30s, получили %s", cfg.CancelGrace)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: хотели debug, получили %v", cfg.LogLevel)
	}
	if cfg.RetentionSchedule != "@every 1h" {
		t.Errorf("RetentionSchedule: получили %q", cfg.RetentionSchedule)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearBoxEnv(t)
	t.Setenv("BOX_RUNS_ROOT", "/runs")
	t.Setenv("BOX_CANCEL_GRACE", "пять секунд")

	if _, err := Load(); err == nil {
		t.Fatal("Load: ожидали ошибку при некорректной длительности")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERROR":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := parseLogLevel(in)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseLogLevel(%q): хотели %v, получили %v", in, want, got)
		}
	}

	if _, err := parseLogLevel("trace"); err == nil {
		t.Error("parseLogLevel(trace): ожидали ошибку")
	}
}
