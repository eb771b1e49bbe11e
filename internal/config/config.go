// Пакет config — загрузка и валидация конфигурации измерительного бокса
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Версия протокола драйвера потенциостата.
var DriverVersion = "1.0"

// Config содержит все параметры конфигурации сервиса boxd.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор бокса (например, "box-lab-03"), опционально
	BoxID string
	// API-ключ для защищённых операций; пустое значение отключает проверку
	APIKey string
	// Корневая директория хранения результатов запусков
	RunsRoot string
	// Путь к sqlite-базе (индекс запусков + записи задач)
	DBPath string
	// Путь к JSON-конфигурации NAS
	NASConfigPath string
	// Путь к credentials-файлу NAS (создаётся с правами 0600)
	NASCredPath string
	// Корень точек монтирования NAS
	MountRoot string
	// Cron-расписание retention-прохода (формат robfig/cron, например "@every 6h")
	RetentionSchedule string
	// Грейс-период ожидания подтверждения abort от драйвера
	CancelGrace time.Duration
	// Таймаут probe-монтирования NAS
	ProbeTimeout time.Duration
	// Glob-шаблоны последовательных портов потенциостатов
	PortGlobs []string
	// Путь к внешнему построителю графиков; пустое значение отключает графики
	PlotBin string
	// Путь к TLS сертификату (опционально; вместе с ключом включает HTTPS)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// BOX_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("BOX_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("BOX_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("BOX_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// BOX_ID — идентификатор бокса (опционально)
	cfg.BoxID = getEnvDefault("BOX_ID", "")

	// BOX_API_KEY — ключ защищённых операций (пустое значение = без аутентификации)
	cfg.APIKey = getEnvDefault("BOX_API_KEY", "")

	// BOX_RUNS_ROOT — обязательный
	cfg.RunsRoot, err = getEnvRequired("BOX_RUNS_ROOT")
	if err != nil {
		return nil, err
	}

	// BOX_DB_PATH — путь к sqlite-базе (по умолчанию <runs_root>/box.db)
	cfg.DBPath = getEnvDefault("BOX_DB_PATH", filepath.Join(cfg.RunsRoot, "box.db"))

	// BOX_NAS_CONFIG — путь к конфигурации NAS
	cfg.NASConfigPath = getEnvDefault("BOX_NAS_CONFIG", "/opt/box/nas_smb.json")

	// BOX_NAS_CRED — путь к credentials-файлу NAS
	cfg.NASCredPath = getEnvDefault("BOX_NAS_CRED", "/opt/box/.smbcredentials_nas")

	// BOX_MOUNT_ROOT — корень точек монтирования
	cfg.MountRoot = getEnvDefault("BOX_MOUNT_ROOT", "/mnt/nas_box")

	// BOX_RETENTION_SCHEDULE — расписание retention-прохода (по умолчанию каждые 6 часов)
	cfg.RetentionSchedule = getEnvDefault("BOX_RETENTION_SCHEDULE", "@every 6h")

	// BOX_CANCEL_GRACE — ожидание подтверждения abort (по умолчанию 5s)
	cfg.CancelGrace, err = getEnvDuration("BOX_CANCEL_GRACE", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BOX_CANCEL_GRACE: %w", err)
	}

	// BOX_PROBE_TIMEOUT — таймаут probe-монтирования (по умолчанию 30s)
	cfg.ProbeTimeout, err = getEnvDuration("BOX_PROBE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BOX_PROBE_TIMEOUT: %w", err)
	}

	// BOX_PORT_GLOBS — шаблоны портов через запятую (по умолчанию ttyACM/ttyUSB)
	globs := getEnvDefault("BOX_PORT_GLOBS", "/dev/ttyACM*,/dev/ttyUSB*")
	for _, g := range strings.Split(globs, ",") {
		if g = strings.TrimSpace(g); g != "" {
			cfg.PortGlobs = append(cfg.PortGlobs, g)
		}
	}

	// BOX_PLOT_BIN — внешний построитель графиков (пустое значение = без графиков)
	cfg.PlotBin = getEnvDefault("BOX_PLOT_BIN", "")

	// BOX_TLS_CERT / BOX_TLS_KEY — опциональный TLS
	cfg.TLSCert = getEnvDefault("BOX_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("BOX_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("BOX_TLS_CERT и BOX_TLS_KEY должны задаваться вместе")
	}

	// BOX_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("BOX_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("BOX_LOG_LEVEL: %w", err)
	}

	// BOX_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("BOX_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("BOX_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// BOX_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("BOX_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BOX_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
