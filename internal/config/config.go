// Пакет config — загрузка и валидация конфигурации dzap-backend
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

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultPolicyStandard — стандарт, указываемый в сертификатах по умолчанию.
const DefaultPolicyStandard = "NIST SP 800-88 Rev.1"

// writeAlignment — кратность единицы записи (выравнивание O_DIRECT).
const writeAlignment = 4096

// Config содержит все параметры конфигурации станции.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Адрес прослушивания (по умолчанию только локальный фронтенд)
	ListenHost string
	// Директория состояния: журнал, сертификаты, ключ, lock-файл
	StateDir string
	// Путь к приватному ключу Ed25519 (PKCS#8 PEM)
	SigningKey string
	// Идентификатор оператора по умолчанию
	OperatorID string
	// Стандарт, указываемый в сертификатах
	PolicyStandard string
	// Срок действия сертификатов (0 — бессрочно)
	CertValidity time.Duration

	// Единица записи при перезаписи, байт
	WriteUnit int
	// Повторы при временных ошибках ввода-вывода
	IORetries int
	// Начальная задержка повтора
	IOBackoff time.Duration
	// Интервал рассылки прогресса подписчикам
	ProgressInterval time.Duration
	// Таймаут опроса SMART
	HealthTimeout time.Duration
	// Режим верификации по умолчанию
	Verification model.VerificationMode
	// Оборачивать firmware-команды в ionice -c 3
	IONice bool
	// Требовать запуск от root
	RequireRoot bool

	// Архив завершённых заданий
	JobArchiveSize int
	JobArchiveTTL  time.Duration
	// Хранение записей завершённых заданий в журнале (0 — бессрочно)
	JournalRetention time.Duration

	// Интервалы фоновых сервисов
	ExpiryInterval time.Duration
	AuditInterval  time.Duration
	LedgerInterval time.Duration

	// TLS (опционально, оба пути или ни одного)
	TLSCert string
	TLSKey  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// PostgreSQL-реестр (опционально, включается заданием DZ_DB_HOST)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// DZ_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("DZ_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DZ_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DZ_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// DZ_LISTEN_HOST — адрес прослушивания (по умолчанию localhost)
	cfg.ListenHost = getEnvDefault("DZ_LISTEN_HOST", "localhost")

	// DZ_STATE_DIR — директория состояния (по умолчанию /var/lib/dzap)
	cfg.StateDir = getEnvDefault("DZ_STATE_DIR", "/var/lib/dzap")
	if !filepath.IsAbs(cfg.StateDir) {
		return nil, fmt.Errorf("DZ_STATE_DIR: путь должен быть абсолютным, получено %q", cfg.StateDir)
	}

	// DZ_SIGNING_KEY — ключ подписи (по умолчанию ${DZ_STATE_DIR}/signing.pem)
	cfg.SigningKey = getEnvDefault("DZ_SIGNING_KEY", filepath.Join(cfg.StateDir, "signing.pem"))

	// DZ_OPERATOR_ID — оператор по умолчанию (по умолчанию имя хоста)
	hostname, _ := os.Hostname()
	cfg.OperatorID = getEnvDefault("DZ_OPERATOR_ID", hostname)

	// DZ_POLICY_STANDARD — стандарт в сертификатах
	cfg.PolicyStandard = getEnvDefault("DZ_POLICY_STANDARD", DefaultPolicyStandard)

	// DZ_CERT_VALIDITY — срок действия сертификата (по умолчанию бессрочно)
	cfg.CertValidity, err = getEnvDuration("DZ_CERT_VALIDITY", 0)
	if err != nil {
		return nil, fmt.Errorf("DZ_CERT_VALIDITY: %w", err)
	}
	if cfg.CertValidity < 0 {
		return nil, fmt.Errorf("DZ_CERT_VALIDITY: значение не может быть отрицательным")
	}

	// DZ_WRITE_UNIT — единица записи (по умолчанию 1 MiB, кратна 4096)
	cfg.WriteUnit, err = getEnvInt("DZ_WRITE_UNIT", 1<<20)
	if err != nil {
		return nil, fmt.Errorf("DZ_WRITE_UNIT: %w", err)
	}
	if cfg.WriteUnit <= 0 || cfg.WriteUnit%writeAlignment != 0 {
		return nil, fmt.Errorf("DZ_WRITE_UNIT: значение %d должно быть положительным и кратным %d", cfg.WriteUnit, writeAlignment)
	}

	// DZ_IO_RETRIES — повторы при временных ошибках (по умолчанию 5)
	cfg.IORetries, err = getEnvInt("DZ_IO_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("DZ_IO_RETRIES: %w", err)
	}
	if cfg.IORetries < 0 {
		return nil, fmt.Errorf("DZ_IO_RETRIES: значение не может быть отрицательным")
	}

	// DZ_IO_BACKOFF — начальная задержка повтора (по умолчанию 50ms)
	cfg.IOBackoff, err = getEnvDuration("DZ_IO_BACKOFF", 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DZ_IO_BACKOFF: %w", err)
	}
	if cfg.IOBackoff <= 0 {
		return nil, fmt.Errorf("DZ_IO_BACKOFF: значение должно быть положительным")
	}

	// DZ_PROGRESS_INTERVAL — период рассылки прогресса (по умолчанию 500ms)
	cfg.ProgressInterval, err = getEnvDuration("DZ_PROGRESS_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DZ_PROGRESS_INTERVAL: %w", err)
	}
	if cfg.ProgressInterval <= 0 {
		return nil, fmt.Errorf("DZ_PROGRESS_INTERVAL: значение должно быть положительным")
	}

	// DZ_HEALTH_TIMEOUT — таймаут smartctl (по умолчанию 10s)
	cfg.HealthTimeout, err = getEnvDuration("DZ_HEALTH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DZ_HEALTH_TIMEOUT: %w", err)
	}

	// DZ_VERIFICATION — режим верификации по умолчанию (none, basic, full)
	mode, ok := model.ParseVerificationMode(getEnvDefault("DZ_VERIFICATION", "none"))
	if !ok {
		return nil, fmt.Errorf("DZ_VERIFICATION: недопустимое значение %q, допустимые: none, basic, full", os.Getenv("DZ_VERIFICATION"))
	}
	cfg.Verification = mode

	// DZ_IONICE — idle-класс ввода-вывода для firmware-команд (по умолчанию true)
	cfg.IONice, err = getEnvBool("DZ_IONICE", true)
	if err != nil {
		return nil, fmt.Errorf("DZ_IONICE: %w", err)
	}

	// DZ_REQUIRE_ROOT — требовать root (по умолчанию true)
	cfg.RequireRoot, err = getEnvBool("DZ_REQUIRE_ROOT", true)
	if err != nil {
		return nil, fmt.Errorf("DZ_REQUIRE_ROOT: %w", err)
	}

	// DZ_JOB_ARCHIVE_SIZE — размер архива заданий (по умолчанию 256)
	cfg.JobArchiveSize, err = getEnvInt("DZ_JOB_ARCHIVE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("DZ_JOB_ARCHIVE_SIZE: %w", err)
	}
	if cfg.JobArchiveSize <= 0 {
		return nil, fmt.Errorf("DZ_JOB_ARCHIVE_SIZE: значение должно быть положительным")
	}

	// DZ_JOB_ARCHIVE_TTL — время жизни в архиве (по умолчанию 24h)
	cfg.JobArchiveTTL, err = getEnvDuration("DZ_JOB_ARCHIVE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DZ_JOB_ARCHIVE_TTL: %w", err)
	}

	// DZ_JOURNAL_RETENTION — хранение завершённых записей журнала (по умолчанию бессрочно)
	cfg.JournalRetention, err = getEnvDuration("DZ_JOURNAL_RETENTION", 0)
	if err != nil {
		return nil, fmt.Errorf("DZ_JOURNAL_RETENTION: %w", err)
	}
	if cfg.JournalRetention < 0 {
		return nil, fmt.Errorf("DZ_JOURNAL_RETENTION: значение не может быть отрицательным")
	}

	// DZ_EXPIRY_INTERVAL — интервал обслуживания сроков (по умолчанию 1h)
	cfg.ExpiryInterval, err = getEnvDuration("DZ_EXPIRY_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DZ_EXPIRY_INTERVAL: %w", err)
	}

	// DZ_AUDIT_INTERVAL — интервал аудита сертификатов (по умолчанию 6h)
	cfg.AuditInterval, err = getEnvDuration("DZ_AUDIT_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DZ_AUDIT_INTERVAL: %w", err)
	}

	// DZ_LEDGER_INTERVAL — интервал выгрузки в реестр (по умолчанию 1m)
	cfg.LedgerInterval, err = getEnvDuration("DZ_LEDGER_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DZ_LEDGER_INTERVAL: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"DZ_EXPIRY_INTERVAL": cfg.ExpiryInterval,
		"DZ_AUDIT_INTERVAL":  cfg.AuditInterval,
		"DZ_LEDGER_INTERVAL": cfg.LedgerInterval,
		"DZ_JOB_ARCHIVE_TTL": cfg.JobArchiveTTL,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", name)
		}
	}

	// DZ_TLS_CERT / DZ_TLS_KEY — задаются вместе
	cfg.TLSCert = getEnvDefault("DZ_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("DZ_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("DZ_TLS_CERT и DZ_TLS_KEY должны задаваться вместе")
	}

	// DZ_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DZ_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DZ_LOG_LEVEL: %w", err)
	}

	// DZ_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DZ_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DZ_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// DZ_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DZ_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DZ_SHUTDOWN_TIMEOUT: %w", err)
	}

	// DZ_DB_* — реестр в PostgreSQL, включается заданием DZ_DB_HOST
	cfg.DBHost = getEnvDefault("DZ_DB_HOST", "")
	cfg.DBPort, err = getEnvInt("DZ_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DZ_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("DZ_DB_NAME", "dzap")
	cfg.DBUser = getEnvDefault("DZ_DB_USER", "dzap")
	cfg.DBPassword = getEnvDefault("DZ_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("DZ_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DZ_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.LedgerEnabled() && cfg.DBPassword == "" {
		return nil, fmt.Errorf("DZ_DB_PASSWORD: обязательна при заданном DZ_DB_HOST")
	}

	return cfg, nil
}

// Addr возвращает адрес прослушивания HTTP-сервера.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.Port)
}

// TLSEnabled — заданы сертификат и ключ TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// LedgerEnabled — настроен PostgreSQL-реестр.
func (c *Config) LedgerEnabled() bool {
	return c.DBHost != ""
}

// JournalDir — директория журнала заданий.
func (c *Config) JournalDir() string {
	return filepath.Join(c.StateDir, "journal")
}

// CertificatesDir — директория сертификатов.
func (c *Config) CertificatesDir() string {
	return filepath.Join(c.StateDir, "certificates")
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
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

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
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
