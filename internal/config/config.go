// Пакет config — загрузка и валидация конфигурации Share Module.
// Источники (по убыванию приоритета): переменные окружения SM_*,
// .env файл, YAML-файл конфигурации, значения по умолчанию.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "SM"

// Драйверы хранилища метаданных.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config содержит все параметры конфигурации Share Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Хранилище ---

	// Корневая директория blob-ов
	DataDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Соль для генерации storage name (если пусто, случайная при старте)
	StorageSalt string
	// Стоимость bcrypt для паролей файлов
	BcryptCost int

	// --- База данных ---

	// Драйвер хранилища метаданных: postgres или sqlite
	DBDriver   string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Путь к файлу SQLite (только для sqlite)
	SQLitePath string

	// --- Кэш метаданных ---

	CacheSize int
	CacheTTL  time.Duration

	// --- Фоновые процессы ---

	// Интервал сверки; 0 отключает фоновый запуск
	ReconcileInterval time.Duration
	// Интервал окончательной очистки; 0 отключает фоновый запуск
	PurgeInterval time.Duration
	// Сколько хранить soft-deleted записи до окончательного удаления
	PurgeRetention time.Duration
	// Минимальный возраст blob-а без записи, после которого он считается сиротой
	OrphanGrace time.Duration

	// --- Администрирование ---

	// bcrypt-хэш общего пароля администратора
	AdminPasswordHash string
	// Секрет подписи HS256 токенов администратора
	AdminTokenSecret string
	// Время жизни токена администратора
	AdminTokenTTL time.Duration
	// URL внешнего JWKS (опционально, RS256 токены)
	AdminJWKSURL string
	// Ожидаемые iss и aud внешних токенов; iss обязателен вместе с JWKS
	AdminJWTIssuer   string
	AdminJWTAudience string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string
	DephealthName          string
	// Группа не задана ни в окружении, ни в файле конфигурации
	DephealthGroupDefaulted bool

	// --- Логирование ---

	LogLevel      slog.Level
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// NewViper создаёт экземпляр viper с префиксом SM и, если указан,
// читает YAML-файл конфигурации. Перед этим подгружается .env файл
// (отсутствие файла не считается ошибкой).
func NewViper(configFile, envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("ошибка чтения %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", configFile, err)
		}
	}

	return v, nil
}

// Load читает конфигурацию из viper, валидирует значения
// и возвращает Config или ошибку.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getInt(v, "port", 8080)
	if err != nil {
		return nil, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%s: значение %d вне допустимого диапазона 1-65535", envName("port"), cfg.Port)
	}

	if cfg.HTTPReadTimeout, err = getDuration(v, "http_read_timeout", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getDuration(v, "http_write_timeout", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getDuration(v, "http_idle_timeout", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration(v, "shutdown_timeout", 10*time.Second); err != nil {
		return nil, err
	}

	// --- Хранилище ---

	cfg.DataDir = getString(v, "data_dir", "./data/uploads")

	cfg.MaxFileSize, err = getInt64(v, "max_file_size", 100<<20)
	if err != nil {
		return nil, err
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("%s: значение должно быть положительным", envName("max_file_size"))
	}

	cfg.StorageSalt = getString(v, "storage_salt", "")

	cfg.BcryptCost, err = getInt(v, "bcrypt_cost", 10)
	if err != nil {
		return nil, err
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("%s: значение %d вне диапазона 4-31", envName("bcrypt_cost"), cfg.BcryptCost)
	}

	// --- База данных ---

	cfg.DBDriver = getString(v, "db_driver", DriverPostgres)
	switch cfg.DBDriver {
	case DriverPostgres:
		cfg.DBHost = getString(v, "db_host", "localhost")
		if cfg.DBPort, err = getInt(v, "db_port", 5432); err != nil {
			return nil, err
		}
		cfg.DBName = getString(v, "db_name", "share")
		cfg.DBUser = getString(v, "db_user", "share")
		if cfg.DBPassword, err = getRequired(v, "db_password"); err != nil {
			return nil, err
		}
		cfg.DBSSLMode = getString(v, "db_ssl_mode", "disable")
	case DriverSQLite:
		cfg.SQLitePath = getString(v, "sqlite_path", "./data/share.db")
		if isWithin(cfg.DataDir, cfg.SQLitePath) {
			return nil, fmt.Errorf("%s: файл базы не может находиться в %s",
				envName("sqlite_path"), envName("data_dir"))
		}
	default:
		return nil, fmt.Errorf("%s: недопустимое значение %q, допустимые: postgres, sqlite",
			envName("db_driver"), cfg.DBDriver)
	}

	// --- Кэш ---

	if cfg.CacheSize, err = getInt(v, "cache_size", 1024); err != nil {
		return nil, err
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("%s: значение должно быть положительным", envName("cache_size"))
	}
	if cfg.CacheTTL, err = getDuration(v, "cache_ttl", 30*time.Second); err != nil {
		return nil, err
	}

	// --- Фоновые процессы ---

	if cfg.ReconcileInterval, err = getDuration(v, "reconcile_interval", time.Hour); err != nil {
		return nil, err
	}
	if cfg.PurgeInterval, err = getDuration(v, "purge_interval", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PurgeRetention, err = getDuration(v, "purge_retention", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PurgeRetention < 0 {
		return nil, fmt.Errorf("%s: значение не может быть отрицательным", envName("purge_retention"))
	}
	if cfg.OrphanGrace, err = getDuration(v, "orphan_grace", 10*time.Minute); err != nil {
		return nil, err
	}

	// --- Администрирование ---

	cfg.AdminPasswordHash = getString(v, "admin_password_hash", "")
	if cfg.AdminPasswordHash != "" && !strings.HasPrefix(cfg.AdminPasswordHash, "$2") {
		return nil, fmt.Errorf("%s: ожидается bcrypt-хэш", envName("admin_password_hash"))
	}
	cfg.AdminTokenSecret = getString(v, "admin_token_secret", "")
	if cfg.AdminPasswordHash != "" && len(cfg.AdminTokenSecret) < 32 {
		return nil, fmt.Errorf("%s: требуется секрет не короче 32 байт, если задан %s",
			envName("admin_token_secret"), envName("admin_password_hash"))
	}
	if cfg.AdminTokenTTL, err = getDuration(v, "admin_token_ttl", time.Hour); err != nil {
		return nil, err
	}
	cfg.AdminJWKSURL = getString(v, "admin_jwks_url", "")
	cfg.AdminJWTIssuer = getString(v, "admin_jwt_issuer", "")
	cfg.AdminJWTAudience = getString(v, "admin_jwt_audience", "")
	if cfg.AdminJWKSURL != "" && cfg.AdminJWTIssuer == "" {
		return nil, fmt.Errorf("%s: обязателен, если задан %s",
			envName("admin_jwt_issuer"), envName("admin_jwks_url"))
	}
	if cfg.JWTLeeway, err = getDuration(v, "jwt_leeway", 5*time.Second); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	if cfg.DephealthCheckInterval, err = getDuration(v, "dephealth_check_interval", 15*time.Second); err != nil {
		return nil, err
	}
	cfg.DephealthGroup = getString(v, "dephealth_group", "share-module")
	cfg.DephealthGroupDefaulted = strings.TrimSpace(v.GetString("dephealth_group")) == ""
	cfg.DephealthName = getString(v, "dephealth_name", "")

	// --- Логирование ---

	if cfg.LogLevel, err = parseLogLevel(getString(v, "log_level", "info")); err != nil {
		return nil, fmt.Errorf("%s: %w", envName("log_level"), err)
	}
	cfg.LogFormat = getString(v, "log_format", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("%s: недопустимое значение %q, допустимые: json, text", envName("log_format"), cfg.LogFormat)
	}
	cfg.LogFile = getString(v, "log_file", "")
	if cfg.LogMaxSizeMB, err = getInt(v, "log_max_size_mb", 100); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = getInt(v, "log_max_backups", 5); err != nil {
		return nil, err
	}
	if cfg.LogMaxAgeDays, err = getInt(v, "log_max_age_days", 30); err != nil {
		return nil, err
	}
	if cfg.LogCompress, err = getBool(v, "log_compress", true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AdminEnabled сообщает, настроен ли хотя бы один способ аутентификации администратора.
func (c *Config) AdminEnabled() bool {
	return c.AdminPasswordHash != "" || c.AdminJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL с указанной схемой
// (postgres для dephealth, pgx5 для golang-migrate).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Если задан LogFile, записи дублируются в файл с ротацией.
func SetupLogger(cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
	}
	return setupLogger(cfg, out)
}

func setupLogger(cfg *Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// isWithin сообщает, находится ли path внутри dir.
func isWithin(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// envName возвращает имя переменной окружения для ключа (для сообщений об ошибках).
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// getRequired возвращает значение ключа или ошибку, если оно не задано.
func getRequired(v *viper.Viper, key string) (string, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return "", fmt.Errorf("%s: обязательный параметр не задан", envName(key))
	}
	return val, nil
}

// getString возвращает значение ключа или значение по умолчанию.
func getString(v *viper.Viper, key, defaultVal string) string {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// getInt возвращает целочисленное значение ключа или значение по умолчанию.
func getInt(v *viper.Viper, key string, defaultVal int) (int, error) {
	val := getString(v, key, "")
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", envName(key), val)
	}
	return n, nil
}

// getInt64 возвращает int64 значение ключа или значение по умолчанию.
func getInt64(v *viper.Viper, key string, defaultVal int64) (int64, error) {
	val := getString(v, key, "")
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", envName(key), val)
	}
	return n, nil
}

// getBool возвращает логическое значение ключа или значение по умолчанию.
func getBool(v *viper.Viper, key string, defaultVal bool) (bool, error) {
	val := getString(v, key, "")
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: некорректное логическое значение: %q", envName(key), val)
	}
	return b, nil
}

// getDuration возвращает time.Duration из ключа или значение по умолчанию.
func getDuration(v *viper.Viper, key string, defaultVal time.Duration) (time.Duration, error) {
	val := getString(v, key, "")
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректная длительность: %q (используйте формат Go: 30s, 1h, 720h)", envName(key), val)
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
