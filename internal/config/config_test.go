package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setMinimalEnv устанавливает минимальный набор переменных для sqlite-конфигурации.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SM_DB_DRIVER", "sqlite")
	t.Setenv("SM_SQLITE_PATH", filepath.Join(t.TempDir(), "share.db"))
}

func loadFromEnv(t *testing.T) (*Config, error) {
	t.Helper()
	v, err := NewViper("", "")
	if err != nil {
		t.Fatalf("NewViper() ошибка: %v", err)
	}
	return Load(v)
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadFromEnv(t)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидался 8080", cfg.Port)
	}
	if cfg.MaxFileSize != 100*1024*1024 {
		t.Errorf("MaxFileSize = %d, ожидался 100 MiB", cfg.MaxFileSize)
	}
	if cfg.PurgeRetention != 720*time.Hour {
		t.Errorf("PurgeRetention = %s, ожидалось 720h", cfg.PurgeRetention)
	}
	if cfg.ReconcileInterval != time.Hour {
		t.Errorf("ReconcileInterval = %s, ожидался 1h", cfg.ReconcileInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидался info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидался json", cfg.LogFormat)
	}
	if cfg.AdminEnabled() {
		t.Error("AdminEnabled() = true без настроенной аутентификации")
	}
}

// TestLoad_PostgresRequiresPassword проверяет обязательность пароля БД.
func TestLoad_PostgresRequiresPassword(t *testing.T) {
	t.Setenv("SM_DB_DRIVER", "postgres")
	t.Setenv("SM_DB_PASSWORD", "")

	_, err := loadFromEnv(t)
	if err == nil {
		t.Fatal("ожидалась ошибка без SM_DB_PASSWORD")
	}
	if !strings.Contains(err.Error(), "SM_DB_PASSWORD") {
		t.Errorf("ошибка должна упоминать SM_DB_PASSWORD: %v", err)
	}
}

// TestLoad_InvalidValues проверяет валидацию некорректных значений.
func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт вне диапазона", "SM_PORT", "70000"},
		{"порт не число", "SM_PORT", "abc"},
		{"размер файла отрицательный", "SM_MAX_FILE_SIZE", "-1"},
		{"некорректная длительность", "SM_CACHE_TTL", "10 минут"},
		{"недопустимый драйвер", "SM_DB_DRIVER", "mysql"},
		{"недопустимый уровень логов", "SM_LOG_LEVEL", "verbose"},
		{"недопустимый формат логов", "SM_LOG_FORMAT", "xml"},
		{"стоимость bcrypt", "SM_BCRYPT_COST", "2"},
		{"хэш администратора не bcrypt", "SM_ADMIN_PASSWORD_HASH", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(tt.key, tt.val)

			if _, err := loadFromEnv(t); err == nil {
				t.Errorf("%s=%q: ожидалась ошибка", tt.key, tt.val)
			}
		})
	}
}

// TestLoad_SQLiteInsideDataDir проверяет запрет базы SQLite внутри директории blob-ов.
func TestLoad_SQLiteInsideDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SM_DB_DRIVER", "sqlite")
	t.Setenv("SM_DATA_DIR", dir)
	t.Setenv("SM_SQLITE_PATH", filepath.Join(dir, "share.db"))

	if _, err := loadFromEnv(t); err == nil {
		t.Fatal("ожидалась ошибка для базы внутри SM_DATA_DIR")
	}

	t.Setenv("SM_SQLITE_PATH", filepath.Join(t.TempDir(), "share.db"))
	if _, err := loadFromEnv(t); err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
}

// TestLoad_AdminSecretLength проверяет требование к длине секрета токенов.
func TestLoad_AdminSecretLength(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SM_ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SM_ADMIN_TOKEN_SECRET", "short")

	if _, err := loadFromEnv(t); err == nil {
		t.Fatal("ожидалась ошибка для короткого секрета")
	}

	t.Setenv("SM_ADMIN_TOKEN_SECRET", strings.Repeat("s", 32))
	cfg, err := loadFromEnv(t)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if !cfg.AdminEnabled() {
		t.Error("AdminEnabled() = false при заданном хэше")
	}
}

func TestLoad_JWKSRequiresIssuer(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SM_ADMIN_JWKS_URL", "https://idp.test/jwks")

	if _, err := loadFromEnv(t); err == nil {
		t.Fatal("ожидалась ошибка: JWKS без SM_ADMIN_JWT_ISSUER")
	}

	t.Setenv("SM_ADMIN_JWT_ISSUER", "https://idp.test")
	t.Setenv("SM_ADMIN_JWT_AUDIENCE", "share-module")
	cfg, err := loadFromEnv(t)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.AdminJWTIssuer != "https://idp.test" || cfg.AdminJWTAudience != "share-module" {
		t.Errorf("issuer/audience = %q/%q", cfg.AdminJWTIssuer, cfg.AdminJWTAudience)
	}
}

// TestLoad_DephealthGroupFromFile проверяет, что группа из YAML-файла
// считается заданной.
func TestLoad_DephealthGroupFromFile(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SM_DEPHEALTH_GROUP", "")

	cfg, err := loadFromEnv(t)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if !cfg.DephealthGroupDefaulted || cfg.DephealthGroup != "share-module" {
		t.Errorf("без настройки: group = %q, defaulted = %v", cfg.DephealthGroup, cfg.DephealthGroupDefaulted)
	}

	path := filepath.Join(t.TempDir(), "share.yaml")
	if err := os.WriteFile(path, []byte("dephealth_group: storage-team\n"), 0o600); err != nil {
		t.Fatalf("ошибка записи конфигурации: %v", err)
	}
	v, err := NewViper(path, "")
	if err != nil {
		t.Fatalf("NewViper() ошибка: %v", err)
	}
	cfg, err = Load(v)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.DephealthGroupDefaulted || cfg.DephealthGroup != "storage-team" {
		t.Errorf("из файла: group = %q, defaulted = %v", cfg.DephealthGroup, cfg.DephealthGroupDefaulted)
	}
}

// TestNewViper_ConfigFile проверяет чтение YAML-файла и приоритет окружения.
func TestNewViper_ConfigFile(t *testing.T) {
	setMinimalEnv(t)

	path := filepath.Join(t.TempDir(), "share.yaml")
	content := "port: 9090\nlog_format: text\ncache_size: 64\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("ошибка записи конфигурации: %v", err)
	}
	t.Setenv("SM_CACHE_SIZE", "128")

	v, err := NewViper(path, "")
	if err != nil {
		t.Fatalf("NewViper() ошибка: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, ожидался 9090 из файла", cfg.Port)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидался text из файла", cfg.LogFormat)
	}
	if cfg.CacheSize != 128 {
		t.Errorf("CacheSize = %d, переменная окружения должна перекрывать файл", cfg.CacheSize)
	}
}

// TestNewViper_EnvFile проверяет загрузку .env файла.
func TestNewViper_EnvFile(t *testing.T) {
	setMinimalEnv(t)

	const key = "SM_DEPHEALTH_GROUP"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("ошибка записи .env: %v", err)
	}

	v, err := NewViper("", envFile)
	if err != nil {
		t.Fatalf("NewViper() ошибка: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.DephealthGroup != "from-dotenv" {
		t.Errorf("DephealthGroup = %q, ожидался from-dotenv", cfg.DephealthGroup)
	}

	// Отсутствующий .env не ошибка
	if _, err := NewViper("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("отсутствующий .env не должен давать ошибку: %v", err)
	}
}

// TestDatabaseURL проверяет экранирование учётных данных в URL.
func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5432, DBName: "share",
		DBUser: "share", DBPassword: "p@ss/word", DBSSLMode: "disable",
	}

	got := cfg.DatabaseURL("pgx5")
	want := "pgx5://share:p%40ss%2Fword@db:5432/share?sslmode=disable"
	if got != want {
		t.Errorf("DatabaseURL() = %q, ожидался %q", got, want)
	}
}

// TestSetupLogger_Format проверяет выбор обработчика slog.
func TestSetupLogger_Format(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setupLogger(&Config{LogLevel: slog.LevelInfo, LogFormat: "json"}, &buf)
	logger.Info("проверка", slog.String("component", "test"))

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("ожидался JSON, получено %q", buf.String())
	}

	buf.Reset()
	logger = setupLogger(&Config{LogLevel: slog.LevelWarn, LogFormat: "text"}, &buf)
	logger.Info("не должно попасть в вывод")
	if buf.Len() != 0 {
		t.Errorf("info не должен логироваться при уровне warn: %q", buf.String())
	}
}
