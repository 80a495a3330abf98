package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 애플리케이션의 모든 설정을 관리합니다.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Updater   UpdaterConfig   `yaml:"updater"`
	Operator  OperatorConfig  `yaml:"operator"`
	Directory DirectoryConfig `yaml:"directory"`
}

// AppConfig는 애플리케이션 기본 설정입니다.
type AppConfig struct {
	// ENV는 실행 환경입니다 (development, production)
	ENV string `yaml:"env"`
	// LogLevel은 애플리케이션 로그 레벨입니다 (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig는 데이터베이스 설정입니다.
type DatabaseConfig struct {
	// DSN은 데이터베이스 연결 문자열입니다 (postgres URL 또는 sqlite 파일 경로)
	DSN string `yaml:"dsn"`
	// LogLevel은 GORM 로그 레벨입니다
	LogLevel gormlogger.LogLevel `yaml:"log_level"`
	// MaxIdleConns는 연결 풀의 idle 연결 개수입니다
	MaxIdleConns int `yaml:"max_idle_conns"`
	// MaxOpenConns는 연결 풀의 최대 연결 개수입니다
	MaxOpenConns int `yaml:"max_open_conns"`
	// ConnMaxLifetime은 연결의 최대 수명입니다
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// SkipDefaultTxn은 기본 트랜잭션을 스킵할지 여부입니다
	SkipDefaultTxn bool `yaml:"skip_default_txn"`
	// PrepareStmt는 prepared statement 캐시를 사용할지 여부입니다
	PrepareStmt bool `yaml:"prepare_stmt"`
	// OpenRetries는 시작 시 DB 연결 재시도 횟수입니다
	OpenRetries int `yaml:"open_retries"`
}

// ServerConfig는 HTTP 트리거 서버 설정입니다.
type ServerConfig struct {
	// Addr은 listen 주소입니다
	Addr string `yaml:"addr"`
	// APIKeys는 REST API 키와 사용자 ID의 매핑입니다
	APIKeys map[string]string `yaml:"api_keys"`
	// ShutdownTimeout은 graceful shutdown 제한 시간입니다
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// 처리 중 이벤트는 tick 제한 시간보다 오래 지나야 만료 처리됩니다.
const (
	DefaultTickTimeout = 2 * time.Minute
	DefaultStaleAfter  = 10 * time.Minute
)

// UpdaterConfig는 SheetUpdater tick 설정입니다.
type UpdaterConfig struct {
	// TickInterval은 pending 이벤트 폴링 주기입니다
	TickInterval time.Duration `yaml:"tick_interval"`
	// BatchSize는 tick 당 claim 할 최대 이벤트 수입니다
	BatchSize int `yaml:"batch_size"`
	// TickTimeout은 tick 한 번의 최대 실행 시간입니다
	TickTimeout time.Duration `yaml:"tick_timeout"`
	// StaleAfter는 processing 상태 이벤트를 만료 처리하기까지의 시간입니다
	StaleAfter time.Duration `yaml:"stale_after"`
	// RobotsMode가 켜져 있으면 AI 결과 적용이 다음 컬럼 이벤트를 생성합니다
	RobotsMode bool `yaml:"robots_mode"`
	// MaxConcurrentSheets는 동시에 처리할 시트 수 상한입니다
	MaxConcurrentSheets int `yaml:"max_concurrent_sheets"`
	// MaxConcurrentDispatch는 tick 내부 operator 동시 호출 수 상한입니다
	MaxConcurrentDispatch int `yaml:"max_concurrent_dispatch"`
}

// OperatorConfig는 AI operator 호출 설정입니다.
type OperatorConfig struct {
	// BaseURL은 generateContent API 기본 URL입니다
	BaseURL string `yaml:"base_url"`
	// APIKey는 모델 API 키입니다
	APIKey string `yaml:"api_key"`
	// Model은 기본 모델 이름입니다
	Model string `yaml:"model"`
	// Timeout은 operator 호출 제한 시간입니다
	Timeout time.Duration `yaml:"timeout"`
}

// DirectoryConfig는 디렉토리 경로 설정입니다.
type DirectoryConfig struct {
	// DataDir은 기본 데이터 디렉토리입니다 (환경 변수 SHEETFLOW_DIR로만 설정 가능, 기본값: $HOME/.sheetflow)
	DataDir string `yaml:"-"`
	// SQLiteDatabase는 SQLite 데이터베이스 파일 경로입니다
	SQLiteDatabase string `yaml:"sqlite_database"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// InitConfig는 설정을 초기화합니다.
// configPath가 비어있으면 ${SHEETFLOW_DIR}/config.yaml에서 로드를 시도하고, 파일이 없으면 환경 변수에서 로드합니다.
// 파일에서 로드한 후 환경 변수로 오버라이드됩니다.
func InitConfig(configPath string) error {
	var err error
	once.Do(func() {
		// .env 파일은 선택 사항
		_ = godotenv.Load()

		if configPath == "" {
			configPath = filepath.Join(getDataDir(), "config.yaml")
		}

		var cfg *Config
		if _, statErr := os.Stat(configPath); statErr == nil {
			cfg, err = LoadConfigFromFile(configPath)
		} else {
			cfg, err = LoadConfigFromEnv()
		}

		mu.Lock()
		instance = cfg
		mu.Unlock()
	})
	return err
}

// GetConfig는 싱글톤 Config 인스턴스를 반환합니다.
// InitConfig가 호출되지 않았다면 환경 변수에서 로드합니다.
func GetConfig() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg == nil {
		_ = InitConfig("")
		mu.RLock()
		cfg = instance
		mu.RUnlock()
	}
	return cfg
}

// LoadConfigFromFile은 YAML 파일에서 설정을 로드합니다.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// YAML에서 로드한 후 환경 변수로 오버라이드
	return mergeWithEnv(cfg), nil
}

// LoadConfigFromEnv는 환경 변수(및 기본값)에서 설정을 로드합니다.
func LoadConfigFromEnv() (*Config, error) {
	return &Config{
		App:       loadAppConfig(),
		Database:  loadDatabaseConfig(),
		Server:    loadServerConfig(),
		Updater:   loadUpdaterConfig(),
		Operator:  loadOperatorConfig(),
		Directory: loadDirectoryConfig(),
	}, nil
}

// mergeWithEnv는 YAML 설정을 환경 변수로 오버라이드합니다.
func mergeWithEnv(cfg *Config) *Config {
	// App
	if env := os.Getenv("SHEETFLOW_ENV"); env != "" {
		cfg.App.ENV = env
	}
	if logLevel := os.Getenv("SHEETFLOW_LOG_LEVEL"); logLevel != "" {
		cfg.App.LogLevel = logLevel
	}

	// Database
	if dsn := os.Getenv("SHEETFLOW_DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if logLevel := os.Getenv("SHEETFLOW_DB_LOG_LEVEL"); logLevel != "" {
		cfg.Database.LogLevel = parseLogLevel(logLevel)
	}
	if maxOpen := os.Getenv("SHEETFLOW_DB_MAX_OPEN"); maxOpen != "" {
		cfg.Database.MaxOpenConns = parseIntWithDefault(maxOpen, cfg.Database.MaxOpenConns)
	}

	// Server
	if addr := os.Getenv("SHEETFLOW_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if keys := os.Getenv("SHEETFLOW_API_KEYS"); keys != "" {
		cfg.Server.APIKeys = parseAPIKeys(keys)
	}

	// Updater
	if interval := os.Getenv("SHEETFLOW_TICK_INTERVAL"); interval != "" {
		cfg.Updater.TickInterval = parseDurationWithDefault(interval, cfg.Updater.TickInterval)
	}
	if batch := os.Getenv("SHEETFLOW_BATCH_SIZE"); batch != "" {
		cfg.Updater.BatchSize = parseIntWithDefault(batch, cfg.Updater.BatchSize)
	}
	if timeout := os.Getenv("SHEETFLOW_TICK_TIMEOUT"); timeout != "" {
		cfg.Updater.TickTimeout = parseDurationWithDefault(timeout, cfg.Updater.TickTimeout)
	}
	if stale := os.Getenv("SHEETFLOW_STALE_AFTER"); stale != "" {
		cfg.Updater.StaleAfter = parseDurationWithDefault(stale, cfg.Updater.StaleAfter)
	}
	if sheets := os.Getenv("SHEETFLOW_MAX_CONCURRENT_SHEETS"); sheets != "" {
		cfg.Updater.MaxConcurrentSheets = parseIntWithDefault(sheets, cfg.Updater.MaxConcurrentSheets)
	}
	if dispatch := os.Getenv("SHEETFLOW_MAX_CONCURRENT_DISPATCH"); dispatch != "" {
		cfg.Updater.MaxConcurrentDispatch = parseIntWithDefault(dispatch, cfg.Updater.MaxConcurrentDispatch)
	}
	if robots, ok := lookupEnvBool("SHEETFLOW_ROBOTS_MODE"); ok {
		cfg.Updater.RobotsMode = robots
	}

	// Operator
	if baseURL := os.Getenv("SHEETFLOW_OPERATOR_BASE_URL"); baseURL != "" {
		cfg.Operator.BaseURL = baseURL
	}
	if apiKey := os.Getenv("SHEETFLOW_OPERATOR_API_KEY"); apiKey != "" {
		cfg.Operator.APIKey = apiKey
	}
	if model := os.Getenv("SHEETFLOW_OPERATOR_MODEL"); model != "" {
		cfg.Operator.Model = model
	}

	// Directory
	if dataDir := os.Getenv("SHEETFLOW_DIR"); dataDir != "" {
		cfg.Directory.DataDir = dataDir
	}
	if sqliteDB := os.Getenv("SHEETFLOW_SQLITE_DATABASE"); sqliteDB != "" {
		cfg.Directory.SQLiteDatabase = sqliteDB
	}

	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		ENV:      getEnvOrDefault("SHEETFLOW_ENV", "production"),
		LogLevel: getEnvOrDefault("SHEETFLOW_LOG_LEVEL", "info"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	dsn := os.Getenv("SHEETFLOW_DATABASE_URL")
	if dsn == "" {
		// SHEETFLOW_DATABASE_URL이 없으면 SQLite 기본값 사용 (로컬 개발용)
		sqliteDB := os.Getenv("SHEETFLOW_SQLITE_DATABASE")
		if sqliteDB == "" {
			sqliteDB = filepath.Join(getDataDir(), "sheetflow.db")
		}
		dsn = sqliteDB
	}

	return DatabaseConfig{
		DSN:             dsn,
		LogLevel:        parseLogLevel(os.Getenv("SHEETFLOW_DB_LOG_LEVEL")),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("SHEETFLOW_DB_MAX_IDLE"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("SHEETFLOW_DB_MAX_OPEN"), 20),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("SHEETFLOW_DB_CONN_LIFETIME"), 30*time.Minute),
		SkipDefaultTxn:  parseBoolWithDefault(os.Getenv("SHEETFLOW_DB_SKIP_DEFAULT_TXN"), true),
		PrepareStmt:     parseBoolWithDefault(os.Getenv("SHEETFLOW_DB_PREPARE_STMT"), false),
		OpenRetries:     parseIntWithDefault(os.Getenv("SHEETFLOW_DB_OPEN_RETRIES"), 3),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            getEnvOrDefault("SHEETFLOW_SERVER_ADDR", ":8080"),
		APIKeys:         parseAPIKeys(os.Getenv("SHEETFLOW_API_KEYS")),
		ShutdownTimeout: parseDurationWithDefault(os.Getenv("SHEETFLOW_SHUTDOWN_TIMEOUT"), 30*time.Second),
	}
}

func loadUpdaterConfig() UpdaterConfig {
	cfg := UpdaterConfig{
		TickInterval:          parseDurationWithDefault(os.Getenv("SHEETFLOW_TICK_INTERVAL"), 5*time.Second),
		BatchSize:             parseIntWithDefault(os.Getenv("SHEETFLOW_BATCH_SIZE"), 10),
		TickTimeout:           parseDurationWithDefault(os.Getenv("SHEETFLOW_TICK_TIMEOUT"), DefaultTickTimeout),
		StaleAfter:            parseDurationWithDefault(os.Getenv("SHEETFLOW_STALE_AFTER"), DefaultStaleAfter),
		RobotsMode:            true,
		MaxConcurrentSheets:   parseIntWithDefault(os.Getenv("SHEETFLOW_MAX_CONCURRENT_SHEETS"), 8),
		MaxConcurrentDispatch: parseIntWithDefault(os.Getenv("SHEETFLOW_MAX_CONCURRENT_DISPATCH"), 4),
	}
	if v, ok := lookupEnvBool("SHEETFLOW_ROBOTS_MODE"); ok {
		cfg.RobotsMode = v
	}
	return cfg
}

func loadOperatorConfig() OperatorConfig {
	return OperatorConfig{
		BaseURL: getEnvOrDefault("SHEETFLOW_OPERATOR_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		APIKey:  os.Getenv("SHEETFLOW_OPERATOR_API_KEY"),
		Model:   getEnvOrDefault("SHEETFLOW_OPERATOR_MODEL", "gemini-2.5-flash"),
		Timeout: parseDurationWithDefault(os.Getenv("SHEETFLOW_OPERATOR_TIMEOUT"), 90*time.Second),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		DataDir:        getDataDir(),
		SQLiteDatabase: os.Getenv("SHEETFLOW_SQLITE_DATABASE"),
	}
}

// getDataDir은 SHEETFLOW_DIR 환경 변수를 반환하거나 기본값을 계산합니다.
func getDataDir() string {
	if dir := os.Getenv("SHEETFLOW_DIR"); dir != "" {
		return dir
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".sheetflow")
	}

	// Fallback: ./data
	return "./data"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(value string) gormlogger.LogLevel {
	switch strings.ToLower(value) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// parseAPIKeys는 "key1:user1,key2:user2" 형식을 파싱합니다.
func parseAPIKeys(value string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		key, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || key == "" || user == "" {
			continue
		}
		keys[key] = user
	}
	return keys
}

func parseIntWithDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseBoolWithDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func lookupEnvBool(key string) (bool, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// Validate는 필수 설정 값들을 검증합니다.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("SHEETFLOW_DATABASE_URL is required")
	}
	if c.Updater.BatchSize <= 0 {
		return fmt.Errorf("updater.batch_size must be positive")
	}
	if c.Updater.TickInterval <= 0 {
		return fmt.Errorf("updater.tick_interval must be positive")
	}
	if c.Updater.TickTimeout < 0 || c.Updater.StaleAfter < 0 {
		return fmt.Errorf("updater.tick_timeout and updater.stale_after must not be negative")
	}
	// 0은 기본값을 뜻하므로 실제로 적용될 값끼리 비교한다
	tickTimeout := durationOrDefault(c.Updater.TickTimeout, DefaultTickTimeout)
	staleAfter := durationOrDefault(c.Updater.StaleAfter, DefaultStaleAfter)
	if staleAfter <= tickTimeout {
		return fmt.Errorf("updater.stale_after (%s) must be greater than updater.tick_timeout (%s)", staleAfter, tickTimeout)
	}
	return nil
}

func durationOrDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// UserForAPIKey는 API 키에 매핑된 사용자 ID를 반환합니다.
func (c ServerConfig) UserForAPIKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	user, ok := c.APIKeys[key]
	return user, ok && user != ""
}
