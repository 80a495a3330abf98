package storage

import (
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 GORM 데이터베이스 설정 값을 보관합니다.
type Config struct {
	DSN             string
	LogLevel        gormlogger.LogLevel
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	SkipDefaultTxn  bool
	PrepareStmt     bool
	OpenRetries     int
}

// ConfigFrom은 common.DatabaseConfig에서 Config를 구성합니다.
func ConfigFrom(cfg common.DatabaseConfig) Config {
	return Config{
		DSN:             cfg.DSN,
		LogLevel:        cfg.LogLevel,
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		SkipDefaultTxn:  cfg.SkipDefaultTxn,
		PrepareStmt:     cfg.PrepareStmt,
		OpenRetries:     cfg.OpenRetries,
	}
}

// ConfigFromEnv는 중앙화된 설정에서 Config를 구성합니다.
func ConfigFromEnv() Config {
	return ConfigFrom(common.GetConfig().Database)
}

// IsPostgres는 DSN이 postgres를 가리키는지 반환합니다.
func (c Config) IsPostgres() bool {
	return common.IsPostgresDSN(c.DSN)
}
