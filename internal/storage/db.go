package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const dialectPostgres = "postgres"

// Open은 설정에 맞는 드라이버로 gorm DB를 엽니다.
// postgres DSN이 아니면 sqlite 파일 경로로 취급합니다.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: empty dsn")
	}

	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		dialector = postgres.Open(cfg.DSN)
	} else {
		if err := common.EnsureDataDir(cfg.DSN); err != nil {
			return nil, fmt.Errorf("storage: prepare data dir: %w", err)
		}
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(cfg.LogLevel),
		SkipDefaultTransaction: cfg.SkipDefaultTxn,
		PrepareStmt:            cfg.PrepareStmt,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: sql handle: %w", err)
	}
	if cfg.IsPostgres() {
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	} else {
		// sqlite는 단일 writer
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// OpenWithRetry는 시작 시 DB 연결을 지수 백오프로 재시도합니다.
func OpenWithRetry(ctx context.Context, cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	retryCfg := common.DefaultRetryConfig()
	if cfg.OpenRetries >= 0 {
		retryCfg.MaxRetries = cfg.OpenRetries
	}
	retrier := common.NewRetrier(logger, nil, retryCfg)

	var db *gorm.DB
	err := retrier.Do(ctx, "storage.Open", func() error {
		opened, err := Open(cfg)
		if err != nil {
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("storage: ping: %w", err)
		}
		db = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close는 내부 sql.DB를 닫습니다.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate는 모든 테이블 스키마를 생성/갱신합니다.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("storage: nil db")
	}
	return db.WithContext(ctx).AutoMigrate(
		&Template{},
		&Sheet{},
		&Column{},
		&Cell{},
		&RowCounter{},
		&Event{},
		&SheetUpdate{},
	)
}

func isPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == dialectPostgres
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}
