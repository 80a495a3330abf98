package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewTestDB는 테스트마다 격리된 in-memory sqlite DB를 열고 마이그레이션합니다.
// 단일 연결만 사용하므로 트랜잭션 콜백 안에서는 트랜잭션 핸들만 사용해야 합니다.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, storage.AutoMigrate(context.Background(), db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// NewTestRepository는 NewTestDB 위에 Repository를 생성합니다.
func NewTestRepository(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(NewTestDB(t))
	require.NoError(t, err)
	return repo
}

// ColumnSpec은 테스트 시트 컬럼 정의를 간단히 표현합니다.
type ColumnSpec struct {
	Title        string
	OperatorType string
	Prompt       string
	Dependencies []int
	Config       string
}

// SeedSheet는 주어진 컬럼으로 시트를 생성합니다.
func SeedSheet(t *testing.T, repo *storage.Repository, userID string, specs ...ColumnSpec) *storage.Sheet {
	t.Helper()

	sheet := &storage.Sheet{
		UserID:       userID,
		Name:         "test sheet",
		SystemPrompt: "sheet prompt",
	}
	columns := make([]storage.Column, 0, len(specs))
	for i, spec := range specs {
		col := storage.Column{
			Position:     i,
			Title:        spec.Title,
			OperatorType: spec.OperatorType,
			Prompt:       spec.Prompt,
			Dependencies: datatypes.JSONSlice[int](spec.Dependencies),
		}
		if col.Title == "" {
			col.Title = fmt.Sprintf("col%d", i)
		}
		if spec.Config != "" {
			col.OperatorConfig = datatypes.JSON(spec.Config)
		}
		columns = append(columns, col)
	}
	require.NoError(t, repo.CreateSheetWithColumns(context.Background(), sheet, columns))
	return sheet
}
