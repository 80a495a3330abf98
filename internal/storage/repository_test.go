package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/cnap-oss/sheetflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const testUser = "user-1"

func threeColumns() []testutil.ColumnSpec {
	return []testutil.ColumnSpec{
		{Title: "Company"},
		{Title: "Website", OperatorType: storage.OperatorGoogleSearch, Dependencies: []int{0}},
		{Title: "Summary", OperatorType: storage.OperatorURLContext, Dependencies: []int{1}},
	}
}

func TestValidateColumns(t *testing.T) {
	tests := []struct {
		name    string
		columns []storage.Column
		wantErr error
	}{
		{
			name:    "empty",
			columns: nil,
			wantErr: storage.ErrNoColumns,
		},
		{
			name: "valid chain",
			columns: []storage.Column{
				{Title: "a", Position: 0},
				{Title: "b", Position: 1, Dependencies: datatypes.JSONSlice[int]{0}},
				{Title: "c", Position: 2, Dependencies: datatypes.JSONSlice[int]{0, 1}},
			},
		},
		{
			name: "self dependency",
			columns: []storage.Column{
				{Title: "a", Position: 0},
				{Title: "b", Position: 1, Dependencies: datatypes.JSONSlice[int]{1}},
			},
			wantErr: storage.ErrInvalidDependency,
		},
		{
			name: "forward dependency",
			columns: []storage.Column{
				{Title: "a", Position: 0, Dependencies: datatypes.JSONSlice[int]{1}},
				{Title: "b", Position: 1},
			},
			wantErr: storage.ErrInvalidDependency,
		},
		{
			name: "negative dependency",
			columns: []storage.Column{
				{Title: "a", Position: 0},
				{Title: "b", Position: 1, Dependencies: datatypes.JSONSlice[int]{-1}},
			},
			wantErr: storage.ErrInvalidDependency,
		},
		{
			name: "gap in positions",
			columns: []storage.Column{
				{Title: "a", Position: 0},
				{Title: "c", Position: 2},
			},
			wantErr: storage.ErrInvalidPosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.ValidateColumns(tt.columns)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateSheetWithColumns(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)
	require.NotEmpty(t, sheet.SheetID)

	got, err := repo.GetSheet(ctx, sheet.SheetID)
	require.NoError(t, err)
	assert.Equal(t, testUser, got.UserID)

	cols, err := repo.ListColumns(ctx, sheet.SheetID)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	for i, c := range cols {
		assert.Equal(t, i, c.Position)
		assert.NotEmpty(t, c.ColumnID)
		assert.Equal(t, storage.DataTypeText, c.DataType)
	}
	assert.Equal(t, []int{1}, []int(cols[2].Dependencies))

	_, err = repo.GetSheet(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrSheetNotFound)
}

func TestCreateSheetWithColumns_RejectsInvalidDependency(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()

	err := repo.CreateSheetWithColumns(ctx, &storage.Sheet{UserID: testUser}, []storage.Column{
		{Title: "a", Position: 0},
		{Title: "b", Position: 1, Dependencies: datatypes.JSONSlice[int]{2}},
		{Title: "c", Position: 2},
	})
	require.ErrorIs(t, err, storage.ErrInvalidDependency)

	sheets, err := repo.ListSheets(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, sheets)
}

func TestCreateSheetWithColumns_UnknownTemplate(t *testing.T) {
	repo := testutil.NewTestRepository(t)

	err := repo.CreateSheetWithColumns(context.Background(),
		&storage.Sheet{UserID: testUser, TemplateID: "nope"},
		[]storage.Column{{Title: "a", Position: 0}})
	require.ErrorIs(t, err, storage.ErrTemplateNotFound)
}

func TestUpsertCell_LastWriteWins(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 0, 0, "first"))
	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 0, 0, "second"))
	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 0, 1, "other"))

	row, err := repo.GetRow(ctx, sheet.SheetID, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "second", 1: "other"}, row)

	cells, err := repo.ListCells(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	assert.Len(t, cells, 2)

	require.ErrorIs(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, -1, 0, "x"), storage.ErrInvalidCellAddress)
}

func TestMaxRowIndexAndRowsWithContent(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	maxRow, err := repo.MaxRowIndex(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	assert.Equal(t, -1, maxRow)

	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 0, 0, "a"))
	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 3, 0, "b"))
	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 5, 0, ""))

	maxRow, err = repo.MaxRowIndex(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	assert.Equal(t, 5, maxRow)

	rows, err := repo.RowsWithContent(ctx, sheet.SheetID, testUser, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, rows)
}

func TestReserveRows_MonotonicAcrossDeletes(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	require.NoError(t, repo.UpsertCell(ctx, sheet.SheetID, testUser, 4, 0, "legacy"))

	first, err := repo.ReserveRows(ctx, sheet.SheetID, testUser, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, first)

	// 예약만 하고 셀을 쓰지 않아도 다음 예약은 겹치지 않는다.
	_, err = repo.DeleteCellsFrom(ctx, sheet.SheetID, testUser, 4, 0)
	require.NoError(t, err)
	next, err := repo.ReserveRows(ctx, sheet.SheetID, testUser, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	other, err := repo.ReserveRows(ctx, sheet.SheetID, "user-2", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, other)

	_, err = repo.ReserveRows(ctx, sheet.SheetID, testUser, 0)
	require.Error(t, err)
}

func TestClaimPending_OrdersAndLimits(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	var ids []string
	for row := 0; row < 4; row++ {
		ev, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
			storage.EventPayload{RowIndex: row, ColIndex: 0, Content: "x"})
		require.NoError(t, err)
		ids = append(ids, ev.EventID)
	}

	claimed, err := repo.ClaimPending(ctx, sheet.SheetID, testUser, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, ev := range claimed {
		assert.Equal(t, ids[i], ev.EventID)
		assert.Equal(t, storage.EventStatusProcessing, ev.Status)
		assert.NotNil(t, ev.ClaimedAt)
		assert.Equal(t, i, ev.Payload.Data().RowIndex)
	}

	rest, err := repo.ClaimPending(ctx, sheet.SheetID, testUser, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[3], rest[0].EventID)

	none, err := repo.ClaimPending(ctx, sheet.SheetID, testUser, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimPending_ConcurrentClaimersNeverShareEvents(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	for row := 0; row < 5; row++ {
		_, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
			storage.EventPayload{RowIndex: row, ColIndex: 0, Content: "x"})
		require.NoError(t, err)
	}

	const claimers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = make(map[string]int)
		errs    []error
		started = make(chan struct{})
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-started
			claimed, err := repo.ClaimPending(ctx, sheet.SheetID, testUser, 10)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			for _, ev := range claimed {
				seen[ev.EventID]++
			}
		}()
	}
	close(started)
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "event %s claimed %d times", id, n)
	}
}

func TestMarkCompletedAndFailed_TerminalIsNoop(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	ev, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
		storage.EventPayload{RowIndex: 0, ColIndex: 0, Content: "x"})
	require.NoError(t, err)

	ok, err := repo.MarkFailed(ctx, ev.EventID, "timeout")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkCompleted(ctx, ev.EventID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, storage.EventStatusFailed, got.Status)
	assert.Equal(t, "timeout", got.LastError)
	assert.NotNil(t, got.ProcessedAt)

	_, err = repo.GetEvent(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrEventNotFound)
}

func TestCompleteWithUpdate_SkipsCancelledEvent(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	ev, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
		storage.EventPayload{RowIndex: 0, ColIndex: 0, Content: "x"})
	require.NoError(t, err)
	_, err = repo.ClaimPending(ctx, sheet.SheetID, testUser, 10)
	require.NoError(t, err)

	n, err := repo.CancelEventsFrom(ctx, sheet.SheetID, testUser, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := repo.CompleteWithUpdate(ctx, ev.EventID, &storage.SheetUpdate{
		SheetID: sheet.SheetID, UserID: testUser, RowIndex: 0, ColIndex: 1,
		Content: "late", UpdateType: storage.UpdateTypeAIResponse,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := repo.ListUnappliedUpdates(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := repo.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, storage.EventStatusCancelled, got.Status)
}

func TestMarkUpdateApplied_OnlyOnce(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	update := &storage.SheetUpdate{
		SheetID: sheet.SheetID, UserID: testUser, RowIndex: 0, ColIndex: 1,
		Content: "v", UpdateType: storage.UpdateTypeAIResponse,
	}
	require.NoError(t, repo.CreateSheetUpdate(ctx, update))
	require.NotEmpty(t, update.UpdateID)

	ok, err := repo.MarkUpdateApplied(ctx, update.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkUpdateApplied(ctx, update.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := repo.ListUnappliedUpdates(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDiscardUpdatesFrom(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	for col := 1; col <= 2; col++ {
		require.NoError(t, repo.CreateSheetUpdate(ctx, &storage.SheetUpdate{
			SheetID: sheet.SheetID, UserID: testUser, RowIndex: 0, ColIndex: col,
			Content: "v", UpdateType: storage.UpdateTypeAIResponse,
		}))
	}

	n, err := repo.DiscardUpdatesFrom(ctx, sheet.SheetID, testUser, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := repo.ListUnappliedUpdates(ctx, sheet.SheetID, testUser)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].ColIndex)

	ok, err := repo.MarkUpdateApplied(ctx, pending[0].ID+1)
	require.NoError(t, err)
	assert.False(t, ok, "discarded update must not be applied")
}

func TestRequeueEvent(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	ev, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
		storage.EventPayload{RowIndex: 2, ColIndex: 1, Content: "seed"})
	require.NoError(t, err)

	_, err = repo.RequeueEvent(ctx, ev.EventID)
	require.ErrorIs(t, err, storage.ErrEventNotRetryable)

	_, err = repo.MarkFailed(ctx, ev.EventID, "boom")
	require.NoError(t, err)

	retry, err := repo.RequeueEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.NotEqual(t, ev.EventID, retry.EventID)
	assert.Equal(t, storage.EventStatusPending, retry.Status)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Equal(t, ev.EventID, retry.RetryOf)
	assert.Equal(t, ev.Payload.Data(), retry.Payload.Data())

	orig, err := repo.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, storage.EventStatusFailed, orig.Status)
}

func TestFailStaleEvents(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	sheet := testutil.SeedSheet(t, repo, testUser, threeColumns()...)

	ev, err := repo.EnqueueEvent(ctx, sheet.SheetID, testUser, storage.EventTypeUserCellEdit,
		storage.EventPayload{RowIndex: 0, ColIndex: 0, Content: "x"})
	require.NoError(t, err)
	_, err = repo.ClaimPending(ctx, sheet.SheetID, testUser, 10)
	require.NoError(t, err)

	n, err := repo.FailStaleEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.DB().Model(&storage.Event{}).
		Where("event_id = ?", ev.EventID).
		Update("claimed_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	n, err = repo.FailStaleEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetEvent(ctx, ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, storage.EventStatusFailed, got.Status)
	assert.Equal(t, storage.LastErrorLeaseExpired, got.LastError)
}

func TestListEventsAndPendingSheets(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	ctx := context.Background()
	a := testutil.SeedSheet(t, repo, testUser, threeColumns()...)
	b := testutil.SeedSheet(t, repo, "user-2", threeColumns()...)

	for row := 0; row < 3; row++ {
		_, err := repo.EnqueueEvent(ctx, a.SheetID, testUser, storage.EventTypeUserCellEdit,
			storage.EventPayload{RowIndex: row, ColIndex: 0})
		require.NoError(t, err)
	}
	_, err := repo.EnqueueEvent(ctx, b.SheetID, "user-2", storage.EventTypeUserCellEdit,
		storage.EventPayload{RowIndex: 0, ColIndex: 0})
	require.NoError(t, err)

	newest, err := repo.ListEvents(ctx, a.SheetID, testUser, 2, true)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, 2, newest[0].RowIndex)

	oldest, err := repo.ListEvents(ctx, a.SheetID, "", 0, false)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.Equal(t, 0, oldest[0].RowIndex)

	refs, err := repo.SheetsWithPendingEvents(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []storage.SheetRef{
		{SheetID: a.SheetID, UserID: testUser},
		{SheetID: b.SheetID, UserID: "user-2"},
	}, refs)

	counts, err := repo.CountEventsByStatus(ctx, a.SheetID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[storage.EventStatusPending])
}
