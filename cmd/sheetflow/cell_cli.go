package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/spf13/cobra"
)

func (a *cli) buildCellCommands() *cobra.Command {
	var userID string
	cellCmd := &cobra.Command{
		Use:   "cell",
		Short: "셀 편집 명령어",
		Long:  "셀 편집, 범위 초기화, 재처리 및 이벤트 조회 기능을 제공합니다.",
	}
	cellCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "사용자 ID")
	_ = cellCmd.MarkPersistentFlagRequired("user")

	// cell set
	cellSetCmd := &cobra.Command{
		Use:   "set <sheet-id> <row> <col> <content>",
		Short: "셀 값 설정",
		Long:  "셀 값을 설정하고 다음 컬럼 처리를 위한 이벤트를 생성합니다.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col, err := parseCellAddress(args[1], args[2])
			if err != nil {
				return err
			}
			return a.runCellSet(args[0], userID, row, col, args[3])
		},
	}

	// cell clear
	cellClearCmd := &cobra.Command{
		Use:   "clear <sheet-id> <row> <from-col>",
		Short: "행 범위 초기화",
		Long:  "from-col 부터 오른쪽 셀을 지우고 해당 범위의 대기 중인 처리를 취소합니다.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col, err := parseCellAddress(args[1], args[2])
			if err != nil {
				return err
			}
			return a.runCellClear(args[0], userID, row, col)
		},
	}

	// cell reprocess-row
	cellReprocessRowCmd := &cobra.Command{
		Use:   "reprocess-row <sheet-id> <row> <from-col>",
		Short: "행 재처리",
		Long:  "from-col 의 값을 기준으로 오른쪽 컬럼을 다시 생성합니다.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col, err := parseCellAddress(args[1], args[2])
			if err != nil {
				return err
			}
			return a.runReprocess(func(ctx context.Context, ctrl *controller.Controller) (*controller.ReprocessResult, error) {
				return ctrl.ReprocessRow(ctx, args[0], userID, row, col)
			})
		},
	}

	// cell reprocess-column
	cellReprocessColumnCmd := &cobra.Command{
		Use:   "reprocess-column <sheet-id> <col>",
		Short: "컬럼 재처리",
		Long:  "모든 행에서 해당 컬럼과 그 오른쪽을 다시 생성합니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("잘못된 컬럼 인덱스: %q", args[1])
			}
			return a.runReprocess(func(ctx context.Context, ctrl *controller.Controller) (*controller.ReprocessResult, error) {
				return ctrl.ReprocessColumn(ctx, args[0], userID, col)
			})
		},
	}

	// cell retry
	cellRetryCmd := &cobra.Command{
		Use:   "retry <event-id>",
		Short: "실패한 이벤트 재시도",
		Long:  "failed 또는 cancelled 이벤트를 새 pending 이벤트로 다시 등록합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCellRetry(userID, args[0])
		},
	}

	// cell events
	var limit int
	var oldest bool
	cellEventsCmd := &cobra.Command{
		Use:   "events <sheet-id>",
		Short: "이벤트 목록 조회",
		Long:  "시트의 이벤트 목록을 조회합니다. 기본은 최신순입니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCellEvents(args[0], userID, limit, !oldest)
		},
	}
	cellEventsCmd.Flags().IntVarP(&limit, "limit", "n", storage.DefaultEventLimit, "최대 조회 개수")
	cellEventsCmd.Flags().BoolVar(&oldest, "oldest", false, "오래된 순으로 정렬")

	cellCmd.AddCommand(cellSetCmd)
	cellCmd.AddCommand(cellClearCmd)
	cellCmd.AddCommand(cellReprocessRowCmd)
	cellCmd.AddCommand(cellReprocessColumnCmd)
	cellCmd.AddCommand(cellRetryCmd)
	cellCmd.AddCommand(cellEventsCmd)

	return cellCmd
}

func (a *cli) buildTickCommand() *cobra.Command {
	var userID string
	tickCmd := &cobra.Command{
		Use:   "tick [sheet-id]",
		Short: "대기 중인 이벤트 즉시 처리",
		Long:  "sheet-id 가 주어지면 해당 시트를, 없으면 pending 이벤트가 있는 모든 시트를 한 번 처리합니다.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.runTickAll()
			}
			if userID == "" {
				return fmt.Errorf("--user 는 시트 지정 시 필수입니다")
			}
			return a.runTickSheet(args[0], userID)
		},
	}
	tickCmd.Flags().StringVarP(&userID, "user", "u", "", "사용자 ID")
	return tickCmd
}

func parseCellAddress(rawRow, rawCol string) (int, int, error) {
	row, err := strconv.Atoi(rawRow)
	if err != nil {
		return 0, 0, fmt.Errorf("잘못된 행 인덱스: %q", rawRow)
	}
	col, err := strconv.Atoi(rawCol)
	if err != nil {
		return 0, 0, fmt.Errorf("잘못된 컬럼 인덱스: %q", rawCol)
	}
	return row, col, nil
}

func (a *cli) runCellSet(sheetID, userID string, row, col int, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	res, err := ctrl.UpdateCell(ctx, controller.UpdateCellRequest{
		SheetID:  sheetID,
		UserID:   userID,
		RowIndex: row,
		ColIndex: col,
		Content:  content,
	})
	if err != nil {
		return fmt.Errorf("셀 설정 실패: %w", err)
	}

	fmt.Printf("✓ (%d, %d) 설정 완료\n", res.RowIndex, res.ColIndex)
	if res.EventID != "" {
		fmt.Printf("  이벤트: %s\n", res.EventID)
	}
	if res.Cancelled > 0 || res.Discarded > 0 {
		fmt.Printf("  취소된 이벤트 %d개, 폐기된 업데이트 %d개\n", res.Cancelled, res.Discarded)
	}
	return nil
}

func (a *cli) runCellClear(sheetID, userID string, row, fromCol int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	res, err := ctrl.ClearRange(ctx, sheetID, userID, row, fromCol)
	if err != nil {
		return fmt.Errorf("범위 초기화 실패: %w", err)
	}

	fmt.Printf("✓ 셀 %d개 삭제, 이벤트 %d개 취소, 업데이트 %d개 폐기\n",
		res.DeletedCells, res.CancelledEvents, res.DiscardedUpdate)
	return nil
}

func (a *cli) runReprocess(fn func(context.Context, *controller.Controller) (*controller.ReprocessResult, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	res, err := fn(ctx, ctrl)
	if err != nil {
		return fmt.Errorf("재처리 실패: %w", err)
	}

	fmt.Printf("✓ 이벤트 %d개 생성 (셀 %d개 삭제, 이벤트 %d개 취소)\n",
		len(res.EventIDs), res.Cleared.DeletedCells, res.Cleared.CancelledEvents)
	return nil
}

func (a *cli) runCellRetry(userID, eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	ev, err := ctrl.RetryEvent(ctx, userID, eventID)
	if err != nil {
		return fmt.Errorf("재시도 실패: %w", err)
	}

	fmt.Printf("✓ 이벤트 재등록 완료 (ID: %s, 재시도 %d회)\n", ev.EventID, ev.RetryCount)
	return nil
}

func (a *cli) runCellEvents(sheetID, userID string, limit int, newestFirst bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	events, err := ctrl.ListEvents(ctx, sheetID, userID, limit, newestFirst)
	if err != nil {
		return fmt.Errorf("이벤트 조회 실패: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("이벤트가 없습니다.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EVENT ID\tTYPE\tCELL\tSTATUS\tRETRY\tERROR\tCREATED")
	_, _ = fmt.Fprintln(w, "--------\t----\t----\t------\t-----\t-----\t-------")
	for _, ev := range events {
		lastErr := strings.ReplaceAll(ev.LastError, "\n", " ")
		if len(lastErr) > 40 {
			lastErr = lastErr[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t(%d,%d)\t%s\t%d\t%s\t%s\n",
			ev.EventID,
			ev.EventType,
			ev.RowIndex,
			ev.ColIndex,
			ev.Status,
			ev.RetryCount,
			lastErr,
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()

	return nil
}

func (a *cli) runTickSheet(sheetID, userID string) error {
	cfg := common.GetConfig()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Updater.TickTimeout+30*time.Second)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	res, err := ctrl.TickSheet(ctx, sheetID, userID)
	if err != nil {
		return fmt.Errorf("tick 실패: %w", err)
	}
	printTickResult(res)
	return nil
}

func (a *cli) runTickAll() error {
	cfg := common.GetConfig()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Updater.TickTimeout+30*time.Second)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	res, err := ctrl.TickAll(ctx)
	if err != nil {
		return fmt.Errorf("tick 실패: %w", err)
	}

	fmt.Printf("시트 %d개 처리, 업데이트 %d개 적용, 만료 이벤트 %d개\n", len(res.Sheets), res.TotalApplied, res.StaleFailed)
	for i := range res.Sheets {
		printTickResult(&res.Sheets[i])
	}
	for key, msg := range res.Errors {
		fmt.Printf("✗ %s: %s\n", key, msg)
	}
	return nil
}

func printTickResult(res *controller.TickResult) {
	if res.Skipped {
		fmt.Printf("- %s: 다른 tick 이 처리 중이라 건너뜀\n", res.SheetID)
		return
	}
	fmt.Printf("- %s: claim %d, 완료 %d, 실패 %d, 취소 %d, 적용 %d (%s)\n",
		res.SheetID, res.Claimed, res.Completed, res.Failed, res.Cancelled, res.TotalApplied,
		res.Duration.Round(time.Millisecond))
	for _, u := range res.AppliedUpdates {
		content := strings.ReplaceAll(u.Content, "\n", " ")
		if len(content) > 60 {
			content = content[:57] + "..."
		}
		fmt.Printf("    (%d,%d) %s: %s\n", u.RowIndex, u.ColIndex, u.UpdateType, content)
	}
}
