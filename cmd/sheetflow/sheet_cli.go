package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// normalizeInput은 입력 문자열을 유니코드 NFC로 정규화합니다.
// 조합 중인 한글 자모가 남지 않도록 단독 자음/모음(U+1100-U+11FF, U+3131-U+318E)을 제거합니다.
func normalizeInput(s string) string {
	normalized := norm.NFC.String(s)

	var filtered []rune
	for _, r := range normalized {
		if (r >= 0x1100 && r <= 0x11FF) || (r >= 0x3131 && r <= 0x318E) {
			continue
		}
		filtered = append(filtered, r)
	}

	return string(filtered)
}

func (a *cli) buildTemplateCommands() *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "템플릿 관리 명령어",
		Long:  "시트가 참조하는 시스템 프롬프트 템플릿을 관리합니다.",
	}

	// template create
	templateCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "새로운 템플릿 생성",
		Long:  "대화형 입력을 통해 새로운 시스템 프롬프트 템플릿을 생성합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTemplateCreate()
		},
	}

	templateCmd.AddCommand(templateCreateCmd)
	return templateCmd
}

func (a *cli) runTemplateCreate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("템플릿 이름: ")
	name, _ := reader.ReadString('\n')
	name = normalizeInput(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("템플릿 이름은 필수입니다")
	}

	fmt.Print("시스템 프롬프트: ")
	prompt, _ := reader.ReadString('\n')
	prompt = normalizeInput(strings.TrimSpace(prompt))

	tmpl, err := ctrl.CreateTemplate(ctx, name, prompt)
	if err != nil {
		return fmt.Errorf("템플릿 생성 실패: %w", err)
	}

	fmt.Printf("✓ 템플릿 '%s' 생성 완료 (ID: %s)\n", tmpl.Name, tmpl.TemplateID)
	return nil
}

func (a *cli) buildSheetCommands() *cobra.Command {
	sheetCmd := &cobra.Command{
		Use:   "sheet",
		Short: "시트 관리 명령어",
		Long:  "시트 생성, 조회, 컬럼 및 그리드 확인 기능을 제공합니다.",
	}

	// sheet create
	var definitionFile string
	sheetCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "YAML 정의로 시트 생성",
		Long:  "--file 로 지정한 YAML 시트 정의에 따라 시트와 컬럼을 생성합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSheetCreate(definitionFile)
		},
	}
	sheetCreateCmd.Flags().StringVarP(&definitionFile, "file", "f", "", "시트 정의 YAML 파일")
	_ = sheetCreateCmd.MarkFlagRequired("file")

	// sheet list
	var listUser string
	sheetListCmd := &cobra.Command{
		Use:   "list",
		Short: "시트 목록 조회",
		Long:  "사용자의 시트 목록을 조회합니다. --user 가 없으면 전체 시트를 조회합니다.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSheetList(listUser)
		},
	}
	sheetListCmd.Flags().StringVarP(&listUser, "user", "u", "", "사용자 ID")

	// sheet view
	sheetViewCmd := &cobra.Command{
		Use:   "view <sheet-id>",
		Short: "시트 상세 정보 조회",
		Long:  "시트 정보와 상태별 이벤트 개수를 조회합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSheetView(args[0])
		},
	}

	// sheet columns
	sheetColumnsCmd := &cobra.Command{
		Use:   "columns <sheet-id>",
		Short: "컬럼 목록 조회",
		Long:  "시트의 컬럼 정의를 position 순서로 조회합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSheetColumns(args[0])
		},
	}

	// sheet grid
	var gridUser string
	sheetGridCmd := &cobra.Command{
		Use:   "grid <sheet-id>",
		Short: "셀 그리드 출력",
		Long:  "사용자의 셀 값을 행/컬럼 그리드로 출력합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSheetGrid(args[0], gridUser)
		},
	}
	sheetGridCmd.Flags().StringVarP(&gridUser, "user", "u", "", "사용자 ID")
	_ = sheetGridCmd.MarkFlagRequired("user")

	sheetCmd.AddCommand(sheetCreateCmd)
	sheetCmd.AddCommand(sheetListCmd)
	sheetCmd.AddCommand(sheetViewCmd)
	sheetCmd.AddCommand(sheetColumnsCmd)
	sheetCmd.AddCommand(sheetGridCmd)

	return sheetCmd
}

// loadSheetDefinition은 YAML 시트 정의 파일을 읽습니다.
func loadSheetDefinition(path string) (*controller.SheetDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet definition: %w", err)
	}
	var def controller.SheetDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse sheet definition: %w", err)
	}
	def.Name = normalizeInput(strings.TrimSpace(def.Name))
	return &def, nil
}

func (a *cli) runSheetCreate(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	def, err := loadSheetDefinition(path)
	if err != nil {
		return err
	}

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	sheet, columns, err := ctrl.CreateSheet(ctx, *def)
	if err != nil {
		return fmt.Errorf("시트 생성 실패: %w", err)
	}

	fmt.Printf("✓ 시트 '%s' 생성 완료 (ID: %s, 컬럼 %d개)\n", sheet.Name, sheet.SheetID, len(columns))
	return nil
}

func (a *cli) runSheetList(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	sheets, err := ctrl.ListSheets(ctx, userID)
	if err != nil {
		return fmt.Errorf("시트 목록 조회 실패: %w", err)
	}

	if len(sheets) == 0 {
		fmt.Println("등록된 시트가 없습니다.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SHEET ID\tNAME\tUSER\tTEMPLATE\tCREATED")
	_, _ = fmt.Fprintln(w, "--------\t----\t----\t--------\t-------")

	for _, sheet := range sheets {
		name := sheet.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sheet.SheetID,
			name,
			sheet.UserID,
			sheet.TemplateID,
			sheet.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()

	return nil
}

func (a *cli) runSheetView(sheetID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	sheet, err := ctrl.GetSheet(ctx, sheetID)
	if err != nil {
		return fmt.Errorf("시트 조회 실패: %w", err)
	}
	counts, err := ctrl.EventCounts(ctx, sheetID)
	if err != nil {
		return fmt.Errorf("이벤트 집계 실패: %w", err)
	}

	fmt.Printf("=== 시트 정보: %s ===\n\n", sheet.Name)
	fmt.Printf("ID:          %s\n", sheet.SheetID)
	fmt.Printf("사용자:      %s\n", sheet.UserID)
	fmt.Printf("템플릿:      %s\n", sheet.TemplateID)
	fmt.Printf("자율 모드:   %t\n", sheet.IsAutonomous)
	fmt.Printf("시스템 프롬프트:\n%s\n\n", sheet.SystemPrompt)
	fmt.Println("이벤트:")
	for _, status := range []string{
		storage.EventStatusPending,
		storage.EventStatusProcessing,
		storage.EventStatusCompleted,
		storage.EventStatusFailed,
		storage.EventStatusCancelled,
	} {
		fmt.Printf("  %-11s %d\n", status, counts[status])
	}
	fmt.Printf("\n생성일:      %s\n", sheet.CreatedAt.Format("2006-01-02 15:04:05"))

	return nil
}

func (a *cli) runSheetColumns(sheetID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	columns, err := ctrl.GetColumns(ctx, sheetID)
	if err != nil {
		return fmt.Errorf("컬럼 조회 실패: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POS\tTITLE\tOPERATOR\tDEPENDS\tPROMPT")
	_, _ = fmt.Fprintln(w, "---\t-----\t--------\t-------\t------")
	for _, col := range columns {
		prompt := col.Prompt
		if len(prompt) > 40 {
			prompt = prompt[:37] + "..."
		}
		op := col.OperatorType
		if op == "" {
			op = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%s\n", col.Position, col.Title, op, []int(col.Dependencies), prompt)
	}
	_ = w.Flush()

	return nil
}

func (a *cli) runSheetGrid(sheetID, userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	ctrl, cleanup, err := a.newController(ctx)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	columns, err := ctrl.GetColumns(ctx, sheetID)
	if err != nil {
		return fmt.Errorf("컬럼 조회 실패: %w", err)
	}
	grid, err := ctrl.GetGrid(ctx, sheetID, userID)
	if err != nil {
		return fmt.Errorf("그리드 조회 실패: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"ROW"}
	for _, col := range columns {
		header = append(header, strings.ToUpper(col.Title))
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	for i, row := range grid {
		values := make([]string, 0, len(row)+1)
		values = append(values, fmt.Sprintf("%d", i))
		for _, v := range row {
			v = strings.ReplaceAll(v, "\n", " ")
			if len(v) > 30 {
				v = v[:27] + "..."
			}
			values = append(values, v)
		}
		_, _ = fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	_ = w.Flush()

	return nil
}
