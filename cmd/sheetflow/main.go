package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cnap-oss/sheetflow/internal/common"
	"github.com/cnap-oss/sheetflow/internal/connector"
	"github.com/cnap-oss/sheetflow/internal/controller"
	"github.com/cnap-oss/sheetflow/internal/operator"
	"github.com/cnap-oss/sheetflow/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// cli는 명령어 간에 공유되는 설정 경로와 로거를 보관합니다.
type cli struct {
	configPath string
	logger     *zap.Logger
}

func main() {
	app := &cli{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:     "sheetflow",
		Short:   "Sheetflow - AI spreadsheet updater",
		Long:    `Sheetflow runs AI operators over spreadsheet rows and applies their results cell by cell.`,
		Version: fmt.Sprintf("%s (built at %s)", Version, BuildTime),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default ${SHEETFLOW_DIR}/config.yaml)")

	// start 명령어
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sheet updater and HTTP trigger server",
		Long:  `Start the tick loop of internal/controller and the HTTP server of internal/connector.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStart()
		},
	}

	// health 명령어
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		Long:  `Open the configured database, ping it and print OK.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runHealth()
		},
	}

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(app.buildTemplateCommands())
	rootCmd.AddCommand(app.buildSheetCommands())
	rootCmd.AddCommand(app.buildCellCommands())
	rootCmd.AddCommand(app.buildTickCommand())

	err := rootCmd.Execute()
	_ = app.logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// init은 설정을 로드하고 설정 기반 로거를 생성합니다.
func (a *cli) init() error {
	if err := common.InitConfig(a.configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := common.GetConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := common.NewLoggerWithConfig("", cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// runStart는 controller와 connector 서버를 시작합니다.
func (a *cli) runStart() error {
	logger := a.logger
	cfg := common.GetConfig()
	logger.Info("Starting sheetflow servers",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// Context 생성
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, cleanup, err := a.initStorage(ctx)
	if err != nil {
		logger.Error("Failed to initialize storage", zap.Error(err))
		return err
	}
	defer cleanup()

	// Graceful shutdown을 위한 signal 처리
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	opMetrics := operator.NewMetrics()
	registry := a.newRegistry(cfg, opMetrics)
	controllerServer := controller.NewController(logger.Named("controller"), repo, registry,
		controller.WithUpdaterConfig(cfg.Updater),
	)
	connectorServer := connector.NewServer(logger, controllerServer, cfg.Server,
		connector.WithOperatorMetrics(opMetrics),
	)

	// 에러 채널
	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	// Controller 서버 시작
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := controllerServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("controller error: %w", err)
		}
	}()

	// Connector 서버 시작
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := connectorServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("connector error: %w", err)
		}
	}()

	// 종료 대기
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		cancel()
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
		cancel()
		return err
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 2)
	go func() {
		shutdownErrChan <- controllerServer.Stop(shutdownCtx)
	}()
	go func() {
		shutdownErrChan <- connectorServer.Stop(shutdownCtx)
	}()

	for i := 0; i < 2; i++ {
		if err := <-shutdownErrChan; err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}
	wg.Wait()

	logger.Info("Servers stopped gracefully")
	return nil
}

func (a *cli) runHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, cleanup, err := a.initStorage(ctx)
	if err != nil {
		return fmt.Errorf("storage unavailable: %w", err)
	}
	defer cleanup()

	fmt.Println("OK")
	return nil
}

func (a *cli) initStorage(ctx context.Context) (*storage.Repository, func(), error) {
	cfg := storage.ConfigFromEnv()
	if err := common.EnsureDataDir(cfg.DSN); err != nil {
		return nil, func() {}, fmt.Errorf("create data dir: %w", err)
	}

	db, err := storage.OpenWithRetry(ctx, cfg, a.logger.Named("storage"))
	if err != nil {
		return nil, func() {}, err
	}

	if err := storage.AutoMigrate(ctx, db); err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	repo, err := storage.NewRepository(db)
	if err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := storage.Close(db); err != nil {
			a.logger.Warn("Failed to close storage", zap.Error(err))
		}
	}

	return repo, cleanup, nil
}

// newRegistry는 설정된 모델 엔드포인트로 기본 operator 레지스트리를 구성합니다.
// 클라이언트와 레지스트리는 metrics 하나에 함께 기록합니다.
func (a *cli) newRegistry(cfg *common.Config, metrics *operator.Metrics) *operator.Registry {
	client := operator.NewClient(cfg.Operator.BaseURL,
		operator.WithAPIKey(cfg.Operator.APIKey),
		operator.WithModel(cfg.Operator.Model),
		operator.WithTimeout(cfg.Operator.Timeout),
		operator.WithLogger(a.logger.Named("operator")),
		operator.WithClientMetrics(metrics),
	)
	if cfg.Operator.APIKey == "" {
		a.logger.Warn("Operator API key is not set, AI columns will fail until SHEETFLOW_OPERATOR_API_KEY is configured")
	}
	return operator.NewDefaultRegistry(client, operator.NewDefaultToolbox(nil),
		operator.WithRegistryLogger(a.logger.Named("registry")),
		operator.WithDispatchTimeout(cfg.Operator.Timeout),
		operator.WithMetrics(metrics),
	)
}

// newController는 CLI 단일 실행용 컨트롤러를 생성합니다. 백그라운드 루프는 시작하지 않습니다.
func (a *cli) newController(ctx context.Context) (*controller.Controller, func(), error) {
	repo, cleanup, err := a.initStorage(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	cfg := common.GetConfig()
	ctrl := controller.NewController(a.logger.Named("controller"), repo, a.newRegistry(cfg, operator.NewMetrics()),
		controller.WithUpdaterConfig(cfg.Updater),
	)
	return ctrl, cleanup, nil
}
