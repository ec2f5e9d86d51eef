package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "tradedesk/docs"
	"tradedesk/internal/audit"
	"tradedesk/internal/autonomy"
	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	cronrunner "tradedesk/internal/cron"
	"tradedesk/internal/db"
	"tradedesk/internal/handler"
	"tradedesk/internal/ledger"
	"tradedesk/internal/lifecycle"
	"tradedesk/internal/logger"
	"tradedesk/internal/outcome"
	"tradedesk/internal/quotes"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/saga"
	"tradedesk/internal/settings"
)

func main() {
	cfgPath := os.Getenv("TD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TD_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	if err := db.VerifySchema(dbConn); err != nil {
		logger.Fatal("schema verification failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &settings.Service{Repo: store}
	if err := settingsSvc.EnsureDefaults(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	// Simulated collaborators; the orchestrator only sees the interfaces.
	compliance := &collab.SimComplianceEngine{}
	simOracle := &collab.SimPriceOracle{}
	tracker := &collab.SimShipmentTracker{}
	classifier := collab.SimStrategyClassifier{}
	oracle := &quotes.StoreOracle{
		Repo:     store,
		Fallback: simOracle,
		MaxAge:   10 * time.Minute,
	}

	auditSink := &audit.Sink{Repo: store, Logger: logger}
	capitalLedger := &ledger.Ledger{Repo: store, Logger: logger}
	lifecycleMgr := &lifecycle.Manager{
		Repo:       store,
		Ledger:     capitalLedger,
		Audit:      auditSink,
		Compliance: compliance,
		Oracle:     oracle,
		Logger:     logger,
		Config:     cfg.Collab,
	}
	sagaExec := &saga.Executor{
		Repo:    store,
		Ledger:  capitalLedger,
		Audit:   auditSink,
		Tracker: tracker,
		Oracle:  oracle,
		Logger:  logger,
		Config:  cfg.Saga,
	}
	gate := &autonomy.Gate{
		Repo:     store,
		Settings: settingsSvc,
		Logger:   logger,
		Config:   cfg.Autonomy,
	}
	runner := &autonomy.Runner{
		Repo:      store,
		Gate:      gate,
		Lifecycle: lifecycleMgr,
		Saga:      sagaExec,
		Settings:  settingsSvc,
		Logger:    logger,
	}
	realizer := &outcome.Realizer{
		Repo:       store,
		Ledger:     capitalLedger,
		Oracle:     oracle,
		Classifier: classifier,
		Settings:   settingsSvc,
		Logger:     logger,
		Config:     cfg.Outcomes,
	}
	ingestor := &quotes.Ingestor{
		Repo:     store,
		Settings: settingsSvc,
		Logger:   logger,
		Config:   cfg.QuoteFeed,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store, Lifecycle: lifecycleMgr}
	orderHandler.Register(engine)
	sagaHandler := &handler.SagaHandler{Repo: store, Lifecycle: lifecycleMgr, Saga: sagaExec}
	sagaHandler.Register(engine)
	autonomyHandler := &handler.AutonomyHandler{Repo: store, Runner: runner, Settings: settingsSvc}
	autonomyHandler.Register(engine)
	outcomeHandler := &handler.OutcomeHandler{Repo: store, Realizer: realizer}
	outcomeHandler.Register(engine)
	ledgerHandler := &handler.LedgerHandler{Repo: store, Ledger: capitalLedger}
	ledgerHandler.Register(engine)
	settingsHandler := &handler.SystemSettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	_, err = cronRunner.Add(cfg.Cron.RealizeOutcomes, func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, settings.FeatureOutcomeRealizer, true) {
			return
		}
		stats, err := realizer.RealizeOutcomes(ctx, nil, nil)
		if err != nil {
			logger.Warn("cron outcome realization failed", zap.Error(err))
			return
		}
		if stats.Processed > 0 {
			logger.Info("cron outcome realization ok",
				zap.Int("processed", stats.Processed),
				zap.Int("realized", stats.Realized),
				zap.Int("skipped", stats.Skipped),
				zap.Int("errors", stats.Errors),
			)
		}
	})
	if err != nil {
		logger.Warn("cron register outcome realization failed", zap.Error(err))
	}

	if cfg.Autonomy.Enabled {
		_, err = cronRunner.Add(cfg.Cron.AutonomousScan, func(ctx context.Context) {
			if err := runner.ScanOnce(ctx); err != nil {
				logger.Warn("cron autonomous scan failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register autonomous scan failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if cfg.QuoteFeed.Enabled {
		go func() {
			if err := ingestor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("quote feed stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
