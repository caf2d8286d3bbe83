// RiskService 主程序
// 功能：实时风险监控、交易准入与熔断控制
// 架构：基于 DDD + Kafka 事件总线 + gRPC 健康检查
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/application"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/alerting"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/calculator"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/client"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/compliance"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/messaging"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/persistence/mysql"
	riskredis "github.com/wyfcoding/riskguard/internal/risk/infrastructure/persistence/redis"
	httphandler "github.com/wyfcoding/riskguard/internal/risk/interfaces/http"
	"github.com/wyfcoding/riskguard/pkg/cache"
	"github.com/wyfcoding/riskguard/pkg/config"
	"github.com/wyfcoding/riskguard/pkg/db"
	"github.com/wyfcoding/riskguard/pkg/grpcclient"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/metrics"
	"github.com/wyfcoding/riskguard/pkg/middleware"
	"github.com/wyfcoding/riskguard/pkg/mq"
	"github.com/wyfcoding/riskguard/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	serviceHealthName = "risk"
	snapshotPrefix    = "risk:"
)

func main() {
	// 在所有 defer 清理完成后以非零状态退出，便于进程管理器感知故障
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	var configPath string
	flag.StringVar(&configPath, "config", config.GetEnv("RISK_CONFIG", "configs/risk/config.toml"), "path to config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting RiskService",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 初始化指标
	metricsInstance := metrics.New(cfg.ServiceName)
	if err := metricsInstance.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}

	// 4. 初始化数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()
	if err := mysql.AutoMigrate(database); err != nil {
		logger.Fatal(ctx, "Failed to migrate database", "error", err)
	}
	repo := mysql.NewRiskRepository(database)

	// 5. 初始化 Redis，保存最新快照与熔断状态镜像
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
	}
	defer redisCache.Close()
	snapshots := riskredis.NewSnapshotStore(redisCache, snapshotPrefix, 12*cfg.Risk.Monitoring.Interval)

	// 6. 事件总线
	bus, closeBus := newEventBus(cfg)
	defer closeBus()

	// 7. 风险计算器，价格历史由行情与成交事件驱动
	calc := cfg.Risk.Calculator
	breakerSettings := client.BreakerSettings{Failures: calc.BreakerFailures, Timeout: calc.BreakerTimeout}
	history := calculator.NewPriceHistory(calc.HistoryWindow)
	mcCfg := calculator.DefaultMonteCarloConfig()
	if calc.Simulations > 0 {
		mcCfg.Simulations = calc.Simulations
	}
	if calc.ConfidenceLevel > 0 {
		mcCfg.Confidence = calc.ConfidenceLevel
	}
	if calc.DefaultVol > 0 {
		mcCfg.DefaultVolatility = calc.DefaultVol
	}
	mktCfg := calculator.DefaultMarketConfig()
	mktCfg.Benchmark = calc.Benchmark
	if calc.DefaultVol > 0 {
		mktCfg.DefaultVolatility = calc.DefaultVol
	}
	if calc.HighVol > 0 {
		mktCfg.HighVolatility = calc.HighVol
	}
	portfolioRisk := client.NewGuardedPortfolioRisk(calculator.NewMonteCarloPortfolioCalculator(history, mcCfg), breakerSettings)
	marketRisk := client.NewGuardedMarketRisk(calculator.NewHistoricalMarketCalculator(history, mktCfg), breakerSettings)

	rules, err := compliance.RulesFromConfig(cfg.Risk.Compliance)
	if err != nil {
		logger.Fatal(ctx, "Invalid compliance rules", "error", err)
	}
	complianceEngine := client.NewGuardedCompliance(compliance.NewRuleComplianceEngine(rules, nil), breakerSettings)

	// 8. 运营风险：下游 gRPC 健康检查与本地依赖探测
	pool := grpcclient.NewClientPool()
	defer pool.Close()
	healthClients, err := client.HealthClientsFromPool(pool, cfg.Dependencies.HealthTargets, cfg.Dependencies.ProbeTimeout)
	if err != nil {
		logger.Fatal(ctx, "Failed to create health clients", "error", err)
	}
	operational := client.NewHealthOperationalMonitor(healthClients, []client.Probe{
		{Name: "database", Check: database.Ping},
		{Name: "redis", Check: redisCache.Ping},
		portfolioRisk.Probe(),
		marketRisk.Probe(),
		complianceEngine.Probe(),
	}, cfg.Dependencies.ProbeTimeout)

	// 9. 告警与熔断器
	alerts := alerting.NewAsyncAlertSystem(bus, metricsInstance, alerting.ConfigFromAlerts(cfg.Risk.Alerts))
	breaker := domain.NewCircuitBreaker(repo, messaging.NewBusOrderCanceller(bus), messaging.NewBusBreakerNotifier(bus, snapshots))
	restoreBreaker(ctx, breaker, snapshots)

	// 10. 组合账本
	cash, err := decimal.NewFromString(cfg.Risk.Portfolio.InitialCash)
	if err != nil {
		logger.Fatal(ctx, "Invalid initial cash", "value", cfg.Risk.Portfolio.InitialCash, "error", err)
	}
	book := application.NewPortfolioBook(cfg.Risk.Portfolio.AccountID, cash)

	// 11. 风控编排
	limits, err := application.LimitsFromConfig(cfg.Risk.Limits)
	if err != nil {
		logger.Fatal(ctx, "Invalid risk limits", "error", err)
	}
	manager, err := application.NewRiskManager(application.Dependencies{
		Limits:         limits,
		Portfolio:      book,
		PortfolioRisk:  portfolioRisk,
		MarketRisk:     marketRisk,
		Operational:    operational,
		Compliance:     complianceEngine,
		Alerts:         alerts,
		Bus:            bus,
		Breaker:        breaker,
		Repository:     repo,
		Snapshots:      snapshots,
		Metrics:        metricsInstance,
		PriceObservers: []domain.PriceObserver{history},
	}, application.OptionsFromConfig(cfg.Risk))
	if err != nil {
		logger.Fatal(ctx, "Failed to create risk manager", "error", err)
	}
	if err := manager.RestoreAlerts(ctx); err != nil {
		logger.Error(ctx, "Failed to restore alerts", "error", err)
	}
	if err := manager.StartMonitoring(ctx); err != nil {
		logger.Fatal(ctx, "Failed to start risk monitoring", "error", err)
	}

	// 12. 创建服务器
	httpServer := createHTTPServer(cfg, manager, operational, metricsInstance)
	grpcServer, healthServer := createGRPCServer(cfg)

	// 13. 启动，收到退出信号或任一服务失败时优雅关停：先停止对外服务，再停监控循环，最后排空告警队列
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	err = serve(ctx, quit, grpcAddr, grpcServer, healthServer, httpServer, func() error {
		manager.StopMonitoring()
		return alerts.Close()
	})
	if err != nil {
		logger.Error(ctx, "RiskService exited with error", "error", err)
		exitCode = 1
		return
	}
	logger.Info(ctx, "RiskService stopped")
}

// eventBus 同时承担订阅输入事件与发布告警
type eventBus interface {
	domain.EventBus
	alerting.Publisher
}

// newEventBus 按配置选择 Kafka 或进程内总线
func newEventBus(cfg *config.Config) (eventBus, func()) {
	ctx := context.Background()
	if cfg.EventBus.Transport == "memory" {
		logger.Warn(ctx, "Using in-process event bus, events are not shared with other services")
		return messaging.NewMemoryBus(), func() {}
	}

	kafkaCfg := mq.KafkaConfig{
		Brokers:           cfg.Kafka.Brokers,
		GroupID:           cfg.Kafka.GroupID,
		Partitions:        cfg.Kafka.Partitions,
		Replication:       cfg.Kafka.Replication,
		SessionTimeout:    cfg.Kafka.SessionTimeout,
		MaxRetries:        3,
		RetryBackoff:      100,
		EnableCompression: true,
		StartFromLatest:   true,
	}
	producer, err := mq.NewProducer(kafkaCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to create Kafka producer", "error", err)
	}
	kb := messaging.NewKafkaEventBus(producer, messaging.NewKafkaConsumerFactory(kafkaCfg), messaging.KafkaBusOptions{
		TopicPrefix:     cfg.EventBus.TopicPrefix,
		MaxAttempts:     cfg.EventBus.MaxAttempts,
		DeadLetterTopic: cfg.EventBus.DeadLetterTopic,
	})
	return kb, func() {
		if err := producer.Close(); err != nil {
			logger.Error(ctx, "Failed to close Kafka producer", "error", err)
		}
	}
}

// restoreBreaker 熔断状态跨重启保持：镜像中处于熔断时恢复为熔断
func restoreBreaker(ctx context.Context, breaker *domain.CircuitBreaker, snapshots domain.SnapshotStore) {
	st, err := snapshots.GetBreakerStatus(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to read breaker mirror", "error", err)
		return
	}
	if st == nil {
		return
	}
	breaker.Restore(*st)
	if st.IsHalted || st.PositionReductionActive {
		logger.Warn(ctx, "Circuit breaker state restored",
			"halted", st.IsHalted,
			"reason", st.HaltReason,
			"position_reduction", st.PositionReductionActive,
		)
	}
}

// createHTTPServer 创建 HTTP 服务器：运维 API、探针、指标与 pprof
func createHTTPServer(cfg *config.Config, manager *application.RiskManager, operational *client.HealthOperationalMonitor, m *metrics.Metrics) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))

	limiter := ratelimit.NewKeyedLimiter(ratelimit.Limit{
		Rate:   cfg.HTTP.RateLimit,
		Period: time.Second,
		Burst:  cfg.HTTP.RateLimitBurst,
	}, 0)
	api := router.Group("/", middleware.RateLimitMiddleware(limiter))
	httphandler.NewRiskHandler(manager).RegisterRoutes(api)

	sys := router.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "UP",
				"service":   cfg.ServiceName,
				"timestamp": time.Now().Unix(),
			})
		})
		sys.GET("/ready", func(c *gin.Context) {
			if !manager.IsMonitoring() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"status":       "READY",
				"risk_level":   manager.GetCurrentRiskLevel(),
				"dependencies": operational.LastStatus(),
			})
		})
	}
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}
	if cfg.Environment != "prod" {
		pp := router.Group("/debug/pprof")
		{
			pp.GET("/", gin.WrapF(pprof.Index))
			pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			pp.GET("/profile", gin.WrapF(pprof.Profile))
			pp.GET("/symbol", gin.WrapF(pprof.Symbol))
			pp.GET("/trace", gin.WrapF(pprof.Trace))
		}
	}

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createGRPCServer 创建 gRPC 服务器，对外提供标准健康检查
func createGRPCServer(cfg *config.Config) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.GRPCLoggingInterceptor(),
			middleware.GRPCRecoveryInterceptor(),
		),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
	}
	server := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceHealthName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return server, healthServer
}

// serve 运行 gRPC 与 HTTP 服务直到收到退出信号或任一服务失败，随后关停并执行 onStop。
// 返回首个服务错误，正常退出时返回 nil。
func serve(ctx context.Context, quit <-chan os.Signal, grpcAddr string, grpcServer *grpc.Server, healthServer *health.Server, httpServer *http.Server, onStop func() error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Starting gRPC server", "addr", grpcAddr)
		// 关停先于 Serve 发生时返回 ErrServerStopped，同样视为正常退出
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info(ctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-quit:
			logger.Info(ctx, "Shutting down RiskService")
		case <-gctx.Done():
			logger.Warn(ctx, "Server failed, shutting down RiskService")
		}

		healthServer.SetServingStatus(serviceHealthName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return onStop()
	})
	return g.Wait()
}
