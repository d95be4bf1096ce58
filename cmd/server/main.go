package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditgate/internal/config"
	"creditgate/internal/handler"
	"creditgate/internal/infrastructure/cache"
	"creditgate/internal/infrastructure/database"
	"creditgate/internal/infrastructure/generator"
	"creditgate/internal/infrastructure/logger"
	"creditgate/internal/infrastructure/mq"
	"creditgate/internal/infrastructure/payment"
	"creditgate/internal/infrastructure/ratelimit"
	"creditgate/internal/job"
	"creditgate/internal/service"
	"creditgate/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("服务异常退出: %v", err)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	zlog := logger.New(cfg.Log)
	defer func() { _ = zlog.Sync() }()

	ids, err := idgen.New(cfg.Server.WorkerID)
	if err != nil {
		return err
	}

	// 初始化 MySQL
	db, err := database.NewMySQL(&cfg.MySQL, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			zlog.Warn("关闭 MySQL 失败", zap.Error(err))
		}
	}()

	// 初始化 Redis
	redisClient, err := cache.NewRedis(&cfg.Redis, zlog)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.NewKafkaProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	// 外部服务
	gen := generator.NewOpenAIGenerator(&cfg.Generation)
	gateway := payment.NewStripeGateway(&cfg.Payment, nil)
	limiter := ratelimit.NewLimiter(redisClient, "ratelimit:generate", cfg.Business.RateLimit.Max, cfg.Business.RateLimit.Window)

	h := handler.NewHandler(
		service.NewGateService(db, gen, &cfg.Generation, zlog),
		service.NewPaymentService(db, gateway, ids, cfg, zlog),
		service.NewRecoveryService(db, redisClient, cfg, zlog),
		service.NewAccountService(db),
		zlog,
	)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, producer, cfg.Business.MaxRetryCount, zlog)
	go outboxSender.Start(ctx)

	checkoutTimeoutJob := job.NewCheckoutTimeoutJob(db, zlog)
	go checkoutTimeoutJob.Start(ctx)

	eventPruneJob := job.NewEventPruneJob(db, cfg.Business.EventRetentionDays, zlog)
	go eventPruneJob.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.SetupRouter(h, limiter, zlog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zlog.Info("正在关闭服务...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("服务启动失败: %w", err)
	}

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("服务关闭异常", zap.Error(err))
	}

	zlog.Info("服务已关闭")
	return nil
}
