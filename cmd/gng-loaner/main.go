package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gng-loaner/internal/actions"
	"gng-loaner/internal/adapters"
	"gng-loaner/internal/audit"
	"gng-loaner/internal/clock"
	"gng-loaner/internal/common/database"
	"gng-loaner/internal/common/logger"
	mqttcommon "gng-loaner/internal/common/mqtt"
	"gng-loaner/internal/common/redisq"
	"gng-loaner/internal/config"
	"gng-loaner/internal/consumer"
	"gng-loaner/internal/dispatch"
	"gng-loaner/internal/httpapi"
	"gng-loaner/internal/lifecycle"
	"gng-loaner/internal/queue"
	"gng-loaner/internal/reminder"
	"gng-loaner/internal/repository"
	"gng-loaner/internal/rules"
	"gng-loaner/internal/scheduler"
	"gng-loaner/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "gng-loaner")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting gng-loaner service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("action_stream", cfg.Queue.ActionStream),
		zap.String("identifier_mode", string(cfg.Loaner.IdentifierMode)),
	)

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := redisq.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()

	clk := clock.Real{}

	// 仓库层
	deviceRepo := repository.NewDeviceRepository(db, zapLogger)
	shelfRepo := repository.NewShelfRepository(db, zapLogger)
	eventRepo := repository.NewEventRepository(db, zapLogger)
	templateRepo := repository.NewTemplateRepository(db, zapLogger)
	userRepo := repository.NewUserRepository(db, zapLogger)
	auditRepo := repository.NewAuditRowRepository(db, zapLogger)

	// 外部适配层：未配置真实后端时使用进程内假实现
	directory := adapters.NewFakeDirectory()
	email := adapters.NewFakeEmail()
	warehouse := adapters.NewFakeWarehouse()

	// 任务队列与审计行缓冲
	q := queue.NewQueue(redisClient, zapLogger)
	recorder := audit.NewRecorder(auditRepo, q, clk, zapLogger, cfg.Audit, cfg.Queue.StreamStream)
	deviceRepo.SetAfterPut(recorder.AfterPut)
	shelfRepo.SetAfterPut(recorder.AfterPut)
	flusher := audit.NewFlusher(auditRepo, warehouse, zapLogger, cfg.Audit)

	delay := queue.NewDelayQueue(redisClient, zapLogger, q, clk, cfg.Queue.DelaySet, cfg.Queue.DelayInterval)

	// 动作执行器与事件派发互相引用，派发器持回调延迟解引
	var runner *actions.Runner
	dispatcher := dispatch.NewDispatcher(eventRepo, q, func(ctx context.Context, action string, payload map[string]string) error {
		return runner.Run(ctx, action, payload)
	}, zapLogger, cfg.Queue.ActionStream)
	eventRepo.SetOnWrite(dispatcher.Invalidate)

	renderer := templates.NewRenderer(templateRepo, zapLogger)
	templateRepo.SetOnWrite(renderer.Invalidate)

	deviceSvc := lifecycle.NewDeviceService(deviceRepo, shelfRepo, userRepo, directory,
		dispatcher, delay, clk, zapLogger, cfg.Loaner, cfg.Queue.ActionStream)
	shelfSvc := lifecycle.NewShelfService(shelfRepo, dispatcher, clk, zapLogger)
	runner = actions.NewRunner(deviceRepo, eventRepo, deviceSvc, shelfSvc, renderer, email, clk, zapLogger)

	registry := queue.NewRegistry()
	if err := runner.RegisterAll(registry, flusher.Flush); err != nil {
		zapLogger.Fatal("Failed to register queue handlers", zap.Error(err))
	}

	engine := rules.NewEngine(deviceRepo, shelfRepo, clk, zapLogger)
	machine := reminder.NewMachine(deviceRepo, eventRepo, engine, dispatcher, clk, zapLogger, cfg.Loaner)
	sweeps := scheduler.NewSweeps(eventRepo, engine, dispatcher, machine, shelfRepo, userRepo,
		directory, clk, zapLogger, cfg.Loaner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 两个消费流共用一套处理函数注册表
	actionWorker := queue.NewWorker(redisClient, zapLogger, queue.WorkerConfig{
		Stream:       cfg.Queue.ActionStream,
		Group:        cfg.Queue.Group,
		Consumer:     cfg.Queue.Consumer,
		BatchSize:    cfg.Queue.BatchSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		ClaimMinIdle: cfg.Queue.ClaimMinIdle,
	}, registry)
	streamWorker := queue.NewWorker(redisClient, zapLogger, queue.WorkerConfig{
		Stream:       cfg.Queue.StreamStream,
		Group:        cfg.Queue.Group,
		Consumer:     cfg.Queue.Consumer,
		BatchSize:    cfg.Queue.BatchSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		ClaimMinIdle: cfg.Queue.ClaimMinIdle,
	}, registry)

	go func() {
		if err := actionWorker.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Fatal("Action worker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := streamWorker.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Fatal("Stream worker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := delay.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Fatal("Delay queue stopped", zap.Error(err))
		}
	}()

	// 未接外部 cron 时由内部定时器兜底
	go runTickers(ctx, sweeps, zapLogger)

	// MQTT 心跳消费（未配置 broker 时跳过）
	var heartbeat *consumer.MQTTConsumer
	if cfg.MQTT.Broker != "" {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT)
		if err != nil {
			zapLogger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mqttClient.Disconnect()

		heartbeat = consumer.NewMQTTConsumer(mqttClient, deviceSvc, cfg.Heartbeat.Topic, zapLogger)
		go func() {
			if err := heartbeat.Start(ctx); err != nil && ctx.Err() == nil {
				zapLogger.Fatal("MQTT consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP 服务
	router := httpapi.NewRouter(zapLogger)
	router.RegisterCronRoutes(httpapi.NewCronHandler(sweeps, zapLogger))
	router.RegisterQueueRoutes(httpapi.NewQueueHandler(q, cfg.Queue, zapLogger))
	router.RegisterHealthRoute()

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	if heartbeat != nil {
		if err := heartbeat.Stop(shutdownCtx); err != nil {
			zapLogger.Error("Error during MQTT shutdown", zap.Error(err))
		}
	}

	zapLogger.Info("Service stopped")
}

// runTickers 内部定时巡检
func runTickers(ctx context.Context, sweeps *scheduler.Sweeps, zapLogger *zap.Logger) {
	customTicker := time.NewTicker(15 * time.Minute)
	reminderTicker := time.NewTicker(5 * time.Minute)
	auditTicker := time.NewTicker(1 * time.Hour)
	roleTicker := time.NewTicker(1 * time.Hour)
	defer customTicker.Stop()
	defer reminderTicker.Stop()
	defer auditTicker.Stop()
	defer roleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-customTicker.C:
			if err := sweeps.RunCustomEvents(ctx); err != nil {
				zapLogger.Error("custom event sweep failed", zap.Error(err))
			}
		case <-reminderTicker.C:
			if err := sweeps.RunReminderEvents(ctx, true, true); err != nil {
				zapLogger.Error("reminder sweep failed", zap.Error(err))
			}
		case <-auditTicker.C:
			if err := sweeps.RunShelfAuditEvents(ctx); err != nil {
				zapLogger.Error("shelf audit sweep failed", zap.Error(err))
			}
		case <-roleTicker.C:
			if err := sweeps.SyncUserRoles(ctx); err != nil {
				zapLogger.Error("role sync failed", zap.Error(err))
			}
		}
	}
}
