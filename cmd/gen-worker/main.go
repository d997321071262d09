// Package main 生成工作进程入口（gen-worker）。
// 消费叙事、插图与用量三条任务流，并暴露运维端点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyforge-ai-api/internal/application/imagegen"
	"storyforge-ai-api/internal/application/narrative"
	"storyforge-ai-api/internal/application/usage"
	"storyforge-ai-api/internal/config"
	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/infrastructure/blobstore"
	"storyforge-ai-api/internal/infrastructure/messaging"
	"storyforge-ai-api/internal/infrastructure/persistence/postgres"
	"storyforge-ai-api/internal/infrastructure/persistence/redis"
	"storyforge-ai-api/internal/infrastructure/provider"
	"storyforge-ai-api/internal/ops"
	"storyforge-ai-api/internal/orchestrator"
	"storyforge-ai-api/pkg/logger"
	"storyforge-ai-api/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "gen-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	bookRepo := postgres.NewBookRepository(pgClient)
	unitRepo := postgres.NewUnitRepository(pgClient)
	characterRepo := postgres.NewCharacterRepository(pgClient)
	imageRepo := postgres.NewImageRepository(pgClient)
	usageRepo := postgres.NewLLMUsageEventRepository(pgClient)

	registry, err := provider.NewRegistry(&cfg.Providers)
	if err != nil {
		logger.Fatal(ctx, "failed to init provider registry", err)
	}

	store, err := blobstore.New(&cfg.Storage)
	if err != nil {
		logger.Fatal(ctx, "failed to init blob store", err)
	}

	producer := messaging.NewProducer(redisClient.Redis(), cfg.Messaging.RedisStream.MaxLen)
	notifier := messaging.NewNotifier(producer)
	guard := redis.NewIdempotencyGuard(redisClient, 24*time.Hour)
	limiter := redis.NewRateLimiter(redisClient)

	newChat := func(workflow string) *orchestrator.ChatOrchestrator {
		return orchestrator.NewChatOrchestrator(registry.Text(), producer, workflow)
	}

	builder := narrative.NewBuilder(bookRepo, unitRepo, characterRepo, newChat, notifier)

	pipeline := imagegen.NewPipeline(imagegen.Deps{
		Images:     imageRepo,
		Books:      bookRepo,
		Units:      unitRepo,
		Characters: characterRepo,
		Tx:         postgres.NewTxManager(pgClient),
		Client:     registry.ImageClient(),
		Store:      store,
		NewChat:    newChat,
		Events:     notifier,
		Jobs:       producer,
		Throttle:   limiter,
		RateLimit:  cfg.Providers.ImageRateLimit,
	})

	recorder := usage.NewRecorder(usageRepo)

	backoff := messaging.BackoffConfig{
		Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
		Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
		Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
	}

	narrativeConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:         messaging.StreamNarrativeGen,
		Group:          messaging.ConsumerGroupGenWorker,
		ConsumerName:   hostnameConsumerName(),
		BlockTimeout:   cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:     cfg.Messaging.RedisStream.RetryLimit,
		Backoff:        backoff,
		AttemptTimeout: cfg.Messaging.RedisStream.NarrativeAttemptTimeout,
	})

	handleNarrative := withIdempotency(guard, messaging.StreamNarrativeGen,
		func(ctx context.Context, msg *messaging.Message) error {
			var job messaging.NarrativeJobMessage
			if err := msg.UnmarshalPayload(&job); err != nil {
				return err
			}
			if job.Bootstrap {
				return builder.Bootstrap(ctx, job.BookID, job.Guidance)
			}
			if job.UnitID != "" {
				return builder.Regenerate(ctx, job.BookID, job.UnitID, job.IsFinal, job.Guidance)
			}
			_, err := builder.AppendUnit(ctx, job.BookID, job.IsFinal, job.Guidance)
			return err
		})
	narrativeConsumer.RegisterHandler(messaging.TypeUnitGen, handleNarrative)
	narrativeConsumer.RegisterHandler(messaging.TypeBookBootstrap, handleNarrative)

	// 重试耗尽时把单元钉死在失败态，不让它停在 generating
	narrativeConsumer.OnFailure(func(ctx context.Context, msg *messaging.Message, cause error) {
		var job messaging.NarrativeJobMessage
		if err := msg.UnmarshalPayload(&job); err != nil || job.UnitID == "" {
			return
		}
		if err := unitRepo.UpdateStatus(ctx, job.UnitID, entity.UnitStatusError, cause.Error()); err != nil {
			logger.Error(ctx, "failed to mark unit error after retries", err, "unit_id", job.UnitID)
		}
	})

	imageConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:         messaging.StreamImageGen,
		Group:          messaging.ConsumerGroupImageWorker,
		ConsumerName:   hostnameConsumerName(),
		BlockTimeout:   cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:     cfg.Messaging.RedisStream.RetryLimit,
		Backoff:        backoff,
		AttemptTimeout: cfg.Messaging.RedisStream.ImageAttemptTimeout,
	})

	imageConsumer.RegisterHandler(messaging.TypeImageGen, withIdempotency(guard, messaging.StreamImageGen,
		func(ctx context.Context, msg *messaging.Message) error {
			var job messaging.ImageJobMessage
			if err := msg.UnmarshalPayload(&job); err != nil {
				return err
			}
			return pipeline.Generate(ctx, job.ImageID)
		}))

	imageConsumer.OnFailure(func(ctx context.Context, msg *messaging.Message, cause error) {
		var job messaging.ImageJobMessage
		if err := msg.UnmarshalPayload(&job); err != nil || job.ImageID == "" {
			return
		}
		if _, err := imageRepo.MarkError(ctx, job.ImageID, cause.Error()); err != nil {
			logger.Error(ctx, "failed to mark image error after retries", err, "image_id", job.ImageID)
		}
	})

	usageConsumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamUsageLog,
		Group:        messaging.ConsumerGroupUsageWriter,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
		Backoff:      backoff,
	})
	usageConsumer.RegisterHandler(messaging.TypeUsageRecord, recorder.HandleMessage)

	consumers := []*messaging.Consumer{narrativeConsumer, imageConsumer, usageConsumer}
	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
	}
	go narrativeConsumer.MonitorDLQ(ctx, 10)
	go imageConsumer.MonitorDLQ(ctx, 10)

	opsRouter := ops.NewRouter(cfg.App.Env, map[string]ops.HealthChecker{
		"postgres": pgClient,
		"redis":    redisClient,
	})
	opsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
		Handler: opsRouter,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "ops server failed", err)
		}
	}()

	log := logger.FromContext(ctx)
	log.Info("gen-worker started", "ops_addr", opsServer.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("gen-worker shutting down")
	for _, c := range consumers {
		c.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "ops server shutdown failed", err)
	}
}

// withIdempotency 用 Redis SetNX 去重，at-least-once 投递下同一任务只执行一次。
// 处理失败时释放键，让重试能再次进入。
func withIdempotency(guard *redis.IdempotencyGuard, stream messaging.Stream, next messaging.MessageHandler) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		key := msg.GetMetadata("idempotency_key")
		if key == "" {
			key = msg.ID
		}

		acquired, err := guard.Acquire(ctx, string(stream), key)
		if err != nil {
			// 去重层故障放行，宁可重复执行也不丢任务
			logger.Warn(ctx, "idempotency check failed", "error", err.Error(), "key", key)
		} else if !acquired {
			logger.Info(ctx, "duplicate job skipped", "key", key)
			return nil
		}

		if err := next(ctx, msg); err != nil {
			if releaseErr := guard.Release(ctx, string(stream), key); releaseErr != nil {
				logger.Warn(ctx, "failed to release idempotency key", "error", releaseErr.Error(), "key", key)
			}
			return err
		}
		return nil
	}
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
