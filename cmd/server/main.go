package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"crm-automation/internal/actions"
	"crm-automation/internal/api"
	"crm-automation/internal/automation"
	"crm-automation/internal/chatbot"
	"crm-automation/internal/config"
	"crm-automation/internal/crm"
	"crm-automation/internal/database"
	"crm-automation/internal/delivery"
	"crm-automation/internal/logger"
	"crm-automation/internal/metrics"
	"crm-automation/internal/queue"
	"crm-automation/internal/webhook"
	"crm-automation/internal/whatsapp"
	"crm-automation/internal/ws"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zl := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Error().Err(err).Msg("server failed")
		stop()
		os.Exit(1)
	}
	zl.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := database.OpenAndMigrate(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	store := crm.NewStore(db)

	var (
		sendQueue queue.Queue
		locker    chatbot.Locker
	)
	if cfg.RedisURL != "" {
		client, err := queue.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		sendQueue = queue.NewRedisQueue(client)
		locker = chatbot.NewRedisLocker(client, cfg.LockTTL)
		logger.Info().Msg("using redis send queue and distributed locks")
	} else {
		sendQueue = queue.NewMemoryQueue(1024)
		locker = chatbot.NewLocalLocker()
		logger.Info().Msg("REDIS_URL not set, using in-process send queue and locks")
	}

	hub := ws.NewHub(logger)

	executor := actions.NewExecutor(actions.Deps{
		Conversations: store,
		Channels:      store,
		Contacts:      store,
		Messages:      store,
		Queue:         sendQueue,
		Notifier:      store,
		Tags:          store,
		Deals:         store,
		Assigner:      store,
		Webhooks:      actions.NewHTTPWebhookCaller(cfg.WebhookTimeout),
	}, logger, actions.WithMaxWait(cfg.WaitActionMax))

	automationStore := automation.NewStore(db)
	automationEngine := automation.NewEngine(automationStore, executor, logger, automation.WithObserver(hub))
	flowEngine := chatbot.NewEngine(db, executor, logger,
		chatbot.WithLocker(locker),
		chatbot.WithObserver(hub),
	)
	poller := chatbot.NewPoller(flowEngine.Timers(), flowEngine, logger,
		chatbot.WithPollInterval(cfg.TimerPollInterval),
		chatbot.WithLease(cfg.TimerLease),
	)

	worker := delivery.NewWorker(sendQueue, store, logger,
		delivery.WithSender("meta", whatsapp.NewClient(cfg)),
		delivery.WithObserver(hub),
	)

	dispatcher := webhook.NewDispatcher(automationEngine, flowEngine, logger)
	scheduler := webhook.NewScheduler(logger, cfg.ConversationQueueSize, dispatcher.Handle)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), metrics.Middleware(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", gin.WrapF(hub.ServeWs))
	webhook.NewHandler(cfg.VerifyToken, store, scheduler, logger).Register(r)

	apiGroup := r.Group("/api", api.RequireTenant())
	api.NewAutomationHandler(automationStore).Register(apiGroup)
	api.NewChatbotHandler(flowEngine.Store()).Register(apiGroup)
	api.NewExecutionHandler(flowEngine).Register(apiGroup)
	api.NewContactHandler(store, scheduler, logger).Register(apiGroup)
	api.NewConversationHandler(store, executor, scheduler, logger).Register(apiGroup)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+api.TenantHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
