package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/blob/filesystem"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/health"
	"mailecho/backend/internal/logger"
	"mailecho/backend/internal/mailbox"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/pool"
	"mailecho/backend/internal/routing"
	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/storage/memory"
	"mailecho/backend/internal/storage/postgres"
	redisstore "mailecho/backend/internal/storage/redis"
	"mailecho/backend/internal/summary"
	"mailecho/backend/internal/telegram"
	httptransport "mailecho/backend/internal/transport/http"
)

// smtpDrainInterval SMTP 直收源的入站队列排空间隔。
// 直收模式下邮件已经在内存里，间隔只决定通知延迟的下限。
const smtpDrainInterval = 5 * time.Second

// main 启动邮件通知管线：HTTP API、邮件摄取、blob 监听投递与记录清理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailecho server",
		zap.String("mail_domain", cfg.Mail.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = initializeDatabaseStorage(cfg, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()

	// Redis 是可选的：只承担去重缓存和取回限流，挂了也能跑
	var redisClient *redisstore.Client
	var dedupe *redisstore.DedupeCache
	var rateLimiter *redisstore.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(redisstore.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis unavailable, dedupe falls back to the record store", zap.Error(err))
		} else {
			dedupe = redisstore.NewDedupeCache(redisClient, domain.RecordRetention)
			rateLimiter = redisstore.NewRateLimiter(redisClient)
			defer redisClient.Close()
			log.Info("redis connected", zap.String("address", cfg.Redis.Address))
		}
	}

	// 原始邮件 blob 存储与落盘监听
	blobStore, err := filesystem.NewStore(cfg.Blob.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
	}
	watcher := blob.NewWatcher(cfg.Blob.Path, log)
	log.Info("blob storage initialized", zap.String("path", cfg.Blob.Path))

	// Telegram bot 身份在启动时取一次，之后所有新记录都按它判断迁移
	bot := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIBase, log)
	botCtx, cancelBotCtx := context.WithTimeout(context.Background(), 10*time.Second)
	botUser, err := bot.GetMe(botCtx)
	cancelBotCtx()
	if err != nil {
		panic(fmt.Sprintf("failed to resolve bot identity: %v", err))
	}
	botID := strconv.FormatInt(botUser.ID, 10)
	log.Info("bot identity resolved",
		zap.String("bot_id", botID),
		zap.String("bot_username", botUser.Username),
	)

	// 别名路由提供方
	var provisioner routing.Provisioner
	switch cfg.Routing.Provider {
	case "cloudflare":
		provisioner = routing.NewCloudflare(routing.CloudflareOptions{
			APIToken:  cfg.Routing.APIToken,
			ZoneID:    cfg.Routing.ZoneID,
			ForwardTo: cfg.Routing.ForwardTo,
		}, log)
	default:
		provisioner = routing.NewCatchAll(log)
	}
	log.Info("routing provider initialized", zap.String("provider", provisioner.Name()))

	// 摘要器可选，未配置 API key 时投递用正文节选
	var summarizer summary.Summarizer
	if cfg.Summarizer.APIKey != "" {
		summarizer = summary.NewOpenAISummarizer(summary.OpenAIOptions{
			APIKey:    cfg.Summarizer.APIKey,
			Model:     cfg.Summarizer.Model,
			MaxTokens: cfg.Summarizer.MaxTokens,
		}, log)
		log.Info("summarizer enabled", zap.String("model", cfg.Summarizer.Model))
	} else {
		log.Info("summarizer disabled, notifications use body excerpts")
	}

	// 签名下载链接，仅在配置了公开地址和密钥时启用
	var signer *blob.Signer
	if cfg.Retrieval.PublicBaseURL != "" && cfg.Retrieval.SignSecret != "" {
		signer = blob.NewSigner(cfg.Retrieval.SignSecret, cfg.Retrieval.SignTTL)
		log.Info("raw email retrieval enabled", zap.String("base_url", cfg.Retrieval.PublicBaseURL))
	}

	// 初始化服务层
	ownerService := service.NewOwnerService(store, log)
	aliasService := service.NewAliasService(store, provisioner, cfg, metrics, log)
	migrationService := service.NewMigrationService(store, metrics, log)
	migrationService.SetBotIdentity(botID, botUser.Username)
	ingestService := service.NewIngestService(store, blobStore, dedupe, cfg, metrics, log)
	ingestService.SetBotIdentity(botID, botUser.Username)
	deliveryService := service.NewDeliveryService(store, blobStore, bot, summarizer, migrationService, cfg, metrics, log)
	retentionService := service.NewRetentionService(store, metrics, log)

	healthChecker := health.NewChecker(store, redisClient, cfg.Blob.Path, log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:           cfg,
		OwnerService:     ownerService,
		AliasService:     aliasService,
		MigrationService: migrationService,
		Store:            store,
		BlobStore:        blobStore,
		Signer:           signer,
		Bot:              bot,
		BotUser:          botUser,
		RateLimiter:      rateLimiter,
		Metrics:          metrics,
		Health:           healthChecker,
		Logger:           log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// IMAP 轮询摄取 goroutine
	if cfg.IMAP.Enabled {
		imapSource := mailbox.NewIMAPSource(mailbox.IMAPOptions{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Mailbox:  cfg.IMAP.Mailbox,
			TLS:      cfg.IMAP.TLS,
		})
		group.Go(func() error {
			runIngestLoop(groupCtx, ingestService, imapSource, cfg.IMAP.PollInterval, log)
			return nil
		})
	}

	// SMTP 直收 goroutine：监听端口 + 排空入站队列
	if cfg.SMTP.Enabled {
		smtpSource := mailbox.NewSMTPSource(cfg.Mail.Domain, log)
		smtpServer := mailbox.NewSMTPServer(smtpSource, cfg.SMTP.BindAddr)
		if cfg.SMTP.Domain != "" {
			smtpServer.Domain = cfg.SMTP.Domain
		}

		group.Go(func() error {
			log.Info("starting SMTP server", zap.String("address", cfg.SMTP.BindAddr))
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
		group.Go(func() error {
			runIngestLoop(groupCtx, ingestService, smtpSource, smtpDrainInterval, log)
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return smtpServer.Close()
		})
	}

	// blob 监听 + 投递工作池 goroutine
	workerPool := pool.NewWorkerPool(cfg.Mail.Workers, 256, log)
	workerPool.Start(groupCtx)
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	group.Go(func() error {
		// 事件通道由 watcher 在退出时关闭，排空之后才能停池
		for key := range watcher.Events() {
			blobKey := key
			workerPool.Submit(func() {
				deliverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if err := deliveryService.Deliver(deliverCtx, blobKey); err != nil {
					log.Error("delivery failed", zap.String("key", blobKey), zap.Error(err))
				}
			})
		}
		workerPool.Stop()
		return nil
	})

	// 定时清理过期邮件记录 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		log.Info("starting expired record cleanup task", zap.Duration("interval", 1*time.Hour))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("cleanup task stopped")
				return nil
			case <-ticker.C:
				count, err := retentionService.ReapExpired()
				if err != nil {
					log.Error("failed to cleanup expired records", zap.Error(err))
				} else if count > 0 {
					log.Info("expired records cleaned up", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// runIngestLoop 按固定间隔轮询一个邮件源，直到 ctx 取消。
func runIngestLoop(ctx context.Context, ingest *service.IngestService, source mailbox.Source, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("starting ingest loop",
		zap.String("source", source.Name()),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("ingest loop stopped", zap.String("source", source.Name()))
			return
		case <-ticker.C:
			if _, err := ingest.PollOnce(ctx, source); err != nil {
				log.Error("ingest poll failed",
					zap.String("source", source.Name()), zap.Error(err))
			}
		}
	}
}

// initializeDatabaseStorage 根据配置打开 SQL 存储。
func initializeDatabaseStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	log.Info("initializing database storage", zap.String("database_type", cfg.Database.Type))

	switch cfg.Database.Type {
	case "postgres":
		return postgres.NewStore(cfg.Database.DSN)
	case "mysql":
		return postgres.NewMySQLStore(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}
