package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/ai"
	"mailpipe/internal/imapx"
	"mailpipe/internal/notify"
	"mailpipe/internal/parser"
	"mailpipe/internal/repository"
	"mailpipe/internal/syncer"
	"mailpipe/pkg/config"
	"mailpipe/pkg/db"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/mq"
	"mailpipe/pkg/outbox"
	redisclient "mailpipe/pkg/redis"
	"mailpipe/pkg/util"
	"mailpipe/pkg/vault"
)

func main() {
	env := os.Getenv("APP_ENV")
	cfg, err := config.Load(env, os.Getenv("CONFIG_DIR"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting mailpipe worker", zap.String("env", env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.Migrate(ctx, dbConn); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
	log.Info("Database ready")

	// Init Redis
	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)

	// Init vault
	v, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		log.Fatal("Vault initialization failed", zap.Error(err))
	}

	// Init Repositories
	accountRepo := repository.NewAccountRepository(dbConn)
	mailboxRepo := repository.NewMailboxRepository(dbConn)
	messageRepo := repository.NewMessageRepository(dbConn)
	syncRepo := repository.NewSyncStateRepository(dbConn)
	aimetaRepo := repository.NewAiMetadataRepository(dbConn)
	eventRepo := repository.NewEventRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Init MQ publishers
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	dlq, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("DLQ publisher initialization failed", zap.Error(err))
	}
	defer dlq.Close()

	// IMAP session registry
	registry := imapx.NewRegistry(cfg.IMAP.MaxPoolPerAccount, cfg.IMAP.Debug, log)

	// AI clients
	local := ai.NewLocalClassifier(cfg.AI.ClassifierURLs, cfg.AI.ClassifierTimeout, log)
	llm := ai.NewLLMClient(cfg.AI, log)

	// Init Handlers
	fetchHandler := syncer.NewFetchHandler(accountRepo, mailboxRepo, messageRepo, syncRepo, registry, v, publisher, cfg.Import, log)
	parseHandler := parser.NewHandler(accountRepo, mailboxRepo, messageRepo, syncRepo, aimetaRepo, eventRepo, outboxRepo, registry, v, publisher, deduper, log)
	classifyHandler := ai.NewClassifyHandler(messageRepo, aimetaRepo, eventRepo, outboxRepo, local, llm, publisher, deduper, cfg.AI.SummarizeEnabled, log)
	summarizeHandler := ai.NewSummarizeHandler(messageRepo, aimetaRepo, eventRepo, outboxRepo, llm, deduper, log)

	// Consumers, one durable queue per stage
	stages := []struct {
		name       string
		queue      string
		routingKey string
		handler    mq.MessageHandler
	}{
		{"fetch", "mail.fetch.q", mqcontracts.RoutingKeyFetch, fetchHandler.Handle},
		{"parse", "mail.parse.q", mqcontracts.RoutingKeyParse, parseHandler.Handle},
		{"classify", "mail.classify.q", mqcontracts.RoutingKeyClassify, classifyHandler.Handle},
		{"summarize", "mail.summarize.q", mqcontracts.RoutingKeySummarize, summarizeHandler.Handle},
	}
	for _, stage := range stages {
		consumer, err := mq.NewConsumer(cfg.MQ.URL, stage.queue, stage.routingKey, cfg.Queue(stage.name), rdb, dlq, log)
		if err != nil {
			log.Fatal("Failed to init consumer",
				zap.String("queue", stage.queue),
				zap.Error(err),
			)
		}
		consumer.SetHandler(stage.handler)
		go func(queue string, c *mq.Consumer) {
			log.Info("Starting consumer", zap.String("queue", queue))
			if err := c.StartConsuming(); err != nil {
				log.Fatal("Consumer failed", zap.String("queue", queue), zap.Error(err))
			}
		}(stage.queue, consumer)
		defer consumer.Close()
	}

	// Notification pipeline: outbox -> Redis channel -> hub
	hub := notify.NewHub(cfg.JWT.Secret, log)
	relay := notify.NewRelay(rdb, hub, log)
	go relay.Run(ctx)

	dispatcher := outbox.NewDispatcher(outboxRepo, notify.NewRedisSink(rdb), log)
	go dispatcher.Start(ctx)

	// Sync schedulers
	watcher := syncer.NewWatcher(accountRepo, registry, v, publisher, rdb, cfg.Idle, log)
	go watcher.Run(ctx)

	poller := syncer.NewPoller(accountRepo, publisher, cfg.Poll, log)
	go poller.Run(ctx)

	// Prometheus endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	log.Info("All consumers started, worker is ready to process messages")

	<-ctx.Done()
	log.Info("Shutting down worker")
	watcher.Stop()
}
