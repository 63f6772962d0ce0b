package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach-platform/internal/accounts"
	"outreach-platform/internal/audit"
	"outreach-platform/internal/auth"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/compliance"
	"outreach-platform/internal/config"
	"outreach-platform/internal/dispatch"
	"outreach-platform/internal/eligibility"
	"outreach-platform/internal/httpapi"
	"outreach-platform/internal/metrics"
	"outreach-platform/internal/phoneintel"
	"outreach-platform/internal/pricing"
	"outreach-platform/internal/reporting"
	"outreach-platform/internal/routing"
	"outreach-platform/internal/telephony"
	"outreach-platform/internal/wallet"
	"outreach-platform/pkg/httpretry"
	"outreach-platform/pkg/logger"
	"outreach-platform/pkg/utils"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local runs.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	provider, err := newTelephony(cfg, log)
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	// Stores
	accts := accounts.NewPostgresStore(db)
	camps := campaigns.NewPostgresStore(db)
	events := audit.NewService(audit.NewPostgresRepo(db))
	ledger := wallet.NewService(wallet.NewPostgresStore(db), m)
	gate := eligibility.NewGate(accts, ledger)

	phones, err := phoneintel.NewService(
		phoneintel.NewHTTPProvider(cfg.PhoneIntel.Endpoint, cfg.PhoneIntel.APIKey, &http.Client{Timeout: 15 * time.Second}),
		phoneintel.NewPostgresStore(db),
		phoneintel.Options{
			DefaultRegion: cfg.PhoneIntel.DefaultRegion,
			BatchSize:     cfg.Compliance.PhoneBatchSize,
			HotCacheSize:  cfg.Compliance.PhoneCacheSize,
			MaxAge:        cfg.Compliance.PhoneCacheMaxAge,
		}, m)
	if err != nil {
		log.Error("phone intelligence init failed", "err", err)
		os.Exit(1)
	}

	sched := dispatch.NewScheduler(dispatch.Deps{
		Campaigns:  camps,
		Identities: dispatch.NewPostgresIdentityStore(db),
		Jobs:       dispatch.NewPostgresJobStore(db),
		Gate:       gate,
		Ledger:     ledger,
		Pricer:     pricing.NewService(pricing.NewPostgresRepo(db)),
		Sender:     provider,
		Accounts:   accts,
		Events:     events,
		Classifier: phones,
		Limiter:    utils.NewConcurrencyLimiter(rdb, "dispatch:jobs", cfg.Dispatch.MaxJobsPerOrg, cfg.Dispatch.JobSlotTTL),
		Metrics:    m,
	}, cfg.Dispatch, routing.QuietHours{Start: cfg.Compliance.QuietHoursStart, End: cfg.Compliance.QuietHoursEnd})

	ctrl := compliance.NewController(camps, gate, events, sched, cfg.Compliance, m)
	sched.SetCampaignPauser(ctrl)

	processor := billing.NewProcessor(cfg.Billing.Provider, accts, ledger, provider, ctrl, billing.NewPostgresStore(db), m)

	if cfg.Billing.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(rootCtx, awsconfig.WithRegion(cfg.Billing.AWSRegion))
		if err != nil {
			log.Error("aws config failed", "err", err)
			os.Exit(1)
		}
		consumer := billing.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Billing.SQSQueueURL, processor)
		go consumer.Run(rootCtx)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.ClientIP())

	handlers := httpapi.Handlers{
		Auth:       authManager,
		Wallet:     ledger,
		Phones:     phones,
		Compliance: ctrl,
		Dispatch:   sched,
		Reports:    reporting.NewService(ledger, events),
		Audit:      events,
	}

	registerPublicRoutes(r, cfg, db, rdb, reg)
	registerWebhookRoutes(r, cfg, ctrl, processor)
	registerAuthRoutes(r, handlers, !cfg.IsProduction())
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), handlers, gate)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "telephony", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Running jobs are paused with reason "shutdown" and resumed from their cursor later.
	if err := sched.Shutdown(logger.With(shutdownCtx, log)); err != nil {
		log.Error("dispatch shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}

// newTelephony returns the Twilio adapter, or the loopback provider when no
// Twilio credentials are configured outside production.
func newTelephony(cfg config.Config, log *slog.Logger) (telephony.Provider, error) {
	if cfg.Twilio.AccountSID == "" {
		log.Warn("twilio not configured; using loopback telephony")
		return telephony.NewLoopbackProvider(), nil
	}
	client := &http.Client{Timeout: 15 * time.Second}
	accountClient := httpretry.NewRetryClient(client, 3,
		httpretry.WithMaxDelay(5*time.Second),
		httpretry.WithLogger(log),
	)
	tw, err := telephony.NewTwilioProvider(cfg.Twilio, client, telephony.WithAccountClient(accountClient))
	if err != nil {
		return nil, err
	}
	return tw, nil
}
