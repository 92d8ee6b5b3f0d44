package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/config"
	"github.com/AnshRaj112/abuseguard/internal/database"
	"github.com/AnshRaj112/abuseguard/internal/handlers"
	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/AnshRaj112/abuseguard/internal/routes"
	"github.com/AnshRaj112/abuseguard/internal/services"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	cfg := config.Load()
	config.SetupLogging(cfg)

	var events abuse.MultiSink
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Environment}); err != nil {
			logrus.WithError(err).Warn("⚠️  Failed to initialize Sentry, violation alerts disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
			events = append(events, services.NewSentryEvents(nil))
			logrus.Info("✅ Sentry initialized")
		}
	}

	thresholds, err := config.LoadThresholds(cfg.AbuseConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid abuse thresholds")
	}
	if !thresholds.EpisodeCapReachable() {
		logrus.WithField("cooldown_ladder", services.FormatLadder(thresholds.CooldownLadder)).
			Warn("⚠️  Every non-banned point level has a cooldown; the episode cap can never block")
	}

	// Connect to PostgreSQL
	logrus.Info("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer database.DisconnectPostgres()
	if err := database.InitPostgresTables(database.PostgresDB); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize PostgreSQL tables")
	}

	// Connect to Redis
	logrus.Info("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer database.DisconnectRedis()

	// Connect to MongoDB
	logrus.WithField("uri", database.MaskURI(cfg.MongoURI)).Info("Connecting to MongoDB...")
	if err := database.Connect(cfg.MongoURI); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer database.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	violationLog := services.NewViolationLog(database.DB)
	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := violationLog.EnsureIndexes(indexCtx); err != nil {
		logrus.WithError(err).Warn("⚠️  Failed to ensure violation log indexes")
	} else {
		logrus.Info("✅ Violation log indexes ensured")
	}
	cancel()
	events = append(events, violationLog)

	clock := abuse.SystemClock{}
	rdb := database.RedisClient

	states := services.NewAbuseStateStore(database.PostgresDB)
	appeals := services.NewAppealStore(database.PostgresDB)
	violations := services.NewViolationStore(database.PostgresDB)
	admins := services.NewAdminStore(database.PostgresDB)

	thresholdStore := services.NewRedisConfigProvider(rdb, thresholds, services.DefaultConfigCacheTTL)
	captchaTokens := services.NewCaptchaTokens(rdb)
	publisher := services.NewAppealPublisher(rdb)

	notifiers := abuse.MultiNotifier{publisher}
	if cfg.SMTPEnabled() {
		notifiers = append(notifiers, services.NewEmailNotifier(cfg, admins))
		logrus.Info("✅ Appeal emails enabled")
	} else {
		logrus.Warn("⚠️  SMTP_HOST not set, appeal emails disabled")
	}

	engine := abuse.NewEngine(states, thresholdStore, clock, events)
	tracker := abuse.NewViolationTracker(violations, captchaTokens, clock, events)
	workflow := abuse.NewAppealWorkflow(appeals, states, thresholdStore, clock, notifiers)
	defer workflow.Wait()

	hub := services.NewAppealHub()
	hub.Start(ctx, rdb)

	violations.StartViolationPrune(ctx, time.Hour, clock)
	violationLog.StartViolationLogCleanup(ctx, cfg.ViolationLogRetention)
	logrus.Info("✅ Violation cleanup started")

	h := &handlers.Handlers{
		Engine:        engine,
		Appeals:       workflow,
		Violations:    tracker,
		Thresholds:    thresholdStore,
		Admins:        admins,
		AdminSessions: services.NewAdminSessions(rdb),
		CaptchaTokens: captchaTokens,
		ViolationLog:  violationLog,
		Reviews:       publisher,
		Feed:          hub,
	}
	if cfg.RecaptchaSecret != "" {
		h.Captcha = services.NewRecaptchaVerifier(cfg.RecaptchaSecret, "")
	} else {
		logrus.Warn("⚠️  RECAPTCHA_SECRET not set, CAPTCHA verification disabled")
	}

	gateway := routes.Gateway{
		Engine:  engine,
		Tracker: tracker,
		Limiter: services.NewUserRateLimiter(rdb, thresholdStore, clock),
		Tokens:  captchaTokens,
	}
	if cfg.UpstreamURL != "" {
		upstream, err := handlers.NewUpstreamProxy(cfg.UpstreamURL)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid SENSITIVE_UPSTREAM_URL")
		}
		gateway.Upstream = upstream
	} else {
		logrus.Warn("⚠️  SENSITIVE_UPSTREAM_URL not set, gateway mode disabled")
	}
	if cfg.APIToken == "" {
		logrus.Warn("⚠️  ABUSE_API_TOKEN not set, evaluate/record endpoints disabled")
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.IsProduction() {
		for _, mw := range middleware.ProductionSecurity() {
			r.Use(mw)
		}
		logrus.Info("✅ Production security enabled (security headers, per-IP + login rate limiting)")
	}

	routes.SetupRoutes(r, h, routes.Deps{
		Config:        cfg,
		UserSessions:  services.NewUserSessions(rdb),
		AdminSessions: h.AdminSessions,
		Gateway:       gateway,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.Infof("🚀 Abuse guard running on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}
