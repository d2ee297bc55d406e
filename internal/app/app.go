package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/cards"
	"github.com/contribuicha/cardreveal/internal/checkout"
	"github.com/contribuicha/cardreveal/internal/config"
	"github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/events"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/http/api/front"
	"github.com/contribuicha/cardreveal/internal/http/api/host"
	"github.com/contribuicha/cardreveal/internal/http/api/webhooks"
	"github.com/contribuicha/cardreveal/internal/logging"
	"github.com/contribuicha/cardreveal/internal/metrics"
	"github.com/contribuicha/cardreveal/internal/notify"
	"github.com/contribuicha/cardreveal/internal/ratelimit"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/contribuicha/cardreveal/internal/security"
	"github.com/contribuicha/cardreveal/internal/settings"
	"github.com/contribuicha/cardreveal/internal/unlock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// components holds the wired domain services for one process.
type components struct {
	db         *gorm.DB
	metrics    *metrics.Metrics
	gateway    gateway.Gateway
	machine    *cards.Machine
	events     *events.Service
	limiter    *ratelimit.Limiter
	unlock     *unlock.Service
	checkout   *checkout.Service
	reconciler *reconcile.Reconciler
	closers    []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if errClose := c.closers[i].Close(); errClose != nil {
			log.WithError(errClose).Warn("app: close component")
		}
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return errMigrate
	}
	log.Infof("migrations applied (dialect=%s)", db.DialectName(conn))
	return nil
}

// RunServer boots the HTTP API together with the background reconciler and retention loops.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, errLog := logging.Setup(appCfg.Logging)
	if errLog != nil {
		return errLog
	}
	defer func() { _ = logCloser.Close() }()

	conn, err := openAndMigrate(ctx, appCfg)
	if err != nil {
		return err
	}
	settings.StartRefresher(ctx, conn)

	comps, err := buildComponents(ctx, appCfg, conn, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer comps.Close()

	ratelimit.NewRetentionCleaner(conn).Start(ctx)
	reconcile.NewPoller(comps.reconciler).Start(ctx)

	if appCfg.Server.ReconcileOnBoot {
		go func() {
			summary, errReconcile := comps.reconciler.ReconcilePending(ctx, 0)
			if errReconcile != nil {
				log.WithError(errReconcile).Warn("app: boot reconcile failed")
				return
			}
			log.Infof("boot reconcile: checked=%d payments=%d cards=%d failed=%d", summary.Checked, summary.PaymentsUpdated, summary.CardsUpdated, summary.Failed)
		}()
	}

	engine := newRouter(appCfg, comps, prometheus.DefaultGatherer)
	server := &http.Server{
		Addr:              appCfg.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("starting cardreveal on %s (config=%s)", server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), appCfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// ReconcileOnce runs a single reconciliation pass over pending payments and exits.
func ReconcileOnce(ctx context.Context, cfg config.AppConfig, window time.Duration) (reconcile.Summary, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return reconcile.Summary{}, err
	}
	conn, err := openAndMigrate(ctx, appCfg)
	if err != nil {
		return reconcile.Summary{}, err
	}
	comps, err := buildComponents(ctx, appCfg, conn, prometheus.NewRegistry())
	if err != nil {
		return reconcile.Summary{}, err
	}
	defer comps.Close()
	return comps.reconciler.ReconcilePending(ctx, window)
}

// HostToken signs a bearer token for the host API.
func HostToken(cfg config.AppConfig, hostID string) (string, error) {
	hostID = strings.TrimSpace(hostID)
	if _, errParse := uuid.Parse(hostID); errParse != nil {
		return "", fmt.Errorf("app: host id must be a uuid: %w", errParse)
	}
	appCfg, err := config.Load(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return "", err
	}
	return security.GenerateHostToken(appCfg.JWT.Secret, hostID, appCfg.JWT.Expiry)
}

func openAndMigrate(ctx context.Context, appCfg config.Config) (*gorm.DB, error) {
	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("app: load settings snapshot failed, using defaults")
	}
	return conn, nil
}

// buildComponents wires storage, limiter, notifier, gateway and the domain services.
func buildComponents(ctx context.Context, appCfg config.Config, conn *gorm.DB, reg prometheus.Registerer) (*components, error) {
	m := metrics.MustNewMetrics(reg)
	comps := &components{
		db:      conn,
		metrics: m,
		machine: cards.NewMachine(conn, m),
	}
	comps.events = events.NewService(conn, comps.machine)

	store, errStore := newAttemptStore(ctx, appCfg.Redis, conn, comps)
	if errStore != nil {
		comps.Close()
		return nil, errStore
	}
	comps.limiter = ratelimit.New(store)

	var notifier notify.Notifier = notify.LogNotifier{}
	if strings.TrimSpace(appCfg.Resend.APIKey) != "" {
		notifier = notify.NewResendClient(notify.ResendConfig{
			APIKey:  appCfg.Resend.APIKey,
			BaseURL: appCfg.Resend.BaseURL,
			From:    appCfg.Resend.From,
			Timeout: appCfg.Resend.Timeout,
		}, m)
	} else {
		log.Warn("app: resend.api-key not set, unlock codes are logged instead of emailed")
	}

	stripeConfigured := strings.TrimSpace(appCfg.Stripe.SecretKey) != ""
	if !stripeConfigured {
		log.Warn("app: stripe.secret-key not set, checkout requests will fail upstream")
	}
	gw := gateway.NewStripeClient(gateway.StripeConfig{
		SecretKey: appCfg.Stripe.SecretKey,
		BaseURL:   appCfg.Stripe.BaseURL,
		Timeout:   appCfg.Stripe.Timeout,
	}, m)
	comps.gateway = gw

	comps.unlock = unlock.NewService(comps.machine, comps.limiter, notifier, comps.events, unlock.WithMetrics(m))
	comps.checkout = checkout.NewService(conn, comps.machine, comps.events, gw, checkout.Config{
		PublicBaseURL: appCfg.Server.PublicBaseURL,
		SuccessPath:   appCfg.Checkout.SuccessPath,
		CancelPath:    appCfg.Checkout.CancelPath,
		Currency:      appCfg.Stripe.Currency,
	}, checkout.WithMetrics(m))
	comps.reconciler = reconcile.NewReconciler(conn, comps.machine, gw,
		reconcile.WithMetrics(m),
		reconcile.WithPayouts(stripeConfigured),
	)
	return comps, nil
}

// newAttemptStore picks Redis when configured, otherwise the database table.
func newAttemptStore(ctx context.Context, cfg config.RedisConfig, conn *gorm.DB, comps *components) (ratelimit.Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return ratelimit.NewGormStore(conn), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: redis ping %s: %w", cfg.Addr, errPing)
	}
	comps.closers = append(comps.closers, client)
	log.Infof("unlock attempts stored in redis (addr=%s prefix=%s)", cfg.Addr, cfg.Prefix)
	return ratelimit.NewRedisStore(client, cfg.Prefix), nil
}

// newRouter builds the gin engine with every route group mounted.
func newRouter(appCfg config.Config, comps *components, gatherer prometheus.Gatherer) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogger(), logging.GinRecovery())

	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := comps.db.DB()
		if errDB == nil {
			errDB = sqlDB.PingContext(c.Request.Context())
		}
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": errDB.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	front.RegisterFrontRoutes(engine, front.Services{
		Events:     comps.events,
		Unlock:     comps.unlock,
		Checkout:   comps.checkout,
		Reconciler: comps.reconciler,
	})
	host.RegisterHostRoutes(engine, comps.db, appCfg.JWT, comps.events, comps.reconciler, comps.gateway)
	webhooks.RegisterWebhookRoutes(engine, comps.reconciler, appCfg.Stripe.WebhookSecret)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}
