package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/SamuraiViking/pos-register/internal/backend"
	"github.com/SamuraiViking/pos-register/internal/handlers"
	"github.com/SamuraiViking/pos-register/internal/payments"
	"github.com/SamuraiViking/pos-register/internal/platform/config"
	"github.com/SamuraiViking/pos-register/internal/platform/idempotency"
	"github.com/SamuraiViking/pos-register/internal/platform/jobs"
	"github.com/SamuraiViking/pos-register/internal/platform/observability"
	"github.com/SamuraiViking/pos-register/internal/platform/secrets"
	"github.com/SamuraiViking/pos-register/internal/platform/textutil"
	"github.com/SamuraiViking/pos-register/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("REGISTER_LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("register")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	events := observability.EventLogger(logger)

	device, err := newDeviceClient(cfg, events)
	if err != nil {
		logger.Fatal("failed to initialise card reader driver", zap.Error(err), zap.String("driver", cfg.Device.Driver))
	}

	backendClient, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithAuthToken(cfg.Backend.AuthToken),
	)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	var (
		publisher services.CheckoutPublisher
		topic     *pubsub.Topic
	)
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		psClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic = psClient.Topic(cfg.PubSub.Topic)
		defer topic.Stop()

		checkoutPublisher, err := jobs.NewPubSubCheckoutPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise checkout publisher", zap.Error(err))
		}
		publisher = checkoutPublisher
	} else {
		logger.Info("pubsub project not configured; checkout events disabled")
	}

	register, err := newRegister(cfg, device, backendClient, publisher, logger)
	if err != nil {
		logger.Fatal("failed to initialise register", zap.Error(err))
	}

	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.Backend.Timeout)
	if err := register.LoadCatalog(loadCtx); err != nil {
		// The operator can still pick an event; products are reloaded then.
		logger.Warn("initial catalog load failed", zap.Error(err))
	}
	cancelLoad()

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfo(cfg, startedAt)),
		handlers.WithReadinessCheck("backend", func(ctx context.Context) error {
			_, err := backendClient.ListEvents(ctx)
			return err
		}),
	}
	if topic != nil {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("pubsub", func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s not found", topic.ID())
			}
			return nil
		}))
	}

	var replayStore idempotency.Store = idempotency.NewMemoryStore()
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if path := strings.TrimSpace(cfg.Idempotency.StorePath); path != "" {
		boltStore, err := idempotency.OpenBoltStore(path)
		if err != nil {
			logger.Fatal("failed to open idempotency store", zap.Error(err), zap.String("path", path))
		}
		defer func() {
			if err := boltStore.Close(); err != nil {
				logger.Warn("idempotency store close error", zap.Error(err))
			}
		}()
		replayStore = boltStore

		if cfg.Idempotency.CleanupInterval > 0 {
			cleanupWG.Add(1)
			go func() {
				defer cleanupWG.Done()
				ticker := time.NewTicker(cfg.Idempotency.CleanupInterval)
				defer ticker.Stop()
				cleanupLogger := logger.Named("idempotency")
				for {
					select {
					case <-ticker.C:
						removed, err := boltStore.CleanupExpired(cleanupCtx, time.Now().UTC())
						if err != nil {
							cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
							continue
						}
						if removed > 0 {
							cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
						}
					case <-cleanupCtx.Done():
						return
					}
				}
			}()
		}
	}

	replay := idempotency.Middleware(
		replayStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	registerHandlers := handlers.NewRegisterHandlers(register, handlers.WithStepMiddlewares(replay))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithRegisterRoutes(registerHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("register listening", zap.String("driver", cfg.Device.Driver), zap.String("environment", cfg.Register.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if register.IsRunning() {
		if err := register.CancelPendingPayment(shutdownCtx); err != nil && !errors.Is(err, services.ErrNoPendingCollect) {
			logger.Warn("cancel pending payment on shutdown failed", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	projectID, err := config.Lookup("REGISTER_SECRETS_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	fallback, err := config.Lookup("REGISTER_SECRETS_FALLBACK_FILE")
	if err != nil {
		return nil, err
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(projectID),
	}
	if fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func newDeviceClient(cfg config.Config, logger payments.Logger) (services.DeviceClient, error) {
	switch cfg.Device.Driver {
	case config.DeviceDriverStripe:
		return payments.NewStripeTerminal(payments.StripeTerminalConfig{
			APIKey:       cfg.Device.Stripe.APIKey,
			LocationID:   cfg.Device.Stripe.LocationID,
			ReaderLabel:  cfg.Device.Stripe.ReaderLabel,
			PollInterval: cfg.Device.PollInterval,
			Logger:       logger,
		})
	case config.DeviceDriverSimulator:
		return payments.NewSimulator(payments.SimulatorConfig{
			CollectDelay: 2 * time.Second,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown device driver %q", cfg.Device.Driver)
	}
}

func newRegister(cfg config.Config, device services.DeviceClient, client *backend.Client, publisher services.CheckoutPublisher, logger *zap.Logger) (*services.Register, error) {
	events := observability.EventLogger(logger)

	terminal, err := services.NewTerminalSession(services.TerminalSessionDeps{
		Device:  device,
		Timeout: cfg.Device.Timeout,
		Logger:  events,
	})
	if err != nil {
		return nil, err
	}
	orders, err := services.NewOrderRecorder(services.OrderRecorderDeps{
		Backend: client,
		Workers: cfg.Backend.LineItemWorkers,
		Logger:  events,
	})
	if err != nil {
		return nil, err
	}

	workflowLogger := logger.Named("workflow")
	orchestrator, err := services.NewOrchestrator(services.OrchestratorDeps{
		Classifier: services.NewSubstringClassifier(services.DefaultClassificationRules),
		Logger:     events,
		OnStateChange: func(state services.WorkflowState) {
			workflowLogger.Debug("workflow state changed", zap.Bool("inFlight", state.InFlight), zap.Bool("hasError", state.LastError != nil))
		},
	})
	if err != nil {
		return nil, err
	}

	return services.NewRegister(services.RegisterDeps{
		Session:        services.NewSession(),
		Terminal:       terminal,
		Orders:         orders,
		Catalog:        client,
		Tickets:        client,
		Builder:        services.NewPaymentIntentBuilder(cfg.Register.Venues, cfg.Register.Currency, cfg.Register.TaxAmount),
		Orchestrator:   orchestrator,
		Publisher:      publisher,
		Sanitize:       textutil.SanitizeLabel,
		ReceiptProduct: cfg.Register.ReceiptProduct,
		Locale:         cfg.Register.Locale,
		Currency:       cfg.Register.Currency,
		Logger:         events,
	})
}

func buildInfo(cfg config.Config, startedAt time.Time) handlers.BuildInfo {
	version, _ := config.Lookup("REGISTER_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit, _ := config.Lookup("REGISTER_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Register.Environment,
		StartedAt:   startedAt,
	}
}
