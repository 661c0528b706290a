package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zllovesuki/stripemirror/auth"
	"github.com/zllovesuki/stripemirror/broker"
	"github.com/zllovesuki/stripemirror/customer"
	"github.com/zllovesuki/stripemirror/db"
	"github.com/zllovesuki/stripemirror/event"
	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/handlers"
	"github.com/zllovesuki/stripemirror/metric"
	"github.com/zllovesuki/stripemirror/mirror"
	specBroker "github.com/zllovesuki/stripemirror/spec/broker"
	"github.com/zllovesuki/stripemirror/subscription"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		env = "development"
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Release:     Version,
		Debug:       env == "development",
	}); err != nil {
		log.Fatalf("Cannot initialize sentry: %v\n", err)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	metrics, err := metric.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("Cannot register metrics",
			zap.Error(err),
		)
	}

	// Initialize backend connections
	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	// Without a broker, events are handled inline by the webhook
	var producer specBroker.Producer
	switch {
	case os.Getenv("NATS_URI") != "":
		natsBroker, err := broker.NewNATSBroker(os.Getenv("NATS_URI"))
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		producer = natsBroker
	case os.Getenv("AMQP_URI") != "":
		amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		producer = amqpBroker
	default:
		logger.Warn("No broker configured, webhook events will be handled inline")
	}
	if producer != nil {
		producer, err = broker.NewDedupeProducer(broker.DedupeOptions{
			Producer: producer,
			Redis:    rdb,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal("Cannot initialize DedupeProducer",
				zap.Error(err),
			)
		}
		defer producer.Close()
	}

	var receipts mirror.ReceiptSender
	if os.Getenv("SEND_RECEIPTS") == "true" && producer != nil {
		receipts, err = broker.NewReceiptNotifier(producer)
		if err != nil {
			logger.Fatal("Cannot initialize ReceiptNotifier",
				zap.Error(err),
			)
		}
	}

	mirrorManager, err := mirror.NewManager(mirror.ManagerOptions{
		Provider: stripeClient,
		DB:       db,
		Logger:   logger,
		Receipts: receipts,
		Metrics:  metrics,
	})
	if err != nil {
		logger.Fatal("Cannot initialize MirrorManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Provider:       stripeClient,
		Mirror:         mirrorManager,
		DB:             db,
		Logger:         logger,
		PathToPlanJSON: os.Getenv("PLANS_JSON"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(customer.ManagerOptions{
		Provider:      stripeClient,
		Mirror:        mirrorManager,
		Subscriptions: subscriptionManager,
		DB:            db,
		Logger:        logger,
		DefaultPlan:   os.Getenv("DEFAULT_PLAN"),
		TrialDays:     trialDaysFromEnv(logger),
	})
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	auth, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	eventManager, err := event.NewManager(event.ManagerOptions{
		Provider: stripeClient,
		DB:       db,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		logger.Fatal("Cannot initialize EventManager",
			zap.Error(err),
		)
	}

	registry := event.NewRegistry()
	if err := handlers.Register(registry, handlers.Options{
		Mirror:    mirrorManager,
		Customers: customerManager,
		Logger:    logger,
	}); err != nil {
		logger.Fatal("Cannot register event handlers",
			zap.Error(err),
		)
	}

	dispatcher, err := event.NewDispatcher(event.DispatcherOptions{
		EventManager: eventManager,
		Registry:     registry,
		Producer:     producer,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Dispatcher",
			zap.Error(err),
		)
	}

	eventRouter, err := event.NewService(event.ServiceOptions{
		Auth:         auth,
		EventManager: eventManager,
		Dispatcher:   dispatcher,
		Producer:     producer,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Event Service Router",
			zap.Error(err),
		)
	}

	customerRouter, err := customer.NewService(customer.Options{
		Auth:            auth,
		CustomerManager: customerManager,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Customer Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rootRouter.Mount("/webhook", eventRouter.Router())
	rootRouter.Mount("/events", eventRouter.OperatorRouter())
	rootRouter.Mount("/customers", customerRouter.Router())
	rootRouter.Handle("/metrics", promhttp.Handler())

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":42069"
	}
	srv := &http.Server{
		Handler:      rootRouter,
		Addr:         addr,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 60,
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("API server started",
			zap.String("Addr", addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot serve HTTP",
				zap.Error(err),
			)
		}
	}()

	<-c

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown HTTP server gracefully",
			zap.Error(err),
		)
	}
}

// trialDaysFromEnv gives every new customer DEFAULT_TRIAL_DAYS of trial on
// the default plan. Without it new customers are not subscribed.
func trialDaysFromEnv(logger *zap.Logger) customer.TrialDaysFunc {
	v := os.Getenv("DEFAULT_TRIAL_DAYS")
	if v == "" {
		return nil
	}
	days, err := strconv.ParseInt(v, 10, 64)
	if err != nil || days < 0 {
		logger.Fatal("Invalid DEFAULT_TRIAL_DAYS",
			zap.String("Value", v),
		)
	}
	return func(cust *mirror.Customer) *int64 {
		return &days
	}
}
