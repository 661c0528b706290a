package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

// taskBroker is what the worker needs from a transport
type taskBroker interface {
	specBroker.Producer
	specBroker.Consumer
}

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	replayCapable := flag.Bool("replay", false, "task instance will also periodically replay unprocessed events")
	replayInterval := flag.Duration("replay-interval", time.Minute*10, "how often pending events are replayed")
	subscriptionTaskCapable := flag.Bool("subscription", false, "task instance will also be responsible for refreshing stale subscriptions")
	flag.Parse()

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
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
			"component": "task",
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

	var transport taskBroker
	if uri := os.Getenv("NATS_URI"); uri != "" {
		transport, err = broker.NewNATSBroker(uri)
	} else {
		transport, err = broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	}
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer transport.Close()

	producer, err := broker.NewDedupeProducer(broker.DedupeOptions{
		Producer: transport,
		Redis:    rdb,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize DedupeProducer",
			zap.Error(err),
		)
	}

	var receipts mirror.ReceiptSender
	if os.Getenv("SEND_RECEIPTS") == "true" {
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
		Provider: stripeClient,
		Mirror:   mirrorManager,
		DB:       db,
		Logger:   logger,
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
	})
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
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

	eventTask, err := event.NewTask(event.TaskOptions{
		Dispatcher:     dispatcher,
		Consumer:       transport,
		Logger:         logger,
		ReplayInterval: *replayInterval,
	})
	if err != nil {
		logger.Fatal("Cannot get event task",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	if err := eventTask.HandleTasks(ctx); err != nil {
		logger.Fatal("Cannot handle dispatch tasks",
			zap.Error(err),
		)
	}

	if *replayCapable {
		go eventTask.HandleReplay(ctx)
		logger.Info("Task instance will replay pending events")
	}

	if *subscriptionTaskCapable {
		subscriptionTask, err := subscription.NewTask(subscription.TaskOptions{
			SubscriptionManager: subscriptionManager,
			Logger:              logger,
		})
		if err != nil {
			logger.Fatal("Cannot get subscription task",
				zap.Error(err),
			)
		}
		go subscriptionTask.HandleRefresh(ctx)
		logger.Info("Task instance will run SubscriptionTask")
	}

	logger.Info("Event task started")

	<-c
	cancel()

}
