package main

import (
	"fmt"
	"os"

	"github.com/zllovesuki/stripemirror/auth"
	"github.com/zllovesuki/stripemirror/customer"
	"github.com/zllovesuki/stripemirror/db"
	"github.com/zllovesuki/stripemirror/event"
	"github.com/zllovesuki/stripemirror/external"
	"github.com/zllovesuki/stripemirror/handlers"
	"github.com/zllovesuki/stripemirror/mirror"
	"github.com/zllovesuki/stripemirror/subscription"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = ""
)

// app holds the managers shared by every command
type app struct {
	logger     *zap.Logger
	mirror     *mirror.Manager
	customers  *customer.Manager
	events     *event.Manager
	dispatcher *event.Dispatcher
}

func newApp(dotFile string, verbose bool) (*app, error) {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("Cannot initialize logger: %w", err)
	}
	logger = logger.With(zap.String("Version", Version))

	if err := godotenv.Load(dotFile); err != nil {
		return nil, fmt.Errorf("Cannot load configurations from %s: %w", dotFile, err)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))
	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger}
	a.mirror, err = mirror.NewManager(mirror.ManagerOptions{
		Provider: stripeClient,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Provider: stripeClient,
		Mirror:   a.mirror,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.customers, err = customer.NewManager(customer.ManagerOptions{
		Provider:      stripeClient,
		Mirror:        a.mirror,
		Subscriptions: subscriptionManager,
		DB:            db,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	a.events, err = event.NewManager(event.ManagerOptions{
		Provider: stripeClient,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	registry := event.NewRegistry()
	if err := handlers.Register(registry, handlers.Options{
		Mirror:    a.mirror,
		Customers: a.customers,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}
	a.dispatcher, err = event.NewDispatcher(event.DispatcherOptions{
		EventManager: a.events,
		Registry:     registry,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func main() {
	var (
		dotFile string
		verbose bool
		a       *app
	)

	rootCmd := &cobra.Command{
		Use:     "syncctl",
		Short:   "Operate the local Stripe mirror",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// minting tokens needs no database
			if cmd.Name() == "token" {
				return godotenv.Load(dotFile)
			}
			var err error
			a, err = newApp(dotFile, verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dotFile, "env-file", ".env.development", "dotenv file to load configuration from")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")

	getApp := func() *app { return a }
	rootCmd.AddCommand(syncCmd(getApp))
	rootCmd.AddCommand(purgeCmd(getApp))
	rootCmd.AddCommand(retryCmd(getApp))
	rootCmd.AddCommand(replayCmd(getApp))
	rootCmd.AddCommand(exceptionsCmd(getApp))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var (
		id    string
		email string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			a, err := auth.New(auth.Options{
				Logger:        logger,
				JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			})
			if err != nil {
				return err
			}
			token, err := a.CreateTokenFromClaims(auth.Claims{
				ID:    id,
				Email: email,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "operator ID placed in the token")
	cmd.Flags().StringVar(&email, "email", "", "operator email placed in the token")
	cmd.MarkFlagRequired("id")
	return cmd
}
