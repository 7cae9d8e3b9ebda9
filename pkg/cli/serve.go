package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/account"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/aclhook"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/broker"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/config"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/firewall"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/logging"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/meter"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/permcache"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/writelimit"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// mongoConnectTimeout bounds the initial store connection attempt.
const mongoConnectTimeout = 10 * time.Second

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker with the ACL and metering engine attached (foreground)",
	Example: `  # Start with defaults (Mongo on localhost, MQTT on :1883)
  aclmeterd serve

  # Start against a remote account store
  ACL_MONGO_URI=mongodb://db.internal:27017 aclmeterd serve

  # Start with a YAML options file
  aclmeterd serve --config /etc/aclmeterd/options.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveConfigFile)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Path to YAML options file")
}

func runServe(configFile string) error {
	opts, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(opts.LogLevel),
		Format: logging.ParseFormat(opts.LogFormat),
	})
	opts.LogStartup(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Account store.
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(opts.MongoURI))
	if err != nil {
		return fmt.Errorf("connect to account store: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()
	collection := client.Database(opts.MongoDatabase).Collection(opts.AccountsCollection)

	accounts := account.NewCache(collection, log)
	if err := accounts.Refresh(ctx); err != nil {
		// A cold store at startup is survivable: the cache stays empty and
		// the refresh loop (or the first JWT miss) fills it in.
		log.Warn("initial account refresh failed, starting with empty cache", "error", err)
	}

	// Packet filter. Flush once so a restart never inherits stale limits.
	fw := firewall.New(log)
	fw.Path = opts.IpsetPath
	fw.Flush(ctx)

	limiter := writelimit.New(fw)
	permCache := permcache.New()

	dispatcher := &aclhook.Dispatcher{
		Accounts:    accounts,
		PermCache:   permCache,
		RateLimiter: limiter,
		Log:         log,
	}
	hook := &aclhook.Hook{
		Dispatcher:      dispatcher,
		PermCache:       permCache,
		RateLimiterDrop: limiter,
		ResolveSecret: func(accountID string) (string, bool) {
			lookupCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
			defer cancel()
			return accounts.EnsureSecret(lookupCtx, accountID)
		},
		Log: log,
	}

	b, err := broker.New(broker.Config{
		ListenAddress:    opts.ListenAddress,
		WebsocketAddress: opts.WebsocketAddress,
	}, hook, log)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	// Background tasks: account refetch and meter flush.
	accounts.Start(ctx, opts.AccountRefreshInterval)
	flusher := meter.NewFlusher(collection, accounts, log, time.Now())
	flusher.Start(ctx, opts.MeterFlushInterval)

	// Prometheus endpoint.
	metricsSrv := &http.Server{
		Addr:    opts.MetricsAddress,
		Handler: promhttp.HandlerFor(metrics.NewRegistry(), promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("aclmeterd ready",
		"mqtt", opts.ListenAddress, "websocket", opts.WebsocketAddress,
		"metrics", opts.MetricsAddress)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := b.Stop(shutdownCtx, shutdownTimeout); err != nil {
		log.Warn("broker shutdown", "error", err)
	}
	accounts.Stop()
	flusher.Stop()
	// One last flush so up to an hour of metering isn't lost on restart.
	if err := flusher.Flush(shutdownCtx, time.Now()); err != nil {
		log.Warn("final meter flush failed", "error", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	return nil
}
