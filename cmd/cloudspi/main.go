// Command cloudspi runs the cloud SPI admin daemon, or resolves a free S3 bucket name with
// -find-bucket.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudspi/cloudspi/internal/cache"
	"github.com/cloudspi/cloudspi/internal/config"
	"github.com/cloudspi/cloudspi/internal/metrics"
	"github.com/cloudspi/cloudspi/internal/storage/s3"
	"github.com/cloudspi/cloudspi/pkg/api"
	"github.com/cloudspi/cloudspi/pkg/memmon"
	"github.com/cloudspi/cloudspi/pkg/provider"
	"github.com/cloudspi/cloudspi/pkg/retry"
	"github.com/cloudspi/cloudspi/pkg/types"
	"github.com/cloudspi/cloudspi/pkg/utils"
)

type options struct {
	configFile string
	findBucket string
	endpoint   string
	account    string
	region     string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("cloudspi", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configFile, "config", "", "Path to the YAML configuration file")
	fs.StringVar(&opts.findBucket, "find-bucket", "", "Print a free S3 bucket name derived from this base and exit")
	fs.StringVar(&opts.endpoint, "endpoint", "https://s3.amazonaws.com", "Cloud endpoint of the AWS provider")
	fs.StringVar(&opts.account, "account", os.Getenv("AWS_ACCOUNT_ID"), "Account number of the AWS provider")
	fs.StringVar(&opts.region, "region", os.Getenv("AWS_REGION"), "Region of the AWS provider")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// providerContext builds the AWS context from the flags and the standard AWS key variables.
func (o options) providerContext() *types.ProviderContext {
	return &types.ProviderContext{
		Cloud: types.Cloud{
			Name:         "aws",
			ProviderName: "Amazon Web Services",
			CloudName:    "AWS",
			Endpoint:     o.endpoint,
		},
		AccountNumber: o.account,
		RegionID:      o.region,
		Credentials:   types.NewAccessKeyCredentials(os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
		CustomProperties: map[string]string{
			s3.PropertySessionToken: os.Getenv("AWS_SESSION_TOKEN"),
		},
	}
}

func loadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// daemon is every long-lived component, wired from one configuration.
type daemon struct {
	cfg       *config.Configuration
	logger    *utils.StructuredLogger
	collector *metrics.Collector
	caches    *cache.Manager
	monitor   *memmon.MemoryMonitor
	clients   *s3.ClientFactory
	aws       *provider.CloudProvider
	server    *api.Server
	opts      []s3.NamespaceOption
}

func newDaemon(cfg *config.Configuration, logger *utils.StructuredLogger) (*daemon, error) {
	collector, err := metrics.NewCollector(cfg.MetricsConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	singletons := cache.DefaultRegistry()
	caches := cache.NewManager(cache.DefaultCollectionRegistry(), singletons, logger)

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	clients, err := s3.NewClientFactory(&cfg.S3, singletons, slogger, cfg.CacheOptions(collector, logger)...)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		caches:    caches,
		clients:   clients,
		aws:       provider.New("aws", cfg.ProviderConfig(collector, logger)),
		opts: []s3.NamespaceOption{
			s3.WithRetryer(retry.New(cfg.RetryConfig())),
			s3.WithOperationRecorder(collector),
		},
	}

	serverOpts := []api.Option{api.WithLogger(logger), api.WithMetrics(collector.Handler())}
	if breakers := cfg.CircuitManager(logger); breakers != nil {
		d.opts = append(d.opts, s3.WithBreakers(breakers))
		serverOpts = append(serverOpts, api.WithBreakers(breakers))
	}

	if cfg.Cache.MemoryPressure.Enabled {
		monitorConfig, err := cfg.MonitorConfig(logger)
		if err != nil {
			return nil, err
		}
		d.monitor = memmon.NewMemoryMonitor(monitorConfig)
		d.monitor.OnAlert(func(alert memmon.MemoryAlert) {
			collector.RecordMemoryAlert(alert.AlertType.String())
		})
		caches.WatchMemory(d.monitor)
		serverOpts = append(serverOpts, api.WithMemoryMonitor(d.monitor))
	}

	d.server = api.NewServer(api.ServerConfig{
		Address:      cfg.Admin.Address,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		IdleTimeout:  time.Minute,
	}, caches, serverOpts...)
	d.server.AddProvider(d.aws)

	return d, nil
}

func (d *daemon) namespace() *s3.BucketNamespace {
	return s3.NewBucketNamespace(d.aws, d.clients, d.opts...)
}

func (d *daemon) serve(ctx context.Context) error {
	if d.monitor != nil {
		if err := d.monitor.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = d.monitor.Stop() }()
	}
	if d.cfg.Admin.Enabled {
		d.server.StartBackground()
	}

	d.logger.Info("cloudspi started", map[string]interface{}{
		"admin":  d.cfg.Admin.Address,
		"caches": len(d.caches.Caches()),
	})
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.aws.Close()
	if err := d.aws.WaitClosed(shutdownCtx); err != nil {
		d.logger.Warn("Forcing provider shutdown", map[string]interface{}{"error": err.Error()})
		d.aws.Shutdown()
	}
	if d.cfg.Admin.Enabled {
		return d.server.Shutdown(shutdownCtx)
	}
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	if opts.findBucket != "" {
		if err := d.aws.Connect(opts.providerContext()); err != nil {
			return err
		}
		defer d.aws.Shutdown()
		name, ok, err := d.namespace().FindBucketName(ctx, opts.findBucket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no valid bucket name can be derived from %q", opts.findBucket)
		}
		_, err = fmt.Fprintln(stdout, name)
		return err
	}

	if opts.account != "" {
		if err := d.aws.Connect(opts.providerContext()); err != nil {
			return err
		}
	}
	return d.serve(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudspi: %v\n", err)
		os.Exit(1)
	}
}
