// Command ironctl lists, uploads, downloads and deletes objects in one
// bucket of an S3-compatible store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/damacus/iron-objects/internal/config"
	"github.com/damacus/iron-objects/internal/kv"
	"github.com/damacus/iron-objects/internal/logging"
	"github.com/damacus/iron-objects/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the flags shared by every subcommand.
type app struct {
	configPath string
	endpoint   string
	region     string
	bucket     string
	insecure   bool
	retries    int
	storeURL   string
	save       bool
	logLevel   string

	// doer overrides the HTTP client; tests use it to reach a fake server.
	doer services.HTTPDoer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ironctl",
		Short:         "Work with objects in an S3-compatible bucket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", os.Getenv("IRON_CONFIG"), "path to YAML config file")
	flags.StringVar(&a.endpoint, "endpoint", "", "S3 endpoint host[:port] (default from config)")
	flags.StringVar(&a.region, "region", "", "signing region (default from config)")
	flags.StringVarP(&a.bucket, "bucket", "b", "", "bucket name (default IRON_BUCKET or the saved config)")
	flags.BoolVar(&a.insecure, "insecure", false, "use plain HTTP")
	flags.IntVar(&a.retries, "retries", 0, "attempts per request for network and 5xx errors (default from config)")
	flags.StringVar(&a.storeURL, "store", "", "where saved settings live: file://, redis:// or memory:// (default store.url from config)")
	flags.BoolVar(&a.save, "save", false, "persist the connection settings, with the secret sealed, after connecting")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLsCmd(a),
		newPutCmd(a),
		newGetCmd(a),
		newRmCmd(a),
		newForgetCmd(a),
	)
	return root
}

// session is a connected client plus what is needed to tear it down.
type session struct {
	client *services.Client
	bucket string
	close  func()
}

func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("endpoint") {
		cfg.S3.Endpoint = a.endpoint
	}
	if cmd.Flags().Changed("region") {
		cfg.S3.Region = a.region
	}
	if cmd.Flags().Changed("retries") {
		cfg.S3.Retries = a.retries
	}
	if a.storeURL != "" {
		cfg.Store.URL = a.storeURL
	}
	if a.insecure {
		useSSL := false
		cfg.S3.UseSSL = &useSSL
	}
	return cfg, cfg.Validate()
}

func (a *app) logger(cmd *cobra.Command) zerolog.Logger {
	return logging.New(a.logLevel, "text", cmd.ErrOrStderr())
}

func (a *app) configStore(cfg config.Config) (*services.ConfigStore, kv.KV, error) {
	store, err := kv.Open(cfg.Store.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return services.NewConfigStore(store, services.NewAuthService()), store, nil
}

// connect resolves credentials from IRON_* variables, then the AWS/MinIO
// environment and credential files, then the saved config, and connects.
func (a *app) connect(cmd *cobra.Command) (*session, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := a.logger(cmd)

	configs, store, err := a.configStore(cfg)
	if err != nil {
		return nil, err
	}

	base := cfg.BaseCredentials()
	base.Bucket = a.bucket
	providers := services.Providers{
		services.EnvProvider{Base: base},
		services.NewChainProvider(base),
		withFlags{
			CredentialProvider: services.StoredProvider{Store: configs},
			base:               base,
			endpoint:           cmd.Flags().Changed("endpoint"),
			region:             cmd.Flags().Changed("region"),
			insecure:           a.insecure,
		},
	}

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithRetry(cfg.RetryPolicy()),
	}
	if a.save {
		if os.Getenv(services.SessionKeyEnv) == "" {
			logger.Warn().Msgf("%s not set: the saved secret cannot be opened by a later run", services.SessionKeyEnv)
		}
		opts = append(opts, services.WithConfigStore(configs))
	}
	if a.doer != nil {
		opts = append(opts, services.WithHTTPClient(a.doer))
	}
	client := services.NewClient(base, opts...)

	if _, err := client.ConnectWithProvider(cmd.Context(), providers); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &session{
		client: client,
		bucket: client.State().Bucket,
		close: func() {
			// A saved session keeps its sealed secret for the next run.
			if !a.save {
				_ = client.Disconnect(context.Background())
			}
			_ = store.Close()
		},
	}, nil
}

// withFlags lets explicit --endpoint, --region, --insecure and --bucket
// flags win over saved settings.
type withFlags struct {
	services.CredentialProvider
	base     services.Credentials
	endpoint bool
	region   bool
	insecure bool
}

func (w withFlags) Retrieve(ctx context.Context) (services.Credentials, error) {
	creds, err := w.CredentialProvider.Retrieve(ctx)
	if err != nil {
		return services.Credentials{}, err
	}
	if w.endpoint || creds.Endpoint == "" {
		creds.Endpoint = w.base.Endpoint
		creds.UseSSL = w.base.UseSSL
	}
	if w.insecure {
		creds.UseSSL = false
	}
	if w.region || creds.Region == "" {
		creds.Region = w.base.Region
	}
	if w.base.Bucket != "" {
		creds.Bucket = w.base.Bucket
	}
	return creds, nil
}
