// cmd/esign-service/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsnotify "subsidy-esign/internal/common/aws"
	"subsidy-esign/internal/common/auth"
	"subsidy-esign/internal/common/camunda"
	"subsidy-esign/internal/common/config"
	"subsidy-esign/internal/common/database"
	"subsidy-esign/internal/common/docusign"
	"subsidy-esign/internal/common/dropboxsign"
	"subsidy-esign/internal/common/graph"
	commonhttp "subsidy-esign/internal/common/http"
	"subsidy-esign/internal/common/logger"
	"subsidy-esign/internal/common/observability"
	"subsidy-esign/internal/models"
	"subsidy-esign/internal/server"
	"subsidy-esign/internal/signing/envelope"
	"subsidy-esign/internal/signing/fields"
	"subsidy-esign/internal/signing/pdffill"
	"subsidy-esign/internal/signing/pipeline"
	"subsidy-esign/internal/signing/storage"
	"subsidy-esign/internal/signing/webhook"
	"subsidy-esign/pkg/registry"

	ase "subsidy-esign/internal/workers/esign/archive-signed-envelope"
	ccs "subsidy-esign/internal/workers/esign/classify-company-size"
	css "subsidy-esign/internal/workers/esign/create-signing-session"
)

// retryWithBackoff runs operation until it succeeds or maxRetries is reached.
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}
		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	log.Info("service stopped", nil)
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	log.Info("Starting e-sign service...", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	// --- Shared token store (optional) ---
	var tokenOpts []auth.CacheOption
	if cfg.Redis.Enabled {
		rdb := database.NewRedis(cfg.Redis)
		defer rdb.Close()
		err := retryWithBackoff(func() error { return rdb.Ping(ctx) }, 5, time.Second, log, "Redis connection")
		if err != nil {
			return err
		}
		tokenOpts = append(tokenOpts, auth.WithStore(database.NewRedisTokenStore(rdb.Client, cfg.Redis.KeyPrefix)))
		log.Info("Redis token store connected", map[string]interface{}{"address": cfg.Redis.Address})
	}
	margin := time.Duration(cfg.Signing.TokenSafetyMargin) * time.Second

	// --- Signing providers ---
	providers, err := buildProviders(cfg, margin, tokenOpts, log)
	if err != nil {
		return err
	}

	// --- Templates and field catalogs ---
	templates, err := registry.LoadRegistry(cfg.Templates.RegistryPath)
	if err != nil {
		return fmt.Errorf("load template registry: %w", err)
	}
	filler := pdffill.NewFiller(templates, cfg.Templates.BaseDir, pdffill.NewPDFCPUWriter(), log)
	if err := filler.Preflight(); err != nil {
		return fmt.Errorf("template preflight: %w", err)
	}
	catalogs := fields.NewRegistry(fields.DefaultProviderCatalogs()...)
	for i := range templates.Templates {
		catalogs.Register(fields.CatalogFromTemplate(&templates.Templates[i]))
	}
	if err := catalogs.Validate(); err != nil {
		return fmt.Errorf("field catalogs: %w", err)
	}
	mapper := fields.NewMapper(catalogs, log)

	// --- Cloud storage ---
	var storeOpts []storage.Option
	if cfg.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Elasticsearch)
		if err != nil {
			return err
		}
		if err := es.Ping(ctx); err != nil {
			log.Warn("Elasticsearch unavailable, audit mirror may fail", map[string]interface{}{"error": err.Error()})
		}
		storeOpts = append(storeOpts, storage.WithAuditIndexer(es))
	}
	graphHTTP := commonhttp.NewClient(config.GetDuration(cfg.Storage.Graph.Timeout))
	graphCreds := auth.NewTokenCache("graph",
		auth.NewClientCredentials("graph", cfg.Storage.Graph.TokenURL, cfg.Storage.Graph.ClientID,
			cfg.Storage.Graph.ClientSecret, cfg.Storage.Graph.Scopes, graphHTTP.HTTPClient()),
		margin, log, tokenOpts...)
	drive := graph.NewClient(graph.OptionsFromConfig(cfg.Storage), graphCreds, graphHTTP, log)
	store := storage.NewService(drive, storage.OptionsFromConfig(cfg), log, storeOpts...)

	// --- Notifications ---
	notifier, err := awsnotify.NewNotifier(ctx, cfg.Notifications, log)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}

	// --- Pipeline and webhook processor ---
	signing := pipeline.New(providers, mapper, filler, pipeline.OptionsFromConfig(cfg.Signing), log,
		pipeline.WithObservability(obs))
	processorOpts := []webhook.Option{
		webhook.WithAlerter(notifier),
		webhook.WithNoticer(notifier),
		webhook.WithObservability(obs),
	}

	// --- Zeebe client (optional) ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err := retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda), log)
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			return err
		}
		defer zeebe.Close()
		processorOpts = append(processorOpts, webhook.WithPublisher(zeebe))
	}
	processorOpts = append(processorOpts, webhook.WithProcessTimeout(config.GetDuration(cfg.Server.WebhookTimeout)))
	processor := webhook.NewProcessor(providers, store, log, processorOpts...)

	if zeebe != nil {
		workers := []*camunda.Worker{
			ccs.NewWorker(ccs.NewHandler(log), config.GetWorkerConfig(cfg, ccs.TaskType), log),
			css.NewWorker(css.NewHandler(signing, log), config.GetWorkerConfig(cfg, css.TaskType), log),
			ase.NewWorker(ase.NewHandler(processor, log), config.GetWorkerConfig(cfg, ase.TaskType), log),
		}
		for _, w := range workers {
			if !config.IsWorkerEnabled(cfg, w.TaskType()) {
				log.Info("Worker is disabled, skipping registration", map[string]interface{}{"taskType": w.TaskType()})
				continue
			}
			w.Open(zeebe.GetClient())
		}
		defer func() {
			for _, w := range workers {
				w.Close()
			}
		}()
		log.Info("Zeebe workers started", map[string]interface{}{"count": len(workers)})
	}

	return server.New(cfg, signing, processor, log).ListenAndServe(ctx)
}

func buildProviders(cfg *config.Config, margin time.Duration, tokenOpts []auth.CacheOption, log logger.Logger) (*envelope.Registry, error) {
	var providers []envelope.Provider

	if ds := cfg.Signing.DocuSign; ds.Enabled {
		hc := commonhttp.NewClient(config.GetDuration(ds.Timeout))
		grant, err := auth.NewDocuSignJWT(ds, hc.HTTPClient())
		if err != nil {
			return nil, err
		}
		creds := auth.NewTokenCache(config.ProviderDocuSign, grant, margin, log, tokenOpts...)
		providers = append(providers, docusign.NewClient(docusign.OptionsFromConfig(cfg.Signing), creds, hc, log))
	}

	if dbs := cfg.Signing.DropboxSign; dbs.Enabled {
		hc := commonhttp.NewClient(config.GetDuration(dbs.Timeout))
		grant := auth.NewRefreshTokenGrant(config.ProviderDropboxSign, dbs.TokenURL, dbs.ClientID, dbs.ClientSecret,
			dbs.RefreshToken, hc.HTTPClient())
		creds := auth.NewTokenCache(config.ProviderDropboxSign, grant, margin, log, tokenOpts...)
		providers = append(providers, dropboxsign.NewClient(dropboxsign.OptionsFromConfig(dbs), creds, hc, log))
	}

	reg, err := envelope.NewRegistry(models.ProviderKind(cfg.Signing.DefaultProvider), providers...)
	if err != nil {
		return nil, fmt.Errorf("signing providers: %w", err)
	}
	log.Info("Signing providers configured", map[string]interface{}{
		"default":   cfg.Signing.DefaultProvider,
		"providers": reg.Kinds(),
	})
	return reg, nil
}
