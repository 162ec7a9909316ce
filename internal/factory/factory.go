package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"auth-security/internal/audit"
	"auth-security/internal/bucketing"
	"auth-security/internal/client"
	"auth-security/internal/config"
	"auth-security/internal/consumer"
	"auth-security/internal/detection"
	"auth-security/internal/enrichment"
	"auth-security/internal/hashing"
	"auth-security/internal/lockout"
	"auth-security/internal/normalizer"
	"auth-security/internal/repository"
	"auth-security/internal/repository/memory"
	"auth-security/internal/repository/redis"
	"auth-security/internal/repository/scylla"
	"auth-security/internal/service"
	"auth-security/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	logger *zap.Logger

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager

	// Repositories
	history  repository.EventHistory
	accounts repository.Accounts

	// Services
	exporter      *audit.Exporter
	enricher      *enrichment.Enricher
	eventService  *service.SecurityEventService
	authService   *service.AuthService
	accessPolicy  service.AccessPolicy
	eventConsumer *consumer.EventConsumer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	factory.initializeManagers()

	if err := factory.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	if err := factory.initializeAudit(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit export: %w", err)
	}
	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage_backend", cfg.Storage.Backend),
		util.Bool("redis_enabled", factory.redisClient != nil),
		util.Bool("kafka_ingest_enabled", factory.kafkaConsumer != nil),
	)

	return factory, nil
}

// initializeClients connects the optional backends. Outside production a
// failing optional backend is logged and skipped.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := f.config
	var initErrors []error

	if cfg.Redis.Enabled {
		if c, err := client.NewRedisClient(cfg, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
		}
	}

	if cfg.Storage.Backend == "scylla" {
		c, err := scylla.NewScyllaClient(cfg, util.Get())
		if err != nil {
			// the event history has no fallback once scylla is selected
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
		if err := c.EnsureSchema(ctx); err != nil {
			c.Close()
			return err
		}
	}

	if cfg.Kafka.AuditEnabled {
		if p, err := client.NewKafkaProducer(cfg, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka producer: %w", err))
		} else {
			f.kafkaProducer = p
		}
	}

	if cfg.Kafka.IngestEnabled {
		if c, err := client.NewKafkaConsumer(cfg, cfg.Kafka.IngestTopic, cfg.Kafka.GroupID, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka consumer: %w", err))
		} else {
			f.kafkaConsumer = c
		}
	}

	if cfg.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(cfg, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
		}
	}

	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.EnsureAuditTable(ctx, cfg.Clickhouse.AuditTable); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}

	if len(initErrors) > 0 {
		if cfg.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Int("event_buckets", f.bucketingManager.GetEventBuckets()),
	)
}

func (f *Factory) initializeRepositories() error {
	switch f.config.Storage.Backend {
	case "scylla":
		if f.scyllaClient == nil {
			return fmt.Errorf("scylla backend selected but client is not initialized")
		}
		f.history = scylla.NewEventRepository(f.scyllaClient, f.bucketingManager)
		f.accounts = scylla.NewAccountRepository(f.scyllaClient)
	default:
		f.history = memory.NewEventHistory()
		f.accounts = memory.NewAccounts()
		util.Warn("Using in-memory storage; events and accounts are lost on restart")
	}
	return nil
}

// initializeAudit assembles the sink set: the CEF log stream always, plus the
// file and every enabled backend.
func (f *Factory) initializeAudit() error {
	cfg := f.config
	sinks := []audit.Sink{audit.NewLogSink(f.logger)}

	if cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, cfg.Kafka.AuditTopic))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.AuditIndex))
	}
	if f.clickhouseClient != nil {
		sinks = append(sinks, audit.NewClickHouseSink(f.clickhouseClient, cfg.Clickhouse.AuditTable))
	}

	exporterCfg := audit.ExporterConfigFrom(cfg.Audit)
	f.exporter = audit.NewExporter(
		audit.HeaderFromConfig(cfg.Audit),
		audit.NewMultiSink(exporterCfg.SinkTimeout, sinks...),
		exporterCfg,
		f.logger,
	)
	return f.exporter.Start()
}

func (f *Factory) initializeServices() {
	cfg := f.config

	var locator enrichment.Locator
	if cfg.Geo.Enabled {
		var cache enrichment.GeoCache
		if f.redisClient != nil {
			cache = redis.NewGeoCache(f.redisClient)
		}
		locator = enrichment.NewGeoClient(cfg.Geo, cache, f.logger.Named("geo"))
	}
	f.enricher = enrichment.NewEnricher(locator)

	classifier := detection.NewClassifier(detection.FromAppConfig(cfg.Detection), f.history)
	f.eventService = service.NewSecurityEventService(f.history, normalizer.New(), classifier, f.exporter, f.logger)

	var locker lockout.Locker = lockout.NewLocalLocker()
	if f.redisClient != nil {
		locker = redis.NewUserLock(f.redisClient, cfg.Lockout.LockTTL)
	}
	policy := lockout.NewPolicy(f.accounts, f.history, f.eventService, locker,
		lockout.Config{ConsecutiveFailures: cfg.Lockout.ConsecutiveFailures}, f.logger)

	f.authService = service.NewAuthService(f.accounts, policy, f.hasher, f.logger)
	f.accessPolicy = service.NewAccessPolicy(cfg.Auth)

	if f.kafkaConsumer != nil {
		f.eventConsumer = consumer.NewEventConsumer(f.kafkaConsumer, f.eventService, f.enricher, f.logger)
	}
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.accounts.HealthCheck(ctx); err != nil {
		healthErrors["storage"] = err
	}
	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// Healthy reports only failures of the stores requests depend on. Audit
// backends degrade export, not the service.
func (f *Factory) Healthy(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	for _, name := range []string{"storage", "redis"} {
		if err, ok := healthErrors[name]; ok {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, err := range healthErrors {
		util.Warn("Audit backend unhealthy", util.String("backend", name), util.ErrorField(err))
	}
	return nil
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		// drain queued audit records before the sink clients go away
		if f.exporter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := f.exporter.Stop(ctx); err != nil {
				util.Error("Failed to stop audit exporter", util.ErrorField(err))
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) EventService() *service.SecurityEventService {
	return f.eventService
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) AccessPolicy() service.AccessPolicy {
	return f.accessPolicy
}

func (f *Factory) Enricher() *enrichment.Enricher {
	return f.enricher
}

// EventConsumer is nil unless Kafka ingestion is enabled
func (f *Factory) EventConsumer() *consumer.EventConsumer {
	return f.eventConsumer
}
