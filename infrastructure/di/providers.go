package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	cmdhandlers "github.com/demonfiddler/evidence-engine-sub000/application/commands/handlers"
	"github.com/demonfiddler/evidence-engine-sub000/application/linkmanager"
	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	queryhandlers "github.com/demonfiddler/evidence-engine-sub000/application/queries/handlers"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/validators"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	domainconfig "github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/messaging/eventbridge"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/notify/websocket"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/dynamodb"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/resilience"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/sqlite"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/rules"
	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest"
	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest/middleware"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/observability"
)

// Stores groups the three persistence ports served by one backend
type Stores struct {
	Links       ports.LinkStore
	Records     ports.RecordRepository
	Connections ports.ConnectionRegistry
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideStores opens the configured backend
func ProvideStores(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (*Stores, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		store := dynamodb.NewStore(client, dynamodb.Config{
			TableName:            cfg.DynamoDBTable,
			InboundIndex:         cfg.IndexName,
			OutboundIndex:        cfg.GSI2IndexName,
			ConnectionsTableName: cfg.ConnectionsTable,
		}, logger)
		logger.Info("Using DynamoDB store", zap.String("table", cfg.DynamoDBTable))
		return &Stores{Links: store, Records: store, Connections: store}, func() {}, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close SQLite store", zap.Error(err))
			}
		}
		return &Stores{Links: store, Records: store, Connections: store}, cleanup, nil

	case config.BackendMemory:
		store := memory.NewStore()
		logger.Warn("Using in-memory store; data is lost on exit")
		return &Stores{Links: store, Records: store, Connections: store}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// ProvideLinkStore returns the link store, behind a circuit breaker when enabled
func ProvideLinkStore(stores *Stores, cfg *config.Config, logger *zap.Logger) ports.LinkStore {
	if !cfg.CircuitBreakerEnabled {
		return stores.Links
	}
	return resilience.NewLinkStore(stores.Links, resilience.DefaultBreakerConfig("link-store"), logger)
}

// ProvideRecordRepository returns the record repository
func ProvideRecordRepository(stores *Stores) ports.RecordRepository {
	return stores.Records
}

// ProvideConnectionRegistry returns the WebSocket connection registry
func ProvideConnectionRegistry(stores *Stores) ports.ConnectionRegistry {
	return stores.Connections
}

// ProvideDomainConfig returns the business rules for the environment
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	dc := domainconfig.LoadDomainConfig(cfg.Environment)
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	return dc, nil
}

// ProvideRegistry returns the kind registry seeded with the built-in pairs
func ProvideRegistry() *registry.Registry {
	return registry.Default()
}

// ProvideCatalog returns the audit catalog seeded with the built-in rules
func ProvideCatalog(dc *domainconfig.DomainConfig) (*audit.Catalog, error) {
	mode, err := audit.ParseGroupMode(dc.DefaultLinkGroupMode, audit.GroupModeSum)
	if err != nil {
		return nil, err
	}
	return audit.DefaultCatalog(mode), nil
}

// ProvideLinkValidator creates the link validator
func ProvideLinkValidator(reg *registry.Registry, dc *domainconfig.DomainConfig) *validators.LinkValidator {
	return validators.NewLinkValidator(reg, dc)
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return eventbridge.NewNoopPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideClientNotifier pushes to WebSocket clients when an endpoint is
// configured and returns nil otherwise
func ProvideClientNotifier(cfg *config.Config, awsCfg aws.Config, connections ports.ConnectionRegistry, logger *zap.Logger) ports.ClientNotifier {
	if cfg.WebSocketEndpoint == "" {
		return nil
	}
	client := websocket.NewAPIClient(awsCfg, cfg.WebSocketEndpoint)
	return websocket.NewNotifier(client, connections, logger)
}

// ProvideCloudWatchSink returns nil unless CloudWatch export is enabled
func ProvideCloudWatchSink(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) (*observability.CloudWatchSink, func()) {
	if !cfg.EnableCloudWatch {
		return nil, func() {}
	}
	namespace := fmt.Sprintf("%s/%s", cfg.MetricsNamespace, cfg.Environment)
	sink := observability.NewCloudWatchSink(client, namespace, time.Minute, logger)
	sink.Start()
	return sink, sink.Close
}

// ProvideCollector creates the metrics collector
func ProvideCollector(cfg *config.Config, sink *observability.CloudWatchSink) *observability.Collector {
	namespace := strings.ToLower(strings.ReplaceAll(cfg.MetricsNamespace, "-", "_"))
	if sink == nil {
		return observability.NewCollector(namespace, nil)
	}
	return observability.NewCollector(namespace, sink)
}

// ProvideMetricsRecorder exposes the collector to the services
func ProvideMetricsRecorder(collector *observability.Collector) ports.MetricsRecorder {
	return collector
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("evidence-engine", cfg.EnableTracing)
}

// ProvideAuthorizer checks authorities of the user in the request context
func ProvideAuthorizer() ports.Authorizer {
	return auth.ContextAuthorizer{}
}

// ProvideLinkManager creates the link-manager session registry
func ProvideLinkManager(links *services.LinkService, authz ports.Authorizer, dc *domainconfig.DomainConfig, logger *zap.Logger) *linkmanager.Manager {
	return linkmanager.NewManager(links, authz, dc, logger)
}

// ProvideMasterContextStore creates the per-session master context store
func ProvideMasterContextStore(reg *registry.Registry, notifier ports.ClientNotifier, publisher ports.EventPublisher, dc *domainconfig.DomainConfig, logger *zap.Logger) *mastercontext.Store {
	return mastercontext.NewStore(reg, notifier, publisher, dc, logger)
}

// ProvideInMemoryCache creates the query cache
func ProvideInMemoryCache(cfg *config.Config) (*InMemoryCache, func()) {
	cache := NewInMemoryCache(cfg.QueryCacheTTL)
	return cache, cache.Close
}

// ProvideRulesWatcher loads the rule files and, when asked, watches them.
// Each reload clears the query cache.
func ProvideRulesWatcher(cfg *config.Config, reg *registry.Registry, catalog *audit.Catalog, dc *domainconfig.DomainConfig, cache *InMemoryCache, logger *zap.Logger) (*rules.Watcher, func(), error) {
	mode, err := audit.ParseGroupMode(dc.DefaultLinkGroupMode, audit.GroupModeSum)
	if err != nil {
		return nil, nil, err
	}
	w := rules.NewWatcher(cfg.KindRulesFile, cfg.AuditRulesFile, mode, reg, catalog, logger, cache)
	if err := w.LoadAll(); err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	if !cfg.WatchRules || (cfg.KindRulesFile == "" && cfg.AuditRulesFile == "") {
		return w, func() {}, nil
	}
	if err := w.Start(); err != nil {
		return nil, nil, err
	}
	return w, w.Stop, nil
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	links *services.LinkService,
	records *services.RecordService,
	collector *observability.Collector,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.LoggingMiddleware(logger.Sugar()),
		bus.MetricsMiddleware(collector),
	)
	err := cmdhandlers.RegisterAll(commandBus,
		cmdhandlers.NewLinkCommandHandler(links, logger),
		cmdhandlers.NewRecordCommandHandler(records, logger),
	)
	if err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers. Registry
// lookups are cached; the rules watcher clears the cache on reload.
func ProvideQueryBus(
	links *services.LinkService,
	records *services.RecordService,
	audits *services.AuditService,
	contexts *mastercontext.Store,
	cache *InMemoryCache,
	cfg *config.Config,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus()

	var caching *querybus.CachingMiddleware
	if cfg.QueryCacheTTL > 0 {
		caching = querybus.NewCachingMiddleware(cache, cfg.QueryCacheTTL)
	}
	handler := queryhandlers.NewLinkQueryHandler(links, records, audits, contexts, logger)
	if err := queryhandlers.RegisterAll(queryBus, handler, caching); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvideErrorHandler creates the HTTP error handler
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *apperrors.ErrorHandler {
	return apperrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideJWTValidator creates the token validator; without a secret only
// gateway-authorized requests get through
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; bearer tokens will be rejected")
		return nil, nil
	}
	var audience []string
	if cfg.JWTAudience != "" {
		audience = strings.Split(cfg.JWTAudience, ",")
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      audience,
	})
}

// ProvideAuthConfig assembles authentication and rate limiting
func ProvideAuthConfig(cfg *config.Config, validator *auth.JWTValidator, client *awsdynamodb.Client) middleware.AuthConfig {
	authCfg := middleware.AuthConfig{
		Validator:    validator,
		TrustGateway: cfg.IsLambda,
	}
	if cfg.RateLimitPerMinute <= 0 {
		return authCfg
	}

	if cfg.StoreBackend == config.BackendDynamoDB {
		// Lambda instances share the counters through the table
		limiter := auth.NewDistributedRateLimiter(client, cfg.DynamoDBTable, cfg.RateLimitPerMinute, time.Minute)
		authCfg.IPLimiter = auth.NewIPRateLimiter(limiter)
		authCfg.UserLimiter = auth.NewUserRateLimiter(limiter)
		return authCfg
	}
	limiter := auth.NewPerMinuteLimiter(cfg.RateLimitPerMinute)
	authCfg.IPLimiter = auth.NewIPRateLimiter(limiter)
	authCfg.UserLimiter = auth.NewUserRateLimiter(limiter)
	return authCfg
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	audits *services.AuditService,
	sessions *linkmanager.Manager,
	contexts *mastercontext.Store,
	records ports.RecordRepository,
	errs *apperrors.ErrorHandler,
	authConfig middleware.AuthConfig,
	collector *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *rest.Router {
	options := rest.Options{
		EnableCORS: cfg.EnableCORS,
		Ready: func(ctx context.Context) error {
			_, err := records.List(ctx, ports.RecordCriteria{Kind: vo.KindTopic, Limit: 1})
			return err
		},
	}
	if !cfg.EnableMetrics {
		collector = nil
	}
	return rest.NewRouter(commandBus, queryBus, audits, sessions, contexts, errs, authConfig, collector, tracer, options, logger)
}
