//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideStores,
	ProvideLinkStore,
	ProvideRecordRepository,
	ProvideConnectionRegistry,
	ProvideDomainConfig,
	ProvideRegistry,
	ProvideCatalog,
	ProvideLinkValidator,
	ProvideEventPublisher,
	ProvideClientNotifier,
	ProvideCloudWatchSink,
	ProvideCollector,
	ProvideMetricsRecorder,
	ProvideTracer,
	services.NewLinkService,
	services.NewAuditService,
	services.NewRecordService,
	ProvideAuthorizer,
	ProvideLinkManager,
	ProvideMasterContextStore,
	ProvideInMemoryCache,
	ProvideRulesWatcher,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideErrorHandler,
	ProvideJWTValidator,
	ProvideAuthConfig,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
