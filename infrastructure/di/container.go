package di

import (
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/linkmanager"
	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/rules"
	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	LinkStore   ports.LinkStore
	Records     ports.RecordRepository
	Connections ports.ConnectionRegistry
	Registry    *registry.Registry
	Catalog     *audit.Catalog
	Links       *services.LinkService
	Audits      *services.AuditService
	RecordSvc   *services.RecordService
	Sessions    *linkmanager.Manager
	Contexts    *mastercontext.Store
	CommandBus  *bus.CommandBus
	QueryBus    *querybus.QueryBus
	Cache       *InMemoryCache
	Watcher     *rules.Watcher
	Collector   *observability.Collector
	Tracer      *observability.Tracer
	Router      *rest.Router
}
