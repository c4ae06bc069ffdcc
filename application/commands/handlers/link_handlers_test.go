package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands"
	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/validators"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

func newBus(t *testing.T) (*bus.CommandBus, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	reg := registry.Default()
	cfg := config.DefaultDomainConfig()
	logger := zap.NewNop()

	links := services.NewLinkService(store, store, reg, validators.NewLinkValidator(reg, cfg), nil, nil, logger)
	audits := services.NewAuditService(store, links, audit.DefaultCatalog(audit.GroupModeSum), nil, logger)
	records := services.NewRecordService(store, links, audits, nil, cfg, logger)

	b := bus.NewCommandBus(bus.LoggingMiddleware(logger.Sugar()))
	require.NoError(t, RegisterAll(b, NewLinkCommandHandler(links, logger), NewRecordCommandHandler(records, logger)))
	return b, store
}

func TestCommandBus_LinkLifecycle(t *testing.T) {
	ctx := context.Background()
	b, _ := newBus(t)

	_, err := b.Send(ctx, commands.SaveRecordCommand{Kind: "Claim", ID: "1", Label: "The claim", UserID: "alice"})
	require.NoError(t, err)
	_, err = b.Send(ctx, commands.SaveRecordCommand{Kind: "PER", ID: "7", Label: "Jane", UserID: "alice"})
	require.NoError(t, err)

	res, err := b.Send(ctx, commands.CreateLinkCommand{
		FromEntityKind:      "CLA",
		FromEntityID:        "1",
		FromEntityLocations: "p. 4",
		ToEntityKind:        "PER",
		ToEntityID:          "7",
		UserID:              "alice",
	})
	require.NoError(t, err)
	link, ok := res.(*entities.EntityLink)
	require.True(t, ok)
	assert.Equal(t, "p. 4", link.FromLocations)

	res, err = b.Send(ctx, commands.UpdateLinkCommand{
		ID:                link.ID,
		FromEntityKind:    "CLA",
		FromEntityID:      "1",
		ToEntityKind:      "PER",
		ToEntityID:        "7",
		ToEntityLocations: "bio",
		UserID:            "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "bio", res.(*entities.EntityLink).ToLocations)

	_, err = b.Send(ctx, commands.DeleteLinkCommand{ID: link.ID, UserID: "bob"})
	require.NoError(t, err)
}

func TestCommandBus_ValidationAndDomainErrors(t *testing.T) {
	ctx := context.Background()
	b, _ := newBus(t)

	_, err := b.Send(ctx, commands.CreateLinkCommand{FromEntityKind: "CLA", ToEntityKind: "PER", UserID: "alice"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = b.Send(ctx, commands.CreateLinkCommand{
		FromEntityKind: "Nope",
		FromEntityID:   "1",
		ToEntityKind:   "PER",
		ToEntityID:     "7",
		UserID:         "alice",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = b.Send(ctx, commands.CreateLinkCommand{
		FromEntityKind: "CLA",
		FromEntityID:   "1",
		ToEntityKind:   "JOU",
		ToEntityID:     "9",
		UserID:         "alice",
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedLinkPair)

	_, err = b.Send(ctx, commands.SetEntityStatusCommand{ID: "1", Status: "bogus", UserID: "alice"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestCommandBus_StatusChange(t *testing.T) {
	ctx := context.Background()
	b, store := newBus(t)

	_, err := b.Send(ctx, commands.SaveRecordCommand{Kind: "PER", ID: "7", Label: "Jane", UserID: "alice"})
	require.NoError(t, err)

	res, err := b.Send(ctx, commands.SetEntityStatusCommand{ID: "7", Status: "Deleted", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, vo.StatusDeleted, res.(*entities.TrackedRecord).Status())

	stored, err := store.GetByID(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, vo.StatusDeleted, stored.Status())
}

func TestCommandBus_UnknownCommand(t *testing.T) {
	b := bus.NewCommandBus()
	_, err := b.Send(context.Background(), commands.DeleteLinkCommand{ID: "x", UserID: "u"})
	assert.ErrorIs(t, err, bus.ErrHandlerNotFound)
}
