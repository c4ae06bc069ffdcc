package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands"
	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// LinkCommandHandler handles link mutations
type LinkCommandHandler struct {
	links  *services.LinkService
	logger *zap.Logger
}

// NewLinkCommandHandler creates a new link command handler
func NewLinkCommandHandler(links *services.LinkService, logger *zap.Logger) *LinkCommandHandler {
	return &LinkCommandHandler{
		links:  links,
		logger: logger,
	}
}

// HandleCreate executes a CreateLinkCommand and returns the stored link
func (h *LinkCommandHandler) HandleCreate(ctx context.Context, cmd commands.CreateLinkCommand) (interface{}, error) {
	in, err := cmd.Input()
	if err != nil {
		return nil, err
	}
	return h.links.CreateLink(ctx, in, cmd.UserID)
}

// HandleUpdate executes an UpdateLinkCommand and returns the stored link
func (h *LinkCommandHandler) HandleUpdate(ctx context.Context, cmd commands.UpdateLinkCommand) (interface{}, error) {
	in, err := cmd.Input()
	if err != nil {
		return nil, err
	}
	return h.links.UpdateLink(ctx, in, cmd.UserID)
}

// HandleDelete executes a DeleteLinkCommand
func (h *LinkCommandHandler) HandleDelete(ctx context.Context, cmd commands.DeleteLinkCommand) (interface{}, error) {
	if err := h.links.DeleteLink(ctx, cmd.ID, cmd.UserID); err != nil {
		return nil, err
	}
	return nil, nil
}

// RecordCommandHandler handles record saves and status changes
type RecordCommandHandler struct {
	records *services.RecordService
	logger  *zap.Logger
}

// NewRecordCommandHandler creates a new record command handler
func NewRecordCommandHandler(records *services.RecordService, logger *zap.Logger) *RecordCommandHandler {
	return &RecordCommandHandler{
		records: records,
		logger:  logger,
	}
}

// HandleSave executes a SaveRecordCommand
func (h *RecordCommandHandler) HandleSave(ctx context.Context, cmd commands.SaveRecordCommand) (interface{}, error) {
	kind, err := vo.ParseEntityKind(cmd.Kind)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	ref, err := vo.NewRecordRef(kind, cmd.ID)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return h.records.SaveRecord(ctx, ref, cmd.Label, cmd.Fields, cmd.UserID)
}

// HandleSetStatus executes a SetEntityStatusCommand
func (h *RecordCommandHandler) HandleSetStatus(ctx context.Context, cmd commands.SetEntityStatusCommand) (interface{}, error) {
	status, err := vo.ParseStatusKind(cmd.Status)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return h.records.SetEntityStatus(ctx, cmd.ID, status, cmd.UserID)
}

// typed adapts a handler method for one concrete command type to the bus
func typed[C bus.Command](fn func(context.Context, C) (interface{}, error)) bus.CommandHandler {
	return bus.CommandHandlerFunc(func(ctx context.Context, cmd bus.Command) (interface{}, error) {
		c, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("unexpected command type %T", cmd)
		}
		return fn(ctx, c)
	})
}

// RegisterAll wires every command handler into b
func RegisterAll(b *bus.CommandBus, links *LinkCommandHandler, records *RecordCommandHandler) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandler
	}{
		{commands.CreateLinkCommand{}, typed(links.HandleCreate)},
		{commands.UpdateLinkCommand{}, typed(links.HandleUpdate)},
		{commands.DeleteLinkCommand{}, typed(links.HandleDelete)},
		{commands.SaveRecordCommand{}, typed(records.HandleSave)},
		{commands.SetEntityStatusCommand{}, typed(records.HandleSetStatus)},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}
