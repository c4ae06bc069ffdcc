package commands

import (
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/utils"
)

// CreateLinkCommand creates a link between two records. The endpoints must
// already be oriented the way the kind registry dictates.
type CreateLinkCommand struct {
	FromEntityKind      string `json:"fromEntityKind" validate:"required"`
	FromEntityID        string `json:"fromEntityId" validate:"required"`
	FromEntityLocations string `json:"fromEntityLocations"`
	ToEntityKind        string `json:"toEntityKind" validate:"required"`
	ToEntityID          string `json:"toEntityId" validate:"required"`
	ToEntityLocations   string `json:"toEntityLocations"`
	UserID              string `json:"-" validate:"required"`
}

// Validate checks the command's shape
func (c CreateLinkCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// Input converts the command to a link input. Kinds may be given as codes or names.
func (c CreateLinkCommand) Input() (entities.LinkInput, error) {
	return linkInput("", c.FromEntityKind, c.FromEntityID, c.FromEntityLocations, c.ToEntityKind, c.ToEntityID, c.ToEntityLocations)
}

// UpdateLinkCommand rewrites the endpoints and locations of an existing link
type UpdateLinkCommand struct {
	ID                  string `json:"id" validate:"required"`
	FromEntityKind      string `json:"fromEntityKind" validate:"required"`
	FromEntityID        string `json:"fromEntityId" validate:"required"`
	FromEntityLocations string `json:"fromEntityLocations"`
	ToEntityKind        string `json:"toEntityKind" validate:"required"`
	ToEntityID          string `json:"toEntityId" validate:"required"`
	ToEntityLocations   string `json:"toEntityLocations"`
	UserID              string `json:"-" validate:"required"`
}

// Validate checks the command's shape
func (c UpdateLinkCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// Input converts the command to a link input
func (c UpdateLinkCommand) Input() (entities.LinkInput, error) {
	return linkInput(c.ID, c.FromEntityKind, c.FromEntityID, c.FromEntityLocations, c.ToEntityKind, c.ToEntityID, c.ToEntityLocations)
}

func linkInput(id, fromKind, fromID, fromLocations, toKind, toID, toLocations string) (entities.LinkInput, error) {
	from, err := vo.ParseEntityKind(fromKind)
	if err != nil {
		return entities.LinkInput{}, apperrors.NewValidationError(err.Error())
	}
	to, err := vo.ParseEntityKind(toKind)
	if err != nil {
		return entities.LinkInput{}, apperrors.NewValidationError(err.Error())
	}
	return entities.LinkInput{
		ID:            id,
		From:          vo.RecordRef{Kind: from, ID: fromID},
		FromLocations: fromLocations,
		To:            vo.RecordRef{Kind: to, ID: toID},
		ToLocations:   toLocations,
	}, nil
}

// DeleteLinkCommand marks a link deleted
type DeleteLinkCommand struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"-" validate:"required"`
}

// Validate checks the command's shape
func (c DeleteLinkCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// SaveRecordCommand creates or updates a tracked record
type SaveRecordCommand struct {
	Kind   string                 `json:"kind" validate:"required"`
	ID     string                 `json:"id" validate:"required,max=64"`
	Label  string                 `json:"label" validate:"max=500"`
	Fields map[string]interface{} `json:"fields"`
	UserID string                 `json:"-" validate:"required"`
}

// Validate checks the command's shape
func (c SaveRecordCommand) Validate() error {
	return utils.ValidateStruct(c)
}

// SetEntityStatusCommand moves a record through its lifecycle
type SetEntityStatusCommand struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
	UserID string `json:"-" validate:"required"`
}

// Validate checks the command's shape
func (c SetEntityStatusCommand) Validate() error {
	return utils.ValidateStruct(c)
}
