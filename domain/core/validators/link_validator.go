package validators

import (
	"strings"
	"unicode/utf8"

	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// LinkValidator enforces the structural rules of a link mutation before it
// reaches a store.
type LinkValidator struct {
	registry           *registry.Registry
	maxLocationsLength int
}

// NewLinkValidator creates a validator over the kind registry
func NewLinkValidator(reg *registry.Registry, cfg *config.DomainConfig) *LinkValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &LinkValidator{
		registry:           reg,
		maxLocationsLength: cfg.MaxLocationsLength,
	}
}

// ValidateInput checks endpoints, pair legality, orientation and locations.
// An unsupported pair or a self link is returned as-is so callers can match it;
// field problems are collected into ValidationErrors.
func (v *LinkValidator) ValidateInput(in entities.LinkInput) error {
	validationErrors := errors.NewValidationErrors()

	if !in.From.Kind.IsValid() {
		validationErrors.Add("fromEntityKind", "unknown entity kind")
	}
	if strings.TrimSpace(in.From.ID) == "" {
		validationErrors.Add("fromEntityId", "from entity id is required")
	}
	if !in.To.Kind.IsValid() {
		validationErrors.Add("toEntityKind", "unknown entity kind")
	}
	if strings.TrimSpace(in.To.ID) == "" {
		validationErrors.Add("toEntityId", "to entity id is required")
	}
	if err := v.validateLocations("fromEntityLocations", in.FromLocations); err != nil {
		validationErrors.AddError(err)
	}
	if err := v.validateLocations("toEntityLocations", in.ToLocations); err != nil {
		validationErrors.AddError(err)
	}
	if validationErrors.HasErrors() {
		return validationErrors
	}

	if in.From.ID == in.To.ID {
		return errors.SelfLink(in.From.ID)
	}

	dir, err := v.registry.LinkDirection(in.From.Kind, in.To.Kind)
	if err != nil {
		return err
	}
	if dir.FromKind != in.From.Kind {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"LINK_ORIENTATION_MISMATCH",
			"link endpoints are reversed for this kind pair",
		).WithDetail("expectedFromKind", dir.FromKind.String()).
			WithDetail("fromEntityKind", in.From.Kind.String())
	}
	return nil
}

func (v *LinkValidator) validateLocations(field, value string) *errors.DomainError {
	if utf8.RuneCountInString(value) > v.maxLocationsLength {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"LOCATIONS_TOO_LONG",
			"locations exceed maximum length",
		).WithDetail("field", field).
			WithDetail("max_length", v.maxLocationsLength)
	}

	lower := strings.ToLower(value)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"MALICIOUS_CONTENT",
			"locations contain potentially malicious code",
		).WithDetail("field", field)
	}
	return nil
}
