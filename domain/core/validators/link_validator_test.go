package validators

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demonfiddler/evidence-engine-sub000/domain/config"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

func TestLinkValidator_ValidateInput(t *testing.T) {
	v := NewLinkValidator(registry.Default(), config.DefaultDomainConfig())
	claim := vo.RecordRef{Kind: vo.KindClaim, ID: "10"}
	topic := vo.RecordRef{Kind: vo.KindTopic, ID: "5"}

	tests := []struct {
		name    string
		input   entities.LinkInput
		wantErr error
		fields  []string
	}{
		{
			name:  "valid",
			input: entities.LinkInput{From: claim, To: topic, FromLocations: "para 2"},
		},
		{
			name:    "reversed orientation",
			input:   entities.LinkInput{From: topic, To: claim},
			wantErr: pkgerrors.NewDomainError(pkgerrors.DomainValidationError, "LINK_ORIENTATION_MISMATCH", ""),
		},
		{
			name:    "unsupported pair",
			input:   entities.LinkInput{From: claim, To: vo.RecordRef{Kind: vo.KindJournal, ID: "3"}},
			wantErr: pkgerrors.ErrUnsupportedLinkPair,
		},
		{
			name:    "self link",
			input:   entities.LinkInput{From: claim, To: vo.RecordRef{Kind: vo.KindTopic, ID: "10"}},
			wantErr: pkgerrors.ErrSelfLink,
		},
		{
			name:   "missing ids",
			input:  entities.LinkInput{From: vo.RecordRef{Kind: vo.KindClaim}, To: vo.RecordRef{Kind: vo.KindTopic}},
			fields: []string{"fromEntityId", "toEntityId"},
		},
		{
			name:   "locations too long",
			input:  entities.LinkInput{From: claim, To: topic, ToLocations: strings.Repeat("x", 501)},
			fields: []string{"toEntityLocations"},
		},
		{
			name:   "script in locations",
			input:  entities.LinkInput{From: claim, To: topic, FromLocations: "<script>alert(1)</script>"},
			fields: []string{"fromEntityLocations"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInput(tt.input)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case len(tt.fields) > 0:
				var ve *pkgerrors.ValidationErrors
				require.True(t, errors.As(err, &ve), "got %v", err)
				m := ve.ToMap()
				for _, f := range tt.fields {
					assert.Contains(t, m, f)
				}
			default:
				assert.NoError(t, err)
			}
		})
	}
}
