package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

func link(id string, fromKind vo.EntityKind, fromID string, toKind vo.EntityKind, toID string) *entities.EntityLink {
	return &entities.EntityLink{
		ID:             id,
		FromEntityKind: fromKind,
		FromEntityID:   fromID,
		ToEntityKind:   toKind,
		ToEntityID:     toID,
		Status:         vo.StatusDraft,
		CreatedAt:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolveLinks_SwapsPerspective(t *testing.T) {
	l := link("1", vo.KindClaim, "10", vo.KindTopic, "5")
	l.FromLocations = "para 2"
	raw := entities.RecordLinks{}

	topic := vo.RecordRef{Kind: vo.KindTopic, ID: "5"}
	raw.ToEntityLinks = []*entities.EntityLink{l}
	res := NewLinkResolver().ResolveLinks(topic, raw, func(ref vo.RecordRef) string { return "Claim " + ref.ID })

	require.Len(t, res.Links, 1)
	got := res.Links[0]
	assert.Equal(t, vo.KindClaim, got.OtherRecordKind)
	assert.Equal(t, "10", got.OtherRecordID)
	assert.Equal(t, "", got.ThisLocations)
	assert.Equal(t, "para 2", got.OtherLocations)
	assert.True(t, got.ThisRecordIsToEntity)
	assert.Equal(t, "Claim 10", got.OtherRecordLabel)

	claim := vo.RecordRef{Kind: vo.KindClaim, ID: "10"}
	res = NewLinkResolver().ResolveLinks(claim, entities.RecordLinks{FromEntityLinks: []*entities.EntityLink{l}}, nil)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "para 2", res.Links[0].ThisLocations)
	assert.False(t, res.Links[0].ThisRecordIsToEntity)
	assert.Empty(t, res.Links[0].OtherRecordLabel)
}

func TestResolveLinks_ExcludesAnomalies(t *testing.T) {
	record := vo.RecordRef{Kind: vo.KindClaim, ID: "10"}
	raw := entities.RecordLinks{
		FromEntityLinks: []*entities.EntityLink{
			link("1", vo.KindClaim, "10", vo.KindTopic, "5"),
			link("2", vo.KindClaim, "11", vo.KindTopic, "5"),
			link("3", vo.KindClaim, "10", vo.KindPerson, "10"),
			nil,
		},
		ToEntityLinks: []*entities.EntityLink{
			link("1", vo.KindClaim, "10", vo.KindTopic, "5"),
			link("4", vo.KindTopic, "7", vo.KindClaim, "10"),
		},
	}

	res := NewLinkResolver().ResolveLinks(record, raw, nil)

	ids := make([]string, 0, len(res.Links))
	for _, l := range res.Links {
		ids = append(ids, l.ID)
		assert.NotEqual(t, record.ID, l.OtherRecordID)
	}
	assert.Equal(t, []string{"1", "4"}, ids)

	reasons := map[string]string{}
	for _, a := range res.Anomalies {
		reasons[a.LinkID] = a.Reason
	}
	assert.Equal(t, AnomalyForeignLink, reasons["2"])
	assert.Equal(t, AnomalySelfLink, reasons["3"])
	assert.Equal(t, AnomalyDuplicate, reasons["1"])
	assert.Equal(t, AnomalyNilLink, reasons[""])
}

func TestResolveOne_RoundTripsToInput(t *testing.T) {
	l := link("9", vo.KindPerson, "3", vo.KindQuotation, "4")
	l.FromLocations, l.ToLocations = "p. 12", "line 3"

	rl, ok := NewLinkResolver().ResolveOne(vo.RecordRef{Kind: vo.KindQuotation, ID: "4"}, l)
	require.True(t, ok)

	in := rl.ToInput()
	assert.Equal(t, l.From(), in.From)
	assert.Equal(t, l.To(), in.To)
	assert.Equal(t, "p. 12", in.FromLocations)
	assert.Equal(t, "line 3", in.ToLocations)
	assert.Equal(t, "9", in.ID)

	_, ok = NewLinkResolver().ResolveOne(vo.RecordRef{Kind: vo.KindTopic, ID: "1"}, l)
	assert.False(t, ok)
}

func TestFilterByOtherKind(t *testing.T) {
	links := []entities.RecordLink{
		{ID: "1", OtherRecordKind: vo.KindClaim, OtherRecordID: "1"},
		{ID: "2", OtherRecordKind: vo.KindPerson, OtherRecordID: "2"},
		{ID: "3", OtherRecordKind: vo.KindClaim, OtherRecordID: "3", Status: vo.StatusDeleted},
	}

	claims := FilterByOtherKind(links, vo.KindClaim)
	assert.Len(t, claims, 2)
	assert.Empty(t, FilterByOtherKind(links, vo.KindTopic))

	_, found := FindByOther(links, vo.RecordRef{Kind: vo.KindClaim, ID: "3"})
	assert.False(t, found)
	got, found := FindByOther(links, vo.RecordRef{Kind: vo.KindPerson, ID: "2"})
	assert.True(t, found)
	assert.Equal(t, "2", got.ID)
}
