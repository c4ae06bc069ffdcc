package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

func TestDefaultCatalog_CoversLinkableKinds(t *testing.T) {
	c := DefaultCatalog(GroupModeSum)
	for _, k := range vo.LinkableKinds() {
		rs := c.For(k)
		assert.NotEmpty(t, rs.Fields, "kind %s", k)
		assert.NotEmpty(t, rs.Links, "kind %s", k)
	}
	assert.Empty(t, c.For(vo.KindUser).Fields)
	assert.Empty(t, c.For(vo.KindJournal).Links)
}

func TestDefaultCatalog_GroupShapes(t *testing.T) {
	c := DefaultCatalog(GroupModeSum)

	per := c.For(vo.KindPerson)
	group, ok := per.Fields[0].(FieldGroupRule)
	require.True(t, ok)
	assert.Equal(t, "name", group.Name)
	assert.Len(t, group.Members, 2)

	dec := c.For(vo.KindDeclaration)
	lg, ok := dec.Links[1].(LinkGroupRule)
	require.True(t, ok)
	assert.Equal(t, GroupModeAny, lg.Mode)
	for _, m := range lg.Members {
		assert.Equal(t, 1, m.Min)
	}

	cla := c.For(vo.KindClaim)
	evidence, ok := cla.Links[1].(LinkGroupRule)
	require.True(t, ok)
	assert.Equal(t, GroupModeSum, evidence.Mode)
	assert.Equal(t, 1, evidence.Min)
	assert.Len(t, evidence.Members, 4)
}

func TestParseRules_DefaultModeApplied(t *testing.T) {
	data := []byte(`
kinds:
  Claim:
    links:
      - group: support
        min: 1
        anyOf:
          - {kind: PER}
          - {kind: Publication}
`)
	rules, err := ParseRules(data, GroupModeAny)
	require.NoError(t, err)

	g := rules[vo.KindClaim].Links[0].(LinkGroupRule)
	assert.Equal(t, GroupModeAny, g.Mode)
	assert.Equal(t, 1, g.Members[0].Min)
}

func TestParseRules_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", "kinds:\n  XYZ:\n    fields: []\n"},
		{"unknown predicate", "kinds:\n  TOP:\n    fields:\n      - {field: label, predicate: shiny}\n"},
		{"links on non-linkable kind", "kinds:\n  JOU:\n    links:\n      - {kind: TOP}\n"},
		{"non-linkable link target", "kinds:\n  TOP:\n    links:\n      - {kind: USR}\n"},
		{"empty group", "kinds:\n  TOP:\n    links:\n      - {group: g}\n"},
		{"bad mode", "kinds:\n  TOP:\n    links:\n      - group: g\n        mode: most\n        anyOf: [{kind: CLA}]\n"},
		{"negative min", "kinds:\n  TOP:\n    links:\n      - {kind: CLA, min: -1}\n"},
		{"bad severity", "kinds:\n  TOP:\n    fields:\n      - {field: label, severity: FATAL}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.data), GroupModeSum)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_Reload(t *testing.T) {
	c := DefaultCatalog(GroupModeSum)
	c.Reload(map[vo.EntityKind]RuleSet{
		vo.KindTopic: {Kind: vo.KindTopic},
	})

	assert.Empty(t, c.For(vo.KindTopic).Links)
	assert.Empty(t, c.For(vo.KindClaim).Fields)
	assert.Equal(t, []vo.EntityKind{vo.KindTopic}, c.Kinds())
}
