package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/audit"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/registry"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

type countingCache struct{ cleared int }

func (c *countingCache) Clear() { c.cleared++ }

const twoPairs = `pairs:
  - {from: CLA, to: TOP}
  - {from: PER, to: TOP}
`

const topicRules = `kinds:
  TOP:
    fields:
      - {field: label, predicate: notBlank, severity: ERROR}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	kinds := filepath.Join(dir, "kinds.yaml")
	rules := filepath.Join(dir, "audit.yaml")
	writeFile(t, kinds, twoPairs)
	writeFile(t, rules, topicRules)

	reg := registry.Default()
	catalog := audit.DefaultCatalog(audit.GroupModeSum)
	cache := &countingCache{}
	w := NewWatcher(kinds, rules, audit.GroupModeSum, reg, catalog, zap.NewNop(), cache)

	require.NoError(t, w.LoadAll())
	assert.Len(t, reg.Pairs(), 2)
	assert.False(t, reg.CanLink(vo.KindClaim, vo.KindPerson))
	assert.Empty(t, catalog.For(vo.KindTopic).Links)
	assert.Equal(t, 2, cache.cleared)
}

func TestReloadKeepsRulesOnBadFile(t *testing.T) {
	dir := t.TempDir()
	kinds := filepath.Join(dir, "kinds.yaml")
	writeFile(t, kinds, `pairs:
  - {from: CLA, to: TOP}
  - {from: TOP, to: CLA}
`)

	reg := registry.Default()
	before := len(reg.Pairs())
	cache := &countingCache{}
	w := NewWatcher(kinds, "", audit.GroupModeSum, reg, audit.DefaultCatalog(audit.GroupModeSum), zap.NewNop(), cache)

	assert.Error(t, w.ReloadKinds())
	assert.Len(t, reg.Pairs(), before)
	assert.Zero(t, cache.cleared)
}

func TestWatcherPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	kinds := filepath.Join(dir, "kinds.yaml")
	writeFile(t, kinds, twoPairs)

	reg := registry.Default()
	w := NewWatcher(kinds, "", audit.GroupModeSum, reg, audit.DefaultCatalog(audit.GroupModeSum), zap.NewNop())
	w.debounce = 10 * time.Millisecond
	w.reloaded = make(chan string, 1)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeFile(t, kinds, `pairs:
  - {from: CLA, to: TOP}
`)

	select {
	case path := <-w.reloaded:
		assert.Equal(t, kinds, path)
	case <-time.After(5 * time.Second):
		t.Fatal("rules were not reloaded")
	}
	assert.Len(t, reg.Pairs(), 1)
}
