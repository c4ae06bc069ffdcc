// Package registry holds the table of linkable kind pairs and the storage
// direction of each pair. Readers and writers of links both consult it so
// that orientation is never decided at a call site.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

//go:embed default_pairs.yaml
var defaultPairsYAML []byte

// Filter property names on a linkable-entity list query
const (
	PropFromEntityID = "fromEntityId"
	PropToEntityID   = "toEntityId"
)

// Pair is one legal kind pair in storage orientation
type Pair struct {
	From valueobjects.EntityKind `yaml:"from" json:"fromKind"`
	To   valueobjects.EntityKind `yaml:"to" json:"toKind"`
}

// Direction is the answer for an unordered kind pair
type Direction struct {
	FromKind valueobjects.EntityKind `json:"fromKind"`
	ToKind   valueobjects.EntityKind `json:"toKind"`
}

// ThisIsFromWhenKindIs reports whether a record of kind occupies the from slot.
func (d Direction) ThisIsFromWhenKindIs(kind valueobjects.EntityKind) bool {
	return kind == d.FromKind
}

// Other returns the kind opposite kind within the pair
func (d Direction) Other(kind valueobjects.EntityKind) valueobjects.EntityKind {
	if kind == d.FromKind {
		return d.ToKind
	}
	return d.FromKind
}

type pairKey struct {
	a, b valueobjects.EntityKind
}

func keyOf(a, b valueobjects.EntityKind) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

type table struct {
	pairs      []Pair
	directions map[pairKey]Direction
}

// Registry is safe for concurrent use; Reload swaps the whole table atomically.
type Registry struct {
	current atomic.Pointer[table]
}

type pairFile struct {
	Pairs []Pair `yaml:"pairs"`
}

// New builds a registry from an explicit pair list
func New(pairs []Pair) (*Registry, error) {
	t, err := buildTable(pairs)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.current.Store(t)
	return r, nil
}

// Default returns the registry built from the embedded pair table
func Default() *Registry {
	pairs, err := Parse(defaultPairsYAML)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded pair table is invalid: %v", err))
	}
	r, err := New(pairs)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded pair table is invalid: %v", err))
	}
	return r
}

// Parse decodes a YAML pair table
func Parse(data []byte) ([]Pair, error) {
	var f pairFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pair table: %w", err)
	}
	return f.Pairs, nil
}

// LoadFile builds a registry from a YAML file
func LoadFile(path string) (*Registry, error) {
	pairs, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(pairs)
}

// ReadFile reads and decodes a YAML pair table
func ReadFile(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pair table %s: %w", path, err)
	}
	return Parse(data)
}

// Reload replaces the table. On error the previous table stays in effect.
func (r *Registry) Reload(pairs []Pair) error {
	t, err := buildTable(pairs)
	if err != nil {
		return err
	}
	r.current.Store(t)
	return nil
}

func buildTable(pairs []Pair) (*table, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("pair table is empty")
	}
	t := &table{
		pairs:      make([]Pair, 0, len(pairs)),
		directions: make(map[pairKey]Direction, len(pairs)),
	}
	for _, p := range pairs {
		if !p.From.IsLinkable() {
			return nil, fmt.Errorf("kind %s is not linkable", p.From)
		}
		if !p.To.IsLinkable() {
			return nil, fmt.Errorf("kind %s is not linkable", p.To)
		}
		if p.From == p.To {
			return nil, fmt.Errorf("self pair %s-%s is not allowed", p.From, p.To)
		}
		k := keyOf(p.From, p.To)
		if existing, ok := t.directions[k]; ok {
			if existing.FromKind == p.From {
				return nil, fmt.Errorf("pair %s->%s listed twice", p.From, p.To)
			}
			return nil, fmt.Errorf("pair %s-%s listed in both orientations", p.From, p.To)
		}
		t.directions[k] = Direction{FromKind: p.From, ToKind: p.To}
		t.pairs = append(t.pairs, p)
	}
	return t, nil
}

// LinkDirection returns the storage orientation for kinds a and b in either
// order, or an unsupported-pair error.
func (r *Registry) LinkDirection(a, b valueobjects.EntityKind) (Direction, error) {
	d, ok := r.current.Load().directions[keyOf(a, b)]
	if !ok || a == b {
		return Direction{}, pkgerrors.UnsupportedLinkPair(a.String(), b.String())
	}
	return d, nil
}

// CanLink reports whether kinds a and b may be linked
func (r *Registry) CanLink(a, b valueobjects.EntityKind) bool {
	_, err := r.LinkDirection(a, b)
	return err == nil
}

// Pairs returns the table in declaration order
func (r *Registry) Pairs() []Pair {
	t := r.current.Load()
	out := make([]Pair, len(t.pairs))
	copy(out, t.pairs)
	return out
}

// PartnersOf lists the kinds that kind may link to, sorted by code.
func (r *Registry) PartnersOf(kind valueobjects.EntityKind) []valueobjects.EntityKind {
	var out []valueobjects.EntityKind
	for _, p := range r.current.Load().pairs {
		switch kind {
		case p.From:
			out = append(out, p.To)
		case p.To:
			out = append(out, p.From)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Orient builds a direction-correct mutation input for a link between this
// and other, placing each side's locations in the matching slot.
func (r *Registry) Orient(this, other valueobjects.RecordRef, thisLocations, otherLocations string) (entities.LinkInput, error) {
	d, err := r.LinkDirection(this.Kind, other.Kind)
	if err != nil {
		return entities.LinkInput{}, err
	}
	if d.ThisIsFromWhenKindIs(this.Kind) {
		return entities.LinkInput{
			From: this, FromLocations: thisLocations,
			To: other, ToLocations: otherLocations,
		}, nil
	}
	return entities.LinkInput{
		From: other, FromLocations: otherLocations,
		To: this, ToLocations: thisLocations,
	}, nil
}

// FilterProperty names the list-query property that must hold the master
// record's id when listing listKind records linked to a masterKind record.
// ok is false when the kinds cannot be linked, including listKind == masterKind.
func (r *Registry) FilterProperty(listKind, masterKind valueobjects.EntityKind) (idProp string, ok bool) {
	d, err := r.LinkDirection(listKind, masterKind)
	if err != nil {
		return "", false
	}
	if d.ThisIsFromWhenKindIs(masterKind) {
		return PropFromEntityID, true
	}
	return PropToEntityID, true
}
