package audit

import (
	_ "embed"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

type ruleFile struct {
	Kinds map[string]kindSpec `yaml:"kinds"`
}

type kindSpec struct {
	Fields []fieldSpec `yaml:"fields"`
	Links  []linkSpec  `yaml:"links"`
}

type fieldSpec struct {
	Field     string      `yaml:"field"`
	Predicate string      `yaml:"predicate"`
	Severity  vo.Severity `yaml:"severity"`
	Message   string      `yaml:"message"`
	Group     string      `yaml:"group"`
	AnyOf     []fieldSpec `yaml:"anyOf"`
}

type linkSpec struct {
	Kind     string      `yaml:"kind"`
	Min      *int        `yaml:"min"`
	Severity vo.Severity `yaml:"severity"`
	Group    string      `yaml:"group"`
	Mode     string      `yaml:"mode"`
	AnyOf    []linkSpec  `yaml:"anyOf"`
}

// ParseRules decodes a YAML rule file. Link groups without a mode use defaultMode.
func ParseRules(data []byte, defaultMode GroupMode) (map[vo.EntityKind]RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse audit rules: %w", err)
	}

	out := make(map[vo.EntityKind]RuleSet, len(f.Kinds))
	for name, spec := range f.Kinds {
		kind, err := vo.ParseEntityKind(name)
		if err != nil {
			return nil, err
		}
		rs, err := spec.toRuleSet(kind, defaultMode)
		if err != nil {
			return nil, fmt.Errorf("rules for %s: %w", kind, err)
		}
		out[kind] = rs
	}
	return out, nil
}

// ReadRulesFile reads and decodes a YAML rule file
func ReadRulesFile(path string, defaultMode GroupMode) (map[vo.EntityKind]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit rules %s: %w", path, err)
	}
	return ParseRules(data, defaultMode)
}

func (s kindSpec) toRuleSet(kind vo.EntityKind, defaultMode GroupMode) (RuleSet, error) {
	rs := RuleSet{Kind: kind}
	for _, fs := range s.Fields {
		r, err := fs.toRule()
		if err != nil {
			return RuleSet{}, err
		}
		rs.Fields = append(rs.Fields, r)
	}
	if len(s.Links) > 0 && !kind.IsLinkable() {
		return RuleSet{}, fmt.Errorf("kind %s is not linkable but has link rules", kind)
	}
	for _, ls := range s.Links {
		r, err := ls.toRule(defaultMode)
		if err != nil {
			return RuleSet{}, err
		}
		rs.Links = append(rs.Links, r)
	}
	return rs, nil
}

func (s fieldSpec) toRule() (FieldRule, error) {
	if s.Group == "" {
		return s.toSingle()
	}
	if len(s.AnyOf) == 0 {
		return nil, fmt.Errorf("field group %q has no members", s.Group)
	}
	g := FieldGroupRule{Name: s.Group, Severity: severityOr(s.Severity, vo.SeverityError)}
	for _, m := range s.AnyOf {
		if m.Group != "" {
			return nil, fmt.Errorf("field group %q: nested groups are not supported", s.Group)
		}
		single, err := m.toSingle()
		if err != nil {
			return nil, fmt.Errorf("field group %q: %w", s.Group, err)
		}
		g.Members = append(g.Members, single)
	}
	return g, nil
}

func (s fieldSpec) toSingle() (SingleFieldRule, error) {
	if s.Field == "" {
		return SingleFieldRule{}, fmt.Errorf("field rule without a field name")
	}
	p := Predicate(s.Predicate)
	if p == "" {
		p = PredNotBlank
	}
	if !p.Known() {
		return SingleFieldRule{}, fmt.Errorf("field %s: unknown predicate %q", s.Field, s.Predicate)
	}
	return SingleFieldRule{Field: s.Field, Severity: s.Severity, Predicate: p, Message: s.Message}, nil
}

func (s linkSpec) toRule(defaultMode GroupMode) (LinkRule, error) {
	if s.Group == "" {
		return s.toSingle(1)
	}
	if len(s.AnyOf) == 0 {
		return nil, fmt.Errorf("link group %q has no members", s.Group)
	}
	mode, err := ParseGroupMode(s.Mode, defaultMode)
	if err != nil {
		return nil, fmt.Errorf("link group %q: %w", s.Group, err)
	}
	g := LinkGroupRule{
		Name:     s.Group,
		Mode:     mode,
		Min:      intOr(s.Min, 1),
		Severity: severityOr(s.Severity, vo.SeverityError),
	}
	// members of a sum group only contribute counts; members of an any
	// group must each be able to satisfy the group on their own
	memberDefault := 0
	if mode == GroupModeAny {
		memberDefault = 1
	}
	for _, m := range s.AnyOf {
		if m.Group != "" {
			return nil, fmt.Errorf("link group %q: nested groups are not supported", s.Group)
		}
		single, err := m.toSingle(memberDefault)
		if err != nil {
			return nil, fmt.Errorf("link group %q: %w", s.Group, err)
		}
		g.Members = append(g.Members, single)
	}
	return g, nil
}

func (s linkSpec) toSingle(defaultMin int) (SingleLinkRule, error) {
	kind, err := vo.ParseEntityKind(s.Kind)
	if err != nil {
		return SingleLinkRule{}, err
	}
	if !kind.IsLinkable() {
		return SingleLinkRule{}, fmt.Errorf("kind %s is not linkable", kind)
	}
	required := intOr(s.Min, defaultMin)
	if required < 0 {
		return SingleLinkRule{}, fmt.Errorf("link rule for %s: min must not be negative", kind)
	}
	return SingleLinkRule{Kind: kind, Min: required, Severity: s.Severity}, nil
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// Catalog maps record kinds to rule sets. Reload swaps the whole map atomically.
type Catalog struct {
	current atomic.Pointer[map[vo.EntityKind]RuleSet]
}

// NewCatalog creates a catalog over rules
func NewCatalog(rules map[vo.EntityKind]RuleSet) *Catalog {
	c := &Catalog{}
	c.Reload(rules)
	return c
}

// DefaultCatalog returns the catalog built from the embedded rule file
func DefaultCatalog(defaultMode GroupMode) *Catalog {
	rules, err := ParseRules(defaultRulesYAML, defaultMode)
	if err != nil {
		panic(fmt.Sprintf("audit: embedded rules are invalid: %v", err))
	}
	return NewCatalog(rules)
}

// Reload replaces every rule set
func (c *Catalog) Reload(rules map[vo.EntityKind]RuleSet) {
	cp := make(map[vo.EntityKind]RuleSet, len(rules))
	for k, v := range rules {
		cp[k] = v
	}
	c.current.Store(&cp)
}

// For returns the rule set of kind; kinds without rules get an empty set, which always passes.
func (c *Catalog) For(kind vo.EntityKind) RuleSet {
	if rs, ok := (*c.current.Load())[kind]; ok {
		return rs
	}
	return RuleSet{Kind: kind}
}

// Kinds lists the kinds that have explicit rules
func (c *Catalog) Kinds() []vo.EntityKind {
	m := *c.current.Load()
	out := make([]vo.EntityKind, 0, len(m))
	for _, k := range vo.AllKinds() {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
