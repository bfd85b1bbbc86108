// Package translate rewrites pack paths and file contents for the schema of a
// target game version.
package translate

import (
	"sort"
	"strings"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/version"
)

// categorySegment is the index of <category> in <namespace-root>/<ns>/<category>/...
const categorySegment = 2

// Rename maps a legacy category folder name to its modern one
type Rename struct {
	From string
	To   string
}

// RuleSet is a group of renames that take effect at Threshold
type RuleSet struct {
	Threshold float64
	Renames   []Rename
}

// DefaultDataRules is the folder singularization introduced at data schema 45
func DefaultDataRules() []RuleSet {
	return []RuleSet{
		{
			Threshold: 45,
			Renames: []Rename{
				{From: "structures", To: "structure"},
				{From: "advancements", To: "advancement"},
				{From: "recipes", To: "recipe"},
				{From: "loot_tables", To: "loot_table"},
				{From: "predicates", To: "predicate"},
				{From: "item_modifiers", To: "item_modifier"},
				{From: "functions", To: "function"},
			},
		},
	}
}

// PathTranslator rewrites the category segment of data and resource paths
type PathTranslator struct {
	data     []RuleSet
	resource []RuleSet
}

// NewPathTranslator creates a translator; rule sets are applied in ascending threshold order
func NewPathTranslator(data, resource []RuleSet) *PathTranslator {
	return &PathTranslator{
		data:     sortedRuleSets(data),
		resource: sortedRuleSets(resource),
	}
}

// DefaultPathTranslator uses the built in data rules and an empty resource table
func DefaultPathTranslator() *PathTranslator {
	return NewPathTranslator(DefaultDataRules(), nil)
}

func sortedRuleSets(sets []RuleSet) []RuleSet {
	out := make([]RuleSet, len(sets))
	copy(out, sets)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

// Translate rewrites the category segment of a module-relative path for entry.
// At or above a rule set's threshold legacy names become modern; below it the
// rename runs in reverse. Paths outside data/ and assets/ are returned unchanged.
func (t *PathTranslator) Translate(p string, entry version.Entry) string {
	segments := strings.Split(p, "/")
	if len(segments) <= categorySegment {
		return p
	}

	var (
		sets   []RuleSet
		schema float64
	)
	switch segments[0] {
	case domain.DataNamespace:
		sets, schema = t.data, entry.DataVersion
	case domain.ResourceNamespace:
		sets, schema = t.resource, entry.ResourceVersion
	default:
		return p
	}

	category := segments[categorySegment]
	for _, set := range sets {
		forward := schema >= set.Threshold
		for _, r := range set.Renames {
			from, to := r.From, r.To
			if !forward {
				from, to = to, from
			}
			if category == from {
				category = to
				break
			}
		}
	}

	if category == segments[categorySegment] {
		return p
	}
	segments[categorySegment] = category
	return strings.Join(segments, "/")
}

// Category returns the category segment of p, or "" when p has none
func Category(p string) string {
	segments := strings.SplitN(p, "/", categorySegment+2)
	if len(segments) <= categorySegment {
		return ""
	}
	return segments[categorySegment]
}
