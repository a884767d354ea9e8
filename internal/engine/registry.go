package engine

import (
	"fmt"
	"sort"

	"github.com/chris-regnier/vigil/internal/node"
)

// Registry holds rules grouped by subscribed kind. Registration order is
// the tie-break when several rules report at the same position.
type Registry struct {
	rules  []*Rule
	byID   map[string]int
	byKind [node.NumKinds][]*Rule
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register adds a rule. Registering an id twice is an error.
func (r *Registry) Register(rule *Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}
	if _, dup := r.byID[rule.ID]; dup {
		return fmt.Errorf("duplicate rule id %q", rule.ID)
	}
	r.byID[rule.ID] = len(r.rules)
	r.rules = append(r.rules, rule)
	seen := make(map[node.Kind]bool, len(rule.Kinds))
	for _, k := range rule.Kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		r.byKind[k] = append(r.byKind[k], rule)
	}
	return nil
}

// Get retrieves a rule by id.
func (r *Registry) Get(id string) (*Rule, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.rules[i], true
}

// Order returns the registration index of id, or -1.
func (r *Registry) Order(id string) int {
	if i, ok := r.byID[id]; ok {
		return i
	}
	return -1
}

// For returns the rules subscribed to k in registration order.
func (r *Registry) For(k node.Kind) []*Rule {
	if k >= node.NumKinds {
		return nil
	}
	return r.byKind[k]
}

// Rules returns every rule in registration order.
func (r *Registry) Rules() []*Rule { return r.rules }

// Len returns the number of registered rules.
func (r *Registry) Len() int { return len(r.rules) }

// IDs returns all registered rule ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		ids = append(ids, rule.ID)
	}
	sort.Strings(ids)
	return ids
}
