// Package tools defines the closed set of query tools the service answers,
// each with its permitted field-groups and mandatory parameters. Request
// validation here is the only condition that aborts an entire request;
// everything past it degrades per field-group.
package tools

import (
	"fmt"
	"sort"
	"strings"
)

// GroupAll expands to every field-group of a tool.
const GroupAll = "all"

// Definition describes one tool.
type Definition struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Groups         []string `json:"field_groups"`
	RequiredParams []string `json:"required_params"`
}

// InvalidRequestError marks a caller input error, surfaced synchronously
// before any provider call is attempted.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return e.Message
}

// Registry is the closed tool catalog.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry returns the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	r.add(Definition{
		Name:           "token_overview",
		Description:    "Cross-validated token snapshot: basic info, market metrics, supply, social.",
		Groups:         []string{"basic", "market", "supply", "social"},
		RequiredParams: []string{"symbol"},
	})
	r.add(Definition{
		Name:           "derivatives_snapshot",
		Description:    "Futures market state: funding rate, open interest, long/short ratio.",
		Groups:         []string{"funding_rate", "open_interest", "long_short_ratio"},
		RequiredParams: []string{"symbol"},
	})
	return r
}

func (r *Registry) add(d Definition) {
	r.defs[d.Name] = d
	r.order = append(r.order, d.Name)
}

func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// ValidateQuery checks the tool name, expands and checks the requested
// field-groups, and verifies mandatory parameters. It returns the concrete
// group list to resolve.
func (r *Registry) ValidateQuery(tool string, include []string, params map[string]string) ([]string, error) {
	def, ok := r.defs[tool]
	if !ok {
		return nil, &InvalidRequestError{Message: fmt.Sprintf("unknown tool '%s'", tool)}
	}

	for _, p := range def.RequiredParams {
		if strings.TrimSpace(params[p]) == "" {
			return nil, &InvalidRequestError{Message: fmt.Sprintf("missing required parameter '%s'", p)}
		}
	}

	if len(include) == 0 {
		return append([]string(nil), def.Groups...), nil
	}

	allowed := make(map[string]struct{}, len(def.Groups))
	for _, g := range def.Groups {
		allowed[g] = struct{}{}
	}

	seen := make(map[string]struct{})
	var groups []string
	for _, g := range include {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == GroupAll {
			return append([]string(nil), def.Groups...), nil
		}
		if _, ok := allowed[g]; !ok {
			return nil, &InvalidRequestError{Message: fmt.Sprintf("unknown field-group '%s' for tool '%s'", g, tool)}
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}

	// Keep the tool's canonical ordering regardless of request order.
	sort.SliceStable(groups, func(i, j int) bool {
		return indexOf(def.Groups, groups[i]) < indexOf(def.Groups, groups[j])
	})
	return groups, nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return len(list)
}
