// Package readiness implements the terminal gate that must pass before a
// flow may transition to COMPLETED. The gate is a composable, ordered list of
// independent checks; it always runs every check so the caller receives the
// complete diagnostic picture, never just the first blocking reason.
package readiness

import (
	"context"
	"fmt"
	"sort"

	"github.com/pitabwire/floe/model"
)

// Check inspects a flow instance against its flow type definition and
// reports pass or fail with a machine-readable reason code and structured
// detail.
type Check func(ctx context.Context, def model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessCheckResult

// Registry holds named checks, resolved by flow definitions at startup.
type Registry struct {
	checks map[string]Check
}

// NewRegistry creates a Registry pre-populated with the built-in checks.
func NewRegistry() *Registry {
	r := &Registry{checks: make(map[string]Check)}
	registerBuiltins(r)
	return r
}

// Register adds a named check. Duplicate names panic; check sets are wired at
// startup and a collision is a programming error.
func (r *Registry) Register(name string, c Check) {
	if _, exists := r.checks[name]; exists {
		panic(fmt.Sprintf("readiness: check %q registered twice", name))
	}
	r.checks[name] = c
}

// Has reports whether a check with the given name exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.checks[name]
	return ok
}

// Names returns all registered check names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for n := range r.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Gate builds an evaluable gate from an ordered list of check names. Unknown
// names were rejected at registry load, so resolution here cannot fail for a
// validated definition; a stale name degrades to an explicit failing result
// rather than a silent skip.
func (r *Registry) Gate(names []string) *Gate {
	g := &Gate{names: names, registry: r}
	return g
}

// Gate evaluates an ordered set of checks against a flow instance.
type Gate struct {
	names    []string
	registry *Registry
}

// Evaluate runs every check in order and aggregates the results. It never
// short-circuits: a failing check does not prevent later checks from
// contributing their diagnostics.
func (g *Gate) Evaluate(ctx context.Context, def model.FlowTypeDefinition, inst *model.FlowInstance) model.ReadinessReport {
	report := model.ReadinessReport{Ready: true}
	for _, name := range g.names {
		check, ok := g.registry.checks[name]
		if !ok {
			report.Ready = false
			report.Results = append(report.Results, model.ReadinessCheckResult{
				Check:      name,
				Passed:     false,
				ReasonCode: "UNKNOWN_CHECK",
				Detail:     map[string]any{"name": name},
			})
			continue
		}
		result := check(ctx, def, inst)
		if !result.Passed {
			report.Ready = false
		}
		report.Results = append(report.Results, result)
	}
	return report
}
