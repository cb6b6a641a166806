package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/floe/model"
)

// snapshot is an immutable collection of flow type definitions indexed by
// name.
type snapshot struct {
	flowTypes map[string]model.FlowTypeDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded flow type
// definitions. It is populated at startup and read-only thereafter; an
// atomic pointer swap keeps concurrent reads lock-free.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.FlowTypeDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.FlowTypeDefinition) {
	s := &snapshot{
		flowTypes: make(map[string]model.FlowTypeDefinition, len(defs)),
	}

	var checksumParts []string
	for _, def := range defs {
		s.flowTypes[def.Name] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// FlowType returns the flow type definition with the given name.
func (r *Registry) FlowType(name string) (model.FlowTypeDefinition, bool) {
	d, ok := r.current().flowTypes[name]
	return d, ok
}

// FirstPhase returns the first phase of a flow type in registry order.
func (r *Registry) FirstPhase(flowType string) (*model.PhaseDefinition, bool) {
	d, ok := r.current().flowTypes[flowType]
	if !ok || len(d.Phases) == 0 {
		return nil, false
	}
	return &d.Phases[0], true
}

// Phase returns the named phase of a flow type.
func (r *Registry) Phase(flowType, phase string) (*model.PhaseDefinition, bool) {
	d, ok := r.current().flowTypes[flowType]
	if !ok {
		return nil, false
	}
	p := d.Phase(phase)
	if p == nil {
		return nil, false
	}
	return p, true
}

// PhaseAfter returns the phase following the named one in registry order, or
// nil if the named phase is the last.
func (r *Registry) PhaseAfter(flowType, phase string) *model.PhaseDefinition {
	d, ok := r.current().flowTypes[flowType]
	if !ok {
		return nil
	}
	return d.PhaseAfter(phase)
}

// FlowTypeNames returns all registered flow type names, sorted.
func (r *Registry) FlowTypeNames() []string {
	s := r.current()
	names := make([]string, 0, len(s.flowTypes))
	for n := range s.flowTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
