package registry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is the node catalog: a fixed builtin set registered at process
// start, plus a custom set discovered from disk that can be refreshed via
// Rediscover without disrupting in-flight lookups (spec.md §9 "Global
// mutable state" — the catalog is immutable after discovery, plus
// explicit rediscover operations).
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]TypeDef

	// custom holds an atomic snapshot (map[string]TypeDef) so that
	// Lookup never blocks on the mutex guarding Rediscover; readers load
	// the current snapshot pointer and use it for the whole lookup.
	custom atomic.Pointer[map[string]TypeDef]

	discoverer CustomDiscoverer
}

// CustomDiscoverer scans a filesystem root for custom-node manifests and
// returns the type definitions it found (see manifest.go).
type CustomDiscoverer interface {
	Discover() (map[string]TypeDef, error)
}

// New creates an empty catalog. Call RegisterBuiltin for each builtin type
// and SetDiscoverer + Rediscover to populate the custom registry.
func New() *Registry {
	r := &Registry{builtins: make(map[string]TypeDef)}
	empty := map[string]TypeDef{}
	r.custom.Store(&empty)
	return r
}

// RegisterBuiltin adds a builtin type definition. It panics on a duplicate
// name, matching the teacher registry's MustRegister semantics for
// process-start-time registration, where a duplicate is a programming
// error, not a runtime condition to recover from.
func (r *Registry) RegisterBuiltin(def TypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtins[def.Name()]; exists {
		panic("registry: builtin type " + def.Name() + " already registered")
	}
	r.builtins[def.Name()] = def
}

// SetDiscoverer installs the custom-node discoverer used by Rediscover.
func (r *Registry) SetDiscoverer(d CustomDiscoverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoverer = d
}

// Rediscover re-scans the custom-node root via the installed discoverer
// and atomically swaps in the new snapshot. Entries whose entry-point file
// no longer exists are refused by the discoverer itself (spec.md §4.2).
func (r *Registry) Rediscover() error {
	r.mu.RLock()
	d := r.discoverer
	r.mu.RUnlock()
	if d == nil {
		return nil
	}
	found, err := d.Discover()
	if err != nil {
		return err
	}
	r.custom.Store(&found)
	return nil
}

// Lookup returns the type definition for name, checking builtins first
// (builtin has priority over custom for reserved type names, spec.md
// §4.5).
func (r *Registry) Lookup(name string) (TypeDef, bool) {
	r.mu.RLock()
	def, ok := r.builtins[name]
	r.mu.RUnlock()
	if ok {
		return def, true
	}
	snapshot := *r.custom.Load()
	def, ok = snapshot[name]
	return def, ok
}

// Has reports whether a type name is registered (builtin or custom).
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// TypeNames returns every registered type name, builtins first, both
// sorted alphabetically — used to build "did you mean" suggestions for
// UNKNOWN_NODE_TYPE diagnostics (spec.md §4.3 phase 2).
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	snapshot := *r.custom.Load()
	customNames := make([]string, 0, len(snapshot))
	for name := range snapshot {
		customNames = append(customNames, name)
	}
	sort.Strings(customNames)
	return append(names, customNames...)
}
