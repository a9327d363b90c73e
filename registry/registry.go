// Package registry provides the handle/id/packageId correlation tables the
// ApiManager uses to route plugin callbacks to the contexts that care about
// them, plus the UnassociatedPackages buffer for packages that arrive before
// any context has registered interest in their packageId.
//
// Registry is not safe for concurrent use: per invariant 4 of the runtime,
// all mutation happens on the ApiManager's single worker goroutine, so no
// internal locking is needed or taken.
package registry

import (
	"github.com/conduitmesh/core/handles"
)

// Contextual is the minimal interface a per-operation context must satisfy
// to be registered. The registry never downcasts or inspects a Contextual
// beyond its handle — dispatch of the looked-up set onto an engine event is
// the caller's (manager's) job.
type Contextual interface {
	Handle() handles.RaceHandle
}

// BufferedPackage is one package received before any context had registered
// the packageId it carries.
type BufferedPackage struct {
	ConnID  handles.ConnectionID
	Payload []byte // suffix only, i.e. with the packageId prefix already stripped
}

// packageKey builds the composite key used for the packageId+connId table.
func packageKey(pid handles.PackageID, connID handles.ConnectionID) string {
	return string(pid) + "\x1f" + string(connID)
}

// Registry holds the three correlation tables and the unassociated-package
// buffer described in the data model.
type Registry struct {
	byHandle    map[handles.RaceHandle]map[Contextual]struct{}
	byID        map[string]map[Contextual]struct{}
	byPackageID map[string]map[Contextual]struct{}

	unassociated map[handles.PackageID][]BufferedPackage
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byHandle:     make(map[handles.RaceHandle]map[Contextual]struct{}),
		byID:         make(map[string]map[Contextual]struct{}),
		byPackageID:  make(map[string]map[Contextual]struct{}),
		unassociated: make(map[handles.PackageID][]BufferedPackage),
	}
}

func insertInto(m map[Contextual]struct{}, c Contextual) map[Contextual]struct{} {
	if m == nil {
		m = make(map[Contextual]struct{}, 1)
	}
	m[c] = struct{}{}
	return m
}

// RegisterHandle registers ctx to be found by lookups on h.
func (r *Registry) RegisterHandle(h handles.RaceHandle, ctx Contextual) {
	r.byHandle[h] = insertInto(r.byHandle[h], ctx)
}

// RegisterID registers ctx to be found by lookups on a link or connection id.
func (r *Registry) RegisterID(id string, ctx Contextual) {
	r.byID[id] = insertInto(r.byID[id], ctx)
}

// RegisterPackageID registers ctx against (packageId, connId) and drains any
// packages that were buffered for that packageId before this registration,
// returning them so the caller can synthesize RECEIVE_PACKAGE events. Each
// buffered entry is delivered exactly once: the buffer is cleared here.
func (r *Registry) RegisterPackageID(pid handles.PackageID, connID handles.ConnectionID, ctx Contextual) []BufferedPackage {
	key := packageKey(pid, connID)
	r.byPackageID[key] = insertInto(r.byPackageID[key], ctx)

	drained := r.unassociated[pid]
	if len(drained) > 0 {
		delete(r.unassociated, pid)
	}
	return drained
}

// BufferUnassociated appends a package received for a packageId that no
// context has registered yet.
func (r *Registry) BufferUnassociated(pid handles.PackageID, pkg BufferedPackage) {
	r.unassociated[pid] = append(r.unassociated[pid], pkg)
}

// UnassociatedCount returns the number of packages currently buffered,
// across all packageIds — used to drive the buffered-package gauge.
func (r *Registry) UnassociatedCount() int {
	total := 0
	for _, pkgs := range r.unassociated {
		total += len(pkgs)
	}
	return total
}

// LookupByHandle returns every context registered against h.
func (r *Registry) LookupByHandle(h handles.RaceHandle) []Contextual {
	return toSlice(r.byHandle[h])
}

// LookupByID returns every context registered against id.
func (r *Registry) LookupByID(id string) []Contextual {
	return toSlice(r.byID[id])
}

// LookupByPackageID returns every context registered against (pid, connID).
func (r *Registry) LookupByPackageID(pid handles.PackageID, connID handles.ConnectionID) []Contextual {
	return toSlice(r.byPackageID[packageKey(pid, connID)])
}

// LookupUnion returns the union of LookupByHandle(h) and LookupByID(id),
// de-duplicated, matching the callback routing rule "union lookup by
// (handle, id)".
func (r *Registry) LookupUnion(h handles.RaceHandle, id string) []Contextual {
	seen := make(map[Contextual]struct{})
	var out []Contextual
	for _, c := range r.LookupByHandle(h) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for _, c := range r.LookupByID(id) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Unregister removes ctx from every table it may be registered in. Callers
// pass the full set of keys the context was registered under; unknown keys
// are ignored. Empty set entries are pruned so the maps never retain dead
// buckets — this is what keeps invariant 3 ("registry symmetry") true.
func (r *Registry) Unregister(ctx Contextual, handlesKeys []handles.RaceHandle, idKeys []string, packageKeys []string) {
	for _, h := range handlesKeys {
		removeFrom(r.byHandle, h, ctx)
	}
	for _, id := range idKeys {
		removeFrom(r.byID, id, ctx)
	}
	for _, pk := range packageKeys {
		removeFrom(r.byPackageID, pk, ctx)
	}
}

// PackageKey exposes the composite (packageId, connId) key so callers can
// remember which keys they registered under for later Unregister calls.
func PackageKey(pid handles.PackageID, connID handles.ConnectionID) string {
	return packageKey(pid, connID)
}

func removeFrom[K comparable](m map[K]map[Contextual]struct{}, key K, ctx Contextual) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, ctx)
	if len(set) == 0 {
		delete(m, key)
	}
}

func toSlice(m map[Contextual]struct{}) []Contextual {
	if len(m) == 0 {
		return nil
	}
	out := make([]Contextual, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}
