package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/registry"
)

type fakeContextual struct {
	h handles.RaceHandle
}

func (f fakeContextual) Handle() handles.RaceHandle { return f.h }

// S5 — a package arrives for a packageId no context has registered interest
// in yet. It is buffered, and delivered exactly once, the moment a context
// finally registers against that packageId.
func TestRegistry_BufferedPackageDrainedOnRegister(t *testing.T) {
	r := registry.New()
	pid := handles.PackageID("pid-1")
	connID := handles.ConnectionID("conn-1")

	r.BufferUnassociated(pid, registry.BufferedPackage{ConnID: connID, Payload: []byte("early")})
	r.BufferUnassociated(pid, registry.BufferedPackage{ConnID: connID, Payload: []byte("early-2")})
	require.Equal(t, 2, r.UnassociatedCount())

	ctx := fakeContextual{h: 1}
	drained := r.RegisterPackageID(pid, connID, ctx)

	require.Len(t, drained, 2)
	require.Equal(t, []byte("early"), drained[0].Payload)
	require.Equal(t, []byte("early-2"), drained[1].Payload)
	require.Zero(t, r.UnassociatedCount(), "drained packages are removed from the buffer")

	require.Equal(t, []registry.Contextual{ctx}, r.LookupByPackageID(pid, connID), "draining registers nothing beyond the registering context")
}

// A context registered against a packageId before any package for it
// arrives gets nothing drained, and is itself registered under
// (packageId, connId).
func TestRegistry_RegisterBeforeArrivalDrainsNothing(t *testing.T) {
	r := registry.New()
	pid := handles.PackageID("pid-2")
	connID := handles.ConnectionID("conn-2")

	ctx := fakeContextual{h: 2}
	drained := r.RegisterPackageID(pid, connID, ctx)

	require.Empty(t, drained)
	require.Equal(t, []registry.Contextual{ctx}, r.LookupByPackageID(pid, connID))
}

// Unregister removes a context from every table it was registered in and
// prunes now-empty buckets, keeping registry symmetry (invariant 3).
func TestRegistry_UnregisterPrunesEmptyBuckets(t *testing.T) {
	r := registry.New()
	ctx := fakeContextual{h: 3}
	pid := handles.PackageID("pid-3")
	connID := handles.ConnectionID("conn-3")

	r.RegisterHandle(3, ctx)
	r.RegisterID("conn-3", ctx)
	r.RegisterPackageID(pid, connID, ctx)

	r.Unregister(ctx, []handles.RaceHandle{3}, []string{"conn-3"}, []string{registry.PackageKey(pid, connID)})

	require.Empty(t, r.LookupByHandle(3))
	require.Empty(t, r.LookupByID("conn-3"))
	require.Empty(t, r.LookupByPackageID(pid, connID))
}
