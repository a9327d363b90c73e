package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/registry"
	"github.com/conduitmesh/core/statuscode"
)

const (
	conduitActive engine.StateID = iota + 1
	conduitClosing
	conduitClosed
	conduitFailed
)

const (
	evConduitClosed engine.EventID = iota + 1
	evConduitFailed
	evConduitCloseRequested
)

// Conduit is a framed, bidirectional view over one open ConnContext: it
// stamps outgoing payloads with a fresh packageId, and on receipt strips the
// packageId and either routes the body to a caller waiting for that exact
// reply (SendReceive's correlation) or to a generic inbound handler (Recv,
// Accept).
type Conduit struct {
	corectx.Base
	eng  *engine.Engine
	Conn *ConnContext

	onReceive func(pid handles.PackageID, body []byte)
	awaiting  map[handles.PackageID]func(body []byte)
}

// NewConduit wraps conn in a Conduit and registers it by connection id so
// unsolicited ReceiveEncPkg deliveries for that connection reach it. When
// conn has no connection id yet (an outbound connection still awaiting
// OPEN), the registration happens from conn's OnOpen callback instead.
func NewConduit(h handles.RaceHandle, driver corectx.Driver, conn *ConnContext) *Conduit {
	c := &Conduit{
		Base:     corectx.NewBase(h, corectx.KindConduit, driver),
		Conn:     conn,
		awaiting: make(map[handles.PackageID]func(body []byte)),
	}
	c.eng = engine.New(c.buildSpec())
	_ = c.eng.Start(&c.Context)

	register := func(connID handles.ConnectionID) {
		driver.Registry().RegisterID(string(connID), c)
		c.TrackID(string(connID))
	}
	if conn.ConnID != "" {
		register(conn.ConnID)
	} else {
		conn.OnOpen(register)
	}
	conn.AddDependent(c)
	return c
}

// OnDependencyFinished implements corectx.DependentNotifiable: the
// underlying connection closed cleanly.
func (c *Conduit) OnDependencyFinished(_ handles.RaceHandle) {
	_ = c.eng.HandleEvent(&c.Context, evConduitClosed)
}

// OnDependencyFailed implements corectx.DependentNotifiable: the underlying
// connection failed.
func (c *Conduit) OnDependencyFailed(_ handles.RaceHandle, _ error) {
	_ = c.eng.HandleEvent(&c.Context, evConduitFailed)
}

func (c *Conduit) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(conduitActive, conduitFailed)
	spec.AddState(conduitActive, engine.Hooks{})
	spec.AddState(conduitClosing, engine.Hooks{Enter: ignoreCtx(c.enterClosing)})
	spec.AddState(conduitClosed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterClosed)})
	spec.AddState(conduitFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterClosed)})

	spec.AddTransition(conduitActive, evConduitCloseRequested, conduitClosing)
	spec.AddTransition(conduitActive, evConduitClosed, conduitClosed)
	spec.AddTransition(conduitActive, evConduitFailed, conduitFailed)
	spec.AddTransition(conduitClosing, evConduitClosed, conduitClosed)
	spec.AddTransition(conduitClosing, evConduitFailed, conduitFailed)
	return spec
}

// OnReceivePackage implements corectx.PackageReceiver. It is invoked by the
// manager for every payload the plugin delivers on this conduit's
// connection, with the packageId already split from the body.
func (c *Conduit) OnReceivePackage(_ handles.ConnectionID, pid handles.PackageID, body []byte) {
	if handler, ok := c.awaiting[pid]; ok {
		delete(c.awaiting, pid)
		handler(body)
		return
	}
	if c.onReceive != nil {
		c.onReceive(pid, body)
	}
}

// SetReceiveHandler installs the handler invoked for inbound frames that are
// not a correlated reply (used by Recv/Accept-style contexts).
func (c *Conduit) SetReceiveHandler(fn func(pid handles.PackageID, body []byte)) {
	c.onReceive = fn
}

// Write frames body with a fresh packageId and writes it to the underlying
// connection under h, the calling context's own handle, so the eventual
// PACKAGE_SENT/PACKAGE_FAILED callback routes back to it. It returns the
// packageId so the caller may correlate a reply.
func (c *Conduit) Write(h handles.RaceHandle, body []byte) (handles.PackageID, error) {
	pid := handles.NewPackageID()
	if err := c.Conn.Write(h, Frame(pid, body)); err != nil {
		return "", err
	}
	return pid, nil
}

// ExpectReply registers interest in a reply carrying pid, invoking handler
// exactly once: immediately, if a matching package was already buffered as
// unassociated (it arrived before this call registered interest), or later
// when OnReceivePackage observes a live delivery for pid.
func (c *Conduit) ExpectReply(pid handles.PackageID, handler func(body []byte)) []registry.BufferedPackage {
	c.awaiting[pid] = handler
	drained := c.Driver().Registry().RegisterPackageID(pid, c.Conn.ConnID, c)
	c.TrackPackageKey(registry.PackageKey(pid, c.Conn.ConnID))
	if len(drained) > 0 {
		// The reply arrived and was buffered as unassociated before this
		// call registered interest in pid; deliver it now instead of
		// waiting for a delivery that already happened.
		delete(c.awaiting, pid)
		handler(drained[0].Payload)
	}
	return drained
}

// Close requests an orderly shutdown of the underlying connection. Any
// writes a dependent context has registered as still awaiting PACKAGE_SENT
// are failed with INTERNAL_ERROR first, so a write callback never hangs past
// a close — and since the dependent deregisters itself on completion, a
// PACKAGE_SENT that the plugin reports for one of those handles afterward
// finds nothing listening and is silently dropped.
func (c *Conduit) Close() error {
	c.NotifyDependentsFailed(statuscode.New(statuscode.InternalError))
	if err := c.Conn.Close(); err != nil {
		return err
	}
	return c.eng.HandleEvent(&c.Context, evConduitCloseRequested)
}

func (c *Conduit) enterClosing() error { return nil }

func (c *Conduit) enterClosed() error {
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
	c.Driver().Deregister(c)
	return nil
}
