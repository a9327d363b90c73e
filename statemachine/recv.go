package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
)

const (
	recvWaiting engine.StateID = iota + 1
	recvDelivered
	recvFailed
)

const (
	evRecvDelivered engine.EventID = iota + 1
	evRecvFailed
)

// Received is one inbound frame delivered to a RecvContext.
type Received struct {
	PackageID handles.PackageID
	Body      []byte
}

// RecvContext answers one outstanding "receive next package" request against
// an already-open Conduit. It installs itself as the conduit's generic
// receive handler for the lifetime of the wait and clears that handler once
// it resolves; a handler installed before it is not restored. At most one
// RecvContext at a time claims a given conduit's unsolicited deliveries —
// matching the synchronous single-consumer receive() façade.
type RecvContext struct {
	corectx.Base
	eng *engine.Engine

	Conduit *Conduit
	Result  chan Received

	lastErr error
}

// NewRecvContext begins waiting on conduit for its next unsolicited frame.
func NewRecvContext(h handles.RaceHandle, driver corectx.Driver, conduit *Conduit) *RecvContext {
	c := &RecvContext{
		Base:    corectx.NewBase(h, corectx.KindRecv, driver),
		Conduit: conduit,
		Result:  make(chan Received, 1),
	}
	c.eng = engine.New(c.buildSpec())
	_ = c.eng.Start(&c.Context)

	conduit.SetReceiveHandler(c.onFrame)
	conduit.AddDependent(c)
	return c
}

func (c *RecvContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(recvWaiting, recvFailed)
	spec.AddState(recvWaiting, engine.Hooks{})
	spec.AddState(recvDelivered, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddState(recvFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddTransition(recvWaiting, evRecvDelivered, recvDelivered)
	spec.AddTransition(recvWaiting, evRecvFailed, recvFailed)
	return spec
}

func (c *RecvContext) onFrame(pid handles.PackageID, body []byte) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.Result <- Received{PackageID: pid, Body: body}
	_ = c.eng.HandleEvent(&c.Context, evRecvDelivered)
}

// OnDependencyFinished implements corectx.DependentNotifiable: the conduit
// closed before a frame arrived.
func (c *RecvContext) OnDependencyFinished(_ handles.RaceHandle) {
	if c.eng.Finished(&c.Context) {
		return
	}
	_ = c.eng.HandleEvent(&c.Context, evRecvFailed)
}

// OnDependencyFailed implements corectx.DependentNotifiable.
func (c *RecvContext) OnDependencyFailed(_ handles.RaceHandle, err error) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.lastErr = err
	_ = c.eng.HandleEvent(&c.Context, evRecvFailed)
}

func (c *RecvContext) enterDone() error {
	c.Conduit.SetReceiveHandler(nil)
	c.Conduit.RemoveDependent(c.Handle())
	if c.State() == recvFailed {
		close(c.Result)
	}
	c.Driver().Deregister(c)
	return nil
}
