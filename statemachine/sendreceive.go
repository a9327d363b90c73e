package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

const (
	srPending engine.StateID = iota + 1
	srAwaitingReply
	srDone
	srFailed
)

const (
	evSRSent    engine.EventID = iota + 1
	evSRReplied
	evSRFailed
)

// SendReceiveContext drives a request/reply round trip over a (possibly
// reused) connection: send the framed request, then wait specifically for a
// reply frame carrying the same packageId, rather than for the connection's
// next arbitrary inbound frame — this is what lets a reused connection
// multiplex several outstanding sendReceive calls at once.
type SendReceiveContext struct {
	corectx.Base
	eng *engine.Engine

	ChannelID handles.ChannelID
	Address   string
	Payload   []byte

	Result  chan SendReceiveResult
	reply   []byte
	lastErr error
	conduit *Conduit
}

// SendReceiveResult is the outcome delivered on SendReceiveContext.Result.
type SendReceiveResult struct {
	Reply []byte
	Err   error
}

// NewSendReceiveContext starts the round trip.
func NewSendReceiveContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, address string, payload []byte) *SendReceiveContext {
	c := &SendReceiveContext{
		Base:      corectx.NewBase(h, corectx.KindSendReceive, driver),
		ChannelID: channelID,
		Address:   address,
		Payload:   payload,
		Result:    make(chan SendReceiveResult, 1),
	}
	c.eng = engine.New(c.buildSpec())
	driver.Registry().RegisterHandle(h, c)
	c.TrackHandle(h)

	_ = c.eng.Start(&c.Context)

	if address == "" {
		c.onFail(statuscode.New(statuscode.InvalidArgument))
		return c
	}
	driver.ActivateChannel(h, channelID, string(plugin.LinkSend), c.onChannelActive, c.onFail)
	return c
}

func (c *SendReceiveContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(srPending, srFailed)
	spec.AddState(srPending, engine.Hooks{})
	spec.AddState(srAwaitingReply, engine.Hooks{})
	spec.AddState(srDone, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddState(srFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddTransition(srPending, evSRSent, srAwaitingReply)
	spec.AddTransition(srPending, evSRFailed, srFailed)
	spec.AddTransition(srAwaitingReply, evSRReplied, srDone)
	spec.AddTransition(srAwaitingReply, evSRFailed, srFailed)
	return spec
}

func (c *SendReceiveContext) onChannelActive() {
	connID, reused := c.Driver().ReuseOrStartConnection(c.ChannelID, c.Address, true)
	if reused {
		if conduit, ok := findConduit(c.Driver(), connID); ok {
			c.writeOn(conduit)
			return
		}
	}
	if err := requestLink(c.Handle(), c.Driver(), c.ChannelID, c.Address); err != nil {
		c.onFail(err)
	}
}

// OnLinkStatus implements corectx.LinkStatusListener.
func (c *SendReceiveContext) OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, _ plugin.LinkProperties) {
	switch status {
	case plugin.LinkCreated, plugin.LinkLoaded:
		conduit := completeConnection(c.Handle(), c.Driver(), c.ChannelID, linkID, c.Address, c)
		c.writeOn(conduit)
	case plugin.LinkFailed:
		c.onFail(statuscode.New(statuscode.PluginError))
	}
}

func (c *SendReceiveContext) writeOn(conduit *Conduit) {
	pid, err := conduit.Write(c.Handle(), c.Payload)
	if err != nil {
		c.onFail(err)
		return
	}
	c.conduit = conduit
	conduit.AddDependent(c)
	conduit.ExpectReply(pid, c.onReply)
	_ = c.eng.HandleEvent(&c.Context, evSRSent)
}

func (c *SendReceiveContext) onReply(body []byte) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.reply = body
	_ = c.eng.HandleEvent(&c.Context, evSRReplied)
}

func (c *SendReceiveContext) onFail(err error) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.lastErr = err
	_ = c.eng.HandleEvent(&c.Context, evSRFailed)
}

// OnPackageStatus implements corectx.PackageStatusListener, catching a send
// failure reported before any reply could arrive.
func (c *SendReceiveContext) OnPackageStatus(status plugin.PackageStatus) {
	if status != plugin.PackageSent {
		c.onFail(statuscode.New(statuscode.PluginError))
	}
}

// OnDependencyFinished implements corectx.DependentNotifiable: the conduit
// it was waiting on closed before a reply arrived.
func (c *SendReceiveContext) OnDependencyFinished(_ handles.RaceHandle) {
	c.onFail(statuscode.New(statuscode.InternalError))
}

// OnDependencyFailed implements corectx.DependentNotifiable: the conduit it
// was waiting on closed or failed before a reply arrived.
func (c *SendReceiveContext) OnDependencyFailed(_ handles.RaceHandle, err error) {
	c.onFail(err)
}

func (c *SendReceiveContext) enterDone() error {
	if c.conduit != nil {
		c.conduit.RemoveDependent(c.Handle())
	}
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
	c.Result <- SendReceiveResult{Reply: c.reply, Err: c.lastErr}
	close(c.Result)
	c.Driver().Deregister(c)
	return nil
}
