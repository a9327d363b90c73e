package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

const (
	sendPending engine.StateID = iota + 1
	sendSent
	sendFailed
)

const (
	evSendSucceeded engine.EventID = iota + 1
	evSendFailed
)

// SendContext drives a one-way, fire-and-forget send: activate the channel,
// obtain a connection (reused or freshly dialed), write the framed payload,
// and finish on the resulting PACKAGE_SENT/PACKAGE_FAILED_* callback.
type SendContext struct {
	corectx.Base
	eng *engine.Engine

	ChannelID handles.ChannelID
	Address   string
	Payload   []byte

	Result  chan error // closed embedders/tests can select on for completion
	lastErr error
	conduit *Conduit
}

// NewSendContext starts a send operation and returns immediately; completion
// is observed via Result or via a registered PackageStatusListener-style
// callback through the manager's façade.
func NewSendContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, address string, payload []byte) *SendContext {
	c := &SendContext{
		Base:      corectx.NewBase(h, corectx.KindSend, driver),
		ChannelID: channelID,
		Address:   address,
		Payload:   payload,
		Result:    make(chan error, 1),
	}
	c.eng = engine.New(c.buildSpec())
	driver.Registry().RegisterHandle(h, c)
	c.TrackHandle(h)

	_ = c.eng.Start(&c.Context)

	if address == "" {
		c.onChannelError(statuscode.New(statuscode.InvalidArgument))
		return c
	}
	driver.ActivateChannel(h, channelID, string(plugin.LinkSend), c.onChannelActive, c.onChannelError)
	return c
}

func (c *SendContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(sendPending, sendFailed)
	spec.AddState(sendPending, engine.Hooks{})
	spec.AddState(sendSent, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddState(sendFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterDone)})
	spec.AddTransition(sendPending, evSendSucceeded, sendSent)
	spec.AddTransition(sendPending, evSendFailed, sendFailed)
	return spec
}

func (c *SendContext) onChannelActive() {
	connID, reused := c.Driver().ReuseOrStartConnection(c.ChannelID, c.Address, true)
	if reused {
		if conduit, ok := findConduit(c.Driver(), connID); ok {
			c.writeOn(conduit)
			return
		}
	}
	if err := requestLink(c.Handle(), c.Driver(), c.ChannelID, c.Address); err != nil {
		c.onChannelError(err)
	}
}

func (c *SendContext) onChannelError(err error) {
	c.lastErr = err
	_ = c.eng.HandleEvent(&c.Context, evSendFailed)
}

// OnLinkStatus implements corectx.LinkStatusListener.
func (c *SendContext) OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, _ plugin.LinkProperties) {
	switch status {
	case plugin.LinkCreated, plugin.LinkLoaded:
		conduit := completeConnection(c.Handle(), c.Driver(), c.ChannelID, linkID, c.Address, c)
		c.writeOn(conduit)
	case plugin.LinkFailed:
		c.onChannelError(statuscode.New(statuscode.PluginError))
	}
}

func (c *SendContext) writeOn(conduit *Conduit) {
	if _, err := conduit.Write(c.Handle(), c.Payload); err != nil {
		c.onChannelError(err)
		return
	}
	c.conduit = conduit
	conduit.AddDependent(c)
}

// OnPackageStatus implements corectx.PackageStatusListener.
func (c *SendContext) OnPackageStatus(status plugin.PackageStatus) {
	switch status {
	case plugin.PackageSent:
		_ = c.eng.HandleEvent(&c.Context, evSendSucceeded)
	default:
		c.lastErr = statuscode.New(statuscode.PluginError)
		_ = c.eng.HandleEvent(&c.Context, evSendFailed)
	}
}

// OnDependencyFinished implements corectx.DependentNotifiable: the conduit
// it was writing through closed before PACKAGE_SENT arrived.
func (c *SendContext) OnDependencyFinished(_ handles.RaceHandle) {
	c.failFromConduit(statuscode.New(statuscode.InternalError))
}

// OnDependencyFailed implements corectx.DependentNotifiable: the conduit it
// was writing through closed or failed before PACKAGE_SENT arrived.
func (c *SendContext) OnDependencyFailed(_ handles.RaceHandle, err error) {
	c.failFromConduit(err)
}

func (c *SendContext) failFromConduit(err error) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.lastErr = err
	_ = c.eng.HandleEvent(&c.Context, evSendFailed)
}

func (c *SendContext) enterDone() error {
	if c.conduit != nil {
		c.conduit.RemoveDependent(c.Handle())
	}
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
	c.Result <- c.lastErr
	close(c.Result)
	c.Driver().Deregister(c)
	return nil
}

// findConduit locates the Conduit already registered for connID, if any.
func findConduit(driver corectx.Driver, connID handles.ConnectionID) (*Conduit, bool) {
	for _, ctx := range driver.Registry().LookupByID(string(connID)) {
		if conduit, ok := ctx.(*Conduit); ok {
			return conduit, true
		}
	}
	return nil, false
}
