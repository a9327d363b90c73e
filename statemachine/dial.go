package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

const (
	dialPending engine.StateID = iota + 1
	dialConnected
	dialFailed
)

const (
	evDialConnected engine.EventID = iota + 1
	evDialFailed
)

// DialResult is delivered once on DialContext.Result: a ready Conduit for
// the caller to read/write on, or the error that prevented one.
type DialResult struct {
	Conduit *Conduit
	Err     error
}

// DialContext activates a channel and brings up a connection for ongoing,
// bidirectional use — unlike Send/SendReceive, it hands the live Conduit
// back to the caller rather than consuming it for a single payload.
type DialContext struct {
	corectx.Base
	eng *engine.Engine

	ChannelID handles.ChannelID
	Address   string

	Result  chan DialResult
	conduit *Conduit
	lastErr error
}

// NewDialContext begins dialing channelID at address.
func NewDialContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, address string) *DialContext {
	c := &DialContext{
		Base:      corectx.NewBase(h, corectx.KindDial, driver),
		ChannelID: channelID,
		Address:   address,
		Result:    make(chan DialResult, 1),
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

func (c *DialContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(dialPending, dialFailed)
	spec.AddState(dialPending, engine.Hooks{})
	spec.AddState(dialConnected, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterConnected)})
	spec.AddState(dialFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterFailed)})
	spec.AddTransition(dialPending, evDialConnected, dialConnected)
	spec.AddTransition(dialPending, evDialFailed, dialFailed)
	return spec
}

func (c *DialContext) onChannelActive() {
	connID, reused := c.Driver().ReuseOrStartConnection(c.ChannelID, c.Address, true)
	if reused {
		if conduit, ok := findConduit(c.Driver(), connID); ok {
			c.conduit = conduit
			_ = c.eng.HandleEvent(&c.Context, evDialConnected)
			return
		}
	}
	if err := requestLink(c.Handle(), c.Driver(), c.ChannelID, c.Address); err != nil {
		c.onFail(err)
	}
}

// OnLinkStatus implements corectx.LinkStatusListener.
func (c *DialContext) OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, _ plugin.LinkProperties) {
	switch status {
	case plugin.LinkCreated, plugin.LinkLoaded:
		conduit := completeConnection(c.Handle(), c.Driver(), c.ChannelID, linkID, c.Address, c)
		conduit.Conn.OnOpen(func(handles.ConnectionID) {
			c.conduit = conduit
			_ = c.eng.HandleEvent(&c.Context, evDialConnected)
		})
	case plugin.LinkFailed:
		c.onFail(statuscode.New(statuscode.PluginError))
	}
}

func (c *DialContext) onFail(err error) {
	if c.eng.Finished(&c.Context) {
		return
	}
	c.lastErr = err
	_ = c.eng.HandleEvent(&c.Context, evDialFailed)
}

func (c *DialContext) enterConnected() error {
	c.Result <- DialResult{Conduit: c.conduit}
	close(c.Result)
	c.Driver().Deregister(c)
	return nil
}

func (c *DialContext) enterFailed() error {
	c.Result <- DialResult{Err: c.lastErr}
	close(c.Result)
	c.Driver().Deregister(c)
	return nil
}
