// Package statemachine declares the concrete engine.Spec for every
// per-operation context the runtime drives: connections, conduits
// (a framed connection pair), and the public-facing operations (send, recv,
// sendReceive, dial, listen, accept, resume, the two bootstrap variants) and
// preConduit, the shared link/connection negotiation the listen/accept and
// bootstrap-listen paths hand off to.
//
// The engine-driven contexts here (connection, conduit, send, recv,
// sendReceive, dial, preConduit) follow the same shape: an embedded
// corectx.Base, an *engine.Engine field built fresh per instance (its Hooks are closures
// over the owning context, so there is one Spec value per context rather
// than one shared across every instance of a kind — cheap, since a Spec is
// small, and it keeps hook wiring in plain idiomatic Go instead of reaching
// for unsafe pointer arithmetic to recover "self" from a bare
// *engine.Context), and a set of On* methods implementing the corectx
// listener interfaces the manager type-asserts against when routing plugin
// callbacks. State transitions read/write plain struct fields rather than
// carrying data on events, matching engine.Context's "mutate fields, then
// fire a bare event" design. The listen, accept, resume and bootstrap
// contexts have no engine and complete through plain callbacks.
package statemachine

import (
	"fmt"

	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

// Connection states, grounded on the OPEN/CLOSE lifecycle described for the
// connection state machine in the source's ConduitStateMachine.cpp, reduced
// here to the bytes-in/bytes-out concern: link creation is the caller's job,
// a ConnContext exists once an OpenConnection plugin request is about to be
// (or has been) issued.
const (
	connAwaitingOpen engine.StateID = iota + 1
	connOpen
	connPaused
	connClosing
	connClosed
	connFailed
)

const (
	evConnOpened engine.EventID = iota + 1
	evConnTempError
	evConnClosed
	evConnFailed
	evCloseRequested
)

// ConnContext drives one plugin connection: it issues the OpenConnection
// request, queues writes until OPEN, forwards them to the plugin once open,
// and pauses writes across a TEMP_ERROR. A requested close issues
// CloseConnection at once without waiting for outstanding writes; writes
// still queued at that point are never sent.
type ConnContext struct {
	corectx.Base
	eng *engine.Engine

	ChannelID handles.ChannelID
	LinkID    handles.LinkID
	ConnID    handles.ConnectionID
	Address   string
	Creating  bool // true: we asked the plugin to open this connection ourselves

	Owner corectx.Contextual // the Send/Recv/SendReceive/Conduit context this connection serves

	pending []queuedWrite
	lastErr error
	opened  bool

	onOpen   []func(connID handles.ConnectionID)
	onClosed func()
	onFailed func(error)
}

// OnOpen installs a callback run once, the first time the connection
// reaches connOpen, with its plugin-assigned connection id. Callbacks run in
// the order installed; bringup.go's completeConnection always installs the
// reuse-table recording first, so a caller's own OnOpen (e.g. BootstrapDial
// sending its hello, Dial surfacing the ready Conduit) layers on top of it
// rather than replacing it.
func (c *ConnContext) OnOpen(fn func(connID handles.ConnectionID)) {
	c.onOpen = append(c.onOpen, fn)
}

// NewConnContext constructs a ConnContext and issues the engine's Start.
// Creating selects whether this context itself calls OpenConnection
// (dial/sendReceive side) or merely waits for a connection id the plugin
// already associated with an inbound link (listen/accept side, ConnID
// already known).
func NewConnContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, linkID handles.LinkID, address string, creating bool, owner corectx.Contextual) *ConnContext {
	c := &ConnContext{
		Base:      corectx.NewBase(h, corectx.KindConnection, driver),
		ChannelID: channelID,
		LinkID:    linkID,
		Address:   address,
		Creating:  creating,
		Owner:     owner,
	}
	c.eng = engine.New(c.buildSpec())
	driver.Registry().RegisterHandle(h, c)
	c.TrackHandle(h)
	if creating {
		resp := driver.Plugin().OpenConnection(h, plugin.LinkSend, linkID, "", 0)
		if !statuscode.IsOK(resp.Err) {
			c.lastErr = resp.Err
		}
	}
	_ = c.eng.Start(&c.Context)
	return c
}

func (c *ConnContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}

	spec := engine.NewSpec(connAwaitingOpen, connFailed)
	spec.AddState(connAwaitingOpen, engine.Hooks{})
	spec.AddState(connOpen, engine.Hooks{Enter: ignoreCtx(c.enterOpen)})
	spec.AddState(connPaused, engine.Hooks{})
	spec.AddState(connClosing, engine.Hooks{Enter: ignoreCtx(c.enterClosing)})
	spec.AddState(connClosed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterClosed)})
	spec.AddState(connFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterFailed)})

	spec.AddTransition(connAwaitingOpen, evConnOpened, connOpen)
	spec.AddTransition(connAwaitingOpen, evConnFailed, connFailed)
	spec.AddTransition(connAwaitingOpen, evCloseRequested, connClosing)

	spec.AddTransition(connOpen, evConnTempError, connPaused)
	spec.AddTransition(connOpen, evConnClosed, connClosed)
	spec.AddTransition(connOpen, evConnFailed, connFailed)
	spec.AddTransition(connOpen, evCloseRequested, connClosing)

	spec.AddTransition(connPaused, evConnOpened, connOpen)
	spec.AddTransition(connPaused, evConnClosed, connClosed)
	spec.AddTransition(connPaused, evConnFailed, connFailed)
	spec.AddTransition(connPaused, evCloseRequested, connClosing)

	spec.AddTransition(connClosing, evConnClosed, connClosed)
	spec.AddTransition(connClosing, evConnFailed, connFailed)

	return spec
}

// State exposes the current connection state.
func (c *ConnContext) State() engine.StateID { return c.Context.State() }

// IsOpen reports whether the connection currently sits in the open state
// (connOpen or connPaused — paused still counts as open for gauge purposes,
// since it is a transient pause on an otherwise live connection).
func (c *ConnContext) IsOpen() bool {
	return c.State() == connOpen || c.State() == connPaused
}

// OnConnectionStatus implements corectx.ConnectionStatusListener.
func (c *ConnContext) OnConnectionStatus(connID handles.ConnectionID, status plugin.ConnectionStatus, _ plugin.LinkProperties) {
	if c.ConnID == "" {
		c.ConnID = connID
	}
	switch status {
	case plugin.ConnectionOpen:
		_ = c.eng.HandleEvent(&c.Context, evConnOpened)
	case plugin.ConnectionTempError:
		_ = c.eng.HandleEvent(&c.Context, evConnTempError)
	case plugin.ConnectionClosed:
		_ = c.eng.HandleEvent(&c.Context, evConnClosed)
	case plugin.ConnectionFailed:
		c.lastErr = statuscode.New(statuscode.PluginError)
		_ = c.eng.HandleEvent(&c.Context, evConnFailed)
	}
}

// queuedWrite is a payload awaiting OPEN, tagged with the RaceHandle its
// eventual SendPackage call must carry so the resulting PACKAGE_SENT/
// PACKAGE_FAILED callback routes back to the context that issued it.
type queuedWrite struct {
	handle  handles.RaceHandle
	payload []byte
}

// Write enqueues a framed payload for delivery under h, the handle that owns
// this write's completion callback. Payloads submitted before OPEN (or
// during a TEMP_ERROR pause) are queued and flushed in order once the
// connection (re)opens.
func (c *ConnContext) Write(h handles.RaceHandle, payload []byte) error {
	switch c.State() {
	case connOpen:
		return c.send(h, payload)
	case connAwaitingOpen, connPaused:
		c.pending = append(c.pending, queuedWrite{handle: h, payload: payload})
		return nil
	default:
		return statuscode.New(statuscode.Closing)
	}
}

func (c *ConnContext) send(h handles.RaceHandle, payload []byte) error {
	resp := c.Driver().Plugin().SendPackage(h, c.ConnID, payload, 0, 0)
	return resp.Err
}

func (c *ConnContext) enterOpen() error {
	if !c.opened {
		c.opened = true
		for _, fn := range c.onOpen {
			fn(c.ConnID)
		}
	}
	pending := c.pending
	c.pending = nil
	for _, p := range pending {
		if err := c.send(p.handle, p.payload); err != nil {
			c.lastErr = err
		}
	}
	return nil
}

// Close requests an orderly shutdown; the plugin's CloseConnection is issued
// once the context is in connClosing. Failing writes still awaiting
// PACKAGE_SENT is the Conduit's job (it holds the handle -> write-callback
// association), not this context's.
func (c *ConnContext) Close() error {
	return c.eng.HandleEvent(&c.Context, evCloseRequested)
}

func (c *ConnContext) enterClosing() error {
	if c.ConnID != "" {
		resp := c.Driver().Plugin().CloseConnection(c.Handle(), c.ConnID)
		if !statuscode.IsOK(resp.Err) {
			return resp.Err
		}
	}
	return nil
}

func (c *ConnContext) enterClosed() error {
	if c.onClosed != nil {
		c.onClosed()
	}
	c.unregisterAll()
	c.NotifyDependentsFinished()
	c.Driver().Deregister(c)
	return nil
}

func (c *ConnContext) unregisterAll() {
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
}

func (c *ConnContext) enterFailed() error {
	if c.lastErr == nil {
		c.lastErr = fmt.Errorf("connection %s failed", c.ConnID)
	}
	if c.onFailed != nil {
		c.onFailed(c.lastErr)
	}
	c.unregisterAll()
	c.NotifyDependentsFailed(c.lastErr)
	c.Driver().Deregister(c)
	return nil
}
