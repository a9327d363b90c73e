package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

const (
	preConduitCreatingLink engine.StateID = iota + 1
	preConduitListening
	preConduitFailed
)

const (
	evPreConduitLinkReady engine.EventID = iota + 1
	evPreConduitLinkFailed
)

// PreConduitContext negotiates the receive-side link a Listen, Accept, or
// BootstrapListen operation serves from: it issues the (possibly
// passphrase-gated, for bootstrap) link creation request and, once the link
// exists, turns every subsequent inbound connection notification on that
// link's handle into a fresh Conduit handed to the owner. It is the single
// type both the plain and bootstrap listen paths drive, distinguished only
// by Bootstrap and Passphrase — unifying what the source implements as two
// near-duplicate state machines (startPreConduitStateMachine and
// startBootstrapPreConduitStateMachine).
type PreConduitContext struct {
	corectx.Base
	eng *engine.Engine

	ChannelID  handles.ChannelID
	Bootstrap  bool
	Passphrase string
	LinkID     handles.LinkID

	onConduit func(*Conduit)
	onFailed  func(error)
	lastErr   error
}

// NewPreConduitContext issues the link creation request for a listening
// link and begins waiting for inbound connections.
func NewPreConduitContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, bootstrap bool, passphrase string, onConduit func(*Conduit), onFailed func(error)) *PreConduitContext {
	c := &PreConduitContext{
		Base:       corectx.NewBase(h, corectx.KindPreConduit, driver),
		ChannelID:  channelID,
		Bootstrap:  bootstrap,
		Passphrase: passphrase,
		onConduit:  onConduit,
		onFailed:   onFailed,
	}
	c.eng = engine.New(c.buildSpec())
	driver.Registry().RegisterHandle(h, c)
	c.TrackHandle(h)

	_ = c.eng.Start(&c.Context)

	var resp plugin.SdkResponse
	if bootstrap {
		resp = driver.Plugin().CreateBootstrapLink(h, channelID, passphrase)
	} else {
		resp = driver.Plugin().CreateLink(h, channelID)
	}
	if !statuscode.IsOK(resp.Err) {
		c.lastErr = resp.Err
		_ = c.eng.HandleEvent(&c.Context, evPreConduitLinkFailed)
	}
	return c
}

func (c *PreConduitContext) buildSpec() *engine.Spec {
	ignoreCtx := func(f func() error) func(*engine.Context) error {
		return func(*engine.Context) error { return f() }
	}
	spec := engine.NewSpec(preConduitCreatingLink, preConduitFailed)
	spec.AddState(preConduitCreatingLink, engine.Hooks{})
	spec.AddState(preConduitListening, engine.Hooks{})
	spec.AddState(preConduitFailed, engine.Hooks{Final: true, Enter: ignoreCtx(c.enterFailed)})
	spec.AddTransition(preConduitCreatingLink, evPreConduitLinkReady, preConduitListening)
	spec.AddTransition(preConduitCreatingLink, evPreConduitLinkFailed, preConduitFailed)
	return spec
}

// OnLinkStatus implements corectx.LinkStatusListener.
func (c *PreConduitContext) OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, _ plugin.LinkProperties) {
	switch status {
	case plugin.LinkCreated, plugin.LinkLoaded:
		c.LinkID = linkID
		c.Driver().Registry().RegisterID(string(linkID), c)
		c.TrackID(string(linkID))
		_ = c.eng.HandleEvent(&c.Context, evPreConduitLinkReady)
	case plugin.LinkFailed:
		c.lastErr = statuscode.New(statuscode.PluginError)
		_ = c.eng.HandleEvent(&c.Context, evPreConduitLinkFailed)
	}
}

// OnConnectionStatus implements corectx.ConnectionStatusListener: each
// inbound connection the plugin reports against this listening link's
// handle becomes a new Conduit handed to the owner, for as long as the link
// is in preConduitListening.
func (c *PreConduitContext) OnConnectionStatus(connID handles.ConnectionID, status plugin.ConnectionStatus, _ plugin.LinkProperties) {
	if c.State() != preConduitListening || status != plugin.ConnectionOpen {
		return
	}
	connHandle := c.Driver().Handles().Next()
	conn := NewConnContext(connHandle, c.Driver(), c.ChannelID, c.LinkID, "", false, c)
	conn.OnConnectionStatus(connID, plugin.ConnectionOpen, nil)
	conduit := NewConduit(connHandle, c.Driver(), conn)
	if c.onConduit != nil {
		c.onConduit(conduit)
	}
}

func (c *PreConduitContext) enterFailed() error {
	if c.onFailed != nil {
		c.onFailed(c.lastErr)
	}
	c.Driver().Deregister(c)
	return nil
}

// Stop tears down the listening link.
func (c *PreConduitContext) Stop() {
	if c.LinkID != "" {
		_ = c.Driver().Plugin().DestroyLink(c.Handle(), c.LinkID)
	}
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
	c.Driver().Deregister(c)
}
