package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/statuscode"
)

// BootstrapListenContext is a ListenContext whose PreConduitContext creates
// a passphrase-gated bootstrap link, and which additionally waits for the
// peer's HelloEnvelope on each new conduit before surfacing it to Accept —
// an inbound connection that never sends a valid hello is left pending
// forever rather than handed to the application half-negotiated.
type BootstrapListenContext struct {
	*ListenContext
	NodeID     string
	Passphrase string
}

// NewBootstrapListenContext activates channelID and begins accepting
// bootstrap connections gated on passphrase.
func NewBootstrapListenContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, nodeID, passphrase string) *BootstrapListenContext {
	inner := &ListenContext{Base: corectx.NewBase(h, corectx.KindBootstrapListen, driver)}
	c := &BootstrapListenContext{ListenContext: inner, NodeID: nodeID, Passphrase: passphrase}
	driver.ActivateChannel(h, channelID, string(plugin.LinkRecv), func() {
		inner.pre = NewPreConduitContext(driver.Handles().Next(), driver, channelID, true, passphrase, c.onRawConduit, inner.onFailed)
	}, inner.onFailed)
	return c
}

func (c *BootstrapListenContext) onRawConduit(conduit *Conduit) {
	conduit.SetReceiveHandler(func(_ handles.PackageID, body []byte) {
		hello, err := decodeHello(body)
		if err != nil {
			return
		}
		if c.Passphrase != "" && hello.Passphrase != c.Passphrase {
			_ = conduit.Close()
			return
		}
		conduit.SetReceiveHandler(nil)
		_, _ = conduit.Write(conduit.Handle(), encodeHello(HelloEnvelope{NodeID: c.NodeID}))
		c.ListenContext.onConduit(conduit)
	})
}

// BootstrapDialResult is delivered once on BootstrapDialContext.Result.
type BootstrapDialResult struct {
	Conduit *Conduit
	Peer    HelloEnvelope
	Err     error
}

// BootstrapDialContext dials a bootstrap link, sends a HelloEnvelope
// carrying its passphrase, and waits for the peer's reply hello before
// declaring the conduit ready.
type BootstrapDialContext struct {
	corectx.Base

	ChannelID  handles.ChannelID
	Address    string
	NodeID     string
	Passphrase string

	Result  chan BootstrapDialResult
	lastErr error
}

// NewBootstrapDialContext begins a bootstrap dial.
func NewBootstrapDialContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, address, nodeID, passphrase string) *BootstrapDialContext {
	c := &BootstrapDialContext{
		Base:       corectx.NewBase(h, corectx.KindBootstrapDial, driver),
		ChannelID:  channelID,
		Address:    address,
		NodeID:     nodeID,
		Passphrase: passphrase,
		Result:     make(chan BootstrapDialResult, 1),
	}
	driver.Registry().RegisterHandle(h, c)
	c.TrackHandle(h)
	if address == "" {
		c.fail(statuscode.New(statuscode.InvalidArgument))
		return c
	}
	driver.ActivateChannel(h, channelID, string(plugin.LinkSend), c.onChannelActive, c.fail)
	return c
}

func (c *BootstrapDialContext) onChannelActive() {
	if err := requestLink(c.Handle(), c.Driver(), c.ChannelID, c.Address); err != nil {
		c.fail(err)
	}
}

// OnLinkStatus implements corectx.LinkStatusListener.
func (c *BootstrapDialContext) OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, _ plugin.LinkProperties) {
	switch status {
	case plugin.LinkCreated, plugin.LinkLoaded:
		conduit := completeConnection(c.Handle(), c.Driver(), c.ChannelID, linkID, c.Address, c)
		conduit.Conn.OnOpen(func(handles.ConnectionID) {
			c.sendHello(conduit)
		})
	case plugin.LinkFailed:
		c.fail(statuscode.New(statuscode.PluginError))
	}
}

func (c *BootstrapDialContext) sendHello(conduit *Conduit) {
	conduit.SetReceiveHandler(func(_ handles.PackageID, body []byte) {
		peer, err := decodeHello(body)
		if err != nil {
			c.fail(err)
			return
		}
		conduit.SetReceiveHandler(nil)
		c.succeed(conduit, peer)
	})
	if _, err := conduit.Write(conduit.Handle(), encodeHello(HelloEnvelope{NodeID: c.NodeID, Passphrase: c.Passphrase})); err != nil {
		c.fail(err)
	}
}

func (c *BootstrapDialContext) succeed(conduit *Conduit, peer HelloEnvelope) {
	c.Result <- BootstrapDialResult{Conduit: conduit, Peer: peer}
	close(c.Result)
	c.cleanup()
}

func (c *BootstrapDialContext) fail(err error) {
	c.lastErr = err
	c.Result <- BootstrapDialResult{Err: err}
	close(c.Result)
	c.cleanup()
}

func (c *BootstrapDialContext) cleanup() {
	handlesKeys, idKeys, pkgKeys := c.RegisteredKeys()
	c.Driver().Registry().Unregister(c, handlesKeys, idKeys, pkgKeys)
	c.Driver().Deregister(c)
}
