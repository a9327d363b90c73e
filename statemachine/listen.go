package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
)

// ListenContext owns a listening link (via PreConduitContext) and queues
// inbound Conduits until a matching Accept call claims them.
type ListenContext struct {
	corectx.Base

	pre     *PreConduitContext
	backlog []*Conduit
	waiters []*AcceptContext
	stopped bool
}

// NewListenContext activates channelID in the receive role and starts
// accepting inbound connections on it.
func NewListenContext(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID) *ListenContext {
	c := &ListenContext{Base: corectx.NewBase(h, corectx.KindListen, driver)}
	driver.ActivateChannel(h, channelID, string(plugin.LinkRecv), func() {
		c.pre = NewPreConduitContext(driver.Handles().Next(), driver, channelID, false, "", c.onConduit, c.onFailed)
	}, c.onFailed)
	return c
}

func (c *ListenContext) onConduit(conduit *Conduit) {
	if len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		w.deliver(conduit)
		return
	}
	c.backlog = append(c.backlog, conduit)
}

func (c *ListenContext) onFailed(err error) {
	for _, w := range c.waiters {
		w.fail(err)
	}
	c.waiters = nil
}

// Accept returns a new AcceptContext which resolves with the next inbound
// Conduit not yet claimed, immediately if one is already queued.
func (c *ListenContext) Accept(h handles.RaceHandle) *AcceptContext {
	a := &AcceptContext{Base: corectx.NewBase(h, corectx.KindAccept, c.Driver()), Result: make(chan AcceptResult, 1)}
	if len(c.backlog) > 0 {
		conduit := c.backlog[0]
		c.backlog = c.backlog[1:]
		a.deliver(conduit)
		return a
	}
	c.waiters = append(c.waiters, a)
	return a
}

// Stop tears down the listening link and fails any outstanding Accept
// waiters.
func (c *ListenContext) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.pre != nil {
		c.pre.Stop()
	}
	c.onFailed(errListenStopped)
	c.Driver().Deregister(c)
}

// AcceptResult is delivered once on AcceptContext.Result.
type AcceptResult struct {
	Conduit *Conduit
	Err     error
}

// AcceptContext represents one outstanding accept() call against a Listen.
type AcceptContext struct {
	corectx.Base
	Result chan AcceptResult
}

func (a *AcceptContext) deliver(conduit *Conduit) {
	a.Result <- AcceptResult{Conduit: conduit}
	close(a.Result)
	a.Driver().Deregister(a)
}

func (a *AcceptContext) fail(err error) {
	a.Result <- AcceptResult{Err: err}
	close(a.Result)
	a.Driver().Deregister(a)
}

var errListenStopped = listenStoppedError{}

type listenStoppedError struct{}

func (listenStoppedError) Error() string { return "listen stopped" }
