package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/handles"
)

// ConnectionSnapshot is the durable state a Resume call needs to reattach to
// a connection the plugin kept open across a process restart: enough to
// reconstruct a ConnContext without reissuing OpenConnection, since the
// underlying transport connection was never actually closed.
type ConnectionSnapshot struct {
	ChannelID handles.ChannelID
	LinkID    handles.LinkID
	ConnID    handles.ConnectionID
	Address   string
}

// ResumeResult is delivered once on ResumeContext.Result.
type ResumeResult struct {
	Conduit *Conduit
	Err     error
}

// ResumeContext reattaches to a connection the plugin reports as already
// open from a prior process lifetime: no OpenConnection request is issued
// (Creating: false), so the connection waits in connAwaitingOpen only until
// the plugin's initial status callback confirms it, matching how the
// PreConduit inbound path reattaches a server-side connection.
type ResumeContext struct {
	corectx.Base

	Snapshot ConnectionSnapshot
	Result   chan ResumeResult
}

// NewResumeContext begins reattaching to snapshot.
func NewResumeContext(h handles.RaceHandle, driver corectx.Driver, snapshot ConnectionSnapshot) *ResumeContext {
	c := &ResumeContext{
		Base:     corectx.NewBase(h, corectx.KindResume, driver),
		Snapshot: snapshot,
		Result:   make(chan ResumeResult, 1),
	}

	conn := NewConnContext(h, driver, snapshot.ChannelID, snapshot.LinkID, snapshot.Address, false, c)
	conn.ConnID = snapshot.ConnID
	conn.OnOpen(func(handles.ConnectionID) {
		conduit := NewConduit(driver.Handles().Next(), driver, conn)
		c.Result <- ResumeResult{Conduit: conduit}
		close(c.Result)
		c.Driver().Deregister(c)
	})
	conn.onFailed = func(err error) {
		c.Result <- ResumeResult{Err: err}
		close(c.Result)
		c.Driver().Deregister(c)
	}

	// The plugin is expected to immediately confirm the still-open
	// connection via a normal OnConnectionStatusChanged(CONNECTION_OPEN)
	// callback against this handle, which drives conn into connOpen through
	// its regular transition path.
	return c
}
