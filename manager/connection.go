package manager

import (
	"github.com/conduitmesh/core/statemachine"
)

// DialResult is the outcome of Dial, BootstrapDial, and Resume: a ready
// Connection, or the error that prevented one. Peer is only populated by
// BootstrapDial, which exchanges HelloEnvelopes before handing back a
// Connection.
type DialResult struct {
	Conn *Connection
	Peer statemachine.HelloEnvelope
	Err  error
}

// Connection is the application-facing handle over a live Conduit, returned
// by Dial, BootstrapDial, Resume, and Accept. Write and Close post onto the
// manager's worker; Read spawns a one-shot statemachine.RecvContext per
// call, matching how the rest of the package turns an operation into a
// Result channel.
type Connection struct {
	m       *ApiManager
	conduit *statemachine.Conduit
}

func newConnectionHandle(m *ApiManager, conduit *statemachine.Conduit) *Connection {
	return &Connection{m: m, conduit: conduit}
}

// Write frames and sends payload, returning once the write has been handed
// to the plugin (not once it has been acknowledged — use SendReceive on the
// manager for a correlated round trip).
func (c *Connection) Write(payload []byte) <-chan error {
	out := make(chan error, 1)
	c.m.Post(func() {
		_, err := c.conduit.Write(c.conduit.Handle(), payload)
		out <- err
		close(out)
	})
	return out
}

// Read waits for the next inbound frame not otherwise claimed by a
// correlated SendReceive reply.
func (c *Connection) Read() <-chan statemachine.Received {
	out := make(chan statemachine.Received, 1)
	c.m.Post(func() {
		h := c.m.handleGen.Next()
		ctx := statemachine.NewRecvContext(h, c.m, c.conduit)
		c.m.track(ctx)
		go forward(ctx.Result, out)
	})
	return out
}

// Close requests an orderly shutdown of the underlying connection.
func (c *Connection) Close() <-chan error {
	out := make(chan error, 1)
	c.m.Post(func() {
		out <- c.conduit.Close()
		close(out)
	})
	return out
}

// Listener is the application-facing handle returned by Listen and
// BootstrapListen.
type Listener struct {
	m   *ApiManager
	ctx *statemachine.ListenContext
}

// Accept waits for the next inbound Connection.
func (l *Listener) Accept() <-chan DialResult {
	out := make(chan DialResult, 1)
	l.m.Post(func() {
		h := l.m.handleGen.Next()
		a := l.ctx.Accept(h)
		l.m.track(a)
		go func() {
			r := <-a.Result
			if r.Err != nil {
				out <- DialResult{Err: r.Err}
				close(out)
				return
			}
			out <- DialResult{Conn: newConnectionHandle(l.m, r.Conduit)}
			close(out)
		}()
	})
	return out
}

// Stop tears down the listening link and fails any outstanding Accept calls.
func (l *Listener) Stop() {
	l.m.Post(l.ctx.Stop)
}
