package manager

import (
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/statemachine"
)

// Send issues a one-way, fire-and-forget send. The returned channel
// receives exactly one value (nil on success) once the plugin reports
// PACKAGE_SENT or a failure status.
func (m *ApiManager) Send(channelID handles.ChannelID, address string, payload []byte) <-chan error {
	out := make(chan error, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewSendContext(h, m, channelID, address, payload)
		m.track(ctx)
		go forward(ctx.Result, out)
	})
	return out
}

// SendReceive issues a request and waits for its correlated reply.
func (m *ApiManager) SendReceive(channelID handles.ChannelID, address string, payload []byte) <-chan statemachine.SendReceiveResult {
	out := make(chan statemachine.SendReceiveResult, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewSendReceiveContext(h, m, channelID, address, payload)
		m.track(ctx)
		go forward(ctx.Result, out)
	})
	return out
}

// Dial brings up a connection for ongoing bidirectional use and returns a
// Connection handle once it is ready.
func (m *ApiManager) Dial(channelID handles.ChannelID, address string) <-chan DialResult {
	out := make(chan DialResult, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewDialContext(h, m, channelID, address)
		m.track(ctx)
		go func() {
			r := <-ctx.Result
			if r.Err != nil {
				out <- DialResult{Err: r.Err}
				close(out)
				return
			}
			out <- DialResult{Conn: newConnectionHandle(m, r.Conduit)}
			close(out)
		}()
	})
	return out
}

// Listen activates channelID for inbound connections and returns a Listener
// handle immediately (activation failures surface on the first Accept).
func (m *ApiManager) Listen(channelID handles.ChannelID) <-chan *Listener {
	out := make(chan *Listener, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewListenContext(h, m, channelID)
		m.track(ctx)
		out <- &Listener{m: m, ctx: ctx}
		close(out)
	})
	return out
}

// BootstrapListen is Listen's passphrase-gated counterpart.
func (m *ApiManager) BootstrapListen(channelID handles.ChannelID, nodeID, passphrase string) <-chan *Listener {
	out := make(chan *Listener, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewBootstrapListenContext(h, m, channelID, nodeID, passphrase)
		m.track(ctx)
		out <- &Listener{m: m, ctx: ctx.ListenContext}
		close(out)
	})
	return out
}

// BootstrapDial is Dial's passphrase-gated counterpart: it exchanges
// HelloEnvelopes before handing back a Connection.
func (m *ApiManager) BootstrapDial(channelID handles.ChannelID, address, nodeID, passphrase string) <-chan DialResult {
	out := make(chan DialResult, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewBootstrapDialContext(h, m, channelID, address, nodeID, passphrase)
		m.track(ctx)
		go func() {
			r := <-ctx.Result
			if r.Err != nil {
				out <- DialResult{Err: r.Err}
				close(out)
				return
			}
			out <- DialResult{Conn: newConnectionHandle(m, r.Conduit), Peer: r.Peer}
			close(out)
		}()
	})
	return out
}

// Resume reattaches to a connection the plugin reports as still open from a
// prior process lifetime.
func (m *ApiManager) Resume(snapshot statemachine.ConnectionSnapshot) <-chan DialResult {
	out := make(chan DialResult, 1)
	m.Post(func() {
		h := m.handleGen.Next()
		ctx := statemachine.NewResumeContext(h, m, snapshot)
		m.track(ctx)
		go func() {
			r := <-ctx.Result
			if r.Err != nil {
				out <- DialResult{Err: r.Err}
				close(out)
				return
			}
			out <- DialResult{Conn: newConnectionHandle(m, r.Conduit)}
			close(out)
		}()
	})
	return out
}

func forward[T any](in <-chan T, out chan<- T) {
	v := <-in
	out <- v
	close(out)
}
