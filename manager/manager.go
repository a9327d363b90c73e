// Package manager implements the ApiManager: the single-worker-goroutine
// orchestrator that owns the channel activation table, the correlation
// registry, the connection-reuse table, and the plugin.Callbacks surface.
// Every other package's state machines are driven through it — manager is
// the only package that implements corectx.Driver, and the only package
// that ever constructs a statemachine context directly from a public
// request.
//
// Grounded on the source's ApiManagerInternal (registerHandle/registerId/
// registerPackageId, newConnContext/newConduitContext, the CHANNEL_* and
// CONNECTION_* status tables) and, for the worker-loop shape, the teacher's
// kernel.Kernel/Orchestrator composition and commbus's dispatch loop —
// collapsed here into one task queue instead of a multi-service bus, since
// the runtime's invariant is a single mutating goroutine, not a set of
// independently-owned services.
package manager

import (
	"context"
	"encoding/json"

	"github.com/conduitmesh/core/channel"
	"github.com/conduitmesh/core/config"
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/observability"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/registry"
	"github.com/conduitmesh/core/statemachine"
	"github.com/conduitmesh/core/statuscode"
)

type activationWaiter struct {
	onActivated func()
	onError     func(error)
}

type reuseEntry struct {
	owner registry.Contextual
	connID handles.ConnectionID
}

// ApiManager is the runtime's single entry point: construct one with New,
// call Run in a goroutine (or Start, which does that for you), and drive it
// through the public operation methods (Send, SendReceive, Dial, Listen,
// Resume, BootstrapDial, BootstrapListen, and Accept on the returned
// Listener) plus the plugin.Callbacks methods, which a channel plugin
// invokes directly.
type ApiManager struct {
	cfg    config.RuntimeConfig
	logger corectx.Logger
	pl     plugin.Wrapper

	handleGen *handles.Generator
	channels  *channel.Manager
	reg       *registry.Registry

	contexts map[handles.RaceHandle]corectx.Contextual
	pending  map[handles.ChannelID][]activationWaiter
	reuse    map[string]reuseEntry

	taskCh chan func()
	waitCh chan func()
	stopCh chan struct{}
}

// New constructs an ApiManager. Run (or Start) must be called before any
// public operation method, since those all post work onto the worker.
func New(cfg config.RuntimeConfig, logger corectx.Logger, pl plugin.Wrapper) *ApiManager {
	return &ApiManager{
		cfg:       cfg,
		logger:    logger,
		pl:        pl,
		handleGen: handles.NewGenerator(),
		channels:  channel.New(),
		reg:       registry.New(),
		contexts:  make(map[handles.RaceHandle]corectx.Contextual),
		pending:   make(map[handles.ChannelID][]activationWaiter),
		reuse:     make(map[string]reuseEntry),
		taskCh:    make(chan func(), cfg.CallbackQueueDepth),
		waitCh:    make(chan func(), cfg.WaitQueueDepth),
		stopCh:    make(chan struct{}),
	}
}

// Start launches Run on a new goroutine.
func (m *ApiManager) Start() { go m.Run() }

// Run drains the task queue until Stop is called. It is the only goroutine
// ever allowed to mutate the registry, the channel table, or the reuse
// table — every other entry point communicates with it by posting a
// closure.
func (m *ApiManager) Run() {
	for {
		select {
		case t, ok := <-m.taskCh:
			if !ok {
				return
			}
			t()
			continue
		default:
		}
		select {
		case t, ok := <-m.taskCh:
			if !ok {
				return
			}
			t()
		case t, ok := <-m.waitCh:
			if !ok {
				return
			}
			t()
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts Run once its current task finishes.
func (m *ApiManager) Stop() { close(m.stopCh) }

// WaitForCallbacks blocks until every task queued ahead of this call (on
// either priority level) has drained, or ctx is cancelled first — the
// quiescence primitive embedders use in tests to know the manager has
// settled after driving a plugin callback.
func (m *ApiManager) WaitForCallbacks(ctx context.Context) error {
	done := make(chan struct{})
	m.waitCh <- func() { close(done) }
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- corectx.Driver ----

func (m *ApiManager) Logger() corectx.Logger { return m.logger }
func (m *ApiManager) Plugin() plugin.Wrapper { return m.pl }
func (m *ApiManager) Handles() *handles.Generator { return m.handleGen }
func (m *ApiManager) Registry() *registry.Registry { return m.reg }

func (m *ApiManager) Post(fn func()) { m.taskCh <- fn }

func (m *ApiManager) Deregister(ctx corectx.Contextual) {
	delete(m.contexts, ctx.Handle())
}

// ActivateChannel implements the idempotent-activation rule: a channel
// already active under the requested role synthesizes onActivated without a
// plugin round trip; a different role fails immediately; otherwise a fresh
// ActivateChannel request is issued (once per channel, even if several
// operations race to activate it) and onActivated/onError fire from the
// eventual OnChannelStatusChanged.
func (m *ApiManager) ActivateChannel(h handles.RaceHandle, channelID handles.ChannelID, role string, onActivated func(), onError func(error)) {
	existing, err := m.channels.Activate(channelID, role)
	if err != nil {
		m.Post(func() { onError(err) })
		return
	}
	if existing != nil {
		m.Post(func() { onActivated() })
		return
	}

	firstAttempt := true
	if _, attempted := m.channels.Get(channelID); attempted {
		firstAttempt = false
	}
	m.pending[channelID] = append(m.pending[channelID], activationWaiter{onActivated, onError})

	if firstAttempt {
		m.channels.BeginActivation(channelID, role)
		resp := m.pl.ActivateChannel(h, channelID, role)
		observability.RecordPluginCall("ActivateChannel", string(resp.Status))
		if !statuscode.IsOK(resp.Err) {
			waiters := m.pending[channelID]
			delete(m.pending, channelID)
			for _, w := range waiters {
				w.onError(resp.Err)
			}
		}
	}
}

// OnChannelStatusChanged implements plugin.Callbacks.
func (m *ApiManager) OnChannelStatusChanged(_ handles.RaceHandle, channelID handles.ChannelID, status plugin.ChannelStatus, props plugin.ChannelProperties) {
	m.Post(func() {
		m.channels.Observe(channelID, status, props)
		observability.SetActivatedChannels(m.channels.ActiveCount())

		waiters := m.pending[channelID]
		delete(m.pending, channelID)
		for _, w := range waiters {
			if status == plugin.ChannelAvailable {
				w.onActivated()
			} else {
				w.onError(statuscode.New(mapChannelStatus(status)))
			}
		}
	})
}

func mapChannelStatus(status plugin.ChannelStatus) statuscode.Code {
	switch status {
	case plugin.ChannelDoesNotExist:
		return statuscode.ChannelInvalid
	case plugin.ChannelFailed:
		return statuscode.PluginError
	default:
		return statuscode.InternalError
	}
}

// OnLinkStatusChanged implements plugin.Callbacks, routing by RaceHandle to
// every registered corectx.LinkStatusListener.
func (m *ApiManager) OnLinkStatusChanged(h handles.RaceHandle, linkID handles.LinkID, status plugin.LinkStatus, props plugin.LinkProperties) {
	m.Post(func() {
		for _, ctx := range m.reg.LookupByHandle(h) {
			if l, ok := ctx.(corectx.LinkStatusListener); ok {
				l.OnLinkStatus(linkID, status, props)
			}
		}
	})
}

// OnConnectionStatusChanged implements plugin.Callbacks, routing by
// RaceHandle to every registered corectx.ConnectionStatusListener.
func (m *ApiManager) OnConnectionStatusChanged(h handles.RaceHandle, connID handles.ConnectionID, status plugin.ConnectionStatus, props plugin.LinkProperties) {
	m.Post(func() {
		observability.SetOpenConnections(m.countOpenConnections())
		for _, ctx := range m.reg.LookupByHandle(h) {
			if l, ok := ctx.(corectx.ConnectionStatusListener); ok {
				l.OnConnectionStatus(connID, status, props)
			}
		}
	})
}

func (m *ApiManager) countOpenConnections() int {
	n := 0
	for _, ctx := range m.contexts {
		if conn, ok := ctx.(*statemachine.ConnContext); ok && conn.IsOpen() {
			n++
		}
	}
	return n
}

// OnPackageStatusChanged implements plugin.Callbacks, routing by RaceHandle
// to every registered corectx.PackageStatusListener.
func (m *ApiManager) OnPackageStatusChanged(h handles.RaceHandle, status plugin.PackageStatus) {
	m.Post(func() {
		observability.RecordPluginCall("SendPackage", string(status))
		for _, ctx := range m.reg.LookupByHandle(h) {
			if l, ok := ctx.(corectx.PackageStatusListener); ok {
				l.OnPackageStatus(status)
			}
		}
	})
}

// ReceiveEncPkg implements plugin.Callbacks: an unsolicited delivery,
// routed to every corectx.PackageReceiver registered under its
// (packageId, connection id), or failing that under its connection id
// alone, and buffered if neither lookup finds a listener. A payload shorter
// than handles.PackageIDLen is logged and dropped.
func (m *ApiManager) ReceiveEncPkg(pkg []byte, connIDs []handles.ConnectionID) {
	m.Post(func() {
		if len(connIDs) != 1 {
			m.logger.Warn("receiveEncPkg with unexpected connection id count", "count", len(connIDs))
			return
		}
		connID := connIDs[0]
		pid, body, err := statemachine.Unframe(pkg)
		if err != nil {
			m.logger.Warn("receiveEncPkg: malformed frame", "error", err)
			return
		}

		listeners := m.reg.LookupByPackageID(pid, connID)
		if len(listeners) == 0 {
			listeners = m.reg.LookupByID(string(connID))
		}
		if len(listeners) == 0 {
			m.reg.BufferUnassociated(pid, registry.BufferedPackage{ConnID: connID, Payload: body})
			observability.SetBufferedPackages(m.reg.UnassociatedCount())
			return
		}
		for _, ctx := range listeners {
			if r, ok := ctx.(corectx.PackageReceiver); ok {
				r.OnReceivePackage(connID, pid, body)
			}
		}
	})
}

// ReuseOrStartConnection implements corectx.Driver.
func (m *ApiManager) ReuseOrStartConnection(channelID handles.ChannelID, address string, _ bool) (handles.ConnectionID, bool) {
	entry, ok := m.reuse[reuseKey(channelID, address)]
	if !ok {
		return "", false
	}
	return entry.connID, true
}

// RecordConnectionOpened implements corectx.Driver.
func (m *ApiManager) RecordConnectionOpened(channelID handles.ChannelID, address string, owner registry.Contextual, connID handles.ConnectionID) {
	if address == "" {
		return
	}
	m.reuse[reuseKey(channelID, address)] = reuseEntry{owner: owner, connID: connID}
}

// ForgetConnection implements corectx.Driver.
func (m *ApiManager) ForgetConnection(channelID handles.ChannelID, address string) {
	delete(m.reuse, reuseKey(channelID, address))
}

func reuseKey(channelID handles.ChannelID, address string) string {
	return string(channelID) + "\x1f" + normalizeAddress(address)
}

// normalizeAddress re-serializes a JSON link address through a canonical
// map encoding (encoding/json sorts object keys on Marshal) so two
// differently-ordered JSON addresses describing the same endpoint reuse the
// same connection-table entry. The "\x1f" unit separator joining channelId
// and address is deliberately not a character normalized JSON ever
// produces, closing the theoretical collision the design notes flag for a
// bare string-concatenation key.
func normalizeAddress(address string) string {
	var v any
	if err := json.Unmarshal([]byte(address), &v); err != nil {
		return address
	}
	b, err := json.Marshal(v)
	if err != nil {
		return address
	}
	return string(b)
}

func (m *ApiManager) track(ctx corectx.Contextual) {
	m.contexts[ctx.Handle()] = ctx
}
