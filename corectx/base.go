// Package corectx defines the per-operation Context shared by every state
// machine: a handle, the embedded generic engine.Context, a dependents set,
// and the bookkeeping of which registry keys this context is registered
// under so teardown can unregister every one of them (invariant 2).
//
// Package corectx also declares the Driver interface — the narrow slice of
// the ApiManager a state machine is allowed to call back into (issue plugin
// requests, spawn further contexts, schedule follow-up work) — so that
// concrete state machines never import the manager package and no import
// cycle exists between "the thing that drives contexts" and "the contexts".
package corectx

import (
	"time"

	"github.com/conduitmesh/core/engine"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/registry"
)

// Kind names the concrete operation a Context drives, used for logging and
// metrics labels.
type Kind string

const (
	KindConnection     Kind = "connection"
	KindSend           Kind = "send"
	KindRecv           Kind = "recv"
	KindSendReceive    Kind = "send_receive"
	KindDial           Kind = "dial"
	KindListen         Kind = "listen"
	KindAccept         Kind = "accept"
	KindPreConduit     Kind = "pre_conduit"
	KindConduit        Kind = "conduit"
	KindResume         Kind = "resume"
	KindBootstrapDial  Kind = "bootstrap_dial"
	KindBootstrapListen Kind = "bootstrap_listen"
)

// Logger is the structured logging interface every runtime component takes
// by injection.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Driver is the set of ApiManager operations a state machine may call.
// Implemented by *manager.ApiManager; declared here (not in manager) so
// statemachine and corectx never need to import manager.
type Driver interface {
	Logger() Logger
	Plugin() plugin.Wrapper
	Handles() *handles.Generator
	Registry() *registry.Registry

	// Post schedules fn to run on the single worker. State machines use it
	// to synthesize an event for another context without re-entering the
	// engine recursively.
	Post(fn func())

	// ActivateChannel implements the idempotent activation rule of spec
	// §4.4: same role already active -> synthesizes CHANNEL_ACTIVATED
	// (via onActivated) without a plugin call; different role already
	// active -> calls onError; otherwise issues a fresh plugin request and
	// queues onActivated/onError for the eventual callback.
	ActivateChannel(h handles.RaceHandle, channelID handles.ChannelID, role string, onActivated func(), onError func(error))

	// ReuseOrStartConnection implements the connection-reuse rule of spec
	// §4.4. If an open, owned connection already exists for
	// (channelID, address), it returns that connection's id and true;
	// otherwise ("", false) so the caller brings up a fresh ConnContext.
	ReuseOrStartConnection(channelID handles.ChannelID, address string, creating bool) (connID handles.ConnectionID, reused bool)

	// RecordConnectionOpened stores (channelID, address) -> (owner, connID)
	// in the reuse table, iff the address was caller-specified (dynamically
	// generated addresses are never reused, per spec §4.5 step 4).
	RecordConnectionOpened(channelID handles.ChannelID, address string, owner registry.Contextual, connID handles.ConnectionID)

	// ForgetConnection removes a reuse-table entry when its owning
	// connection leaves CLOSING.
	ForgetConnection(channelID handles.ChannelID, address string)

	// Deregister removes ctx from the active-context table; called once,
	// when a context reaches a terminal state. It does not touch the
	// registry's correlation tables — callers unregister those explicitly
	// via Registry().Unregister using their own tracked keys first.
	Deregister(ctx Contextual)
}

// Contextual is satisfied by every concrete context variant.
type Contextual interface {
	registry.Contextual
	Kind() Kind
}

// Base is embedded by every concrete per-operation context. It is never
// constructed directly by state machine code — use NewBase.
type Base struct {
	engine.Context

	handle    handles.RaceHandle
	kind      Kind
	traceID   string
	driver    Driver
	createdAt time.Time

	dependents map[handles.RaceHandle]Contextual

	registeredHandles []handles.RaceHandle
	registeredIDs     []string
	registeredPkgKeys []string
}

// NewBase constructs the shared portion of a context.
func NewBase(h handles.RaceHandle, kind Kind, driver Driver) Base {
	return Base{
		handle:     h,
		kind:       kind,
		traceID:    handles.NewTraceID(),
		driver:     driver,
		createdAt:  time.Now(),
		dependents: make(map[handles.RaceHandle]Contextual),
	}
}

// Handle satisfies registry.Contextual.
func (b *Base) Handle() handles.RaceHandle { return b.handle }

// Kind satisfies Contextual.
func (b *Base) Kind() Kind { return b.kind }

// TraceID returns the diagnostic trace id stamped on this context.
func (b *Base) TraceID() string { return b.traceID }

// Driver returns the ApiManager operations this context may invoke.
func (b *Base) Driver() Driver { return b.driver }

// Age returns how long this context has existed.
func (b *Base) Age() time.Duration { return time.Since(b.createdAt) }

// AddDependent folds another context into the dependents set; it will be
// notified via OnDependencyFinished/OnDependencyFailed when this context
// reaches a terminal state.
func (b *Base) AddDependent(dep Contextual) {
	b.dependents[dep.Handle()] = dep
}

// RemoveDependent detaches one dependent, e.g. a send, sendReceive or recv
// context detaching from its conduit once it reaches a terminal state.
func (b *Base) RemoveDependent(h handles.RaceHandle) {
	delete(b.dependents, h)
}

// DependentCount reports how many dependents remain.
func (b *Base) DependentCount() int { return len(b.dependents) }

// AnyDependent returns one remaining dependent (order unspecified), or
// (nil, false) if none remain, so a caller can drain the set one at a time.
func (b *Base) AnyDependent() (Contextual, bool) {
	for _, dep := range b.dependents {
		return dep, true
	}
	return nil, false
}

// NotifyDependentsFinished tells every dependent this context finished
// successfully.
func (b *Base) NotifyDependentsFinished() {
	for _, dep := range b.dependents {
		if n, ok := dep.(DependentNotifiable); ok {
			h := b.handle
			b.driver.Post(func() { n.OnDependencyFinished(h) })
		}
	}
}

// NotifyDependentsFailed tells every dependent this context failed.
func (b *Base) NotifyDependentsFailed(err error) {
	for _, dep := range b.dependents {
		if n, ok := dep.(DependentNotifiable); ok {
			h := b.handle
			b.driver.Post(func() { n.OnDependencyFailed(h, err) })
		}
	}
}

// TrackHandle records that this context registered under h, so
// RegisteredKeys can hand it to Registry.Unregister at teardown.
func (b *Base) TrackHandle(h handles.RaceHandle) { b.registeredHandles = append(b.registeredHandles, h) }

// TrackID records that this context registered under id.
func (b *Base) TrackID(id string) { b.registeredIDs = append(b.registeredIDs, id) }

// TrackPackageKey records that this context registered under a
// (packageId, connId) composite key.
func (b *Base) TrackPackageKey(key string) { b.registeredPkgKeys = append(b.registeredPkgKeys, key) }

// RegisteredKeys returns everything this context has been registered under,
// for Registry.Unregister.
func (b *Base) RegisteredKeys() (handlesKeys []handles.RaceHandle, idKeys []string, pkgKeys []string) {
	return b.registeredHandles, b.registeredIDs, b.registeredPkgKeys
}

// DependentNotifiable is implemented by contexts that react to a
// dependency's terminal state.
type DependentNotifiable interface {
	Contextual
	OnDependencyFinished(h handles.RaceHandle)
	OnDependencyFailed(h handles.RaceHandle, err error)
}

// ChannelStatusListener is implemented by contexts that react to
// onChannelStatusChanged callbacks.
type ChannelStatusListener interface {
	Contextual
	OnChannelStatus(channelID handles.ChannelID, status plugin.ChannelStatus, props plugin.ChannelProperties)
}

// LinkStatusListener is implemented by contexts that react to
// onLinkStatusChanged callbacks.
type LinkStatusListener interface {
	Contextual
	OnLinkStatus(linkID handles.LinkID, status plugin.LinkStatus, props plugin.LinkProperties)
}

// ConnectionStatusListener is implemented by contexts that react to
// onConnectionStatusChanged callbacks.
type ConnectionStatusListener interface {
	Contextual
	OnConnectionStatus(connID handles.ConnectionID, status plugin.ConnectionStatus, props plugin.LinkProperties)
}

// PackageStatusListener is implemented by contexts that react to
// onPackageStatusChanged callbacks.
type PackageStatusListener interface {
	Contextual
	OnPackageStatus(status plugin.PackageStatus)
}

// PackageReceiver is implemented by contexts that react to receiveEncPkg
// deliveries, either by packageId+connId or by connId alone. pid and body
// are already split apart by the manager (body has the packageId prefix
// stripped) — consistent with how a buffered unassociated package is
// delivered once its packageId is finally registered.
type PackageReceiver interface {
	Contextual
	OnReceivePackage(connID handles.ConnectionID, pid handles.PackageID, body []byte)
}

// Cancellable describes a context that accepts an explicit CANCELLED event
// from the embedder (façade timeouts, user-initiated aborts). No context in
// this module implements it, and the manager never calls OnCancel.
type Cancellable interface {
	Contextual
	OnCancel()
}
