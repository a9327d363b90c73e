// Package fake provides a scripted plugin.Wrapper test double. It answers
// every request with a configurable synchronous SdkResponse and, unless
// told to withhold it, immediately drives the matching asynchronous
// plugin.Callbacks notification — letting package tests exercise an
// ApiManager end to end without a real channel plugin.
//
// Grounded on the teacher's MockLLMProvider (coreengine/testutil/testutil.go):
// a struct of configurable response maps plus a recorded call log, built for
// table-driven happy-path and failure-path tests rather than a full gmock
// harness (the C++ original's MockTransportSdk is GoogleMock-specific and
// has no idiomatic Go equivalent in the pack).
package fake

import (
	"strconv"
	"sync"

	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
)

// Call records one request for test assertions.
type Call struct {
	Method string
	Handle handles.RaceHandle
	Args   []any
}

// Fake is a scripted plugin.Wrapper; construct it with New, which defaults
// every reported status to success (a zero Fake reports empty link,
// connection and package statuses). Every request synchronously succeeds
// and, unless Withhold is set for that call, the
// matching Callbacks notification fires before the request method returns
// (synchronous from the test's point of view, matching how ApiManager's
// callback handlers are safe to invoke from any goroutine since they only
// ever Post onto the worker).
type Fake struct {
	mu sync.Mutex
	cb plugin.Callbacks

	Calls []Call

	// ChannelStatus overrides the status ActivateChannel reports for a given
	// channel id; defaults to plugin.ChannelAvailable.
	ChannelStatus map[handles.ChannelID]plugin.ChannelStatus
	// ActivateSync overrides the synchronous SdkResponse for a channel id;
	// defaults to SyncOK.
	ActivateSync map[handles.ChannelID]plugin.SdkResponse

	// LinkStatus overrides the status every link-creation method reports;
	// defaults to plugin.LinkCreated.
	LinkStatus plugin.LinkStatus
	// ConnStatus overrides the status OpenConnection reports; defaults to
	// plugin.ConnectionOpen.
	ConnStatus plugin.ConnectionStatus
	// SendStatus overrides the status SendPackage reports; defaults to
	// plugin.PackageSent.
	SendStatus plugin.PackageStatus

	// Withhold suppresses the automatic callback for a method name (as it
	// appears in Call.Method), letting a test fire it manually via the
	// Callbacks reference passed to SetCallbacks.
	Withhold map[string]bool

	nextLinkID int64
	nextConnID int64
}

// New returns a ready Fake with every response defaulted to success.
func New() *Fake {
	return &Fake{
		ChannelStatus: make(map[handles.ChannelID]plugin.ChannelStatus),
		ActivateSync:  make(map[handles.ChannelID]plugin.SdkResponse),
		LinkStatus:    plugin.LinkCreated,
		ConnStatus:    plugin.ConnectionOpen,
		SendStatus:    plugin.PackageSent,
		Withhold:      make(map[string]bool),
	}
}

// SetCallbacks wires the manager whose plugin.Callbacks methods this Fake
// drives. Must be called once, before any request method, since the
// manager itself takes the Fake as its plugin.Wrapper at construction time
// and there is no other way to close the cycle.
func (f *Fake) SetCallbacks(cb plugin.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *Fake) record(method string, h handles.RaceHandle, args ...any) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Method: method, Handle: h, Args: args})
	f.mu.Unlock()
}

// CallsByMethod returns every recorded call to method, in order, safe for
// concurrent use against a Fake still driving a running ApiManager.
func (f *Fake) CallsByMethod(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) withheld(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Withhold[method]
}

// ActivateChannel implements plugin.Wrapper.
func (f *Fake) ActivateChannel(h handles.RaceHandle, channelID handles.ChannelID, role string) plugin.SdkResponse {
	f.record("ActivateChannel", h, channelID, role)
	f.mu.Lock()
	resp, overridden := f.ActivateSync[channelID]
	status, hasStatus := f.ChannelStatus[channelID]
	f.mu.Unlock()
	if !overridden {
		resp = plugin.SdkResponse{Status: plugin.SyncOK}
	}
	if !hasStatus {
		status = plugin.ChannelAvailable
	}
	if resp.Status == plugin.SyncOK && !f.withheld("ActivateChannel") && f.cb != nil {
		f.cb.OnChannelStatusChanged(h, channelID, status, plugin.ChannelProperties{})
	}
	return resp
}

// DeactivateChannel implements plugin.Wrapper.
func (f *Fake) DeactivateChannel(h handles.RaceHandle, channelID handles.ChannelID) plugin.SdkResponse {
	f.record("DeactivateChannel", h, channelID)
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

func (f *Fake) nextLink() handles.LinkID {
	f.mu.Lock()
	f.nextLinkID++
	id := f.nextLinkID
	f.mu.Unlock()
	return handles.LinkID(linkIDString(id))
}

func (f *Fake) nextConn() handles.ConnectionID {
	f.mu.Lock()
	f.nextConnID++
	id := f.nextConnID
	f.mu.Unlock()
	return handles.ConnectionID(connIDString(id))
}

func (f *Fake) createLink(h handles.RaceHandle, channelID handles.ChannelID) plugin.SdkResponse {
	linkID := f.nextLink()
	if !f.withheld("CreateLink") && f.cb != nil {
		f.cb.OnLinkStatusChanged(h, linkID, f.LinkStatus, plugin.LinkProperties{})
	}
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

// CreateLink implements plugin.Wrapper.
func (f *Fake) CreateLink(h handles.RaceHandle, channelID handles.ChannelID) plugin.SdkResponse {
	f.record("CreateLink", h, channelID)
	return f.createLink(h, channelID)
}

// CreateLinkFromAddress implements plugin.Wrapper.
func (f *Fake) CreateLinkFromAddress(h handles.RaceHandle, channelID handles.ChannelID, address string) plugin.SdkResponse {
	f.record("CreateLinkFromAddress", h, channelID, address)
	return f.createLink(h, channelID)
}

// CreateBootstrapLink implements plugin.Wrapper.
func (f *Fake) CreateBootstrapLink(h handles.RaceHandle, channelID handles.ChannelID, passphrase string) plugin.SdkResponse {
	f.record("CreateBootstrapLink", h, channelID, passphrase)
	return f.createLink(h, channelID)
}

// LoadLinkAddress implements plugin.Wrapper.
func (f *Fake) LoadLinkAddress(h handles.RaceHandle, channelID handles.ChannelID, address string) plugin.SdkResponse {
	f.record("LoadLinkAddress", h, channelID, address)
	return f.createLink(h, channelID)
}

// LoadLinkAddresses implements plugin.Wrapper.
func (f *Fake) LoadLinkAddresses(h handles.RaceHandle, channelID handles.ChannelID, addresses []string) plugin.SdkResponse {
	f.record("LoadLinkAddresses", h, channelID, addresses)
	return f.createLink(h, channelID)
}

// DestroyLink implements plugin.Wrapper.
func (f *Fake) DestroyLink(h handles.RaceHandle, linkID handles.LinkID) plugin.SdkResponse {
	f.record("DestroyLink", h, linkID)
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

// OpenConnection implements plugin.Wrapper.
func (f *Fake) OpenConnection(h handles.RaceHandle, linkType plugin.LinkType, linkID handles.LinkID, hints string, sendTimeoutSeconds int32) plugin.SdkResponse {
	f.record("OpenConnection", h, linkType, linkID, hints, sendTimeoutSeconds)
	connID := f.nextConn()
	if !f.withheld("OpenConnection") && f.cb != nil {
		f.cb.OnConnectionStatusChanged(h, connID, f.ConnStatus, plugin.LinkProperties{})
	}
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

// CloseConnection implements plugin.Wrapper.
func (f *Fake) CloseConnection(h handles.RaceHandle, connID handles.ConnectionID) plugin.SdkResponse {
	f.record("CloseConnection", h, connID)
	if !f.withheld("CloseConnection") && f.cb != nil {
		f.cb.OnConnectionStatusChanged(h, connID, plugin.ConnectionClosed, plugin.LinkProperties{})
	}
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

// SendPackage implements plugin.Wrapper.
func (f *Fake) SendPackage(h handles.RaceHandle, connID handles.ConnectionID, pkg []byte, deadlineMillis int64, batchID uint64) plugin.SdkResponse {
	f.record("SendPackage", h, connID, pkg, deadlineMillis, batchID)
	if !f.withheld("SendPackage") && f.cb != nil {
		f.cb.OnPackageStatusChanged(h, f.SendStatus)
	}
	return plugin.SdkResponse{Status: plugin.SyncOK}
}

// Deliver lets a test inject an unsolicited ReceiveEncPkg as though the
// fake's simulated peer had sent pkg over connID.
func (f *Fake) Deliver(connID handles.ConnectionID, pkg []byte) {
	if f.cb != nil {
		f.cb.ReceiveEncPkg(pkg, []handles.ConnectionID{connID})
	}
}

func linkIDString(n int64) string { return "fake-link-" + strconv.FormatInt(n, 10) }
func connIDString(n int64) string { return "fake-conn-" + strconv.FormatInt(n, 10) }
