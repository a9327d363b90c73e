// Package channel tracks per-channel activation status and role, and makes
// activation requests to a plugin idempotent: a second activation attempt
// with the same role is a no-op that synthesizes success, a different role
// is a hard error.
package channel

import (
	"fmt"

	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/plugin"
)

// ActivatedChannel records the last-observed status, properties and role of
// one channel activation attempt.
type ActivatedChannel struct {
	ChannelID  handles.ChannelID
	Role       string
	Status     plugin.ChannelStatus
	Properties plugin.ChannelProperties
}

// ErrDifferentRole is returned by Manager.Activate when a channel is already
// active under a different role than requested.
type ErrDifferentRole struct {
	ChannelID   handles.ChannelID
	ActiveRole  string
	RequestRole string
}

func (e *ErrDifferentRole) Error() string {
	return fmt.Sprintf("channel %s already activated with role %q, requested role %q", e.ChannelID, e.ActiveRole, e.RequestRole)
}

// AlreadyActive wraps the record of a channel already active under the
// same role. Manager.Activate does not return it: it returns the
// *ActivatedChannel itself in that case.
type AlreadyActive struct {
	Channel *ActivatedChannel
}

// Manager tracks activation state for every channel the runtime has ever
// attempted to activate. It does not itself call the plugin — Activate
// reports what the caller should do (issue a fresh request, treat as
// already-active, or fail) and the caller updates state via Observe as
// plugin callbacks arrive.
type Manager struct {
	channels map[handles.ChannelID]*ActivatedChannel
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{channels: make(map[handles.ChannelID]*ActivatedChannel)}
}

// Activate consults current activation state for channelID.
//
//   - Not yet attempted: returns (nil, nil) — the caller should issue a
//     fresh plugin ActivateChannel request and later call Observe.
//   - Already active with the same role: returns (info, nil) with info
//     non-nil — the caller should synthesize a CHANNEL_ACTIVATED event
//     directly rather than calling the plugin again.
//   - Already active (or pending) with a different role: returns
//     (nil, *ErrDifferentRole) — the caller should fail the requesting
//     context.
func (m *Manager) Activate(channelID handles.ChannelID, role string) (*ActivatedChannel, error) {
	existing, ok := m.channels[channelID]
	if !ok {
		return nil, nil
	}
	if existing.Role != role {
		return nil, &ErrDifferentRole{ChannelID: channelID, ActiveRole: existing.Role, RequestRole: role}
	}
	if existing.Status == plugin.ChannelAvailable {
		return existing, nil
	}
	// A prior attempt is still pending (or failed) under the same role;
	// the caller should still wait for/re-issue the plugin request.
	return nil, nil
}

// BeginActivation records that a fresh activation attempt for (channelID,
// role) has been issued, before any callback has arrived.
func (m *Manager) BeginActivation(channelID handles.ChannelID, role string) {
	m.channels[channelID] = &ActivatedChannel{ChannelID: channelID, Role: role}
}

// Observe records a channel-status callback from the plugin.
func (m *Manager) Observe(channelID handles.ChannelID, status plugin.ChannelStatus, props plugin.ChannelProperties) {
	existing, ok := m.channels[channelID]
	if !ok {
		existing = &ActivatedChannel{ChannelID: channelID}
		m.channels[channelID] = existing
	}
	existing.Status = status
	existing.Properties = props
}

// Get returns the current record for channelID, if any.
func (m *Manager) Get(channelID handles.ChannelID) (*ActivatedChannel, bool) {
	c, ok := m.channels[channelID]
	return c, ok
}

// ActiveCount returns the number of channels currently in the Available
// status — drives the activated-channels gauge.
func (m *Manager) ActiveCount() int {
	n := 0
	for _, c := range m.channels {
		if c.Status == plugin.ChannelAvailable {
			n++
		}
	}
	return n
}
