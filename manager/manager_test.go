package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conduitmesh/core/config"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/manager"
	"github.com/conduitmesh/core/plugin"
	"github.com/conduitmesh/core/plugin/fake"
	"github.com/conduitmesh/core/statemachine"
	"github.com/conduitmesh/core/statuscode"
	"github.com/conduitmesh/core/testutil"
)

func newHarness(t *testing.T) (*manager.ApiManager, *fake.Fake) {
	t.Helper()
	pl := fake.New()
	cfg := config.DefaultRuntimeConfig()
	m := manager.New(*cfg, testutil.NewLogger(), pl)
	pl.SetCallbacks(m)
	m.Start()
	t.Cleanup(m.Stop)
	return m, pl
}

// S1 — happy-path sendReceive: the reply arrives framed with the packageId
// the core generated, and the caller sees it as the Reply bytes.
func TestSendReceive_HappyPath(t *testing.T) {
	m, pl := newHarness(t)

	resultCh := m.SendReceive(handles.ChannelID("sendChannel"), `{"host":"peer"}`, []byte("ping"))

	require.Eventually(t, func() bool {
		return len(pl.CallsByMethod("SendPackage")) == 1
	}, time.Second, time.Millisecond)

	sent := pl.CallsByMethod("SendPackage")[0]
	connID := sent.Args[0].(handles.ConnectionID)
	framed := sent.Args[1].([]byte)
	pid, body, err := statemachine.Unframe(framed)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), body)

	pl.Deliver(connID, statemachine.Frame(pid, []byte("pong")))

	select {
	case result := <-resultCh:
		require.NoError(t, result.Err)
		require.Equal(t, []byte("pong"), result.Reply)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sendReceive result")
	}
}

// S2 — activateChannel reports CHANNEL_DOES_NOT_EXIST: the caller sees a
// CHANNEL_INVALID failure and no link request is ever issued.
func TestSendReceive_ChannelDoesNotExist(t *testing.T) {
	m, pl := newHarness(t)
	pl.ChannelStatus[handles.ChannelID("missing")] = plugin.ChannelDoesNotExist

	result := <-m.SendReceive(handles.ChannelID("missing"), `{"host":"peer"}`, []byte("ping"))

	require.Error(t, result.Err)
	serr, ok := result.Err.(*statuscode.Error)
	require.True(t, ok)
	require.Equal(t, statuscode.ChannelInvalid, serr.Code)
	require.Empty(t, pl.CallsByMethod("CreateLinkFromAddress"))
}

// S3 — a second sendReceive to the same channel/address reuses the
// already-open connection instead of issuing a second link request.
func TestSendReceive_ConnectionReuse(t *testing.T) {
	m, pl := newHarness(t)
	address := `{"host":"peer"}`

	first := m.SendReceive(handles.ChannelID("sendChannel"), address, []byte("one"))
	require.Eventually(t, func() bool {
		return len(pl.CallsByMethod("SendPackage")) == 1
	}, time.Second, time.Millisecond)
	sent := pl.CallsByMethod("SendPackage")[0]
	connID := sent.Args[0].(handles.ConnectionID)
	pid, _, err := statemachine.Unframe(sent.Args[1].([]byte))
	require.NoError(t, err)
	pl.Deliver(connID, statemachine.Frame(pid, []byte("ack-one")))
	result := <-first
	require.NoError(t, result.Err)

	second := m.SendReceive(handles.ChannelID("sendChannel"), address, []byte("two"))
	require.Eventually(t, func() bool {
		return len(pl.CallsByMethod("SendPackage")) == 2
	}, time.Second, time.Millisecond)

	require.Len(t, pl.CallsByMethod("CreateLinkFromAddress"), 1, "no second link request for the reused address")

	sent2 := pl.CallsByMethod("SendPackage")[1]
	connID2 := sent2.Args[0].(handles.ConnectionID)
	require.Equal(t, connID, connID2, "second send flows over the reused connection")
	pid2, _, err := statemachine.Unframe(sent2.Args[1].([]byte))
	require.NoError(t, err)
	pl.Deliver(connID2, statemachine.Frame(pid2, []byte("ack-two")))
	result2 := <-second
	require.NoError(t, result2.Err)
	require.Equal(t, []byte("ack-two"), result2.Reply)
}

// S4 — a missing send_address fails immediately with no plugin calls at all.
func TestSendReceive_MissingAddress(t *testing.T) {
	m, pl := newHarness(t)

	result := <-m.SendReceive(handles.ChannelID("sendChannel"), "", []byte("ping"))

	require.Error(t, result.Err)
	serr, ok := result.Err.(*statuscode.Error)
	require.True(t, ok)
	require.Equal(t, statuscode.InvalidArgument, serr.Code)
	require.Empty(t, pl.Calls)
}

// S6 — closing a conduit with two posted writes still awaiting PACKAGE_SENT
// fails both write callbacks with INTERNAL_ERROR, succeeds the close itself,
// and silently drops a PACKAGE_SENT that arrives afterward for either write.
func TestConduitClose_FailsInFlightWrites(t *testing.T) {
	m, pl := newHarness(t)
	pl.Withhold["SendPackage"] = true
	channelID := handles.ChannelID("sendChannel")
	address := `{"host":"peer"}`

	dial := <-m.Dial(channelID, address)
	require.NoError(t, dial.Err)

	write1 := m.Send(channelID, address, []byte("w1"))
	write2 := m.Send(channelID, address, []byte("w2"))

	require.Eventually(t, func() bool {
		return len(pl.CallsByMethod("SendPackage")) == 2
	}, time.Second, time.Millisecond)
	sends := pl.CallsByMethod("SendPackage")

	select {
	case closeErr := <-dial.Conn.Close():
		require.NoError(t, closeErr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close result")
	}

	for _, writeCh := range []<-chan error{write1, write2} {
		select {
		case err := <-writeCh:
			require.Error(t, err)
			serr, ok := err.(*statuscode.Error)
			require.True(t, ok)
			require.Equal(t, statuscode.InternalError, serr.Code)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for write failure")
		}
	}

	// A belated PACKAGE_SENT for either write's handle now finds nothing
	// registered (both SendContexts already deregistered on failure) and is
	// silently dropped rather than re-delivered or panicking.
	m.OnPackageStatusChanged(sends[0].Handle, plugin.PackageSent)
	m.OnPackageStatusChanged(sends[1].Handle, plugin.PackageSent)
	require.NoError(t, m.WaitForCallbacks(context.Background()))
}
