// Package plugin defines the contract the ApiManager consumes from a
// channel plugin: a set of asynchronous request operations plus the status
// callbacks the plugin later invokes on the manager.
//
// Plugin loading/discovery, the per-plugin work-queue wrapper's thread
// mechanics, and channel-property manifest parsing are out of scope here —
// this package only describes the shape both sides agree to.
package plugin

import (
	"github.com/conduitmesh/core/handles"
)

// LinkType is the directionality requested when opening a connection.
type LinkType string

const (
	LinkSend LinkType = "SEND"
	LinkRecv LinkType = "RECV"
	LinkBidi LinkType = "BIDI"
)

// ChannelStatus is the plugin-reported status of a channel activation.
type ChannelStatus string

const (
	ChannelAvailable        ChannelStatus = "CHANNEL_AVAILABLE"
	ChannelUnavailable      ChannelStatus = "CHANNEL_UNAVAILABLE"
	ChannelDoesNotExist     ChannelStatus = "CHANNEL_DOES_NOT_EXIST"
	ChannelFailed           ChannelStatus = "CHANNEL_FAILED"
)

// LinkStatus is the plugin-reported status of a link create/load request.
type LinkStatus string

const (
	LinkCreated   LinkStatus = "LINK_CREATED"
	LinkLoaded    LinkStatus = "LINK_LOADED"
	LinkDestroyed LinkStatus = "LINK_DESTROYED"
	LinkFailed    LinkStatus = "LINK_FAILED"
)

// ConnectionStatus is the plugin-reported status of a connection.
type ConnectionStatus string

const (
	ConnectionOpen      ConnectionStatus = "CONNECTION_OPEN"
	ConnectionClosed    ConnectionStatus = "CONNECTION_CLOSED"
	ConnectionFailed    ConnectionStatus = "CONNECTION_FAILED"
	ConnectionTempError ConnectionStatus = "CONNECTION_TEMP_ERROR"
)

// PackageStatus is the plugin-reported status of a send/receive operation.
type PackageStatus string

const (
	PackageSent               PackageStatus = "PACKAGE_SENT"
	PackageReceived           PackageStatus = "PACKAGE_RECEIVED"
	PackageFailedGeneric      PackageStatus = "PACKAGE_FAILED_GENERIC"
	PackageFailedNetworkError PackageStatus = "PACKAGE_FAILED_NETWORK_ERROR"
	PackageFailedTimeout      PackageStatus = "PACKAGE_FAILED_TIMEOUT"
)

// SyncStatus is the synchronous acknowledgement a plugin operation returns
// immediately, ahead of its later asynchronous callback.
type SyncStatus string

const (
	SyncOK      SyncStatus = "SDK_OK"
	SyncInvalid SyncStatus = "SDK_INVALID"
)

// SdkResponse is the immediate, synchronous acknowledgement of a plugin
// request.
type SdkResponse struct {
	Status SyncStatus
	Err    error
}

// ChannelProperties describes a channel's static properties as reported on
// activation. Manifest parsing producing this value is out of scope; the
// core only stores and forwards what the plugin reports.
type ChannelProperties map[string]any

// LinkProperties describes a link's reported properties (hints, expected
// throughput, etc.) opaque to the core beyond storage/forwarding.
type LinkProperties map[string]any

// Wrapper is the abstract set of operations the ApiManager issues against a
// channel plugin. Every method is asynchronous: it returns only a
// synchronous SdkResponse describing acceptance, and the corresponding
// status change arrives later via the Callbacks interface, echoing the
// RaceHandle passed in verbatim.
type Wrapper interface {
	ActivateChannel(h handles.RaceHandle, channelID handles.ChannelID, role string) SdkResponse
	DeactivateChannel(h handles.RaceHandle, channelID handles.ChannelID) SdkResponse

	CreateLink(h handles.RaceHandle, channelID handles.ChannelID) SdkResponse
	CreateLinkFromAddress(h handles.RaceHandle, channelID handles.ChannelID, address string) SdkResponse
	CreateBootstrapLink(h handles.RaceHandle, channelID handles.ChannelID, passphrase string) SdkResponse
	LoadLinkAddress(h handles.RaceHandle, channelID handles.ChannelID, address string) SdkResponse
	LoadLinkAddresses(h handles.RaceHandle, channelID handles.ChannelID, addresses []string) SdkResponse
	DestroyLink(h handles.RaceHandle, linkID handles.LinkID) SdkResponse

	OpenConnection(h handles.RaceHandle, linkType LinkType, linkID handles.LinkID, hints string, sendTimeoutSeconds int32) SdkResponse
	CloseConnection(h handles.RaceHandle, connID handles.ConnectionID) SdkResponse

	SendPackage(h handles.RaceHandle, connID handles.ConnectionID, pkg []byte, deadlineMillis int64, batchID uint64) SdkResponse
}

// Callbacks is the set of asynchronous notifications a plugin delivers back
// into the ApiManager. Each callback echoes the RaceHandle of the request it
// answers, except ReceiveEncPkg, which is an unsolicited back-channel
// delivery.
type Callbacks interface {
	OnChannelStatusChanged(h handles.RaceHandle, channelID handles.ChannelID, status ChannelStatus, props ChannelProperties)
	OnLinkStatusChanged(h handles.RaceHandle, linkID handles.LinkID, status LinkStatus, props LinkProperties)
	OnConnectionStatusChanged(h handles.RaceHandle, connID handles.ConnectionID, status ConnectionStatus, props LinkProperties)
	OnPackageStatusChanged(h handles.RaceHandle, status PackageStatus)

	// ReceiveEncPkg delivers an unsolicited package. Exactly one connection
	// id is expected per call; zero or multiple is a plugin-contract
	// violation the manager logs and drops.
	ReceiveEncPkg(pkg []byte, connIDs []handles.ConnectionID)
}
