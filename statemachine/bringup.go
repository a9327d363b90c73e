package statemachine

import (
	"github.com/conduitmesh/core/corectx"
	"github.com/conduitmesh/core/handles"
	"github.com/conduitmesh/core/statuscode"
)

// requestLink issues CreateLinkFromAddress for the given handle. The caller
// is expected to already be registered in the registry under h as an
// corectx.LinkStatusListener; its OnLinkStatus will fire LinkCreated or
// LinkFailed once the plugin responds.
func requestLink(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, address string) error {
	resp := driver.Plugin().CreateLinkFromAddress(h, channelID, address)
	if !statuscode.IsOK(resp.Err) {
		return resp.Err
	}
	return nil
}

// completeConnection builds the ConnContext+Conduit pair for a just-created
// outbound link, sharing h across the link request, the connection, and the
// conduit. The link requester (owner) and the ConnContext are both
// registered under h, so a single registry.LookupByHandle reaches both,
// which is how the manager fans a callback out to whichever of them
// implements the matching listener interface; the Conduit is registered by
// connection id instead.
func completeConnection(h handles.RaceHandle, driver corectx.Driver, channelID handles.ChannelID, linkID handles.LinkID, address string, owner corectx.Contextual) *Conduit {
	conn := NewConnContext(h, driver, channelID, linkID, address, true, owner)
	conn.OnOpen(func(connID handles.ConnectionID) {
		driver.RecordConnectionOpened(channelID, address, owner, connID)
	})
	conduit := NewConduit(h, driver, conn)
	return conduit
}
