package statemachine

import (
	"fmt"

	"github.com/conduitmesh/core/handles"
)

// Frame prepends pid to body, producing the wire representation every
// Conduit writes: the first handles.PackageIDLen bytes are the packageId,
// the remainder is the application payload.
func Frame(pid handles.PackageID, body []byte) []byte {
	out := make([]byte, 0, handles.PackageIDLen+len(body))
	out = append(out, []byte(pid)...)
	out = append(out, body...)
	return out
}

// Unframe splits a received payload back into its packageId and body.
func Unframe(raw []byte) (handles.PackageID, []byte, error) {
	if len(raw) < handles.PackageIDLen {
		return "", nil, fmt.Errorf("statemachine: frame shorter than packageId (%d bytes)", len(raw))
	}
	pid := handles.PackageID(raw[:handles.PackageIDLen])
	return pid, raw[handles.PackageIDLen:], nil
}
