package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduitmesh/core/handles"
)

func TestFrameUnframeRoundTrip(t *testing.T) {
	pid := handles.NewPackageID()
	body := []byte("payload bytes")

	framed := Frame(pid, body)
	gotPid, gotBody, err := Unframe(framed)

	require.NoError(t, err)
	require.Equal(t, pid, gotPid)
	require.Equal(t, body, gotBody)
}

func TestUnframeEmptyBody(t *testing.T) {
	pid := handles.NewPackageID()
	framed := Frame(pid, nil)

	gotPid, gotBody, err := Unframe(framed)

	require.NoError(t, err)
	require.Equal(t, pid, gotPid)
	require.Empty(t, gotBody)
}

func TestUnframeTooShort(t *testing.T) {
	_, _, err := Unframe([]byte("short"))
	require.Error(t, err)
}

func TestHelloEnvelopeRoundTrip(t *testing.T) {
	h := HelloEnvelope{
		NodeID:     "node-a",
		Passphrase: "secret",
		Links:      []string{"link-1"},
		Metadata:   map[string]string{"region": "us"},
	}

	decoded, err := decodeHello(encodeHello(h))

	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHelloMalformed(t *testing.T) {
	_, err := decodeHello([]byte("not json"))
	require.Error(t, err)
}
