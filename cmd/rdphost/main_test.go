package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdpengine/core/internal/session"
)

func TestParseConnectParams_RequiresAddrAndUser(t *testing.T) {
	r := httptest.NewRequest("GET", "/connect", nil)
	_, err := parseConnectParams(r)
	require.Error(t, err)

	r = httptest.NewRequest("GET", "/connect?addr=10.0.0.1:3389", nil)
	_, err = parseConnectParams(r)
	require.Error(t, err)
}

func TestParseConnectParams_DefaultsAndOverrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/connect?addr=10.0.0.1:3389&user=alice", nil)
	params, err := parseConnectParams(r)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:3389", params.addr)
	require.Equal(t, "alice", params.username)
	require.EqualValues(t, 1024, params.width)
	require.EqualValues(t, 768, params.height)
	require.True(t, params.allowClipboard)
	require.False(t, params.allowDirectorySharing)

	r = httptest.NewRequest("GET", "/connect?addr=10.0.0.1:3389&user=alice"+
		"&width=1920&height=1080&allowClipboard=false&allowDirectorySharing=true"+
		"&domain=CORP&directoryName=share0&fips=true", nil)
	params, err = parseConnectParams(r)
	require.NoError(t, err)
	require.EqualValues(t, 1920, params.width)
	require.EqualValues(t, 1080, params.height)
	require.False(t, params.allowClipboard)
	require.True(t, params.allowDirectorySharing)
	require.Equal(t, "CORP", params.domain)
	require.Equal(t, "share0", params.directoryName)
	require.True(t, params.fips)
}

func TestParseUint16_RejectsGarbage(t *testing.T) {
	_, err := parseUint16("not-a-number")
	require.Error(t, err)

	n, err := parseUint16("42")
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
}

func TestIsAllowedOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                         false,
		"http://localhost:3000":    true,
		"https://localhost":        true,
		"http://127.0.0.1:9000":    true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		require.Equal(t, want, isAllowedOrigin(origin), "origin %q", origin)
	}
}

func TestEncodeEvent_SetsTypeAndBase64Payload(t *testing.T) {
	ev := session.Event{Kind: session.EventGraphicsUpdate, X: 1, Y: 2, Width: 3, Height: 4, Data: []byte{0xde, 0xad}}
	msg := encodeEvent(ev)
	require.Equal(t, "graphicsUpdate", msg.Type)
	require.Equal(t, "3q0=", msg.Data)

	ev = session.Event{Kind: session.EventSharedDirectoryRequest, RequestKind: "create", Bytes: []byte("payload")}
	msg = encodeEvent(ev)
	require.Equal(t, "sharedDirectoryRequest", msg.Type)
	require.Equal(t, "create", msg.RequestKind)

	ev = session.Event{Kind: session.EventSessionTerminated, Reason: "remote closed"}
	msg = encodeEvent(ev)
	require.Equal(t, "sessionTerminated", msg.Type)
	require.Equal(t, "remote closed", msg.Reason)
}

func TestDispatchInbound_UnknownTypeIsError(t *testing.T) {
	err := dispatchInbound(nil, inboundMessage{Type: "bogus"})
	require.Error(t, err)
}

func TestDispatchSharedDirectoryResponse_UnknownKindIsError(t *testing.T) {
	err := dispatchSharedDirectoryResponse(nil, "bogus", 1, nil)
	require.Error(t, err)
}
