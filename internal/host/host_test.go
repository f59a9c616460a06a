package host

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdpengine/core/internal/rdpconn"
	"github.com/rdpengine/core/internal/session"
	"github.com/rdpengine/core/internal/transport"
)

// mockMCSLayer is a hand-fed stand-in for mcs.MCSLayer, in the style of
// internal/session's own test mock.
type mockMCSLayer struct {
	sent [][]byte
}

func (m *mockMCSLayer) Connect(userData []byte) (io.Reader, error) { return nil, nil }
func (m *mockMCSLayer) ErectDomain() error                         { return nil }
func (m *mockMCSLayer) AttachUser() (uint16, error)                { return 0, nil }
func (m *mockMCSLayer) JoinChannels(userID uint16, channelIDMap map[string]uint16) error {
	return nil
}
func (m *mockMCSLayer) Send(userID, channelID uint16, data []byte) error {
	m.sent = append(m.sent, data)
	return nil
}
func (m *mockMCSLayer) Receive() (uint16, io.Reader, error) { return 0, nil, io.EOF }

func loopbackTransport(t *testing.T) (client *transport.Transport, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		accepted <- conn
	}()

	client, err = transport.Connect(ln.Addr().String())
	require.NoError(t, err)

	server = <-accepted
	return client, server
}

func testResult() *rdpconn.ConnectionResult {
	return &rdpconn.ConnectionResult{
		UserID:      1001,
		ChannelIDs:  map[string]uint16{"global": 1003, "cliprdr": 1004, "rdpdr": 1005},
		DesktopSize: rdpconn.DesktopSize{Width: 1024, Height: 768},
	}
}

// testHost builds a Host directly around session.New, bypassing Start's
// transport.Connect/rdpconn.Connect dial so the connection sequence
// itself (already covered by internal/rdpconn's and internal/session's
// own tests) doesn't need to be re-driven here.
func testHost(t *testing.T) (h *Host, server net.Conn) {
	t.Helper()

	client, server := loopbackTransport(t)

	sess, commands, events := session.New(testResult(), client, &mockMCSLayer{}, session.NewHostHandleRegistry(), 7)

	h = &Host{
		handle:        7,
		sess:          sess,
		commands:      commands,
		sessionEvents: events,
		out:           make(chan session.Event, session.CommandQueueCapacity),
		done:          make(chan struct{}),
	}
	return h, server
}

func TestRun_EmitsActivationEventThenStopsOnCommand(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	select {
	case ev := <-h.Events():
		require.Equal(t, session.EventConnectionActivated, ev.Kind)
		require.EqualValues(t, 1001, ev.UserChannelID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for activation event")
	}

	require.NoError(t, h.Stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, open := <-h.Events()
	require.False(t, open, "Events channel should be closed once Run returns")
}

func TestOnRemoteCopy_PushesClipboardEvent(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()

	require.NoError(t, h.onRemoteCopy([]byte("copied text")))

	select {
	case ev := <-h.out:
		require.Equal(t, session.EventClipboardData, ev.Kind)
		require.Equal(t, []byte("copied text"), ev.Bytes)
	case <-time.After(time.Second):
		t.Fatal("clipboard event never reached Events")
	}
}

func TestOnSharedDirectoryRequest_PushesEventWithKind(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()

	require.NoError(t, h.onSharedDirectoryRequest("create", []byte{1, 2, 3}))

	select {
	case ev := <-h.out:
		require.Equal(t, session.EventSharedDirectoryRequest, ev.Kind)
		require.Equal(t, "create", ev.RequestKind)
		require.Equal(t, []byte{1, 2, 3}, ev.Bytes)
	case <-time.After(time.Second):
		t.Fatal("shared-directory event never reached Events")
	}
}

func TestSend_AfterRunReturnsBackpressureError(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	<-h.Events() // drain the activation event
	require.NoError(t, h.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run never returned")
	}

	err := h.SendKey(0x1e, true)
	require.Error(t, err)
}

func TestSendPointer_EnqueuesWriteCommand(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := server.Read(buf)
		readDone <- buf[:n]
	}()

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	<-h.Events() // drain activation event

	require.NoError(t, h.SendPointer(10, 20, 1, true, false, 0))

	select {
	case wire := <-readDone:
		require.NotEmpty(t, wire)
	case <-time.After(time.Second):
		t.Fatal("no fast-path bytes observed on the wire")
	}

	require.NoError(t, h.Stop())
	<-done
}

func TestHandle_ReturnsConfiguredHandle(t *testing.T) {
	h, server := testHost(t)
	defer server.Close()
	require.EqualValues(t, 7, h.Handle())
}
