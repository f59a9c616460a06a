// Package host is the narrow typed boundary a process embeds the engine
// through: dial and activate one Session, wire its clipboard and RDPDR
// channels, and expose a bounded command queue in plus a single ordered
// event stream out, keyed in the process-wide HostHandleRegistry by an
// opaque handle (§4.I).
package host

import (
	"fmt"

	"github.com/rdpengine/core/internal/cliprdr"
	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/logging"
	"github.com/rdpengine/core/internal/rdpconn"
	"github.com/rdpengine/core/internal/rdpdr"
	"github.com/rdpengine/core/internal/session"
	"github.com/rdpengine/core/internal/transport"
)

// Smartcard carries the emulated PIV credential RDPDR presents for
// certificate-based logon. The RDPDR channel is always requested
// regardless of directory sharing, so a Smartcard is always wired in.
type Smartcard struct {
	CertDER []byte
	KeyDER  []byte
	PIN     string
}

// Config is everything Start needs to dial, negotiate, and activate one
// session.
type Config struct {
	HostHandle uint64

	Addr          string
	TLSServerName string
	FIPS          bool

	Creds       rdpconn.Credentials
	DesktopSize rdpconn.DesktopSize

	AllowClipboard        bool
	AllowDirectorySharing bool
	DirectoryName         string

	Smartcard Smartcard
}

// Host wraps one activated Session, merging its graphics/output events
// with the ones cliprdr/rdpdr push asynchronously onto a single Events
// channel.
type Host struct {
	handle uint64

	sess          *session.Session
	commands      chan<- session.Command
	sessionEvents <-chan session.Event

	out  chan session.Event
	done chan struct{}
}

// Start dials addr, drives the connection sequence to an activated
// share, and wires the clipboard and RDPDR channel handlers. The
// returned Host is ready for Run, which performs the actual
// registry.Register (§3 HostHandleRegistry).
func Start(cfg Config, registry *session.HostHandleRegistry) (*Host, error) {
	t, err := transport.Connect(cfg.Addr)
	if err != nil {
		return nil, err
	}
	t.SetFIPS(cfg.FIPS)

	channels := []string{"rdpdr"}
	if cfg.AllowClipboard {
		channels = append(channels, "cliprdr")
	}

	orch := rdpconn.New(t, cfg.TLSServerName, cfg.Creds, cfg.DesktopSize, channels)
	result, err := orch.Connect()
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	sess, commands, sessionEvents := session.New(result, orch.Transport(), orch.MCSLayer(), registry, cfg.HostHandle)

	h := &Host{
		handle:        cfg.HostHandle,
		sess:          sess,
		commands:      commands,
		sessionEvents: sessionEvents,
		out:           make(chan session.Event, session.CommandQueueCapacity),
		done:          make(chan struct{}),
	}

	if cfg.AllowClipboard {
		cb := cliprdr.New(sess.ChannelSender("cliprdr"), h.onRemoteCopy)
		sess.RegisterChannelHandler("cliprdr", cb)
		sess.SetClipboardResponseSink(cb)
	}

	rd := rdpdr.New(sess.ChannelSender("rdpdr"), cfg.Smartcard.CertDER, cfg.Smartcard.KeyDER, cfg.Smartcard.PIN,
		cfg.AllowDirectorySharing, cfg.DirectoryName, h.onSharedDirectoryRequest)
	sess.RegisterChannelHandler("rdpdr", rd)
	if cfg.AllowDirectorySharing {
		sess.SetSharedDirectoryResponseSink(rd)
	}

	return h, nil
}

func (h *Host) onRemoteCopy(text []byte) error {
	h.out <- session.Event{Kind: session.EventClipboardData, Bytes: text}
	return nil
}

func (h *Host) onSharedDirectoryRequest(requestKind string, payload []byte) error {
	h.out <- session.Event{Kind: session.EventSharedDirectoryRequest, RequestKind: requestKind, Bytes: payload}
	return nil
}

// Run drives the wrapped Session to completion, merging its events with
// the channel-handler pushes into Events, and closes Events on exit. Any
// panic escaping the session loop is caught here and converted to a
// KindProgrammer error rather than crossing the host boundary (§9).
func (h *Host) Run() (err error) {
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for e := range h.sessionEvents {
			h.out <- e
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("host: panic in session loop: %v", r)
			err = engineerr.New(engineerr.KindProgrammer, fmt.Sprintf("recovered panic: %v", r))
		}
		close(h.done)
		<-forwarderDone
		close(h.out)
	}()

	return h.sess.Run()
}

// Events is the single ordered stream of everything the wrapped session
// produces for its host: graphics updates interleaved with clipboard and
// shared-directory pushes in the order they occurred.
func (h *Host) Events() <-chan session.Event { return h.out }

// send delivers cmd to the session's command queue, the same
// blocking-until-room semantics as HostHandleRegistry.Send, except it
// also unblocks once the session has finished running rather than
// hanging on a queue nobody drains anymore.
func (h *Host) send(cmd session.Command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return engineerr.New(engineerr.KindHostBackpressure, "host: session is no longer running")
	}
}

// Stop best-effort requests an orderly session shutdown.
func (h *Host) Stop() error {
	return h.send(session.Command{Kind: session.CommandStop})
}

// SendKey enqueues a keyboard scancode event.
func (h *Host) SendKey(code uint8, down bool) error {
	return h.send(session.Command{Kind: session.CommandWriteKey, KeyCode: code, KeyDown: down})
}

// SendPointer enqueues a mouse move/click/wheel event. button is
// 0 for move-only, 1/2/3 for left/right/middle.
func (h *Host) SendPointer(x, y uint16, button uint8, down, wheel bool, wheelDelta int16) error {
	return h.send(session.Command{
		Kind:              session.CommandWritePointer,
		PointerX:          x,
		PointerY:          y,
		PointerButton:     button,
		PointerDown:       down,
		PointerWheel:      wheel,
		PointerWheelDelta: wheelDelta,
	})
}

// SendScreenResize enqueues a desktop resize.
func (h *Host) SendScreenResize(width, height uint16) error {
	return h.send(session.Command{Kind: session.CommandWriteScreenResize, Width: width, Height: height})
}

// SendResponsePDU re-injects a PDU the host produced (e.g. relaying a
// clipboard or RDPDR reply assembled outside the engine) onto the
// global channel as-is.
func (h *Host) SendResponsePDU(pdu []byte) error {
	return h.send(session.Command{Kind: session.CommandHandleResponsePDU, ResponsePDU: pdu})
}

// SendClipboardUpdate pushes a local copy to the remote desktop's
// clipboard.
func (h *Host) SendClipboardUpdate(text []byte) error {
	return h.send(session.Command{Kind: session.CommandClipboardResponse, Payload: text})
}

func (h *Host) sharedDirectoryResponse(completionID uint32, payload []byte) error {
	return h.send(session.Command{Kind: session.CommandSharedDirectoryResponse, CompletionID: completionID, Payload: payload})
}

// SendSharedDirectoryInfoResponse answers a pending Info request.
func (h *Host) SendSharedDirectoryInfoResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryCreateResponse answers a pending Create request.
func (h *Host) SendSharedDirectoryCreateResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryDeleteResponse answers a pending Delete request.
func (h *Host) SendSharedDirectoryDeleteResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryListResponse answers a pending List request.
func (h *Host) SendSharedDirectoryListResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryReadResponse answers a pending Read request.
func (h *Host) SendSharedDirectoryReadResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryWriteResponse answers a pending Write request.
func (h *Host) SendSharedDirectoryWriteResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// SendSharedDirectoryMoveResponse answers a pending Move request.
func (h *Host) SendSharedDirectoryMoveResponse(completionID uint32, payload []byte) error {
	return h.sharedDirectoryResponse(completionID, payload)
}

// Handle returns the opaque host handle this Host was registered under.
func (h *Host) Handle() uint64 { return h.handle }
