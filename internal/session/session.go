// Package session drives one activated RDP connection: a single
// goroutine multiplexing inbound PDUs against a bounded host command
// queue, the way §4.C models a cooperative single-task loop over a
// shared scheduler. A dedicated reader goroutine turns the blocking
// transport/MCS/Fast-Path reads into a channel the loop can select on
// alongside the command queue.
package session

import (
	"errors"
	"io"

	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/graphics"
	"github.com/rdpengine/core/internal/protocol/fastpath"
	"github.com/rdpengine/core/internal/protocol/mcs"
	"github.com/rdpengine/core/internal/protocol/pdu"
	"github.com/rdpengine/core/internal/rdpconn"
	"github.com/rdpengine/core/internal/transport"
)

// errTerminate is returned internally by handlers to signal an orderly
// loop exit that is not itself an error (Deactivate All, a graceful
// ErrorInfo code, a Terminate-equivalent condition).
var errTerminate = errors.New("session: terminate")

// ChannelHandler processes inbound bytes for one static virtual channel
// (cliprdr, rdpdr). Registered per channel name via RegisterChannelHandler;
// channels with no registered handler are silently drained.
type ChannelHandler interface {
	HandleChannelData(data []byte) error
}

// ResponseSink resolves a host-issued TDP-style response (clipboard data,
// shared-directory I/O result) against the pending request it completes.
// An unknown completion-id is a protocol error.
type ResponseSink interface {
	Resolve(completionID uint32, payload []byte) error
}

// Session drives one activated RDP connection end to end.
type Session struct {
	hostHandle uint64
	registry   *HostHandleRegistry

	transport *transport.Transport
	mcsLayer  mcs.MCSLayer
	fastPath  *fastpath.Protocol
	processor *graphics.Processor

	userID          uint16
	channelIDMap    map[string]uint16
	reverseChannels map[uint16]string

	channelHandlers map[string]ChannelHandler
	clipboard       ResponseSink
	sharedDirectory ResponseSink

	commands chan Command
	events   chan Event
}

// New builds a Session around an activated connection result, ready to
// Run. events must be drained by the caller; commands is returned so the
// caller can register it (directly, or via hostHandle/registry) as the
// target for host-issued Commands.
func New(result *rdpconn.ConnectionResult, t *transport.Transport, mcsLayer mcs.MCSLayer, registry *HostHandleRegistry, hostHandle uint64) (*Session, chan<- Command, <-chan Event) {
	reverse := make(map[uint16]string, len(result.ChannelIDs))
	for name, id := range result.ChannelIDs {
		reverse[id] = name
	}

	s := &Session{
		hostHandle:      hostHandle,
		registry:        registry,
		transport:       t,
		mcsLayer:        mcsLayer,
		fastPath:        fastpath.New(t),
		processor:       graphics.NewProcessor(result.DesktopSize.Width, result.DesktopSize.Height),
		userID:          result.UserID,
		channelIDMap:    result.ChannelIDs,
		reverseChannels: reverse,
		channelHandlers: make(map[string]ChannelHandler),
		commands:        make(chan Command, CommandQueueCapacity),
		events:          make(chan Event, CommandQueueCapacity),
	}

	return s, s.commands, s.events
}

// RegisterChannelHandler wires name (e.g. "cliprdr", "rdpdr") to handler
// for inbound virtual-channel data.
func (s *Session) RegisterChannelHandler(name string, handler ChannelHandler) {
	s.channelHandlers[name] = handler
}

// SetClipboardResponseSink wires the handler for CommandClipboardResponse.
func (s *Session) SetClipboardResponseSink(sink ResponseSink) {
	s.clipboard = sink
}

// SetSharedDirectoryResponseSink wires the handler for
// CommandSharedDirectoryResponse.
func (s *Session) SetSharedDirectoryResponseSink(sink ResponseSink) {
	s.sharedDirectory = sink
}

// ChannelSenderFunc adapts a function to the single-method Sender interface
// that virtual-channel clients (cliprdr.Sender, rdpdr.Sender) depend on.
type ChannelSenderFunc func(frame []byte) error

// Send implements Sender.
func (f ChannelSenderFunc) Send(frame []byte) error { return f(frame) }

// ChannelSender returns a Sender that writes one complete wire frame to the
// named static virtual channel over MCS. Callers assembling a session wire
// it into cliprdr.New/rdpdr.New before registering the resulting
// ChannelHandler with RegisterChannelHandler.
func (s *Session) ChannelSender(name string) ChannelSenderFunc {
	return func(frame []byte) error {
		channelID, ok := s.channelIDMap[name]
		if !ok {
			return engineerr.New(engineerr.KindProgrammer, "unknown virtual channel: "+name)
		}
		return s.mcsLayer.Send(s.userID, channelID, frame)
	}
}

type pduResult struct {
	isX224    bool
	channelID uint16
	wire      io.Reader
	update    *fastpath.UpdatePDU
	err       error
}

// Run drives the session loop until Stop, a terminate condition, or a
// fatal transport/protocol error. The host-handle registry entry is
// removed exactly once, on exit.
func (s *Session) Run() error {
	if s.registry != nil {
		if err := s.registry.Register(s.hostHandle, s.commands); err != nil {
			return err
		}
		defer s.registry.Remove(s.hostHandle)
	}
	defer close(s.events)

	s.emit(Event{
		Kind:          EventConnectionActivated,
		IOChannelID:   s.channelIDMap["global"],
		UserChannelID: s.userID,
		Width:         s.processor.Image.Width,
		Height:        s.processor.Image.Height,
	})

	pdus := make(chan pduResult, 1)
	go s.readLoop(pdus)

	for {
		select {
		case res, ok := <-pdus:
			if !ok {
				return nil
			}
			if res.err != nil {
				return res.err
			}
			if err := s.handlePDU(res); err != nil {
				if err == errTerminate {
					return nil
				}
				return err
			}
		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			if cmd.Kind == CommandStop {
				return nil
			}
			if err := s.handleCommand(cmd); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readLoop(out chan<- pduResult) {
	defer close(out)
	for {
		action, err := s.transport.Peek()
		if err != nil {
			out <- pduResult{err: err}
			return
		}

		if action == transport.ActionX224 {
			channelID, wire, err := s.mcsLayer.Receive()
			if err != nil {
				out <- pduResult{err: err}
				return
			}
			out <- pduResult{isX224: true, channelID: channelID, wire: wire}
			continue
		}

		update, err := s.fastPath.Receive()
		if err != nil {
			out <- pduResult{err: err}
			return
		}
		out <- pduResult{update: update}
	}
}

func (s *Session) handlePDU(res pduResult) error {
	if res.isX224 {
		return s.handleX224(res.channelID, res.wire)
	}
	return s.handleFastPath(res.update)
}

func (s *Session) handleX224(channelID uint16, wire io.Reader) error {
	if channelID != s.channelIDMap["global"] {
		return s.dispatchVirtualChannel(channelID, wire)
	}

	var data pdu.Data
	if err := data.Deserialize(wire); err != nil {
		if errors.Is(err, pdu.ErrDeactiateAll) {
			s.emit(Event{Kind: EventSessionTerminated, Reason: "server deactivated all"})
			return errTerminate
		}
		return err
	}

	if data.ErrorInfoPDUData != nil {
		s.emit(Event{Kind: EventSessionTerminated, Reason: data.ErrorInfoPDUData.String()})
		return errTerminate
	}

	return nil
}

func (s *Session) dispatchVirtualChannel(channelID uint16, wire io.Reader) error {
	name, ok := s.reverseChannels[channelID]
	if !ok {
		return nil
	}

	handler, ok := s.channelHandlers[name]
	if !ok {
		return nil
	}

	data, err := io.ReadAll(wire)
	if err != nil {
		return err
	}
	return handler.HandleChannelData(data)
}

func (s *Session) handleFastPath(update *fastpath.UpdatePDU) error {
	outputs, err := s.processor.Process(update)
	if err != nil {
		return err
	}

	for _, out := range outputs {
		s.emit(s.outputToEvent(out))
	}
	return nil
}

func (s *Session) outputToEvent(out graphics.Output) Event {
	switch out.Kind {
	case graphics.OutputRegion:
		region, bytesOut := s.processor.ExtractPartialImage(out.Region)
		return Event{
			Kind:   EventGraphicsUpdate,
			X:      region.Left,
			Y:      region.Top,
			Width:  region.Right - region.Left + 1,
			Height: region.Bottom - region.Top + 1,
			Data:   bytesOut,
		}
	case graphics.OutputPointerDefault:
		return Event{Kind: EventPointerDefault}
	case graphics.OutputPointerHidden:
		return Event{Kind: EventPointerHidden}
	case graphics.OutputPointerPosition:
		return Event{Kind: EventPointerPosition, X: out.X, Y: out.Y}
	case graphics.OutputPointerBitmap:
		return Event{
			Kind:         EventPointerBitmap,
			PointerWidth: out.PointerWidth, PointerHeight: out.PointerHeight,
			HotspotX: out.HotspotX, HotspotY: out.HotspotY,
			Data: out.PointerData,
		}
	default:
		return Event{Kind: EventGraphicsUpdate, Width: 0, Height: 0}
	}
}

func (s *Session) handleCommand(cmd Command) error {
	switch cmd.Kind {
	case CommandWriteKey:
		flags := uint8(0)
		if !cmd.KeyDown {
			flags = pdu.KBDFlagsRelease
		}
		return s.sendInput(pdu.NewKeyboardEvent(flags, cmd.KeyCode))

	case CommandWritePointer:
		return s.sendInput(pdu.NewMouseEvent(pointerFlags(cmd), cmd.PointerX, cmd.PointerY))

	case CommandWriteScreenResize:
		s.processor.Resize(cmd.Width, cmd.Height)
		return nil

	case CommandHandleResponsePDU:
		return s.mcsLayer.Send(s.userID, s.channelIDMap["global"], cmd.ResponsePDU)

	case CommandClipboardResponse:
		if s.clipboard == nil {
			return engineerr.New(engineerr.KindProgrammer, "clipboard response with no clipboard channel active")
		}
		return s.clipboard.Resolve(cmd.CompletionID, cmd.Payload)

	case CommandSharedDirectoryResponse:
		if s.sharedDirectory == nil {
			return engineerr.New(engineerr.KindProgrammer, "shared-directory response with no directory sharing active")
		}
		return s.sharedDirectory.Resolve(cmd.CompletionID, cmd.Payload)
	}

	return nil
}

func (s *Session) sendInput(event *pdu.InputEvent) error {
	inputPDU := fastpath.NewInputEventPDU(event.Serialize())
	return s.fastPath.Send(inputPDU)
}

func pointerFlags(cmd Command) uint16 {
	var flags uint16

	if cmd.PointerWheel {
		flags |= pdu.PTRFlagsWheel
		if cmd.PointerWheelDelta < 0 {
			flags |= pdu.PTRFlagsWheelNegative
		}
		return flags
	}

	switch cmd.PointerButton {
	case 1:
		flags |= pdu.PTRFlagsButton1
	case 2:
		flags |= pdu.PTRFlagsButton2
	case 3:
		flags |= pdu.PTRFlagsButton3
	default:
		flags |= pdu.PTRFlagsMove
	}

	if cmd.PointerDown {
		flags |= pdu.PTRFlagsDown
	}

	return flags
}

func (s *Session) emit(e Event) {
	s.events <- e
}
