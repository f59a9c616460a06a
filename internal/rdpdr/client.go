package rdpdr

import (
	"bytes"
	"io"

	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/logging"
	"github.com/rdpengine/core/internal/rdpdr/fs"
	"github.com/rdpengine/core/internal/rdpdr/scard"
	"github.com/rdpengine/core/internal/vchan"
)

// Sender writes one complete wire frame (Channel PDU Header + payload) to
// the rdpdr virtual channel.
type Sender interface {
	Send(frame []byte) error
}

// OnSharedDirectoryRequest pushes one outbound shared-directory request up
// to the host, keyed by kind ("acknowledge", "info", "create", "delete",
// "list", "read", "write", "move"). nil when directory sharing is disabled.
type OnSharedDirectoryRequest func(requestKind string, payload []byte) error

// MaxReassembledMessage bounds the Reassembler's accumulated message size.
const MaxReassembledMessage = 16 * 1024 * 1024

// Client drives the MS-RDPEFS device-redirection state machine for one
// session: negotiation and the emulated smartcard device are always
// present; the shared-directory drive device is added only when directory
// sharing is enabled.
//
// This client only supports a single smartcard device plus, optionally, a
// single shared directory — the same scope the Rust client's rdpdr module
// covers.
type Client struct {
	sender                Sender
	allowDirectorySharing bool
	directoryName         string

	reassembler *vchan.Reassembler
	scard       *scard.Backend
	fs          *fs.Backend
}

// New builds a Client. onSharedDirectoryRequest is ignored when
// allowDirectorySharing is false.
func New(sender Sender, certDER, keyDER []byte, pin string, allowDirectorySharing bool, directoryName string, onSharedDirectoryRequest OnSharedDirectoryRequest) *Client {
	if allowDirectorySharing {
		logging.Debug("rdpdr: directory sharing enabled, sharing %q", directoryName)
	} else {
		logging.Debug("rdpdr: directory sharing disabled")
	}

	c := &Client{
		sender:                sender,
		allowDirectorySharing: allowDirectorySharing,
		directoryName:         directoryName,
		reassembler:           vchan.NewReassembler(MaxReassembledMessage),
		scard:                 scard.NewBackend(certDER, keyDER, pin),
	}
	if allowDirectorySharing {
		c.fs = fs.NewBackend(driveDeviceID, fs.RequestSink(onSharedDirectoryRequest))
	}
	return c
}

// HandleChannelData implements session.ChannelHandler: data is one raw
// Channel-PDU-Header-framed chunk received on the rdpdr channel.
func (c *Client) HandleChannelData(data []byte) error {
	complete, ready, err := c.reassembler.Feed(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	return c.handleMessage(complete)
}

// Resolve implements session.ResponseSink for a host shared-directory
// response, completing the pending IRP it answers.
func (c *Client) Resolve(completionID uint32, payload []byte) error {
	if c.fs == nil {
		return engineerr.New(engineerr.KindProtocol, "rdpdr: shared-directory response with directory sharing disabled")
	}
	response, err := c.fs.Resolve(completionID, payload)
	if err != nil {
		return err
	}
	if response == nil {
		return nil
	}
	return c.send(PacketIDCoreDeviceIOCompletion, response)
}

func (c *Client) handleMessage(message []byte) error {
	header, err := decodeSharedHeader(bytes.NewReader(message))
	if err != nil {
		return err
	}
	body := message[4:]

	if header.component == ComponentPRN {
		logging.Debug("rdpdr: ignoring %04x header, printer redirection is not supported", uint16(header.packetID))
		return nil
	}

	switch header.packetID {
	case PacketIDCoreServerAnnounce:
		return c.handleServerAnnounce(body)
	case PacketIDCoreServerCapability:
		return c.handleServerCapability(body)
	case PacketIDCoreClientIDConfirm:
		return c.handleClientIDConfirm(body)
	case PacketIDCoreDeviceReply:
		return c.handleDeviceReply(body)
	case PacketIDCoreDeviceIORequest:
		return c.handleDeviceIORequest(body)
	default:
		// The packets above are all this client needs;
		// everything else (printers, PNP notifications) is left unhandled.
		logging.Debug("rdpdr: packet id %04x not implemented, ignoring", uint16(header.packetID))
		return nil
	}
}

func (c *Client) handleServerAnnounce(body []byte) error {
	req, err := decodeClientIDMessage(body)
	if err != nil {
		return err
	}
	reply := clientIDMessage{versionMajor: versionMajor, versionMinor: versionMinor, clientID: req.clientID}
	return c.send(PacketIDCoreClientIDConfirm, reply.serialize())
}

func (c *Client) handleServerCapability(body []byte) error {
	return c.send(PacketIDCoreClientCapability, clientCoreCapabilityResponse(c.allowDirectorySharing))
}

func (c *Client) handleClientIDConfirm(body []byte) error {
	if _, err := decodeClientIDMessage(body); err != nil {
		return err
	}
	return c.send(PacketIDCoreDeviceListAnnounce, clientDeviceListAnnounce(c.allowDirectorySharing, c.directoryName))
}

func (c *Client) handleDeviceReply(body []byte) error {
	resp, err := decodeServerDeviceAnnounceResponse(body)
	if err != nil {
		return err
	}

	switch resp.deviceID {
	case scardDeviceID:
		if resp.resultCode != uint32(StatusSuccess) {
			return engineerr.New(engineerr.KindProtocol, "rdpdr: unsuccessful ServerDeviceAnnounceResponse for smartcard device")
		}
		return nil
	case driveDeviceID:
		if c.fs == nil {
			return engineerr.New(engineerr.KindProtocol, "rdpdr: unexpected ServerDeviceAnnounceResponse for drive device")
		}
		return c.fs.HandleServerDeviceAnnounceResponse(resp.resultCode == uint32(StatusSuccess))
	default:
		return engineerr.New(engineerr.KindProtocol, "rdpdr: ServerDeviceAnnounceResponse for unknown device id")
	}
}

func (c *Client) handleDeviceIORequest(body []byte) error {
	r := bytes.NewReader(body)
	req, err := decodeDeviceIORequest(r)
	if err != nil {
		return err
	}

	// Device I/O request is where communication with the smartcard or
	// shared directory actually happens; everything up to this point is
	// negotiation and device registration.
	if req.majorFunction == IRPMjDeviceControl {
		return c.handleDeviceControl(req, r)
	}

	if c.fs == nil || req.deviceID != driveDeviceID {
		return engineerr.New(engineerr.KindProtocol, "rdpdr: unsupported major function in device I/O request")
	}

	remaining, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	ioReq := fs.IoRequest{
		DeviceID:      req.deviceID,
		FileID:        req.fileID,
		CompletionID:  req.completionID,
		MajorFunction: uint32(req.majorFunction),
		MinorFunction: uint32(req.minorFunction),
	}
	response, err := c.fs.HandleDriveIoRequest(ioReq, remaining)
	if err != nil {
		return err
	}
	if response == nil {
		return nil
	}
	return c.send(PacketIDCoreDeviceIOCompletion, response)
}

func (c *Client) handleDeviceControl(header deviceIORequest, r io.Reader) error {
	req, input, err := decodeDeviceControlRequest(header, r)
	if err != nil {
		return err
	}

	output, suppressed, err := c.scard.HandleIoctl(scard.IoctlCode(req.ioControlCode), input)
	if err != nil {
		return err
	}
	if suppressed {
		return nil
	}
	return c.send(PacketIDCoreDeviceIOCompletion, encodeDeviceControlResponse(req, StatusSuccess, output))
}

func (c *Client) send(packetID PacketID, body []byte) error {
	frame := withHeader(packetID, body)
	for _, chunk := range vchan.Chunk(frame, 0) {
		if err := c.sender.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}
