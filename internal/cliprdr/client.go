package cliprdr

import (
	"bytes"
	"fmt"

	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/logging"
	"github.com/rdpengine/core/internal/vchan"
)

// Sender writes one complete wire frame (Channel PDU Header + payload) to
// the cliprdr virtual channel.
type Sender interface {
	Send(frame []byte) error
}

// OnRemoteCopy is invoked with UTF-8 text whenever the server reports new
// clipboard data originated remotely (a copy on the RDP desktop).
type OnRemoteCopy func(text []byte) error

// Client drives the CLIPRDR state machine for one session: it both
// answers server-initiated messages and, via Resolve, pushes local copies
// up to the server.
type Client struct {
	sender       Sender
	onRemoteCopy OnRemoteCopy

	reassembler *vchan.Reassembler

	// owned holds the data we've advertised, keyed by format, so a
	// CB_FORMAT_DATA_REQUEST from the server can be answered.
	owned map[Format][]byte

	// incomingPasteFormats is the FIFO of formats we've requested via
	// CB_FORMAT_DATA_REQUEST, awaiting the matching CB_FORMAT_DATA_RESPONSE.
	incomingPasteFormats []Format
}

// New creates a Client. onRemoteCopy may be nil if the host has no use
// for remote clipboard pushes.
func New(sender Sender, onRemoteCopy OnRemoteCopy) *Client {
	if onRemoteCopy == nil {
		onRemoteCopy = func([]byte) error { return nil }
	}
	return &Client{
		sender:       sender,
		onRemoteCopy: onRemoteCopy,
		reassembler:  vchan.NewReassembler(MaxReassembledMessage),
		owned:        make(map[Format][]byte),
	}
}

// HandleChannelData implements session.ChannelHandler: data is one raw
// Channel-PDU-Header-framed chunk received on the cliprdr channel.
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

// Resolve implements session.ResponseSink for a host-initiated local
// clipboard push: update_clipboard(text) pushed through the generic
// clipboard-response command slot (completionID is unused — this is a
// push, not a reply to a pending request).
func (c *Client) Resolve(_ uint32, payload []byte) error {
	return c.UpdateClipboard(string(payload))
}

// UpdateClipboard records a local copy and advertises it to the server
// via CB_FORMAT_LIST (§4.E, update_clipboard).
func (c *Client) UpdateClipboard(text string) error {
	data, format := encodeClipboard(text)
	c.owned[format] = data

	body := encodeLongFormatName(format, "")
	return c.sendMessage(msgFormatList, 0, body, true)
}

func (c *Client) handleMessage(message []byte) error {
	h, body, err := decodeHeader(message)
	if err != nil {
		return err
	}

	switch h.msgType {
	case msgClipCaps:
		return nil // logged-only server capability advertisement; no reply here.
	case msgMonitorReady:
		return c.handleMonitorReady()
	case msgFormatList:
		return c.handleFormatList(body)
	case msgFormatListResponse:
		return nil // success/failure is informational only.
	case msgFormatDataRequest:
		return c.handleFormatDataRequest(body)
	case msgFormatDataResponse:
		if h.flags&flagResponseOK == 0 {
			return nil
		}
		return c.handleFormatDataResponse(body)
	default:
		return nil // unimplemented message types are ignored, not fatal.
	}
}

func (c *Client) handleMonitorReady() error {
	if err := c.sendMessage(msgClipCaps, 0, encodeGeneralCaps(), false); err != nil {
		return err
	}
	return c.sendMessage(msgFormatList, 0, encodeLongFormatName(0, ""), true)
}

func (c *Client) handleFormatList(body []byte) error {
	formats, err := decodeLongFormatNames(body)
	if err != nil {
		return err
	}

	if err := c.sendMessage(msgFormatListResponse, flagResponseOK, nil, false); err != nil {
		return err
	}

	preferred, ok := bestTextFormat(formats)
	if !ok {
		logging.Debug("Clipboard: no supported text format in server format list (%d formats)", len(formats))
		return nil
	}

	c.incomingPasteFormats = append(c.incomingPasteFormats, preferred)
	return c.sendMessage(msgFormatDataRequest, 0, encodeFormatID(preferred), true)
}

func (c *Client) handleFormatDataRequest(body []byte) error {
	if len(body) < 4 {
		return engineerr.New(engineerr.KindProtocol, "format data request truncated")
	}
	requested := Format(uint32FromLE(body))

	data, ok := c.owned[requested]
	if !ok {
		return fmt.Errorf("no clipboard data cached for format %d", requested)
	}

	return c.sendMessage(msgFormatDataResponse, flagResponseOK, data, true)
}

func (c *Client) handleFormatDataResponse(body []byte) error {
	if len(c.incomingPasteFormats) == 0 {
		return engineerr.New(engineerr.KindProtocol, "unpaired format data response")
	}

	format := c.incomingPasteFormats[0]
	c.incomingPasteFormats = c.incomingPasteFormats[1:]

	decoded, err := decodeClipboard(body, format)
	if err != nil {
		return err
	}

	logging.Debug("Clipboard: received %d bytes of remote clipboard data", len(decoded))
	return c.onRemoteCopy(decoded)
}

// bestTextFormat picks the highest-preference text format present,
// following CF_UNICODETEXT > CF_TEXT > CF_OEMTEXT.
func bestTextFormat(formats []Format) (Format, bool) {
	has := make(map[Format]bool, len(formats))
	for _, f := range formats {
		has[f] = true
	}

	for _, candidate := range []Format{FormatUnicodeText, FormatText, FormatOEMText} {
		if has[candidate] {
			return candidate, true
		}
	}
	return 0, false
}

func (c *Client) sendMessage(t msgType, flags headerFlags, body []byte, showProtocol bool) error {
	frame := withHeader(t, flags, body)

	var extraFlags uint32
	if showProtocol {
		extraFlags = vchan.FlagShowProtocol
	}

	for _, chunk := range vchan.Chunk(frame, extraFlags) {
		if err := c.sender.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

func encodeFormatID(f Format) []byte {
	return []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
}

func uint32FromLE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
