package fastpath

import (
	"bytes"
	"encoding/binary"
)

// InputEventPDU is a Fast-Path Input Event PDU (TS_FP_INPUT_PDU), the
// client->server envelope used once the slow-path connection sequence has
// completed (MS-RDPBCGR 2.2.8.1.2).
type InputEventPDU struct {
	action    uint8
	numEvents uint8
	flags     uint8
	eventData []byte
}

// NewInputEventPDU wraps eventData, already serialized input events, in a
// single-event Fast-Path Input Event PDU.
func NewInputEventPDU(eventData []byte) *InputEventPDU {
	return &InputEventPDU{
		numEvents: 1,
		eventData: eventData,
	}
}

// Serialize encodes the Fast-Path input header, length, and event data.
func (pdu *InputEventPDU) Serialize() []byte {
	buf := new(bytes.Buffer)

	header := (pdu.flags << 6) | (pdu.numEvents << 2) | pdu.action
	buf.WriteByte(header)

	// SerializeLength never errors writing to a bytes.Buffer.
	_ = pdu.SerializeLength(1+len(pdu.eventData), buf)

	buf.Write(pdu.eventData)

	return buf.Bytes()
}

// SerializeLength encodes a Fast-Path length determinant: a single
// self-inclusive byte when value is small enough, otherwise two
// self-inclusive bytes with the top bit of the first set.
func (pdu *InputEventPDU) SerializeLength(value int, buf *bytes.Buffer) error {
	if value > 0x7f {
		return binary.Write(buf, binary.BigEndian, uint16(value+2)|0x8000)
	}

	buf.WriteByte(byte(value + 1))

	return nil
}
