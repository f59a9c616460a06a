// Package fastpath implements the RDP Fast-Path protocol as specified in MS-RDPBCGR.
// Fast-Path provides optimized encoding for input and output PDUs.
package fastpath

import (
	"fmt"
	"io"
)

type Protocol struct {
	conn io.ReadWriter

	updatePDUData []byte
}

func New(conn io.ReadWriter) *Protocol {
	return &Protocol{
		conn: conn,

		updatePDUData: make([]byte, 64*1024),
	}
}

// Send serializes pdu and writes it to the underlying connection.
func (p *Protocol) Send(pdu *InputEventPDU) error {
	if _, err := p.conn.Write(pdu.Serialize()); err != nil {
		return fmt.Errorf("fastpath send: %w", err)
	}

	return nil
}

// Receive reads one Fast-Path Update PDU from the underlying connection,
// reusing the Protocol's preallocated update buffer when large enough.
func (p *Protocol) Receive() (*UpdatePDU, error) {
	pdu := &UpdatePDU{Data: p.updatePDUData[:0]}

	if err := pdu.Deserialize(p.conn); err != nil {
		return nil, fmt.Errorf("fastpath receive: %w", err)
	}

	p.updatePDUData = pdu.Data[:cap(pdu.Data)]

	return pdu, nil
}
