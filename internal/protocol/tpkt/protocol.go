// Package tpkt implements the TPKT transport protocol (RFC 1006) used as
// the base transport layer for RDP connections.
package tpkt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerLen = 4
	version   = 0x03
	reserved  = 0x00
)

type Protocol struct {
	conn io.ReadWriteCloser
}

func New(conn io.ReadWriteCloser) *Protocol {
	return &Protocol{
		conn: conn,
	}
}

// Send wraps pduData in a TPKT header and writes it to the underlying
// connection in a single write.
func (p *Protocol) Send(pduData []byte) error {
	packet := make([]byte, headerLen+len(pduData))
	packet[0] = version
	packet[1] = reserved
	binary.BigEndian.PutUint16(packet[2:4], uint16(headerLen+len(pduData)))
	copy(packet[headerLen:], pduData)

	if _, err := p.conn.Write(packet); err != nil {
		return fmt.Errorf("tpkt send: %w", err)
	}

	return nil
}

// Receive reads a single TPKT packet from the underlying connection and
// returns a reader over its payload.
func (p *Protocol) Receive() (io.Reader, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, fmt.Errorf("tpkt header: %w", err)
	}

	length := binary.BigEndian.Uint16(header[2:4])
	if length < headerLen {
		return nil, fmt.Errorf("tpkt length %d shorter than header", length)
	}

	payload := make([]byte, length-headerLen)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, fmt.Errorf("tpkt payload: %w", err)
	}

	return bytes.NewReader(payload), nil
}
