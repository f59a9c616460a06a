// Package x224 implements the X.224 connection-oriented transport protocol
// used in the RDP connection sequence for initial negotiation.
package x224

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rdpengine/core/internal/protocol/tpkt"
)

// Errors returned by ConnectionConfirm.Deserialize and Data.Deserialize.
var (
	ErrSmallConnectionConfirmLength = errors.New("small connection confirm length")
	ErrWrongConnectionConfirmCode   = errors.New("wrong connection confirm code")
	ErrWrongDataLength              = errors.New("wrong data length")
)

// connectionConfirmLength is the fixed LI value an X.224 Connection Confirm
// TPDU carries when it includes an RDP Negotiation Response variable part
// (MS-RDPBCGR 2.2.1.2): 6 bytes of fixed CC fields plus 8 bytes of
// negotiation response.
const connectionConfirmLength = 0x0e

// tpktConnection is the interface that wraps tpkt protocol operations
type tpktConnection interface {
	Receive() (io.Reader, error)
	Send(pduData []byte) error
}

// Protocol handles X.224 protocol operations
type Protocol struct {
	tpktConn tpktConnection
}

// New creates a new X.224 protocol handler
func New(tpktConn *tpkt.Protocol) *Protocol {
	return &Protocol{
		tpktConn: tpktConn,
	}
}

// NewWithConn creates a new X.224 protocol handler with an interface (for testing)
func NewWithConn(conn tpktConnection) *Protocol {
	return &Protocol{
		tpktConn: conn,
	}
}

// ConnectionRequest is the X.224 Connection Request TPDU (MS-RDPBCGR 2.2.1.1).
type ConnectionRequest struct {
	CRCDT        byte
	DSTREF       uint16
	SRCREF       uint16
	ClassOption  byte
	VariablePart []byte
	UserData     []byte
}

// Serialize encodes the Connection Request TPDU to wire format.
func (r ConnectionRequest) Serialize() []byte {
	li := byte(6 + len(r.UserData))

	buf := new(bytes.Buffer)
	buf.WriteByte(li)
	buf.WriteByte(r.CRCDT)
	_ = binary.Write(buf, binary.BigEndian, r.DSTREF)
	_ = binary.Write(buf, binary.BigEndian, r.SRCREF)
	buf.WriteByte(r.ClassOption)
	buf.Write(r.UserData)

	return buf.Bytes()
}

// ConnectionConfirm is the X.224 Connection Confirm TPDU (MS-RDPBCGR 2.2.1.2).
//
// Deserialize only consumes the fixed TPDU header; the RDP Negotiation
// Response variable part is left unread in the reader for the caller.
type ConnectionConfirm struct {
	LI          byte
	CCCDT       byte
	DSTREF      uint16
	SRCREF      uint16
	ClassOption byte
}

// Deserialize decodes the Connection Confirm TPDU header from wire format.
func (c *ConnectionConfirm) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &c.LI); err != nil {
		return err
	}

	if c.LI != connectionConfirmLength {
		return ErrSmallConnectionConfirmLength
	}

	if err := binary.Read(wire, binary.BigEndian, &c.CCCDT); err != nil {
		return err
	}

	if c.CCCDT&0xF0 != 0xD0 {
		return ErrWrongConnectionConfirmCode
	}

	if err := binary.Read(wire, binary.BigEndian, &c.DSTREF); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.BigEndian, &c.SRCREF); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.BigEndian, &c.ClassOption); err != nil {
		return err
	}

	return nil
}

// Data is the X.224 Data TPDU (MS-RDPBCGR 2.2.1.3) used to carry MCS/RDP
// payloads once the connection is established.
type Data struct {
	LI       byte
	DTROA    byte
	NREOT    byte
	UserData []byte
}

// Serialize encodes the Data TPDU to wire format.
func (d Data) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(d.LI)
	buf.WriteByte(d.DTROA)
	buf.WriteByte(d.NREOT)
	buf.Write(d.UserData)

	return buf.Bytes()
}

// Deserialize decodes the Data TPDU header from wire format. The remaining
// bytes of wire are left unread for the caller to interpret as payload.
func (d *Data) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &d.LI); err != nil {
		return err
	}

	if d.LI != 0x02 {
		return ErrWrongDataLength
	}

	if err := binary.Read(wire, binary.BigEndian, &d.DTROA); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.BigEndian, &d.NREOT); err != nil {
		return err
	}

	return nil
}

// Connect sends an X.224 Connection Request carrying userData (the RDP
// Negotiation Request / cookie) and waits for the server's Connection
// Confirm. It returns a reader positioned after the fixed CC header, over
// the RDP Negotiation Response bytes, for the caller to parse.
func (p *Protocol) Connect(userData []byte) (io.Reader, error) {
	req := ConnectionRequest{
		CRCDT:    0xE0,
		UserData: userData,
	}

	if err := p.tpktConn.Send(req.Serialize()); err != nil {
		return nil, fmt.Errorf("client connection request: %w", err)
	}

	wire, err := p.tpktConn.Receive()
	if err != nil {
		return nil, fmt.Errorf("recieve connection response: %w", err)
	}

	var cc ConnectionConfirm
	if err := cc.Deserialize(wire); err != nil {
		return nil, fmt.Errorf("server connection confirm: %w", err)
	}

	return wire, nil
}

// Send wraps pduData in an X.224 Data TPDU and sends it over the underlying
// TPKT connection.
func (p *Protocol) Send(pduData []byte) error {
	data := Data{
		LI:       0x02,
		DTROA:    0xF0,
		NREOT:    0x80,
		UserData: pduData,
	}

	if err := p.tpktConn.Send(data.Serialize()); err != nil {
		return fmt.Errorf("x224 data send: %w", err)
	}

	return nil
}

// Receive reads an X.224 Data TPDU from the underlying TPKT connection and
// returns a reader positioned over its payload.
func (p *Protocol) Receive() (io.Reader, error) {
	wire, err := p.tpktConn.Receive()
	if err != nil {
		return nil, err
	}

	var d Data
	if err := d.Deserialize(wire); err != nil {
		return nil, err
	}

	return wire, nil
}
