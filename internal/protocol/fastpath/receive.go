package fastpath

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rdpengine/core/internal/protocol/encoding"
)

// ErrUnexpectedX224 indicates a PDU carried the X.224 action code, meaning
// the peer sent a slow-path PDU where a Fast-Path one was expected.
var ErrUnexpectedX224 = errors.New("unexpected x224 action")

// UpdatePDUAction identifies the protocol a Fast-Path PDU's payload belongs
// to, carried in the low two bits of its header (MS-RDPBCGR 2.2.9.1.2.1).
type UpdatePDUAction uint8

const (
	UpdatePDUActionFastPath UpdatePDUAction = 0x0
	UpdatePDUActionX224     UpdatePDUAction = 0x3
)

// UpdatePDUFlag carries the secureChecksum/encrypted bits of a Fast-Path
// output header.
type UpdatePDUFlag uint8

const (
	UpdatePDUFlagSecureChecksum UpdatePDUFlag = 0x1
	UpdatePDUFlagEncrypted      UpdatePDUFlag = 0x2
)

// UpdatePDU is a Fast-Path Update PDU (TS_FP_UPDATE_PDU), the server->client
// output envelope carrying one or more Update structures in Data.
type UpdatePDU struct {
	Action UpdatePDUAction
	Flags  UpdatePDUFlag
	Data   []byte
}

// Deserialize decodes the Fast-Path output header and reads the update
// payload into Data, reusing its backing array when it is already large
// enough.
func (pdu *UpdatePDU) Deserialize(wire io.Reader) error {
	var header uint8
	if err := binary.Read(wire, binary.BigEndian, &header); err != nil {
		return err
	}

	pdu.Action = UpdatePDUAction(header & 0x3)
	if pdu.Action != UpdatePDUActionFastPath {
		return ErrUnexpectedX224
	}

	pdu.Flags = UpdatePDUFlag((header >> 6) & 0x3)
	if pdu.Flags&UpdatePDUFlagEncrypted != 0 {
		return errors.New("fastpath: encryption not supported")
	}
	if pdu.Flags&UpdatePDUFlagSecureChecksum != 0 {
		return errors.New("fastpath: secure checksum not supported")
	}

	length, err := encoding.PerReadLength(wire)
	if err != nil {
		return err
	}
	if length > 0x4000 {
		return fmt.Errorf("fastpath: too big packet: %d", length)
	}

	if cap(pdu.Data) >= length {
		pdu.Data = pdu.Data[:length]
	} else {
		pdu.Data = make([]byte, length)
	}

	if _, err := io.ReadFull(wire, pdu.Data); err != nil {
		return err
	}

	return nil
}

// UpdateCode identifies the kind of Update structure carried in an
// UpdatePDU's Data (MS-RDPBCGR 2.2.9.1.2.1).
type UpdateCode uint8

const (
	UpdateCodeOrders       UpdateCode = 0x0
	UpdateCodeBitmap       UpdateCode = 0x1
	UpdateCodePalette      UpdateCode = 0x2
	UpdateCodeSynchronize  UpdateCode = 0x3
	UpdateCodeSurfCMDs     UpdateCode = 0x4
	UpdateCodePTRNull      UpdateCode = 0x5
	UpdateCodePTRDefault   UpdateCode = 0x6
	UpdateCodePTRPosition  UpdateCode = 0x8
	UpdateCodeColor        UpdateCode = 0x9
	UpdateCodeCached       UpdateCode = 0xa
	UpdateCodePointer      UpdateCode = 0xb
	UpdateCodeLargePointer UpdateCode = 0xc
)

// Fragment identifies whether an Update is a complete structure or one
// fragment of a sequence the client must reassemble.
type Fragment uint8

const (
	FragmentSingle Fragment = 0x0
	FragmentLast   Fragment = 0x1
	FragmentFirst  Fragment = 0x2
	FragmentNext   Fragment = 0x3
)

// Compression flags an Update's data as bulk-compressed.
type Compression uint8

const (
	CompressionUsed Compression = 0x2
)

// Update is one TS_FP_UPDATE structure: a header identifying its kind,
// fragmentation, and compression, followed by its raw data.
type Update struct {
	UpdateCode       UpdateCode
	fragmentation    Fragment
	compression      Compression
	compressionFlags uint8
	size             uint16
	Data             []byte
}

// Deserialize decodes one Update structure's header and data from wire.
func (u *Update) Deserialize(wire io.Reader) error {
	var header uint8
	if err := binary.Read(wire, binary.BigEndian, &header); err != nil {
		return err
	}

	u.UpdateCode = UpdateCode(header & 0x0f)
	u.fragmentation = Fragment((header >> 4) & 0x3)
	u.compression = Compression((header >> 6) & 0x3)

	if u.compression&CompressionUsed != 0 {
		if err := binary.Read(wire, binary.BigEndian, &u.compressionFlags); err != nil {
			return err
		}
	}

	if err := binary.Read(wire, binary.LittleEndian, &u.size); err != nil {
		return err
	}

	data := make([]byte, u.size)
	if _, err := io.ReadFull(wire, data); err != nil {
		return err
	}
	u.Data = data

	return nil
}
