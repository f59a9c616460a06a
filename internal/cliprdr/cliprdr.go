// Package cliprdr implements the clipboard virtual-channel extension
// (MS-RDPECLIP): capability negotiation, format-list advertisement, and
// format-data request/response, bridging to a single local text clipboard.
package cliprdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/util"
)

// ChannelName is the static virtual-channel name CLIPRDR is carried on.
const ChannelName = "cliprdr"

// MaxReassembledMessage bounds the Reassembler's accumulated message size.
const MaxReassembledMessage = 16 * 1024 * 1024

// msgType identifies a CLIPRDR_HEADER's msgType field (MS-RDPECLIP 2.2.1).
type msgType uint16

const (
	msgMonitorReady        msgType = 0x0001
	msgFormatList          msgType = 0x0002
	msgFormatListResponse  msgType = 0x0003
	msgFormatDataRequest   msgType = 0x0004
	msgFormatDataResponse  msgType = 0x0005
	msgTempDirectory       msgType = 0x0006
	msgClipCaps            msgType = 0x0007
	msgFileContentsRequest msgType = 0x0008
	msgFileContentsResp    msgType = 0x0009
	msgLockClipdata        msgType = 0x000A
	msgUnlockClipdata      msgType = 0x000B
)

// headerFlags are the CLIPRDR_HEADER msgFlags bits.
type headerFlags uint16

const (
	flagResponseOK   headerFlags = 0x0001
	flagResponseFail headerFlags = 0x0002
)

// Format is a standard Windows clipboard format identifier (MS-RDPECLIP
// 1.3.1.1). Only the text formats this engine exchanges are named.
type Format uint32

const (
	FormatText        Format = 1
	FormatOEMText     Format = 7
	FormatUnicodeText Format = 13
)

const capsVersion2 uint32 = 0x0002

// capFlagUseLongFormatNames is the only general-capability flag this
// client advertises.
const capFlagUseLongFormatNames uint32 = 0x0002

type header struct {
	msgType msgType
	flags   headerFlags
	dataLen uint32
}

func (h header) encode() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(h.msgType))
	_ = binary.Write(buf, binary.LittleEndian, uint16(h.flags))
	_ = binary.Write(buf, binary.LittleEndian, h.dataLen)
	return buf.Bytes()
}

func decodeHeader(data []byte) (header, []byte, error) {
	if len(data) < 8 {
		return header{}, nil, engineerr.New(engineerr.KindProtocol, "clipboard header truncated")
	}
	return header{
		msgType: msgType(binary.LittleEndian.Uint16(data[0:2])),
		flags:   headerFlags(binary.LittleEndian.Uint16(data[2:4])),
		dataLen: binary.LittleEndian.Uint32(data[4:8]),
	}, data[8:], nil
}

func withHeader(t msgType, flags headerFlags, body []byte) []byte {
	h := header{msgType: t, flags: flags, dataLen: uint32(len(body))} // #nosec G115
	out := make([]byte, 0, 8+len(body))
	out = append(out, h.encode()...)
	out = append(out, body...)
	return out
}

func encodeGeneralCaps() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // one capability set
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // pad
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // CLIPRDR_GENERAL_CAPABILITY set type
	_ = binary.Write(buf, binary.LittleEndian, uint16(12))
	_ = binary.Write(buf, binary.LittleEndian, capsVersion2)
	_ = binary.Write(buf, binary.LittleEndian, capFlagUseLongFormatNames)
	return buf.Bytes()
}

func encodeLongFormatName(id Format, name string) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(id))
	if name == "" {
		_ = binary.Write(buf, binary.LittleEndian, uint16(0))
		return buf.Bytes()
	}
	buf.Write(util.ToUnicode(name, true))
	return buf.Bytes()
}

// decodeLongFormatNames parses a CLIPRDR_FORMAT_LIST body made of
// CLIPRDR_LONG_FORMAT_NAME entries until it is exhausted.
func decodeLongFormatNames(data []byte) ([]Format, error) {
	var formats []Format
	for len(data) > 0 {
		if len(data) < 6 {
			return nil, fmt.Errorf("truncated long format name entry")
		}
		id := Format(binary.LittleEndian.Uint32(data[0:4]))
		rest := data[4:]

		nameLen := 0
		for nameLen+1 < len(rest) {
			if rest[nameLen] == 0 && rest[nameLen+1] == 0 {
				break
			}
			nameLen += 2
		}
		consumed := nameLen + 2
		if consumed > len(rest) {
			consumed = len(rest)
		}

		formats = append(formats, id)
		data = rest[consumed:]
	}
	return formats, nil
}
