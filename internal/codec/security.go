// Package codec holds small wire-format helpers shared across the protocol
// stack: the RDP basic security header and client-side UTF-16LE string
// encoding used by the connection sequence.
package codec

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WrapSecurityFlag wraps data with an RDP security header containing the
// specified flag (MS-RDPBCGR 2.2.8.1.1.2.1).
func WrapSecurityFlag(flag uint16, data []byte) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.LittleEndian, flag)
	buf.Write([]byte{0x00, 0x00}) // flagsHi

	buf.Write(data)

	return buf.Bytes()
}

// UnwrapSecurityFlag reads and returns the security flag from an RDP
// security header.
func UnwrapSecurityFlag(wire io.Reader) (uint16, error) {
	var flags, flagsHi uint16

	if err := binary.Read(wire, binary.LittleEndian, &flags); err != nil {
		return 0, err
	}
	if err := binary.Read(wire, binary.LittleEndian, &flagsHi); err != nil {
		return 0, err
	}

	return flags, nil
}
