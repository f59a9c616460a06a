package scard

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf16"

	"github.com/rdpengine/core/internal/engineerr"
)

// RPCE/NDR framing and the pointer-deferral protocol used throughout
// MS-RDPESC messages (MS-RPCE 2.2.6). Every message starts with a common
// header and a private header, and fields larger than 4 bytes are carried
// by reference: a fixed-size "pointer" appears in place of the field, and
// its actual value is appended, in order, after every fixed-size field has
// been read or written.

const (
	rpceVersion              = 1
	rpceLittleEndian         = 0x10
	rpceCommonHeaderLength   = 8
	rpceFiller               = 0xCCCCCCCC
	ndrPointerBase           = 0x00020000
	ndrPointerStride         = 4
)

func decodeRPCEHeaders(r io.Reader) error {
	var version, endianness uint8
	var commonHeaderLength uint16
	var filler uint32

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &endianness); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &commonHeaderLength); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &filler); err != nil {
		return err
	}
	if endianness != rpceLittleEndian {
		return engineerr.New(engineerr.KindProtocol, "scard: big-endian RPCE payload not supported")
	}

	var objectBufferLength, typeFiller uint32
	if err := binary.Read(r, binary.LittleEndian, &objectBufferLength); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &typeFiller)
}

// encodeResponse pads resp to an 8-byte boundary and prepends the RPCE
// stream header and type header.
func encodeResponse(resp []byte) []byte {
	if tail := len(resp) % 8; tail != 0 {
		resp = append(resp, make([]byte, 8-tail)...)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(rpceVersion)
	buf.WriteByte(rpceLittleEndian)
	_ = binary.Write(buf, binary.LittleEndian, uint16(rpceCommonHeaderLength))
	_ = binary.Write(buf, binary.LittleEndian, uint32(rpceFiller))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(resp)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.Write(resp)
	return buf.Bytes()
}

// encodePtr writes a deferred pointer: the referent's length, followed by
// the next pointer value in sequence (MS-RPCE 2.2.6.2).
func encodePtr(w *bytes.Buffer, length uint32, index *uint32) {
	_ = binary.Write(w, binary.LittleEndian, length)
	_ = binary.Write(w, binary.LittleEndian, ndrPointerBase+*index*ndrPointerStride)
	*index++
}

// decodePtr reads one pointer value. A NULL pointer (0) is valid and does
// not advance index; any other value must match the next expected pointer.
func decodePtr(r io.Reader, index *uint32) (uint32, error) {
	var ptr uint32
	if err := binary.Read(r, binary.LittleEndian, &ptr); err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, nil
	}
	expect := ndrPointerBase + *index*ndrPointerStride
	*index++
	if ptr != expect {
		return 0, engineerr.New(engineerr.KindProtocol, "scard: invalid NDR pointer value")
	}
	return ptr, nil
}

// ndrContext is the fixed 4-byte-length smartcard Context handle
// (MS-RDPESC 2.2.1.1).
type ndrContext struct {
	length uint32
	value  uint32
}

func newNDRContext(value uint32) ndrContext { return ndrContext{length: 4, value: value} }

func (c ndrContext) encodePtr(w *bytes.Buffer, index *uint32) {
	encodePtr(w, c.length, index)
}

func (c ndrContext) encodeValue(w *bytes.Buffer) {
	_ = binary.Write(w, binary.LittleEndian, c.length)
	_ = binary.Write(w, binary.LittleEndian, c.value)
}

func decodeNDRContextPtr(r io.Reader, index *uint32) (ndrContext, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return ndrContext{}, err
	}
	if _, err := decodePtr(r, index); err != nil {
		return ndrContext{}, err
	}
	return ndrContext{length: length}, nil
}

func (c *ndrContext) decodeValue(r io.Reader) error {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return err
	}
	if length != c.length {
		return engineerr.New(engineerr.KindProtocol, "scard: mismatched context length in reference and value")
	}
	return binary.Read(r, binary.LittleEndian, &c.value)
}

// ndrHandle is the fixed 4-byte-value smartcard card handle (MS-RDPESC
// 2.2.1.2).
type ndrHandle struct {
	context ndrContext
	length  uint32
	value   uint32
}

func newNDRHandle(context ndrContext, value uint32) ndrHandle {
	return ndrHandle{context: context, length: 4, value: value}
}

func (h ndrHandle) encodePtr(w *bytes.Buffer, index *uint32) {
	h.context.encodePtr(w, index)
	encodePtr(w, h.length, index)
}

func (h ndrHandle) encodeValue(w *bytes.Buffer) {
	h.context.encodeValue(w)
	_ = binary.Write(w, binary.LittleEndian, h.length)
	_ = binary.Write(w, binary.LittleEndian, h.value)
}

func decodeNDRHandlePtr(r io.Reader, index *uint32) (ndrHandle, error) {
	context, err := decodeNDRContextPtr(r, index)
	if err != nil {
		return ndrHandle{}, err
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return ndrHandle{}, err
	}
	if _, err := decodePtr(r, index); err != nil {
		return ndrHandle{}, err
	}
	return ndrHandle{context: context, length: length}, nil
}

func (h *ndrHandle) decodeValue(r io.Reader) error {
	if err := h.context.decodeValue(r); err != nil {
		return err
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return err
	}
	if length != h.length {
		return engineerr.New(engineerr.KindProtocol, "scard: mismatched handle length in reference and value")
	}
	return binary.Read(r, binary.LittleEndian, &h.value)
}

// decodeMultistringUnicode reads a length-prefixed sequence of
// NUL-terminated UTF-16LE strings, itself terminated by a trailing empty
// string (MS-RDPESC 2.2.1.4).
func decodeMultistringUnicode(r io.Reader) (uint32, []string, error) {
	var byteLen uint32
	if err := binary.Read(r, binary.LittleEndian, &byteLen); err != nil {
		return 0, nil, err
	}

	var items []string
	var buf []uint16
	for i := uint32(0); i < byteLen/2; i++ {
		var c uint16
		if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
			return 0, nil, err
		}
		if c == 0 {
			if len(buf) > 0 {
				items = append(items, string(utf16.Decode(buf)))
				buf = nil
			}
			continue
		}
		buf = append(buf, c)
	}
	return byteLen, items, nil
}

func encodeMultistringUnicode(items []string) []byte {
	buf := new(bytes.Buffer)
	for _, s := range items {
		for _, c := range utf16.Encode([]rune(s)) {
			_ = binary.Write(buf, binary.LittleEndian, c)
		}
		_ = binary.Write(buf, binary.LittleEndian, uint16(0))
	}
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))
	return buf.Bytes()
}

func encodeMultistringASCII(items []string) []byte {
	buf := new(bytes.Buffer)
	for _, s := range items {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// decodeStringUnicode reads one length/offset/length-prefixed,
// NUL-terminated, 4-byte-aligned UTF-16LE string (MS-RDPESC 2.2.1.5).
func decodeStringUnicode(r io.Reader) (string, error) {
	var skip [12]byte
	if _, err := io.ReadFull(r, skip[:]); err != nil {
		return "", err
	}

	var buf []uint16
	for {
		var c uint16
		if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
			return "", err
		}
		if c == 0 {
			if len(buf)%2 == 0 {
				var padding uint16
				if err := binary.Read(r, binary.LittleEndian, &padding); err != nil {
					return "", err
				}
			}
			break
		}
		buf = append(buf, c)
	}
	return string(utf16.Decode(buf)), nil
}
