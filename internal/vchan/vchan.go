// Package vchan implements the generic static virtual-channel Channel PDU
// Header and chunker shared by CLIPRDR and RDPDR (MS-RDPBCGR 2.2.6.1),
// in the header-byte/binary.Write idiom internal/protocol/drdynvc uses for
// its own (dynamic) channel framing.
package vchan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Channel PDU Header flags (MS-RDPBCGR 2.2.6.1.1).
const (
	FlagFirst        uint32 = 0x00000001
	FlagLast         uint32 = 0x00000002
	FlagShowProtocol uint32 = 0x00000010
	FlagSuspend      uint32 = 0x00000020
	FlagResume       uint32 = 0x00000040
)

// MaxChunkLength is the largest payload carried in a single chunk; larger
// messages are split across multiple chunks (§4.F.1).
const MaxChunkLength = 1600

// Header is the 8-byte Channel PDU Header prepended to every chunk.
type Header struct {
	// Length is the total logical PDU length, not this chunk's length.
	Length uint32
	Flags  uint32
}

// Serialize encodes the header to wire format.
func (h *Header) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, h.Length)
	_ = binary.Write(buf, binary.LittleEndian, h.Flags)
	return buf.Bytes()
}

// Deserialize decodes the header from wire format.
func (h *Header) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &h.Length); err != nil {
		return fmt.Errorf("channel pdu header length: %w", err)
	}
	return binary.Read(wire, binary.LittleEndian, &h.Flags)
}

// Chunk splits payload into one or more wire-ready frames, each carrying
// an 8-byte Channel PDU Header. The first frame carries FlagFirst, the
// last carries FlagLast (both, on a single-chunk message); extraFlags is
// OR-ed onto every chunk.
func Chunk(payload []byte, extraFlags uint32) [][]byte {
	total := uint32(len(payload)) // #nosec G115

	if len(payload) == 0 {
		h := Header{Length: 0, Flags: FlagFirst | FlagLast | extraFlags}
		return [][]byte{append(h.Serialize(), payload...)}
	}

	var chunks [][]byte
	for offset := 0; offset < len(payload); offset += MaxChunkLength {
		end := offset + MaxChunkLength
		if end > len(payload) {
			end = len(payload)
		}

		flags := extraFlags
		if offset == 0 {
			flags |= FlagFirst
		}
		if end == len(payload) {
			flags |= FlagLast
		}

		h := Header{Length: total, Flags: flags}
		frame := append(h.Serialize(), payload[offset:end]...)
		chunks = append(chunks, frame)
	}

	return chunks
}

// Reassembler accumulates chunk payloads until a FlagLast-marked chunk
// arrives, subject to maxBytes. It is single-owner, not safe for
// concurrent use (§4.E.3).
type Reassembler struct {
	maxBytes int
	buf      []byte
	total    uint32
	overCap  bool
}

// NewReassembler creates a Reassembler bounded to maxBytes of accumulated
// payload across all chunks of one logical message.
func NewReassembler(maxBytes int) *Reassembler {
	return &Reassembler{maxBytes: maxBytes}
}

// Feed consumes one chunk (header + payload) from wire. It returns the
// complete reassembled message and true once the FlagLast chunk arrives;
// otherwise it returns (nil, false) and keeps accumulating.
func (r *Reassembler) Feed(wire io.Reader) ([]byte, bool, error) {
	var h Header
	if err := h.Deserialize(wire); err != nil {
		return nil, false, err
	}

	data, err := io.ReadAll(wire)
	if err != nil {
		return nil, false, err
	}

	if h.Flags&FlagFirst != 0 {
		r.buf = r.buf[:0]
		r.total = h.Length
		r.overCap = false
	}

	if !r.overCap {
		if len(r.buf)+len(data) > r.maxBytes {
			r.overCap = true
			r.buf = r.buf[:0]
		} else {
			r.buf = append(r.buf, data...)
		}
	}

	if h.Flags&FlagLast == 0 {
		return nil, false, nil
	}

	wasOverCap := r.overCap
	complete := r.buf
	r.buf = nil
	r.overCap = false

	if wasOverCap {
		return nil, false, nil
	}

	return complete, true, nil
}
