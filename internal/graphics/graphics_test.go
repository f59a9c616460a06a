package graphics

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rdpengine/core/internal/protocol/fastpath"
	"github.com/stretchr/testify/require"
)

func buildUpdatePDU(t *testing.T, updates ...[]byte) *fastpath.UpdatePDU {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, u := range updates {
		buf.Write(u)
	}
	return &fastpath.UpdatePDU{Data: buf.Bytes()}
}

func buildUpdate(t *testing.T, code fastpath.UpdateCode, data []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(code)) // fragmentation=single, compression=none
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func buildSetSurfaceBits(destLeft, destTop, destRight, destBottom, width, height uint16, bpp, codecID uint8, bitmap []byte) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, fastpath.CmdTypeSurfaceBits)
	_ = binary.Write(buf, binary.LittleEndian, destLeft)
	_ = binary.Write(buf, binary.LittleEndian, destTop)
	_ = binary.Write(buf, binary.LittleEndian, destRight)
	_ = binary.Write(buf, binary.LittleEndian, destBottom)
	buf.WriteByte(bpp)
	buf.WriteByte(0) // flags
	buf.WriteByte(0) // reserved
	buf.WriteByte(codecID)
	_ = binary.Write(buf, binary.LittleEndian, width)
	_ = binary.Write(buf, binary.LittleEndian, height)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(bitmap)))
	buf.Write(bitmap)
	return buf.Bytes()
}

func TestProcessSurfaceCommandsBlitsRawCodec(t *testing.T) {
	p := NewProcessor(4, 4)

	bitmap := make([]byte, 2*2*4)
	// one BGRA pixel per position; pixel (0,0) = red
	bitmap[0], bitmap[1], bitmap[2], bitmap[3] = 0, 0, 255, 255 // B,G,R,A

	sb := buildSetSurfaceBits(0, 0, 1, 1, 2, 2, 32, 0, bitmap)
	update := buildUpdate(t, fastpath.UpdateCodeSurfCMDs, sb)
	pdu := buildUpdatePDU(t, update)

	outputs, err := p.Process(pdu)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, OutputRegion, outputs[0].Kind)
	require.Equal(t, Region{Left: 0, Top: 0, Right: 1, Bottom: 1}, outputs[0].Region)

	require.EqualValues(t, 255, p.Image.Pixels[0]) // R
	require.EqualValues(t, 0, p.Image.Pixels[1])   // G
	require.EqualValues(t, 0, p.Image.Pixels[2])   // B
	require.EqualValues(t, 255, p.Image.Pixels[3]) // A
}

func TestProcessResizesWhenRegionExceedsImage(t *testing.T) {
	p := NewProcessor(2, 2)

	sb := buildSetSurfaceBits(0, 0, 3, 3, 4, 4, 32, 0, make([]byte, 4*4*4))
	update := buildUpdate(t, fastpath.UpdateCodeSurfCMDs, sb)
	pdu := buildUpdatePDU(t, update)

	_, err := p.Process(pdu)
	require.NoError(t, err)
	require.EqualValues(t, 4, p.Image.Width)
	require.EqualValues(t, 4, p.Image.Height)
}

func TestProcessFailsOnSlowPathBitmapFirstCall(t *testing.T) {
	p := NewProcessor(4, 4)

	update := buildUpdate(t, fastpath.UpdateCodeBitmap, []byte{0x01, 0x02})
	pdu := buildUpdatePDU(t, update)

	_, err := p.Process(pdu)
	require.Error(t, err)
}

func TestProcessPointerPosition(t *testing.T) {
	p := NewProcessor(4, 4)

	// RemoteFX check clears first so later pointer updates are unaffected.
	clear := buildUpdate(t, fastpath.UpdateCodeSurfCMDs, nil)

	posData := make([]byte, 4)
	binary.LittleEndian.PutUint16(posData[0:2], 10)
	binary.LittleEndian.PutUint16(posData[2:4], 20)
	pos := buildUpdate(t, fastpath.UpdateCodePTRPosition, posData)

	pdu := buildUpdatePDU(t, clear, pos)

	outputs, err := p.Process(pdu)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, OutputPointerPosition, outputs[0].Kind)
	require.EqualValues(t, 10, outputs[0].X)
	require.EqualValues(t, 20, outputs[0].Y)
}

func TestExtractPartialImageSmallRegion(t *testing.T) {
	p := NewProcessor(8, 8)
	for i := range p.Image.Pixels {
		p.Image.Pixels[i] = byte(i)
	}

	region := Region{Left: 1, Top: 1, Right: 2, Bottom: 2}
	out, bytesOut := p.ExtractPartialImage(region)

	require.Equal(t, region, out)
	require.Len(t, bytesOut, 2*2*4)
}

func TestExtractPartialImageWidensLargeRegion(t *testing.T) {
	p := NewProcessor(1024, 128)

	region := Region{Left: 100, Top: 0, Right: 700, Bottom: 100}
	out, bytesOut := p.ExtractPartialImage(region)

	require.Equal(t, uint16(0), out.Left)
	require.Equal(t, uint16(1023), out.Right)
	require.Len(t, bytesOut, 1024*4*101)
}
