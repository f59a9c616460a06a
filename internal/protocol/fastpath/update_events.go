package fastpath

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PaletteEntry is a single TS_PALETTE_ENTRY RGB triple.
type PaletteEntry struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

func (e *PaletteEntry) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &e.Red); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.BigEndian, &e.Green); err != nil {
		return err
	}
	return binary.Read(wire, binary.BigEndian, &e.Blue)
}

// paletteUpdateData is a TS_UPDATE_PALETTE_DATA structure.
type paletteUpdateData struct {
	updateType     uint16
	pad2Octets     uint16
	numberColors   uint16
	PaletteEntries []PaletteEntry
}

func (d *paletteUpdateData) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &d.updateType); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.pad2Octets); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.numberColors); err != nil {
		return err
	}

	entries := make([]PaletteEntry, d.numberColors)
	for i := range entries {
		if err := entries[i].Deserialize(wire); err != nil {
			return err
		}
	}
	d.PaletteEntries = entries

	return nil
}

// CompressedDataHeader is a TS_CD_HEADER preceding RLE-compressed bitmap
// data when BITMAP_DATA_FLAG_COMPRESSION is set without NO_BITMAP_COMPRESSION_HDR.
type CompressedDataHeader struct {
	CbCompFirstRowSize uint16
	CbCompMainBodySize uint16
	CbScanWidth        uint16
	CbUncompressedSize uint16
}

func (h *CompressedDataHeader) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &h.CbCompFirstRowSize); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &h.CbCompMainBodySize); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &h.CbScanWidth); err != nil {
		return err
	}
	return binary.Read(wire, binary.LittleEndian, &h.CbUncompressedSize)
}

// BitmapDataFlag flags a BitmapData rectangle's encoding (MS-RDPBCGR
// 2.2.9.1.1.3.1.2.2).
type BitmapDataFlag uint16

const (
	BitmapDataFlagCompression BitmapDataFlag = 0x0001
	BitmapDataFlagNoHDR       BitmapDataFlag = 0x0400
)

// BitmapData is a TS_BITMAP_DATA rectangle.
type BitmapData struct {
	DestLeft         uint16
	DestTop          uint16
	DestRight        uint16
	DestBottom       uint16
	Width            uint16
	Height           uint16
	BitsPerPixel     uint16
	Flags            BitmapDataFlag
	BitmapLength     uint16
	CompressedHeader *CompressedDataHeader
	BitmapDataStream []byte
}

func (d *BitmapData) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &d.DestLeft); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.DestTop); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.DestRight); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.DestBottom); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.Width); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.Height); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.BitsPerPixel); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.Flags); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.BitmapLength); err != nil {
		return err
	}

	raw := make([]byte, d.BitmapLength)
	if _, err := io.ReadFull(wire, raw); err != nil {
		return err
	}

	if d.Flags&BitmapDataFlagCompression != 0 && d.Flags&BitmapDataFlagNoHDR == 0 && len(raw) >= 8 {
		header := &CompressedDataHeader{}
		if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
			return err
		}
		d.CompressedHeader = header
		d.BitmapDataStream = raw[8:]
	} else {
		d.BitmapDataStream = raw
	}

	return nil
}

// bitmapUpdateData is a TS_UPDATE_BITMAP_DATA structure.
type bitmapUpdateData struct {
	updateType       uint16
	numberRectangles uint16
	Rectangles       []BitmapData
}

func (d *bitmapUpdateData) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &d.updateType); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.numberRectangles); err != nil {
		return err
	}

	rects := make([]BitmapData, d.numberRectangles)
	for i := range rects {
		if err := rects[i].Deserialize(wire); err != nil {
			return err
		}
	}
	d.Rectangles = rects

	return nil
}

// pointerPositionUpdateData is a TS_POINTER_POSITION_UPDATE structure.
type pointerPositionUpdateData struct {
	xPos uint16
	yPos uint16
}

func (d *pointerPositionUpdateData) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &d.xPos); err != nil {
		return err
	}
	return binary.Read(wire, binary.LittleEndian, &d.yPos)
}

// colorPointerUpdateData is a TS_COLORPOINTERATTRIBUTE structure.
type colorPointerUpdateData struct {
	cacheIndex    uint16
	xPos          uint16
	yPos          uint16
	width         uint16
	height        uint16
	lengthAndMask uint16
	lengthXorMask uint16
	xorMaskData   []byte
	andMaskData   []byte
}

func (d *colorPointerUpdateData) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &d.cacheIndex); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.xPos); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.yPos); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.width); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.height); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.lengthAndMask); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &d.lengthXorMask); err != nil {
		return err
	}

	xorMask := make([]byte, d.lengthXorMask)
	if _, err := io.ReadFull(wire, xorMask); err != nil {
		return err
	}
	d.xorMaskData = xorMask

	andMask := make([]byte, d.lengthAndMask)
	if _, err := io.ReadFull(wire, andMask); err != nil {
		return err
	}
	d.andMaskData = andMask

	var pad uint8
	return binary.Read(wire, binary.LittleEndian, &pad)
}
