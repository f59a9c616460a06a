// Package qoim implements a small deterministic RGB565 image codec used by
// the local-server framebuffer-delta path. It trades the full QOI opcode
// set for a narrower one tuned to RGB565 source pixels, with an explicit
// rolling-cache lookup and an extended-run escape for long flat regions.
package qoim

const (
	opIndex       byte = 0x40 // 01xxxxxx
	opDiff        byte = 0x80 // 10xxxxxx
	opLuma        byte = 0xc0 // 110xxxxx
	opRun         byte = 0xe0 // 111xxxxx
	opExtendedRun byte = 0xfe // 11111110
	opRGB         byte = 0xff // 11111111
)

// hashIndex maps an RGB565 pixel (as three component bytes) onto the
// 64-entry rolling cache.
func hashIndex(r, g, b byte) byte {
	return (r ^ g ^ b) % 64
}

// rgb565To888 expands an RGB565 pixel (component bytes, not a packed
// uint16) to RGBA32 using the published fixed-point scaling factors.
func rgb565To888(r, g, b byte) [4]byte {
	return [4]byte{
		byte((uint32(r)*527 + 23) >> 6),
		byte((uint32(g)*259 + 33) >> 6),
		byte((uint32(b)*527 + 23) >> 6),
		0xff,
	}
}

type pixel struct {
	value    uint16
	r, g, b  uint16
}

func decomposePixel(v uint16) pixel {
	return pixel{
		value: v,
		r:     v >> 11,
		g:     (v >> 5) % 64,
		b:     v % 32,
	}
}
