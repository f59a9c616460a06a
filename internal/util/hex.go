package util

import "encoding/hex"

// Hex renders b as a lowercase hex string, for use in error messages and
// protocol traces.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}
