package logging

import "fmt"

// Redacted wraps a byte slice or string so that it formats as a bounded
// length description instead of its contents. Use it when logging values
// that may carry key material, PINs, or other session secrets.
type Redacted struct {
	kind string
	n    int
}

// RedactedBytes describes a byte slice by length only.
func RedactedBytes(b []byte) Redacted {
	return Redacted{kind: "&[u8]", n: len(b)}
}

// RedactedString describes a string by length only.
func RedactedString(s string) Redacted {
	return Redacted{kind: "&str", n: len(s)}
}

// String implements fmt.Stringer.
func (r Redacted) String() string {
	return fmt.Sprintf("%s of length %d", r.kind, r.n)
}
