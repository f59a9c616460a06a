// Package fs bridges MS-RDPEFS drive-redirection IRPs against the
// engine's shared-directory host interface, the way the teacher's rdpdr
// package bridges MS-RDPESC IOCTLs against its smartcard backend.
package fs

import "strings"

// UnixPath is an RDP path translated into the forward-slash form the host
// interface's shared-directory operations use.
type UnixPath struct {
	path string
}

// NewUnixPath converts a DOS-style RDP path ("\dir\file.txt") into a
// UnixPath: backslashes become slashes, and a single leading slash is
// dropped so paths are always relative to the share root.
func NewUnixPath(rdpPath string) UnixPath {
	cleaned := strings.ReplaceAll(rdpPath, `\`, "/")
	cleaned = strings.TrimPrefix(cleaned, "/")
	return UnixPath{path: cleaned}
}

// UnixPathFromString wraps an already-unix-style path (e.g. one read back
// off the wire from a shared-directory response) without reapplying the
// DOS-to-unix translation.
func UnixPathFromString(path string) UnixPath { return UnixPath{path: path} }

func (p UnixPath) String() string { return p.path }

// Last returns the final path component, as used to derive a directory
// entry's display name from its full path.
func (p UnixPath) Last() string {
	parts := strings.Split(p.path, "/")
	return parts[len(parts)-1]
}

// Join appends a child name to a directory path.
func (p UnixPath) Join(name string) UnixPath {
	if p.path == "" {
		return UnixPath{path: name}
	}
	return UnixPath{path: p.path + "/" + name}
}
