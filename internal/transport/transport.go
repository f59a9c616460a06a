// Package transport turns a TCP connection into a framed, TLS-capable byte
// stream of RDP PDUs: dial, upgrade, and a length-prefix-aware reader that
// distinguishes X.224 traffic from Fast-Path traffic by its leading byte.
package transport

import (
	"bufio"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	tls "github.com/icodeface/tls"

	"github.com/rdpengine/core/internal/engineerr"
)

const (
	tcpConnectionTimeout = 5 * time.Second
	readBufferSize       = 64 * 1024
	tlsHandshakeTimeout  = 30 * time.Second
)

// Action distinguishes the two RDP PDU framings multiplexed on the wire
// after activation.
type Action uint8

const (
	ActionFastPath Action = iota
	ActionX224
)

// spkiPrefixLen is the length of the DER SubjectPublicKeyInfo algorithm
// prefix that a FIPS build strips so the exposed key matches the
// non-FIPS path byte-for-byte (see Transport.PeerPublicKey).
const spkiPrefixLen = 24

// Transport owns the TCP/TLS connection and the buffered reader framing
// inbound PDUs.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
	fips   bool
}

// Connect dials addr over TCP with a bounded connect timeout.
func Connect(addr string) (*Transport, error) {
	conn, err := net.DialTimeout("tcp", addr, tcpConnectionTimeout)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "tcp connect", err)
	}

	return &Transport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
	}, nil
}

// SetFIPS toggles FIPS-compliant key exposure for TLSUpgrade.
func (t *Transport) SetFIPS(fips bool) {
	t.fips = fips
}

// TLSUpgrade performs the RDP "Enhanced Security" TLS handshake. Per
// policy, invalid certificates and hostname mismatches are tolerated by
// design (trust-on-connect); the caller is handed the server's public key
// to pin or audit instead. serverName may be empty when addr is an IP
// literal.
func (t *Transport) TLSUpgrade(serverName string) (pinnedKey []byte, err error) {
	cfg := &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS12,
	}

	conn := tls.Client(t.conn, cfg)

	if tcpConn, ok := t.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		defer func() { _ = tcpConn.SetDeadline(time.Time{}) }()
	}

	if err := conn.Handshake(); err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "tls handshake", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, engineerr.New(engineerr.KindFatalTransport, "tls: no peer certificate")
	}

	pub, err := x509.MarshalPKIXPublicKey(state.PeerCertificates[0].PublicKey)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "marshal peer public key", err)
	}

	if t.fips && len(pub) > spkiPrefixLen {
		pub = pub[spkiPrefixLen:]
	}

	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, readBufferSize)

	return pub, nil
}

// Peek returns the leading byte of the next PDU without consuming it, so
// the caller can route between X.224 and Fast-Path processing.
func (t *Transport) Peek() (Action, error) {
	b, err := t.reader.Peek(1)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.KindFatalTransport, "peek pdu header", err)
	}

	if b[0]&0x3 == 3 {
		return ActionX224, nil
	}
	return ActionFastPath, nil
}

// Reader exposes the buffered reader so protocol layers (tpkt, fastpath)
// can frame complete PDUs from it directly.
func (t *Transport) Reader() *bufio.Reader {
	return t.reader
}

// Read satisfies io.Reader so the X.224/MCS/Fast-Path layers can wrap a
// Transport directly; reads always go through the current buffered
// reader, so a mid-connection TLS upgrade is transparent to them.
func (t *Transport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

// Write flushes bytes to the connection, preserving the order the caller
// produced them in.
func (t *Transport) Write(b []byte) (int, error) {
	n, err := t.conn.Write(b)
	if err != nil {
		return n, engineerr.Wrap(engineerr.KindFatalTransport, "write", err)
	}
	return n, nil
}

// Close tears down the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// SetReadDeadline is used by phases (e.g. licensing) that must not hang
// forever waiting on a server reply.
func (t *Transport) SetReadDeadline(d time.Duration) error {
	if d <= 0 {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(d))
}

var _ fmt.Stringer = Action(0)

func (a Action) String() string {
	if a == ActionX224 {
		return "x224"
	}
	return "fastpath"
}
