package rdpconn

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/rdpengine/core/internal/engineerr"
)

// defaultKerberosPort is the well-known Kerberos KDC port used when a KDC
// URL carries no explicit port.
const defaultKerberosPort = 88

// maxKDCResponseLen bounds a KDC reply to the maximum Kerberos token size
// Windows recommends against exceeding.
const maxKDCResponseLen = 65535

const kdcDialTimeout = 5 * time.Second

// KDCNetworkClient is the CredSSP network client (MS-CSSP Remote Guard
// Kerberos delegation): when the RDP server cannot reach a Key Distribution
// Center itself, it asks the client to relay the request on its behalf.
// TCP is the only transport supported; UDP/HTTP/HTTPS are rejected.
type KDCNetworkClient struct{}

// NewKDCNetworkClient returns a ready-to-use network client.
func NewKDCNetworkClient() *KDCNetworkClient {
	return &KDCNetworkClient{}
}

// Send relays data to the KDC named by rawURL and returns its reply,
// length-prefix included. Only the "tcp" scheme is supported.
func (KDCNetworkClient) Send(scheme, rawURL string, data []byte) ([]byte, error) {
	if scheme != "tcp" {
		return nil, engineerr.New(engineerr.KindProtocol, fmt.Sprintf("NLA: %s is not supported for KDC traffic", scheme))
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindProtocol, "NLA: malformed KDC URL", err)
	}

	port := u.Port()
	if port == "" {
		port = fmt.Sprintf("%d", defaultKerberosPort)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(u.Hostname(), port), kdcDialTimeout)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "NLA: connection to Key Distribution Center failed", err)
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "NLA: sending data to Key Distribution Center failed", err)
	}

	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "NLA: reading data from Key Distribution Center failed", err)
	}

	if length > maxKDCResponseLen {
		return nil, engineerr.New(engineerr.KindProtocol, "NLA: response from Key Distribution Center was too large")
	}

	out := make([]byte, 4+length)
	binary.BigEndian.PutUint32(out[:4], length)
	if _, err := io.ReadFull(conn, out[4:]); err != nil {
		return nil, engineerr.Wrap(engineerr.KindFatalTransport, "NLA: reading data from Key Distribution Center failed", err)
	}

	return out, nil
}
