package pdu

import (
	"bytes"
	"encoding/binary"

	"github.com/rdpengine/core/internal/util"
)

// InfoFlag is the Flags field of a TS_INFO_PACKET (MS-RDPBCGR 2.2.1.11.1.1).
type InfoFlag uint32

const (
	InfoFlagMouse               InfoFlag = 0x00000001
	InfoFlagDisableCtrlAltDel   InfoFlag = 0x00000002
	InfoFlagAutologon           InfoFlag = 0x00000008
	InfoFlagUnicode             InfoFlag = 0x00000010
	InfoFlagMaximizeShell       InfoFlag = 0x00000020
	InfoFlagLogonNotify         InfoFlag = 0x00000040
	InfoFlagCompression         InfoFlag = 0x00000080
	InfoFlagEnableWindowsKey    InfoFlag = 0x00000100
	InfoFlagLogonErrors         InfoFlag = 0x00000400
	InfoFlagMouseHasWheel       InfoFlag = 0x00020000
	InfoFlagPasswordIsScPin     InfoFlag = 0x00040000
	InfoFlagNoAudioPlayback     InfoFlag = 0x00080000
	InfoFlagRail                InfoFlag = 0x00008000
)

// secInfoPkt is the basic security header flag that marks a Client Info PDU
// (MS-RDPBCGR 2.2.8.1.1.2.2). It is only present on the wire when Enhanced
// RDP Security (TLS/CredSSP) is not in effect.
const secInfoPkt uint16 = 0x0040

// ClientInfoPacket is the TS_INFO_PACKET body (MS-RDPBCGR 2.2.1.11.1.1): the
// logon credentials and session preferences the client hands the server
// once channels are joined.
type ClientInfoPacket struct {
	CodePage       uint32
	Flags          InfoFlag
	Domain         string
	UserName       string
	Password       string
	AlternateShell string
	WorkingDir     string
}

// ClientInfo is the Client Info PDU (MS-RDPBCGR 2.2.1.11): a Client Info
// Packet plus an empty Extended Info Packet, the last message of secure
// settings exchange.
type ClientInfo struct {
	InfoPacket ClientInfoPacket
}

// NewClientInfo builds a Client Info PDU with the flag set this engine
// always sends: unicode strings, mouse present, auto-logon (credentials are
// supplied up front, never interactively), and the Windows key passed
// through to the remote desktop.
func NewClientInfo(domain, username, password string) *ClientInfo {
	return &ClientInfo{
		InfoPacket: ClientInfoPacket{
			Flags: InfoFlagMouse | InfoFlagUnicode | InfoFlagAutologon |
				InfoFlagLogonNotify | InfoFlagEnableWindowsKey | InfoFlagMouseHasWheel,
			Domain:   domain,
			UserName: username,
			Password: password,
		},
	}
}

// Serialize encodes the PDU to wire format. When useEnhancedSecurity is
// true (TLS or CredSSP already protects the channel) the basic security
// header is omitted per MS-RDPBCGR 2.2.1.11.1.
func (pdu *ClientInfo) Serialize(useEnhancedSecurity bool) []byte {
	domain := util.ToUnicode(pdu.InfoPacket.Domain, false)
	userName := util.ToUnicode(pdu.InfoPacket.UserName, false)
	password := util.ToUnicode(pdu.InfoPacket.Password, false)
	altShell := util.ToUnicode(pdu.InfoPacket.AlternateShell, false)
	workingDir := util.ToUnicode(pdu.InfoPacket.WorkingDir, false)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, pdu.InfoPacket.CodePage)
	_ = binary.Write(buf, binary.LittleEndian, uint32(pdu.InfoPacket.Flags))
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(domain)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(userName)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(password)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(altShell)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(workingDir)))

	writeUnicodeZ := func(units []byte) {
		buf.Write(units)
		buf.Write([]byte{0, 0})
	}
	writeUnicodeZ(domain)
	writeUnicodeZ(userName)
	writeUnicodeZ(password)
	writeUnicodeZ(altShell)
	writeUnicodeZ(workingDir)

	// Extended Info Packet (MS-RDPBCGR 2.2.1.11.1.1.1): client address
	// family, client address, client directory, time zone, session id,
	// performance flags, auto-reconnect cookie — all left at their
	// empty/zero defaults since this engine never requests auto-reconnect
	// or advertises a client-local address.
	_ = binary.Write(buf, binary.LittleEndian, uint16(0x0002)) // AF_INET
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))      // cbClientAddress
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))      // cbClientDir
	buf.Write(make([]byte, 172))                               // TS_TIME_ZONE_INFORMATION
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))       // clientSessionId
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))       // performanceFlags
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))       // cbAutoReconnectCookie

	if useEnhancedSecurity {
		return buf.Bytes()
	}

	header := new(bytes.Buffer)
	_ = binary.Write(header, binary.LittleEndian, secInfoPkt)
	_ = binary.Write(header, binary.LittleEndian, uint16(0)) // flagsHi
	header.Write(buf.Bytes())

	return header.Bytes()
}
