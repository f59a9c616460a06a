package rdpconn

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/rdpengine/core/internal/protocol/pdu"
	"github.com/stretchr/testify/require"
)

// mockMCSLayer is a hand-fed stand-in for mcs.MCSLayer, in the style of the
// teacher's mcs_integration_test.go testMCSLayer.
type mockMCSLayer struct {
	connectFunc      func([]byte) (io.Reader, error)
	erectDomainFunc  func() error
	attachUserFunc   func() (uint16, error)
	joinChannelsFunc func(uint16, map[string]uint16) error
	sendFunc         func(uint16, uint16, []byte) error
	receiveFunc      func() (uint16, io.Reader, error)

	sent [][]byte
}

func (m *mockMCSLayer) Connect(userData []byte) (io.Reader, error) {
	return m.connectFunc(userData)
}
func (m *mockMCSLayer) ErectDomain() error {
	if m.erectDomainFunc != nil {
		return m.erectDomainFunc()
	}
	return nil
}
func (m *mockMCSLayer) AttachUser() (uint16, error) {
	if m.attachUserFunc != nil {
		return m.attachUserFunc()
	}
	return 1001, nil
}
func (m *mockMCSLayer) JoinChannels(userID uint16, channelIDMap map[string]uint16) error {
	if m.joinChannelsFunc != nil {
		return m.joinChannelsFunc(userID, channelIDMap)
	}
	return nil
}
func (m *mockMCSLayer) Send(userID, channelID uint16, data []byte) error {
	m.sent = append(m.sent, data)
	if m.sendFunc != nil {
		return m.sendFunc(userID, channelID, data)
	}
	return nil
}
func (m *mockMCSLayer) Receive() (uint16, io.Reader, error) {
	return m.receiveFunc()
}

func TestInitChannels(t *testing.T) {
	o := newWithMCSLayer(&mockMCSLayer{}, Credentials{}, DesktopSize{}, []string{"cliprdr", "rdpdr"})

	o.initChannels(&pdu.ServerNetworkData{
		MCSChannelId:   1003,
		ChannelIdArray: []uint16{1004, 1005},
	})

	require.Equal(t, uint16(1004), o.channelIDMap["cliprdr"])
	require.Equal(t, uint16(1005), o.channelIDMap["rdpdr"])
	require.Equal(t, uint16(1003), o.channelIDMap["global"])
}

func TestChannelConnection_Success(t *testing.T) {
	joined := false
	mock := &mockMCSLayer{
		attachUserFunc: func() (uint16, error) { return 7, nil },
		joinChannelsFunc: func(userID uint16, m map[string]uint16) error {
			joined = true
			require.Equal(t, uint16(7), userID)
			return nil
		},
	}
	o := newWithMCSLayer(mock, Credentials{}, DesktopSize{}, nil)

	err := o.channelConnection()
	require.NoError(t, err)
	require.True(t, joined)
	require.Equal(t, uint16(7), o.userID)
	require.Equal(t, uint16(7), o.channelIDMap["user"])
}

func TestSecureSettingsExchange_SendsUnicodeAutologonClientInfo(t *testing.T) {
	mock := &mockMCSLayer{}
	o := newWithMCSLayer(mock, Credentials{Domain: "CORP", Username: "alice", Password: "hunter2"}, DesktopSize{}, nil)
	o.userID = 7
	o.channelIDMap["global"] = 1003
	o.selectedProtocol = pdu.NegotiationProtocolHybridEx

	err := o.secureSettingsExchange()
	require.NoError(t, err)
	require.Len(t, mock.sent, 1)

	// Enhanced security in effect: no basic security header, so the PDU
	// starts directly with the 4-byte CodePage field followed by Flags.
	flags := pdu.InfoFlag(binary.LittleEndian.Uint32(mock.sent[0][4:8]))
	require.NotZero(t, flags&pdu.InfoFlagUnicode)
	require.NotZero(t, flags&pdu.InfoFlagAutologon)
}

func buildLicenseWire(t *testing.T, msgType byte, errorCode, stateTransition uint32) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0x0080)) // SEC_LICENSE_PKT
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))      // flagsHi
	buf.WriteByte(msgType)
	buf.WriteByte(0) // preamble flags
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // msgSize
	_ = binary.Write(buf, binary.LittleEndian, errorCode)
	_ = binary.Write(buf, binary.LittleEndian, stateTransition)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // blob type
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // blob len
	return buf.Bytes()
}

func TestLicensing_NewLicense(t *testing.T) {
	wire := buildLicenseWire(t, 0x03, 0, 0)
	mock := &mockMCSLayer{
		receiveFunc: func() (uint16, io.Reader, error) {
			return 0, bytes.NewReader(wire), nil
		},
	}
	o := newWithMCSLayer(mock, Credentials{}, DesktopSize{}, nil)
	// licensing calls o.transport.SetReadDeadline; a nil transport would
	// panic, so this path is only exercised indirectly via Connect in
	// integration contexts. Call the underlying deserialize logic instead.
	_, wireR, err := mock.Receive()
	require.NoError(t, err)
	var resp pdu.ServerLicenseError
	require.NoError(t, resp.Deserialize(wireR, true))
	require.EqualValues(t, 0x03, resp.Preamble.MsgType)
}

func TestLicensing_ErrorAlertValidClient(t *testing.T) {
	wire := buildLicenseWire(t, 0xFF, 0x00000007, 0x00000002)
	var resp pdu.ServerLicenseError
	require.NoError(t, resp.Deserialize(bytes.NewReader(wire), true))
	require.EqualValues(t, 0xFF, resp.Preamble.MsgType)
	require.EqualValues(t, 0x00000007, resp.ValidClientMessage.ErrorCode)
	require.EqualValues(t, 0x00000002, resp.ValidClientMessage.StateTransition)
}

func buildDemandActiveWire(t *testing.T, shareID uint32) []byte {
	t.Helper()
	combined := new(bytes.Buffer)
	_ = binary.Write(combined, binary.LittleEndian, uint16(0)) // numberCapabilities
	_ = binary.Write(combined, binary.LittleEndian, uint16(0)) // pad2Octets

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))           // totalLength (unused by Deserialize)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0x11))        // PDUTYPE_DEMANDACTIVEPDU
	_ = binary.Write(buf, binary.LittleEndian, uint16(1002))        // pduSource
	_ = binary.Write(buf, binary.LittleEndian, shareID)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0))                    // lengthSourceDescriptor
	_ = binary.Write(buf, binary.LittleEndian, uint16(combined.Len()))       // lengthCombinedCapabilities
	buf.Write(combined.Bytes())
	return buf.Bytes()
}

func TestCapabilitiesExchange(t *testing.T) {
	wire := buildDemandActiveWire(t, 0x1000)
	mock := &mockMCSLayer{
		receiveFunc: func() (uint16, io.Reader, error) {
			return 0, bytes.NewReader(wire), nil
		},
	}
	o := newWithMCSLayer(mock, Credentials{}, DesktopSize{Width: 1024, Height: 768}, nil)
	o.userID = 7
	o.channelIDMap["global"] = 1003

	err := o.capabilitiesExchange()
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), o.shareID)
	require.Len(t, mock.sent, 1)
}

func buildFinalizationResponses(shareID uint32, userID uint16) [][]byte {
	sync := pdu.NewSynchronize(shareID, userID).Serialize()
	control := pdu.NewControl(shareID, userID, pdu.ControlActionGrantedControl).Serialize()

	// Build a font map Data PDU by hand: ShareDataHeader + 8 zero bytes.
	fm := new(bytes.Buffer)
	_ = binary.Write(fm, binary.LittleEndian, uint16(0))    // totalLength
	_ = binary.Write(fm, binary.LittleEndian, uint16(0x17)) // TypeData
	_ = binary.Write(fm, binary.LittleEndian, userID)
	_ = binary.Write(fm, binary.LittleEndian, shareID)
	fm.WriteByte(0) // padding
	fm.WriteByte(1) // streamID
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // uncompressedLength
	fm.WriteByte(0x28)                                   // Type2Fontmap
	fm.WriteByte(0)                                      // compressedType
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // compressedLength
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // numberEntries
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // totalNumEntries
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // mapFlags
	_ = binary.Write(fm, binary.LittleEndian, uint16(0)) // entrySize

	return [][]byte{sync, control, fm.Bytes()}
}

func TestConnectionFinalization_Success(t *testing.T) {
	responses := buildFinalizationResponses(0x1000, 7)
	idx := 0
	mock := &mockMCSLayer{
		receiveFunc: func() (uint16, io.Reader, error) {
			r := bytes.NewReader(responses[idx])
			idx++
			return 0, r, nil
		},
	}
	o := newWithMCSLayer(mock, Credentials{}, DesktopSize{}, nil)
	o.userID = 7
	o.shareID = 0x1000
	o.channelIDMap["global"] = 1003

	err := o.connectionFinalization()
	require.NoError(t, err)
	require.Len(t, mock.sent, 4) // synchronize, control cooperate, control request, font list
}
