// Package rdpconn drives the RDP connection sequence — negotiation, the
// TLS/CredSSP upgrade, channel setup, licensing, and capability exchange —
// to an activated session, the way internal/rdp/connect.go in the reference
// client does it: Connect runs each phase function in order, and the single
// TLS upgrade happens inside connectionInitiation.
package rdpconn

import (
	"fmt"
	"time"

	"github.com/rdpengine/core/internal/engineerr"
	"github.com/rdpengine/core/internal/protocol/mcs"
	"github.com/rdpengine/core/internal/protocol/pdu"
	"github.com/rdpengine/core/internal/protocol/tpkt"
	"github.com/rdpengine/core/internal/protocol/x224"
	"github.com/rdpengine/core/internal/transport"
)

// colorDepth32 and licenseReadTimeout are the two policy constants this
// package itself enforces; keyboard type/function-key count and client name
// live in internal/protocol/pdu alongside the Client Core Data they shape.
const (
	colorDepth32       = 32
	licenseReadTimeout = 10 * time.Second
)

// Credentials carries the logon identity supplied to secure settings
// exchange and, when NLA is negotiated, to CredSSP.
type Credentials struct {
	Domain   string
	Username string
	Password string
}

// DesktopSize is the resolution requested at connect time; ConnectionResult
// reports what the server actually activated.
type DesktopSize struct {
	Width  uint16
	Height uint16
}

// ConnectionResult is everything the session loop needs once the RDP
// connection sequence has produced an activated share: the static channel
// IDs negotiated during basic settings exchange, the user and I/O channel
// IDs assigned by MCS, and the desktop size the server confirmed.
type ConnectionResult struct {
	ShareID       uint32
	UserID        uint16
	IOChannelID   uint16
	ChannelIDs    map[string]uint16
	DesktopSize   DesktopSize
	PinnedPubKey  []byte
}

// Orchestrator drives one connection attempt end to end.
type Orchestrator struct {
	transport *transport.Transport
	tpktLayer *tpkt.Protocol
	x224Layer *x224.Protocol
	mcsLayer  mcs.MCSLayer

	creds   Credentials
	channels []string

	desktopWidth, desktopHeight uint16

	selectedProtocol       pdu.NegotiationProtocol
	serverNegotiationFlags pdu.NegotiationResponseFlag

	channelIDMap map[string]uint16
	userID       uint16
	shareID      uint32

	pinnedPubKey []byte

	tlsServerName string
}

// New wraps an already-dialed Transport with the X.224/MCS protocol stack
// and prepares an Orchestrator to drive the connection sequence over it.
// channels lists the static virtual channels to request in addition to the
// implicit "global" I/O channel (e.g. "cliprdr", "rdpdr").
func New(t *transport.Transport, tlsServerName string, creds Credentials, size DesktopSize, channels []string) *Orchestrator {
	tpktLayer := tpkt.New(t)
	x224Layer := x224.New(tpktLayer)
	mcsLayer := mcs.New(x224Layer)

	return &Orchestrator{
		transport:     t,
		tpktLayer:     tpktLayer,
		x224Layer:     x224Layer,
		mcsLayer:      mcsLayer,
		creds:         creds,
		channels:      channels,
		desktopWidth:  size.Width,
		desktopHeight: size.Height,
		tlsServerName: tlsServerName,
		channelIDMap:  make(map[string]uint16),
	}
}

// newWithMCSLayer builds an Orchestrator around an injected MCS layer, with
// the selected protocol left at its zero value, skipping the X.224/transport wiring
// New performs. Used by tests to exercise individual phases against a
// mock MCSLayer the way the teacher's mcs_integration_test.go does.
func newWithMCSLayer(mcsLayer mcs.MCSLayer, creds Credentials, size DesktopSize, channels []string) *Orchestrator {
	return &Orchestrator{
		mcsLayer:      mcsLayer,
		creds:         creds,
		channels:      channels,
		desktopWidth:  size.Width,
		desktopHeight: size.Height,
		channelIDMap:  make(map[string]uint16),
	}
}

// Transport returns the underlying framed connection, for the session loop
// to drive once the connection sequence has activated.
func (o *Orchestrator) Transport() *transport.Transport {
	return o.transport
}

// MCSLayer returns the MCS layer the connection sequence negotiated, for
// the session loop to read/write slow-path share control PDUs over.
func (o *Orchestrator) MCSLayer() mcs.MCSLayer {
	return o.mcsLayer
}

// Connect drives connection_initiation through connection_finalization and
// returns the activated session's ConnectionResult.
func (o *Orchestrator) Connect() (*ConnectionResult, error) {
	if err := o.connectionInitiation(); err != nil {
		return nil, fmt.Errorf("connection initiation: %w", err)
	}

	if err := o.basicSettingsExchange(); err != nil {
		return nil, fmt.Errorf("basic settings exchange: %w", err)
	}

	if err := o.channelConnection(); err != nil {
		return nil, fmt.Errorf("channel connection: %w", err)
	}

	if err := o.secureSettingsExchange(); err != nil {
		return nil, fmt.Errorf("secure settings exchange: %w", err)
	}

	if err := o.licensing(); err != nil {
		return nil, fmt.Errorf("licensing: %w", err)
	}

	if err := o.capabilitiesExchange(); err != nil {
		return nil, fmt.Errorf("capabilities exchange: %w", err)
	}

	if err := o.connectionFinalization(); err != nil {
		return nil, fmt.Errorf("connection finalization: %w", err)
	}

	return &ConnectionResult{
		ShareID:      o.shareID,
		UserID:       o.userID,
		IOChannelID:  o.channelIDMap["global"],
		ChannelIDs:   o.channelIDMap,
		DesktopSize:  DesktopSize{Width: o.desktopWidth, Height: o.desktopHeight},
		PinnedPubKey: o.pinnedPubKey,
	}, nil
}

// connectionInitiation performs the X.224 Connection Request/Confirm
// exchange, requesting Hybrid-EX (CredSSP with Early User Authorization
// Result) per policy, then drives whatever security upgrade the server
// selects.
func (o *Orchestrator) connectionInitiation() error {
	req := pdu.ClientConnectionRequest{
		NegotiationRequest: pdu.NegotiationRequest{
			RequestedProtocols: pdu.NegotiationProtocolHybridEx,
		},
	}

	wire, err := o.x224Layer.Connect(req.Serialize())
	if err != nil {
		return err
	}

	var resp pdu.ServerConnectionConfirm
	if err := resp.Deserialize(wire); err != nil {
		return err
	}

	if resp.Type.IsFailure() {
		return engineerr.New(engineerr.KindProtocol,
			fmt.Sprintf("negotiation failure: %s", resp.FailureCode().String()))
	}

	o.serverNegotiationFlags = resp.Flags
	o.selectedProtocol = resp.SelectedProtocol()

	switch {
	case o.selectedProtocol.IsHybrid() || o.selectedProtocol.IsHybridEx():
		return o.startNLA()
	case o.selectedProtocol.IsSSL():
		_, err := o.transport.TLSUpgrade(o.tlsServerName)
		if err != nil {
			return err
		}
		o.pinnedPubKey = nil
		return nil
	case o.selectedProtocol.IsRDP():
		return engineerr.New(engineerr.KindProtocol, "server refused every requested security protocol but standard RDP")
	default:
		return engineerr.New(engineerr.KindProtocol, "server selected an unrecognized security protocol")
	}
}

func (o *Orchestrator) basicSettingsExchange() error {
	clientUserData := pdu.NewClientUserDataSet(uint32(o.selectedProtocol), o.desktopWidth, o.desktopHeight, colorDepth32, o.channels)

	wire, err := o.mcsLayer.Connect(clientUserData.Serialize())
	if err != nil {
		return err
	}

	var serverUserData pdu.ServerUserData
	if err := serverUserData.Deserialize(wire); err != nil {
		return err
	}

	o.initChannels(serverUserData.ServerNetworkData)

	return nil
}

func (o *Orchestrator) initChannels(serverNetworkData *pdu.ServerNetworkData) {
	for i, name := range o.channels {
		if i < len(serverNetworkData.ChannelIdArray) {
			o.channelIDMap[name] = serverNetworkData.ChannelIdArray[i]
		}
	}
	o.channelIDMap["global"] = serverNetworkData.MCSChannelId
}

func (o *Orchestrator) channelConnection() error {
	if err := o.mcsLayer.ErectDomain(); err != nil {
		return err
	}

	userID, err := o.mcsLayer.AttachUser()
	if err != nil {
		return err
	}
	o.userID = userID
	o.channelIDMap["user"] = userID

	return o.mcsLayer.JoinChannels(userID, o.channelIDMap)
}

func (o *Orchestrator) secureSettingsExchange() error {
	clientInfo := pdu.NewClientInfo(o.creds.Domain, o.creds.Username, o.creds.Password)

	// MS-RDPBCGR 2.2.1.11.1.1: the basic security header MUST NOT be
	// present once Enhanced RDP Security (TLS or CredSSP) is in effect.
	useEnhancedSecurity := o.selectedProtocol.IsSSL() || o.selectedProtocol.IsHybrid() || o.selectedProtocol.IsHybridEx()

	data := clientInfo.Serialize(useEnhancedSecurity)
	return o.mcsLayer.Send(o.userID, o.channelIDMap["global"], data)
}

func (o *Orchestrator) licensing() error {
	useEnhancedSecurity := o.selectedProtocol.IsSSL() || o.selectedProtocol.IsHybrid() || o.selectedProtocol.IsHybridEx()

	if err := o.transport.SetReadDeadline(licenseReadTimeout); err != nil {
		return err
	}
	defer func() { _ = o.transport.SetReadDeadline(0) }()

	_, wire, err := o.mcsLayer.Receive()
	if err != nil {
		return fmt.Errorf("licensing receive: %w", err)
	}

	var resp pdu.ServerLicenseError
	if err := resp.Deserialize(wire, useEnhancedSecurity); err != nil {
		return fmt.Errorf("server license error: %w", err)
	}

	const (
		msgTypeNewLicense  = 0x03
		msgTypeErrorAlert  = 0xFF
		statusValidClient  = 0x00000007
		stateNoTransition  = 0x00000002
	)

	if resp.Preamble.MsgType == msgTypeNewLicense {
		return nil
	}
	if resp.Preamble.MsgType != msgTypeErrorAlert {
		return engineerr.New(engineerr.KindProtocol, fmt.Sprintf("unknown license message type 0x%02x", resp.Preamble.MsgType))
	}
	if resp.ValidClientMessage.ErrorCode != statusValidClient {
		return engineerr.New(engineerr.KindProtocol, fmt.Sprintf("license error code 0x%08x", resp.ValidClientMessage.ErrorCode))
	}
	if resp.ValidClientMessage.StateTransition != stateNoTransition {
		return engineerr.New(engineerr.KindProtocol, fmt.Sprintf("license state transition 0x%08x", resp.ValidClientMessage.StateTransition))
	}

	return nil
}

func (o *Orchestrator) capabilitiesExchange() error {
	_, wire, err := o.mcsLayer.Receive()
	if err != nil {
		return err
	}

	var demandActive pdu.ServerDemandActive
	if err := demandActive.Deserialize(wire); err != nil {
		return err
	}

	o.shareID = demandActive.ShareID

	for _, set := range demandActive.CapabilitySets {
		if set.BitmapCapabilitySet != nil {
			o.desktopWidth = set.BitmapCapabilitySet.DesktopWidth
			o.desktopHeight = set.BitmapCapabilitySet.DesktopHeight
		}
	}

	confirm := pdu.NewClientConfirmActive(demandActive.ShareID, o.userID, o.desktopWidth, o.desktopHeight, false)

	return o.mcsLayer.Send(o.userID, o.channelIDMap["global"], confirm.Serialize())
}

// connectionFinalization exchanges the four data PDUs MS-RDPBCGR 1.3.1.1
// calls the Connection Finalization phase: Synchronize, Control Cooperate,
// Control Request Control, and Font List from the client, answered by the
// server's Synchronize, Control Granted Control, and Font Map.
func (o *Orchestrator) connectionFinalization() error {
	globalChannel := o.channelIDMap["global"]

	send := func(data []byte) error {
		return o.mcsLayer.Send(o.userID, globalChannel, data)
	}

	if err := send(pdu.NewSynchronize(o.shareID, o.userID).Serialize()); err != nil {
		return fmt.Errorf("client synchronize: %w", err)
	}
	if err := send(pdu.NewControl(o.shareID, o.userID, pdu.ControlActionCooperate).Serialize()); err != nil {
		return fmt.Errorf("client control cooperate: %w", err)
	}
	if err := send(pdu.NewControl(o.shareID, o.userID, pdu.ControlActionRequestControl).Serialize()); err != nil {
		return fmt.Errorf("client control request: %w", err)
	}
	if err := send(pdu.NewFontList(o.shareID, o.userID).Serialize()); err != nil {
		return fmt.Errorf("client font list: %w", err)
	}

	want := map[pdu.Type2]bool{
		pdu.Type2Synchronize: true,
		pdu.Type2Control:     true,
		pdu.Type2Fontmap:     true,
	}

	seenControlGranted := false
	for len(want) > 0 {
		_, wire, err := o.mcsLayer.Receive()
		if err != nil {
			return fmt.Errorf("server finalization pdu: %w", err)
		}

		var data pdu.Data
		if err := data.Deserialize(wire); err != nil {
			return fmt.Errorf("server finalization pdu: %w", err)
		}

		switch data.ShareDataHeader.PDUType2 {
		case pdu.Type2Synchronize:
			delete(want, pdu.Type2Synchronize)
		case pdu.Type2Control:
			if data.ControlPDUData != nil && data.ControlPDUData.Action == pdu.ControlActionGrantedControl {
				seenControlGranted = true
				delete(want, pdu.Type2Control)
			}
		case pdu.Type2Fontmap:
			delete(want, pdu.Type2Fontmap)
		}
	}

	if !seenControlGranted {
		return engineerr.New(engineerr.KindProtocol, "server never granted control during finalization")
	}

	return nil
}
