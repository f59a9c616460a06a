package mcs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/rdpengine/core/internal/protocol/encoding"
)

// DomainPDUApplication identifies the MCS domain PDU choice carried in the
// high six bits of the first wire octet (ITU-T T.125); the low two bits are
// not part of the choice.
type DomainPDUApplication uint8

const (
	plumbDomainIndication DomainPDUApplication = iota
	erectDomainRequest
	mergeChannelsRequest
	mergeChannelsConfirm
	purgeChannelsIndication
	mergeTokensRequest
	mergeTokensConfirm
	purgeTokensIndication
	disconnectProviderUltimatum
	rejectMCSPDUUltimatum
	attachUserRequest
	attachUserConfirm
	detachUserRequest
	detachUserIndication
	channelJoinRequest
	channelJoinConfirm
	channelLeaveRequest
	channelConveneRequest
	channelConveneConfirm
	channelDisbandRequest
	channelDisbandIndication
	channelAdmitRequest
	channelAdmitIndication
	channelExpelRequest
	channelExpelIndication
	SendDataRequest
	SendDataIndication
	uniformSendDataRequest
	uniformSendDataIndication
)

// DomainPDU wraps one of the MCS domain PDUs exchanged after the MCS
// Connect-Initial/Connect-Response handshake.
type DomainPDU struct {
	Application DomainPDUApplication

	ClientAttachUserRequest  *ClientAttachUserRequest
	ClientErectDomainRequest *ClientErectDomainRequest
	ClientChannelJoinRequest *ClientChannelJoinRequest
	ClientSendDataRequest    *ClientSendDataRequest

	ServerAttachUserConfirm  *ServerAttachUserConfirm
	ServerChannelJoinConfirm *ServerChannelJoinConfirm
	ServerSendDataIndication *ServerSendDataIndication
}

// Serialize encodes the domain PDU's choice header followed by its payload.
func (pdu *DomainPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(pdu.Application) << 2)

	switch pdu.Application {
	case attachUserRequest:
		buf.Write(pdu.ClientAttachUserRequest.Serialize())
	case erectDomainRequest:
		buf.Write(pdu.ClientErectDomainRequest.Serialize())
	case channelJoinRequest:
		buf.Write(pdu.ClientChannelJoinRequest.Serialize())
	case SendDataRequest:
		buf.Write(pdu.ClientSendDataRequest.Serialize())
	}

	return buf.Bytes()
}

// Deserialize decodes a domain PDU choice header and dispatches to the
// matching payload type. Only the domain PDUs a client can receive from a
// server (plus the client's own SendDataRequest, used in round-trip tests)
// are handled; anything else is ErrUnknownDomainApplication.
func (pdu *DomainPDU) Deserialize(wire io.Reader) error {
	var header uint8
	if err := binary.Read(wire, binary.BigEndian, &header); err != nil {
		return err
	}

	pdu.Application = DomainPDUApplication(header >> 2)

	switch pdu.Application {
	case attachUserConfirm:
		confirm := &ServerAttachUserConfirm{}
		if err := confirm.Deserialize(wire); err != nil {
			return err
		}
		pdu.ServerAttachUserConfirm = confirm
	case channelJoinConfirm:
		confirm := &ServerChannelJoinConfirm{}
		if err := confirm.Deserialize(wire); err != nil {
			return err
		}
		pdu.ServerChannelJoinConfirm = confirm
	case SendDataIndication:
		indication := &ServerSendDataIndication{}
		if err := indication.Deserialize(wire); err != nil {
			return err
		}
		pdu.ServerSendDataIndication = indication
	case SendDataRequest:
		req := &ClientSendDataRequest{}
		if err := req.Deserialize(wire); err != nil {
			return err
		}
		pdu.ClientSendDataRequest = req
	case disconnectProviderUltimatum:
		return ErrDisconnectUltimatum
	default:
		return ErrUnknownDomainApplication
	}

	return nil
}

// ClientAttachUserRequest carries no payload (ITU-T T.125 8.8.2).
type ClientAttachUserRequest struct{}

func (*ClientAttachUserRequest) Serialize() []byte {
	return nil
}

// ServerAttachUserConfirm is the server's reply to ClientAttachUserRequest.
type ServerAttachUserConfirm struct {
	Result    uint8
	Initiator uint16
}

func (c *ServerAttachUserConfirm) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &c.Result); err != nil {
		return err
	}

	initiator, err := encoding.PerReadInteger16(1001, wire)
	if err != nil {
		return err
	}
	c.Initiator = initiator

	return nil
}

// ClientChannelJoinRequest asks the server to join the initiator to a
// channel (ITU-T T.125 8.11.2).
type ClientChannelJoinRequest struct {
	Initiator uint16
	ChannelId uint16
}

func (r *ClientChannelJoinRequest) Serialize() []byte {
	buf := new(bytes.Buffer)

	encoding.PerWriteInteger16(r.Initiator, 1001, buf)
	encoding.PerWriteInteger16(r.ChannelId, 0, buf)

	return buf.Bytes()
}

// ServerChannelJoinConfirm is the server's reply to ClientChannelJoinRequest.
// ChannelId is the optional confirmed channel identifier; it is left at its
// zero value when the server omits it.
type ServerChannelJoinConfirm struct {
	Result    uint8
	Initiator uint16
	Requested uint16
	ChannelId uint16
}

func (c *ServerChannelJoinConfirm) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &c.Result); err != nil {
		return err
	}

	initiator, err := encoding.PerReadInteger16(1001, wire)
	if err != nil {
		return err
	}
	c.Initiator = initiator

	requested, err := encoding.PerReadInteger16(0, wire)
	if err != nil {
		return err
	}
	c.Requested = requested

	channelID, err := encoding.PerReadInteger16(0, wire)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	c.ChannelId = channelID

	return nil
}
