package mcs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/rdpengine/core/internal/protocol/encoding"
)

// ConnectPDUApplication identifies the BER application tag of an MCS
// Connect-* PDU (ITU-T T.125 7).
type ConnectPDUApplication uint8

const (
	connectInitial    ConnectPDUApplication = 101
	connectResponse   ConnectPDUApplication = 102
	connectAdditional ConnectPDUApplication = 103
	connectResult     ConnectPDUApplication = 104
)

// ConnectPDU wraps the Connect-Initial/Connect-Response exchange that
// precedes domain erection.
type ConnectPDU struct {
	Application           ConnectPDUApplication
	ClientConnectInitial  *ClientMCSConnectInitial
	ServerConnectResponse *ServerConnectResponse
}

// Serialize encodes the BER application-tagged Connect PDU.
func (pdu *ConnectPDU) Serialize() []byte {
	inner := new(bytes.Buffer)

	switch pdu.Application {
	case connectInitial:
		inner.Write(pdu.ClientConnectInitial.Serialize())
	}

	buf := new(bytes.Buffer)
	encoding.BerWriteApplicationTag(uint8(pdu.Application), inner.Len(), buf)
	buf.Write(inner.Bytes())

	return buf.Bytes()
}

// Deserialize decodes a Connect PDU's BER application tag and dispatches to
// the payload a client ever needs to parse: the server's Connect-Response.
func (pdu *ConnectPDU) Deserialize(wire io.Reader) error {
	tag, err := encoding.BerReadApplicationTag(wire)
	if err != nil {
		return err
	}

	if _, err := encoding.BerReadLength(wire); err != nil {
		return err
	}

	pdu.Application = ConnectPDUApplication(tag)

	switch pdu.Application {
	case connectResponse:
		resp := &ServerConnectResponse{}
		if err := resp.Deserialize(wire); err != nil {
			return err
		}
		pdu.ServerConnectResponse = resp
	default:
		return ErrUnknownConnectApplication
	}

	return nil
}

// ClientMCSConnectInitial is the client's Connect-Initial PDU (ITU-T T.125
// 7, parameters per MS-RDPBCGR 2.2.1.3).
type ClientMCSConnectInitial struct {
	calledDomainSelector  []byte
	callingDomainSelector []byte
	upwardFlag            bool
	targetParameters      domainParameters
	minimumParameters     domainParameters
	maximumParameters     domainParameters
	userData              []byte
}

// NewClientMCSConnectInitial builds a Connect-Initial PDU carrying the GCC
// Conference Create Request as userData, using the fixed domain parameter
// triple every RDP client advertises.
func NewClientMCSConnectInitial(userData []byte) *ClientMCSConnectInitial {
	return &ClientMCSConnectInitial{
		calledDomainSelector:  []byte{0x01},
		callingDomainSelector: []byte{0x01},
		upwardFlag:            true,
		targetParameters: domainParameters{
			maxChannelIds:   34,
			maxUserIds:      2,
			maxTokenIds:     0,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   65535,
			protocolVersion: 2,
		},
		minimumParameters: domainParameters{
			maxChannelIds:   1,
			maxUserIds:      1,
			maxTokenIds:     1,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   1056,
			protocolVersion: 2,
		},
		maximumParameters: domainParameters{
			maxChannelIds:   65535,
			maxUserIds:      65535,
			maxTokenIds:     65535,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   65535,
			protocolVersion: 2,
		},
		userData: userData,
	}
}

// Serialize encodes the Connect-Initial PDU body to BER.
func (pdu *ClientMCSConnectInitial) Serialize() []byte {
	buf := new(bytes.Buffer)

	encoding.BerWriteOctetString(pdu.calledDomainSelector, buf)
	encoding.BerWriteOctetString(pdu.callingDomainSelector, buf)
	encoding.BerWriteBoolean(pdu.upwardFlag, buf)
	encoding.BerWriteSequence(pdu.targetParameters.Serialize(), buf)
	encoding.BerWriteSequence(pdu.minimumParameters.Serialize(), buf)
	encoding.BerWriteSequence(pdu.maximumParameters.Serialize(), buf)
	encoding.BerWriteOctetString(pdu.userData, buf)

	return buf.Bytes()
}

// ServerConnectResponse is the server's Connect-Response PDU.
type ServerConnectResponse struct {
	Result           uint8
	CalledConnectId  int
	DomainParameters domainParameters
	UserData         []byte
}

// Deserialize decodes the Connect-Response body: result, called-connect-id,
// the negotiated domain parameters, and the GCC Conference Create Response
// carried as an OCTET STRING.
func (pdu *ServerConnectResponse) Deserialize(wire io.Reader) error {
	ok, err := encoding.BerReadUniversalTag(encoding.TagEnumerated, false, wire)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid connect response result tag")
	}

	resultLen, err := encoding.BerReadLength(wire)
	if err != nil {
		return err
	}
	if resultLen != 1 {
		return errors.New("invalid connect response result length")
	}

	if err := binary.Read(wire, binary.BigEndian, &pdu.Result); err != nil {
		return err
	}

	pdu.CalledConnectId, err = encoding.BerReadInteger(wire)
	if err != nil {
		return err
	}

	ok, err = encoding.BerReadUniversalTag(encoding.TagSequence, true, wire)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid domain parameters tag")
	}

	if _, err := encoding.BerReadLength(wire); err != nil {
		return err
	}

	if err := pdu.DomainParameters.Deserialize(wire); err != nil {
		return err
	}

	ok, err = encoding.BerReadUniversalTag(encoding.TagOctetString, false, wire)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid connect response user data tag")
	}

	userDataLen, err := encoding.BerReadLength(wire)
	if err != nil {
		return err
	}

	userData := make([]byte, userDataLen)
	if _, err := io.ReadFull(wire, userData); err != nil {
		return err
	}
	pdu.UserData = userData

	return nil
}
