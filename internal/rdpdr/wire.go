package rdpdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rdpengine/core/internal/engineerr"
)

// sharedHeader is the 4-byte RDPDR_HEADER present at the start of every
// message on the rdpdr channel (MS-RDPEFS 2.2.1.1).
type sharedHeader struct {
	component Component
	packetID  PacketID
}

func (h sharedHeader) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(h.component))
	_ = binary.Write(buf, binary.LittleEndian, uint16(h.packetID))
	return buf.Bytes()
}

func decodeSharedHeader(r io.Reader) (sharedHeader, error) {
	var component, packetID uint16
	if err := binary.Read(r, binary.LittleEndian, &component); err != nil {
		return sharedHeader{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &packetID); err != nil {
		return sharedHeader{}, err
	}
	return sharedHeader{component: Component(component), packetID: PacketID(packetID)}, nil
}

// withHeader prepends the Shared Header for packetID to body.
func withHeader(packetID PacketID, body []byte) []byte {
	frame := sharedHeader{component: ComponentRDPDR, packetID: packetID}.serialize()
	return append(frame, body...)
}

// clientIDMessage is the shared wire layout of Server Announce Request,
// Client Announce Reply, and Server Client ID Confirm (all three are the
// same three fields; MS-RDPEFS 2.2.2.2/2.2.2.3/2.2.2.6).
type clientIDMessage struct {
	versionMajor uint16
	versionMinor uint16
	clientID     uint32
}

func decodeClientIDMessage(body []byte) (clientIDMessage, error) {
	r := bytes.NewReader(body)
	var m clientIDMessage
	if err := binary.Read(r, binary.LittleEndian, &m.versionMajor); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.versionMinor); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.clientID); err != nil {
		return m, err
	}
	return m, nil
}

func (m clientIDMessage) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, m.versionMajor)
	_ = binary.Write(buf, binary.LittleEndian, m.versionMinor)
	_ = binary.Write(buf, binary.LittleEndian, m.clientID)
	return buf.Bytes()
}

// capabilityHeader is the 8-byte CAPABILITY_HEADER (MS-RDPEFS 2.2.1.2).
type capabilityHeader struct {
	capType CapabilityType
	length  uint16
	version uint32
}

func (h capabilityHeader) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(h.capType))
	_ = binary.Write(buf, binary.LittleEndian, h.length)
	_ = binary.Write(buf, binary.LittleEndian, h.version)
	return buf.Bytes()
}

// generalCapabilitySet is the GENERAL_CAPS_SET descriptor (MS-RDPEFS
// 2.2.2.7.1).
type generalCapabilitySet struct {
	osType                uint32
	osVersion             uint32
	protocolMajorVersion  uint16
	protocolMinorVersion  uint16
	ioCode1               uint32
	ioCode2               uint32
	extendedPDU           uint32
	extraFlags1           uint32
	extraFlags2           uint32
	specialTypeDeviceCap  uint32
}

func (g generalCapabilitySet) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, g.osType)
	_ = binary.Write(buf, binary.LittleEndian, g.osVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.protocolMajorVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.protocolMinorVersion)
	_ = binary.Write(buf, binary.LittleEndian, g.ioCode1)
	_ = binary.Write(buf, binary.LittleEndian, g.ioCode2)
	_ = binary.Write(buf, binary.LittleEndian, g.extendedPDU)
	_ = binary.Write(buf, binary.LittleEndian, g.extraFlags1)
	_ = binary.Write(buf, binary.LittleEndian, g.extraFlags2)
	_ = binary.Write(buf, binary.LittleEndian, g.specialTypeDeviceCap)
	return buf.Bytes()
}

// clientCoreCapabilityResponse builds the fixed two-capability-set response
// this client always sends: General (with the smartcard special-device
// request) plus an empty Smartcard set, and, when directory sharing is
// enabled, an empty Drive set (MS-RDPEFS 2.2.2.7).
func clientCoreCapabilityResponse(allowDirectorySharing bool) []byte {
	general := generalCapabilitySet{
		protocolMajorVersion: versionMajor,
		protocolMinorVersion: versionMinor,
		ioCode1:              ioCode1,
		extendedPDU:          extendedPDUDeviceRemove | extendedPDUDisplayName,
		specialTypeDeviceCap: 1,
	}
	generalBody := general.serialize()
	generalHeader := capabilityHeader{
		capType: CapGeneralType,
		length:  uint16(8 + len(generalBody)),
		version: generalCapabilityVersion02,
	}

	smartcardHeader := capabilityHeader{
		capType: CapSmartcardType,
		length:  8,
		version: smartcardCapabilityVersion01,
	}

	numCaps := uint16(2)
	sets := append(generalHeader.serialize(), generalBody...)
	sets = append(sets, smartcardHeader.serialize()...)

	if allowDirectorySharing {
		driveHeader := capabilityHeader{capType: CapDriveType, length: 8, version: 2}
		sets = append(sets, driveHeader.serialize()...)
		numCaps++
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, numCaps)
	_ = binary.Write(buf, binary.LittleEndian, uint16(0)) // padding
	buf.Write(sets)
	return buf.Bytes()
}

// deviceAnnounceHeader is one entry in a Client Device List Announce
// Request (MS-RDPEFS 2.2.1.3).
type deviceAnnounceHeader struct {
	deviceType       DeviceType
	deviceID         uint32
	preferredDOSName string
	deviceData       []byte
}

func (d deviceAnnounceHeader) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(d.deviceType))
	_ = binary.Write(buf, binary.LittleEndian, d.deviceID)

	name := d.preferredDOSName
	if len(name) > 8 {
		name = name[:8]
	}
	nameBytes := make([]byte, 8)
	copy(nameBytes, name)
	buf.Write(nameBytes)

	_ = binary.Write(buf, binary.LittleEndian, uint32(len(d.deviceData)))
	buf.Write(d.deviceData)
	return buf.Bytes()
}

// clientDeviceListAnnounce builds the device list this client always
// announces: the emulated smartcard, plus (when enabled) the shared
// directory device.
func clientDeviceListAnnounce(allowDirectorySharing bool, directoryName string) []byte {
	devices := []deviceAnnounceHeader{
		{deviceType: DeviceTypeSmartcard, deviceID: scardDeviceID, preferredDOSName: scardDeviceDOSName},
	}
	if allowDirectorySharing {
		devices = append(devices, deviceAnnounceHeader{
			deviceType:       DeviceTypeFilesystem,
			deviceID:         driveDeviceID,
			preferredDOSName: directoryName,
		})
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(devices)))
	for _, d := range devices {
		buf.Write(d.serialize())
	}
	return buf.Bytes()
}

// serverDeviceAnnounceResponse is PAKID_CORE_DEVICE_REPLY (MS-RDPEFS
// 2.2.2.1).
type serverDeviceAnnounceResponse struct {
	deviceID   uint32
	resultCode uint32
}

func decodeServerDeviceAnnounceResponse(body []byte) (serverDeviceAnnounceResponse, error) {
	r := bytes.NewReader(body)
	var resp serverDeviceAnnounceResponse
	if err := binary.Read(r, binary.LittleEndian, &resp.deviceID); err != nil {
		return resp, err
	}
	if err := binary.Read(r, binary.LittleEndian, &resp.resultCode); err != nil {
		return resp, err
	}
	return resp, nil
}

// deviceIORequest is the DR_DEVICE_IOREQUEST header common to every IRP
// (MS-RDPEFS 2.2.1.4).
type deviceIORequest struct {
	deviceID      uint32
	fileID        uint32
	completionID  uint32
	majorFunction MajorFunction
	minorFunction MinorFunction
}

func decodeDeviceIORequest(r io.Reader) (deviceIORequest, error) {
	var req deviceIORequest
	var major, minor uint32

	if err := binary.Read(r, binary.LittleEndian, &req.deviceID); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.fileID); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.completionID); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &major); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &minor); err != nil {
		return req, err
	}

	req.majorFunction = MajorFunction(major)
	req.minorFunction = MinorFunction(minor)
	return req, nil
}

// deviceIOResponse is the DR_DEVICE_IOCOMPLETION header (MS-RDPEFS 2.2.1.5).
type deviceIOResponse struct {
	deviceID     uint32
	completionID uint32
	ioStatus     NTSTATUS
}

func (r deviceIOResponse) serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, r.deviceID)
	_ = binary.Write(buf, binary.LittleEndian, r.completionID)
	_ = binary.Write(buf, binary.LittleEndian, uint32(r.ioStatus))
	return buf.Bytes()
}

// deviceControlRequest is DR_CONTROL_REQ (MS-RDPEFS 2.2.1.4.5).
type deviceControlRequest struct {
	header              deviceIORequest
	outputBufferLength  uint32
	inputBufferLength   uint32
	ioControlCode       uint32
}

func decodeDeviceControlRequest(header deviceIORequest, r io.Reader) (deviceControlRequest, []byte, error) {
	var req deviceControlRequest
	req.header = header

	if err := binary.Read(r, binary.LittleEndian, &req.outputBufferLength); err != nil {
		return req, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.inputBufferLength); err != nil {
		return req, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.ioControlCode); err != nil {
		return req, nil, err
	}

	padding := make([]byte, 20)
	if _, err := io.ReadFull(r, padding); err != nil {
		return req, nil, err
	}

	input := make([]byte, req.inputBufferLength)
	if _, err := io.ReadFull(r, input); err != nil {
		return req, nil, err
	}

	return req, input, nil
}

func encodeDeviceControlResponse(req deviceControlRequest, status NTSTATUS, output []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(deviceIOResponse{
		deviceID:     req.header.deviceID,
		completionID: req.header.completionID,
		ioStatus:     status,
	}.serialize())
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(output)))
	buf.Write(output)
	return buf.Bytes()
}

// errBadHeader is returned for an RDPDR header naming an unexpected
// component.
func errBadHeader(format string, args ...interface{}) error {
	return engineerr.New(engineerr.KindProtocol, fmt.Sprintf(format, args...))
}
