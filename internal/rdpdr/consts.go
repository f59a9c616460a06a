package rdpdr

// Component identifies the outer RDPDR header's protocol family
// (MS-RDPEFS 2.2.1.1).
type Component uint16

const (
	ComponentRDPDR Component = 0x4472 // RDPDR_CTYP_CORE
	ComponentPRN   Component = 0x5052 // RDPDR_CTYP_PRN, packets with it are ignored
)

// PacketID identifies the message carried in an RDPDR PDU (MS-RDPEFS 2.2.1.1).
type PacketID uint16

const (
	PacketIDCoreServerAnnounce      PacketID = 0x496E
	PacketIDCoreClientIDConfirm     PacketID = 0x4343
	PacketIDCoreClientName          PacketID = 0x434E
	PacketIDCoreDeviceListAnnounce  PacketID = 0x4441
	PacketIDCoreDeviceReply         PacketID = 0x6472
	PacketIDCoreDeviceIORequest     PacketID = 0x4952
	PacketIDCoreDeviceIOCompletion  PacketID = 0x4943
	PacketIDCoreServerCapability    PacketID = 0x5350
	PacketIDCoreClientCapability    PacketID = 0x4350
	PacketIDCoreDeviceListRemove    PacketID = 0x444D
	PacketIDPrnCacheData            PacketID = 0x5043
	PacketIDCoreUserLoggedOn        PacketID = 0x554C
	PacketIDPrnUsingXPS             PacketID = 0x5543
)

// CapabilityType identifies one capability set in a capability exchange
// PDU (MS-RDPEFS 2.2.1.2).
type CapabilityType uint16

const (
	CapGeneralType   CapabilityType = 1
	CapPrinterType   CapabilityType = 2
	CapPortType      CapabilityType = 3
	CapDriveType     CapabilityType = 4
	CapSmartcardType CapabilityType = 5
)

// DeviceType identifies one announced device's redirection class
// (MS-RDPEFS 2.2.1.3).
type DeviceType uint32

const (
	DeviceTypeSerial     DeviceType = 0x00000001
	DeviceTypeParallel   DeviceType = 0x00000002
	DeviceTypePrint      DeviceType = 0x00000004
	DeviceTypeFilesystem DeviceType = 0x00000008
	DeviceTypeSmartcard  DeviceType = 0x00000020
)

// MajorFunction is an IRP major function code (MS-RDPEFS 2.2.1.4.5).
type MajorFunction uint32

const (
	IRPMjCreate                 MajorFunction = 0x00000000
	IRPMjClose                  MajorFunction = 0x00000002
	IRPMjRead                   MajorFunction = 0x00000003
	IRPMjWrite                  MajorFunction = 0x00000004
	IRPMjDeviceControl          MajorFunction = 0x0000000E
	IRPMjQueryVolumeInformation MajorFunction = 0x0000000A
	IRPMjSetVolumeInformation   MajorFunction = 0x0000000B
	IRPMjQueryInformation       MajorFunction = 0x00000005
	IRPMjSetInformation         MajorFunction = 0x00000006
	IRPMjDirectoryControl       MajorFunction = 0x0000000C
	IRPMjLockControl            MajorFunction = 0x00000011
)

// MinorFunction refines IRPMjDirectoryControl.
type MinorFunction uint32

const (
	IRPMnNone                   MinorFunction = 0x00000000
	IRPMnQueryDirectory         MinorFunction = 0x00000001
	IRPMnNotifyChangeDirectory  MinorFunction = 0x00000002
)

// NTSTATUS is the per-IRP completion code carried on a Device I/O
// Completion PDU (MS-RDPEFS 2.2.1.5, cross-referencing MS-ERREF).
type NTSTATUS uint32

const (
	StatusSuccess              NTSTATUS = 0x00000000
	StatusUnsuccessful         NTSTATUS = 0xC0000001
	StatusNoSuchFile           NTSTATUS = 0xC000000F
	StatusAccessDenied         NTSTATUS = 0xC0000022
	StatusObjectNameCollision  NTSTATUS = 0xC0000035
	StatusNotADirectory        NTSTATUS = 0xC0000103
	StatusNoMoreFiles          NTSTATUS = 0x80000006
	StatusDirectoryNotEmpty    NTSTATUS = 0xC0000101
)

// General capability set version/flags (MS-RDPEFS 2.2.2.7.1).
const (
	generalCapabilityVersion02   = 2
	smartcardCapabilityVersion01 = 1

	ioCode1 uint32 = 0x00007FFF

	// extendedPDU flags advertised back to the server in the client's
	// General capability set.
	extendedPDUDeviceRemove  uint32 = 0x00000001 // RDPDR_DEVICE_REMOVE_PDUS
	extendedPDUDisplayName   uint32 = 0x00000002 // RDPDR_CLIENT_DISPLAY_NAME_PDU

	versionMajor uint16 = 0x0001
	versionMinor uint16 = 0x000C
)

// scardDeviceID is the fixed device-id this client always announces its
// single emulated smartcard under.
const scardDeviceID uint32 = 1

// driveDeviceID is the fixed device-id the optional shared-directory
// device is announced under, when directory sharing is enabled.
const driveDeviceID uint32 = 2

const scardDeviceDOSName = "SCARD"
