// Package scard implements the PC/SC smartcard virtual-channel backend
// (MS-RDPESC), emulating a single reader ("Teleport") with a single PIV
// card, over the RPCE/NDR-encoded IOCTL calls RDPDR's Device Control IRPs
// carry.
package scard

// IoctlCode identifies one SCARD_IOCTL_* request code (MS-RDPESC 3.1.4).
// Only the Unicode ("W") variants are dispatched; modern Windows hosts
// never issue the Ascii ones against an emulated reader.
type IoctlCode uint32

const (
	IoctlEstablishContext   IoctlCode = 0x00090014
	IoctlReleaseContext     IoctlCode = 0x00090018
	IoctlIsValidContext     IoctlCode = 0x0009001C
	IoctlListReadersA       IoctlCode = 0x00090028
	IoctlListReadersW       IoctlCode = 0x0009002C
	IoctlGetStatusChangeA   IoctlCode = 0x000900A0
	IoctlGetStatusChangeW   IoctlCode = 0x000900A4
	IoctlCancel             IoctlCode = 0x000900A8
	IoctlConnectA           IoctlCode = 0x000900AC
	IoctlConnectW           IoctlCode = 0x000900B0
	IoctlDisconnect         IoctlCode = 0x000900B8
	IoctlBeginTransaction   IoctlCode = 0x000900BC
	IoctlEndTransaction     IoctlCode = 0x000900C0
	IoctlStatusA            IoctlCode = 0x000900C8
	IoctlStatusW            IoctlCode = 0x000900CC
	IoctlTransmit           IoctlCode = 0x000900D0
	IoctlAccessStartedEvent IoctlCode = 0x000900E0
	IoctlReadCacheA         IoctlCode = 0x000900F0
	IoctlReadCacheW         IoctlCode = 0x000900F4
	IoctlWriteCacheA        IoctlCode = 0x000900F8
	IoctlWriteCacheW        IoctlCode = 0x000900FC
	IoctlGetReaderIcon      IoctlCode = 0x00090104
	IoctlGetDeviceTypeID    IoctlCode = 0x00090108
)

// ReturnCode is the SCARD_E_*/SCARD_S_* status embedded in every Return
// message's first field (MS-RDPESC 2.2.3).
type ReturnCode uint32

const (
	ReturnSuccess               ReturnCode = 0x00000000
	ReturnInternalError         ReturnCode = 0x80100001
	ReturnCancelled             ReturnCode = 0x80100002
	ReturnInvalidHandle         ReturnCode = 0x80100003
	ReturnInvalidParameter      ReturnCode = 0x80100004
	ReturnInvalidTarget         ReturnCode = 0x80100005
	ReturnNoMemory              ReturnCode = 0x80100006
	ReturnInsufficientBuffer    ReturnCode = 0x80100008
	ReturnUnknownReader         ReturnCode = 0x80100009
	ReturnTimeout               ReturnCode = 0x8010000A
	ReturnSharingViolation      ReturnCode = 0x8010000B
	ReturnNoSmartcard           ReturnCode = 0x8010000C
	ReturnUnknownCard           ReturnCode = 0x8010000D
	ReturnProtoMismatch         ReturnCode = 0x8010000F
	ReturnNotReady              ReturnCode = 0x80100010
	ReturnSystemCancelled       ReturnCode = 0x80100012
	ReturnCommError             ReturnCode = 0x80100013
	ReturnUnsupportedFeature    ReturnCode = 0x80100022
	ReturnNoReadersAvailable    ReturnCode = 0x8010002E
	ReturnServiceStopped        ReturnCode = 0x8010001E
	ReturnCacheItemNotFound     ReturnCode = 0x80100070
	ReturnCacheItemStale        ReturnCode = 0x80100071
	ReturnCacheItemTooBig       ReturnCode = 0x80100072
)

// transmitDataLimit bounds the short-form (non-extended) APDU buffer this
// client accepts on a Transmit call.
const transmitDataLimit = 1024

// readerName is the single reader this backend always reports.
const readerName = "Teleport"

// cardStateFlags mirror SCARD_STATE_* bits used in reader-state replies
// (MS-RDPESC 2.2.1.3).
const (
	cardStateIgnore  uint32 = 0x00000001
	cardStateChanged uint32 = 0x00000002
	cardStateUnknown uint32 = 0x00000004
	cardStatePresent uint32 = 0x00000020
)

const pnpNotificationReader = `\\?PnP?\Notification`
