package scard

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/rdpengine/core/internal/engineerr"
)

// Backend implements the smartcard emulator forwarded over an RDPDR device
// control channel (MS-RDPESC). It always reports a single card reader,
// readerName, holding a single active PIV card whose identity and
// authentication key are supplied by the caller.
//
// A Backend is not safe for concurrent use; the rdpdr mux serializes every
// IOCTL against the single device control channel goroutine.
type Backend struct {
	contexts *contexts
	id       uuid.UUID
	certDER  []byte
	keyDER   []byte
	pin      string
}

// NewBackend builds a Backend presenting a PIV card with the given X.509
// certificate and PKCS#1 RSA private key (both DER-encoded) and PIN.
func NewBackend(certDER, keyDER []byte, pin string) *Backend {
	return &Backend{
		contexts: newContexts(),
		id:       uuid.New(),
		certDER:  certDER,
		keyDER:   keyDER,
		pin:      pin,
	}
}

// HandleIoctl dispatches one SCARD_IOCTL_* device control request. When
// suppressed is true, no IRP completion should be sent at all: this
// emulation's reader/card state never changes once connected, so a
// blocking SCARD_IOCTL_GETSTATUSCHANGEW that found no change is left
// pending forever, exactly as the server would see a human never touching
// the (virtual) reader.
func (b *Backend) HandleIoctl(code IoctlCode, input []byte) (output []byte, suppressed bool, err error) {
	r := bytes.NewReader(input)
	if err := decodeRPCEHeaders(r); err != nil {
		return nil, false, err
	}

	var resp []byte
	switch code {
	case IoctlAccessStartedEvent:
		resp, err = b.handleAccessStartedEvent(r)
	case IoctlEstablishContext:
		resp, err = b.handleEstablishContext(r)
	case IoctlReleaseContext:
		resp, err = b.handleReleaseContext(r)
	case IoctlCancel, IoctlIsValidContext:
		resp, err = b.handleContextOnly(r)
	case IoctlListReadersW:
		resp, err = b.handleListReaders(r)
	case IoctlGetStatusChangeW:
		resp, suppressed, err = b.handleGetStatusChange(r)
	case IoctlConnectW:
		resp, err = b.handleConnect(r)
	case IoctlDisconnect:
		resp, err = b.handleDisconnect(r)
	case IoctlBeginTransaction, IoctlEndTransaction:
		resp, err = b.handleHCardAndDisposition(r)
	case IoctlStatusW:
		resp, err = b.handleStatus(r)
	case IoctlTransmit:
		resp, err = b.handleTransmit(r)
	case IoctlGetDeviceTypeID:
		resp, err = b.handleGetDeviceTypeID(r)
	case IoctlReadCacheW:
		resp, err = b.handleReadCache(r)
	case IoctlWriteCacheW:
		resp, err = b.handleWriteCache(r)
	case IoctlGetReaderIcon:
		resp, err = b.handleGetReaderIcon(r)
	default:
		resp = encodeLongReturn(ReturnInternalError)
	}
	if err != nil {
		return nil, false, err
	}
	if suppressed {
		return nil, true, nil
	}
	return encodeResponse(resp), false, nil
}

func encodeLongReturn(code ReturnCode) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(code))
	return buf.Bytes()
}

func (b *Backend) handleAccessStartedEvent(r io.Reader) ([]byte, error) {
	var unused uint32
	if err := binary.Read(r, binary.LittleEndian, &unused); err != nil {
		return nil, err
	}
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleEstablishContext(r io.Reader) ([]byte, error) {
	var scope uint32
	if err := binary.Read(r, binary.LittleEndian, &scope); err != nil {
		return nil, err
	}

	ctx := b.contexts.establish()

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var index uint32
	ctx.encodePtr(buf, &index)
	ctx.encodeValue(buf)
	return buf.Bytes(), nil
}

// decodeContextCall reads the Context_Call shape shared by
// ReleaseContext/Cancel/IsValidContext: a single deferred Context.
func decodeContextCall(r io.Reader) (ndrContext, error) {
	var index uint32
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return ctx, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func (b *Backend) handleReleaseContext(r io.Reader) ([]byte, error) {
	ctx, err := decodeContextCall(r)
	if err != nil {
		return nil, err
	}
	b.contexts.release(ctx.value)
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleContextOnly(r io.Reader) ([]byte, error) {
	if _, err := decodeContextCall(r); err != nil {
		return nil, err
	}
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleListReaders(r io.Reader) ([]byte, error) {
	var index uint32
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	var groupsPtrLength uint32
	if err := binary.Read(r, binary.LittleEndian, &groupsPtrLength); err != nil {
		return nil, err
	}
	groupsPtr, err := decodePtr(r, &index)
	if err != nil {
		return nil, err
	}
	var readersIsNull, readersSize uint32
	if err := binary.Read(r, binary.LittleEndian, &readersIsNull); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &readersSize); err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}
	if groupsPtr != 0 {
		if _, _, err := decodeMultistringUnicode(r); err != nil {
			return nil, err
		}
	}

	readers := encodeMultistringUnicode([]string{readerName})

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var outIndex uint32
	encodePtr(buf, uint32(len(readers)), &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(readers)))
	buf.Write(readers)
	return buf.Bytes(), nil
}

type readerState struct {
	currentState uint32
	eventState   uint32
	atrLength    uint32
	atr          [36]byte
	reader       string
}

func decodeReaderStateCommon(r io.Reader) (readerState, error) {
	var rs readerState
	if err := binary.Read(r, binary.LittleEndian, &rs.currentState); err != nil {
		return rs, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rs.eventState); err != nil {
		return rs, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rs.atrLength); err != nil {
		return rs, err
	}
	if _, err := io.ReadFull(r, rs.atr[:]); err != nil {
		return rs, err
	}
	return rs, nil
}

func (rs readerState) encode(w *bytes.Buffer) {
	_ = binary.Write(w, binary.LittleEndian, rs.currentState)
	_ = binary.Write(w, binary.LittleEndian, rs.eventState)
	_ = binary.Write(w, binary.LittleEndian, rs.atrLength)
	w.Write(rs.atr[:])
}

// staticATR identifies this emulated card to Windows' default smartcard
// minidriver (no vendor-specific driver is involved).
var staticATR = []byte{0x3B, 0x95, 0x13, 0x81, 0x01, 0x80, 0x73, 0xFF, 0x01, 0x00, 0x0B}

func paddedATR(size int) (uint32, [36]byte) {
	var out [36]byte
	copy(out[:], staticATR)
	_ = size
	return uint32(len(staticATR)), out
}

func (b *Backend) handleGetStatusChange(r io.Reader) ([]byte, bool, error) {
	var index uint32
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, false, err
	}

	var timeout, statesLength uint32
	if err := binary.Read(r, binary.LittleEndian, &timeout); err != nil {
		return nil, false, err
	}
	if err := binary.Read(r, binary.LittleEndian, &statesLength); err != nil {
		return nil, false, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, false, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, false, err
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, false, err
	}

	readerPtrs := make([]uint32, count)
	states := make([]readerState, count)
	for i := range readerPtrs {
		ptr, err := decodePtr(r, &index)
		if err != nil {
			return nil, false, err
		}
		readerPtrs[i] = ptr
		states[i], err = decodeReaderStateCommon(r)
		if err != nil {
			return nil, false, err
		}
	}
	for i := range states {
		name, err := decodeStringUnicode(r)
		if err != nil {
			return nil, false, err
		}
		states[i].reader = name
	}

	out := make([]readerState, len(states))
	noChange := true
	for i, s := range states {
		switch s.reader {
		case pnpNotificationReader:
			out[i] = readerState{currentState: s.currentState, eventState: s.currentState, atrLength: s.atrLength, atr: s.atr}
		case readerName:
			atrLen, atr := paddedATR(36)
			out[i] = readerState{currentState: s.currentState, eventState: cardStateChanged | cardStatePresent, atrLength: atrLen, atr: atr}
		default:
			out[i] = readerState{currentState: s.currentState, eventState: cardStateChanged | cardStateUnknown | cardStateIgnore, atrLength: s.atrLength, atr: s.atr}
		}
		if out[i].currentState != out[i].eventState {
			noChange = false
		}
	}
	if noChange {
		return nil, true, nil
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var outIndex uint32
	encodePtr(buf, uint32(len(out)), &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(out)))
	for _, s := range out {
		s.encode(buf)
	}
	return buf.Bytes(), false, nil
}

func (b *Backend) handleConnect(r io.Reader) ([]byte, error) {
	var index uint32
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	var shareMode, protocols uint32
	if err := binary.Read(r, binary.LittleEndian, &shareMode); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &protocols); err != nil {
		return nil, err
	}
	if _, err := decodeStringUnicode(r); err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}

	ci, err := b.contexts.get(ctx.value)
	if err != nil {
		return nil, err
	}
	pivCard, err := newCard(b.id, b.certDER, b.keyDER, b.pin)
	if err != nil {
		return nil, err
	}
	handle := ci.connect(ctx, pivCard)

	const protocolT1 = 0x00000002
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var outIndex uint32
	handle.encodePtr(buf, &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(protocolT1))
	handle.encodeValue(buf)
	return buf.Bytes(), nil
}

func decodeHCardAndDisposition(r io.Reader) (ndrHandle, error) {
	var index uint32
	handle, err := decodeNDRHandlePtr(r, &index)
	if err != nil {
		return handle, err
	}
	var disposition uint32
	if err := binary.Read(r, binary.LittleEndian, &disposition); err != nil {
		return handle, err
	}
	if err := handle.decodeValue(r); err != nil {
		return handle, err
	}
	return handle, nil
}

func (b *Backend) handleDisconnect(r io.Reader) ([]byte, error) {
	handle, err := decodeHCardAndDisposition(r)
	if err != nil {
		return nil, err
	}
	ci, err := b.contexts.get(handle.context.value)
	if err != nil {
		return nil, err
	}
	ci.disconnect(handle.value)
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleHCardAndDisposition(r io.Reader) ([]byte, error) {
	if _, err := decodeHCardAndDisposition(r); err != nil {
		return nil, err
	}
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleStatus(r io.Reader) ([]byte, error) {
	var index uint32
	handle, err := decodeNDRHandlePtr(r, &index)
	if err != nil {
		return nil, err
	}
	var readerNamesIsNull, readerLength, atrLength uint32
	if err := binary.Read(r, binary.LittleEndian, &readerNamesIsNull); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &readerLength); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &atrLength); err != nil {
		return nil, err
	}
	if err := handle.decodeValue(r); err != nil {
		return nil, err
	}

	const stateSpecificMode = 0x00000006
	const protocolT1 = 0x00000002

	readerNames := encodeMultistringUnicode([]string{readerName})
	atrLen, atr := paddedATR(32)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var outIndex uint32
	encodePtr(buf, uint32(len(readerNames)), &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(stateSpecificMode))
	_ = binary.Write(buf, binary.LittleEndian, uint32(protocolT1))
	buf.Write(atr[:32])
	_ = binary.Write(buf, binary.LittleEndian, atrLen)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(readerNames)))
	buf.Write(readerNames)
	return buf.Bytes(), nil
}

func decodeSCardIORequest(r io.Reader, index *uint32) (protocol uint32, extraBytesLength uint32, err error) {
	if err := binary.Read(r, binary.LittleEndian, &protocol); err != nil {
		return 0, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &extraBytesLength); err != nil {
		return 0, 0, err
	}
	if _, err := decodePtr(r, index); err != nil {
		return 0, 0, err
	}
	return protocol, extraBytesLength, nil
}

func (b *Backend) handleTransmit(r io.Reader) ([]byte, error) {
	var index uint32
	handle, err := decodeNDRHandlePtr(r, &index)
	if err != nil {
		return nil, err
	}
	_, sendPCIExtraLength, err := decodeSCardIORequest(r, &index)
	if err != nil {
		return nil, err
	}
	var sendLength uint32
	if err := binary.Read(r, binary.LittleEndian, &sendLength); err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	recvPCIPtr, err := decodePtr(r, &index)
	if err != nil {
		return nil, err
	}
	var recvBufferIsNull, recvLength uint32
	if err := binary.Read(r, binary.LittleEndian, &recvBufferIsNull); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &recvLength); err != nil {
		return nil, err
	}

	if err := handle.decodeValue(r); err != nil {
		return nil, err
	}
	if sendPCIExtraLength > 0 {
		extra := make([]byte, sendPCIExtraLength)
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, err
		}
	}

	var sendBufferLength uint32
	if err := binary.Read(r, binary.LittleEndian, &sendBufferLength); err != nil {
		return nil, err
	}
	if sendBufferLength > transmitDataLimit {
		return nil, engineerr.New(engineerr.KindProtocol, "scard: transmit send buffer too large")
	}
	sendBuffer := make([]byte, sendBufferLength)
	if _, err := io.ReadFull(r, sendBuffer); err != nil {
		return nil, err
	}

	if recvPCIPtr != 0 {
		if _, _, err := decodeSCardIORequest(r, &index); err != nil {
			return nil, err
		}
	}

	ci, err := b.contexts.get(handle.context.value)
	if err != nil {
		return nil, err
	}
	pivCard, ok := ci.get(handle.value)
	if !ok {
		return nil, engineerr.New(engineerr.KindProtocol, "scard: unknown handle id")
	}

	apduResp, err := pivCard.handle(sendBuffer)
	if err != nil {
		return nil, err
	}
	recvBuffer := apduResp.encode()

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // recv_pci, always null.
	var outIndex uint32
	encodePtr(buf, uint32(len(recvBuffer)), &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(recvBuffer)))
	buf.Write(recvBuffer)
	return buf.Bytes(), nil
}

func (b *Backend) handleGetDeviceTypeID(r io.Reader) ([]byte, error) {
	var index uint32
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}
	if _, err := decodeStringUnicode(r); err != nil {
		return nil, err
	}
	if _, err := b.contexts.get(ctx.value); err != nil {
		return nil, err
	}

	// SCARD_READER_TYPE_VENDOR: a proprietary vendor bus, the closest match
	// for a fully virtual reader.
	const readerTypeVendor = 0xF0

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	_ = binary.Write(buf, binary.LittleEndian, uint32(readerTypeVendor))
	return buf.Bytes(), nil
}

func (b *Backend) handleReadCache(r io.Reader) ([]byte, error) {
	var index uint32
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	var freshnessCounter uint32
	if err := binary.Read(r, binary.LittleEndian, &freshnessCounter); err != nil {
		return nil, err
	}
	var dataIsNull int32
	if err := binary.Read(r, binary.LittleEndian, &dataIsNull); err != nil {
		return nil, err
	}
	var dataLen uint32
	if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
		return nil, err
	}

	lookupName, err := decodeStringUnicode(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}
	var cardUUID [16]byte
	if _, err := io.ReadFull(r, cardUUID[:]); err != nil {
		return nil, err
	}

	ci, err := b.contexts.get(ctx.value)
	if err != nil {
		return nil, err
	}
	value, ok := ci.cacheRead(lookupName)

	buf := new(bytes.Buffer)
	if !ok {
		_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnCacheItemNotFound))
		var outIndex uint32
		encodePtr(buf, 0, &outIndex)
		_ = binary.Write(buf, binary.LittleEndian, uint32(0))
		return buf.Bytes(), nil
	}

	_ = binary.Write(buf, binary.LittleEndian, uint32(ReturnSuccess))
	var outIndex uint32
	encodePtr(buf, uint32(len(value)), &outIndex)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(value)))
	buf.Write(value)
	return buf.Bytes(), nil
}

func (b *Backend) handleWriteCache(r io.Reader) ([]byte, error) {
	var index uint32
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	var freshnessCounter, dataLen uint32
	if err := binary.Read(r, binary.LittleEndian, &freshnessCounter); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}

	lookupName, err := decodeStringUnicode(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}
	var cardUUID [16]byte
	if _, err := io.ReadFull(r, cardUUID[:]); err != nil {
		return nil, err
	}
	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return nil, err
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, err
	}

	ci, err := b.contexts.get(ctx.value)
	if err != nil {
		return nil, err
	}
	ci.cacheWrite(lookupName, value)
	return encodeLongReturn(ReturnSuccess), nil
}

func (b *Backend) handleGetReaderIcon(r io.Reader) ([]byte, error) {
	var index uint32
	ctx, err := decodeNDRContextPtr(r, &index)
	if err != nil {
		return nil, err
	}
	if _, err := decodePtr(r, &index); err != nil {
		return nil, err
	}
	if err := ctx.decodeValue(r); err != nil {
		return nil, err
	}
	if _, err := decodeStringUnicode(r); err != nil {
		return nil, err
	}
	if _, err := b.contexts.get(ctx.value); err != nil {
		return nil, err
	}
	// Reader icon is not implemented; report the feature as unsupported
	// rather than returning bogus image data.
	return encodeLongReturn(ReturnUnsupportedFeature), nil
}
