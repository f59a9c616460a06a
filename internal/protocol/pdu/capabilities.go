package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CapabilitySetType identifies the kind of capability set carried by a
// CapabilitySet TLV (MS-RDPBCGR 2.2.1.13.1.1.1).
type CapabilitySetType uint16

const (
	CapabilitySetTypeGeneral               CapabilitySetType = 0x01
	CapabilitySetTypeBitmap                CapabilitySetType = 0x02
	CapabilitySetTypeOrder                 CapabilitySetType = 0x03
	CapabilitySetTypeBitmapCache           CapabilitySetType = 0x04
	CapabilitySetTypeControl               CapabilitySetType = 0x05
	CapabilitySetTypeActivation            CapabilitySetType = 0x07
	CapabilitySetTypePointer               CapabilitySetType = 0x08
	CapabilitySetTypeShare                 CapabilitySetType = 0x09
	CapabilitySetTypeColorCache            CapabilitySetType = 0x0a
	CapabilitySetTypeSound                 CapabilitySetType = 0x0c
	CapabilitySetTypeInput                 CapabilitySetType = 0x0d
	CapabilitySetTypeFont                  CapabilitySetType = 0x0e
	CapabilitySetTypeBrush                 CapabilitySetType = 0x0f
	CapabilitySetTypeGlyphCache            CapabilitySetType = 0x10
	CapabilitySetTypeOffscreenBitmapCache  CapabilitySetType = 0x11
	CapabilitySetTypeBitmapCacheRev2       CapabilitySetType = 0x13
	CapabilitySetTypeVirtualChannel        CapabilitySetType = 0x14
	CapabilitySetTypeDrawNineGridCache     CapabilitySetType = 0x15
	CapabilitySetTypeDrawGDIPlus           CapabilitySetType = 0x16
	CapabilitySetTypeRail                  CapabilitySetType = 0x17
	CapabilitySetTypeWindow                CapabilitySetType = 0x18
	CapabilitySetTypeMultifragmentUpdate   CapabilitySetType = 0x1a
	CapabilitySetTypeLargePointer          CapabilitySetType = 0x1b
	CapabilitySetTypeDesktopComposition    CapabilitySetType = 0x1d
	CapabilitySetTypeSurfaceCommands       CapabilitySetType = 0x1e
	CapabilitySetTypeBitmapCodecs          CapabilitySetType = 0x1f
	CapabilitySetTypeFrameAcknowledge      CapabilitySetType = 0x1e + 0x0d // 0x2b, FRAME_ACKNOWLEDGE
	CapabilitySetTypeBitmapCacheHostSupport CapabilitySetType = 0x06
)

// CapabilitySet is a single TS_CAPS_SET entry: a 2-byte type, a 2-byte
// self-inclusive length, and a payload dispatched to exactly one of the
// embedded pointer fields below (MS-RDPBCGR 2.2.1.13.1.1.1).
type CapabilitySet struct {
	CapabilitySetType CapabilitySetType

	GeneralCapabilitySet                 *GeneralCapabilitySet
	BitmapCapabilitySet                  *BitmapCapabilitySet
	OrderCapabilitySet                   *OrderCapabilitySet
	BitmapCacheCapabilitySetRev1         *BitmapCacheCapabilitySetRev1
	BitmapCacheCapabilitySetRev2         *BitmapCacheCapabilitySetRev2
	ControlCapabilitySet                 *ControlCapabilitySet
	WindowActivationCapabilitySet        *WindowActivationCapabilitySet
	PointerCapabilitySet                 *PointerCapabilitySet
	ShareCapabilitySet                   *ShareCapabilitySet
	ColorCacheCapabilitySet              *ColorCacheCapabilitySet
	SoundCapabilitySet                   *SoundCapabilitySet
	InputCapabilitySet                   *InputCapabilitySet
	FontCapabilitySet                    *FontCapabilitySet
	BrushCapabilitySet                   *BrushCapabilitySet
	GlyphCacheCapabilitySet              *GlyphCacheCapabilitySet
	OffscreenBitmapCacheCapabilitySet    *OffscreenBitmapCacheCapabilitySet
	VirtualChannelCapabilitySet          *VirtualChannelCapabilitySet
	DrawNineGridCacheCapabilitySet       *DrawNineGridCacheCapabilitySet
	DrawGDIPlusCapabilitySet             *DrawGDIPlusCapabilitySet
	RailCapabilitySet                    *RailCapabilitySet
	WindowListCapabilitySet              *WindowListCapabilitySet
	MultifragmentUpdateCapabilitySet     *MultifragmentUpdateCapabilitySet
	LargePointerCapabilitySet            *LargePointerCapabilitySet
	DesktopCompositionCapabilitySet      *DesktopCompositionCapabilitySet
	SurfaceCommandsCapabilitySet         *SurfaceCommandsCapabilitySet
	BitmapCodecsCapabilitySet            *BitmapCodecsCapabilitySet
	FrameAcknowledgeCapabilitySet        *FrameAcknowledgeCapabilitySet
	BitmapCacheHostSupportCapabilitySet  *BitmapCacheHostSupportCapabilitySet

	// unknown carries the raw payload of a capability set type this package
	// does not model, so Serialize can still round-trip it.
	unknown []byte
}

type capabilitySetBody interface {
	Serialize() []byte
}

func (s *CapabilitySet) body() capabilitySetBody {
	switch {
	case s.GeneralCapabilitySet != nil:
		return s.GeneralCapabilitySet
	case s.BitmapCapabilitySet != nil:
		return s.BitmapCapabilitySet
	case s.OrderCapabilitySet != nil:
		return s.OrderCapabilitySet
	case s.BitmapCacheCapabilitySetRev1 != nil:
		return s.BitmapCacheCapabilitySetRev1
	case s.BitmapCacheCapabilitySetRev2 != nil:
		return s.BitmapCacheCapabilitySetRev2
	case s.ControlCapabilitySet != nil:
		return s.ControlCapabilitySet
	case s.WindowActivationCapabilitySet != nil:
		return s.WindowActivationCapabilitySet
	case s.PointerCapabilitySet != nil:
		return s.PointerCapabilitySet
	case s.ShareCapabilitySet != nil:
		return s.ShareCapabilitySet
	case s.ColorCacheCapabilitySet != nil:
		return s.ColorCacheCapabilitySet
	case s.SoundCapabilitySet != nil:
		return s.SoundCapabilitySet
	case s.InputCapabilitySet != nil:
		return s.InputCapabilitySet
	case s.FontCapabilitySet != nil:
		return s.FontCapabilitySet
	case s.BrushCapabilitySet != nil:
		return s.BrushCapabilitySet
	case s.GlyphCacheCapabilitySet != nil:
		return s.GlyphCacheCapabilitySet
	case s.OffscreenBitmapCacheCapabilitySet != nil:
		return s.OffscreenBitmapCacheCapabilitySet
	case s.VirtualChannelCapabilitySet != nil:
		return s.VirtualChannelCapabilitySet
	case s.DrawNineGridCacheCapabilitySet != nil:
		return s.DrawNineGridCacheCapabilitySet
	case s.DrawGDIPlusCapabilitySet != nil:
		return s.DrawGDIPlusCapabilitySet
	case s.RailCapabilitySet != nil:
		return s.RailCapabilitySet
	case s.WindowListCapabilitySet != nil:
		return s.WindowListCapabilitySet
	case s.MultifragmentUpdateCapabilitySet != nil:
		return s.MultifragmentUpdateCapabilitySet
	case s.LargePointerCapabilitySet != nil:
		return s.LargePointerCapabilitySet
	case s.DesktopCompositionCapabilitySet != nil:
		return s.DesktopCompositionCapabilitySet
	case s.SurfaceCommandsCapabilitySet != nil:
		return s.SurfaceCommandsCapabilitySet
	case s.BitmapCodecsCapabilitySet != nil:
		return s.BitmapCodecsCapabilitySet
	case s.FrameAcknowledgeCapabilitySet != nil:
		return s.FrameAcknowledgeCapabilitySet
	case s.BitmapCacheHostSupportCapabilitySet != nil:
		return s.BitmapCacheHostSupportCapabilitySet
	default:
		return nil
	}
}

// Serialize encodes the type/length header followed by whichever embedded
// capability struct is set.
func (s *CapabilitySet) Serialize() []byte {
	var payload []byte
	if body := s.body(); body != nil {
		payload = body.Serialize()
	} else {
		payload = s.unknown
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(s.CapabilitySetType))
	_ = binary.Write(buf, binary.LittleEndian, uint16(4+len(payload)))
	buf.Write(payload)

	return buf.Bytes()
}

// Deserialize reads the type/length header, then dispatches the
// length-bounded payload to the matching embedded capability struct. An
// unrecognized type is stored verbatim in unknown rather than rejected, so
// that unsupported future capability sets don't break an otherwise valid
// capability list.
func (s *CapabilitySet) Deserialize(wire io.Reader) error {
	var (
		capType uint16
		length  uint16
	)

	if err := binary.Read(wire, binary.LittleEndian, &capType); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &length); err != nil {
		return err
	}
	if length < 4 {
		return fmt.Errorf("pdu: capability set length %d too small", length)
	}

	s.CapabilitySetType = CapabilitySetType(capType)

	body := make([]byte, length-4)
	if _, err := io.ReadFull(wire, body); err != nil {
		return err
	}

	return s.deserializeBody(body)
}

// DeserializeQuick is like Deserialize but is used on a reader already
// positioned at a single capability set with no further data following, such
// as when callers only need to inspect one set in isolation.
func (s *CapabilitySet) DeserializeQuick(wire io.Reader) error {
	return s.Deserialize(wire)
}

func (s *CapabilitySet) deserializeBody(body []byte) error {
	r := bytes.NewReader(body)

	switch s.CapabilitySetType {
	case CapabilitySetTypeGeneral:
		s.GeneralCapabilitySet = &GeneralCapabilitySet{}
		return s.GeneralCapabilitySet.Deserialize(r)
	case CapabilitySetTypeBitmap:
		s.BitmapCapabilitySet = &BitmapCapabilitySet{}
		return s.BitmapCapabilitySet.Deserialize(r)
	case CapabilitySetTypeOrder:
		s.OrderCapabilitySet = &OrderCapabilitySet{}
		return s.OrderCapabilitySet.Deserialize(r)
	case CapabilitySetTypeBitmapCache:
		s.BitmapCacheCapabilitySetRev1 = &BitmapCacheCapabilitySetRev1{}
		return s.BitmapCacheCapabilitySetRev1.Deserialize(r)
	case CapabilitySetTypeBitmapCacheRev2:
		s.BitmapCacheCapabilitySetRev2 = &BitmapCacheCapabilitySetRev2{}
		return s.BitmapCacheCapabilitySetRev2.Deserialize(r)
	case CapabilitySetTypeControl:
		s.ControlCapabilitySet = &ControlCapabilitySet{}
		return s.ControlCapabilitySet.Deserialize(r)
	case CapabilitySetTypeActivation:
		s.WindowActivationCapabilitySet = &WindowActivationCapabilitySet{}
		return s.WindowActivationCapabilitySet.Deserialize(r)
	case CapabilitySetTypePointer:
		s.PointerCapabilitySet = &PointerCapabilitySet{}
		return s.PointerCapabilitySet.Deserialize(r)
	case CapabilitySetTypeShare:
		s.ShareCapabilitySet = &ShareCapabilitySet{}
		return s.ShareCapabilitySet.Deserialize(r)
	case CapabilitySetTypeColorCache:
		s.ColorCacheCapabilitySet = &ColorCacheCapabilitySet{}
		return s.ColorCacheCapabilitySet.Deserialize(r)
	case CapabilitySetTypeSound:
		s.SoundCapabilitySet = &SoundCapabilitySet{}
		return s.SoundCapabilitySet.Deserialize(r)
	case CapabilitySetTypeInput:
		s.InputCapabilitySet = &InputCapabilitySet{}
		return s.InputCapabilitySet.Deserialize(r)
	case CapabilitySetTypeFont:
		s.FontCapabilitySet = &FontCapabilitySet{}
		return s.FontCapabilitySet.Deserialize(r)
	case CapabilitySetTypeBrush:
		s.BrushCapabilitySet = &BrushCapabilitySet{}
		return s.BrushCapabilitySet.Deserialize(r)
	case CapabilitySetTypeGlyphCache:
		s.GlyphCacheCapabilitySet = &GlyphCacheCapabilitySet{}
		return s.GlyphCacheCapabilitySet.Deserialize(r)
	case CapabilitySetTypeOffscreenBitmapCache:
		s.OffscreenBitmapCacheCapabilitySet = &OffscreenBitmapCacheCapabilitySet{}
		return s.OffscreenBitmapCacheCapabilitySet.Deserialize(r)
	case CapabilitySetTypeVirtualChannel:
		s.VirtualChannelCapabilitySet = &VirtualChannelCapabilitySet{}
		return s.VirtualChannelCapabilitySet.Deserialize(r)
	case CapabilitySetTypeDrawNineGridCache:
		s.DrawNineGridCacheCapabilitySet = &DrawNineGridCacheCapabilitySet{}
		return s.DrawNineGridCacheCapabilitySet.Deserialize(r)
	case CapabilitySetTypeDrawGDIPlus:
		s.DrawGDIPlusCapabilitySet = &DrawGDIPlusCapabilitySet{}
		return s.DrawGDIPlusCapabilitySet.Deserialize(r)
	case CapabilitySetTypeMultifragmentUpdate:
		s.MultifragmentUpdateCapabilitySet = &MultifragmentUpdateCapabilitySet{}
		return s.MultifragmentUpdateCapabilitySet.Deserialize(r)
	case CapabilitySetTypeLargePointer:
		s.LargePointerCapabilitySet = &LargePointerCapabilitySet{}
		return s.LargePointerCapabilitySet.Deserialize(r)
	case CapabilitySetTypeDesktopComposition:
		s.DesktopCompositionCapabilitySet = &DesktopCompositionCapabilitySet{}
		return s.DesktopCompositionCapabilitySet.Deserialize(r)
	case CapabilitySetTypeSurfaceCommands:
		s.SurfaceCommandsCapabilitySet = &SurfaceCommandsCapabilitySet{}
		return s.SurfaceCommandsCapabilitySet.Deserialize(r)
	case CapabilitySetTypeBitmapCodecs:
		s.BitmapCodecsCapabilitySet = &BitmapCodecsCapabilitySet{}
		return s.BitmapCodecsCapabilitySet.Deserialize(r)
	case CapabilitySetTypeFrameAcknowledge:
		s.FrameAcknowledgeCapabilitySet = &FrameAcknowledgeCapabilitySet{}
		return s.FrameAcknowledgeCapabilitySet.Deserialize(r)
	case CapabilitySetTypeBitmapCacheHostSupport:
		s.BitmapCacheHostSupportCapabilitySet = &BitmapCacheHostSupportCapabilitySet{}
		return s.BitmapCacheHostSupportCapabilitySet.Deserialize(r)
	default:
		s.unknown = body
		return nil
	}
}

// FrameAcknowledgeCapabilitySet represents the TS_FRAME_ACKNOWLEDGE_CAPABILITYSET
// structure (MS-RDPBCGR 2.2.7.2.7).
type FrameAcknowledgeCapabilitySet struct {
	MaxUnacknowledgedFrames uint32
}

// NewFrameAcknowledgeCapabilitySet creates a Frame Acknowledge Capability Set
// advertising a small unacknowledged-frame window.
func NewFrameAcknowledgeCapabilitySet() CapabilitySet {
	return CapabilitySet{
		CapabilitySetType:             CapabilitySetTypeFrameAcknowledge,
		FrameAcknowledgeCapabilitySet: &FrameAcknowledgeCapabilitySet{MaxUnacknowledgedFrames: 2},
	}
}

// Serialize encodes the capability set to wire format.
func (s *FrameAcknowledgeCapabilitySet) Serialize() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, s.MaxUnacknowledgedFrames)
	return buf.Bytes()
}

// Deserialize decodes the capability set from wire format.
func (s *FrameAcknowledgeCapabilitySet) Deserialize(wire io.Reader) error {
	return binary.Read(wire, binary.LittleEndian, &s.MaxUnacknowledgedFrames)
}

// ClientConfirmActive is the TS_CONFIRM_ACTIVE_PDU a client sends in response
// to the server's Demand Active PDU, echoing back the capability sets it
// supports (MS-RDPBCGR 2.2.1.13.2).
type ClientConfirmActive struct {
	ShareControlHeader ShareControlHeader
	ShareID            uint32
	OriginatorID       uint16
	SourceDescriptor   []byte
	CapabilitySets     []CapabilitySet
}

// NewClientConfirmActive builds a Confirm Active PDU advertising the baseline
// capability sets this engine supports for a desktop of the given size. When
// remoteApp is true, the Rail and Window List capability sets are appended so
// the server knows RemoteApp mode is available.
func NewClientConfirmActive(shareID uint32, originatorID uint16, width, height uint16, remoteApp bool) *ClientConfirmActive {
	sets := []CapabilitySet{
		NewGeneralCapabilitySet(),
		NewBitmapCapabilitySet(width, height),
		NewOrderCapabilitySet(),
		NewBitmapCacheCapabilitySetRev1(),
		NewPointerCapabilitySet(),
		NewInputCapabilitySet(),
		NewBrushCapabilitySet(),
		NewGlyphCacheCapabilitySet(),
		NewOffscreenBitmapCacheCapabilitySet(),
		NewVirtualChannelCapabilitySet(),
		NewSoundCapabilitySet(),
		NewMultifragmentUpdateCapabilitySet(),
		NewFrameAcknowledgeCapabilitySet(),
		NewSurfaceCommandsCapabilitySet(),
		NewBitmapCodecsCapabilitySet(),
	}

	if remoteApp {
		sets = append(sets, NewRailCapabilitySet(), NewWindowListCapabilitySet())
	}

	return &ClientConfirmActive{
		ShareControlHeader: ShareControlHeader{
			PDUType:   TypeConfirmActive,
			PDUSource: originatorID,
		},
		ShareID:          shareID,
		OriginatorID:     originatorID,
		SourceDescriptor: []byte("rdpengine"),
		CapabilitySets:   sets,
	}
}

// Serialize encodes the Confirm Active PDU to wire format.
func (pdu *ClientConfirmActive) Serialize() []byte {
	combined := new(bytes.Buffer)
	_ = binary.Write(combined, binary.LittleEndian, uint16(len(pdu.CapabilitySets)))
	_ = binary.Write(combined, binary.LittleEndian, uint16(0)) // pad2Octets
	for _, set := range pdu.CapabilitySets {
		combined.Write(set.Serialize())
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, pdu.ShareID)
	_ = binary.Write(buf, binary.LittleEndian, pdu.OriginatorID)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(pdu.SourceDescriptor)))
	_ = binary.Write(buf, binary.LittleEndian, uint16(combined.Len()))
	buf.Write(pdu.SourceDescriptor)
	buf.Write(combined.Bytes())

	pdu.ShareControlHeader.PDUType = TypeConfirmActive
	pdu.ShareControlHeader.PDUSource = pdu.OriginatorID
	pdu.ShareControlHeader.TotalLength = uint16(6 + buf.Len())

	out := new(bytes.Buffer)
	out.Write(pdu.ShareControlHeader.Serialize())
	out.Write(buf.Bytes())

	return out.Bytes()
}

// Deserialize decodes a Confirm Active PDU from wire format.
func (pdu *ClientConfirmActive) Deserialize(wire io.Reader) error {
	if err := pdu.ShareControlHeader.Deserialize(wire); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.LittleEndian, &pdu.ShareID); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &pdu.OriginatorID); err != nil {
		return err
	}

	var lengthSourceDescriptor, lengthCombinedCapabilities uint16
	if err := binary.Read(wire, binary.LittleEndian, &lengthSourceDescriptor); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCombinedCapabilities); err != nil {
		return err
	}

	pdu.SourceDescriptor = make([]byte, lengthSourceDescriptor)
	if _, err := io.ReadFull(wire, pdu.SourceDescriptor); err != nil {
		return err
	}

	combined := make([]byte, lengthCombinedCapabilities)
	if _, err := io.ReadFull(wire, combined); err != nil {
		return err
	}
	combinedReader := bytes.NewReader(combined)

	var numberCapabilities, pad2Octets uint16
	if err := binary.Read(combinedReader, binary.LittleEndian, &numberCapabilities); err != nil {
		return err
	}
	if err := binary.Read(combinedReader, binary.LittleEndian, &pad2Octets); err != nil {
		return err
	}

	pdu.CapabilitySets = make([]CapabilitySet, numberCapabilities)
	for i := range pdu.CapabilitySets {
		if err := pdu.CapabilitySets[i].Deserialize(combinedReader); err != nil {
			return fmt.Errorf("pdu: confirm active capability set %d: %w", i, err)
		}
	}

	return nil
}

// ServerDemandActive is the TS_DEMAND_ACTIVE_PDU the server sends to open
// capabilities exchange, advertising the capability sets it supports and
// the ShareID the session will use from here on (MS-RDPBCGR 2.2.1.13.1).
type ServerDemandActive struct {
	ShareControlHeader ShareControlHeader
	ShareID            uint32
	SourceDescriptor   []byte
	CapabilitySets     []CapabilitySet
}

// Deserialize decodes a Demand Active PDU from wire format.
func (pdu *ServerDemandActive) Deserialize(wire io.Reader) error {
	if err := pdu.ShareControlHeader.Deserialize(wire); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.LittleEndian, &pdu.ShareID); err != nil {
		return err
	}

	var lengthSourceDescriptor, lengthCombinedCapabilities uint16
	if err := binary.Read(wire, binary.LittleEndian, &lengthSourceDescriptor); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCombinedCapabilities); err != nil {
		return err
	}

	pdu.SourceDescriptor = make([]byte, lengthSourceDescriptor)
	if _, err := io.ReadFull(wire, pdu.SourceDescriptor); err != nil {
		return err
	}

	combined := make([]byte, lengthCombinedCapabilities)
	if _, err := io.ReadFull(wire, combined); err != nil {
		return err
	}
	combinedReader := bytes.NewReader(combined)

	var numberCapabilities, pad2Octets uint16
	if err := binary.Read(combinedReader, binary.LittleEndian, &numberCapabilities); err != nil {
		return err
	}
	if err := binary.Read(combinedReader, binary.LittleEndian, &pad2Octets); err != nil {
		return err
	}

	pdu.CapabilitySets = make([]CapabilitySet, numberCapabilities)
	for i := range pdu.CapabilitySets {
		if err := pdu.CapabilitySets[i].Deserialize(combinedReader); err != nil {
			return fmt.Errorf("pdu: demand active capability set %d: %w", i, err)
		}
	}

	// sessionId (4 bytes), present in some server implementations after the
	// capability array, is intentionally not read: it trails the declared
	// lengthCombinedCapabilities and is not needed by this engine.

	return nil
}
