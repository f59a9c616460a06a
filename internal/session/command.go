package session

// CommandKind discriminates the host-issued commands the session loop's
// bounded command queue delivers.
type CommandKind int

const (
	CommandWriteKey CommandKind = iota
	CommandWritePointer
	CommandWriteScreenResize
	CommandHandleResponsePDU
	CommandClipboardResponse
	CommandSharedDirectoryResponse
	CommandStop
)

// Command is one item a host places on a Session's command queue. Only
// the fields relevant to Kind are read.
type Command struct {
	Kind CommandKind

	// CommandWriteKey
	KeyCode uint8
	KeyDown bool

	// CommandWritePointer
	PointerX, PointerY uint16
	PointerButton      uint8 // 0 = move only, 1/2/3 = left/right/middle
	PointerDown        bool
	PointerWheel       bool
	PointerWheelDelta  int16

	// CommandWriteScreenResize
	Width, Height uint16

	// CommandHandleResponsePDU: a PDU produced by the host (e.g. relaying a
	// clipboard or RDPDR reply) to re-inject onto the global channel as-is.
	ResponsePDU []byte

	// CommandClipboardResponse, CommandSharedDirectoryResponse
	CompletionID uint32
	Payload      []byte
}

// CommandQueueCapacity is the bounded size of a Session's command channel
// (§4.C).
const CommandQueueCapacity = 100
