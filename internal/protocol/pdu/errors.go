package pdu

import "errors"

var (
	// ErrInvalidCorrelationID indicates a correlation ID that is not 16 bytes long, starts with 0x00 or 0xF4, or contains 0x0D.
	ErrInvalidCorrelationID = errors.New("invalid correlationId")
	// ErrDeactiateAll indicates the server sent a Deactivate All PDU (MS-RDPBCGR 2.2.3.1).
	ErrDeactiateAll = errors.New("deactivate all")
)
