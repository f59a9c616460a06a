package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/rdpengine/core/internal/host"
	"github.com/rdpengine/core/internal/logging"
	"github.com/rdpengine/core/internal/rdpconn"
	"github.com/rdpengine/core/internal/session"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  webSocketReadBufferSize,
	WriteBufferSize: webSocketWriteBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return isAllowedOrigin(r.Header.Get("Origin"))
	},
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")
	return strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1")
}

// inboundMessage is one JSON message the browser sends over the
// WebSocket: a discriminated union keyed by Type, the same shape the
// teacher's resizeRequest/connectionRequest follow.
type inboundMessage struct {
	Type string `json:"type"`

	// key
	Code uint8 `json:"code"`
	Down bool  `json:"down"`

	// pointer (reuses Down above)
	X          uint16 `json:"x"`
	Y          uint16 `json:"y"`
	Button     uint8  `json:"button"`
	Wheel      bool   `json:"wheel"`
	WheelDelta int16  `json:"wheelDelta"`

	// resize
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`

	// clipboard
	Text string `json:"text"`

	// sharedDirectoryResponse
	Kind         string `json:"kind"`
	CompletionID uint32 `json:"completionId"`
	Payload      string `json:"payload"` // base64

	// responsePDU
	PDU string `json:"pdu"` // base64
}

// outboundMessage mirrors session.Event for the browser; binary payloads
// travel base64-encoded inside the JSON envelope the way the teacher's
// buildCapabilitiesMessage wraps its own structured messages.
type outboundMessage struct {
	Type string `json:"type"`

	X      uint16 `json:"x,omitempty"`
	Y      uint16 `json:"y,omitempty"`
	Width  uint16 `json:"width,omitempty"`
	Height uint16 `json:"height,omitempty"`
	Data   string `json:"data,omitempty"`

	PointerWidth  uint16 `json:"pointerWidth,omitempty"`
	PointerHeight uint16 `json:"pointerHeight,omitempty"`
	HotspotX      uint16 `json:"hotspotX,omitempty"`
	HotspotY      uint16 `json:"hotspotY,omitempty"`

	Bytes       string `json:"bytes,omitempty"`
	RequestKind string `json:"requestKind,omitempty"`

	IOChannelID   uint16 `json:"ioChannelId,omitempty"`
	UserChannelID uint16 `json:"userChannelId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func connectHandler(w http.ResponseWriter, r *http.Request) {
	params, err := parseConnectParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("rdphost: upgrade websocket: %v", err)
		return
	}
	defer func() { _ = wsConn.Close() }()

	cfg := host.Config{
		HostHandle:    allocateHandle(),
		Addr:          params.addr,
		TLSServerName: params.tlsServerName,
		FIPS:          params.fips,
		Creds: rdpconn.Credentials{
			Domain:   params.domain,
			Username: params.username,
			Password: params.password,
		},
		DesktopSize:           rdpconn.DesktopSize{Width: params.width, Height: params.height},
		AllowClipboard:        params.allowClipboard,
		AllowDirectorySharing: params.allowDirectorySharing,
		DirectoryName:         params.directoryName,
	}

	h, err := host.Start(cfg, registry)
	if err != nil {
		logging.Error("rdphost: connect %s: %v", params.addr, err)
		sendError(wsConn, fmt.Sprintf("connect failed: %v", err))
		return
	}

	runDone := make(chan error, 1)
	go func() { runDone <- h.Run() }()

	go wsToHost(wsConn, h)
	hostToWs(h, wsConn)

	if err := <-runDone; err != nil {
		logging.Error("rdphost: session %d ended: %v", h.Handle(), err)
	}
}

// hostToWs drains h.Events() and forwards each one to the browser as a
// JSON text frame, mirroring the teacher's rdpToWs loop structure.
func hostToWs(h *host.Host, wsConn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("rdphost: panic in hostToWs: %v", r)
		}
	}()

	for ev := range h.Events() {
		msg := encodeEvent(ev)
		data, err := json.Marshal(msg)
		if err != nil {
			logging.Error("rdphost: marshal event: %v", err)
			continue
		}
		if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
			if err == websocket.ErrCloseSent {
				return
			}
			logging.Error("rdphost: write to websocket: %v", err)
			return
		}
	}
}

// wsToHost reads browser messages and translates them into Host command
// calls, mirroring the teacher's wsToRdp loop structure.
func wsToHost(wsConn *websocket.Conn, h *host.Host) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("rdphost: panic in wsToHost: %v", r)
		}
		_ = h.Stop()
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if strings.HasSuffix(err.Error(), "use of closed network connection") {
				return
			}
			logging.Debug("rdphost: read from websocket: %v", err)
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			logging.Debug("rdphost: invalid browser message: %v", err)
			continue
		}

		if err := dispatchInbound(h, in); err != nil {
			logging.Debug("rdphost: handling %q message: %v", in.Type, err)
		}
	}
}

func dispatchInbound(h *host.Host, in inboundMessage) error {
	switch in.Type {
	case "key":
		return h.SendKey(in.Code, in.Down)
	case "pointer":
		return h.SendPointer(in.X, in.Y, in.Button, in.Down, in.Wheel, in.WheelDelta)
	case "resize":
		return h.SendScreenResize(in.Width, in.Height)
	case "clipboard":
		return h.SendClipboardUpdate([]byte(in.Text))
	case "responsePDU":
		pdu, err := base64.StdEncoding.DecodeString(in.PDU)
		if err != nil {
			return err
		}
		return h.SendResponsePDU(pdu)
	case "sharedDirectoryResponse":
		payload, err := base64.StdEncoding.DecodeString(in.Payload)
		if err != nil {
			return err
		}
		return dispatchSharedDirectoryResponse(h, in.Kind, in.CompletionID, payload)
	default:
		return fmt.Errorf("unknown message type %q", in.Type)
	}
}

func dispatchSharedDirectoryResponse(h *host.Host, kind string, completionID uint32, payload []byte) error {
	switch kind {
	case "info":
		return h.SendSharedDirectoryInfoResponse(completionID, payload)
	case "create":
		return h.SendSharedDirectoryCreateResponse(completionID, payload)
	case "delete":
		return h.SendSharedDirectoryDeleteResponse(completionID, payload)
	case "list":
		return h.SendSharedDirectoryListResponse(completionID, payload)
	case "read":
		return h.SendSharedDirectoryReadResponse(completionID, payload)
	case "write":
		return h.SendSharedDirectoryWriteResponse(completionID, payload)
	case "move":
		return h.SendSharedDirectoryMoveResponse(completionID, payload)
	default:
		return fmt.Errorf("unknown shared-directory response kind %q", kind)
	}
}

func encodeEvent(ev session.Event) outboundMessage {
	msg := outboundMessage{
		X: ev.X, Y: ev.Y, Width: ev.Width, Height: ev.Height,
		PointerWidth: ev.PointerWidth, PointerHeight: ev.PointerHeight,
		HotspotX: ev.HotspotX, HotspotY: ev.HotspotY,
		RequestKind: ev.RequestKind,
		IOChannelID: ev.IOChannelID, UserChannelID: ev.UserChannelID,
		Reason: ev.Reason,
	}

	switch ev.Kind {
	case session.EventGraphicsUpdate:
		msg.Type = "graphicsUpdate"
		msg.Data = base64.StdEncoding.EncodeToString(ev.Data)
	case session.EventResponseFrame:
		msg.Type = "responseFrame"
		msg.Bytes = base64.StdEncoding.EncodeToString(ev.Bytes)
	case session.EventPointerDefault:
		msg.Type = "pointerDefault"
	case session.EventPointerHidden:
		msg.Type = "pointerHidden"
	case session.EventPointerPosition:
		msg.Type = "pointerPosition"
	case session.EventPointerBitmap:
		msg.Type = "pointerBitmap"
		msg.Data = base64.StdEncoding.EncodeToString(ev.Data)
	case session.EventClipboardData:
		msg.Type = "clipboardData"
		msg.Bytes = base64.StdEncoding.EncodeToString(ev.Bytes)
	case session.EventSharedDirectoryRequest:
		msg.Type = "sharedDirectoryRequest"
		msg.Bytes = base64.StdEncoding.EncodeToString(ev.Bytes)
	case session.EventConnectionActivated:
		msg.Type = "connectionActivated"
	case session.EventSessionTerminated:
		msg.Type = "sessionTerminated"
	default:
		msg.Type = "unknown"
	}

	return msg
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func sendError(wsConn *websocket.Conn, message string) {
	data, err := json.Marshal(errorMessage{Type: "error", Message: message})
	if err != nil {
		logging.Error("rdphost: marshal error message: %v", err)
		return
	}
	if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Error("rdphost: send error message: %v", err)
	}
}
