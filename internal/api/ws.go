package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Websocket frame types.
const (
	frameMessage = "message"
	frameReset   = "reset"
	frameHandoff = "handoff"

	frameReply  = "reply"
	frameTyping = "typing"
	frameError  = "error"
)

// wsMaxMessage caps an inbound frame.
const wsMaxMessage = 16 << 10

// ClientFrame is sent by the chat widget.
type ClientFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ServerFrame is sent to the chat widget.
type ServerFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	HTML           string `json:"html,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// handleWebSocket serves one widget connection. Frames are handled in
// order; a connection runs at most one turn at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	fallbackID := "web-" + uuid.New().String()[:8]
	s.logger.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var in ClientFrame
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		convID := in.ConversationID
		if convID == "" {
			convID = fallbackID
		}

		var text string
		switch in.Type {
		case frameMessage:
			text = strings.TrimSpace(in.Text)
			if text == "" {
				continue
			}
		case frameReset:
			text = "/reset"
		case frameHandoff:
			text = "/cs"
		default:
			if !s.writeFrame(conn, ServerFrame{Type: frameError, Text: "unknown frame type " + in.Type}) {
				return
			}
			continue
		}

		if !s.writeFrame(conn, ServerFrame{Type: frameTyping, ConversationID: convID}) {
			return
		}

		resp, err := s.runTurn(r.Context(), convID, text, "web")
		if err != nil {
			s.logger.Error("agent loop failed", "conversation", convID, "error", err)
			if !s.writeFrame(conn, ServerFrame{Type: frameError, Text: "Percakapan sedang diproses, coba lagi sebentar.", ConversationID: convID}) {
				return
			}
			continue
		}

		if !s.writeFrame(conn, ServerFrame{
			Type:           frameReply,
			Text:           resp.Content,
			HTML:           markdownToHTML(resp.Content),
			ConversationID: convID,
		}) {
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, f ServerFrame) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(f); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
