package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/memory"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversation_id"`
	Iterations     int            `json:"iterations"`
	ToolsUsed      map[string]int `json:"tools_used,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
}

// ConversationResponse is the windowed history of a conversation.
type ConversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []memory.Turn `json:"turns"`
	Count          int           `json:"count"`
}

// runTurn runs one message through the loop. The turn is detached from
// the caller's cancellation and bounded by the turn timeout.
func (s *Server) runTurn(parent context.Context, convID, message, channel string) (*agent.Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.turnTimeout)
	defer cancel()

	resp, err := s.loop.Handle(ctx, &agent.Request{
		ConversationID: convID,
		Message:        message,
		Channel:        channel,
	})
	if err != nil {
		return nil, err
	}
	s.stats.Record(resp)
	return resp, nil
}

// handleChat runs one turn.
// POST /v1/chat {"message": "harga banner", "conversation_id": "web-1"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = "api-" + uuid.New().String()
	}

	resp, err := s.runTurn(r.Context(), convID, req.Message, "api")
	if err != nil {
		s.logger.Error("agent loop failed", "conversation", convID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation busy, try again")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:       resp.Content,
		ConversationID: resp.ConversationID,
		Iterations:     resp.Iterations,
		ToolsUsed:      resp.ToolsUsed,
		RequestID:      resp.RequestID,
	}, s.logger)
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		s.errorResponse(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	resp, err := s.runTurn(r.Context(), req.ConversationID, "/reset", "api")
	if err != nil {
		s.logger.Error("reset failed", "conversation", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation busy, try again")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"response":        resp.Content,
		"conversation_id": resp.ConversationID,
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.loop.History(id)
	if err != nil {
		s.logger.Error("load history failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if len(turns) == 0 {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ConversationResponse{ConversationID: id, Turns: turns, Count: len(turns)}, s.logger)
}
