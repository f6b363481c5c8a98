package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nugget/spectrumbot/internal/tools"
)

// maxToolArgsBody caps the JSON body of a debug tool call.
const maxToolArgsBody = 64 << 10

// captureBody reads the body up to limit bytes.
func captureBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	defs := s.loop.Tools().List()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": defs, "count": len(defs)}, s.logger)
}

// handleToolExecute dispatches one tool call through the registry, the
// same path the loop uses, with the body as the arguments object.
// POST /v1/tools/search_products {"query": "banner"}
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := captureBody(r, maxToolArgsBody)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := tools.WithChannel(r.Context(), "api")
	if conv := strings.TrimSpace(r.URL.Query().Get("conversation_id")); conv != "" {
		ctx = tools.WithConversationID(ctx, conv)
	}

	text, err := s.loop.Tools().Execute(ctx, name, string(body))

	resp := map[string]any{"tool": name, "result": text}
	status := http.StatusOK
	if err != nil {
		resp["error"] = err.Error()
		var unknown *tools.ErrToolUnavailable
		var argErr *tools.ArgumentError
		switch {
		case errors.As(err, &unknown):
			status = http.StatusNotFound
		case errors.As(err, &argErr):
			status = http.StatusBadRequest
		default:
			status = http.StatusBadGateway
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, resp, s.logger)
}
