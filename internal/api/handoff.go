package api

import (
	"net/http"
	"strings"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if s.handoff == nil || !s.handoff.Configured() {
		s.errorResponse(w, http.StatusServiceUnavailable, "handoff not configured")
		return
	}

	summary := strings.TrimSpace(r.URL.Query().Get("summary"))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"link":    s.handoff.Link(summary),
		"message": s.handoff.Message(summary),
	}, s.logger)
}

func (s *Server) handleHandoffQR(w http.ResponseWriter, r *http.Request) {
	if s.handoff == nil || !s.handoff.Configured() {
		s.errorResponse(w, http.StatusServiceUnavailable, "handoff not configured")
		return
	}

	size := parseIntParam(r, "size", defaultQRSize)
	if size == 0 || size > maxQRSize {
		size = defaultQRSize
	}

	png, err := s.handoff.QRCode(strings.TrimSpace(r.URL.Query().Get("summary")), size)
	if err != nil {
		s.logger.Error("qr code failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write qr code", "error", err)
	}
}
