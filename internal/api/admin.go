package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/knowledge"
	"github.com/nugget/spectrumbot/internal/orders"
)

// Order handlers

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "orders not configured")
		return
	}

	list, err := s.orders.List(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error("list orders failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"orders": list, "count": len(list)}, s.logger)
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "orders not configured")
		return
	}

	o, err := s.orders.Get(r.Context(), r.PathValue("number"))
	if errors.Is(err, orders.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("get order failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, o, s.logger)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "orders not configured")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		s.errorResponse(w, http.StatusBadRequest, "status is required")
		return
	}

	number := r.PathValue("number")
	err := s.orders.UpdateStatus(r.Context(), number, req.Status)
	if errors.Is(err, orders.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("update order status failed", "order_number", number, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to update order")
		return
	}

	o, err := s.orders.Get(r.Context(), number)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, o, s.logger)
}

// Catalog handlers

func (s *Server) handleProductList(w http.ResponseWriter, r *http.Request) {
	if s.products == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}

	list, err := s.products.List(r.Context(), parseIntParam(r, "limit", 100))
	if err != nil {
		s.logger.Error("list products failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if list == nil {
		list = []catalog.Product{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"products": list, "count": len(list)}, s.logger)
}

func (s *Server) handleProductAdd(w http.ResponseWriter, r *http.Request) {
	if s.products == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}

	var p catalog.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(p.Name) == "" || p.Price < 0 {
		s.errorResponse(w, http.StatusBadRequest, "name is required and price must not be negative")
		return
	}
	p.ID = 0

	if err := s.products.Add(r.Context(), &p); err != nil {
		s.logger.Error("add product failed", "name", p.Name, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to add product")
		return
	}
	s.logger.Info("product added", "id", p.ID, "name", p.Name, "price", p.Price)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, p, s.logger)
}

// Knowledge handlers

func (s *Server) handleFAQAdd(w http.ResponseWriter, r *http.Request) {
	if s.faq == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "knowledge not configured")
		return
	}

	var f knowledge.FAQ
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
		s.errorResponse(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	f.ID = 0

	if err := s.faq.AddFAQ(r.Context(), &f); err != nil {
		s.logger.Error("add faq failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to add faq")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, f, s.logger)
}
