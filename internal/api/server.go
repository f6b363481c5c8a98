// Package api implements the HTTP API: chat, admin and debug endpoints,
// the websocket used by the chat widget, and the widget itself.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/buildinfo"
	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/connwatch"
	"github.com/nugget/spectrumbot/internal/knowledge"
	"github.com/nugget/spectrumbot/internal/orders"
	"github.com/nugget/spectrumbot/internal/web"
)

// DefaultTurnTimeout bounds one chat turn served over HTTP.
const DefaultTurnTimeout = 5 * time.Minute

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// OrderAdmin is the order desk as seen by shop staff.
type OrderAdmin interface {
	List(ctx context.Context, limit int) ([]*orders.Order, error)
	Get(ctx context.Context, number string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, number, status string) error
}

// ProductAdmin adds and lists catalog products.
type ProductAdmin interface {
	Add(ctx context.Context, p *catalog.Product) error
	List(ctx context.Context, limit int) ([]catalog.Product, error)
}

// FAQAdmin stores and indexes FAQ entries.
type FAQAdmin interface {
	AddFAQ(ctx context.Context, f *knowledge.FAQ) error
}

// HandoffLinker builds admin WhatsApp links.
type HandoffLinker interface {
	Configured() bool
	Link(summary string) string
	Message(summary string) string
	QRCode(summary string, size int) ([]byte, error)
}

// HealthReporter reports the reachability of external dependencies.
type HealthReporter interface {
	Status() map[string]connwatch.Status
	Healthy() bool
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	loop        *agent.Loop
	orders      OrderAdmin
	products    ProductAdmin
	faq         FAQAdmin
	handoff     HandoffLinker
	widget      *web.Widget
	health      HealthReporter
	turnTimeout time.Duration
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	server      *http.Server
	stats       *SessionStats
}

// SessionStats tracks token usage since the process started.
type SessionStats struct {
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalRequests     int64 `json:"total_requests"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
	mu                sync.Mutex
}

// Record adds one turn's usage.
func (s *SessionStats) Record(resp *agent.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInputTokens += int64(resp.InputTokens)
	s.TotalOutputTokens += int64(resp.OutputTokens)
	s.TotalRequests++
	s.TotalToolCalls += int64(resp.Iterations)
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	TotalInputTokens  int64             `json:"total_input_tokens"`
	TotalOutputTokens int64             `json:"total_output_tokens"`
	TotalRequests     int64             `json:"total_requests"`
	TotalToolCalls    int64             `json:"total_tool_calls"`
	Memory            map[string]any    `json:"memory,omitempty"`
	Build             map[string]string `json:"build,omitempty"`
}

// Snapshot copies the counters.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		TotalRequests:     s.TotalRequests,
		TotalToolCalls:    s.TotalToolCalls,
	}
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:     address,
		port:        port,
		loop:        loop,
		turnTimeout: DefaultTurnTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
		stats:  &SessionStats{},
	}
}

// SetOrders configures the order admin endpoints.
func (s *Server) SetOrders(o OrderAdmin) { s.orders = o }

// SetProducts configures the product admin endpoints.
func (s *Server) SetProducts(p ProductAdmin) { s.products = p }

// SetFAQ configures the FAQ admin endpoint.
func (s *Server) SetFAQ(f FAQAdmin) { s.faq = f }

// SetHandoff configures the handoff endpoints.
func (s *Server) SetHandoff(h HandoffLinker) { s.handoff = h }

// SetWidget mounts the chat widget at /chat.
func (s *Server) SetWidget(w *web.Widget) { s.widget = w }

// SetHealth adds dependency status to /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetTurnTimeout bounds each chat turn. Non-positive values keep the
// default.
func (s *Server) SetTurnTimeout(d time.Duration) {
	if d > 0 {
		s.turnTimeout = d
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/reset", s.handleChatReset)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	// Handoff
	mux.HandleFunc("GET /v1/handoff", s.handleHandoff)
	mux.HandleFunc("GET /v1/handoff/qr.png", s.handleHandoffQR)

	// Admin
	mux.HandleFunc("GET /v1/orders", s.handleOrderList)
	mux.HandleFunc("GET /v1/orders/{number}", s.handleOrderGet)
	mux.HandleFunc("POST /v1/orders/{number}/status", s.handleOrderStatus)
	mux.HandleFunc("GET /v1/products", s.handleProductList)
	mux.HandleFunc("POST /v1/products", s.handleProductAdd)
	mux.HandleFunc("POST /v1/faq", s.handleFAQAdd)

	// Tool debugging
	mux.HandleFunc("GET /v1/tools", s.handleToolList)
	mux.HandleFunc("POST /v1/tools/{name}", s.handleToolExecute)

	// Health
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/session/stats", s.handleSessionStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	if s.widget != nil {
		s.widget.RegisterRoutes(mux)
	}

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// A turn may run up to turnTimeout before the reply is written.
		WriteTimeout: s.turnTimeout + 30*time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "SpectrumBot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth answers 200 even when a dependency is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}
	status := "healthy"
	if !s.health.Healthy() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": s.health.Status(),
	}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	snap.Memory = s.loop.MemoryStats()
	snap.Build = buildinfo.Info()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
