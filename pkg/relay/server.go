package relay

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// maxBodyBytes caps inbound message bodies. A valid envelope is four short
// lines; anything near this limit is garbage.
const maxBodyBytes = 16 * 1024

// Server handles HTTP requests for the relay gateway.
//
// Inbound Flow:
//   POST /:
//     - Body is the plain-text envelope forwarded from the SMS webhook
//     - Decoded, broadcast, and confirmed by the gateway
//     - 200 with the transaction hash on success
//     - 400 on a malformed envelope, 422 on a chain rejection,
//       502/504 on node trouble
//
//   GET /healthz:
//     - Verifies the chain provider connection
type Server struct {
	gateway    *Gateway
	logger     *zap.Logger
	httpServer *http.Server
	health     func() error
}

// NewServer creates a new server instance.
func NewServer(gateway *Gateway, health func() error, port int, logger *zap.Logger) *Server {
	s := &Server{
		gateway: gateway,
		logger:  logger,
		health:  health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRelay)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting relay server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("Relay server error", "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing).
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read request: %v", err), http.StatusBadRequest)
		return
	}

	result := s.gateway.Relay(r.Context(), string(body))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write([]byte(result.Body))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}
