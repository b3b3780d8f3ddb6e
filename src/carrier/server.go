package carrier

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/logger"
)

// CallHandler owns one accepted carrier connection for the lifetime of the
// call. It must not return until the call is over.
type CallHandler func(ctx context.Context, conn *websocket.Conn)

// ServerConfig configures the carrier-facing WebSocket listener.
type ServerConfig struct {
	Port int
	Path string
}

// Server accepts carrier media-stream connections and hands each one to the
// call handler. One connection is one call; a call's crash never affects
// another call.
type Server struct {
	cfg      ServerConfig
	handler  CallHandler
	log      *zap.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	cancel map[*websocket.Conn]context.CancelFunc
}

// NewServer creates a carrier listener that dispatches connections to handler.
func NewServer(cfg ServerConfig, handler CallHandler) *Server {
	if cfg.Path == "" {
		cfg.Path = "/media"
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     logger.Named("carrier.server"),
		upgrader: websocket.Upgrader{
			// The carrier connects from rotating media hosts.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cancel: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Start begins listening. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	go func() {
		s.log.Info("listening for carrier streams",
			zap.Int("port", s.cfg.Port),
			zap.String("path", s.cfg.Path))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("carrier server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the listener down and cancels every live call.
func (s *Server) Stop() error {
	s.mu.Lock()
	for conn, cancel := range s.cancel {
		cancel()
		_ = conn.Close()
	}
	s.cancel = make(map[*websocket.Conn]context.CancelFunc)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade carrier connection", zap.Error(err))
		return
	}
	s.log.Info("carrier connection accepted", zap.String("remote", r.RemoteAddr))

	callCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel[conn] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			// Contain a crashed call to its own connection.
			if rec := recover(); rec != nil {
				s.log.Error("call handler panic", zap.Any("panic", rec))
			}
			cancel()
			_ = conn.Close()
			s.mu.Lock()
			delete(s.cancel, conn)
			s.mu.Unlock()
		}()
		s.handler(callCtx, conn)
	}()
}
