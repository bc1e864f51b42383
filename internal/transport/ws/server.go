// Package ws streams assistant runs to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/service"
)

// Engine starts streamed runs.
type Engine interface {
	ProcessRunStream(ctx context.Context, threadID, message string) (*service.RunStream, error)
}

// Config holds the connection settings.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	// QueueSize bounds the requests waiting behind the active run.
	QueueSize int
}

// Request is a chat message sent by the client.
type Request struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ErrorFrame is sent when a request cannot be served.
type ErrorFrame struct {
	Error string `json:"error"`
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	hub      *Hub
	engine   Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *Hub, engine Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 65536
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.Named("WS"),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	requests := make(chan Request, s.cfg.QueueSize)
	go s.writePump(conn)
	go s.serve(conn, requests)
	go s.readPump(conn, requests)

	return nil
}

// readPump parses client frames and queues valid requests. Invalid JSON ends
// the connection; a request missing fields is rejected and reading goes on.
func (s *Server) readPump(conn *Connection, requests chan<- Request) {
	defer func() {
		conn.Shutdown()
		s.hub.Unregister(conn)
		close(requests)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.String("connection_id", conn.ID),
					zap.Error(&domain.TransportError{Op: "read", Err: err}))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Info("closing connection", zap.String("connection_id", conn.ID),
				zap.Error(&domain.TransportError{Op: "decode request", Err: err}))
			s.sendError(conn, "JSON parsing error", "invalid_json")
			return
		}
		if strings.TrimSpace(req.ThreadID) == "" || strings.TrimSpace(req.Message) == "" {
			s.sendError(conn, "Missing thread_id or message", "missing_fields")
			continue
		}

		select {
		case requests <- req:
		default:
			s.sendError(conn, "Too many pending requests", "queue_full")
		}
	}
}

// writePump writes queued frames and pings to the socket. It owns closing it.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Shutdown()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Info("failed to write message", zap.String("connection_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serve runs queued requests one at a time.
func (s *Server) serve(conn *Connection, requests <-chan Request) {
	for req := range requests {
		if conn.Context().Err() != nil {
			continue
		}
		s.processRequest(conn, req)
	}
}

// processRequest streams one run to the connection. If the connection goes
// away mid-run the deferred Close cancels the upstream run.
func (s *Server) processRequest(conn *Connection, req Request) {
	ctx := correlation.WithID(conn.Context(), correlation.New())
	logger := logging.With(ctx, s.logger).With(
		zap.String("connection_id", conn.ID),
		zap.String("thread_id", req.ThreadID),
	)
	logger.Info("processing websocket request", zap.Int("message_length", len(req.Message)))

	rs, err := s.engine.ProcessRunStream(ctx, req.ThreadID, req.Message)
	if err != nil {
		logger.Warn("failed to start run", zap.Error(err))
		s.sendError(conn, err.Error(), domain.ErrorType(err))
		return
	}
	defer rs.Close()

	for ev := range rs.Events() {
		frame, err := domain.MarshalFrame(ev)
		if err != nil {
			logger.Warn("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
			continue
		}
		if err := conn.Enqueue(frame); err != nil {
			logger.Info("client disconnected mid-stream", zap.String("run_id", rs.RunID()), zap.Error(err))
			return
		}
	}

	if err := rs.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run ended with error", zap.Error(err))
		s.sendError(conn, err.Error(), domain.ErrorType(err))
		return
	}
	logger.Info("websocket request completed", zap.String("run_id", rs.RunID()))
}

func (s *Server) sendError(conn *Connection, message, errType string) {
	data, err := json.Marshal(ErrorFrame{Error: message, Type: errType, Event: domain.EventError})
	if err != nil {
		return
	}
	if err := conn.Enqueue(data); err != nil {
		s.logger.Debug("dropping error frame", zap.String("connection_id", conn.ID), zap.Error(err))
	}
}
