// Package ws serves the relay WebSocket that exposes buffer sessions to editor clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lenylvt/aurora-sub000/internal/config"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/hub"
	"github.com/lenylvt/aurora-sub000/internal/protocol"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// Sessions is the buffer session surface the relay drives.
type Sessions interface {
	Mode() domain.Mode
	Run(ctx context.Context, bufferID string, req domain.RunRequest) (domain.Snapshot, error)
	SendInput(bufferID, text string) error
	Stop(bufferID string) error
	ClearOutput(bufferID string) error
	Snapshot(bufferID string) (domain.Snapshot, error)
}

// Server handles relay WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions Sessions
	upgrader websocket.Upgrader
}

// NewServer creates a new relay server.
func NewServer(cfg *config.Config, h *hub.Hub, sessions Sessions) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Editor plugins connect from arbitrary origins.
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: relay connection %s: %v", conn.ID, err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WARN: failed to write to %s: %v", conn.ID, err)
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

// handleMessage dispatches incoming messages by type.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	if baseMsg.Type == protocol.TypeHello {
		s.handleHello(conn, data)
		return
	}
	if conn.BufferID == "" {
		s.sendError(conn, "", protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeRun:
		s.handleRun(conn, data)
	case protocol.TypeInput:
		s.handleInput(conn, data)
	case protocol.TypeStop:
		if err := s.sessions.Stop(conn.BufferID); err != nil {
			s.sendError(conn, "", codeFor(err), err.Error())
		}
	case protocol.TypeClear:
		if err := s.sessions.ClearOutput(conn.BufferID); err != nil {
			s.sendError(conn, "", codeFor(err), err.Error())
		}
	default:
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a buffer and replies with its snapshot.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.cfg.APIKey != "" && msg.APIKey != s.cfg.APIKey {
		s.sendError(conn, "", protocol.ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	bufferID := msg.BufferID
	if bufferID == "" {
		bufferID = "buf_" + uuid.New().String()[:8]
	}

	snapshot, err := s.sessions.Snapshot(bufferID)
	if err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInternalError, err.Error())
		return
	}
	s.hub.BindBuffer(conn, bufferID)

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:     protocol.TypeHelloAck,
			Ts:       time.Now().UnixMilli(),
			BufferID: bufferID,
			RunID:    snapshot.RunID,
		},
		Mode:     s.sessions.Mode(),
		Snapshot: snapshot,
	}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		log.Printf("WARN: failed to send hello_ack to %s: %v", conn.ID, err)
		return
	}

	log.Printf("INFO: hello completed for buffer %s", bufferID)
}

// handleRun starts a run without blocking the read loop. Progress reaches the
// client through hub broadcasts.
func (s *Server) handleRun(conn *hub.Connection, data []byte) {
	var msg protocol.RunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid run message")
		return
	}

	bufferID := conn.BufferID
	req := domain.RunRequest{
		Filename: msg.Filename,
		Code:     msg.Code,
		Stdin:    msg.Stdin,
		Language: msg.Language,
	}

	go func() {
		_, err := s.sessions.Run(context.Background(), bufferID, req)
		if err != nil {
			log.Printf("WARN: run rejected for buffer %s: %v", bufferID, err)
			s.sendErrorToBuffer(bufferID, "", codeFor(err), err.Error())
		}
	}()
}

func (s *Server) handleInput(conn *hub.Connection, data []byte) {
	var msg protocol.InputMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid input message")
		return
	}
	if err := s.sessions.SendInput(conn.BufferID, msg.Data); err != nil {
		s.sendError(conn, msg.RunID, codeFor(err), err.Error())
	}
}

// codeFor maps session errors to relay error codes.
func codeFor(err error) string {
	var blocked *session.BlockedError
	switch {
	case errors.As(err, &blocked),
		errors.Is(err, session.ErrEmptySource),
		errors.Is(err, session.ErrInputNotInteractive),
		errors.Is(err, session.ErrStopUnsupported),
		errors.Is(err, session.ErrNoActiveRun),
		errors.Is(err, domain.ErrUnknownLanguage):
		return protocol.ErrorCodeRunRejected
	default:
		return protocol.ErrorCodeInternalError
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, runID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:     protocol.TypeError,
			Ts:       time.Now().UnixMilli(),
			RunID:    runID,
			BufferID: conn.BufferID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

// sendErrorToBuffer sends an error message to all connections of a buffer.
func (s *Server) sendErrorToBuffer(bufferID, runID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:     protocol.TypeError,
			Ts:       time.Now().UnixMilli(),
			RunID:    runID,
			BufferID: bufferID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.BroadcastJSON(bufferID, errMsg)
}
