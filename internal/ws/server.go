package ws

import (
	"net/http"

	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"

	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

// Server wraps the Socket.IO server carrying the persistent agent and caller
// connections. Rooms named by agent id are the point-to-point delivery groups.
type Server struct {
	io     *socketio.Server
	logger *logrus.Entry
}

// NewServer initializes the Socket.IO server and registers the relay event
// handlers.
func NewServer(h *Handlers, logger *logrus.Entry) *Server {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
		},
	})

	s := &Server{
		io:     server,
		logger: logger.WithField("component", "ws"),
	}

	server.OnConnect("/", func(c socketio.Conn) error {
		s.logger.Infof("Client connected: %s", c.ID())

		// Send connected confirmation
		c.Emit("connected", map[string]interface{}{
			"ok": true,
		})
		return nil
	})

	server.OnDisconnect("/", func(c socketio.Conn, reason string) {
		s.logger.Infof("Client disconnected: %s, reason: %s", c.ID(), reason)
		h.HandleDisconnect(c)
	})

	server.OnError("/", func(c socketio.Conn, e error) {
		if c != nil {
			s.logger.Errorf("Error for client %s: %v", c.ID(), e)
			return
		}
		s.logger.Errorf("Connection error: %v", e)
	})

	registerEventHandlers(server, h)

	return s
}

// registerEventHandlers registers all Socket.IO event handlers
func registerEventHandlers(server *socketio.Server, h *Handlers) {
	server.OnEvent("/", "register_server", h.HandleRegisterServer)
	server.OnEvent("/", "authenticate_user", h.HandleAuthenticateUser)
	server.OnEvent("/", "command_response", h.HandleCommandResponse)
	server.OnEvent("/", "ping", h.HandlePing)
}

// Serve runs the Socket.IO event loop in a goroutine
func (s *Server) Serve() {
	go func() {
		if err := s.io.Serve(); err != nil {
			s.logger.Fatalf("Socket.IO server error: %v", err)
		}
	}()
	s.logger.Info("Socket.IO server initialized")
}

// Close shuts the Socket.IO server down
func (s *Server) Close() error {
	return s.io.Close()
}

// Handler exposes the Socket.IO HTTP handler for mounting on the router
func (s *Server) Handler() http.Handler {
	return s.io
}

// EmitToAgent delivers an event to the broadcast group named by the agent id
func (s *Server) EmitToAgent(agentID, event string, data interface{}) {
	s.io.BroadcastToRoom("/", agentID, event, data)
}
