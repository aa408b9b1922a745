package ws

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Authentication failures close the connection with this code before any
// session state exists.
const closeCodeAuthFailure = 4001

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenValidator validates a bearer credential and returns the user id.
type TokenValidator func(token string) (userID string, err error)

// Server owns the websocket endpoints: one upgrade per client, each backed by
// a registered session and a sequential read/dispatch loop.
type Server struct {
	Registry   *Registry
	Topics     *TopicIndex
	Dispatcher *Dispatcher
	Validate   TokenValidator
}

// RegisterRoutes mounts the upgrade endpoints. The scoped variants subscribe
// the new session to their topic before the read loop starts.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", s.handle(func(*gin.Context) string { return "" }))
	r.GET("/ws/strategy/:id", s.handle(func(c *gin.Context) string {
		return StrategyTopic(c.Param("id"))
	}))
	r.GET("/ws/market/:symbol", s.handle(func(c *gin.Context) string {
		return MarketTopic(c.Param("symbol"))
	}))
	r.GET("/ws/position/:id", s.handle(func(c *gin.Context) string {
		return PositionTopic(c.Param("id"))
	}))
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

func (s *Server) handle(topicFor func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] upgrade error: %v", err)
			return
		}

		token := bearerToken(c)
		if token == "" {
			closeWithReason(conn, closeCodeAuthFailure, "missing authentication token")
			return
		}
		userID, err := s.Validate(token)
		if err != nil {
			closeWithReason(conn, closeCodeAuthFailure, "invalid token")
			return
		}

		clientID := uuid.NewString()
		session, err := s.Registry.Register(clientID, userID, conn)
		if err != nil {
			// uuid collisions do not happen in practice; treat as fatal for
			// this connection only.
			log.Printf("[WS] register %s: %v", clientID, err)
			_ = conn.Close()
			return
		}
		// Cleanup runs however the read loop exits: unregister cascades the
		// topic subscriptions away and cancels session-scoped tasks.
		defer s.Registry.Unregister(clientID)

		if topic := topicFor(c); topic != "" {
			s.Topics.Subscribe(clientID, topic)
		}

		_ = s.Registry.Send(clientID, NewEnvelope(TypeSystem, map[string]any{
			"client_id": clientID,
			"message":   "connected",
		}, ""))

		s.readLoop(session, conn)
	}
}

// readLoop processes inbound frames strictly in arrival order: parse,
// dispatch, respond, repeat. Protocol and handler failures are answered in
// place; only a transport error ends the loop.
func (s *Server) readLoop(session *Session, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] session %s read: %v", session.ID, err)
			return
		}
		session.Touch()

		env, perr := Parse(raw)
		if perr != nil {
			reply := ErrorEnvelope(parseErrorCode(perr), perr.Error(), env.RequestID)
			if s.Registry.Send(session.ID, reply) != nil {
				return
			}
			continue
		}

		resp, ok := s.Dispatcher.Dispatch(session.Context(), session, env)
		if !ok {
			continue
		}
		if s.Registry.Send(session.ID, resp) != nil {
			return
		}
	}
}

func parseErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return CodeInvalidJSON
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownMessageType
	default:
		return CodeInvalidPayload
	}
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
