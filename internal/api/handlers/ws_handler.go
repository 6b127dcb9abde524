package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/services"
)

const (
	wsPongWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

type WSHandler struct {
	sessions   services.TestSessionService
	redis      *redis.Client
	log        *logrus.Logger
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
}

func NewWSHandler(sessions services.TestSessionService, rdb *redis.Client, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		sessions: sessions,
		redis:    rdb,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingPeriod: wsPongWait * 9 / 10,
	}
}

type wsClientMsg struct {
	Type       string                    `json:"type"`
	Role       models.Role               `json:"role"`
	Content    string                    `json:"content"`
	Transcript string                    `json:"transcript"`
	Turns      []models.ConversationTurn `json:"turns"`
}

type wsReply struct {
	Type    string              `json:"type"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Session *models.TestSession `json:"session,omitempty"`
	Report  *models.TestReport  `json:"report,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func errorReply(err error) wsReply {
	_, body := toAPIError(err)
	return wsReply{Type: "error", Code: string(body.Code), Message: body.Message}
}

// dispatch handles one client message; done means the session is over and
// the socket should close.
func (h *WSHandler) dispatch(ctx context.Context, userID, sessionID string, msg wsClientMsg) (reply *wsReply, done bool) {
	switch msg.Type {
	case "ping":
		return &wsReply{Type: "pong"}, false

	case "join":
		sess, err := h.sessions.Join(ctx, sessionID)
		if err != nil {
			r := errorReply(err)
			return &r, false
		}
		return &wsReply{Type: "joined", Session: sess}, false

	case "turn":
		err := h.sessions.AppendTurns(ctx, sessionID, []models.ConversationTurn{{
			Role:       msg.Role,
			Content:    msg.Content,
			Transcript: msg.Transcript,
		}})
		if err != nil {
			r := errorReply(err)
			return &r, false
		}
		return &wsReply{Type: "turn_ack"}, false

	case "end_session":
		report, err := h.sessions.End(ctx, services.EndRequest{
			SessionID: sessionID,
			UserID:    userID,
			Turns:     msg.Turns,
		})
		if err != nil {
			r := errorReply(err)
			return &r, false
		}
		return &wsReply{Type: "report", Report: report}, true

	case "abandon":
		if err := h.sessions.Abandon(ctx, sessionID); err != nil {
			r := errorReply(err)
			return &r, false
		}
		return &wsReply{Type: "abandoned"}, true

	default:
		return &wsReply{Type: "error", Code: "INVALID_ARGUMENT", Message: "unknown message type"}, false
	}
}

func (h *WSHandler) SessionWS(c *gin.Context) {
	sess, userID, ok := ownedSession(c, h.sessions, "WSHandler.SessionWS")
	if !ok {
		return
	}
	sessionID := sess.SessionID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})

	pubsub := h.redis.Subscribe(ctx, services.ResponseChannel(sessionID), services.StatusChannel(sessionID))
	defer pubsub.Close()

	// reader: client -> lifecycle manager
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeJSON(wsReply{Type: "error", Code: "INVALID_ARGUMENT", Message: "invalid json"})
				continue
			}

			reply, done := h.dispatch(ctx, userID, sessionID, msg)
			if reply != nil {
				if err := wc.writeJSON(reply); err != nil {
					log.WithError(err).Debug("ws write failed")
					return
				}
			}
			if done {
				return
			}
		}
	}()

	h.pump(ctx, wc, pubsub.Channel(), readDone)
}

// pump forwards published events to the client, payloads are already JSON,
// and pings it so a silent listener outlives the read deadline.
func (h *WSHandler) pump(ctx context.Context, wc *wsConn, events <-chan *redis.Message, readDone <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case m, ok := <-events:
			if !ok {
				return
			}
			if err := wc.writeText([]byte(m.Payload)); err != nil {
				return
			}
		}
	}
}
