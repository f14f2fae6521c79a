package transport

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// newUpgrader accepts same-origin requests, requests without an Origin header and
// origins listed in allowed. "*" allows every origin.
func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowed)
		},
	}
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin)
	})
}

// streamEvents upgrades to a WebSocket and relays every worker message of the session.
// The current session state is sent first.
func streamEvents(sessions *session.Manager, allowedOrigins []string) gin.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)
	return func(c *gin.Context) {
		s, err := sessions.Get(c.Param("id"))
		if err != nil {
			respondAppError(c, "session lookup failed", err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error
			logger.WithError(err).WithField("session_id", s.ID()).Warn("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		messages, cancel := s.Subscribe()
		defer cancel()

		log := logger.WithFields(logrus.Fields{
			"session_id": s.ID(),
			"ip":         c.ClientIP(),
		})
		log.Info("Event stream opened")

		// the read pump only exists to notice the client going away and to handle pongs
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(gin.H{"session": s.Snapshot()}); err != nil {
			log.WithError(err).Warn("Failed to send initial session state")
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-messages:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					// session deleted or evicted
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.WithError(err).Debug("Event stream write failed")
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				log.Info("Event stream closed by client")
				return
			}
		}
	}
}
