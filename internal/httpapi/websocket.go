package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin allows same-origin requests and requests with no Origin
// header (non-browser clients). Any other cross-origin request is
// rejected; there is no setting to allow it. Mirrors the teacher's
// local-origin check but without hardcoding a single allowed origin.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == "null" || r.Host == "" || originMatchesHost(origin, r.Host)
}

func originMatchesHost(origin, host string) bool {
	for _, prefix := range []string{"http://" + host, "https://" + host} {
		if origin == prefix {
			return true
		}
	}
	return false
}

// streamConn serializes every write onto the socket, since
// gorilla/websocket connections are not safe for concurrent writers.
type streamConn struct {
	ws   *websocket.Conn
	wrMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newStreamConn(ws *websocket.Conn) *streamConn {
	return &streamConn{ws: ws, closeCh: make(chan struct{})}
}

func (c *streamConn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *streamConn) ping() error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.ws.Close()
	})
}

// handleStreamRun upgrades GET /v1/runs/:runId/stream to a WebSocket
// and relays every bus event for that run until the run reaches a
// terminal state or the client disconnects.
func (s *Server) handleStreamRun(c *gin.Context) {
	runID := c.Param("runId")
	if _, err := s.kernel.Status(runID); err != nil {
		fail(c, "StreamRun", err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("httpapi: websocket upgrade failed", logger.FieldRunID, runID, logger.FieldError, err)
		return
	}
	conn := newStreamConn(ws)
	defer conn.close()

	unsubscribe := s.kernel.Stream(runID, func(e bus.Event) {
		if err := conn.writeJSON(e); err != nil {
			conn.close()
			return
		}
		if e.Type == bus.EventRunCompleted || e.Type == bus.EventRunFailed || e.Type == bus.EventRunAborted {
			conn.close()
		}
	})
	defer unsubscribe()

	go s.readLoopDiscardingInput(conn)
	s.keepAlive(conn)
}

// readLoopDiscardingInput drains client frames (clients don't send
// anything meaningful on this stream) so gorilla/websocket's control
// frame handling and close detection keep working.
func (s *Server) readLoopDiscardingInput(conn *streamConn) {
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			conn.close()
			return
		}
	}
}

// keepAlive pings the connection on an interval until it closes,
// blocking the handler goroutine for the lifetime of the stream.
func (s *Server) keepAlive(conn *streamConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.closeCh:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				conn.close()
				return
			}
		}
	}
}
