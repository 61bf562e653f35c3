package logs

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaynode/relaynode/pkg/logbuf"
	"github.com/relaynode/relaynode/pkg/session"
	"github.com/relaynode/relaynode/pkg/utils"
)

// Application close codes sent before the stream starts.
const (
	CloseInvalidRequest  = 4400
	CloseSessionMismatch = 4403
	CloseStreamBusy      = 4409
)

const maxInterval = 10.0

const (
	invalidIntervalText = "interval should be a number between 0 and 10 seconds."
	invalidBacklogText  = "backlog should be an integer between 0 and 1000."
)

// maxBacklog is the retained capacity of the engine log buffer.
const maxBacklog = logbuf.DefaultCapacity

// LogsHandler streams engine log lines to the session owner.
type LogsHandler struct {
	upgrader websocket.Upgrader
	logs     *logbuf.Buffer
	sessions *session.Manager
	config   *StreamConfig
}

// NewLogsHandler creates a stream handler reading from logs.
func NewLogsHandler(logs *logbuf.Buffer, sessions *session.Manager, config *StreamConfig) *LogsHandler {
	if config == nil {
		config = NewDefaultStreamConfig()
	}
	return &LogsHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logs:     logs,
		sessions: sessions,
		config:   config,
	}
}

// Stream handles GET /logs?session_id=<uuid>&interval=<seconds>&backlog=<n>.
//
// Without an interval every line is sent as its own message. With one,
// lines are joined with newlines and flushed at most once per interval.
// backlog replays up to n already buffered lines before live ones.
// The stream ends when the peer goes away or the session is superseded.
func (h *LogsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Log stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	acceptedAt := time.Now()

	query := r.URL.Query()
	token, err := uuid.Parse(query.Get("session_id"))
	if err != nil {
		h.closeWith(conn, CloseInvalidRequest, "session_id should be a valid UUID.")
		return
	}
	sess, err := h.sessions.Match(token)
	if err != nil {
		h.closeWith(conn, CloseSessionMismatch, "Session ID mismatch.")
		return
	}
	interval, ok := parseInterval(query.Get("interval"))
	if !ok {
		h.closeWith(conn, CloseInvalidRequest, invalidIntervalText)
		return
	}
	backlog, ok := parseBacklog(query.Get("backlog"))
	if !ok {
		h.closeWith(conn, CloseInvalidRequest, invalidBacklogText)
		return
	}
	reader, err := h.logs.Attach(backlog)
	if err != nil {
		h.closeWith(conn, CloseStreamBusy, "Another log stream is already open.")
		return
	}
	defer reader.Close()

	streamID := utils.NewStreamID()
	slog.Info("Log stream opened",
		slog.String("stream", streamID),
		slog.String("remote", r.RemoteAddr),
		slog.Duration("interval", interval),
		slog.Int("backlog", backlog))

	h.stream(conn, sess, reader, interval, acceptedAt)

	slog.Info("Log stream closed", slog.String("stream", streamID))
}

func (h *LogsHandler) stream(conn *websocket.Conn, sess *session.Session, reader *logbuf.Reader, interval time.Duration, lastFlush time.Time) {
	gone := h.watchPeer(conn)

	ping := time.NewTicker(h.config.PingPeriod)
	defer ping.Stop()

	var batch strings.Builder
	for {
		select {
		case <-sess.Done():
			h.closeWith(conn, websocket.CloseNormalClosure, "")
			return
		default:
		}

		if interval > 0 && batch.Len() > 0 && time.Since(lastFlush) >= interval {
			if err := h.send(conn, batch.String()); err != nil {
				return
			}
			batch.Reset()
			lastFlush = time.Now()
		}

		changed := reader.Changed()
		line, ok := reader.Pop()
		if !ok {
			timer := time.NewTimer(h.config.PollWait)
			select {
			case <-changed:
			case <-timer.C:
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteWait)); err != nil {
					timer.Stop()
					return
				}
			case <-gone:
				timer.Stop()
				return
			case <-sess.Done():
				timer.Stop()
				h.closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
			timer.Stop()
			continue
		}

		if interval > 0 {
			batch.WriteString(line)
			batch.WriteByte('\n')
			continue
		}
		if err := h.send(conn, line); err != nil {
			return
		}
	}
}

// watchPeer drains inbound frames so control messages are handled, and
// closes the returned channel once the connection fails or the peer closes it.
func (h *LogsHandler) watchPeer(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	conn.SetReadLimit(h.config.MaxMessageSize)
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.Debug("Log stream read failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()
	return gone
}

func (h *LogsHandler) send(conn *websocket.Conn, text string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		slog.Debug("Log stream write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (h *LogsHandler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.config.WriteWait)); err != nil {
		slog.Debug("Log stream close failed", slog.Int("code", code), slog.String("error", err.Error()))
	}
}

// parseInterval returns zero when raw is empty.
func parseInterval(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v > maxInterval {
		return 0, false
	}
	return time.Duration(v * float64(time.Second)), true
}

// parseBacklog returns zero when raw is empty.
func parseBacklog(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxBacklog {
		return 0, false
	}
	return n, true
}
