package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

// Any origin may stream, matching the CORS policy of the JSON endpoints.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleStatusStream pushes the job view every time it changes and closes
// once the job is terminal or no longer exists.
func (s *Server) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	log := s.logger.With(logger.FieldJobID, jobID)

	if !s.trackStream() {
		s.writeError(w, http.StatusServiceUnavailable, "Server shutting down")
		return
	}
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}
	defer conn.Close()

	// The read pump only exists to process control frames and notice a
	// client going away.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
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

	poll := time.NewTicker(s.streamInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last []byte
	for {
		done, err := s.pushStatus(conn, jobID, &last)
		if err != nil {
			log.Debugw("Status stream write failed", logger.FieldError, err)
			return
		}
		if done {
			s.closeStream(conn, websocket.CloseNormalClosure, "job finished")
			return
		}

		select {
		case <-s.ctx.Done():
			s.closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-closed:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

// pushStatus sends the current view if it differs from the last one sent.
// done reports that the stream should end.
func (s *Server) pushStatus(conn *websocket.Conn, jobID string, last *[]byte) (done bool, err error) {
	view, err := s.status.Get(s.ctx, jobID)
	if err != nil {
		msg := map[string]string{"error": "Failed to read job status", "job_id": jobID}
		if errors.IsNotFoundError(err) {
			msg["error"] = "Job not found"
		} else if s.ctx.Err() == nil {
			s.logger.Errorw("Status stream read failed", logger.FieldJobID, jobID, logger.FieldError, err)
		}
		return true, s.writeFrame(conn, msg)
	}

	data, err := json.Marshal(view)
	if err != nil {
		return true, errors.Wrap(err, "failed to encode job view")
	}
	if !bytes.Equal(data, *last) {
		*last = data
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return true, err
		}
	}
	return view.Status.IsTerminal(), nil
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
