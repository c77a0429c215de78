package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/arbiter/internal/observe"
)

// Frame types of the WebSocket protocol.
const (
	frameChat  = "chat"
	frameReset = "reset"
	frameError = "error"
)

// wsFrame is a client message: {"type":"chat","query":"..."} or
// {"type":"reset"}.
type wsFrame struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

// wsReply answers one frame. Chat and reset replies carry the panel state.
type wsReply struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
	*ChatResult
}

// handleWS handles GET /ws. Each connection owns one session, closed when
// the connection ends. The displayed history is kept per connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the response.
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.Logger(ctx)

	id, a := s.sessions.Open("")
	defer s.sessions.Close(id)
	log.Info("web: websocket session opened", "session_id", id)

	panel := Reset()
	for {
		var f wsFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("web: websocket session closed", "session_id", id)
			default:
				log.Debug("web: websocket read failed", "session_id", id, "err", err)
			}
			return
		}

		reply := wsReply{Type: f.Type, SessionID: id}
		switch f.Type {
		case frameChat:
			res, err := Chat(ctx, a, f.Query, panel.History, panel.Context)
			if err != nil {
				log.Error("web: chat turn failed", "session_id", id, "err", err)
				_, msg := classify(err)
				reply.Type, reply.Error = frameError, msg
				break
			}
			panel = res
			reply.ChatResult = &res
		case frameReset:
			a.Reset()
			panel = Reset()
			reply.ChatResult = &panel
		default:
			reply.Type, reply.Error = frameError, "unknown frame type "+strconv.Quote(f.Type)
		}

		if err := wsjson.Write(ctx, conn, reply); err != nil {
			if !errors.Is(err, ctx.Err()) {
				log.Debug("web: websocket write failed", "session_id", id, "err", err)
			}
			return
		}
	}
}
