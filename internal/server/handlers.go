package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/runner"
	"github.com/Kintoyyy/codeshum-backend/internal/session"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"
)

const maxRunBody = 4 << 20

// MessageStarted acknowledges a run whose output follows on the WebSocket.
const MessageStarted = "Execution started, check the WebSocket for live output."

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Connect ---

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, s.log)
	id, err := s.sessions.Create(c)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting connection")
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		conn.WriteJSON(protocol.ErrorFrame(err.Error()))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached"))
		conn.Close()
		return
	}
	c.log = s.log.With().Str("session", id).Logger()

	// Nothing can reach the session before its id is handed out, so the
	// handshake is always the first frame.
	if err := c.sendJSON(protocol.Handshake{UserID: id}); err != nil {
		s.sessions.Destroy(id)
		conn.Close()
		return
	}

	s.track(c)
	go c.writePump()

	c.readPump(func(raw []byte) { s.handleInbound(c, id, raw) })

	// Detach first so output still in flight is discarded, then tear down.
	c.close()
	s.sessions.Destroy(id)
	s.limiter.Forget(id)
	s.untrack(c)
}

func (s *Server) handleInbound(c *client, id string, raw []byte) {
	msg, err := protocol.ParseInbound(raw)
	if err != nil {
		c.sendJSON(protocol.ErrorFrame(err.Error()))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		s.sessions.Touch(id)
	case protocol.TypeInput:
		delivered, err := s.sessions.Input(id, msg.Command)
		if err != nil {
			c.log.Debug().Err(err).Msg("input not delivered")
			return
		}
		if !delivered {
			c.log.Debug().Msg("input dropped, nothing running")
		}
	}
}

// --- Submit+Run ---

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRunBody)

	var req protocol.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if _, err := s.sessions.Get(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.limiter.Allow(req.SessionID) {
		writeError(w, http.StatusTooManyRequests, "too many run requests, slow down")
		return
	}

	out, err := s.pipeline.Submit(r.Context(), &req)
	if err != nil {
		var verr *protocol.ValidationError
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, runner.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log.Error().Err(err).Str("session", req.SessionID).Msg("run failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if out.CompileFailed() {
		ev := protocol.CompileFailed(out.Build.Output, out.Build.Diagnostics).Outbound()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "compilation failed",
			"message":     ev.Message,
			"diagnostics": out.Build.Diagnostics,
			"runId":       out.RunID,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": MessageStarted,
		"runId":   out.RunID,
	})
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	killed, err := s.sessions.Kill(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"killed": killed})
}

// --- Run history ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	opts := storage.RunListOptions{
		SessionID: r.URL.Query().Get("session"),
		Status:    storage.RunStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	runs, err := s.history.ListRuns(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	run, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}
