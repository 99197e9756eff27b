// Package server exposes a Controller over HTTP: state, connect and
// disconnect, raw and locker commands, and a WebSocket event stream.
//
//	GET  /health
//	GET  /api/v1/state
//	POST /api/v1/connect
//	POST /api/v1/disconnect
//	POST /api/v1/commands                 {"text": "O01T"}
//	POST /api/v1/lockers/{slot}/{action}  action: checkin|checkout|door|empty
//	POST /api/v1/battery/{level}          level: low|high
//	GET  /api/v1/events                   WebSocket, one JSON event per message
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dosgo/btLocker/comm"
	"dosgo/btLocker/locker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const pingInterval = 20 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server holds handler dependencies.
type Server struct {
	ctl    comm.Controller
	events comm.Subscriber
	log    *zap.Logger
}

// StateResponse is the body of state-reporting endpoints.
type StateResponse struct {
	Target string `json:"target"`
	State  string `json:"state"`
}

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Text string `json:"text"`
}

// CommandResponse reports a command that was written to the link.
type CommandResponse struct {
	Command string `json:"command"`
	Status  string `json:"status"`
}

// EventMessage is one WebSocket frame. Board replies are classified.
type EventMessage struct {
	comm.Event
	Reply string `json:"reply,omitempty"`
	Slot  string `json:"slot,omitempty"`
}

func newEventMessage(e comm.Event) EventMessage {
	m := EventMessage{Event: e}
	if e.Kind != comm.EventMessage {
		return m
	}
	if r := locker.ParseReply(e.Text); r.Kind != locker.ReplyUnknown {
		m.Reply, m.Slot = r.Kind.String(), r.Slot
	}
	return m
}

// NewRouter wires all routes and returns a http.Handler.
func NewRouter(ctl comm.Controller, events comm.Subscriber, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{ctl: ctl, events: events, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogging(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Post("/connect", s.connect)
		r.Post("/disconnect", s.disconnect)
		r.Post("/commands", s.command)
		r.Post("/lockers/{slot}/{action}", s.locker)
		r.Post("/battery/{level}", s.battery)
		r.Get("/events", s.eventStream)
	})
	return r
}

func (s *Server) stateResponse() StateResponse {
	return StateResponse{Target: s.ctl.Target(), State: s.ctl.State().String()}
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) connect(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Connect(); err != nil {
		switch {
		case errors.Is(err, comm.ErrTransportUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, comm.ErrTargetNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, s.stateResponse())
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	s.ctl.Disconnect()
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.send(w, req.Text)
}

func (s *Server) locker(w http.ResponseWriter, r *http.Request) {
	action := locker.Action(chi.URLParam(r, "action"))
	cmd, err := locker.Command(action, chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.send(w, cmd)
}

func (s *Server) battery(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "level") {
	case "low":
		s.send(w, locker.Battery(true))
	case "high":
		s.send(w, locker.Battery(false))
	default:
		writeError(w, http.StatusBadRequest, "level must be low or high")
	}
}

// send writes cmd if the link is up. The state check is advisory: a link
// lost in between still drops the command silently.
func (s *Server) send(w http.ResponseWriter, cmd string) {
	if st := s.ctl.State(); st != comm.StateConnected {
		writeError(w, http.StatusConflict, "link is "+st.String())
		return
	}
	s.ctl.SendCommand(cmd)
	writeJSON(w, http.StatusAccepted, CommandResponse{Command: cmd, Status: "sent"})
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("server: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.events.Subscribe()
	defer unsub()

	// Drain client frames so close and pong control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(newEventMessage(evt)); err != nil {
				s.log.Debug("server: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func withLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("server",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message, "code": code})
}
