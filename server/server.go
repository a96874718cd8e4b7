// Package server exposes the job manager over HTTP and pushes session
// progress to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"heatsim/job"
	"heatsim/model"
	"heatsim/storage"
)

const (
	maxRequestBytes = 1 << 20
	// websocket clients only send small control messages
	maxMessageBytes = 4 << 10
)

type Server struct {
	addr     string
	upgrader websocket.Upgrader
	jobs     *job.Manager
	store    *storage.Store
	hub      *Hub
	http     *http.Server
}

func NewServer(addr string, upgrader websocket.Upgrader, jobs *job.Manager, store *storage.Store, hub *Hub) *Server {
	s := &Server{
		addr:     addr,
		upgrader: upgrader,
		jobs:     jobs,
		store:    store,
		hub:      hub,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler with CORS headers applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.health).Methods("GET")
	r.HandleFunc("/ws", s.serveWs).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/simulate", s.submit).Methods("POST")
	api.HandleFunc("/presets", s.presets).Methods("GET")
	api.HandleFunc("/sessions", s.listSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.getSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/archive", s.archive).Methods("GET")
	return cors(r)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	log.WithField("addr", s.addr).Info("listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// serveWs upgrades the connection and follows the session named by the
// session query parameter or by later subscribe messages.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade")
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	c, ok := s.hub.newClient(conn)
	if !ok {
		conn.Close()
		return
	}
	go c.writePump()
	defer s.hub.remove(c)

	if id := r.URL.Query().Get("session"); id != "" {
		s.follow(c, id)
	}
	for {
		var msg model.Msg
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read")
			}
			return
		}
		switch msg.Type {
		case "subscribe":
			var body struct {
				Session string `json:"session_id"`
			}
			if err := json.Unmarshal(msg.Content, &body); err != nil || body.Session == "" {
				s.reply(c, errorMsg("subscribe needs a session_id"))
				continue
			}
			s.follow(c, body.Session)
		case "ping":
			s.reply(c, model.Msg{Type: "pong"})
		default:
			s.reply(c, errorMsg("unknown message type "+msg.Type))
		}
	}
}

// follow subscribes c to a session and sends its current state.
func (s *Server) follow(c *client, id string) {
	sess, err := s.jobs.Get(id)
	if err != nil {
		s.reply(c, errorMsg(err.Error()))
		return
	}
	s.hub.follow(c, id)
	msg, err := progressMsg(model.ProgressUpdate{
		Session:   sess.ID,
		State:     string(sess.State),
		Progress:  sess.Progress,
		Message:   sess.Message,
		UpdatedAt: sess.UpdatedAt,
	})
	if err == nil {
		s.reply(c, msg)
	}
}

// reply is only called from the connection's read loop, before unregister
// closes c.send.
func (s *Server) reply(c *client, msg model.Msg) {
	select {
	case c.send <- msg:
	default:
	}
}
