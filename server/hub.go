package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"heatsim/model"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// client is one websocket connection following at most one session.
type client struct {
	conn    *websocket.Conn
	session string
	send    chan model.Msg
	stop    <-chan struct{}
}

type subscription struct {
	c       *client
	session string
}

// Hub fans session updates out to the websocket clients that follow them.
// All client bookkeeping happens on the Run goroutine.
type Hub struct {
	register   chan *client
	unregister chan *client
	subscribe  chan subscription
	updates    chan model.ProgressUpdate
	stop       chan struct{}

	clients map[*client]struct{}
	sessions map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		subscribe:  make(chan subscription),
		updates:    make(chan model.ProgressUpdate, 256),
		stop:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		sessions:   make(map[string]map[*client]struct{}),
	}
}

// Notify queues an update for delivery. It never blocks; updates are dropped
// when the hub is saturated.
func (h *Hub) Notify(u model.ProgressUpdate) {
	select {
	case h.updates <- u:
	default:
		log.WithField("session", u.Session).Debug("hub saturated, progress update dropped")
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.unfollow(c)
				delete(h.clients, c)
				close(c.send)
			}
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.c]; !ok {
				continue
			}
			h.unfollow(sub.c)
			sub.c.session = sub.session
			if h.sessions[sub.session] == nil {
				h.sessions[sub.session] = make(map[*client]struct{})
			}
			h.sessions[sub.session][sub.c] = struct{}{}
		case u := <-h.updates:
			msg, err := progressMsg(u)
			if err != nil {
				log.WithError(err).Warn("encode progress")
				continue
			}
			for c := range h.sessions[u.Session] {
				select {
				case c.send <- msg:
				default:
					// slow reader
				}
			}
		case <-h.stop:
			for c := range h.clients {
				c.conn.Close()
			}
			return
		}
	}
}

// Stop ends Run and closes every client connection.
func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) newClient(conn *websocket.Conn) (*client, bool) {
	c := &client{conn: conn, send: make(chan model.Msg, sendBuffer), stop: h.stop}
	select {
	case h.register <- c:
		return c, true
	case <-h.stop:
		return nil, false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

func (h *Hub) follow(c *client, session string) {
	select {
	case h.subscribe <- subscription{c: c, session: session}:
	case <-h.stop:
	}
}

func (h *Hub) unfollow(c *client) {
	if c.session == "" {
		return
	}
	if set := h.sessions[c.session]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, c.session)
		}
	}
	c.session = ""
}

func progressMsg(u model.ProgressUpdate) (model.Msg, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return model.Msg{}, err
	}
	return model.Msg{Type: "progress", Content: data}, nil
}

func errorMsg(text string) model.Msg {
	data, _ := json.Marshal(map[string]string{"error": text})
	return model.Msg{Type: "error", Content: data}
}

// writePump is the only writer on c.conn.
func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(&msg); err != nil {
				log.WithError(err).Debug("websocket write")
				return
			}
		case <-c.stop:
			return
		}
	}
}
