package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// the bridge only listens on loopback and the shim runs on an
	// extension origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// handleStream pushes eventsCaptured notifications. ?tabId= limits the
// stream to one tab. Delivery is best-effort.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filter := -1
	if v := r.URL.Query().Get("tabId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid tabId", http.StatusBadRequest)
			return
		}
		filter = id
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Failed to upgrade the websocket: %v", err)
		return
	}
	defer ws.Close()

	session := uuid.NewString()
	log := s.Log.WithField("session", session)
	log.Debugf("Stream client connected")

	notes, cancel := s.Engine.Subscribe()
	defer cancel()

	// the read side only handles control frames and notices disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			log.Debugf("Stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case n, ok := <-notes:
			if !ok {
				ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			if filter >= 0 && n.TabID != filter {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(n); err != nil {
				log.Warnf("Failed to write to stream: %v", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
