package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/docpilot/docpilot/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

type websocketUpgrader = websocket.Upgrader

func newWebsocketUpgrader() websocketUpgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type wsIncoming struct {
	Message string `json:"message"`
}

type wsOutgoing struct {
	Response  string `json:"response,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebsocket serves a bidirectional chat channel bound to one thread.
// Each received message runs a full turn and the reply carries the final
// response text.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	log := logger.G(r.Context()).WithField("thread_id", threadID)

	conn, err := s.upgrades.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.resolveThread(r.Context(), threadID)

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var incoming wsIncoming
		if err := conn.ReadJSON(&incoming); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("websocket read failed")
			} else {
				log.Info("websocket disconnected")
			}
			return
		}
		if incoming.Message == "" {
			continue
		}

		response, err := s.session.Chat(r.Context(), threadID, incoming.Message)

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		var outgoing wsOutgoing
		if err != nil {
			outgoing.Error = err.Error()
		} else {
			outgoing.Response = response
			outgoing.Timestamp = time.Now().Format(time.RFC3339)
		}
		if err := conn.WriteJSON(outgoing); err != nil {
			log.WithError(err).Warn("websocket write failed")
			return
		}
	}
}
