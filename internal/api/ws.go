package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// same-host UI only; the socket carries no sensitive input
	CheckOrigin: func(*http.Request) bool { return true },
}

// statusWS streams task snapshots to a browser client. The client sends
// nothing after connecting; reads only detect disconnect. Each connection
// holds one hub subscription with latest-wins delivery, so reconnect storms
// cost one mailbox each and drop cleanly.
func (s *Server) statusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.orch.Hub().Subscribe()
	defer sub.Close()
	defer conn.Close()

	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("status subscriber connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				s.log.Debug().Err(err).Msg("status subscriber write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.log.Debug().Err(err).Msg("status subscriber ping failed")
				return
			}
		}
	}
}
