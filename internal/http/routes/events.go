package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/farmstay/cache"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const writeWait = 10 * time.Second

// handleEvents streams bus events to the client as JSON text frames until
// either side hangs up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log := hlog.FromRequest(r)

	var scope string
	if c, err := r.Cookie(s.Sess.Cookie.Name); err == nil && c.Value != "" {
		scope = cache.SessionScope(c.Value)
	}

	evs, unsubscribe := s.Bus.Subscribe(16)
	defer unsubscribe()
	log.Debug().Int("subscribers", s.Bus.Subscribers()).Msg("[ws] client connected")

	// Incoming messages are ignored; reading only notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer ws.Close()
	for {
		select {
		case <-done:
			log.Debug().Msg("[ws] client disconnected")
			return
		case e, ok := <-evs:
			if !ok {
				return
			}
			if !e.For(scope) {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("[ws] write failed")
				return
			}
		}
	}
}
