// Package viewer serves a live view of the training loop: a JSON status
// endpoint, a websocket stream of status frames and finished games, and
// a minimal HTML page that renders them.
package viewer

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tyrochess/tyro/selfplay"
)

// Stats is one status frame.
type Stats struct {
	Status      string  `json:"status"`
	Generation  uint32  `json:"generation"`
	BufferCount int64   `json:"buffer_count"`
	BufferSize  int     `json:"buffer_size"`
	GamesPlayed int64   `json:"games_played"`
	Partials    []int64 `json:"partials"`
	TNs         int64   `json:"t_ns"`
}

// wsFrame is what goes over the websocket: either a status frame or a
// finished game.
type wsFrame struct {
	Type  string `json:"type"` // "status" or "game"
	Stats *Stats `json:"stats,omitempty"`
	PGN   string `json:"pgn,omitempty"`
}

// Server is the viewer HTTP server.
type Server struct {
	addr  string
	stats func() Stats

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

// New builds a server on addr backed by the given stats source.
func New(addr string, stats func() Stats) *Server {
	return &Server{
		addr:    addr,
		stats:   stats,
		clients: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NotifyGame pushes a finished game to all connected clients.
func (s *Server) NotifyGame(g selfplay.FinishedGame) {
	s.broadcast(wsFrame{Type: "game", PGN: g.PGN})
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go s.statusLoop(ctx)

	log.Printf("[viewer] listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.stats()
			s.broadcast(wsFrame{Type: "status", Stats: &st})
		}
	}
}

func (s *Server) broadcast(frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	st := s.stats()
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[viewer] ws upgrade: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain reads so pings and close frames are processed; broadcasts
	// happen from the status loop and NotifyGame.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!doctype html>
<html>
<head><title>tyro</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
#status { white-space: pre; margin-bottom: 1em; }
#games div { border-top: 1px solid #333; padding: 0.5em 0; }
</style>
</head>
<body>
<h3>tyro training loop</h3>
<div id="status">connecting...</div>
<div id="games"></div>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const f = JSON.parse(ev.data);
  if (f.type === "status") {
    const s = f.stats;
    document.getElementById("status").textContent =
      "status: " + s.status +
      "\ngeneration: " + s.generation +
      "\nbuffer: " + s.buffer_count + " / " + s.buffer_size +
      "\ngames: " + s.games_played +
      "\npartials: " + (s.partials || []).join(" ");
  } else if (f.type === "game") {
    const d = document.createElement("div");
    d.textContent = f.pgn;
    const games = document.getElementById("games");
    games.prepend(d);
    while (games.children.length > 20) games.removeChild(games.lastChild);
  }
};
</script>
</body>
</html>
`
