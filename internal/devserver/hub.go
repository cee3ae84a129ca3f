package devserver

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

// Live reload event names.
const (
	EventReload     = "reload"
	EventBuildError = "build-error"
)

// Message is one live reload event.
type Message struct {
	Event   string `json:"-"`
	BuildID string `json:"build_id,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Hub broadcasts live reload events to connected SSE clients. Broadcasts
// never block on slow clients; a client whose buffer is full is dropped and
// reconnects on its own.
type Hub struct {
	mu        sync.RWMutex
	nextID    int
	clients   map[int]*hubClient
	closed    bool
	lastError *Message
	recorder  metrics.Recorder
	logger    *slog.Logger
	heartbeat time.Duration
}

type hubClient struct {
	id   int
	ch   chan Message
	done chan struct{}
}

// NewHub creates a hub. A nil recorder disables client metrics.
func NewHub(rec metrics.Recorder, logger *slog.Logger) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: map[int]*hubClient{}, recorder: rec, logger: logger, heartbeat: 30 * time.Second}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams events to one client until it disconnects. A client
// connecting while the last build failed receives that error first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	client := &hubClient{ch: make(chan Message, 8), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "live reload shutting down", http.StatusServiceUnavailable)
		return
	}
	client.id = h.nextID
	h.nextID++
	h.clients[client.id] = client
	pending := h.lastError
	count := len(h.clients)
	h.mu.Unlock()
	h.recorder.SetLiveReloadClients(count)
	defer h.removeClient(client.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	send := func(write func() error) bool {
		if err := write(); err != nil {
			h.logger.Debug("Live reload write failed", logfields.Error(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(func() error { _, err := bw.WriteString(": connected\n\n"); return err }) {
		return
	}
	if pending != nil && !send(func() error { return writeEvent(bw, *pending) }) {
		return
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case <-hb.C:
			if !send(func() error { _, err := bw.WriteString(": ping\n\n"); return err }) {
				return
			}
		case msg := <-client.ch:
			if !send(func() error { return writeEvent(bw, msg) }) {
				return
			}
		}
	}
}

func writeEvent(bw *bufio.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = bw.WriteString("event: " + msg.Event + "\ndata: " + string(data) + "\n\n")
	return err
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.recorder.SetLiveReloadClients(count)
	}
}

// Broadcast sends msg to every client. A build-error is replayed to clients
// connecting later until the next reload clears it.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	switch msg.Event {
	case EventBuildError:
		m := msg
		h.lastError = &m
	case EventReload:
		h.lastError = nil
	}
	snapshot := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- msg:
		default:
			dropped++
			h.removeClient(c.id)
		}
	}
	h.logger.Debug("Live reload broadcast",
		slog.String("event", msg.Event),
		logfields.BuildID(msg.BuildID),
		logfields.Count(len(snapshot)),
		slog.Int("dropped", dropped))
}

// Shutdown disconnects all clients and stops further broadcasts.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*hubClient{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetLiveReloadClients(0)
}

// ClientScript connects a page to the live reload stream. It reloads on
// successful builds and overlays build errors until the next one.
const ClientScript = `(() => {
  if (window.__ASSETBUILDER_LR__) return;
  window.__ASSETBUILDER_LR__ = true;
  const overlayID = '__assetbuilder_error';
  function showError(msg) {
    let el = document.getElementById(overlayID);
    if (!el) {
      el = document.createElement('pre');
      el.id = overlayID;
      el.style.cssText = 'position:fixed;inset:0;margin:0;padding:2em;z-index:2147483647;overflow:auto;background:rgba(24,24,24,.95);color:#ff6b6b;font:14px/1.4 monospace;white-space:pre-wrap';
      document.body.appendChild(el);
    }
    el.textContent = 'Build failed\n\n' + msg;
  }
  function connect() {
    const es = new EventSource('/__livereload');
    es.addEventListener('reload', () => location.reload());
    es.addEventListener('build-error', (e) => {
      try { showError(JSON.parse(e.data).error || 'unknown error'); } catch (_) {}
    });
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`
