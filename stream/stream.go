// Package stream pushes session and album events to browsers over
// server-sent events.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxConcurrentConnections caps open event streams.
	MaxConcurrentConnections = 1000
	// ClientChannelBuffer is the per-client queue length.
	ClientChannelBuffer = 64
	// KeepAliveInterval is how often an idle stream gets a comment line.
	KeepAliveInterval = 30 * time.Second
	// HubBroadcastBuffer is the publish queue length.
	HubBroadcastBuffer = 256
)

// Event types.
const (
	EventConnected     = "connected"
	EventSessionLoaded = "session.loaded"
	EventAlbumCreated  = "album.created"
	EventAlbumDeleted  = "album.deleted"
	EventAlbumUpdated  = "album.updated"
)

// Event is one message sent to every subscriber.
type Event struct {
	Type    string `json:"type"`
	AlbumID string `json:"album_id,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

type client struct {
	id         string
	remoteAddr string
	connected  time.Time
	sent       int64
}

// Stats is a snapshot of hub counters.
type Stats struct {
	ActiveConnections   int64 `json:"active_connections"`
	TotalMessages       int64 `json:"total_messages"`
	MaxConnections      int64 `json:"max_connections"`
	DroppedBroadcasts   int64 `json:"dropped_broadcasts"`
	DroppedClientMsgs   int64 `json:"dropped_client_msgs"`
	RejectedConnections int64 `json:"rejected_connections"`
}

// Hub fans published events out to connected clients. Publishing never
// blocks; events are dropped when a queue is full.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[chan Event]*client
	closed  bool

	broadcast chan Event
	shutdown  chan struct{}
	once      sync.Once
	nextID    int64

	totalMessages     int64
	droppedBroadcasts int64
	droppedClientMsgs int64
	rejectedConns     int64
}

// NewHub starts a hub. Call Shutdown to stop it.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		log:       log,
		clients:   make(map[chan Event]*client),
		broadcast: make(chan Event, HubBroadcastBuffer),
		shutdown:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	active := int64(len(h.clients))
	h.mu.RUnlock()
	return Stats{
		ActiveConnections:   active,
		TotalMessages:       atomic.LoadInt64(&h.totalMessages),
		MaxConnections:      MaxConcurrentConnections,
		DroppedBroadcasts:   atomic.LoadInt64(&h.droppedBroadcasts),
		DroppedClientMsgs:   atomic.LoadInt64(&h.droppedClientMsgs),
		RejectedConnections: atomic.LoadInt64(&h.rejectedConns),
	}
}

// Publish enqueues e for fan-out. A nil hub ignores the call.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- e:
	default:
		atomic.AddInt64(&h.droppedBroadcasts, 1)
	}
}

// subscribe registers a new client queue. It returns nil when the hub is at
// capacity or shut down.
func (h *Hub) subscribe(remoteAddr string) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= MaxConcurrentConnections {
		atomic.AddInt64(&h.rejectedConns, 1)
		h.log.Warn().Str("remote", remoteAddr).Int("limit", MaxConcurrentConnections).Msg("rejecting event stream")
		return nil
	}
	ch := make(chan Event, ClientChannelBuffer)
	c := &client{
		id:         fmt.Sprintf("%d-%s", atomic.AddInt64(&h.nextID, 1), remoteAddr),
		remoteAddr: remoteAddr,
		connected:  time.Now(),
	}
	h.clients[ch] = c
	h.log.Debug().Str("client", c.id).Int("total", len(h.clients)).Msg("event stream connected")
	return ch
}

// unsubscribe removes ch and closes it. Unknown channels are ignored.
func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[ch]
	if !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
	h.log.Debug().
		Str("client", c.id).
		Int64("sent", atomic.LoadInt64(&c.sent)).
		Dur("connected_for", time.Since(c.connected)).
		Int("total", len(h.clients)).
		Msg("event stream disconnected")
}

func (h *Hub) run() {
	for {
		select {
		case e := <-h.broadcast:
			h.mu.RLock()
			for ch, c := range h.clients {
				select {
				case ch <- e:
					atomic.AddInt64(&c.sent, 1)
					atomic.AddInt64(&h.totalMessages, 1)
				default:
					atomic.AddInt64(&h.droppedClientMsgs, 1)
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			return
		}
	}
}

// Shutdown stops the fan-out loop and disconnects every client.
func (h *Hub) Shutdown() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		close(h.shutdown)
		h.mu.Lock()
		h.closed = true
		for ch := range h.clients {
			delete(h.clients, ch)
			close(ch)
		}
		h.mu.Unlock()
		h.log.Info().Msg("event hub stopped")
	})
}

// ServeHTTP streams events to the caller until they disconnect or the hub
// shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := h.subscribe(r.RemoteAddr)
	if ch == nil {
		http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("Content-Encoding")

	writeEvent(w, Event{Type: EventConnected})
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case e, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, e Event) error {
	_, err := io.WriteString(w, formatSSEResponse(e))
	return err
}

func formatSSEResponse(e Event) string {
	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data)
}
