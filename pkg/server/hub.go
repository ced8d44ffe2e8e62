package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/norasector/cyclone/pkg/lmr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is one JSON message broadcast to every connected client.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type client struct {
	conn     *websocket.Conn
	messages chan []byte
	id       string
}

// Hub fans decoded receiver events out to websocket clients: call
// grants, call ends, system information and the periodic status line.
type Hub struct {
	port       int
	clients    map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	logger     zerolog.Logger
	mu         sync.RWMutex
}

func NewHub(port int, logger *zerolog.Logger) *Hub {
	h := &Hub{
		port:       port,
		clients:    make(map[*client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     log.Logger,
	}
	if logger != nil {
		h.logger = *logger
	}
	return h
}

// Run serves the websocket endpoint and pumps broadcasts until the
// context closes.
func (h *Hub) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug().Str("client", c.id).Msg("websocket client registered")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.messages)
			}
			h.mu.Unlock()
			h.logger.Debug().Str("client", c.id).Msg("websocket client unregistered")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal event")
				continue
			}

			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.messages <- data:
				default:
					// Client buffer full, skip.
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.messages)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return srv.Shutdown(context.Background())

		case err := <-errChan:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	}
}

func (h *Hub) handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		c := &client{conn: conn, messages: make(chan []byte, 256), id: r.RemoteAddr}
		h.register <- c

		// Reader: drain to detect close.
		go func() {
			defer func() {
				h.unregister <- c
				_ = c.conn.Close()
			}()
			c.conn.SetReadLimit(1024)
			for {
				if _, _, err := c.conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// Writer loop.
		go func() {
			for msg := range c.messages {
				_ = c.conn.WriteMessage(websocket.TextMessage, msg)
			}
		}()
	})
}

// Broadcast enqueues an event, dropping it if the pump is saturated.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("broadcast channel full, dropping event")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastGrant(grant *lmr.CallGrant) {
	h.Broadcast(Event{
		Type:      "call_grant",
		Timestamp: grant.Timestamp,
		Data: map[string]interface{}{
			"system_id":  grant.SystemID,
			"tgid":       grant.TalkGroup,
			"radio_id":   grant.RadioID,
			"frequency":  grant.Frequency,
			"call_type":  grant.Type.String(),
			"priority":   grant.Priority,
			"encrypted":  grant.Encrypted,
			"encryption": grant.Encryption.String(),
		},
	})
}

func (h *Hub) BroadcastCallEnd(end *lmr.CallEnd) {
	h.Broadcast(Event{
		Type:      "call_end",
		Timestamp: end.Timestamp,
		Data: map[string]interface{}{
			"system_id": end.SystemID,
			"tgid":      end.TalkGroup,
		},
	})
}

func (h *Hub) BroadcastSystemInfo(info *lmr.SystemInfo) {
	h.Broadcast(Event{
		Type:      "system_info",
		Timestamp: info.Timestamp,
		Data: map[string]interface{}{
			"system_id":     info.SystemID,
			"type":          string(info.Type),
			"nac":           info.NAC,
			"mcc":           info.MCC,
			"mnc":           info.MNC,
			"color_code":    info.ColorCode,
			"location_area": info.LocationArea,
			"network_name":  info.NetworkName,
			"emergency":     info.Emergency,
		},
	})
}

func (h *Hub) BroadcastText(text *lmr.TextEvent) {
	h.Broadcast(Event{
		Type:      "text",
		Timestamp: text.Timestamp,
		Data: map[string]interface{}{
			"system_id":   text.SystemID,
			"source":      text.Source,
			"destination": text.Destination,
			"text":        text.Text,
		},
	})
}

// BroadcastStatus publishes the periodic receiver status document.
func (h *Hub) BroadcastStatus(status interface{}) {
	h.Broadcast(Event{
		Type: "status",
		Data: map[string]interface{}{
			"status": status,
		},
	})
}
