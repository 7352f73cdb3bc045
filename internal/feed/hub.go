// Package feed is the live websocket event feed. Subscribers connect,
// pick streams and receive everything the workers publish on them. The
// feed is advisory: the read model is the durable view and a dropped
// message is never re-sent.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream names published by the workers.
const (
	StreamEvents        = "events"
	StreamNotifications = "notifications"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	maxMsgSize   = 64 * 1024
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Stream  string `json:"stream"`
	Payload any    `json:"payload"`
}

// subscribeRequest is the only inbound message shape.
type subscribeRequest struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

type subscriber struct {
	id      string
	conn    *websocket.Conn
	streams map[string]bool
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.RWMutex
}

func (s *subscriber) wants(stream string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[stream]
}

func (s *subscriber) setStreams(streams []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string]bool, len(streams))
	for _, stream := range streams {
		s.streams[stream] = true
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.closed) })
}

// Hub upgrades connections and fans published messages out to
// subscribers. Slow subscribers have messages dropped rather than
// blocking the publisher.
type Hub struct {
	upgrader    websocket.Upgrader
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

// ServeHTTP upgrades the request and runs the subscriber until it
// disconnects. New subscribers start subscribed to every stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		streams: map[string]bool{
			StreamEvents:        true,
			StreamNotifications: true,
		},
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", zap.String("subscriber_id", sub.id))

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Publish fans a message out to every subscriber of the stream.
func (h *Hub) Publish(stream string, payload any) {
	data, err := json.Marshal(Message{Stream: stream, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode feed message", zap.String("stream", stream), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.wants(stream) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			h.logger.Warn("subscriber too slow, dropping message",
				zap.String("subscriber_id", sub.id),
				zap.String("stream", stream))
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		sub.close()
		_ = sub.conn.Close()
		delete(h.subscribers, id)
	}
}

func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)

	sub.conn.SetReadLimit(maxMsgSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("subscriber read failed",
					zap.String("subscriber_id", sub.id), zap.Error(err))
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Action != "subscribe" {
			continue
		}
		sub.setStreams(req.Streams)
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.closed:
			return
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(sub)
				return
			}
		case data := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(sub)
				return
			}
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	sub.close()
	_ = sub.conn.Close()

	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()

	h.logger.Debug("subscriber disconnected", zap.String("subscriber_id", sub.id))
}
