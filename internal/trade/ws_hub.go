// Package trade — WebSocket hub for real-time market broadcasting.
package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terravia/biome-engine/internal/biome"
	"github.com/terravia/biome-engine/internal/metrics"
	"github.com/terravia/biome-engine/internal/model"
)

// Subscription topics. Clients subscribe to everything or to one biome.
const TopicAllMarkets = "all_markets"

// MarketTopic returns the single-biome subscription topic.
func MarketTopic(b biome.Biome) string {
	return "market:" + b.String()
}

// Push message types.
const (
	PushTypeRedistribution = "redistribution"
	PushTypeTrade          = "trade"
)

// Connection tuning.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// MarketSnapshot is the per-market state included in push payloads.
type MarketSnapshot struct {
	Biome    biome.Biome `json:"biome"`
	Price    string      `json:"price"`
	CashPool string      `json:"cash_pool"`
}

// PushMessage is a JSON message sent to WebSocket subscribers. Delivery is
// best-effort: clients resync via GET /markets on (re)connect.
type PushMessage struct {
	Type            string                 `json:"type"`
	Markets         []MarketSnapshot       `json:"markets"`
	Redistributions []model.Redistribution `json:"redistributions,omitempty"`
}

// subscriber owns one connection. All writes to the conn happen in its
// writePump goroutine; the hub only ever touches the send channel.
type subscriber struct {
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

type envelope struct {
	topic string
	data  []byte
}

// Hub manages WebSocket subscribers grouped by topic and fans out market
// updates. The hub loop never writes to a connection: delivery hands the
// payload to the subscriber's buffered send channel, so a slow or dead
// subscriber is dropped without delaying the rest.
type Hub struct {
	clients    map[*subscriber]struct{}
	broadcast  chan envelope
	register   chan *subscriber
	unregister chan *subscriber
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*subscriber]struct{}),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.clients[sub] = struct{}{}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "topic", sub.topic, "total", len(h.clients))

		case sub := <-h.unregister:
			h.drop(sub)

		case env := <-h.broadcast:
			for sub := range h.clients {
				if sub.topic != env.topic {
					continue
				}
				select {
				case sub.send <- env.data:
				default:
					// Send buffer full: the peer is not keeping up.
					h.drop(sub)
				}
			}
		}
	}
}

// drop removes a subscriber and closes its send channel, which ends its
// writePump. Safe to call twice for the same subscriber.
func (h *Hub) drop(sub *subscriber) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	close(sub.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// publish enqueues a message for one topic. Non-blocking: drops the message
// if the buffer is full rather than stalling the caller.
func (h *Hub) publish(topic string, msg PushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{topic: topic, data: data}:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

// PublishCycle fans out a completed redistribution cycle: the full changed
// set to all_markets subscribers, and per-biome slices to market topics.
func (h *Hub) PublishCycle(markets []model.Market, redistributions []model.Redistribution) {
	snapshots := toSnapshots(markets)
	h.publish(TopicAllMarkets, PushMessage{
		Type:            PushTypeRedistribution,
		Markets:         snapshots,
		Redistributions: redistributions,
	})

	byBiome := make(map[biome.Biome]model.Redistribution, len(redistributions))
	for _, r := range redistributions {
		byBiome[r.Biome] = r
	}
	for i, m := range markets {
		msg := PushMessage{
			Type:    PushTypeRedistribution,
			Markets: snapshots[i : i+1],
		}
		if r, ok := byBiome[m.Biome]; ok {
			msg.Redistributions = []model.Redistribution{r}
		}
		h.publish(MarketTopic(m.Biome), msg)
	}
}

// PublishTrade fans out a single market's post-trade state.
func (h *Hub) PublishTrade(m model.Market) {
	snapshots := toSnapshots([]model.Market{m})
	msg := PushMessage{Type: PushTypeTrade, Markets: snapshots}
	h.publish(TopicAllMarkets, msg)
	h.publish(MarketTopic(m.Biome), msg)
}

func toSnapshots(markets []model.Market) []MarketSnapshot {
	snapshots := make([]MarketSnapshot, 0, len(markets))
	for _, m := range markets {
		snapshots = append(snapshots, MarketSnapshot{
			Biome:    m.Biome,
			Price:    m.Price.String(),
			CashPool: m.CashPool.String(),
		})
	}
	return snapshots
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// The topic query parameter selects the subscription: "all_markets"
// (default) or "market:{biome}".
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = TopicAllMarkets
	}
	if topic != TopicAllMarkets {
		name, ok := strings.CutPrefix(topic, "market:")
		if !ok {
			http.Error(w, "unknown topic", http.StatusBadRequest)
			return
		}
		if _, err := biome.Parse(name); err != nil {
			http.Error(w, "unknown biome topic", http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	sub := &subscriber{conn: conn, topic: topic, send: make(chan []byte, sendBuffer)}
	h.register <- sub

	go sub.writePump()
	go sub.readPump(h)
}

// writePump serializes all writes to the connection: broadcast payloads and
// keepalive pings. Every write carries a deadline, so a stalled peer fails
// its own pump instead of blocking anyone else. Exits when the hub closes
// the send channel or a write fails.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive and detects disconnects.
func (s *subscriber) readPump(h *Hub) {
	defer func() {
		h.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}
