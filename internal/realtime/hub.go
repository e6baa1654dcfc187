// Package realtime streams order status changes to websocket watchers.
//
// A watcher follows exactly one order. The escrow engine calls NotifyOrder
// after every committed transition and the hub forwards the event to the
// watchers of that order. Delivery is best effort: clients that fall
// behind are disconnected and are expected to re-read the order.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wiredan/wiredan/internal/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Limits bounds how many sockets the hub keeps open.
type Limits struct {
	MaxWatchers int // across all orders
	MaxPerOrder int
}

// DefaultLimits is what NewHub uses.
var DefaultLimits = Limits{MaxWatchers: 10000, MaxPerOrder: 8}

// Event is one status change on an order.
type Event struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Watchers  int   `json:"watchers"`
	Orders    int   `json:"orders"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Evicted   int64 `json:"evicted"`
}

type watcher struct {
	orderID string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub indexes watchers by order and fans events out to them.
type Hub struct {
	logger *slog.Logger
	limits Limits

	events chan Event
	join   chan *watcher
	leave  chan *watcher
	done   chan struct{}

	mu     sync.RWMutex
	orders map[string]map[*watcher]struct{}
	count  int

	published atomic.Int64
	dropped   atomic.Int64
	evicted   atomic.Int64

	upgrader websocket.Upgrader
}

// NewHub creates a hub with DefaultLimits.
func NewHub(logger *slog.Logger) *Hub {
	return NewHubWithLimits(logger, DefaultLimits)
}

// NewHubWithLimits creates a hub with explicit socket limits.
func NewHubWithLimits(logger *slog.Logger, limits Limits) *Hub {
	return &Hub{
		logger: logger,
		limits: limits,
		events: make(chan Event, 256),
		join:   make(chan *watcher),
		leave:  make(chan *watcher),
		done:   make(chan struct{}),
		orders: make(map[string]map[*watcher]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}
}

// sameOrigin admits non-browser clients and pages served from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Run owns the watcher index until ctx is cancelled. On exit every socket
// is sent a close frame.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("order stream hub started")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.orders {
				for w := range set {
					close(w.send)
				}
			}
			h.orders = make(map[string]map[*watcher]struct{})
			h.count = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("order stream hub stopped")
			return

		case w := <-h.join:
			h.add(w)

		case w := <-h.leave:
			h.remove(w)

		case ev := <-h.events:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) add(w *watcher) {
	h.mu.Lock()
	set := h.orders[w.orderID]
	if set == nil {
		set = make(map[*watcher]struct{})
		h.orders[w.orderID] = set
	}
	set[w] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("order watcher joined", "order_id", w.orderID, "watchers", n)
}

// remove drops w from the index and closes its queue. It reports whether
// w was still registered.
func (h *Hub) remove(w *watcher) bool {
	h.mu.Lock()
	set, ok := h.orders[w.orderID]
	if ok {
		_, ok = set[w]
	}
	if ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.orders, w.orderID)
		}
		close(w.send)
		h.count--
	}
	n := h.count
	h.mu.Unlock()

	if ok {
		metrics.ActiveWebSocketClients.Set(float64(n))
	}
	return ok
}

func (h *Hub) fanOut(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode order event", "order_id", ev.OrderID, "error", err)
		return
	}

	h.mu.RLock()
	var lagging []*watcher
	for w := range h.orders[ev.OrderID] {
		select {
		case w.send <- msg:
		default:
			lagging = append(lagging, w)
		}
	}
	h.mu.RUnlock()

	for _, w := range lagging {
		if h.remove(w) {
			h.evicted.Add(1)
			h.logger.Debug("evicted lagging order watcher", "order_id", w.orderID)
		}
	}
}

// NotifyOrder queues an event for orderID's watchers. It never blocks the
// caller; a full queue drops the event.
func (h *Hub) NotifyOrder(orderID, event string, data any) {
	ev := Event{Type: event, OrderID: orderID, Timestamp: time.Now().UTC(), Data: data}
	select {
	case h.events <- ev:
		h.published.Add(1)
		metrics.StreamEventsTotal.Inc()
	default:
		h.dropped.Add(1)
		h.logger.Warn("order event queue full, dropping", "order_id", orderID, "type", event)
	}
}

// Stats reports current watcher counts and event totals.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Watchers:  h.count,
		Orders:    len(h.orders),
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
		Evicted:   h.evicted.Load(),
	}
}

func (h *Hub) admit(orderID string) (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.limits.MaxWatchers > 0 && h.count >= h.limits.MaxWatchers {
		return false, "too many connections"
	}
	if h.limits.MaxPerOrder > 0 && len(h.orders[orderID]) >= h.limits.MaxPerOrder {
		return false, "too many watchers for this order"
	}
	return true, ""
}

// ServeOrder upgrades the request to a websocket that receives orderID's
// events. Callers check that the requester may see the order first.
func (h *Hub) ServeOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if ok, reason := h.admit(orderID); !ok {
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("order stream upgrade failed", "order_id", orderID, "error", err)
		return
	}

	wt := &watcher{orderID: orderID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.join <- wt:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writeLoop(wt)
	go h.readLoop(wt)
}

// readLoop only services control frames; watchers never send data.
func (h *Hub) readLoop(w *watcher) {
	defer func() {
		select {
		case h.leave <- w:
		case <-h.done:
		}
		_ = w.conn.Close()
	}()

	w.conn.SetReadLimit(1024)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := w.conn.NextReader(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("order stream read ended", "order_id", w.orderID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(w *watcher) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case msg, open := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = w.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("order stream write failed", "order_id", w.orderID, "error", err)
				return
			}
		case <-ping.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
