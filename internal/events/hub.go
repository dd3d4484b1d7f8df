package events

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dz_ws_subscribers",
		Help: "Текущее количество подписчиков на события",
	})
	wsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dz_ws_dropped_subscribers_total",
		Help: "Количество подписчиков, отключённых из-за переполнения буфера",
	})
)

// DefaultBuffer — размер буфера подписки по умолчанию.
const DefaultBuffer = 64

// Subscription — подписка на события. Канал C закрывается при отписке
// или при отключении медленного подписчика.
type Subscription struct {
	id uint64
	ch chan Event
}

// C возвращает канал событий.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Hub — рассылка событий всем подписчикам.
//
// Publish никогда не блокируется: если буфер подписчика полон,
// подписчик отключается (канал закрывается). Порядок событий
// для каждого подписчика совпадает с порядком вызовов Publish.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *slog.Logger
}

// NewHub создаёт пустой Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Subscribe регистрирует подписчика с буфером buffer.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{id: h.nextID, ch: make(chan Event, buffer)}
	h.subs[s.id] = s
	wsSubscribers.Inc()
	return s
}

// Unsubscribe удаляет подписчика. Повторный вызов безопасен.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

// Publish рассылает событие.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.remove(s)
			wsDroppedTotal.Inc()
			h.logger.Warn("Подписчик отключён: буфер событий переполнен",
				slog.Uint64("subscriber", s.id),
			)
		}
	}
}

// Count возвращает число подписчиков.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close отключает всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		h.remove(s)
	}
}

// remove вызывается под h.mu.
func (h *Hub) remove(s *Subscription) {
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	wsSubscribers.Dec()
}
