// events.go — WebSocket /ws: поток событий затирания.
// Сервер отправляет текстовые строки журнала (с префиксами ERROR:/SUCCESS:)
// и JSON-объекты прогресса. Сообщения клиента не ожидаются.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/bigkaa/dzap-backend/internal/events"
)

// wsWriteTimeout — предельное время отправки одного сообщения.
const wsWriteTimeout = 10 * time.Second

// EventSource — источник событий для подписчиков.
type EventSource interface {
	Subscribe(buffer int) *events.Subscription
	Unsubscribe(s *events.Subscription)
}

// EventsHandler — обработчик /ws.
type EventsHandler struct {
	source EventSource
	buffer int
	logger *slog.Logger
}

// NewEventsHandler создаёт обработчик потока событий.
func NewEventsHandler(source EventSource, buffer int, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		buffer: buffer,
		logger: logger.With(slog.String("component", "ws")),
	}
}

// Events обрабатывает GET /ws.
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	// таймауты http.Server остаются на соединении и после hijack
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		// Accept уже записал ответ с ошибкой
		h.logger.Warn("Ошибка WebSocket handshake",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	sub := h.source.Subscribe(h.buffer)
	defer h.source.Unsubscribe(sub)

	h.logger.Debug("Подписчик подключён", slog.String("remote_addr", r.RemoteAddr))

	// входящие сообщения не ожидаются: CloseRead обрабатывает
	// управляющие кадры и отменяет ctx при закрытии клиентом
	ctx := conn.CloseRead(context.Background())

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Подписчик отключился", slog.String("remote_addr", r.RemoteAddr))
			return
		case ev, ok := <-sub.C():
			if !ok {
				// подписка закрыта: переполнение буфера или остановка сервиса
				_ = conn.Close(websocket.StatusGoingAway, "подписка на события завершена")
				return
			}
			payload, err := ev.Payload()
			if err != nil {
				h.logger.Error("Ошибка сериализации события", slog.String("error", err.Error()))
				continue
			}
			if err := h.write(ctx, conn, payload); err != nil {
				h.logger.Debug("Ошибка отправки события",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
