package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Coalescer — прореживание прогресса: хранит последний снимок каждого
// задания и публикует накопленное не чаще одного раза за interval.
// Терминальное событие задания публикуется ровно один раз, после
// последнего снимка прогресса; более поздние обновления задания отбрасываются.
type Coalescer struct {
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]Progress
	finished map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoalescer создаёт Coalescer.
func NewCoalescer(hub *Hub, interval time.Duration, logger *slog.Logger) *Coalescer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Coalescer{
		hub:      hub,
		interval: interval,
		logger:   logger.With(slog.String("component", "coalescer")),
		pending:  make(map[string]Progress),
		finished: make(map[string]struct{}),
	}
}

// Start запускает периодическую публикацию.
func (c *Coalescer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	limiter := rate.NewLimiter(rate.Every(c.interval), 1)

	go func() {
		defer close(c.done)
		for {
			if err := limiter.Wait(ctx); err != nil {
				c.Flush()
				return
			}
			c.Flush()
		}
	}()

	c.logger.Info("Публикация прогресса запущена", slog.String("interval", c.interval.String()))
}

// Stop останавливает публикацию, отправив накопленное.
func (c *Coalescer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Update запоминает последний снимок прогресса задания.
func (c *Coalescer) Update(p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.finished[p.JobID]; ok {
		return
	}
	c.pending[p.JobID] = p
}

// Finish публикует накопленный прогресс задания и затем терминальное
// событие. Возвращает false, если терминальное событие уже отправлено.
func (c *Coalescer) Finish(p Progress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.finished[p.JobID]; ok {
		return false
	}
	c.finished[p.JobID] = struct{}{}

	if last, ok := c.pending[p.JobID]; ok {
		delete(c.pending, p.JobID)
		c.hub.Publish(Event{Kind: KindProgress, JobID: last.JobID, Progress: &last})
	}
	term := p
	c.hub.Publish(Event{Kind: KindTerminal, JobID: p.JobID, Progress: &term})
	return true
}

// Forget удаляет отметку о завершении задания (задание ушло из архива).
func (c *Coalescer) Forget(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.finished, jobID)
}

// Flush публикует все накопленные снимки (в порядке jobId).
func (c *Coalescer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return
	}
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := c.pending[id]
		c.hub.Publish(Event{Kind: KindProgress, JobID: id, Progress: &p})
	}
	clear(c.pending)
}
