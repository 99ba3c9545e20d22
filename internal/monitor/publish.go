package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
	"github.com/tidewatch/futuresmon/internal/notify"
	"github.com/tidewatch/futuresmon/internal/render"
)

// Publisher hands finished alerts to one delivery channel. It owns the
// domain-to-card translation so monitors never touch wire payloads.
type Publisher struct {
	channel *notify.Channel
	logger  *slog.Logger
}

// NewPublisher wraps a delivery channel.
func NewPublisher(channel *notify.Channel, logger *slog.Logger) *Publisher {
	return &Publisher{channel: channel, logger: logger}
}

// Alert enqueues one alert for delivery.
func (p *Publisher) Alert(a domain.Alert) {
	p.channel.Send(render.Card(a))
}

// Error enqueues an error card for a recoverable monitor failure. The monitor
// keeps running; the card tells the operator which cycle failed and why.
func (p *Publisher) Error(source string, err error) {
	p.logger.Error("cycle failed",
		slog.String("source", source),
		slog.String("error", err.Error()))
	a := domain.NewAlert(domain.AlertError)
	a.Text = fmt.Sprintf("%s\n%s", source, err.Error())
	p.channel.Send(render.Card(a))
}

// MemoryDedup is the in-process domain.DedupStore used when Redis is not
// configured. Keys expire by wall clock; a zero window never expires.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDedup creates an empty in-process dedup store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time)}
}

// FirstSeen records the key and reports whether it was absent or expired.
func (d *MemoryDedup) FirstSeen(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if expiry, ok := d.seen[key]; ok {
		if expiry.IsZero() || now.Before(expiry) {
			return false, nil
		}
	}

	var expiry time.Time
	if window > 0 {
		expiry = now.Add(window)
	}
	d.seen[key] = expiry
	return true, nil
}

var _ domain.DedupStore = (*MemoryDedup)(nil)
