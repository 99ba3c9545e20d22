package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Mode selects the enqueue/dispatch contract of a Channel.
type Mode int

const (
	// Blocking mode accepts every payload and drains the queue on Stop.
	Blocking Mode = iota
	// BestEffort mode is fire-and-forget: the send loop polls the queue on a
	// fixed tick and Stop does not drain.
	BestEffort
)

const (
	// maxAttempts caps delivery tries per payload.
	maxAttempts = 3
	// attemptDelay is the fixed pause before each delivery attempt.
	attemptDelay = time.Second
	// pollTick is the queue poll cadence in BestEffort mode.
	pollTick = time.Second
)

// LifecycleFunc builds the payload announcing that a channel opened or is
// closing. Optional.
type LifecycleFunc func(opened bool) Payload

// Channel owns the outbound queue for one webhook destination. Payloads are
// dispatched strictly FIFO with at most one in-flight send; a payload that
// exhausts its retries is logged and dropped so the queue keeps moving.
type Channel struct {
	name      string
	sender    Sender
	mode      Mode
	lifecycle LifecycleFunc
	logger    *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Payload
	running  bool
	closing  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewChannel creates a channel for the given destination. lifecycle may be
// nil to suppress open/close notifications.
func NewChannel(name string, sender Sender, mode Mode, lifecycle LifecycleFunc, logger *slog.Logger) *Channel {
	c := &Channel{
		name:      name,
		sender:    sender,
		mode:      mode,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "channel"), slog.String("channel", name)),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Name returns the channel's destination name.
func (c *Channel) Name() string { return c.name }

// Running reports whether the send loop is active.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start spawns the send loop. It is idempotent. After starting, the channel
// emits its "opened" notification through itself.
func (c *Channel) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("channel already started")
		return
	}
	c.running = true
	c.closing = false
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	if c.mode == Blocking {
		go c.runBlocking(c.done)
	} else {
		go c.runBestEffort(c.stopCh, c.done)
	}
	c.mu.Unlock()

	c.logger.Info("channel started")
	if c.lifecycle != nil {
		c.Send(c.lifecycle(true))
	}
}

// Stop shuts the channel down. It is idempotent. In Blocking mode the queue
// (including the "closing" notification) is fully drained before the loop
// exits; in BestEffort mode the loop stops at the next tick and whatever is
// still queued is dropped.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running || c.stopping {
		c.mu.Unlock()
		c.logger.Warn("channel already stopped")
		return
	}
	c.stopping = true
	c.mu.Unlock()

	if c.lifecycle != nil {
		c.Send(c.lifecycle(false))
	}

	c.mu.Lock()
	c.closing = true
	done := c.done
	stopCh := c.stopCh
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.mode == BestEffort {
		close(stopCh)
	}
	<-done

	c.mu.Lock()
	c.running = false
	c.stopping = false
	c.mu.Unlock()
	c.logger.Info("channel stopped")
}

// Send enqueues one payload. It returns once the payload is accepted, not
// once it is delivered. Send never blocks on delivery in either mode.
func (c *Channel) Send(payload Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, payload)
	c.cond.Signal()
}

// QueueLen returns the number of payloads waiting for dispatch.
func (c *Channel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// runBlocking dequeues one payload at a time and delivers it. When the
// channel is closing it keeps going until the queue is empty, then exits.
func (c *Channel) runBlocking(done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closing {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closing {
			c.mu.Unlock()
			return
		}
		payload := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.deliver(payload)
	}
}

// runBestEffort polls the queue on a fixed tick, skipping empty ticks.
func (c *Channel) runBestEffort(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			continue
		}
		payload := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.deliver(payload)
	}
}

// deliver attempts the payload up to maxAttempts times with a fixed delay
// before each attempt. Exhausting the retries drops the payload; it is never
// requeued, so one dead destination cannot block the queue forever.
func (c *Channel) deliver(payload Payload) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		time.Sleep(attemptDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.sender.Post(ctx, payload)
		cancel()
		if err == nil {
			c.logger.Debug("payload delivered", slog.Int("attempt", attempt))
			return
		}
		lastErr = err
		c.logger.Warn("delivery attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	c.logger.Error("payload abandoned after retries",
		slog.Int("attempts", maxAttempts),
		slog.String("error", lastErr.Error()),
	)
}
