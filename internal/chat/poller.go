package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

// DefaultPollInterval is the time between two scheduled polls
const DefaultPollInterval = 5 * time.Second

const defaultLoadError = "Failed to load messages"

// Window is a snapshot of the messages a Poller holds for one room
type Window struct {
	Room      string                 `json:"room"`
	Limit     int                    `json:"limit"`
	Messages  []domain.MessageRecord `json:"messages"`
	Loading   bool                   `json:"loading"`
	Err       string                 `json:"error,omitempty"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// PollerConfig configures a Poller
type PollerConfig struct {
	Room     string
	Limit    int
	Interval time.Duration
}

// Poller keeps the latest Window for a room by running fetch, filter and
// reconcile immediately on Start, then on every interval tick and whenever
// Refresh is called.
//
// All runs execute on one goroutine, so polls never overlap. Refresh
// requests made while a poll is in flight collapse into a single follow-up
// poll, and ticks that fire during a poll are dropped.
type Poller struct {
	fetcher  *Fetcher
	interval time.Duration

	mu     sync.RWMutex
	window Window
	filter RoomFilter
	gen    uint64

	refresh  chan struct{}
	retarget chan struct{}
	updates  chan Window

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller creates a Poller; it does nothing until Start is called
func NewPoller(fetcher *Fetcher, cfg PollerConfig) (*Poller, error) {
	filter, err := NewRoomFilter(cfg.Room)
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		window:   newWindow(cfg.Room, cfg.Limit),
		filter:   filter,
		refresh:  make(chan struct{}, 1),
		retarget: make(chan struct{}, 1),
		updates:  make(chan Window, 1),
		done:     make(chan struct{}),
	}, nil
}

func newWindow(room string, limit int) Window {
	return Window{
		Room:     room,
		Limit:    normalizeLimit(limit),
		Messages: []domain.MessageRecord{},
		Loading:  true,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Start begins polling until ctx is cancelled or Stop is called
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		go p.run(runCtx)
	})
}

// Stop halts polling and waits for the polling goroutine to exit. No poll
// runs and the window does not change after Stop returns.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		// A Poller stopped before Start never starts
		p.startOnce.Do(func() {})
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

// Refresh requests an immediate poll without waiting for it
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Retarget switches the Poller to another room or limit. The window is
// reset to an empty loading state and polling restarts immediately; results
// of a poll started before Retarget are discarded.
func (p *Poller) Retarget(room string, limit int) error {
	filter, err := NewRoomFilter(room)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.gen++
	p.filter = filter
	p.window = newWindow(room, limit)
	p.publish(p.snapshotLocked())
	p.mu.Unlock()

	select {
	case p.retarget <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns a copy of the current window
func (p *Poller) Snapshot() Window {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Updates delivers the latest window after every change. Only the newest
// undelivered window is kept.
func (p *Poller) Updates() <-chan Window {
	return p.updates
}

// Room returns the room currently watched
func (p *Poller) Room() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.window.Room
}

func (p *Poller) snapshotLocked() Window {
	w := p.window
	w.Messages = slices.Clone(p.window.Messages)
	return w
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.refresh:
			p.poll(ctx)
		case <-p.retarget:
			ticker.Reset(p.interval)
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	p.mu.RLock()
	gen := p.gen
	filter := p.filter
	limit := p.window.Limit
	p.mu.RUnlock()

	start := time.Now()
	incoming, err := p.fetcher.Fetch(ctx, filter)
	observability.PollDuration.Observe(time.Since(start).Seconds())

	// Results arriving after Stop are dropped
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.window.Err = err.Error()
		if p.window.Err == "" {
			p.window.Err = defaultLoadError
		}
	} else {
		p.window.Messages = Reconcile(p.window.Messages, incoming, limit)
		p.window.Err = ""
	}
	p.window.Loading = false
	p.window.UpdatedAt = time.Now()
	size := len(p.window.Messages)
	p.publish(p.snapshotLocked())
	p.mu.Unlock()

	if err != nil {
		observability.PollRunsTotal.WithLabelValues("error").Inc()
		slog.Warn("failed to load chat messages",
			slog.String("room", filter.Room()),
			slog.String("error", err.Error()))
	} else {
		observability.PollRunsTotal.WithLabelValues("success").Inc()
		observability.WindowSize.WithLabelValues(roomLabel(filter.Room())).Set(float64(size))
	}
}

func roomLabel(room string) string {
	if room == "" {
		return "all"
	}
	return room
}

// publish replaces any undelivered window with w. Callers hold p.mu so the
// drain and the send are not interleaved with another publish.
func (p *Poller) publish(w Window) {
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- w:
	default:
	}
}
