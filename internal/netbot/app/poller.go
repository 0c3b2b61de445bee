package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/bdobrica/Netbot/common/trace"
	"github.com/bdobrica/Netbot/internal/netbot/chat"
	"github.com/bdobrica/Netbot/internal/netbot/commands"
	"github.com/bdobrica/Netbot/internal/netbot/observability"
)

// Handler runs one parsed command.
type Handler interface {
	Handle(ctx context.Context, cmd *commands.Command) commands.Reply
}

// SeenLedger persists dedupe keys so a restart does not replay commands.
type SeenLedger interface {
	// MarkSeen records key and reports whether it was new.
	MarkSeen(ctx context.Context, key string) (bool, error)
	PruneSeen(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Room    chat.Room
	Handler Handler
	// Ledger is optional; without it dedupe is in-memory only.
	Ledger  SeenLedger
	OwnerID string

	Interval    time.Duration
	SkipBacklog bool
	// Workers is the number of messages handled concurrently. One keeps
	// replies in chronological order.
	Workers int
	// SeenTTL enables pruning of ledger entries older than the TTL.
	SeenTTL time.Duration
	// MemoryWindow is how long a key is kept in memory after Poll last
	// returned it. Defaults to 20 poll intervals.
	MemoryWindow time.Duration
}

// Poller reads the command room on a fixed interval and feeds new commands
// to the Handler.
type Poller struct {
	cfg    PollerConfig
	prefix string

	// seen maps a dedupe key to the last time Poll returned it. Only the
	// goroutine running Run touches it.
	seen      map[string]time.Time
	primed    bool
	lastPrune time.Time

	tracked   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewPoller validates cfg and returns a Poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Room == nil {
		return nil, errors.New("poller: room is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("poller: handler is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("poller: owner id is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = 20 * cfg.Interval
	}
	return &Poller{
		cfg:    cfg,
		prefix: "/" + cfg.OwnerID,
		seen:   make(map[string]time.Time),
	}, nil
}

// Processed returns the number of commands handled so far.
func (p *Poller) Processed() int64 { return p.processed.Load() }

// Failed returns the number of commands whose handling panicked or whose
// reply could not be delivered.
func (p *Poller) Failed() int64 { return p.failed.Load() }

// Tracked returns the number of dedupe keys currently held in memory.
func (p *Poller) Tracked() int { return int(p.tracked.Load()) }

// Run polls until ctx is cancelled. Queued commands are drained before Run
// returns.
func (p *Poller) Run(ctx context.Context) error {
	pool := workerpool.New(p.cfg.Workers)
	defer pool.StopWait()

	slog.Info("poller started", "interval", p.cfg.Interval, "workers", p.cfg.Workers, "owner", p.cfg.OwnerID)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.cycle(ctx, pool.Submit)
		select {
		case <-ctx.Done():
			slog.Info("poller stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one poll. Errors are logged and never end the loop.
func (p *Poller) cycle(ctx context.Context, submit func(func())) {
	msgs, err := p.cfg.Room.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("poll failed", "err", err)
		}
		return
	}

	backlog := p.cfg.SkipBacklog && !p.primed
	p.primed = true
	skipped := 0
	now := time.Now()

	for _, msg := range msgs {
		if !p.markSeen(ctx, msg.DedupKey, now) {
			continue
		}
		if backlog {
			skipped++
			continue
		}
		if msg.FromSelf || !p.addressed(msg.Text) {
			continue
		}
		submit(func() { p.process(ctx, msg) })
	}
	if skipped > 0 {
		slog.Info("skipped backlog", "messages", skipped)
	}

	p.forget(now)
	p.prune(ctx)
}

// markSeen reports whether key is new and refreshes its last sighting. A
// ledger failure is logged and the in-memory set alone decides.
func (p *Poller) markSeen(ctx context.Context, key string, now time.Time) bool {
	if key == "" {
		return false
	}
	_, known := p.seen[key]
	p.seen[key] = now
	if known {
		return false
	}
	if p.cfg.Ledger == nil {
		return true
	}
	fresh, err := p.cfg.Ledger.MarkSeen(ctx, key)
	if err != nil {
		slog.Warn("failed to record seen message", "key", key, "err", err)
		return true
	}
	return fresh
}

// forget drops keys Poll has not returned within the memory window. A key
// still inside the room's recent window is refreshed every cycle and stays.
func (p *Poller) forget(now time.Time) {
	for key, last := range p.seen {
		if now.Sub(last) > p.cfg.MemoryWindow {
			delete(p.seen, key)
		}
	}
	p.tracked.Store(int64(len(p.seen)))
}

func (p *Poller) addressed(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), p.prefix)
}

func (p *Poller) prune(ctx context.Context) {
	if p.cfg.Ledger == nil || p.cfg.SeenTTL <= 0 || time.Since(p.lastPrune) < time.Hour {
		return
	}
	p.lastPrune = time.Now()
	n, err := p.cfg.Ledger.PruneSeen(ctx, p.cfg.SeenTTL)
	if err != nil {
		slog.Warn("failed to prune seen messages", "err", err)
		return
	}
	if n > 0 {
		slog.Debug("pruned seen messages", "rows", n)
	}
}

// process parses and handles one message and posts the reply. A panic is
// logged and the message is dropped.
func (p *Poller) process(ctx context.Context, msg chat.Message) {
	ctx, _ = trace.Ensure(ctx)
	log := observability.WithTrace(ctx)

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Error("panic while handling message", "message", msg.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	cmd, err := commands.Parse(msg.Text)
	if err != nil {
		if !errors.Is(err, commands.ErrNotACommand) {
			log.Warn("failed to parse message", "message", msg.ID, "err", err)
		}
		return
	}

	log.Info("handling command", "message", msg.ID, "sender", msg.Sender, "kind", cmd.Kind, "op", cmd.Operation, "address", cmd.Address, "edited", msg.Edited)
	start := time.Now()
	reply := p.cfg.Handler.Handle(ctx, cmd)
	p.processed.Add(1)

	if err := p.deliver(ctx, reply); err != nil {
		p.failed.Add(1)
		log.Error("failed to send reply", "message", msg.ID, "err", err)
		return
	}
	log.Debug("command handled", "duration", time.Since(start))
}

func (p *Poller) deliver(ctx context.Context, reply commands.Reply) error {
	switch reply.Kind {
	case commands.ReplyText:
		return p.cfg.Room.Send(ctx, reply.Text)
	case commands.ReplyFile:
		return p.cfg.Room.SendFile(ctx, reply.FilePath, reply.Caption)
	case commands.ReplyNone:
		return nil
	default:
		return fmt.Errorf("unknown reply kind %d", reply.Kind)
	}
}
