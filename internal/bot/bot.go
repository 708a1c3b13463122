// Package bot polls reddit for new submissions, comments and inbox items
// and hands each new item to a registered listener exactly once.
package bot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
)

const (
	DefaultNewLimit     = 25
	DefaultInterval     = 30 * time.Second
	DefaultRestartAfter = 15 * time.Minute
	DefaultRateMargin   = 5 * time.Second
	DefaultMaxRateSleep = 15 * time.Minute
	DefaultRateStreak   = 10

	// reddit accepts at most 100 ids per read_message call
	markReadChunk = 100
	refreshSkew   = time.Minute
)

// ErrFailLimit means too many rounds failed in a row; the process should
// exit and let its supervisor restart it.
var ErrFailLimit = errors.New("consecutive failure limit reached")

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateBackoff
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	Feeds           []string
	NewLimit        int
	Interval        time.Duration
	ConnectAttempts int
	ConnectBackoff  float64
	Retention       time.Duration
	RestartAfter    time.Duration
	// FailLimit overrides RestartAfter/Interval when set
	FailLimit    int
	RateMargin   time.Duration
	MaxRateSleep time.Duration
	// consecutive rate limited rounds tolerated before they count as failures
	MaxRateStreak int
	Cooldown      time.Duration
	Blacklist     []string
}

func (c Config) withDefaults() Config {
	if c.NewLimit <= 0 {
		c.NewLimit = DefaultNewLimit
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = 2
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.RestartAfter <= 0 {
		c.RestartAfter = DefaultRestartAfter
	}
	if c.FailLimit <= 0 {
		c.FailLimit = max(int(c.RestartAfter/c.Interval), 1)
	}
	if c.RateMargin <= 0 {
		c.RateMargin = DefaultRateMargin
	}
	if c.MaxRateSleep <= 0 {
		c.MaxRateSleep = DefaultMaxRateSleep
	}
	if c.MaxRateStreak <= 0 {
		c.MaxRateStreak = DefaultRateStreak
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// SeenStore is the dedup store the bot owns for its whole run
type SeenStore interface {
	SeenChecker
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
	Close() error
}

// PostRoundHook runs after every fully successful round
type PostRoundHook func(ctx context.Context) error

// RoundState belongs to the scheduler. Failures survives rounds and is
// reset only by a successful one.
type RoundState struct {
	Start     time.Time
	RateSleep time.Duration
	Failures  int
}

type Bot struct {
	cfg        Config
	connector  *Connector
	seen       SeenStore
	shutdown   *Shutdown
	dispatcher *Dispatcher
	cooldown   *Cooldown
	logger     *slog.Logger
	now        func() time.Time

	submissions Listener
	comments    Listener
	mentions    Listener
	messages    Listener

	state      atomic.Int32
	round      RoundState
	rateStreak int
	failed     bool
}

func New(cfg Config, connector *Connector, seen SeenStore, shutdown *Shutdown, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if shutdown == nil {
		shutdown = NewShutdown("")
	}
	cfg = cfg.withDefaults()
	return &Bot{
		cfg:        cfg,
		connector:  connector,
		seen:       seen,
		shutdown:   shutdown,
		dispatcher: NewDispatcher(seen, cfg.Blacklist),
		cooldown:   NewCooldown(cfg.Cooldown),
		logger:     logger,
		now:        time.Now,
	}
}

func (b *Bot) WithSubmissionListener(l Listener) *Bot { b.submissions = l; return b }
func (b *Bot) WithCommentListener(l Listener) *Bot    { b.comments = l; return b }
func (b *Bot) WithMentionListener(l Listener) *Bot    { b.mentions = l; return b }
func (b *Bot) WithPMListener(l Listener) *Bot         { b.messages = l; return b }

// Cooldown is the per-author answer cooldown swept with every round.
func (b *Bot) Cooldown() *Cooldown { return b.cooldown }

func (b *Bot) State() State { return State(b.state.Load()) }

// Round returns a copy of the current round bookkeeping.
func (b *Bot) Round() RoundState { return b.round }

func (b *Bot) setState(s State) {
	if old := State(b.state.Swap(int32(s))); old != s {
		b.logger.Debug("bot state", "from", old.String(), "to", s.String())
	}
}

// Run connects and polls until shutdown. It returns nil on a requested
// stop, a *ConnectError or ErrMissingScope when it could not start and
// ErrFailLimit when the failure threshold was crossed.
func (b *Bot) Run(ctx context.Context, postRound PostRoundHook) error {
	defer func() {
		b.setState(StateStopped)
		if cerr := b.seen.Close(); cerr != nil {
			b.logger.Error("run() closing seen store failed", "err", cerr)
		}
		b.logger.Warn("run() leaving reddit-bot")
	}()

	b.setState(StateConnecting)
	if _, err := b.connector.Connect(ctx, b.cfg.ConnectAttempts, b.cfg.ConnectBackoff); err != nil {
		if errors.Is(err, domain.ErrShutdown) {
			return nil
		}
		return err
	}

	if err := b.shutdown.Arm(); err != nil {
		return err
	}

	b.setState(StateRunning)
	for !b.stopping(ctx) {
		b.round.Start = b.now()
		b.setState(StateRunning)

		rerr := b.runRound(ctx, postRound)
		if rerr == nil {
			b.round.Failures = 0
			b.rateStreak = 0
			b.failed = false
		} else if stop, fatal := b.classify(rerr); fatal != nil {
			return fatal
		} else if stop {
			break
		}

		if b.stopping(ctx) {
			break
		}
		if b.failed {
			b.setState(StateBackoff)
		}
		b.shutdown.Sleep(b.nextSleep())
	}

	b.setState(StateDraining)
	return nil
}

func (b *Bot) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || b.shutdown.Requested()
}

func (b *Bot) runRound(ctx context.Context, postRound PostRoundHook) error {
	conn := b.connector.Current()
	if exp := conn.Grant.Expiry; !exp.IsZero() && !b.now().Before(exp.Add(-refreshSkew)) {
		var err error
		if conn, err = b.connector.Refresh(ctx); err != nil {
			return err
		}
	}

	if b.submissions != nil {
		items, err := conn.Session.NewSubmissions(ctx, b.cfg.Feeds, b.cfg.NewLimit)
		if err != nil {
			return fmt.Errorf("fetch submissions: %w", err)
		}
		if err := b.dispatch(ctx, conn, domain.KindSubmission, slices.Values(items), b.submissions); err != nil {
			return err
		}
	}

	if b.comments != nil && !b.shutdown.Requested() {
		items, err := conn.Session.NewComments(ctx, b.cfg.Feeds, b.cfg.NewLimit)
		if err != nil {
			return fmt.Errorf("fetch comments: %w", err)
		}
		if err := b.dispatch(ctx, conn, domain.KindComment, slices.Values(items), b.comments); err != nil {
			return err
		}
	}

	if (b.mentions != nil || b.messages != nil) && !b.shutdown.Requested() {
		if err := b.inbox(ctx, conn); err != nil {
			return err
		}
	}

	// remaining fetches were skipped; so are the hook and cleanup
	if b.shutdown.Requested() {
		return domain.ErrShutdown
	}

	if postRound != nil {
		if err := postRound(ctx); err != nil {
			return fmt.Errorf("post round: %w", err)
		}
	}
	b.cooldown.Sweep()
	if _, err := b.seen.Cleanup(ctx, b.cfg.Retention); err != nil {
		return err
	}
	return nil
}

// inbox reads the unread batch once, marks all of it read and only then
// dispatches, so a failing listener never causes the batch to be read twice.
func (b *Bot) inbox(ctx context.Context, conn *Connection) error {
	items, err := conn.Session.UnreadInbox(ctx, b.cfg.NewLimit)
	if err != nil {
		return fmt.Errorf("fetch inbox: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	for chunk := range slices.Chunk(ids, markReadChunk) {
		if err := conn.Session.MarkRead(ctx, chunk...); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}

	if b.messages != nil {
		if err := b.dispatch(ctx, conn, domain.KindMessage, ofKind(items, domain.KindMessage), b.messages); err != nil {
			return err
		}
	}

	if b.mentions != nil {
		// one by one: an old mention must not hide a newer one
		for item := range ofKind(items, domain.KindMention) {
			if err := b.dispatch(ctx, conn, domain.KindMention, slices.Values([]domain.Item{item}), b.mentions); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, conn *Connection, kind domain.Kind, items iter.Seq[domain.Item], l Listener) error {
	n, err := b.dispatcher.Run(ctx, conn, items, l)
	if n > 0 {
		b.logger.Debug("dispatched new items", "kind", kind, "count", n)
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}
	return nil
}

// classify records a failed round. stop asks the loop to drain; fatal
// ends the run with an error.
func (b *Bot) classify(err error) (stop bool, fatal error) {
	round := b.round.Start.UTC().Format(time.RFC3339)

	if errors.Is(err, domain.ErrShutdown) || errors.Is(err, context.Canceled) || b.shutdown.Requested() {
		b.logger.Warn("run() interrupt, leaving", "round", round, "kind", "shutdown", "err", err)
		b.setState(StateDraining)
		return true, nil
	}

	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		b.rateStreak++
		if b.rateStreak <= b.cfg.MaxRateStreak {
			b.round.RateSleep = b.rateSleep(rle.Reset)
			b.logger.Warn("run() rate exceeded, going to sleep",
				"round", round, "kind", "rate_limit", "sleep", b.round.RateSleep.String(), "streak", b.rateStreak)
			return false, nil
		}
		b.round.RateSleep = b.rateSleep(rle.Reset)
		b.logger.Warn("run() rate limited too many rounds in a row", "round", round, "streak", b.rateStreak)
	}

	kind := "other"
	var te *domain.TransientError
	switch {
	case rle != nil:
		kind = "rate_limit"
	case errors.As(err, &te):
		kind = "transient"
	}

	b.failed = true
	b.round.Failures++
	b.logger.Error("run() round failed",
		"round", round, "kind", kind, "failures", b.round.Failures, "limit", b.cfg.FailLimit, "err", err)

	if b.round.Failures >= b.cfg.FailLimit {
		b.logger.Error("run() consecutive fails reached limit, leaving to restart", "failures", b.round.Failures)
		b.setState(StateDraining)
		return true, ErrFailLimit
	}
	return false, nil
}

func (b *Bot) rateSleep(reset time.Time) time.Duration {
	d := reset.Sub(b.now()) + b.cfg.RateMargin
	return min(max(d, b.cfg.RateMargin), b.cfg.MaxRateSleep)
}

// nextSleep consumes a pending rate limit sleep or paces rounds to the
// configured interval.
func (b *Bot) nextSleep() time.Duration {
	if b.round.RateSleep > 0 {
		d := b.round.RateSleep
		b.round.RateSleep = 0
		return d
	}
	elapsed := b.now().Sub(b.round.Start)
	return max(b.cfg.Interval-elapsed, 0)
}

func ofKind(items []domain.Item, kind domain.Kind) iter.Seq[domain.Item] {
	return func(yield func(domain.Item) bool) {
		for _, it := range items {
			if it.Kind == kind && !yield(it) {
				return
			}
		}
	}
}
