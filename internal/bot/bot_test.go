package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qepting91/redditbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	bot      *Bot
	session  *fakeSession
	dialer   *fakeDialer
	seen     *memSeen
	shutdown *Shutdown
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	session := &fakeSession{self: "bot"}
	dialer := &fakeDialer{session: session}
	sd := fastShutdown()
	seen := newMemSeen()
	if cfg.Interval == 0 {
		cfg.Interval = time.Millisecond
	}
	if cfg.FailLimit == 0 {
		cfg.FailLimit = 3
	}
	if cfg.RateMargin == 0 {
		cfg.RateMargin = time.Millisecond
	}
	conn := NewConnector(dialer, primaryCreds, nil, sd, quietLogger())
	b := New(cfg, conn, seen, sd, quietLogger())
	return &harness{bot: b, session: session, dialer: dialer, seen: seen, shutdown: sd}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultNewLimit, cfg.NewLimit)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, 30, cfg.FailLimit, "15 minutes of 30 second rounds")
	assert.Equal(t, 1, cfg.ConnectAttempts)

	cfg = Config{Interval: time.Hour}.withDefaults()
	assert.Equal(t, 1, cfg.FailLimit)
}

func TestNextSleepPacesRounds(t *testing.T) {
	h := newHarness(t, Config{Interval: 30 * time.Second})
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	h.bot.round.Start = start

	h.bot.now = func() time.Time { return start.Add(5 * time.Second) }
	assert.Equal(t, 25*time.Second, h.bot.nextSleep())

	h.bot.now = func() time.Time { return start.Add(35 * time.Second) }
	assert.Equal(t, time.Duration(0), h.bot.nextSleep())
}

func TestRateLimitSleepUsesResetPlusMargin(t *testing.T) {
	h := newHarness(t, Config{Interval: 30 * time.Second, RateMargin: 5 * time.Second})
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	h.bot.now = func() time.Time { return now }
	h.bot.round.Start = now
	h.bot.round.Failures = 2

	stop, fatal := h.bot.classify(&domain.RateLimitError{Reset: now.Add(90 * time.Second)})
	assert.False(t, stop)
	assert.NoError(t, fatal)
	assert.Equal(t, 2, h.bot.Round().Failures, "rate limits are not failures")
	assert.Equal(t, 95*time.Second, h.bot.Round().RateSleep)

	assert.Equal(t, 95*time.Second, h.bot.nextSleep())
	assert.Zero(t, h.bot.Round().RateSleep, "rate sleep is consumed once")
	assert.Equal(t, 30*time.Second, h.bot.nextSleep())
}

func TestRateLimitSleepIsClamped(t *testing.T) {
	h := newHarness(t, Config{RateMargin: 5 * time.Second, MaxRateSleep: time.Minute})
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	h.bot.now = func() time.Time { return now }

	assert.Equal(t, 5*time.Second, h.bot.rateSleep(now.Add(-time.Hour)))
	assert.Equal(t, time.Minute, h.bot.rateSleep(now.Add(time.Hour)))
}

func TestRateLimitStreakEscalatesToFailure(t *testing.T) {
	h := newHarness(t, Config{MaxRateStreak: 2, FailLimit: 10})
	rl := &domain.RateLimitError{Reset: time.Now()}

	h.bot.classify(rl)
	h.bot.classify(rl)
	assert.Zero(t, h.bot.Round().Failures)

	h.bot.classify(rl)
	assert.Equal(t, 1, h.bot.Round().Failures)
}

func TestThreeTransientFailuresStopTheBot(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 3})
	down := domain.Transient(errors.New("503 service unavailable"))
	for range 5 {
		h.session.submissions = append(h.session.submissions, fetch{err: down})
	}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	err := h.bot.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrFailLimit)
	assert.Len(t, h.session.submissions, 2, "exactly three rounds ran")
	assert.Equal(t, 3, h.bot.Round().Failures)
	assert.Equal(t, StateStopped, h.bot.State())
	assert.True(t, h.seen.closed)
}

func TestGenericErrorsCountAsFailures(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 2})
	h.session.submissions = []fetch{{err: errors.New("weird")}, {err: errors.New("weirder")}}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	assert.ErrorIs(t, h.bot.Run(context.Background(), nil), ErrFailLimit)
}

func TestRateLimitBetweenSuccessesDoesNotCountAsFailure(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 1})
	h.session.submissions = []fetch{
		{items: []domain.Item{item(domain.KindSubmission, "t3_a", "alice")}},
		{err: &domain.RateLimitError{Reset: time.Now()}},
		{items: []domain.Item{item(domain.KindSubmission, "t3_b", "bob")}},
	}

	var failures []int
	calls := 0
	h.session.onFetch = func(domain.Kind) {
		calls++
		failures = append(failures, h.bot.Round().Failures)
		if calls == 4 {
			h.shutdown.Trigger()
		}
	}
	var got []string
	h.bot.WithSubmissionListener(func(_ context.Context, _ *Connection, it domain.Item) error {
		got = append(got, it.ID)
		return nil
	})

	require.NoError(t, h.bot.Run(context.Background(), nil))
	assert.Equal(t, []int{0, 0, 0, 0}, failures)
	assert.Equal(t, []string{"t3_a", "t3_b"}, got)
	assert.Equal(t, StateStopped, h.bot.State())
}

func TestSuccessResetsFailures(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 3})
	down := domain.Transient(errors.New("reset by peer"))
	h.session.submissions = []fetch{{err: down}, {err: down}, {}, {err: down}, {err: down}}

	calls := 0
	h.session.onFetch = func(domain.Kind) {
		calls++
		if calls == 6 {
			h.shutdown.Trigger()
		}
	}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	require.NoError(t, h.bot.Run(context.Background(), nil))
	assert.Equal(t, 6, calls)
}

func TestRoundOrderAndInboxPartition(t *testing.T) {
	h := newHarness(t, Config{})
	h.session.submissions = []fetch{{items: []domain.Item{item(domain.KindSubmission, "t3_s", "alice")}}}
	h.session.comments = []fetch{{items: []domain.Item{item(domain.KindComment, "t1_c", "alice")}}}
	h.session.inbox = []fetch{{items: []domain.Item{
		item(domain.KindMention, "t1_m2", "carol"),
		item(domain.KindMessage, "t4_p2", "dave"),
		item(domain.KindComment, "t1_reply", "erin"),
		item(domain.KindMention, "t1_m1", "frank"),
		item(domain.KindMessage, "t4_p1", "bot"),
	}}}
	// m1 was handled in an earlier run; it must not hide m2
	h.seen.ids["t1_m1"] = true

	var order []string
	record := func(_ context.Context, _ *Connection, it domain.Item) error {
		order = append(order, string(it.Kind)+":"+it.ID)
		return nil
	}
	hookCalls := 0
	h.bot.
		WithSubmissionListener(record).
		WithCommentListener(record).
		WithMentionListener(record).
		WithPMListener(record)

	h.session.onFetch = func(kind domain.Kind) {
		if kind == domain.KindComment && len(h.session.markedRead) > 0 {
			t.Errorf("inbox read before comments")
		}
	}

	err := h.bot.Run(context.Background(), func(context.Context) error {
		hookCalls++
		h.shutdown.Trigger()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"submission:t3_s",
		"comment:t1_c",
		"message:t4_p2",
		"mention:t1_m2",
	}, order)
	require.Len(t, h.session.markedRead, 1)
	assert.ElementsMatch(t, []string{"t1_m2", "t4_p2", "t1_reply", "t1_m1", "t4_p1"}, h.session.markedRead[0])
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 1, h.seen.cleaned)
}

func TestInboxMarkReadIsChunked(t *testing.T) {
	h := newHarness(t, Config{NewLimit: 250})
	var items []domain.Item
	for i := range 250 {
		items = append(items, item(domain.KindMessage, fmt.Sprintf("t4_%03d", i), "alice"))
	}
	h.session.inbox = []fetch{{items: items}}
	h.bot.WithPMListener(func(context.Context, *Connection, domain.Item) error { return nil })

	require.NoError(t, h.bot.Run(context.Background(), func(context.Context) error {
		h.shutdown.Trigger()
		return nil
	}))
	require.Len(t, h.session.markedRead, 3)
	assert.Len(t, h.session.markedRead[0], 100)
	assert.Len(t, h.session.markedRead[2], 50)
}

func TestListenerErrorSkipsPostRound(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 1})
	h.session.submissions = []fetch{{items: []domain.Item{item(domain.KindSubmission, "t3_a", "alice")}}}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error {
		return errors.New("listener bug")
	})
	hookCalls := 0

	err := h.bot.Run(context.Background(), func(context.Context) error {
		hookCalls++
		return nil
	})
	assert.ErrorIs(t, err, ErrFailLimit)
	assert.Zero(t, hookCalls)
	assert.Zero(t, h.seen.cleaned)
	assert.True(t, h.seen.ids["t3_a"])
}

func TestPostRoundHookErrorIsARoundFailure(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 2})
	err := h.bot.Run(context.Background(), func(context.Context) error {
		return errors.New("cache refresh failed")
	})
	assert.ErrorIs(t, err, ErrFailLimit)
}

func TestSentinelRemovalStopsTheLoop(t *testing.T) {
	h := newHarness(t, Config{})
	sentinel := filepath.Join(t.TempDir(), "lockfile.lock")
	h.shutdown.sentinel = sentinel

	rounds := 0
	h.session.onFetch = func(domain.Kind) {
		rounds++
		_, err := os.Stat(sentinel)
		require.NoError(t, err, "sentinel created on start")
		if rounds == 2 {
			require.NoError(t, os.Remove(sentinel))
		}
	}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	require.NoError(t, h.bot.Run(context.Background(), nil))
	assert.Equal(t, 2, rounds)
	assert.True(t, h.seen.closed)
}

func TestConnectFailureStopsBeforeRunning(t *testing.T) {
	h := newHarness(t, Config{ConnectAttempts: 2, ConnectBackoff: 0.001})
	h.dialer.dialErrs = []error{errors.New("down"), errors.New("down")}

	err := h.bot.Run(context.Background(), nil)
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateStopped, h.bot.State())
	assert.True(t, h.seen.closed)
}

func TestExpiredGrantIsRefreshed(t *testing.T) {
	h := newHarness(t, Config{})
	h.dialer.grant = domain.Grant{Scopes: []string{"*"}, Expiry: time.Now().Add(-time.Minute)}

	require.NoError(t, h.bot.Run(context.Background(), func(context.Context) error {
		h.shutdown.Trigger()
		return nil
	}))
	assert.Equal(t, 1, h.dialer.refreshes)
}

func TestCanceledContextDrains(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.session.submissions = []fetch{{err: context.Canceled}}
	h.session.onFetch = func(domain.Kind) { cancel() }
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	require.NoError(t, h.bot.Run(ctx, nil))
	assert.Zero(t, h.bot.Round().Failures)
}

func TestCooldownIsSweptEachRound(t *testing.T) {
	h := newHarness(t, Config{Cooldown: time.Minute})
	cd := h.bot.Cooldown()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cd.now = func() time.Time { return base }
	require.True(t, cd.Allow("alice"))
	cd.now = func() time.Time { return base.Add(2 * time.Minute) }

	require.NoError(t, h.bot.Run(context.Background(), func(context.Context) error {
		h.shutdown.Trigger()
		return nil
	}))
	assert.Zero(t, cd.Len())
}

func TestShutdownDuringInboxDispatchFinishesTheBatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.session.inbox = []fetch{{items: []domain.Item{
		item(domain.KindMessage, "t4_new", "alice"),
		item(domain.KindMessage, "t4_old", "bob"),
	}}}
	var got []string
	h.bot.WithPMListener(func(_ context.Context, _ *Connection, it domain.Item) error {
		got = append(got, it.ID)
		h.shutdown.Trigger()
		return nil
	})

	require.NoError(t, h.bot.Run(context.Background(), nil))
	assert.Equal(t, []string{"t4_new", "t4_old"}, got)
	assert.True(t, h.seen.ids["t4_new"])
	assert.True(t, h.seen.ids["t4_old"])
	require.Len(t, h.session.markedRead, 1)
	assert.ElementsMatch(t, []string{"t4_new", "t4_old"}, h.session.markedRead[0])
}

func TestShutdownMidRoundSkipsHookAndKeepsFailures(t *testing.T) {
	h := newHarness(t, Config{FailLimit: 5})
	down := domain.Transient(errors.New("reset by peer"))
	h.session.submissions = []fetch{{err: down}, {}}

	calls := 0
	h.session.onFetch = func(kind domain.Kind) {
		if kind != domain.KindSubmission {
			return
		}
		calls++
		if calls == 2 {
			h.shutdown.Trigger()
		}
	}
	h.session.comments = []fetch{{items: []domain.Item{item(domain.KindComment, "t1_late", "alice")}}}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })
	h.bot.WithCommentListener(func(context.Context, *Connection, domain.Item) error { return nil })
	hookCalls := 0

	require.NoError(t, h.bot.Run(context.Background(), func(context.Context) error {
		hookCalls++
		return nil
	}))
	assert.Equal(t, 2, calls)
	assert.Zero(t, hookCalls)
	assert.Zero(t, h.seen.cleaned)
	assert.Equal(t, 1, h.bot.Round().Failures, "an interrupted round is not a success")
	assert.Len(t, h.session.comments, 1, "comments were not fetched")
	assert.Equal(t, StateStopped, h.bot.State())
}

func TestRealSentinelDoesNotBlockConnectRetry(t *testing.T) {
	h := newHarness(t, Config{ConnectAttempts: 3, ConnectBackoff: 0.001})
	h.shutdown.sentinel = filepath.Join(t.TempDir(), "lockfile.lock")
	h.dialer.dialErrs = []error{domain.Transient(errors.New("connection refused")), nil}
	h.bot.WithSubmissionListener(func(context.Context, *Connection, domain.Item) error { return nil })

	require.NoError(t, h.bot.Run(context.Background(), func(context.Context) error {
		h.shutdown.Trigger()
		return nil
	}))
	assert.Len(t, h.dialer.dials, 2)
}
