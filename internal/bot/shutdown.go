package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSentinel is the marker file whose removal stops the bot
const DefaultSentinel = "lockfile.lock"

// Shutdown is the cooperative stop flag. It is set by Trigger (signal
// handler) or by the sentinel file going missing once armed, and is only
// ever observed at round boundaries and sleep ticks.
type Shutdown struct {
	sentinel string
	tick     time.Duration

	armed  atomic.Bool
	killed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func NewShutdown(sentinel string) *Shutdown {
	return &Shutdown{
		sentinel: sentinel,
		tick:     time.Second,
		done:     make(chan struct{}),
	}
}

// Arm creates the sentinel file. Deleting it later stops the loop; before
// Arm a missing file means nothing.
func (s *Shutdown) Arm() error {
	if s.sentinel == "" {
		return nil
	}
	f, err := os.OpenFile(s.sentinel, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create sentinel %s: %w", s.sentinel, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.armed.Store(true)
	return nil
}

// Trigger sets the flag and wakes any sleeper.
func (s *Shutdown) Trigger() {
	s.killed.Store(true)
	s.once.Do(func() { close(s.done) })
}

// Requested reports whether the loop must stop.
func (s *Shutdown) Requested() bool {
	if s.killed.Load() {
		return true
	}
	if s.sentinel == "" || !s.armed.Load() {
		return false
	}
	if _, err := os.Stat(s.sentinel); errors.Is(err, os.ErrNotExist) {
		s.Trigger()
		return true
	}
	return false
}

// Watch triggers the shutdown on any of the given signals. The returned
// func stops watching.
func (s *Shutdown) Watch(logger *slog.Logger, sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			logger.Info("Shutdown signal received", "signal", sig.String())
			s.Trigger()
		case <-quit:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(quit)
	}
}

// Sleep waits for d in tick sized steps, checking the flag before each
// step. It returns false when the wait was cut short.
func (s *Shutdown) Sleep(d time.Duration) bool {
	for d > 0 {
		if s.Requested() {
			return false
		}
		step := min(s.tick, d)
		t := time.NewTimer(step)
		select {
		case <-t.C:
		case <-s.done:
			t.Stop()
			return false
		}
		d -= step
	}
	return !s.Requested()
}
