package bot

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockfile.lock")
	s := NewShutdown(path)

	assert.False(t, s.Requested(), "the sentinel is not watched before Arm")

	require.NoError(t, s.Arm())
	assert.False(t, s.Requested())

	require.NoError(t, os.Remove(path))
	assert.True(t, s.Requested())

	// the flag sticks even if the file comes back
	require.NoError(t, s.Arm())
	assert.True(t, s.Requested())
}

func TestShutdownSleepCompletes(t *testing.T) {
	s := fastShutdown()
	start := time.Now()
	assert.True(t, s.Sleep(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, s.Sleep(0))
}

func TestShutdownTriggerWakesSleeper(t *testing.T) {
	s := NewShutdown("")
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Trigger()
	}()

	start := time.Now()
	assert.False(t, s.Sleep(time.Minute))
	assert.Less(t, time.Since(start), 5*time.Second)

	// triggering twice is fine
	s.Trigger()
	assert.True(t, s.Requested())
}

func TestShutdownWatchSignal(t *testing.T) {
	s := NewShutdown("")
	stop := s.Watch(quietLogger(), syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	assert.Eventually(t, s.Requested, 2*time.Second, 5*time.Millisecond)
}

func TestCooldown(t *testing.T) {
	c := NewCooldown(time.Minute)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	assert.True(t, c.Allow("Alice"))
	assert.False(t, c.Allow("alice"))
	assert.True(t, c.Allow("bob"))
	assert.Zero(t, c.Sweep())

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.Equal(t, 2, c.Sweep())
	assert.True(t, c.Allow("alice"))
	assert.Equal(t, 1, c.Len())
}
