package loader

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRunsOnce(t *testing.T) {
	s := New()
	require.False(t, s.Initialized())
	require.NoError(t, s.Init())
	require.True(t, s.Initialized())
	require.ErrorIs(t, s.Init(), ErrAlreadyInitialized)
}

func TestOperationsBeforeInitAreDropped(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.Show(), ErrNotInitialized)
	s.Info("early")
	require.False(t, s.Busy())
	_, ok := s.Notification()
	require.False(t, ok)
	require.ErrorIs(t, s.Acquire(), ErrNotInitialized)
}

func TestAcquireIsSingleAdmission(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())

	require.NoError(t, s.Acquire())
	require.True(t, s.Busy())
	require.ErrorIs(t, s.Acquire(), ErrBusy)

	s.Hide()
	require.False(t, s.Busy())
	require.NoError(t, s.Acquire())
}

func TestShowGoesThroughAdmission(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())

	require.NoError(t, s.Show())
	require.ErrorIs(t, s.Show(), ErrBusy)
	require.ErrorIs(t, s.Acquire(), ErrBusy)
	s.Hide()
	require.NoError(t, s.Show())
}

func TestAcquireConcurrent(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acquire() == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), admitted.Load())
}

func TestNotificationLastWriteWins(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())

	s.Info("first")
	s.Error("second")

	n, ok := s.Notification()
	require.True(t, ok)
	require.Equal(t, LevelError, n.Level)
	require.Equal(t, "second", n.Message)
	require.Equal(t, uint64(2), n.Seq)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())

	var got []Snapshot
	s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	require.NoError(t, s.Acquire())
	s.Hide()
	s.Hide() // no transition
	s.Info("hello")

	require.Len(t, got, 3)
	require.True(t, got[0].Busy)
	require.False(t, got[1].Busy)
	require.NotNil(t, got[2].Notification)
	require.Equal(t, "hello", got[2].Notification.Message)
	require.False(t, got[2].Busy)
}

// A rejected request publishes {busy, error} while the admitted one hides.
// Whatever order the two race in, the last snapshot a subscriber sees must
// match the final state.
func TestSlowSubscriberSeesTransitionsInOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Init())
	require.NoError(t, s.Acquire())

	var mu sync.Mutex
	var last Snapshot
	entered := make(chan struct{})
	s.Subscribe(func(snap Snapshot) {
		if n := snap.Notification; n != nil && n.Message == "slow" && snap.Busy {
			close(entered)
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		last = snap
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.ErrorIs(t, s.Acquire(), ErrBusy)
		s.Error("slow")
	}()
	go func() {
		defer wg.Done()
		<-entered
		s.Hide()
	}()
	wg.Wait()

	require.False(t, s.Busy())
	mu.Lock()
	defer mu.Unlock()
	require.False(t, last.Busy)
	require.NotNil(t, last.Notification)
	require.Equal(t, "slow", last.Notification.Message)
}
