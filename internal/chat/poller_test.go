package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
	"streamchat/internal/streams"
	"streamchat/internal/testutil"
)

func newTestPoller(t *testing.T, source *testutil.MockStreamsClient, room string, limit int) *Poller {
	t.Helper()

	p, err := NewPoller(NewFetcher(source, testutil.TestAddress(1)), PollerConfig{
		Room:     room,
		Limit:    limit,
		Interval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

// waitWindow reads updates until cond holds
func waitWindow(t *testing.T, p *Poller, cond func(Window) bool) Window {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case w := <-p.Updates():
			if cond(w) {
				return w
			}
		case <-timeout:
			t.Fatalf("window condition not met, last snapshot %+v", p.Snapshot())
		}
	}
}

func loaded(w Window) bool { return !w.Loading }

func TestNewPoller(t *testing.T) {
	p := newTestPoller(t, testutil.NewMockStreamsClient(), "general", 0)

	w := p.Snapshot()
	assert.True(t, w.Loading)
	assert.Equal(t, "general", w.Room)
	assert.Equal(t, DefaultLimit, w.Limit)
	assert.Empty(t, w.Messages)
	assert.Equal(t, "general", p.Room())
}

func TestNewPoller_ClampsLimit(t *testing.T) {
	p := newTestPoller(t, testutil.NewMockStreamsClient(), "", MaxLimit+1)
	assert.Equal(t, MaxLimit, p.Snapshot().Limit)
}

func TestNewPoller_InvalidRoom(t *testing.T) {
	_, err := NewPoller(NewFetcher(testutil.NewMockStreamsClient(), testutil.TestAddress(1)), PollerConfig{
		Room: "a-room-name-that-is-far-too-long-to-fit",
	})
	assert.ErrorIs(t, err, domain.ErrRoomNameTooLong)
}

func TestPoller_StartPollsImmediately(t *testing.T) {
	msgs := testutil.NewTestMessages("general", 3)
	source := testutil.NewMockStreamsClient(testutil.Rows(msgs...)...)
	p := newTestPoller(t, source, "general", 2)

	p.Start(context.Background())

	w := waitWindow(t, p, loaded)
	assert.Equal(t, msgs[1:], w.Messages)
	assert.Empty(t, w.Err)
	assert.False(t, w.UpdatedAt.IsZero())
}

func TestPoller_Refresh(t *testing.T) {
	first := testutil.NewTestMessage()
	source := testutil.NewMockStreamsClient(testutil.Rows(first)...)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	second := testutil.NewTestMessage()
	source.SetRows(testutil.Rows(first, second)...)
	p.Refresh()

	w := waitWindow(t, p, func(w Window) bool { return len(w.Messages) == 2 })
	assert.Equal(t, []domain.MessageRecord{first, second}, w.Messages)
}

func TestPoller_FetchFailureKeepsMessages(t *testing.T) {
	msg := testutil.NewTestMessage()
	source := testutil.NewMockStreamsClient(testutil.Rows(msg)...)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	source.SetFetchError(testutil.ErrMockUnavailable)
	p.Refresh()

	w := waitWindow(t, p, func(w Window) bool { return w.Err != "" })
	assert.Equal(t, []domain.MessageRecord{msg}, w.Messages)
	assert.False(t, w.Loading)

	// The error clears after the next successful poll
	source.SetFetchError(nil)
	p.Refresh()

	w = waitWindow(t, p, func(w Window) bool { return w.Err == "" })
	assert.Equal(t, []domain.MessageRecord{msg}, w.Messages)
}

func TestPoller_FirstFetchFailure(t *testing.T) {
	source := testutil.NewMockStreamsClient()
	source.SetFetchError(testutil.ErrMockUnavailable)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())

	w := waitWindow(t, p, loaded)
	assert.NotEmpty(t, w.Err)
	assert.Empty(t, w.Messages)
}

func TestPoller_Retarget(t *testing.T) {
	general := testutil.NewTestMessages("general", 2)
	random := testutil.NewTestMessage(testutil.WithRoom("random"))
	source := testutil.NewMockStreamsClient(testutil.Rows(append(general, random)...)...)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	require.NoError(t, p.Retarget("random", 5))

	reset := p.Snapshot()
	if !reset.Loading {
		// The follow-up poll may already have landed
		assert.Equal(t, []domain.MessageRecord{random}, reset.Messages)
	} else {
		assert.Empty(t, reset.Messages)
	}
	assert.Equal(t, "random", reset.Room)
	assert.Equal(t, 5, reset.Limit)

	w := waitWindow(t, p, func(w Window) bool { return !w.Loading && w.Room == "random" })
	assert.Equal(t, []domain.MessageRecord{random}, w.Messages)
	assert.Equal(t, "random", p.Room())
}

func TestPoller_RetargetInvalidRoom(t *testing.T) {
	p := newTestPoller(t, testutil.NewMockStreamsClient(), "general", 10)

	err := p.Retarget("this-room-name-does-not-fit-in-32-bytes", 10)

	assert.ErrorIs(t, err, domain.ErrRoomNameTooLong)
	assert.Equal(t, "general", p.Room())
}

func TestPoller_StopHaltsPolling(t *testing.T) {
	source := testutil.NewMockStreamsClient(testutil.Rows(testutil.NewTestMessage())...)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)
	p.Stop()

	before := p.Snapshot()
	fetches := source.Fetches()

	source.SetRows(testutil.Rows(testutil.NewTestMessages("general", 3)...)...)
	p.Refresh()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, p.Snapshot())
	assert.Equal(t, fetches, source.Fetches())
}

func TestPoller_StopBeforeStart(t *testing.T) {
	source := testutil.NewMockStreamsClient()
	p := newTestPoller(t, source, "general", 10)

	p.Stop()
	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, source.Fetches())
	assert.True(t, p.Snapshot().Loading)
}

func TestPoller_PollsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	release := make(chan struct{})

	source := testutil.NewMockStreamsClient()
	source.GetAllPublisherDataForSchemaFunc = func(ctx context.Context, _ streams.Hash, _ domain.Address) ([]streams.Row, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}

	p := newTestPoller(t, source, "general", 10)
	p.Start(context.Background())

	testutil.Eventually(t, time.Second, func() bool { return calls.Load() == 1 }, "first poll did not start")

	// Requests during a poll collapse into one follow-up
	for i := 0; i < 5; i++ {
		p.Refresh()
	}
	close(release)

	testutil.Eventually(t, time.Second, func() bool { return calls.Load() == 2 }, "follow-up poll did not run")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPoller_SnapshotIsCopy(t *testing.T) {
	source := testutil.NewMockStreamsClient(testutil.Rows(testutil.NewTestMessage())...)
	p := newTestPoller(t, source, "general", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	snap := p.Snapshot()
	snap.Messages[0].Content = "changed"

	assert.NotEqual(t, "changed", p.Snapshot().Messages[0].Content)
}

func TestPoller_StopsWithContext(t *testing.T) {
	source := testutil.NewMockStreamsClient()
	p := newTestPoller(t, source, "general", 10)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	waitWindow(t, p, loaded)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after context cancellation")
	}
}

func TestPoller_SetsWindowSizeGauge(t *testing.T) {
	msgs := testutil.NewTestMessages("gauge-room", 4)
	source := testutil.NewMockStreamsClient(testutil.Rows(msgs...)...)
	p := newTestPoller(t, source, "gauge-room", 3)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	assert.Equal(t, 3.0, promtest.ToFloat64(observability.WindowSize.WithLabelValues("gauge-room")))
}

func TestPoller_WindowSizeGaugeAllRooms(t *testing.T) {
	source := testutil.NewMockStreamsClient(testutil.Rows(
		testutil.NewTestMessage(testutil.WithRoom("general")),
		testutil.NewTestMessage(testutil.WithRoom("random")),
	)...)
	p := newTestPoller(t, source, "", 10)

	p.Start(context.Background())
	waitWindow(t, p, loaded)

	assert.Equal(t, 2.0, promtest.ToFloat64(observability.WindowSize.WithLabelValues("all")))
}

func TestPoller_PendingUpdateMatchesSnapshot(t *testing.T) {
	source := testutil.NewMockStreamsClient(testutil.Rows(
		testutil.NewTestMessage(testutil.WithRoom("general")),
		testutil.NewTestMessage(testutil.WithRoom("random")),
	)...)
	p := newTestPoller(t, source, "general", 10)
	p.Start(context.Background())

	rooms := []string{"general", "random"}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, p.Retarget(rooms[(g+i)%2], 5+g))
				p.Refresh()
			}
		}(g)
	}
	wg.Wait()

	// No poll runs after Stop, so the pending update is final
	p.Stop()

	select {
	case w := <-p.Updates():
		assert.Equal(t, p.Snapshot(), w, "the newest window must be the one left for readers")
	default:
		t.Fatal("no window pending after updates")
	}
}
