package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

type fakePublisher struct {
	name   string
	mu     sync.Mutex
	got    []uint64
	calls  int
	fail   bool
	block  chan struct{}
	closed bool
	err    error
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(ctx context.Context, ev types.Event) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("downstream unavailable")
	}
	f.got = append(f.got, ev.Seq)
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.err
}

func (f *fakePublisher) seqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.got...)
}

func event(seq uint64) types.Event {
	return types.Event{
		RoomID:    "r1",
		Seq:       seq,
		Timestamp: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Payload:   types.PresenceChanged{Participant: types.Participant{ID: "A", Present: true, Online: true}},
	}
}

func TestRelay_DeliversInOrderToEveryPublisher(t *testing.T) {
	a := &fakePublisher{name: "a"}
	b := &fakePublisher{name: "b"}
	r := New(nil, 16, a, b)
	r.Start(context.Background())

	for seq := uint64(1); seq <= 5; seq++ {
		r.Publish(event(seq))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	want := []uint64{1, 2, 3, 4, 5}
	assert.Equal(t, want, a.seqs())
	assert.Equal(t, want, b.seqs())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Zero(t, r.Dropped())
}

func TestRelay_FullQueueDropsWithoutBlocking(t *testing.T) {
	slow := &fakePublisher{name: "slow", block: make(chan struct{})}
	r := New(nil, 2, slow)
	r.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(1); seq <= 10; seq++ {
			r.Publish(event(seq))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a slow publisher")
	}
	assert.GreaterOrEqual(t, r.Dropped(), uint64(7))

	close(slow.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestRelay_PublishErrorsDoNotStopWorker(t *testing.T) {
	flaky := &fakePublisher{name: "flaky", fail: true}
	r := New(nil, 8, flaky)
	r.Start(context.Background())

	r.Publish(event(1))
	require.Eventually(t, func() bool {
		flaky.mu.Lock()
		defer flaky.mu.Unlock()
		return flaky.calls == 1
	}, time.Second, 5*time.Millisecond)

	flaky.mu.Lock()
	flaky.fail = false
	flaky.mu.Unlock()
	r.Publish(event(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, []uint64{2}, flaky.seqs())
}

func TestRelay_CloseCombinesCloserErrors(t *testing.T) {
	a := &fakePublisher{name: "a", err: errors.New("a failed")}
	b := &fakePublisher{name: "b", err: errors.New("b failed")}
	r := New(nil, 4, a, b)
	r.Start(context.Background())

	err := r.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")

	r.Publish(event(1))
	assert.Empty(t, a.seqs(), "publishing after close is ignored")
	assert.NoError(t, r.Close(context.Background()))
}

func TestSubject(t *testing.T) {
	got := Subject("studyroom", types.Event{RoomID: "lib-3", Payload: types.ScoreUpdated{}})
	assert.Equal(t, "studyroom.lib-3.score_updated", got)
}
