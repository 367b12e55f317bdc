package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"potluck/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []model.Event
	failErr error
	closed  bool
}

func (s *recordingSink) WriteEvent(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *recordingSink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRegistry_Register_Send(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	sink := &recordingSink{}

	// Given no user is connected
	req.False(reg.Send(1, model.Ping()))

	// When a user registers
	conn := reg.Register(1, sink)

	// Then events reach its sink
	req.NotEmpty(conn.ID)
	req.True(reg.Send(1, model.Ping()))
	req.Len(sink.Events(), 1)
	req.Equal(1, reg.Len())
}

func TestRegistry_NewConnectionSupersedesOld(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	firstTab := &recordingSink{}
	secondTab := &recordingSink{}

	// Given the same user opens two tabs
	first := reg.Register(7, firstTab)
	second := reg.Register(7, secondTab)

	// Then only the most recent connection receives pushes
	req.True(reg.Send(7, model.Ping()))
	req.Empty(firstTab.Events())
	req.Len(secondTab.Events(), 1)
	req.True(firstTab.IsClosed())
	req.True(first.Closed())

	// And the old connection's teardown does not evict the new one
	req.False(reg.Unregister(7, first.ID))
	current, ok := reg.Lookup(7)
	req.True(ok)
	req.Equal(second.ID, current.ID)

	req.True(reg.Unregister(7, second.ID))
	req.Zero(reg.Len())
}

func TestRegistry_FailedWriteUnregisters(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	sink := &recordingSink{failErr: errors.New("broken pipe")}
	reg.Register(3, sink)

	req.False(reg.Send(3, model.Ping()))
	req.False(reg.Online(3))
	req.True(sink.IsClosed())
}

func TestRegistry_ConcurrentUsers(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c := reg.Register(id, &recordingSink{})
			reg.Send(id, model.Ping())
			reg.Unregister(id, c.ID)
		}(i)
	}
	wg.Wait()
	require.Zero(t, reg.Len())
}

func TestDispatcher_Broadcast_ExcludesOrigin(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	sender := &recordingSink{}
	peer := &recordingSink{}
	reg.Register(1, sender)
	reg.Register(2, peer)

	d := NewDispatcher(reg, nil)
	n := d.Broadcast([]int64{1, 2, 3}, 1, model.Presence(1, true))

	req.Equal(1, n)
	req.Empty(sender.Events())
	req.Len(peer.Events(), 1)
	req.Equal(model.EventPresenceOnline, peer.Events()[0].Type)
}

type fakeNotifier struct {
	published chan []int64
}

func (f *fakeNotifier) Publish(_ context.Context, userIDs []int64) error {
	f.published <- userIDs
	return nil
}

func TestDispatcher_Wake(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	senderConn := reg.Register(1, &recordingSink{})
	peerConn := reg.Register(2, &recordingSink{})
	notifier := &fakeNotifier{published: make(chan []int64, 1)}

	d := NewDispatcher(reg, notifier)
	woken := d.Wake([]int64{1, 2, 2, 9}, 1)

	// Then only the local peer is woken, and remote instances hear about every recipient
	req.Equal(1, woken)
	select {
	case <-peerConn.Wakeups():
	default:
		req.Fail("peer should have a pending wake-up")
	}
	select {
	case <-senderConn.Wakeups():
		req.Fail("sender must not be woken")
	default:
	}

	select {
	case ids := <-notifier.published:
		req.Equal([]int64{2, 9}, ids)
	case <-time.After(time.Second):
		req.Fail("wake-up was not published")
	}
}

func TestDispatcher_WakeDelay(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	peerConn := reg.Register(2, &recordingSink{})

	d := NewDispatcher(reg, nil)
	d.WakeDelay = 50 * time.Millisecond
	req.Equal(1, d.Wake([]int64{1, 2}, 1))

	// The wake-up is held back until the delay passes
	select {
	case <-peerConn.Wakeups():
		req.Fail("wake-up arrived before the delay")
	default:
	}
	select {
	case <-peerConn.Wakeups():
	case <-time.After(time.Second):
		req.Fail("delayed wake-up never arrived")
	}
}
