package hub

import (
	"context"
	"log"
	"time"

	"github.com/samber/lo"

	"potluck/internal/model"
)

// Notifier carries wake-ups to other service instances.
type Notifier interface {
	Publish(ctx context.Context, userIDs []int64) error
}

// Dispatcher delivers to a resolved set of participants, never to the
// participant the event originated from.
type Dispatcher struct {
	Registry       *Registry
	Notifier       Notifier
	PublishTimeout time.Duration
	// WakeDelay postpones wake-ups until a fresh row is past the store's
	// commit grace window, so the woken poll can see it.
	WakeDelay time.Duration
}

// NewDispatcher creates a dispatcher. notifier may be nil for a single
// instance deployment.
func NewDispatcher(reg *Registry, notifier Notifier) *Dispatcher {
	return &Dispatcher{Registry: reg, Notifier: notifier, PublishTimeout: 2 * time.Second}
}

func recipientsOf(participants []int64, origin int64) []int64 {
	return lo.Uniq(lo.Filter(participants, func(id int64, _ int) bool { return id != origin }))
}

// Broadcast writes ev directly to the active connection of every
// participant except origin. Used for events that carry no watermark, such
// as presence. It returns the number of deliveries.
func (d *Dispatcher) Broadcast(participants []int64, origin int64, ev model.Event) int {
	delivered := 0
	for _, id := range recipientsOf(participants, origin) {
		if d.Registry.Send(id, ev) {
			delivered++
		}
	}
	return delivered
}

// Wake asks the pollers of every participant except origin to fetch now,
// locally and on other instances. Message delivery still flows through each
// connection's watermark, which keeps ordering and dedupe per connection.
// It never blocks on the remote publish.
func (d *Dispatcher) Wake(participants []int64, origin int64) int {
	recipients := recipientsOf(participants, origin)
	if len(recipients) == 0 {
		return 0
	}

	if d.WakeDelay > 0 {
		time.AfterFunc(d.WakeDelay, func() { d.wake(recipients) })
		return len(lo.Filter(recipients, func(id int64, _ int) bool { return d.Registry.Online(id) }))
	}
	return d.wake(recipients)
}

func (d *Dispatcher) wake(recipients []int64) int {
	woken := d.Registry.Wake(recipients...)

	if d.Notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.PublishTimeout)
			defer cancel()
			if err := d.Notifier.Publish(ctx, recipients); err != nil {
				log.Printf("[Dispatcher] ❌ publish wake-up for %v failed: %v", recipients, err)
			}
		}()
	}
	return woken
}
