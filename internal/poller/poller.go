package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"potluck/internal/apperr"
	"potluck/internal/model"
)

var (
	// ErrBusy means a tick was skipped because the previous one of the same loop is still running.
	ErrBusy = errors.New("previous tick still in flight")
	// ErrGone means the connection refused an event; the poller stops.
	ErrGone = errors.New("connection gone")
)

// Source is the read side of the message store the poller scans.
type Source interface {
	MaxMessageID(ctx context.Context) (int64, error)
	MaxReceiptID(ctx context.Context) (int64, error)
	MessagesSince(ctx context.Context, userID, afterID int64, limit int) ([]model.Message, error)
	ReceiptsSince(ctx context.Context, userID, afterID int64, limit int) ([]model.ReadReceipt, error)
}

// Emitter delivers one event to the connection. It returns false when the
// connection is gone.
type Emitter func(ev model.Event) bool

// State is the lifecycle position of a poller.
type State int32

const (
	StateConnecting State = iota
	StateInitialized
	StatePolling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StatePolling:
		return "polling"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds the loop cadences.
type Config struct {
	MessageInterval   time.Duration
	ReceiptInterval   time.Duration
	KeepaliveInterval time.Duration
	BatchSize         int
}

// DefaultConfig polls messages faster than receipts.
func DefaultConfig() Config {
	return Config{
		MessageInterval:   2 * time.Second,
		ReceiptInterval:   5 * time.Second,
		KeepaliveInterval: 25 * time.Second,
		BatchSize:         200,
	}
}

// Poller turns store changes into stream events for one connection.
type Poller struct {
	UserID int64

	src  Source
	emit Emitter
	wake <-chan struct{}
	cfg  Config

	lastMessageID atomic.Int64
	lastReceiptID atomic.Int64
	messagesBusy  atomic.Bool
	receiptsBusy  atomic.Bool
	state         atomic.Int32
}

// New creates a poller for userID. wake may be nil; each receive on it
// triggers an immediate message tick.
func New(userID int64, src Source, emit Emitter, wake <-chan struct{}, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.MessageInterval <= 0 {
		cfg.MessageInterval = def.MessageInterval
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = def.ReceiptInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Poller{UserID: userID, src: src, emit: emit, wake: wake, cfg: cfg}
}

// State returns the current lifecycle state.
func (p *Poller) State() State { return State(p.state.Load()) }

// Watermarks returns the highest message and receipt ids already observed.
func (p *Poller) Watermarks() (message, receipt int64) {
	return p.lastMessageID.Load(), p.lastReceiptID.Load()
}

// Init captures the current maxima as watermarks. Nothing older is ever
// delivered over this connection.
func (p *Poller) Init(ctx context.Context) error {
	msgID, err := p.src.MaxMessageID(ctx)
	if err != nil {
		return fmt.Errorf("init message watermark: %w", err)
	}
	receiptID, err := p.src.MaxReceiptID(ctx)
	if err != nil {
		return fmt.Errorf("init receipt watermark: %w", err)
	}
	p.lastMessageID.Store(msgID)
	p.lastReceiptID.Store(receiptID)
	p.state.Store(int32(StateInitialized))
	return nil
}

// Run polls until ctx is cancelled or the connection goes away. It returns
// only after every loop has stopped.
func (p *Poller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.state.Store(int32(StatePolling))
	defer p.state.Store(int32(StateClosed))

	var wg sync.WaitGroup
	wg.Add(3)
	go p.loop(ctx, cancel, &wg, p.cfg.MessageInterval, p.wake, p.PollMessages)
	go p.loop(ctx, cancel, &wg, p.cfg.ReceiptInterval, nil, p.PollReceipts)
	go p.loop(ctx, cancel, &wg, p.cfg.KeepaliveInterval, nil, p.keepalive)
	wg.Wait()
}

func (p *Poller) loop(ctx context.Context, stop context.CancelFunc, wg *sync.WaitGroup,
	every time.Duration, wake <-chan struct{}, tick func(context.Context) error) {
	defer wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		if err := tick(ctx); errors.Is(err, ErrGone) {
			stop()
			return
		}
	}
}

func (p *Poller) keepalive(ctx context.Context) error {
	if !p.emit(model.Ping()) {
		return ErrGone
	}
	return nil
}

// PollMessages runs one message tick: every new message in the user's chats
// is emitted in ascending id order, except the user's own.
func (p *Poller) PollMessages(ctx context.Context) error {
	if !p.messagesBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.messagesBusy.Store(false)

	for {
		after := p.lastMessageID.Load()
		msgs, err := p.src.MessagesSince(ctx, p.UserID, after, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Poller user=%d] ❌ message fetch after %d failed: %v", p.UserID, after, err)
			return fmt.Errorf("%w: %v", apperr.ErrTransientStore, err)
		}

		for _, m := range msgs {
			if m.ID <= p.lastMessageID.Load() {
				continue
			}
			if m.SenderID != p.UserID && !p.emit(model.NewMessage(m)) {
				return ErrGone
			}
			p.lastMessageID.Store(m.ID)
		}

		if len(msgs) < p.cfg.BatchSize {
			return nil
		}
	}
}

// PollReceipts runs one receipt tick: every new read receipt on the user's
// own messages is emitted in ascending id order, except the user's own reads.
func (p *Poller) PollReceipts(ctx context.Context) error {
	if !p.receiptsBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.receiptsBusy.Store(false)

	for {
		after := p.lastReceiptID.Load()
		receipts, err := p.src.ReceiptsSince(ctx, p.UserID, after, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Poller user=%d] ❌ receipt fetch after %d failed: %v", p.UserID, after, err)
			return fmt.Errorf("%w: %v", apperr.ErrTransientStore, err)
		}

		for _, r := range receipts {
			if r.ID <= p.lastReceiptID.Load() {
				continue
			}
			if r.ReaderID != p.UserID && !p.emit(model.MessageRead(r)) {
				return ErrGone
			}
			p.lastReceiptID.Store(r.ID)
		}

		if len(receipts) < p.cfg.BatchSize {
			return nil
		}
	}
}
