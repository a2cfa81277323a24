package relay

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

const publishTimeout = 5 * time.Second

// Publisher is a downstream consumer of room events.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev types.Event) error
}

// Relay hands room events to publishers without blocking the rooms. Each
// publisher has its own bounded queue and worker, so a slow database never
// holds back the message bus. Events are dropped when a queue is full.
type Relay struct {
	log     *zap.Logger
	pubs    []Publisher
	queues  []chan types.Event
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool

	done chan struct{}
	err  error
}

func New(log *zap.Logger, queueSize int, pubs ...Publisher) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Relay{
		log:    log.Named("relay"),
		pubs:   pubs,
		queues: make([]chan types.Event, len(pubs)),
		done:   make(chan struct{}),
	}
	for i := range pubs {
		r.queues[i] = make(chan types.Event, queueSize)
	}
	return r
}

// Start launches one worker per publisher.
func (r *Relay) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.pubs {
		g.Go(func() error { return r.worker(gctx, r.pubs[i], r.queues[i]) })
	}
	go func() {
		r.err = g.Wait()
		close(r.done)
	}()
}

func (r *Relay) worker(ctx context.Context, p Publisher, q <-chan types.Event) error {
	log := r.log.With(zap.String("publisher", p.Name()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-q:
			if !ok {
				return nil
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := p.Publish(pctx, ev)
			cancel()
			if err != nil {
				log.Warn("publish failed",
					zap.String("room_id", ev.RoomID),
					zap.Uint64("seq", ev.Seq),
					zap.String("type", string(ev.Type())),
					zap.Error(err))
			}
		}
	}
}

// Publish enqueues ev for every publisher. It never blocks.
func (r *Relay) Publish(ev types.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for i, q := range r.queues {
		select {
		case q <- ev:
		default:
			n := r.dropped.Add(1)
			r.log.Warn("relay queue full, dropping event",
				zap.String("publisher", r.pubs[i].Name()),
				zap.String("room_id", ev.RoomID),
				zap.Uint64("seq", ev.Seq),
				zap.Uint64("dropped_total", n))
		}
	}
}

// Dropped is the number of events lost to full queues.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Close stops intake, waits for the queues to drain, then closes every
// publisher that is an io.Closer.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()

	var err error
	select {
	case <-r.done:
		err = r.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, p := range r.pubs {
		if c, ok := p.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
