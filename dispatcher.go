package canhw

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Hooks are called by a Dispatcher on its Run goroutine. Nil hooks are
// no-ops. Hooks must return promptly.
type Hooks struct {
	OnConnect         func()
	OnDisconnect      func()
	OnFatalDisconnect func(deviceID uint32)
	OnHardwareReady   func()
	OnChannelReady    func(ch Channel)
	OnMessageReceived func(ch Channel)
	OnStatusChanged   func(ch Channel)
	OnChannelClosed   func(ch Channel)
	OnHardwareClosed  func()
	OnError           func(err error)
}

const defaultDispatchBuffer = 100

// Dispatcher queues events posted from driver context and demultiplexes
// them onto Hooks from the goroutine that calls Run. It never touches
// device state.
type Dispatcher struct {
	hooks   Hooks
	events  chan Event
	log     zerolog.Logger
	dropped atomic.Uint64

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewDispatcher(hooks Hooks, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	return &Dispatcher{
		hooks:     hooks,
		events:    make(chan Event, buffer),
		log:       Logger().With().Str("component", "dispatcher").Logger(),
		closeChan: make(chan struct{}),
	}
}

// Post queues ev without blocking. It reports false when the queue is
// full or the dispatcher is closed.
func (d *Dispatcher) Post(ev Event) bool {
	select {
	case <-d.closeChan:
		return false
	default:
	}
	select {
	case d.events <- ev:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("event", ev.String()).Msg("event channel full")
		return false
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Dispatch calls the hook matching ev synchronously.
func (d *Dispatcher) Dispatch(ev Event) {
	h := d.hooks
	switch ev.Type {
	case EventConnect:
		if h.OnConnect != nil {
			h.OnConnect()
		}
	case EventDisconnect:
		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
	case EventFatalDisconnect:
		if h.OnFatalDisconnect != nil {
			h.OnFatalDisconnect(ev.DeviceID)
		}
	case EventHardwareReady:
		if h.OnHardwareReady != nil {
			h.OnHardwareReady()
		}
	case EventChannelReady:
		if h.OnChannelReady != nil {
			h.OnChannelReady(ev.Channel)
		}
	case EventMessageReceived:
		if h.OnMessageReceived != nil {
			h.OnMessageReceived(ev.Channel)
		}
	case EventStatusChanged:
		if h.OnStatusChanged != nil {
			h.OnStatusChanged(ev.Channel)
		}
	case EventChannelClosed:
		if h.OnChannelClosed != nil {
			h.OnChannelClosed(ev.Channel)
		}
	case EventHardwareClosed:
		if h.OnHardwareClosed != nil {
			h.OnHardwareClosed()
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(ev.Err)
		}
	default:
		d.log.Debug().Int("type", int(ev.Type)).Msg("unknown event")
	}
}

// Run drains the queue until ctx is done or Close is called. Events still
// queued at Close are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closeChan:
			for {
				select {
				case ev := <-d.events:
					d.Dispatch(ev)
				default:
					return nil
				}
			}
		case ev := <-d.events:
			d.Dispatch(ev)
		}
	}
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closeChan)
	})
}

// RunAll runs every dispatcher on its own goroutine and returns when all
// of them have stopped.
func RunAll(ctx context.Context, ds ...*Dispatcher) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range ds {
		d := d
		g.Go(func() error {
			return d.Run(gctx)
		})
	}
	return g.Wait()
}
