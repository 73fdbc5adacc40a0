package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/adwski/webrtc-meshrelay/backend/storage/memory"
	"github.com/rs/zerolog"
)

const (
	defaultEventQueueSize      = 256
	defaultZombieSweepInterval = time.Minute
	defaultZombieThreshold     = 10 * time.Minute
	defaultRoomSweepInterval   = time.Hour
)

var (
	ErrStopped = errors.New("relay is stopped")
)

type (
	// Endpoint is the relay's view of a client connection.
	// Send must not block, false means the message could not be queued.
	// Closed reports whether the connection is gone or going away.
	Endpoint interface {
		Send(model.Envelope) bool
		Close()
		Closed() bool
	}

	Config struct {
		Logger              *zerolog.Logger
		Directory           *memory.Directory
		EventQueueSize      int
		ZombieSweepInterval time.Duration
		ZombieThreshold     time.Duration
		RoomSweepInterval   time.Duration
		Now                 func() time.Time
	}

	// Relay owns the registry, the room directory and the endpoint table.
	// All of them are touched only from the Run goroutine.
	Relay struct {
		logger    zerolog.Logger
		dir       *memory.Directory
		endpoints map[string]Endpoint
		handlers  map[string]handlerFunc
		events    chan func()
		done      chan struct{}
		now       func() time.Time

		zombieSweepInterval time.Duration
		zombieThreshold     time.Duration
		roomSweepInterval   time.Duration
	}

	handlerFunc func(connID string, payload json.RawMessage) error
)

func New(cfg Config) *Relay {
	r := &Relay{
		logger:              cfg.Logger.With().Str("component", "relay").Logger(),
		dir:                 cfg.Directory,
		endpoints:           make(map[string]Endpoint),
		done:                make(chan struct{}),
		now:                 cfg.Now,
		zombieSweepInterval: cfg.ZombieSweepInterval,
		zombieThreshold:     cfg.ZombieThreshold,
		roomSweepInterval:   cfg.RoomSweepInterval,
	}
	queueSize := cfg.EventQueueSize
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}
	r.events = make(chan func(), queueSize)
	if r.now == nil {
		r.now = time.Now
	}
	if r.dir == nil {
		r.dir = memory.NewDirectory(memory.Config{Now: r.now})
	}
	if r.zombieSweepInterval <= 0 {
		r.zombieSweepInterval = defaultZombieSweepInterval
	}
	if r.zombieThreshold <= 0 {
		r.zombieThreshold = defaultZombieThreshold
	}
	if r.roomSweepInterval <= 0 {
		r.roomSweepInterval = defaultRoomSweepInterval
	}
	r.handlers = r.dispatchTable()
	return r
}

// Run processes relay events until ctx is done.
func (r *Relay) Run(ctx context.Context, wg *sync.WaitGroup) {
	zombieTicker := time.NewTicker(r.zombieSweepInterval)
	roomTicker := time.NewTicker(r.roomSweepInterval)
	defer func() {
		zombieTicker.Stop()
		roomTicker.Stop()
		close(r.done)
		for _, ep := range r.endpoints {
			ep.Close()
		}
		r.logger.Debug().Msg("relay stopped")
		wg.Done()
	}()

	r.logger.Info().Msg("relay started")

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.events:
			r.safely(fn)
		case <-zombieTicker.C:
			r.safely(r.sweepZombies)
		case <-roomTicker.C:
			r.safely(r.sweepRooms)
		}
	}
}

// safely runs fn so that a panic in one handler does not stop the loop.
func (r *Relay) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("relay event handler panicked")
		}
	}()
	fn()
}

func (r *Relay) post(ctx context.Context, fn func()) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

func query[T any](ctx context.Context, r *Relay, fn func() T) (T, error) {
	var zero T
	res := make(chan T, 1)
	if err := r.post(ctx, func() { res <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		select {
		case v := <-res:
			return v, nil
		default:
			return zero, ErrStopped
		}
	}
}
