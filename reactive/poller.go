package reactive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller repeats a Single on a fixed interval and fans the values out to its
// subscribers. The ticker runs only while there is at least one subscriber.
type Poller[T any] struct {
	interval time.Duration
	single   *Single[T]
	logger   *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]*subscriber[T]
	nextID  uint64
	latest  T
	version uint64 // bumped with every new value; 0 means none yet
	gen     uint64 // bumped whenever the loop is started or stopped
	stop    context.CancelFunc
}

// subscriber delivers to one observer. Callbacks run without any poller lock
// held, so an observer may subscribe or unsubscribe from inside them.
type subscriber[T any] struct {
	obs  Observer[T]
	mu   sync.Mutex // one callback at a time
	seen uint64     // version of the last value delivered
}

// deliver drops values older than one already delivered, so a replay racing
// a tick never goes backwards.
func (s *subscriber[T]) deliver(v T, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.seen {
		return
	}
	s.seen = version
	s.obs.value(v)
}

func (s *subscriber[T]) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs.error(err)
}

// PollerOption configures a Poller.
type PollerOption[T any] func(*Poller[T])

func WithPollerLogger[T any](l *slog.Logger) PollerOption[T] {
	return func(p *Poller[T]) { p.logger = l }
}

// NewPoller polls call every interval with IsTransient suppression.
func NewPoller[T any](interval time.Duration, call Call[T], opts ...PollerOption[T]) *Poller[T] {
	return NewPollerFrom(interval, Poll(call, nil), opts...)
}

// NewPollerFrom polls an existing Single.
func NewPollerFrom[T any](interval time.Duration, single *Single[T], opts ...PollerOption[T]) *Poller[T] {
	p := &Poller[T]{
		interval: interval,
		single:   single,
		logger:   slog.Default(),
		subs:     make(map[uint64]*subscriber[T]),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers obs. The latest value, if any, is replayed to it
// immediately; the first subscriber starts the ticker. The returned function
// unsubscribes, and the last one to leave stops the ticker.
func (p *Poller[T]) Subscribe(obs Observer[T]) (unsubscribe func()) {
	sub := &subscriber[T]{obs: obs}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = sub
	if len(p.subs) == 1 {
		p.start()
	}
	latest, version := p.latest, p.version
	p.mu.Unlock()

	if version > 0 {
		sub.deliver(latest, version)
	}

	var once sync.Once
	return func() { once.Do(func() { p.unsubscribe(id) }) }
}

// Subscribers reports the current subscriber count.
func (p *Poller[T]) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Latest returns the most recent value seen, if any.
func (p *Poller[T]) Latest() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.version > 0
}

func (p *Poller[T]) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
	if len(p.subs) == 0 && p.stop != nil {
		p.stop()
		p.stop = nil
		p.gen++
	}
}

// start must be called with mu held.
func (p *Poller[T]) start() {
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	go p.loop(ctx, p.gen)
}

func (p *Poller[T]) loop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.tick(ctx, gen)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context, gen uint64) {
	v, ok, err := p.single.get(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.Debug("poll failed", slog.String("err", err.Error()))
	}
	if !ok && err == nil {
		return
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if ok {
		p.version++
		p.latest = v
	}
	version := p.version
	subs := make([]*subscriber[T], 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		if err != nil {
			s.fail(err)
		} else {
			s.deliver(v, version)
		}
	}
}
