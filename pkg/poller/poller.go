// Package poller keeps keyed queries fresh by refetching them on a fixed
// interval.
//
// Each key has at most one fetch in flight. A tick that finds a fetch still
// running is skipped. Invalidate cancels the running fetch and starts a new
// one, and only the newest fetch may publish its result. Queries that nobody
// reads for IdleTTL stop polling and are dropped.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultIdleTTL  = 2 * time.Minute
)

// ErrNotSubscribed is returned by Wait for keys that are not polled.
var ErrNotSubscribed = errors.New("poller: key not subscribed")

// FetchFunc loads the current value of a query.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is the last accepted result of a query.
type Snapshot[T any] struct {
	Key        string
	Value      T
	Err        error
	UpdatedAt  time.Time
	Generation uint64
}

// Options configure a Poller.
type Options[T any] struct {
	Interval time.Duration
	IdleTTL  time.Duration
	// OnUpdate is called after every accepted fetch, outside any lock.
	OnUpdate func(Snapshot[T])
	Logger   *slog.Logger
}

type query[T any] struct {
	key   string
	fetch FetchFunc[T]

	// guarded by Poller.mu
	gen      uint64
	cancel   context.CancelFunc
	snap     *Snapshot[T]
	lastUsed time.Time

	ready    chan struct{}
	readyOne sync.Once
	refetch  chan struct{}
	stop     chan struct{}
}

// Poller polls registered queries.
type Poller[T any] struct {
	interval time.Duration
	idleTTL  time.Duration
	onUpdate func(Snapshot[T])
	logger   *slog.Logger

	mu      sync.Mutex
	queries map[string]*query[T]
	ctx     context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Poller. Call Stop to end all polling.
func New[T any](opts Options[T]) *Poller[T] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller[T]{
		interval: opts.Interval,
		idleTTL:  opts.IdleTTL,
		onUpdate: opts.OnUpdate,
		logger:   opts.Logger,
		queries:  make(map[string]*query[T]),
		ctx:      ctx,
		stopAll:  cancel,
		now:      time.Now,
	}
}

// Subscribe registers key and starts polling it. Subscribing to a key that is
// already polled only marks it as used.
func (p *Poller[T]) Subscribe(key string, fetch FetchFunc[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queries[key]; ok {
		q.lastUsed = p.now()
		return
	}
	if p.ctx.Err() != nil {
		return
	}

	q := &query[T]{
		key:      key,
		fetch:    fetch,
		lastUsed: p.now(),
		ready:    make(chan struct{}),
		refetch:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	p.queries[key] = q
	p.wg.Add(1)
	go p.loop(q)
}

// Get returns the latest snapshot of key and marks the query as used.
func (p *Poller[T]) Get(key string) (Snapshot[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.queries[key]
	if !ok {
		return Snapshot[T]{}, false
	}
	q.lastUsed = p.now()
	if q.snap == nil {
		return Snapshot[T]{}, false
	}
	return *q.snap, true
}

// Wait blocks until key has its first snapshot or ctx is done.
func (p *Poller[T]) Wait(ctx context.Context, key string) (Snapshot[T], error) {
	p.mu.Lock()
	q, ok := p.queries[key]
	p.mu.Unlock()
	if !ok {
		return Snapshot[T]{}, ErrNotSubscribed
	}

	select {
	case <-q.ready:
	case <-ctx.Done():
		return Snapshot[T]{}, ctx.Err()
	}
	snap, _ := p.Get(key)
	return snap, nil
}

// Invalidate schedules an immediate refetch of every key starting with prefix
// and returns how many queries matched.
func (p *Poller[T]) Invalidate(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for key, q := range p.queries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		n++
		select {
		case q.refetch <- struct{}{}:
		default:
			// a refetch is already pending
		}
	}
	return n
}

// Unsubscribe stops polling key and cancels its in-flight fetch.
func (p *Poller[T]) Unsubscribe(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(key)
}

// Keys returns the polled keys.
func (p *Poller[T]) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.queries))
	for k := range p.queries {
		keys = append(keys, k)
	}
	return keys
}

// Stop ends every query and waits for their goroutines.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.stopAll()
	for key := range p.queries {
		p.removeLocked(key)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller[T]) removeLocked(key string) {
	q, ok := p.queries[key]
	if !ok {
		return
	}
	delete(p.queries, key)
	if q.cancel != nil {
		q.cancel()
	}
	close(q.stop)
}

func (p *Poller[T]) loop(q *query[T]) {
	defer p.wg.Done()

	p.start(q, true)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.idle(q) {
				p.logger.Debug("poller query idle, stopping", "key", q.key)
				p.Unsubscribe(q.key)
				return
			}
			p.start(q, false)
		case <-q.refetch:
			p.start(q, true)
		case <-q.stop:
			return
		}
	}
}

func (p *Poller[T]) idle(q *query[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(q.lastUsed) > p.idleTTL
}

// start launches a new fetch for q. With replace the fetch in flight is
// cancelled, otherwise start does nothing while one is running.
func (p *Poller[T]) start(q *query[T], replace bool) {
	p.mu.Lock()
	if p.queries[q.key] != q {
		p.mu.Unlock()
		return
	}
	if q.cancel != nil {
		if !replace {
			p.mu.Unlock()
			p.logger.Debug("poll still running, skipping tick", "key", q.key)
			return
		}
		q.cancel()
	}
	q.gen++
	gen := q.gen
	ctx, cancel := context.WithCancel(p.ctx)
	q.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		value, err := q.fetch(ctx)
		p.publish(q, gen, value, err)
	}()
}

func (p *Poller[T]) publish(q *query[T], gen uint64, value T, err error) {
	p.mu.Lock()
	if q.gen != gen {
		// superseded by a newer fetch
		p.mu.Unlock()
		return
	}
	if p.queries[q.key] != q {
		p.mu.Unlock()
		return
	}
	snap := Snapshot[T]{
		Key:        q.key,
		Value:      value,
		Err:        err,
		UpdatedAt:  p.now(),
		Generation: gen,
	}
	q.snap = &snap
	q.cancel = nil
	p.mu.Unlock()

	q.readyOne.Do(func() { close(q.ready) })
	if err != nil {
		p.logger.Warn("poll failed", "key", q.key, "error", err)
	}
	if p.onUpdate != nil {
		p.onUpdate(snap)
	}
}
