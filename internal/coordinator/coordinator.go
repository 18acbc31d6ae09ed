// Package coordinator mediates between the local store and a remote source
// and exposes data to observers as status-tagged streams.
//
// One observation reads the cache immediately (emitting Loading), decides
// through a RefreshPolicy whether to fetch, and emits a terminal Success or
// Error. Concurrent observations of the same key share a single fetch.
package coordinator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basecamp/issuesync/internal/inflight"
	"github.com/basecamp/issuesync/internal/live"
	"github.com/basecamp/issuesync/internal/observability"
	"github.com/basecamp/issuesync/internal/remote"
	"github.com/basecamp/issuesync/internal/resource"
	"github.com/basecamp/issuesync/internal/store"
)

// fallbackReason is used when a failure carries no message of its own.
const fallbackReason = "remote fetch failed"

// DefaultPrefetchLimit caps concurrent fetches started by Prefetch.
const DefaultPrefetchLimit = 4

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	hooks         observability.Hooks
	fetchTimeout  time.Duration
	prefetchLimit int
	baseCtx       context.Context
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHooks sets the receiver of cache and fetch events.
func WithHooks(h observability.Hooks) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = h
		}
	}
}

// WithFetchTimeout bounds each remote fetch. Zero means no bound beyond
// the coordinator's own lifetime.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

// WithPrefetchLimit sets how many fetches Prefetch runs at once.
func WithPrefetchLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.prefetchLimit = n
		}
	}
}

// WithBaseContext sets the parent of the context fetches run on.
// Fetches stop when it is canceled or Close is called.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.baseCtx = ctx
		}
	}
}

// Coordinator orchestrates cache reads, deduplicated fetches and
// write-through for one entity type.
type Coordinator[K cmp.Ordered, G comparable, T store.Entity[K, G]] struct {
	store  store.LocalStore[K, G, T]
	remote remote.Source[K, G, T]
	items  *inflight.Registry[K]
	groups *inflight.Registry[G]

	logger        *slog.Logger
	hooks         observability.Hooks
	fetchTimeout  time.Duration
	prefetchLimit int

	// Fetches run on ctx rather than the observer's context so an observer
	// leaving does not abort a fetch other observers may be waiting on.
	ctx     context.Context
	cancel  context.CancelFunc
	fetches sync.WaitGroup
	streams sync.WaitGroup
}

// New creates a coordinator over st and src.
func New[K cmp.Ordered, G comparable, T store.Entity[K, G]](
	st store.LocalStore[K, G, T],
	src remote.Source[K, G, T],
	opts ...Option,
) *Coordinator[K, G, T] {
	o := options{
		logger:        slog.New(slog.DiscardHandler),
		hooks:         observability.NoopHooks{},
		prefetchLimit: DefaultPrefetchLimit,
		baseCtx:       context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	return &Coordinator[K, G, T]{
		store:         st,
		remote:        src,
		items:         inflight.New[K](),
		groups:        inflight.New[G](),
		logger:        o.logger,
		hooks:         o.hooks,
		fetchTimeout:  o.fetchTimeout,
		prefetchLimit: o.prefetchLimit,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Observe streams the Resource for key. policy decides whether the cached
// value warrants a fetch; failures surface as an Error emission and are
// never retried automatically.
func (c *Coordinator[K, G, T]) Observe(ctx context.Context, key K, policy RefreshPolicy[T]) *Stream[T] {
	q := query[T]{
		read:    func() *live.Value[T] { return c.store.GetByID(key) },
		watch:   func() *live.Value[T] { return c.store.Watch(key) },
		hit:     func(v *live.Value[T]) bool { return v != nil },
		refresh: func(ctx context.Context) error { return c.Refresh(ctx, key) },
	}
	return observe(c, ctx, q, policy)
}

// ObserveGroup streams the Resource for every entity in group.
// The data handle is never nil; it holds an empty collection when nothing
// is cached.
func (c *Coordinator[K, G, T]) ObserveGroup(ctx context.Context, group G, policy RefreshPolicy[[]T]) *Stream[[]T] {
	q := query[[]T]{
		read:  func() *live.Value[[]T] { return c.store.GetByGroup(group) },
		watch: func() *live.Value[[]T] { return c.store.GetByGroup(group) },
		hit: func(v *live.Value[[]T]) bool {
			items, _ := v.Get()
			return len(items) > 0
		},
		refresh: func(ctx context.Context) error { return c.RefreshGroup(ctx, group) },
	}
	return observe(c, ctx, q, policy)
}

// Refresh fetches key now, sharing any fetch already in flight, and waits
// for it. ctx bounds only the wait.
func (c *Coordinator[K, G, T]) Refresh(ctx context.Context, key K) error {
	label := fmt.Sprintf("id:%v", key)
	return run(c, ctx, c.items, key, observability.FetchInfo{Key: label}, func(fctx context.Context) error {
		var (
			rev  uint64
			revd store.Revisioned[K, T]
		)
		if r, ok := c.store.(store.Revisioned[K, T]); ok {
			revd = r
			rev = r.Revision(key)
		}

		item, err := c.remote.Fetch(fctx, key)
		if err != nil {
			return err
		}

		if revd != nil {
			applied, err := revd.UpsertIfUnchanged(key, rev, item)
			if err != nil {
				return fmt.Errorf("saving %s: %w", label, err)
			}
			if !applied {
				c.logger.Debug("discarded fetch result, record changed during fetch", "key", label)
			}
			return nil
		}
		if err := c.store.Upsert(item); err != nil {
			return fmt.Errorf("saving %s: %w", label, err)
		}
		return nil
	})
}

// RefreshGroup fetches every entity in group now and writes them as one
// batch. Records written locally while the fetch was in flight keep their
// local value. Shares any group fetch already in flight.
func (c *Coordinator[K, G, T]) RefreshGroup(ctx context.Context, group G) error {
	label := fmt.Sprintf("group:%v", group)
	info := observability.FetchInfo{Key: label, Group: true}
	return run(c, ctx, c.groups, group, info, func(fctx context.Context) error {
		revd, ok := c.store.(store.Revisioned[K, T])
		var since uint64
		if ok {
			since = revd.Watermark()
		}

		items, err := c.remote.FetchGroup(fctx, group)
		if err != nil {
			return err
		}

		if ok {
			skipped, err := revd.UpsertUnchangedSince(since, items...)
			if err != nil {
				return fmt.Errorf("saving %s: %w", label, err)
			}
			if skipped > 0 {
				c.logger.Debug("discarded stale group records, changed during fetch",
					"key", label, "skipped", skipped)
			}
			return nil
		}
		if err := c.store.Upsert(items...); err != nil {
			return fmt.Errorf("saving %s: %w", label, err)
		}
		return nil
	})
}

// Prefetch refreshes keys concurrently, at most the configured limit at a
// time. Every key is attempted; failures are joined into the result.
func (c *Coordinator[K, G, T]) Prefetch(ctx context.Context, keys ...K) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.prefetchLimit)

	for _, key := range keys {
		g.Go(func() error {
			if err := c.Refresh(ctx, key); err != nil {
				mu.Lock()
				errs = append(errs, &KeyError[K]{Key: key, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// KeyError is one key's failure within a Prefetch.
type KeyError[K any] struct {
	Key K
	Err error
}

func (e *KeyError[K]) Error() string { return fmt.Sprintf("%v: %v", e.Key, e.Err) }

func (e *KeyError[K]) Unwrap() error { return e.Err }

// KeyErrors splits an error returned by Prefetch into per-key failures.
func KeyErrors[K any](err error) []*KeyError[K] {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	var out []*KeyError[K]
	for _, e := range errs {
		var ke *KeyError[K]
		if errors.As(e, &ke) {
			out = append(out, ke)
		}
	}
	return out
}

// Close cancels in-flight fetches, ends every open stream and waits for
// both to finish. Cache writes already made are kept.
func (c *Coordinator[K, G, T]) Close() {
	if n := c.items.Len() + c.groups.Len(); n > 0 {
		c.logger.Debug("canceling in-flight fetches", "count", n)
	}
	c.cancel()
	c.fetches.Wait()
	c.streams.Wait()
}

// query is what observe needs to know about one kind of observation.
type query[V any] struct {
	read    func() *live.Value[V] // handle to emit; may be nil
	watch   func() *live.Value[V] // handle to evaluate and subscribe to; never nil
	hit     func(*live.Value[V]) bool
	refresh func(ctx context.Context) error
}

func observe[K cmp.Ordered, G comparable, T store.Entity[K, G], V any](
	c *Coordinator[K, G, T],
	ctx context.Context,
	q query[V],
	policy RefreshPolicy[V],
) *Stream[V] {
	s := newStream[V](ctx)
	stop := context.AfterFunc(c.ctx, s.cancel)

	c.streams.Add(1)
	go func() {
		defer c.streams.Done()
		defer stop()
		defer s.finish()

		watched := q.watch()
		label := watched.Key()
		// Subscribe before the first read so no write between the terminal
		// read and the live phase is missed.
		changes, unsubscribe := watched.Subscribe()
		defer unsubscribe()

		cached := q.read()
		c.hooks.OnCacheRead(s.ctx, label, q.hit(cached))
		if !s.send(resource.Loading(cached)) {
			return
		}

		// An empty group still publishes a collection; the policy sees it
		// as missing.
		snap := watched.Snapshot()
		snap.HasData = snap.HasData && q.hit(watched)

		var terminal resource.Resource[V]
		if policy(snap) {
			err := q.refresh(s.ctx)
			if s.ctx.Err() != nil {
				return
			}
			if err != nil {
				s.setErr(err)
				terminal = resource.Error(reason(err), q.read())
			} else {
				terminal = resource.Success(q.read())
			}
		} else {
			terminal = resource.Success(q.read())
		}
		seen := watched.Version()
		if !s.send(terminal) {
			return
		}

		for {
			select {
			case <-s.ctx.Done():
				return
			case snap, ok := <-changes:
				if !ok {
					return
				}
				if snap.Version <= seen {
					continue
				}
				seen = snap.Version
				c.logger.Debug("record changed", "key", label, "version", snap.Version)
				if !s.send(resource.Success(q.read())) {
					return
				}
			}
		}
	}()
	return s
}

// run performs work as the owner of key, or joins the flight already in
// progress. The work runs on the coordinator's context; ctx only bounds
// how long the caller waits for the outcome.
func run[K cmp.Ordered, G comparable, T store.Entity[K, G], R comparable](
	c *Coordinator[K, G, T],
	ctx context.Context,
	reg *inflight.Registry[R],
	key R,
	info observability.FetchInfo,
	work func(ctx context.Context) error,
) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("coordinator closed: %w", err)
	}

	t, owner := reg.TryBegin(key)
	info.Ticket = t.ID()
	if !owner {
		c.hooks.OnFetchShared(ctx, info)
		c.logger.Debug("joined in-flight fetch", "key", info.Key, "ticket", info.Ticket)
		return t.Wait(ctx)
	}

	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()

		fctx := c.ctx
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.fetchTimeout)
			defer cancel()
		}
		fctx = c.hooks.OnFetchStart(fctx, info)
		c.logger.Debug("fetch started", "key", info.Key, "ticket", info.Ticket)

		start := time.Now()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", inflight.ErrPanicked, r)
				c.logger.Error("fetch panicked", "key", info.Key, "ticket", info.Ticket, "panic", r)
			}
			duration := time.Since(start)
			c.hooks.OnFetchEnd(fctx, info, err, duration)
			if err != nil {
				c.logger.Warn("fetch failed", "key", info.Key, "ticket", info.Ticket,
					"duration", duration, "error", err)
			} else {
				c.logger.Debug("fetch completed", "key", info.Key, "ticket", info.Ticket, "duration", duration)
			}
			reg.Finish(key, t, err)
		}()

		err = work(fctx)
	}()

	return t.Wait(ctx)
}

// reason returns the message carried by an Error emission.
func reason(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackReason
}
