// Package coordinator orchestrates GET/PUT/DELETE across the cluster:
// classifying proxy hops from originating requests, dispatching to the
// local engine and to peers concurrently, feeding a quorum.Collector,
// and applying the resolution rules that turn a set of replica
// responses into one outbound outcome. Blocking work runs behind the
// bounded worker pools, never directly on the request goroutine.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quorumkv/internal/kverr"
	"quorumkv/internal/peer"
	"quorumkv/internal/quorum"
	"quorumkv/internal/store"
	"quorumkv/internal/topology"
	"quorumkv/internal/value"
	"quorumkv/internal/workerpool"
)

// peerClient is the subset of peer.Client's surface the coordinator
// calls through. Topology hands back its owned handles as the narrow
// topology.PeerClient interface, since it does not import internal/peer;
// the coordinator recovers the richer interface with a type assertion,
// which always succeeds because every concrete handle Topology holds
// was built by peer.New.
type peerClient interface {
	Get(ctx context.Context, key []byte) (peer.Result, error)
	Put(ctx context.Context, key []byte, data []byte, expiresAt int64) error
	Delete(ctx context.Context, key []byte) error
}

// GetOutcome is the resolved result of an originating GET.
type GetOutcome struct {
	Found bool
	Data  []byte
}

// Config bundles a Coordinator's dependencies.
type Config struct {
	Topology     *topology.Topology
	Store        store.Store
	DAOPool      *workerpool.Pool
	ProxyPool    *workerpool.Pool
	ProxyTimeout time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Coordinator implements the replicated request pipeline.
type Coordinator struct {
	topology     *topology.Topology
	store        store.Store
	daoPool      *workerpool.Pool
	proxyPool    *workerpool.Pool
	proxyTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// New builds a Coordinator from cfg, defaulting Now to time.Now and
// Logger to slog.Default when left unset.
func New(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		topology:     cfg.Topology,
		store:        cfg.Store,
		daoPool:      cfg.DAOPool,
		proxyPool:    cfg.ProxyPool,
		proxyTimeout: cfg.ProxyTimeout,
		now:          now,
		log:          logger,
	}
}

// result carries a generic task's outcome across a channel.
type result[T any] struct {
	v   T
	err error
}

// submit runs fn on pool and returns it as a quorum.Task, translating
// queue saturation into ErrOverloaded. The returned Task blocks the
// calling goroutine (one per replica, from quorum.Collector.Run) until
// fn completes, the pool rejects admission, or ctx is cancelled.
func submit[T any](pool *workerpool.Pool, fn func(ctx context.Context) (T, error)) quorum.Task[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		done := make(chan result[T], 1)
		if err := pool.Submit(ctx, func() {
			v, err := fn(ctx)
			done <- result[T]{v: v, err: err}
		}); err != nil {
			return zero, fmt.Errorf("%w: %v", kverr.ErrOverloaded, err)
		}
		select {
		case r := <-done:
			return r.v, r.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (c *Coordinator) peerFor(n topology.Node) (peerClient, error) {
	p, ok := c.topology.PeerFor(n.ID)
	if !ok {
		return nil, fmt.Errorf("%w: no peer handle for node %q", kverr.ErrInternal, n.ID)
	}
	pc, ok := p.(peerClient)
	if !ok {
		return nil, fmt.Errorf("%w: peer handle for node %q is not a peer client", kverr.ErrInternal, n.ID)
	}
	return pc, nil
}

// LocalGet serves a proxied GET: exactly what this node's engine holds
// for key, with no quorum logic and no expiration filtering (that is
// the originator's job after merge).
func (c *Coordinator) LocalGet(ctx context.Context, key []byte) (peer.Result, error) {
	return submit(c.daoPool, func(ctx context.Context) (peer.Result, error) {
		return c.localGetResult(ctx, key)
	})(ctx)
}

// LocalPut serves a proxied PUT: a fresh-timestamped, non-tombstone
// write at this node.
func (c *Coordinator) LocalPut(ctx context.Context, key, data []byte, expiresAt int64) error {
	_, err := submit(c.daoPool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.localPut(ctx, key, data, expiresAt)
	})(ctx)
	return err
}

// LocalDelete serves a proxied DELETE: a fresh-timestamped tombstone
// write at this node.
func (c *Coordinator) LocalDelete(ctx context.Context, key []byte) error {
	_, err := submit(c.daoPool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.localDelete(ctx, key)
	})(ctx)
	return err
}

func (c *Coordinator) localGetResult(ctx context.Context, key []byte) (peer.Result, error) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return peer.Result{}, fmt.Errorf("%w: %v", kverr.ErrInternal, err)
	}
	if !ok {
		return peer.Result{Absent: true}, nil
	}
	if v.Tombstone {
		return peer.Result{Tombstone: true, Value: v}, nil
	}
	return peer.Result{Value: v}, nil
}

func (c *Coordinator) localPut(ctx context.Context, key, data []byte, expiresAt int64) error {
	ts := c.now().UnixMilli()
	if err := c.store.Upsert(ctx, key, data, ts, expiresAt); err != nil {
		return fmt.Errorf("%w: %v", kverr.ErrInternal, err)
	}
	return nil
}

func (c *Coordinator) localDelete(ctx context.Context, key []byte) error {
	ts := c.now().UnixMilli()
	if err := c.store.Remove(ctx, key, ts); err != nil {
		return fmt.Errorf("%w: %v", kverr.ErrInternal, err)
	}
	return nil
}

// Get is the originating GET path: fan out to repl.From primaries,
// resolve as soon as repl.Ack have answered.
func (c *Coordinator) Get(ctx context.Context, key []byte, repl Replicas) (GetOutcome, error) {
	nodes := c.topology.PrimariesFor(key, repl.From)
	tasks := make([]quorum.Task[peer.Result], 0, len(nodes))
	for _, n := range nodes {
		n := n
		if c.topology.IsLocal(n) {
			tasks = append(tasks, submit(c.daoPool, func(ctx context.Context) (peer.Result, error) {
				return c.localGetResult(ctx, key)
			}))
			continue
		}
		tasks = append(tasks, submit(c.proxyPool, func(ctx context.Context) (peer.Result, error) {
			return c.remoteGet(ctx, n, key)
		}))
	}

	nowMillis := c.now().UnixMilli()
	collector := quorum.New[peer.Result, GetOutcome](repl.Ack, func(results []peer.Result) (GetOutcome, error) {
		return resolveGet(results, nowMillis), nil
	})
	return collector.Run(ctx, tasks)
}

func (c *Coordinator) remoteGet(ctx context.Context, n topology.Node, key []byte) (peer.Result, error) {
	pc, err := c.peerFor(n)
	if err != nil {
		return peer.Result{}, err
	}
	rctx, cancel := context.WithTimeout(ctx, c.proxyTimeout)
	defer cancel()
	res, err := pc.Get(rctx, key)
	if err != nil {
		c.log.Warn("proxy get failed", "node", n.ID, "err", err)
		return peer.Result{}, fmt.Errorf("%w: %v", kverr.ErrTransportFailure, err)
	}
	return res, nil
}

// resolveGet merges replica results into one outcome: vote-count among
// live values (ties broken by the Value total order), newest-tombstone
// dominance, then the expiration filter.
func resolveGet(results []peer.Result, nowMillis int64) GetOutcome {
	type tally struct {
		value value.Value
		count int
	}
	votes := make(map[string]*tally)
	var newestTomb value.Value
	haveTomb := false

	for _, r := range results {
		if r.Absent {
			continue
		}
		if r.Tombstone {
			if !haveTomb || r.Value.Less(newestTomb) {
				newestTomb, haveTomb = r.Value, true
			}
			continue
		}
		id := r.Value.Identity()
		t, ok := votes[id]
		if !ok {
			t = &tally{value: r.Value}
			votes[id] = t
		}
		t.count++
	}

	var winner *tally
	for _, t := range votes {
		switch {
		case winner == nil:
			winner = t
		case t.count > winner.count:
			winner = t
		case t.count == winner.count && t.value.Less(winner.value):
			winner = t
		}
	}

	if winner == nil {
		return GetOutcome{}
	}
	if haveTomb && newestTomb.Less(winner.value) {
		return GetOutcome{}
	}
	if winner.value.IsExpired(nowMillis) {
		return GetOutcome{}
	}
	return GetOutcome{Found: true, Data: winner.value.Data}
}

// Put is the originating PUT path: fan out to repl.From primaries,
// succeed as soon as repl.Ack have durably written.
func (c *Coordinator) Put(ctx context.Context, key, data []byte, expiresAt int64, repl Replicas) error {
	nodes := c.topology.PrimariesFor(key, repl.From)
	tasks := make([]quorum.Task[struct{}], 0, len(nodes))
	for _, n := range nodes {
		n := n
		if c.topology.IsLocal(n) {
			tasks = append(tasks, submit(c.daoPool, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.localPut(ctx, key, data, expiresAt)
			}))
			continue
		}
		tasks = append(tasks, submit(c.proxyPool, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.remotePut(ctx, n, key, data, expiresAt)
		}))
	}

	collector := quorum.New[struct{}, struct{}](repl.Ack, func([]struct{}) (struct{}, error) {
		return struct{}{}, nil
	})
	_, err := collector.Run(ctx, tasks)
	return err
}

func (c *Coordinator) remotePut(ctx context.Context, n topology.Node, key, data []byte, expiresAt int64) error {
	pc, err := c.peerFor(n)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, c.proxyTimeout)
	defer cancel()
	if err := pc.Put(rctx, key, data, expiresAt); err != nil {
		c.log.Warn("proxy put failed", "node", n.ID, "err", err)
		return fmt.Errorf("%w: %v", kverr.ErrTransportFailure, err)
	}
	return nil
}

// Delete is the originating DELETE path: fan out a tombstone write to
// repl.From primaries, succeed as soon as repl.Ack have durably
// written it.
func (c *Coordinator) Delete(ctx context.Context, key []byte, repl Replicas) error {
	nodes := c.topology.PrimariesFor(key, repl.From)
	tasks := make([]quorum.Task[struct{}], 0, len(nodes))
	for _, n := range nodes {
		n := n
		if c.topology.IsLocal(n) {
			tasks = append(tasks, submit(c.daoPool, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, c.localDelete(ctx, key)
			}))
			continue
		}
		tasks = append(tasks, submit(c.proxyPool, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.remoteDelete(ctx, n, key)
		}))
	}

	collector := quorum.New[struct{}, struct{}](repl.Ack, func([]struct{}) (struct{}, error) {
		return struct{}{}, nil
	})
	_, err := collector.Run(ctx, tasks)
	return err
}

func (c *Coordinator) remoteDelete(ctx context.Context, n topology.Node, key []byte) error {
	pc, err := c.peerFor(n)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, c.proxyTimeout)
	defer cancel()
	if err := pc.Delete(rctx, key); err != nil {
		c.log.Warn("proxy delete failed", "node", n.ID, "err", err)
		return fmt.Errorf("%w: %v", kverr.ErrTransportFailure, err)
	}
	return nil
}

// Range serves a non-replicated range scan directly from the local
// engine, admission-controlled through the DAO pool like any other
// local store operation.
func (c *Coordinator) Range(ctx context.Context, start, end []byte) (store.RecordIterator, error) {
	return submit(c.daoPool, func(ctx context.Context) (store.RecordIterator, error) {
		return c.store.RecordIterator(ctx, start, end)
	})(ctx)
}
