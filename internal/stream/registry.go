package stream

import (
	"errors"
	"sort"
	"sync"
	"time"

	"tracel-engine/internal/model"

	"github.com/google/uuid"
)

// Idle teardown bounds. A stream with no subscribers survives for the TTL
// so a reconnecting client keeps its session counters and baseline.
const (
	DefaultIdleTTL = 60 * time.Second
	MinIdleTTL     = 5 * time.Second
	MaxIdleTTL     = 10 * time.Minute
)

// ErrClosed is returned by Attach after the registry has been shut down.
var ErrClosed = errors.New("stream registry closed")

// ClampIdleTTL normalizes a configured idle TTL into the supported range.
// Zero or negative values fall back to the default.
func ClampIdleTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultIdleTTL
	}
	if ttl < MinIdleTTL {
		return MinIdleTTL
	}
	if ttl > MaxIdleTTL {
		return MaxIdleTTL
	}
	return ttl
}

type entry struct {
	stream *Stream
	timer  *time.Timer // pending idle teardown, nil while subscribed
}

// Registry owns the lifecycle of all per-owner streams: a stream is created
// on first attach, survives loss of its last subscriber for the idle TTL,
// and is torn down afterwards. The traffic mode chosen for an owner
// outlives the stream itself.
type Registry struct {
	deps Deps
	ttl  time.Duration

	mu      sync.Mutex
	streams map[string]*entry
	modes   map[string]bool
	closed  bool
}

// NewRegistry creates an empty registry. ttl is clamped via ClampIdleTTL.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	return &Registry{
		deps:    deps,
		ttl:     ClampIdleTTL(ttl),
		streams: make(map[string]*entry),
		modes:   make(map[string]bool),
	}
}

// Attach subscribes to an owner's stream, creating and starting the stream
// if it is not running. Attaching cancels any pending idle teardown.
func (r *Registry) Attach(owner string) (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	e, ok := r.streams[owner]
	if !ok {
		e = &entry{stream: newStream(owner, r.modes[owner], r.deps)}
		r.streams[owner] = e
		e.stream.start()
		if r.deps.Metrics != nil {
			r.deps.Metrics.ActiveStreams.Inc()
		}
		r.deps.Logger.Infof("Started stream for owner %s (attack=%v)", owner, r.modes[owner])
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	sub := &Subscriber{
		ID: uuid.New().String(),
		C:  make(chan model.Record, subscriberBuffer),
	}
	e.stream.attach(sub)
	return sub, nil
}

// Detach removes a subscriber. When the last subscriber leaves, an idle
// teardown is scheduled; the stream keeps producing until it fires.
func (r *Registry) Detach(owner, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[owner]
	if !ok {
		return
	}
	if e.stream.detach(subID) == 0 && e.timer == nil && !r.closed {
		e.timer = time.AfterFunc(r.ttl, func() { r.expire(owner) })
	}
}

// expire tears an idle stream down. The subscriber count is re-checked
// under the lock: an attach that raced the timer wins and the stream stays.
func (r *Registry) expire(owner string) {
	r.mu.Lock()
	e, ok := r.streams[owner]
	if !ok {
		r.mu.Unlock()
		return
	}
	if e.stream.subscriberCount() > 0 {
		e.timer = nil
		r.mu.Unlock()
		return
	}
	delete(r.streams, owner)
	r.mu.Unlock()

	e.stream.stop()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveStreams.Dec()
		r.deps.Metrics.StreamTeardowns.Inc()
	}
	r.deps.Logger.Infof("Tore down idle stream for owner %s", owner)
}

// SetMode records the traffic mode for an owner and applies it to the live
// stream if one is running. The mode persists across stream teardown.
func (r *Registry) SetMode(owner string, attack bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modes[owner] = attack
	if e, ok := r.streams[owner]; ok {
		e.stream.setMode(attack)
	}
}

// Mode reports the recorded traffic mode for an owner. Owners never seen
// default to normal.
func (r *Registry) Mode(owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modes[owner]
}

// Stats returns the live stats for an owner, or a stub with Active=false
// when no stream is running.
func (r *Registry) Stats(owner string) Stats {
	r.mu.Lock()
	e, ok := r.streams[owner]
	mode := r.modes[owner]
	r.mu.Unlock()

	if !ok {
		return Stats{OwnerID: owner, AttackMode: mode}
	}
	return e.stream.stats()
}

// Snapshot returns stats for every running stream, sorted by owner.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, e := range r.streams {
		streams = append(streams, e.stream)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// Close stops every stream and rejects further attaches.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.streams))
	for _, e := range r.streams {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		entries = append(entries, e)
	}
	r.streams = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.stream.stop()
		if r.deps.Metrics != nil {
			r.deps.Metrics.ActiveStreams.Dec()
		}
	}
}
