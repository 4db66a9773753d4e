package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/onno/internal/transcript"
)

type Config struct {
	Shards    int
	QueueSize int
	Dedup     transcript.Config
}

func DefaultConfig() Config {
	return Config{Shards: 32, QueueSize: 64, Dedup: transcript.DefaultConfig()}
}

// Registry maps client tokens to live sessions. Keys hash to independent
// shards, and a slow create for one token never holds a shard lock.
type Registry struct {
	shards []*shard
	cfg    Config
	logger *slog.Logger
}

type shard struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot is a registry position that may still be under construction; ready
// is closed once entry or err is set.
type slot struct {
	ready chan struct{}
	entry *Entry
	err   error
}

func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r := &Registry{shards: make([]*shard, cfg.Shards), cfg: cfg, logger: logger}
	for i := range r.shards {
		r.shards[i] = &shard{slots: make(map[string]*slot)}
	}
	return r
}

func (r *Registry) shardFor(token string) *shard {
	h := fnv.New32a()
	h.Write([]byte(token))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// GetOrCreate returns the entry for token, calling create exactly once per
// token across concurrent callers. created is true only for the caller
// whose create ran. A failed create leaves no entry behind, and callers
// that were waiting on it receive the same error.
func (r *Registry) GetOrCreate(ctx context.Context, token string, create func(ctx context.Context) (Binding, error)) (*Entry, bool, error) {
	sh := r.shardFor(token)

	sh.mu.Lock()
	if s, ok := sh.slots[token]; ok {
		sh.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		return s.entry, false, s.err
	}
	s := &slot{ready: make(chan struct{})}
	sh.slots[token] = s
	sh.mu.Unlock()

	b, err := create(ctx)
	if err != nil {
		sh.mu.Lock()
		delete(sh.slots, token)
		sh.mu.Unlock()
		s.err = err
		close(s.ready)
		return nil, false, err
	}

	b.Token = token
	s.entry = newEntry(b, r.cfg.QueueSize, r.cfg.Dedup, r.logger)
	close(s.ready)
	return s.entry, true, nil
}

// Get returns the entry for token. A lookup that races a create waits for
// it to finish.
func (r *Registry) Get(token string) (*Entry, bool) {
	sh := r.shardFor(token)
	sh.mu.Lock()
	s, ok := sh.slots[token]
	sh.mu.Unlock()
	if !ok {
		return nil, false
	}
	<-s.ready
	if s.err != nil || s.entry == nil {
		return nil, false
	}
	return s.entry, true
}

// Remove drops token from the registry and closes its entry. Jobs already
// queued on the entry still run. Returns the removed entry, if any.
func (r *Registry) Remove(token string) *Entry {
	sh := r.shardFor(token)
	sh.mu.Lock()
	s, ok := sh.slots[token]
	if ok {
		select {
		case <-s.ready:
			delete(sh.slots, token)
		default:
			// Still being created; the creator owns the slot.
			ok = false
		}
	}
	sh.mu.Unlock()
	if !ok || s.entry == nil {
		return nil
	}
	s.entry.close()
	return s.entry
}

// Len counts live sessions.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for _, s := range sh.slots {
			select {
			case <-s.ready:
				if s.entry != nil {
					n++
				}
			default:
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Shutdown closes every session and waits for their queued jobs to drain
// or for ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	var entries []*Entry
	for _, sh := range r.shards {
		sh.mu.Lock()
		for token, s := range sh.slots {
			select {
			case <-s.ready:
				if s.entry != nil {
					entries = append(entries, s.entry)
				}
				delete(sh.slots, token)
			default:
			}
		}
		sh.mu.Unlock()
	}

	for _, e := range entries {
		e.close()
	}
	for _, e := range entries {
		select {
		case <-e.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
