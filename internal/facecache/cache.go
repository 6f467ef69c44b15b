// Package facecache mirrors every identity's mean embedding and descriptive
// fields in memory for the per-frame matching loop.
//
// The cache is built once from the identity store and afterwards changes only
// through the store's post-commit notifications. Readers take an immutable
// snapshot with a single atomic load and never block on writers.
package facecache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
)

// Reader is the slice of the identity store the cache needs.
type Reader interface {
	GetIdentity(ctx context.Context, id int64) (*identity.Identity, error)
	ListIdentities(ctx context.Context) ([]identity.Identity, error)
}

// Info is the descriptive part of a cached identity.
type Info struct {
	Name   string
	Access identity.AccessLevel
}

// Candidate is one matchable identity.
type Candidate struct {
	ID     int64
	Name   string
	Access identity.AccessLevel
	Mean   embedding.Vector
}

// Snapshot is an immutable view of the cache. Callers must not modify the
// vectors it hands out.
type Snapshot struct {
	embeddings map[int64]embedding.Vector
	info       map[int64]Info
	candidates []Candidate
}

// Candidates returns identities that have a mean embedding, ordered by ID.
func (s *Snapshot) Candidates() []Candidate {
	if s == nil {
		return nil
	}
	return s.candidates
}

// Info returns the cached descriptive fields for id.
func (s *Snapshot) Info(id int64) (Info, bool) {
	if s == nil {
		return Info{}, false
	}
	info, ok := s.info[id]
	return info, ok
}

// Embedding returns the cached mean for id.
func (s *Snapshot) Embedding(id int64) (embedding.Vector, bool) {
	if s == nil {
		return nil, false
	}
	vec, ok := s.embeddings[id]
	return vec, ok
}

// Len is the number of identities known to the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.info)
}

const readThroughTimeout = 2 * time.Second

// Cache implements identity.Listener.
type Cache struct {
	store  Reader
	logger *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New returns an empty cache backed by store for read-through.
func New(store Reader, logger *slog.Logger) *Cache {
	c := &Cache{
		store:  store,
		logger: logging.NewComponentLogger(logger, "facecache"),
	}
	c.current.Store(buildSnapshot(map[int64]embedding.Vector{}, map[int64]Info{}))
	return c
}

// Build replaces the cache contents with every identity in the store.
// Identities whose stored mean could not be decoded are loaded without an
// embedding.
func (c *Cache) Build(ctx context.Context) error {
	identities, err := c.store.ListIdentities(ctx)
	if err != nil {
		return err
	}
	embeddings := make(map[int64]embedding.Vector, len(identities))
	info := make(map[int64]Info, len(identities))
	skipped := 0
	for _, ident := range identities {
		info[ident.ID] = Info{Name: ident.DisplayName, Access: ident.AccessLevel}
		switch {
		case ident.Mean != nil:
			embeddings[ident.ID] = ident.Mean
		case ident.SampleCount > 0:
			skipped++
		}
	}

	c.writeMu.Lock()
	c.current.Store(buildSnapshot(embeddings, info))
	c.writeMu.Unlock()

	c.logger.Info("embedding cache built",
		logging.Int("identities", len(info)),
		logging.Int("embeddings", len(embeddings)),
		logging.Int("skipped", skipped),
	)
	return nil
}

// Snapshot returns the current immutable view.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Len is the number of cached identities.
func (c *Cache) Len() int {
	return c.Snapshot().Len()
}

// EmbeddingChanged replaces or removes the cached mean for id. A change for
// an identity the cache does not know is applied only if the store still has
// that identity; otherwise it is dropped.
func (c *Cache) EmbeddingChanged(id int64, mean embedding.Vector) {
	var fetched *Info
	if _, known := c.Snapshot().Info(id); !known {
		if mean == nil {
			return
		}
		if fetched = c.readThrough(id); fetched == nil {
			return
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	embeddings, info := c.cloneLocked()
	if mean == nil {
		delete(embeddings, id)
	} else {
		embeddings[id] = append(embedding.Vector(nil), mean...)
	}
	if fetched != nil {
		if _, ok := info[id]; !ok {
			info[id] = *fetched
		}
	}
	c.current.Store(buildSnapshot(embeddings, info))
}

// IdentityChanged applies a partial update. A partial update for an identity
// the cache has never seen is resolved by reading the identity from the store.
func (c *Cache) IdentityChanged(change identity.Change) {
	if change.Deleted {
		c.writeMu.Lock()
		embeddings, info := c.cloneLocked()
		delete(embeddings, change.ID)
		delete(info, change.ID)
		c.current.Store(buildSnapshot(embeddings, info))
		c.writeMu.Unlock()
		return
	}

	var fetched *Info
	if _, known := c.Snapshot().Info(change.ID); !known && !change.New {
		fetched = c.readThrough(change.ID)
		if fetched == nil {
			return
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	embeddings, info := c.cloneLocked()
	entry, ok := info[change.ID]
	if !ok && fetched != nil {
		entry = *fetched
	}
	if change.DisplayName != nil {
		entry.Name = *change.DisplayName
	}
	if change.AccessLevel != nil {
		entry.Access = *change.AccessLevel
	}
	info[change.ID] = entry
	c.current.Store(buildSnapshot(embeddings, info))
}

// readThrough runs outside writeMu so a slow store never blocks other writers.
func (c *Cache) readThrough(id int64) *Info {
	ctx, cancel := context.WithTimeout(context.Background(), readThroughTimeout)
	defer cancel()
	ident, err := c.store.GetIdentity(ctx, id)
	if err != nil {
		if !errors.Is(err, faults.ErrNotFound) {
			logging.WarnWithContext(c.logger, "cache read-through failed",
				"cache_read_through",
				logging.Int64(logging.FieldIdentityID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "identity not matchable until its next change"),
			)
		}
		return nil
	}
	return &Info{Name: ident.DisplayName, Access: ident.AccessLevel}
}

func (c *Cache) cloneLocked() (map[int64]embedding.Vector, map[int64]Info) {
	snap := c.current.Load()
	embeddings := make(map[int64]embedding.Vector, len(snap.embeddings)+1)
	for id, vec := range snap.embeddings {
		embeddings[id] = vec
	}
	info := make(map[int64]Info, len(snap.info)+1)
	for id, entry := range snap.info {
		info[id] = entry
	}
	return embeddings, info
}

func buildSnapshot(embeddings map[int64]embedding.Vector, info map[int64]Info) *Snapshot {
	candidates := make([]Candidate, 0, len(embeddings))
	for id, vec := range embeddings {
		entry := info[id]
		candidates = append(candidates, Candidate{ID: id, Name: entry.Name, Access: entry.Access, Mean: vec})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return &Snapshot{embeddings: embeddings, info: info, candidates: candidates}
}
