// Package ring implements a consistent-hash ring that maps opaque keys to
// shard identifiers.
package ring

import (
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the number of virtual entries placed on the ring
// per physical shard when none is configured.
const DefaultVirtualNodes = 100

// Errors returned by ring operations.
var (
	ErrEmptyRing    = errors.New("ring: no shards configured")
	ErrUnknownShard = errors.New("ring: unknown shard")
)

type hashValue [16]byte

func (a hashValue) less(b hashValue) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type vnode struct {
	hash  hashValue
	shard string
}

// Ring is a consistent-hash ring with virtual nodes. Zero value is not
// usable; construct with New.
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	byShard      map[string][]hashValue
	taken        map[hashValue]string
	sorted       []vnode // maintained sorted by hash, rebuilt on every mutation
}

// New creates an empty ring with the given number of virtual nodes per
// physical shard.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		byShard:      make(map[string][]hashValue),
		taken:        make(map[hashValue]string),
	}
}

// hashLabel hashes the UTF-8 bytes of label with MD5, producing a 128-bit
// value. The label shape (shard||"_"||i, with a "_collision" suffix loop on
// collision) must stay bit-exact so key→shard assignments stay reproducible.
func hashLabel(label string) hashValue {
	return hashValue(md5.Sum([]byte(label)))
}

// Add inserts a shard into the ring, placing virtualNodes entries for it.
// Adding a shard that is already present is a no-op.
func (r *Ring) Add(shard string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byShard[shard]; ok {
		return
	}

	hashes := make([]hashValue, 0, r.virtualNodes)
	for i := 0; i < r.virtualNodes; i++ {
		label := fmt.Sprintf("%s_%d", shard, i)
		h := hashLabel(label)
		for {
			if _, exists := r.taken[h]; !exists {
				break
			}
			label += "_collision"
			h = hashLabel(label)
		}
		r.taken[h] = shard
		hashes = append(hashes, h)
	}

	r.byShard[shard] = hashes
	r.rebuild()
}

// Remove deletes a shard and all of its virtual entries from the ring.
// Returns ErrUnknownShard if the shard is not present.
func (r *Ring) Remove(shard string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hashes, ok := r.byShard[shard]
	if !ok {
		return ErrUnknownShard
	}

	for _, h := range hashes {
		delete(r.taken, h)
	}
	delete(r.byShard, shard)
	r.rebuild()
	return nil
}

// rebuild recomputes the sorted virtual-node slice. Must be called with
// r.mu held for writing.
func (r *Ring) rebuild() {
	sorted := make([]vnode, 0, len(r.taken))
	for h, shard := range r.taken {
		sorted = append(sorted, vnode{hash: h, shard: shard})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].hash.less(sorted[j].hash)
	})
	r.sorted = sorted
}

// Route returns the shard responsible for key: the first ring entry whose
// hash is strictly greater than the key's hash, wrapping to index 0 if the
// key's hash exceeds every stored hash.
func (r *Ring) Route(key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return "", ErrEmptyRing
	}

	h := hashLabel(key)
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return h.less(r.sorted[i].hash)
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.sorted[idx].shard, nil
}

// Distribution returns the number of virtual entries owned by each shard.
func (r *Ring) Distribution() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dist := make(map[string]int, len(r.byShard))
	for shard, hashes := range r.byShard {
		dist[shard] = len(hashes)
	}
	return dist
}

// Shards returns the set of physical shards currently on the ring.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shards := make([]string, 0, len(r.byShard))
	for shard := range r.byShard {
		shards = append(shards, shard)
	}
	return shards
}

// Empty reports whether the ring has no shards.
func (r *Ring) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byShard) == 0
}

// Clear removes every shard from the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byShard = make(map[string][]hashValue)
	r.taken = make(map[hashValue]string)
	r.sorted = nil
}
