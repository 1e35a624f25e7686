// Package flat is the embedded vector index backend: a brute-force cosine
// index held in process memory and persisted wholesale to two sidecar files
// after every mutation. Deletes are tombstones because the arena does not
// support cheap physical removal; Search filters them out before ranking.
package flat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"civicdocs/backend/internal/vector"
)

type Index struct {
	mu sync.RWMutex
	// saveMu serializes mutators so sidecar writes land on disk in mutation
	// order. mu alone covers the in-memory arena: Search only ever contends
	// with the brief mutate-and-snapshot window, never with the disk write.
	saveMu sync.Mutex
	dir    string
	dim    int

	// Arena storage: parallel slices plus an id->slot map. Slot order is
	// append order and never changes; tombstoned slots keep their position.
	ids     []string
	vectors [][]float32
	meta    []vector.Metadata
	slots   map[string]int
}

// Open loads (or initializes) an index rooted at dir. dimension is the
// expected vector width; 0 means adopt whatever the first add brings.
// Deleting the sidecar files on disk resets the index, which is the
// supported way to force a full reindex.
func Open(dir string, dimension int) (*Index, error) {
	ix := &Index{
		dir:   dir,
		dim:   dimension,
		slots: make(map[string]int),
	}
	if err := ix.load(); err != nil {
		return nil, fmt.Errorf("flat index load: %w", err)
	}
	return ix, nil
}

func (ix *Index) Add(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	ix.mu.Lock()
	for _, e := range entries {
		if ix.dim == 0 {
			ix.dim = len(e.Vector)
		}
		if len(e.Vector) != ix.dim {
			ix.mu.Unlock()
			return fmt.Errorf("%w: got %d, index has %d", vector.ErrDimensionMismatch, len(e.Vector), ix.dim)
		}
	}

	for _, e := range entries {
		v := vector.Normalize(append([]float32(nil), e.Vector...))
		if slot, ok := ix.slots[e.ID]; ok {
			ix.vectors[slot] = v
			ix.meta[slot] = e.Metadata
			ix.meta[slot].Deleted = false
			continue
		}
		ix.slots[e.ID] = len(ix.ids)
		ix.ids = append(ix.ids, e.ID)
		ix.vectors = append(ix.vectors, v)
		m := e.Metadata
		m.Deleted = false
		ix.meta = append(ix.meta, m)
	}
	snap := ix.snapshot()
	ix.mu.Unlock()

	if err := snap.save(ix.dir); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
	}
	return nil
}

func (ix *Index) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dim != 0 && len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(query), ix.dim)
	}

	q := vector.Normalize(append([]float32(nil), query...))

	hits := make([]vector.Hit, 0, len(ix.ids))
	for slot, id := range ix.ids {
		if ix.meta[slot].Deleted {
			continue
		}
		hits = append(hits, vector.Hit{
			ID:         id,
			Content:    ix.meta[slot].Content,
			Metadata:   ix.meta[slot],
			Similarity: vector.Cosine(q, ix.vectors[slot]),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (ix *Index) Delete(ctx context.Context, ids []string) error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	ix.mu.Lock()
	changed := false
	for _, id := range ids {
		if slot, ok := ix.slots[id]; ok && !ix.meta[slot].Deleted {
			ix.meta[slot].Deleted = true
			changed = true
		}
	}
	if !changed {
		ix.mu.Unlock()
		return nil
	}
	snap := ix.snapshot()
	ix.mu.Unlock()

	if err := snap.save(ix.dir); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
	}
	return nil
}

func (ix *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	ix.mu.Lock()
	changed := false
	for slot := range ix.meta {
		if ix.meta[slot].DocumentID == documentID && !ix.meta[slot].Deleted {
			ix.meta[slot].Deleted = true
			changed = true
		}
	}
	if !changed {
		ix.mu.Unlock()
		return nil
	}
	snap := ix.snapshot()
	ix.mu.Unlock()

	if err := snap.save(ix.dir); err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexWrite, err)
	}
	return nil
}

// Len reports live (non-tombstoned) entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := 0
	for _, m := range ix.meta {
		if !m.Deleted {
			n++
		}
	}
	return n
}
