package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/embedding"
	"campus-qa-be/pkg/store"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

var ErrIndexUnavailable = errors.New("embedding index unavailable")

// Neighbor is one nearest-neighbor hit
type Neighbor struct {
	Entry store.KnowledgeEntry
	Score float64 // cosine similarity, 1.0 = identical
}

// Index answers top-K cosine nearest-neighbor lookups
type Index interface {
	NearestNeighbors(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	Size(ctx context.Context) (int64, error)
}

// IndexedEntry pairs a knowledge entry with its question embedding
type IndexedEntry struct {
	Entry  store.KnowledgeEntry
	Vector []float32
}

// MemoryIndex is a read-mostly in-process cosine index.
// Reload swaps the whole snapshot; lookups never see a half-built one.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []IndexedEntry
}

func NewMemoryIndex(entries []IndexedEntry) *MemoryIndex {
	idx := &MemoryIndex{}
	idx.Reload(entries)
	return idx
}

// Reload replaces the snapshot. Vectors are normalized on the way in.
func (m *MemoryIndex) Reload(entries []IndexedEntry) {
	snapshot := make([]IndexedEntry, len(entries))
	for i, e := range entries {
		snapshot[i] = IndexedEntry{Entry: e.Entry, Vector: embedding.Normalize(e.Vector)}
	}
	m.mu.Lock()
	m.entries = snapshot
	m.mu.Unlock()
}

func (m *MemoryIndex) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := embedding.Normalize(vector)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return []Neighbor{}, nil
	}

	hits := make([]Neighbor, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.Vector) != len(query) {
			continue
		}
		hits = append(hits, Neighbor{Entry: e.Entry, Score: dot(query, e.Vector)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Size(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// EmbedEntries embeds the question text of every entry with bounded concurrency.
// Each call is retried with exponential backoff before the whole build fails.
func EmbedEntries(
	ctx context.Context,
	provider embedding.EmbeddingProvider,
	entries []store.KnowledgeEntry,
	workers int,
	log logger.ILogger,
) ([]IndexedEntry, error) {
	if workers <= 0 {
		workers = 4
	}
	out := make([]IndexedEntry, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range entries {
		g.Go(func() error {
			res, err := backoff.Retry(gctx, func() (*embedding.EmbeddingResponse, error) {
				return provider.Generate(gctx, entries[i].Question, embedding.TaskRetrievalDocument)
			}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
			if err != nil {
				return fmt.Errorf("embed entry %s: %w", entries[i].ID, err)
			}
			out[i] = IndexedEntry{Entry: entries[i], Vector: res.Embedding.Values}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("INDEX", "Knowledge entries embedded", map[string]interface{}{"count": len(out)})
	return out, nil
}
