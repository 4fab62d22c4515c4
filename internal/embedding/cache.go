package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached wraps a Capability with an expiring LRU keyed by model and text.
// Repeated questions skip the remote round-trip.
type Cached struct {
	next  Capability
	cache *expirable.LRU[string, []float32]
}

// NewCached returns next unchanged when size or ttl is not positive.
func NewCached(next Capability, size int, ttl time.Duration) Capability {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *Cached) Model() string  { return c.next.Model() }
func (c *Cached) Dimension() int { return c.next.Dimension() }

// Embed serves cached vectors and forwards only the misses, in a single call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if v, ok := c.cache.Get(c.key(text)); ok {
			out[i] = clone(v)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.Add(c.key(missTexts[j]), clone(v))
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	return c.next.Model() + "\x00" + text
}

func clone(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out
}
