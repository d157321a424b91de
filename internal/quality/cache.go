package quality

import "github.com/agext/levenshtein"

// titleCache remembers normalized titles in insertion order. When it grows
// past capacity the oldest half is dropped.
type titleCache struct {
	capacity int
	order    []string
	exact    map[string]struct{}
}

func newTitleCache(capacity int) *titleCache {
	return &titleCache{capacity: capacity, exact: make(map[string]struct{})}
}

// similar reports whether any cached title is more similar to t than threshold.
func (c *titleCache) similar(t string, threshold float64) bool {
	if t == "" {
		return false
	}
	if _, ok := c.exact[t]; ok {
		return true
	}
	for _, cached := range c.order {
		if levenshtein.Similarity(t, cached, nil) > threshold {
			return true
		}
	}
	return false
}

func (c *titleCache) add(t string) {
	if t == "" {
		return
	}
	if _, ok := c.exact[t]; ok {
		return
	}
	c.order = append(c.order, t)
	c.exact[t] = struct{}{}
	if len(c.order) > c.capacity {
		c.order = evictOldestHalf(c.order, c.exact)
	}
}

func (c *titleCache) len() int { return len(c.order) }

// hashSet is a bounded set of content hashes with the same eviction policy.
type hashSet struct {
	capacity int
	order    []string
	set      map[string]struct{}
}

func newHashSet(capacity int) *hashSet {
	return &hashSet{capacity: capacity, set: make(map[string]struct{})}
}

func (h *hashSet) contains(k string) bool {
	if k == "" {
		return false
	}
	_, ok := h.set[k]
	return ok
}

func (h *hashSet) add(k string) {
	if k == "" || h.contains(k) {
		return
	}
	h.order = append(h.order, k)
	h.set[k] = struct{}{}
	if len(h.order) > h.capacity {
		h.order = evictOldestHalf(h.order, h.set)
	}
}

func (h *hashSet) len() int { return len(h.order) }

func evictOldestHalf(order []string, index map[string]struct{}) []string {
	drop := len(order) / 2
	for _, k := range order[:drop] {
		delete(index, k)
	}
	kept := make([]string, len(order)-drop)
	copy(kept, order[drop:])
	return kept
}
