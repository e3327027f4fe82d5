package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func found(name string) Lookup {
	return Lookup{Candidate: Candidate{DisplayName: name}, Found: true}
}

func TestCache_BasicGetPut(t *testing.T) {
	c := NewCache(3)

	c.Put("a", found("A"))
	c.Put("b", Lookup{})

	result, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result.Candidate.DisplayName)

	result, ok = c.Get("b")
	assert.True(t, ok, "not-found markers are cached")
	assert.False(t, result.Found)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Eviction(t *testing.T) {
	c := NewCache(2)

	c.Put("a", found("A"))
	c.Put("b", found("B"))
	c.Put("c", found("C")) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", result.Candidate.DisplayName)

	result, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result.Candidate.DisplayName)
}

func TestCache_AccessPromotesEntry(t *testing.T) {
	c := NewCache(2)

	c.Put("a", found("A"))
	c.Put("b", found("B"))

	c.Get("a")

	// "b" is now least recently used.
	c.Put("c", found("C"))

	_, ok := c.Get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestCache_UpdateExisting(t *testing.T) {
	c := NewCache(2)

	c.Put("a", Lookup{})
	c.Put("a", found("A2"))

	result, ok := c.Get("a")
	assert.True(t, ok)
	assert.True(t, result.Found)
	assert.Equal(t, "A2", result.Candidate.DisplayName)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Unbounded(t *testing.T) {
	c := NewCache(0)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		c.Put(k, found(k))
	}
	assert.Equal(t, 5, c.Len())
}

func TestStats(t *testing.T) {
	var s Stats
	s.Record("real")
	s.Record("street")
	s.Record("street")
	s.Record("state")
	s.Record("bogus")

	got := s.Snapshot()
	assert.Equal(t, Accuracy{Real: 1, Street: 2, State: 1}, got)
	assert.Equal(t, 4, got.Total())
	assert.Equal(t, Accuracy{Real: 2, Street: 4, State: 2}, got.Add(got))
	assert.Equal(t, Accuracy{Street: 1}, got.Sub(Accuracy{Real: 1, Street: 1, State: 1}))
	assert.Equal(t, map[string]any{"real": 1, "street": 2, "city": 0, "state": 1}, got.Map())
}
