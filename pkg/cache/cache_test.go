package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGet(t *testing.T) {
	c := New[string]()
	c.Set("key1", "value1", time.Second)
	val, ok := c.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", val)
}

func TestExpiration(t *testing.T) {
	c := New[int]()
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("key1", 7, 100*time.Millisecond)

	now = now.Add(150 * time.Millisecond)
	val, ok := c.Get("key1")
	assert.False(t, ok)
	assert.Zero(t, val)
	assert.Equal(t, 0, c.Len())
}

func TestDelete(t *testing.T) {
	c := New[string]()
	c.Set("key1", "value1", time.Second)
	c.Delete("key1")
	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestExpiredReadKeepsConcurrentSet(t *testing.T) {
	c := New[string]()
	start := time.Now()
	c.now = func() time.Time { return start }
	c.Set("user:1", "stale", time.Second)

	refreshed := false
	c.now = func() time.Time {
		if !refreshed {
			refreshed = true
			// Another writer stores a fresh value after Get has read the old one.
			c.mu.Lock()
			c.items["user:1"] = &Entry[string]{Value: "fresh", ExpiresAt: start.Add(time.Hour)}
			c.mu.Unlock()
		}
		return start.Add(2 * time.Second)
	}

	_, ok := c.Get("user:1")
	assert.False(t, ok)

	val, ok := c.Get("user:1")
	assert.True(t, ok)
	assert.Equal(t, "fresh", val)
	assert.Equal(t, 1, c.Len())
}
