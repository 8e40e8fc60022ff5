package memcache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLStoreExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTTLStore[int](time.Minute).WithClock(func() time.Time { return now })

	s.Set("a", 1)
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(59 * time.Second)
	_, ok = s.Get("a")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestTTLStoreDeleteFunc(t *testing.T) {
	s := NewTTLStore[string](time.Hour)
	s.Set("tenant-1|razorpay", "a")
	s.Set("tenant-1|phonepe", "b")
	s.Set("tenant-2|razorpay", "c")

	n := s.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, "tenant-1|") })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("tenant-2|razorpay")
	assert.True(t, ok)

	s.Delete("tenant-2|razorpay")
	assert.Equal(t, 0, s.Len())
}
