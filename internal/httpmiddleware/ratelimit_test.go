package httpmiddleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("1.2.3.4"), "request %d within capacity", i)
	}
	assert.False(t, l.allow("1.2.3.4"), "bucket exhausted")

	assert.True(t, l.allow("5.6.7.8"), "buckets are per key")
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(0, 10)
	assert.Equal(t, 10, l.capacity)
}
