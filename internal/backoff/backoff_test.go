package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b, err := New(time.Second, 30*time.Second)
	require.NoError(t, err)

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, got)
	assert.Equal(t, 7, b.Count())

	b.Reset()
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffRejectsInvalidBounds(t *testing.T) {
	_, err := New(0, time.Second)
	assert.Error(t, err)

	_, err = New(2*time.Second, time.Second)
	assert.Error(t, err)
}
