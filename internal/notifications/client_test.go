package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopHub struct{}

func (nopHub) UnregisterClient(*Client) {}
func (nopHub) Name() string             { return "test hub" }

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	c := NewClient(nopHub{}, nil, 3, "viewer-1", 0)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.TrySend([]byte("event")))
	}

	assert.False(t, c.TrySend([]byte("one too many")))
	assert.False(t, c.TrySend([]byte("two too many")))
	assert.EqualValues(t, 2, c.Dropped())
	assert.Len(t, c.Send, sendBuffer)
}

func TestClient_TrySendAfterClose(t *testing.T) {
	c := NewClient(nopHub{}, nil, 3, "viewer-1", 0)
	c.finish()
	c.finish()
	assert.False(t, c.TrySend([]byte("late")))
	assert.Empty(t, drain(c))
}
