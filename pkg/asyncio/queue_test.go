package asyncio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueAndHarvest(t *testing.T) {
	q := NewQueue(DefaultConfig())
	q.Start()
	defer q.Stop(time.Second)

	future := q.Enqueue(func() ([]byte, error) {
		return []byte("payload"), nil
	})
	require.NotNil(t, future)

	got, err := future.Harvest()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestQueueSurfacesFetchError(t *testing.T) {
	q := NewQueue(DefaultConfig())
	q.Start()
	defer q.Stop(time.Second)

	wantErr := errors.New("missing backing file")
	future := q.Enqueue(func() ([]byte, error) { return nil, wantErr })

	_, err := future.Harvest()
	assert.ErrorIs(t, err, wantErr)
}

func TestQueueFullDropsRequest(t *testing.T) {
	q := NewQueue(Config{QueueSize: 1, Workers: 0})
	// Workers never started, so the single slot fills and stays full.

	block := make(chan struct{})
	first := q.Enqueue(func() ([]byte, error) { <-block; return nil, nil })
	require.NotNil(t, first)

	second := q.Enqueue(func() ([]byte, error) { return nil, nil })
	assert.Nil(t, second)

	close(block)
}

func TestFutureHarvestOnceOnly(t *testing.T) {
	q := NewQueue(DefaultConfig())
	q.Start()
	defer q.Stop(time.Second)

	future := q.Enqueue(func() ([]byte, error) { return []byte("x"), nil })
	_, err := future.Harvest()
	require.NoError(t, err)

	_, err = future.Harvest()
	assert.ErrorIs(t, err, ErrAlreadyHarvested)
}

func TestFutureProbeNonBlocking(t *testing.T) {
	q := NewQueue(DefaultConfig())
	q.Start()
	defer q.Stop(time.Second)

	release := make(chan struct{})
	future := q.Enqueue(func() ([]byte, error) {
		<-release
		return []byte("done"), nil
	})

	assert.False(t, future.Probe())
	close(release)

	_, err := future.Harvest()
	require.NoError(t, err)
	assert.True(t, future.Probe())
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	q := NewQueue(DefaultConfig())
	q.Stop(time.Second)
}
