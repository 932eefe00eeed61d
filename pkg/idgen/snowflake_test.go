package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeWorkerRange(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)

	s, err := NewSnowflake(maxWorkerID)
	require.NoError(t, err)
	id := s.Generate()
	assert.Equal(t, int64(maxWorkerID), (id>>workerIDShift)&maxWorkerID)
}

func TestGenerateUniqueConcurrent(t *testing.T) {
	s, err := NewSnowflake(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- s.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "重复ID %d", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateTransactionNo(t *testing.T) {
	no := GenerateTransactionNo(PrefixStake)
	assert.True(t, strings.HasPrefix(no, PrefixStake))
	assert.Contains(t, no, "_")
	assert.NotEqual(t, no, GenerateTransactionNo(PrefixStake))

	eventID := GenerateEventID("vote_cast")
	assert.True(t, strings.HasPrefix(eventID, "vote_cast_"))
}
