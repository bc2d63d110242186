package broker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherFlushesBySize(t *testing.T) {
	var published int32
	var mu sync.Mutex
	var seen []string

	pub := func(subject string, data []byte) error {
		atomic.AddInt32(&published, 1)
		mu.Lock()
		seen = append(seen, subject)
		mu.Unlock()
		return nil
	}

	b := newBatcher(batchConfig{
		flushSize:      2,
		flushInterval:  time.Hour,
		maxRetries:     2,
		initialBackoff: time.Millisecond,
		maxBackoff:     10 * time.Millisecond,
	}, pub, nil)
	defer b.stop()

	b.add("chat.say.room.1", []byte("a"))
	b.add("chat.say.room.2", []byte("b"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&published) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestBatcherRetriesThenDeadLetters(t *testing.T) {
	pub := func(subject string, data []byte) error {
		return assert.AnError
	}

	b := newBatcher(batchConfig{
		flushSize:      1,
		flushInterval:  time.Hour,
		maxRetries:     2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}, pub, nil)
	defer b.stop()

	b.add("chat.say.room.1", []byte("a"))

	time.Sleep(100 * time.Millisecond)
	dlq := b.recoverFailedBatches(nil)
	require.Len(t, dlq, 1)
}
