package gc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/queue"
	"github.com/reclaim-io/reclaim/internal/record"
)

const (
	pdIndex   = "probable-delete"
	instIndex = "global-instances"
	mdIndex   = "IDX-1"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// candidate returns the stored value of a candidate created age ago.
func candidate(t *testing.T, age time.Duration, instance string) string {
	t.Helper()
	v, err := record.ProbableDelete{
		IndexID:            mdIndex,
		ObjectLayoutID:     9,
		ObjectMetadataPath: "bucket/obj",
		GlobalInstanceID:   instance,
		CreateTimestamp:    testNow.Add(-age),
	}.Encode()
	require.NoError(t, err)
	return v
}

// sharedQueue keeps a MemoryQueue usable after the session closes it.
type sharedQueue struct{ *queue.MemoryQueue }

func (sharedQueue) Close() error { return nil }

func newSession(q *queue.MemoryQueue) *queue.Session {
	return queue.NewSession("memory", func(context.Context) (queue.Queue, error) {
		return sharedQueue{q}, nil
	}, logging.Nop())
}

// recorder implements every gc metrics interface.
type recorder struct {
	mu         sync.Mutex
	ticks      []string
	candidates map[string]int
	depth      int64
	outcomes   map[string]int
	receives   map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		candidates: make(map[string]int),
		outcomes:   make(map[string]int),
		receives:   make(map[string]int),
	}
}

func (r *recorder) RecordTick(result string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, result)
}

func (r *recorder) RecordCandidates(decision string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[decision] += n
}

func (r *recorder) SetQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = depth
}

func (r *recorder) RecordOutcome(outcome string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recorder) RecordReceive(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receives[result]++
}

func (r *recorder) outcome(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[name]
}

func trimProducer(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
