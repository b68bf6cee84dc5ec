package timeseries

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func points(base time.Time, values ...float64) []DataPoint {
	out := make([]DataPoint, len(values))
	for i, v := range values {
		out[i] = DataPoint{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func TestRingBuffer_EvictsOldestFirst(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []int{3, 4, 5}, rb.Slice())

	rb.Reset()
	assert.Equal(t, 0, rb.Len())
	assert.Empty(t, rb.Slice())
	rb.Push(9)
	assert.Equal(t, []int{9}, rb.Slice())
}

func TestRingBuffer_MinimumCapacity(t *testing.T) {
	rb := NewRingBuffer[string](0)
	rb.Push("a")
	rb.Push("b")
	assert.Equal(t, 1, rb.Len())
	assert.Equal(t, []string{"b"}, rb.Slice())
}

func TestHistoryStore_AppendAndReplace(t *testing.T) {
	store := NewHistoryStore(4)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	store.Append("cpu", points(base, 1, 2, 3)...)
	store.Append("cpu", points(base.Add(time.Hour), 4, 5)...)
	require.Equal(t, 4, store.Len("cpu"))

	got := store.Points("cpu")
	assert.Equal(t, []float64{2, 3, 4, 5}, values(got))

	store.Replace("cpu", points(base, 10, 11))
	assert.Equal(t, []float64{10, 11}, values(store.Points("cpu")))
}

func TestHistoryStore_UnknownMetric(t *testing.T) {
	store := NewHistoryStore(0)
	assert.Empty(t, store.Points("missing"))
	assert.Equal(t, 0, store.Len("missing"))
}

func TestHistoryStore_Range(t *testing.T) {
	store := NewHistoryStore(10)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	store.Replace("memory", points(base, 1, 2, 3, 4, 5))

	got := store.Range("memory", base.Add(time.Minute), base.Add(3*time.Minute))
	assert.Equal(t, []float64{2, 3, 4}, values(got))
}

func TestHistoryStore_Metrics(t *testing.T) {
	store := NewHistoryStore(10)
	store.Append("memory", DataPoint{Value: 1})
	store.Append("cpu", DataPoint{Value: 1})
	assert.Equal(t, []string{"cpu", "memory"}, store.Metrics())
}

func TestHistoryStore_ConcurrentAppend(t *testing.T) {
	store := NewHistoryStore(1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Append(fmt.Sprintf("m%d", w%2), DataPoint{Value: float64(i)})
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 200, store.Len("m0"))
	assert.Equal(t, 200, store.Len("m1"))
}

func values(pts []DataPoint) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}
