package timeseries

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity holds 24h of 15-second samples.
const DefaultCapacity = 5760

// historyStoreImpl is the in-memory HistoryStore implementation.
type historyStoreImpl struct {
	mu       sync.RWMutex
	series   map[string]*RingBuffer[DataPoint]
	capacity int
}

// NewHistoryStore creates an in-memory history store keeping at most
// capacity points per metric. Non-positive capacity uses DefaultCapacity.
func NewHistoryStore(capacity int) HistoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &historyStoreImpl{
		series:   make(map[string]*RingBuffer[DataPoint]),
		capacity: capacity,
	}
}

func (h *historyStoreImpl) getOrCreate(metricName string) *RingBuffer[DataPoint] {
	if rb, ok := h.series[metricName]; ok {
		return rb
	}
	rb := NewRingBuffer[DataPoint](h.capacity)
	h.series[metricName] = rb
	return rb
}

// Append adds points to a metric's history.
func (h *historyStoreImpl) Append(metricName string, points ...DataPoint) {
	if len(points) == 0 {
		return
	}
	h.mu.Lock()
	rb := h.getOrCreate(metricName)
	for _, p := range points {
		rb.Push(p)
	}
	h.mu.Unlock()
}

// Replace swaps a metric's history for points.
func (h *historyStoreImpl) Replace(metricName string, points []DataPoint) {
	h.mu.Lock()
	rb := h.getOrCreate(metricName)
	rb.Reset()
	for _, p := range points {
		rb.Push(p)
	}
	h.mu.Unlock()
}

// Points returns a copy of a metric's history.
func (h *historyStoreImpl) Points(metricName string) []DataPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rb, ok := h.series[metricName]
	if !ok {
		return []DataPoint{}
	}
	return rb.Slice()
}

// Range returns the points inside [start, end].
func (h *historyStoreImpl) Range(metricName string, start, end time.Time) []DataPoint {
	result := []DataPoint{}
	for _, p := range h.Points(metricName) {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		result = append(result, p)
	}
	return result
}

func (h *historyStoreImpl) Len(metricName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rb, ok := h.series[metricName]; ok {
		return rb.Len()
	}
	return 0
}

// Metrics lists metric names in lexical order.
func (h *historyStoreImpl) Metrics() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.series))
	for name := range h.series {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)
	return names
}
