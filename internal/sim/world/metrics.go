package world

import (
	"sync"
	"time"
)

// WorldMetrics is a copy of per-tick runtime numbers, safe to read from any
// goroutine.
type WorldMetrics struct {
	Tick       uint64       `json:"tick"`
	StepMS     float64      `json:"step_ms"`
	Observers  int          `json:"observers"`
	InboxDepth int          `json:"inbox_depth"`
	Rooms      []RoomSample `json:"rooms"`
}

type metricsBox struct {
	mu sync.Mutex
	m  WorldMetrics
}

func (b *metricsBox) store(m WorldMetrics) {
	b.mu.Lock()
	b.m = m
	b.mu.Unlock()
}

func (b *metricsBox) load() WorldMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.m
	m.Rooms = append([]RoomSample(nil), b.m.Rooms...)
	return m
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	return w.metrics.load()
}

func (w *World) recordMetrics(nowTick uint64, started time.Time, rooms []RoomSample) {
	w.metrics.store(WorldMetrics{
		Tick:       nowTick,
		StepMS:     float64(time.Since(started).Microseconds()) / 1000,
		Observers:  len(w.observers),
		InboxDepth: len(w.inbox),
		Rooms:      rooms,
	})
}
