package audio

import (
	"sync"
	"time"
)

// Accumulator groups per-user audio segments until the buffered duration
// reaches the inference threshold. Segments are mono samples at sampleRate.
type Accumulator struct {
	mu           sync.Mutex
	sampleRate   int
	thresholdSec int
	buffers      map[string][][]float32
}

func NewAccumulator(sampleRate, thresholdSec int) *Accumulator {
	return &Accumulator{
		sampleRate:   sampleRate,
		thresholdSec: thresholdSec,
		buffers:      make(map[string][][]float32),
	}
}

func (a *Accumulator) AddChunk(userID string, segment []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers[userID] = append(a.buffers[userID], segment)
}

func (a *Accumulator) ShouldInfer(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	chunks, ok := a.buffers[userID]
	if !ok {
		return false
	}
	return totalSamples(chunks) >= a.thresholdSec*a.sampleRate
}

// PopConcat removes the user's buffer and returns it as one segment in
// arrival order. It reports false when nothing was buffered.
func (a *Accumulator) PopConcat(userID string) ([]float32, bool) {
	a.mu.Lock()
	chunks := a.buffers[userID]
	delete(a.buffers, userID)
	a.mu.Unlock()

	n := totalSamples(chunks)
	if n == 0 {
		return nil, false
	}
	out := make([]float32, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, true
}

// BufferedDuration reports how much audio is waiting for the user.
func (a *Accumulator) BufferedDuration(userID string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return SamplesDuration(totalSamples(a.buffers[userID]), a.sampleRate)
}

// Reset drops whatever is buffered for the user.
func (a *Accumulator) Reset(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, userID)
}

func (a *Accumulator) SampleRate() int { return a.sampleRate }

func totalSamples(chunks [][]float32) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

// SamplesDuration converts a sample count into a duration.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
