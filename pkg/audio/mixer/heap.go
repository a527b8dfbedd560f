// Package mixer provides [Timeline], a sample-clock output that plays
// scheduled [pcm.Buffer] values at exact frame positions. It implements
// [audio.Output] for any backend that can pull rendered samples from a device
// callback (see audio/portaudio), and doubles as a deterministic output in
// tests where the clock only advances when Render is called.
package mixer

// entry wraps a pending voice with its ordering key. Voices start in order of
// their start frame; seq breaks ties so that buffers scheduled for the same
// instant start in the order they were scheduled.
type entry struct {
	v     *voice
	start int64  // first frame of the voice on the timeline
	seq   uint64 // monotonic insertion order for FIFO tie-breaking
}

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start frame (ascending), with FIFO tie-breaking on seq (ascending).
type voiceHeap []entry

func (h voiceHeap) Len() int { return len(h) }

// Less reports whether element i should start before element j.
func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *voiceHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
