package capture

// Framer slices an arbitrary stream of sample buffers into fixed-size
// frames. It is not safe for concurrent use.
type Framer struct {
	size int
	buf  []float32
}

// NewFramer returns a Framer producing frames of size samples. size must be
// positive.
func NewFramer(size int) *Framer {
	if size <= 0 {
		panic("capture: frame size must be positive")
	}
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Write appends samples and calls emit once for every frame completed. The
// frame passed to emit is reused after emit returns.
func (f *Framer) Write(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			emit(f.buf)
			f.buf = f.buf[:0]
		}
	}
}

// Buffered returns the number of samples waiting for the next frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards any partial frame.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
