package optim

// AccumBuffer sums one variable's gradients across the steps of an
// accumulation window. Each buffer is owned by exactly one variable,
// allocated lazily on first accumulate, persists across steps and is
// zeroed immediately after each flush.
type AccumBuffer struct {
	data []float32
}

// Allocated reports whether the buffer has been used yet.
func (b *AccumBuffer) Allocated() bool { return b.data != nil }

// Data exposes the current buffer contents (nil before first use).
func (b *AccumBuffer) Data() []float32 { return b.data }

// Add folds one step's gradient into the buffer.
func (b *AccumBuffer) Add(grad []float32) {
	if b.data == nil {
		b.data = make([]float32, len(grad))
	}
	for i, g := range grad {
		b.data[i] += g
	}
}

// Flush folds the apply step's own gradient in, returns the window sum,
// and zeroes the buffer. The returned slice is freshly allocated; the
// caller owns it.
func (b *AccumBuffer) Flush(grad []float32) []float32 {
	b.Add(grad)
	out := make([]float32, len(b.data))
	copy(out, b.data)
	for i := range b.data {
		b.data[i] = 0
	}
	return out
}

// StepScalars derives the accumulation-window scalars for a raw step:
// the apply indicator is 1.0 when step is the last of its window of n
// (steps 0..n−2 accumulate, step n−1 applies) and for every step when the
// window is 1 or unset.
func StepScalars(step int64, window int) (indicator float32) {
	if window <= 1 || (step+1)%int64(window) == 0 {
		return 1
	}
	return 0
}
