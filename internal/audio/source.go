package audio

// BlockHandler receives each captured block of interleaved samples.
// The block is only valid for the duration of the call; handlers that keep
// samples must copy them. Handlers run on the source's delivery goroutine
// and must not block.
type BlockHandler func(block []float32, status StreamStatus)

// Source is a live or replayed stream of interleaved float32 audio blocks.
type Source interface {
	// Format returns the sample layout of delivered blocks.
	Format() Format
	// Start begins delivering blocks to handler.
	Start(handler BlockHandler) error
	// Stop halts delivery. No handler call is in progress once Stop returns.
	Stop() error
	// Close stops the source and releases its resources.
	Close() error
}
