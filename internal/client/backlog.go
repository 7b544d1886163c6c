package client

// pendingChunk is one unsent audio chunk queued during a disconnect.
type pendingChunk struct {
	chunkID int64
	pcm     []byte
}

// backlog buffers chunks while the transport is down, bounded by a
// PCM byte ceiling. When full it drops whole chunks from the oldest
// end so a reconnect resumes with the freshest audio.
type backlog struct {
	maxBytes int
	chunks   []pendingChunk
	bytes    int
	dropped  int64
}

func newBacklog(maxBytes int) *backlog {
	return &backlog{maxBytes: maxBytes}
}

// push appends a chunk and evicts from the front until the byte
// ceiling holds again.
func (b *backlog) push(chunkID int64, pcm []byte) {
	b.chunks = append(b.chunks, pendingChunk{chunkID: chunkID, pcm: pcm})
	b.bytes += len(pcm)
	for b.bytes > b.maxBytes && len(b.chunks) > 1 {
		b.bytes -= len(b.chunks[0].pcm)
		b.chunks = b.chunks[1:]
		b.dropped++
	}
	// A single chunk larger than the ceiling is still kept; partial
	// chunks would corrupt the PCM stream.
}

// pop removes and returns the oldest chunk.
func (b *backlog) pop() (pendingChunk, bool) {
	if len(b.chunks) == 0 {
		return pendingChunk{}, false
	}
	c := b.chunks[0]
	b.chunks = b.chunks[1:]
	b.bytes -= len(c.pcm)
	return c, true
}

// pushFront returns a chunk that failed to transmit to the head of
// the queue.
func (b *backlog) pushFront(c pendingChunk) {
	b.chunks = append([]pendingChunk{c}, b.chunks...)
	b.bytes += len(c.pcm)
}

func (b *backlog) len() int { return len(b.chunks) }

func (b *backlog) droppedCount() int64 { return b.dropped }
