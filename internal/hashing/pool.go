package hashing

// bufferPool hands out fixed-size chunk buffers. It holds at most size idle
// buffers; extra buffers returned to a full pool are dropped.
type bufferPool struct {
	chunkSize int
	pool      chan []byte
}

func newBufferPool(chunkSize, size int) *bufferPool {
	return &bufferPool{
		chunkSize: chunkSize,
		pool:      make(chan []byte, size),
	}
}

func (p *bufferPool) get() []byte {
	select {
	case buf := <-p.pool:
		return buf
	default:
		return make([]byte, p.chunkSize)
	}
}

func (p *bufferPool) put(buf []byte) {
	if cap(buf) < p.chunkSize {
		return
	}
	select {
	case p.pool <- buf[:p.chunkSize]:
	default:
	}
}
