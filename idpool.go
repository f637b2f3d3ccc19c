package profz

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// IDPool keeps a buffer of pre-generated transaction IDs so Begin does not
// pay for crypto/rand on the request path.
type IDPool struct {
	generate func() string
	ids      chan string
	stopCh   chan struct{}
	mu       sync.Mutex
	closed   bool
}

// NewIDPool creates a pool holding up to capacity IDs from generate.
// A background goroutine keeps the pool topped up until Close.
func NewIDPool(capacity int, generate func() string) *IDPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &IDPool{
		generate: generate,
		ids:      make(chan string, capacity),
		stopCh:   make(chan struct{}),
	}
	go p.fill()
	return p
}

// Get returns a pooled ID, or a freshly generated one if the pool is dry.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.generate()
	}
}

func (p *IDPool) fill() {
	for {
		id := p.generate()
		select {
		case p.ids <- id:
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the background fill. Get keeps working after Close.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// randomID returns 16 random bytes, hex encoded.
func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
