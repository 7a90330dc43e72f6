package quic

import (
	"net"
	"sync"
)

// datagramSize is the maximum UDP payload this pool's slots can hold.
const datagramSize = 1500

// BufferPool is a fixed-size pool of pre-allocated datagram slots. Slots
// are addressed by small integer index rather than pointer, so the index
// can be carried through an I/O completion's user-data word without
// risking a dangling pointer.
type BufferPool struct {
	mu    sync.Mutex
	slots [][]byte
	peers []*net.UDPAddr
	free  []int
}

// NewBufferPool allocates size slots of datagramSize bytes each.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{
		slots: make([][]byte, size),
		peers: make([]*net.UDPAddr, size),
		free:  make([]int, size),
	}
	for i := range p.slots {
		p.slots[i] = make([]byte, datagramSize)
		p.free[i] = size - 1 - i
	}
	return p
}

// Acquire pops a free slot's index and its backing buffer. ok is false if
// the pool is exhausted.
func (p *BufferPool) Acquire() (idx int, buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, nil, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return idx, p.slots[idx], true
}

// Release returns slot idx to the free stack. It is safe, and required, to
// call this on every completion path, including error paths.
func (p *BufferPool) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[idx] = nil
	p.free = append(p.free, idx)
}

// SetPeer records the peer address associated with slot idx.
func (p *BufferPool) SetPeer(idx int, addr *net.UDPAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[idx] = addr
}

// Peer returns the peer address recorded for slot idx.
func (p *BufferPool) Peer(idx int) *net.UDPAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[idx]
}

// FreeCount returns the number of currently-unused slots.
func (p *BufferPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the pool's total slot count.
func (p *BufferPool) Size() int {
	return len(p.slots)
}
