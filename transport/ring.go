package transport

import "sync/atomic"

// inputRing is the lock-free single-producer/single-consumer ring used for
// the input channel. Section 5 forbids blocking on input ("never blocks on
// input — input path is latency-critical and uses a lock-free SPSC ring");
// a full ring silently overwrites its oldest unread slot instead of
// applying back-pressure to the UDP read loop.
//
// Exactly one goroutine may call push (the shared input socket's read
// loop) and exactly one goroutine may call pop (the session's dispatch
// task); mixing producers or consumers is undefined.
type inputRing struct {
	slots []atomic.Pointer[[]byte]
	mask  uint64
	head  atomic.Uint64 // next slot the consumer will read
	tail  atomic.Uint64 // next slot the producer will write
}

// newInputRing creates a ring whose capacity is rounded up to the next
// power of two.
func newInputRing(capacity int) *inputRing {
	n := 1
	for n < capacity {
		n <<= 1
	}
	if n < 2 {
		n = 2
	}
	r := &inputRing{slots: make([]atomic.Pointer[[]byte], n), mask: uint64(n - 1)}
	return r
}

// push stores pkt in the next slot, overwriting the oldest unread entry if
// the consumer has fallen behind by a full revolution. Never blocks.
func (r *inputRing) push(pkt []byte) {
	tail := r.tail.Add(1) - 1
	idx := tail & r.mask
	r.slots[idx].Store(&pkt)
	head := r.head.Load()
	// If the producer just overwrote a slot the consumer hasn't read yet,
	// advance head past it so pop never returns a stale or torn entry.
	if tail-head >= uint64(len(r.slots)) {
		r.head.CompareAndSwap(head, tail-uint64(len(r.slots))+1)
	}
}

// pop returns the oldest unread packet, or ok=false if the ring is empty.
func (r *inputRing) pop() (pkt []byte, ok bool) {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head >= tail {
			return nil, false
		}
		idx := head & r.mask
		p := r.slots[idx].Load()
		if r.head.CompareAndSwap(head, head+1) {
			if p == nil {
				continue
			}
			return *p, true
		}
	}
}
