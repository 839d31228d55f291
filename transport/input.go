package transport

import (
	"net"
	"sync"
)

// InputEndpoint is the per-session receiving side of the input UDP
// channel. It never blocks the shared socket's read loop: every datagram
// is pushed onto a lock-free ring and the session's dispatch task drains
// it whenever it runs, per Section 5's "never blocks on input".
type InputEndpoint struct {
	socket *sharedSocket
	remote *net.UDPAddr
	ring   *inputRing

	once sync.Once
}

func newInputEndpoint(socket *sharedSocket, remote *net.UDPAddr, ringDepth int) *InputEndpoint {
	e := &InputEndpoint{socket: socket, remote: remote, ring: newInputRing(ringDepth)}
	socket.register(remote, e.onPacket)
	return e
}

func (e *InputEndpoint) onPacket(pkt []byte) {
	e.ring.push(pkt)
}

// Recv returns the oldest unread input datagram, or ok=false if none has
// arrived since the last call.
func (e *InputEndpoint) Recv() (pkt []byte, ok bool) {
	return e.ring.pop()
}

// Close unregisters the endpoint from the shared socket.
func (e *InputEndpoint) Close() {
	e.once.Do(func() {
		e.socket.unregister(e.remote)
	})
}
