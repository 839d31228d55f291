package transport

import (
	"context"
	"net"
	"sync"
)

// VideoEndpoint is the per-session sending side of the video UDP channel.
// Exactly one sender task drains the queue, matching Section 5's "packet
// emission is serialized on a single sender task; there is no concurrent
// send on the same stream endpoint."
type VideoEndpoint struct {
	socket *sharedSocket
	remote *net.UDPAddr
	queue  *dropOldestQueue

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// newVideoEndpoint binds a video endpoint for one session's remote address
// against the process-wide video socket and starts its sender task.
func newVideoEndpoint(socket *sharedSocket, remote *net.UDPAddr, queueDepth int) *VideoEndpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &VideoEndpoint{
		socket: socket,
		remote: remote,
		queue:  newDropOldestQueue(queueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go e.sendLoop(ctx)
	return e
}

func (e *VideoEndpoint) sendLoop(ctx context.Context) {
	defer close(e.done)
	for {
		pkt, ok := e.queue.pop(ctx)
		if !ok {
			return
		}
		_ = e.socket.writeTo(e.remote, pkt)
	}
}

// Send enqueues a sealed MediaPacket for transmission. It never blocks;
// under sustained back-pressure the oldest queued fragment is dropped.
func (e *VideoEndpoint) Send(pkt []byte) {
	e.queue.push(pkt)
}

// DroppedPackets reports how many packets this endpoint has evicted under
// back-pressure, for SessionStats and P8's bounded-memory observation.
func (e *VideoEndpoint) DroppedPackets() uint64 {
	return e.queue.droppedCount()
}

// Close stops the sender task and unregisters the endpoint from the shared
// socket. It is idempotent, satisfying P4's "all bound ports ... closed".
func (e *VideoEndpoint) Close() {
	e.once.Do(func() {
		e.socket.unregister(e.remote)
		e.cancel()
		e.queue.close()
		<-e.done
	})
}
