package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// AudioEndpoint is the per-session sending side of the audio UDP channel.
// Its queue blocks briefly rather than dropping immediately, matching
// Section 5's "blocks briefly on audio" back-pressure policy — audio
// glitches are more perceptible than an occasional few-millisecond stall.
type AudioEndpoint struct {
	socket *sharedSocket
	remote *net.UDPAddr
	queue  *blockBriefQueue

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newAudioEndpoint(socket *sharedSocket, remote *net.UDPAddr, queueDepth int, grace time.Duration) *AudioEndpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &AudioEndpoint{
		socket: socket,
		remote: remote,
		queue:  newBlockBriefQueue(queueDepth, grace),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go e.sendLoop(ctx)
	return e
}

func (e *AudioEndpoint) sendLoop(ctx context.Context) {
	defer close(e.done)
	for {
		pkt, ok := e.queue.pop(ctx)
		if !ok {
			return
		}
		_ = e.socket.writeTo(e.remote, pkt)
	}
}

// Send enqueues a sealed audio MediaPacket, blocking up to the endpoint's
// grace period if the queue is momentarily full. It reports false if the
// packet was dropped.
func (e *AudioEndpoint) Send(pkt []byte) bool {
	return e.queue.push(pkt)
}

func (e *AudioEndpoint) DroppedPackets() uint64 {
	return e.queue.droppedCount()
}

func (e *AudioEndpoint) Close() {
	e.once.Do(func() {
		e.socket.unregister(e.remote)
		e.cancel()
		e.queue.close()
		<-e.done
	})
}
