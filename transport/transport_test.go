package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDropOldestQueueEvictsUnderPressure(t *testing.T) {
	q := newDropOldestQueue(2)
	q.push([]byte("a"))
	q.push([]byte("b"))
	q.push([]byte("c")) // evicts "a"

	ctx := context.Background()
	first, ok := q.pop(ctx)
	if !ok || string(first) != "b" {
		t.Fatalf("expected %q, got %q (ok=%v)", "b", first, ok)
	}
	if q.droppedCount() != 1 {
		t.Fatalf("expected 1 dropped packet, got %d", q.droppedCount())
	}
}

func TestDropOldestQueueClose(t *testing.T) {
	q := newDropOldestQueue(4)
	q.close()
	if _, ok := q.pop(context.Background()); ok {
		t.Fatal("expected pop on closed empty queue to return ok=false")
	}
}

func TestBlockBriefQueueDropsAfterGrace(t *testing.T) {
	q := newBlockBriefQueue(1, 5*time.Millisecond)
	if !q.push([]byte("x")) {
		t.Fatal("first push into empty queue should succeed")
	}
	if q.push([]byte("y")) {
		t.Fatal("second push should block briefly then drop since queue is full")
	}
	if q.droppedCount() != 1 {
		t.Fatalf("expected 1 dropped packet, got %d", q.droppedCount())
	}
}

func TestInputRingOverwritesOldestOnOverflow(t *testing.T) {
	r := newInputRing(4) // rounds to 4
	for i := 0; i < 6; i++ {
		r.push([]byte{byte(i)})
	}
	var got []byte
	for {
		pkt, ok := r.pop()
		if !ok {
			break
		}
		got = append(got, pkt[0])
	}
	// Capacity 4, pushed 0..5: the ring should have dropped 0 and 1,
	// leaving 2,3,4,5 in order.
	want := []byte{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInputRingEmptyPop(t *testing.T) {
	r := newInputRing(2)
	if _, ok := r.pop(); ok {
		t.Fatal("expected pop on empty ring to return ok=false")
	}
}

func TestSharedSocketRendezvousAndDispatch(t *testing.T) {
	socket, err := listenUDP("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer socket.close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		addr *net.UDPAddr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		addr, err := socket.awaitFirstFrom(ctx, net.ParseIP("127.0.0.1"))
		done <- result{addr, err}
	}()

	if _, err := client.WriteToUDP([]byte("hello"), socket.conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("awaitFirstFrom: %v", res.err)
	}
	if res.addr.IP.String() != "127.0.0.1" {
		t.Fatalf("unexpected rendezvous address: %v", res.addr)
	}

	received := make(chan []byte, 1)
	socket.register(res.addr, func(pkt []byte) { received <- pkt })
	if _, err := client.WriteToUDP([]byte("world"), socket.conn.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatal(err)
	}
	select {
	case pkt := <-received:
		if string(pkt) != "world" {
			t.Fatalf("got %q, want %q", pkt, "world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched packet")
	}
}

func TestVideoEndpointSendNeverBlocks(t *testing.T) {
	socket, err := listenUDP("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer socket.close()

	remote := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	e := newVideoEndpoint(socket, remote, 1)
	defer e.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Send([]byte{byte(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked under sustained back-pressure, violating the drop-oldest policy")
	}
}
