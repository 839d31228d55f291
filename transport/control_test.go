package transport

import (
	"net"
	"testing"
	"time"

	"github.com/pixelstream/streamhost/wire"
)

func TestControlConnRoundTrip(t *testing.T) {
	ln, err := listenControl("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	addr := ln.ln.Addr().String()

	var key [32]byte
	copy(key[:], []byte("control-conn-round-trip-key-32!!"))

	accepted := make(chan *ControlConn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		conn.SetKey(key)
		accepted <- conn
	}()

	clientRaw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	client := &ControlConn{conn: clientRaw}
	client.SetKey(key)
	defer client.Close()

	var server *ControlConn
	select {
	case server = <-accepted:
		defer server.Close()
	case err := <-acceptErr:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	msg := &wire.ControlMessage{Tag: wire.ControlKeepAlive, Body: []byte("ping")}
	if err := client.Send(msg, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	got, err := server.Recv(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tag != wire.ControlKeepAlive || string(got.Body) != "ping" {
		t.Fatalf("unexpected message: %+v", got)
	}
}
