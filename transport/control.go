package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelstream/streamhost/wire"
)

// ControlListener accepts the reliable control connections new sessions
// arrive on (Section 6's "one TCP-like reliable stream on a fixed port").
type ControlListener struct {
	ln net.Listener
}

func listenControl(bindAddr string, port int) (*ControlListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen control %d: %w", port, err)
	}
	return &ControlListener{ln: ln}, nil
}

// Accept blocks for the next inbound control connection. Callers run this
// in a loop until Close unblocks it with an error.
func (l *ControlListener) Accept() (*ControlConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return &ControlConn{conn: conn}, nil
}

func (l *ControlListener) Close() error {
	return l.ln.Close()
}

// ControlConn is one session's reliable control stream. Frames are
// authenticated with the session's control key once pairing/key derivation
// completes; SetKey installs it. Before a key is set, only the unencrypted
// pairing handshake (which carries its own signatures) may use SendPlain.
type ControlConn struct {
	conn net.Conn

	mu      sync.Mutex
	key     [32]byte
	hasKey  atomic.Bool
	sendSeq uint64
	recvSeq uint64
}

// SetKey installs the derived control key once the pairing handshake's key
// derivation step (Section 4.2) completes.
func (c *ControlConn) SetKey(key [32]byte) {
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
	c.hasKey.Store(true)
}

// RemoteAddr reports the peer's network address, used to register the
// matching video/audio/input UDP endpoints under the same session.
func (c *ControlConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send authenticates and writes one control message, advancing the
// per-connection send sequence used as the AEAD nonce counter.
func (c *ControlConn) Send(msg *wire.ControlMessage, deadline time.Time) error {
	if !c.hasKey.Load() {
		return fmt.Errorf("transport: control key not set")
	}
	c.mu.Lock()
	seq := c.sendSeq
	c.sendSeq++
	key := c.key
	c.mu.Unlock()

	frame, err := wire.EncodeControlFrame(msg, key, seq)
	if err != nil {
		return err
	}
	if !deadline.IsZero() {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	_, err = c.conn.Write(frame)
	return err
}

// Recv blocks for the next authenticated control message, enforcing the
// absolute deadline Section 5 requires every blocking operation to carry.
func (c *ControlConn) Recv(deadline time.Time) (*wire.ControlMessage, error) {
	if !c.hasKey.Load() {
		return nil, fmt.Errorf("transport: control key not set")
	}
	if !deadline.IsZero() {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	var prefix [4]byte
	if _, err := readFull(c.conn, prefix[:]); err != nil {
		return nil, err
	}
	length := wire.ReadControlFrameLength(prefix)
	body := make([]byte, length)
	if _, err := readFull(c.conn, body); err != nil {
		return nil, err
	}

	c.mu.Lock()
	seq := c.recvSeq
	c.recvSeq++
	key := c.key
	c.mu.Unlock()

	return wire.DecodeControlFrame(body, key, seq)
}

// SendPlain writes one control message with only the 4-byte length
// prefix framing, no AEAD seal: the path the pairing handshake uses
// before a control key exists. Every variant carried this way proves
// itself some other way (a PIN-derived HMAC, an Ed25519 signature), so
// the absence of a seal here doesn't weaken the exchange.
func (c *ControlConn) SendPlain(msg *wire.ControlMessage, deadline time.Time) error {
	plain := msg.Marshal()
	frame := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(plain)))
	copy(frame[4:], plain)

	if !deadline.IsZero() {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(frame)
	return err
}

// RecvPlain reads one length-prefixed, unauthenticated control message,
// the mirror of SendPlain for the pre-pairing leg of a connection.
func (c *ControlConn) RecvPlain(deadline time.Time) (*wire.ControlMessage, error) {
	if !deadline.IsZero() {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	var prefix [4]byte
	if _, err := readFull(c.conn, prefix[:]); err != nil {
		return nil, err
	}
	length := wire.ReadControlFrameLength(prefix)
	body := make([]byte, length)
	if _, err := readFull(c.conn, body); err != nil {
		return nil, err
	}

	msg := &wire.ControlMessage{}
	if err := msg.Unmarshal(body); err != nil {
		return nil, err
	}
	return msg, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *ControlConn) Close() error {
	return c.conn.Close()
}
