package pairing

import (
	"bufio"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientRecord is what a completed pairing attempt persists: the
// client's identity, its registered Ed25519 public key, and when it
// paired. Section 6: "a table of ClientRecords keyed by ClientId."
type ClientRecord struct {
	ClientID  uuid.UUID
	PublicKey ed25519.PublicKey
	Label     string
	PairedAt  time.Time
}

// recordKind tags each entry in the keystore log so the reader doesn't
// need a second file for the host identity versus the client table.
type recordKind uint8

const (
	recordHostIdentity recordKind = 1
	recordClientRecord recordKind = 2
)

// Keystore is the on-disk host identity and paired-client table
// described in Section 6: a length-prefixed record log with a per-record
// CRC32, so a crash mid-write leaves at most one trailing corrupt record
// rather than corrupting the whole file. Open truncates the file to the
// last good record.
type Keystore struct {
	path string

	mu      sync.RWMutex
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	clients map[uuid.UUID]ClientRecord
}

// Open loads path, generating a fresh host identity and an empty client
// table if the file doesn't exist yet. Corrupt trailing records are
// dropped and the file is truncated to the last good offset so the next
// Put doesn't keep re-appending after garbage.
func Open(path string) (*Keystore, error) {
	ks := &Keystore{path: path, clients: map[uuid.UUID]ClientRecord{}}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pairing: open keystore: %w", err)
	}
	defer f.Close()

	goodOffset, err := ks.replay(f)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(goodOffset); err != nil {
		return nil, fmt.Errorf("pairing: truncate keystore to last good record: %w", err)
	}

	if ks.pub == nil {
		pub, priv, err := generateEd25519Identity()
		if err != nil {
			return nil, err
		}
		ks.pub, ks.priv = pub, priv
		if err := ks.appendRecord(recordHostIdentity, priv); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// replay reads every record from f, ignoring anything past the first bad
// CRC, and returns the byte offset just past the last good record.
func (ks *Keystore) replay(f *os.File) (int64, error) {
	r := bufio.NewReader(f)
	var offset int64

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			break
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 || n > 1<<20 {
			break
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			break
		}
		want := binary.BigEndian.Uint32(crcBuf)
		if crc32.ChecksumIEEE(body) != want {
			break
		}

		if err := ks.applyRecord(body); err != nil {
			break
		}
		offset += int64(4 + n + 4)
	}
	return offset, nil
}

func (ks *Keystore) applyRecord(body []byte) error {
	if len(body) < 1 {
		return fmt.Errorf("pairing: empty keystore record")
	}
	kind := recordKind(body[0])
	payload := body[1:]
	switch kind {
	case recordHostIdentity:
		if len(payload) != ed25519.PrivateKeySize {
			return fmt.Errorf("pairing: malformed host identity record")
		}
		priv := ed25519.PrivateKey(append([]byte(nil), payload...))
		ks.priv = priv
		ks.pub = priv.Public().(ed25519.PublicKey)
	case recordClientRecord:
		rec, err := decodeClientRecord(payload)
		if err != nil {
			return err
		}
		ks.clients[rec.ClientID] = rec
	default:
		return fmt.Errorf("pairing: unknown keystore record kind %d", kind)
	}
	return nil
}

// appendRecord writes one length-prefixed, CRC32-checked record to the
// keystore file, opening it in append mode for the single write.
func (ks *Keystore) appendRecord(kind recordKind, payload []byte) error {
	body := append([]byte{byte(kind)}, payload...)
	crc := crc32.ChecksumIEEE(body)

	buf := make([]byte, 4+len(body)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)
	binary.BigEndian.PutUint32(buf[4+len(body):], crc)

	f, err := os.OpenFile(ks.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("pairing: append keystore record: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("pairing: write keystore record: %w", err)
	}
	return f.Sync()
}

// HostIdentity returns the host's signing keypair.
func (ks *Keystore) HostIdentity() (ed25519.PublicKey, ed25519.PrivateKey) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.pub, ks.priv
}

// Lookup returns the registered client record, if any.
func (ks *Keystore) Lookup(clientID uuid.UUID) (ClientRecord, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	rec, ok := ks.clients[clientID]
	return rec, ok
}

// Put persists rec, both in memory and as a new appended log record.
func (ks *Keystore) Put(rec ClientRecord) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.appendRecord(recordClientRecord, encodeClientRecord(rec)); err != nil {
		return err
	}
	ks.clients[rec.ClientID] = rec
	return nil
}

func encodeClientRecord(rec ClientRecord) []byte {
	label := []byte(rec.Label)
	if len(label) > 255 {
		label = label[:255]
	}
	buf := make([]byte, 16+ed25519.PublicKeySize+8+1+len(label))
	copy(buf[0:16], rec.ClientID[:])
	copy(buf[16:16+ed25519.PublicKeySize], rec.PublicKey)
	off := 16 + ed25519.PublicKeySize
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(rec.PairedAt.Unix()))
	off += 8
	buf[off] = byte(len(label))
	copy(buf[off+1:], label)
	return buf
}

func decodeClientRecord(b []byte) (ClientRecord, error) {
	minLen := 16 + ed25519.PublicKeySize + 8 + 1
	if len(b) < minLen {
		return ClientRecord{}, fmt.Errorf("pairing: truncated client record")
	}
	var rec ClientRecord
	copy(rec.ClientID[:], b[0:16])
	rec.PublicKey = append(ed25519.PublicKey(nil), b[16:16+ed25519.PublicKeySize]...)
	off := 16 + ed25519.PublicKeySize
	rec.PairedAt = time.Unix(int64(binary.BigEndian.Uint64(b[off:off+8])), 0)
	off += 8
	labelLen := int(b[off])
	off++
	if len(b) < off+labelLen {
		return ClientRecord{}, fmt.Errorf("pairing: truncated client record label")
	}
	rec.Label = string(b[off : off+labelLen])
	return rec, nil
}
