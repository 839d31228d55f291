package wire

import "fmt"

// fecGroup accumulates fragments belonging to one FEC group while a frame
// is being reassembled.
type fecGroup struct {
	sourceCount int
	parityCount int
	sources     map[int][]byte // local index within the group -> raw bytes
	parity      map[int][]byte // parity index -> blockSize bytes
	blockSize   int
}

// rawFragment is everything the depacketizer keeps about a fragment before
// it can be placed into its FEC group. Group boundaries aren't known for
// certain until enough of the frame has arrived, so fragments sit here
// until then.
type rawFragment struct {
	fecRepair   bool
	sourceCount int
	parityCount int
	payload     []byte
}

// Depacketizer reassembles video frames from received MediaPackets,
// tolerating up to ParityCount missing source fragments per FEC group.
// This is the client-side contract Section 4.7 calls out as "used by
// tests": the host never runs this path itself, but its test suite does,
// to exercise P6 byte-exactly.
type Depacketizer struct {
	timestamp uint32
	started   bool
	frameType bool // keyframe flag observed on fragment 0

	fragments map[int]rawFragment // FragIndex -> received fragment

	// groupSize is the widest (source+parity) count declared by any
	// fragment seen so far this frame. PacketizeVideo only ever shrinks
	// the final group of a frame, so the widest group observed is the
	// stride every group boundary sits on. Dividing the global FragIndex
	// by each packet's OWN declared count (which narrows for the final,
	// partial group) scrambles membership for every group after the
	// first; tracking the running max keeps it stable regardless of
	// arrival order.
	groupSize int

	sawLastFrag bool
	totalFrags  int
}

// NewDepacketizer creates an empty video depacketizer.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{fragments: make(map[int]rawFragment)}
}

// Reset discards any partially assembled frame.
func (d *Depacketizer) Reset() {
	*d = Depacketizer{fragments: make(map[int]rawFragment)}
}

// AddFragment feeds one received (and already verified) MediaPacket into
// the reassembler. It returns the reconstructed frame bytes and true once
// the frame is complete and deliverable, per Section 4.7's rule: a frame
// is deliverable when all source fragments arrive, or when at most
// parity-count are missing and parity arrived.
func (d *Depacketizer) AddFragment(pkt *MediaPacket) ([]byte, bool, error) {
	if !d.started {
		d.started = true
		d.timestamp = pkt.Timestamp
		d.frameType = pkt.Keyframe()
	} else if pkt.Timestamp != d.timestamp {
		// A fragment with a different timestamp starts a new frame and
		// drops any partial state of the previous one. Fragments are not
		// checked against frames already delivered: one carrying the
		// current timestamp re-runs assembly and returns the frame again,
		// and one carrying an earlier timestamp restarts assembly of that
		// earlier frame.
		d.Reset()
		d.started = true
		d.timestamp = pkt.Timestamp
		d.frameType = pkt.Keyframe()
	}

	sz := int(pkt.SourceCount) + int(pkt.ParityCount)
	if sz == 0 {
		return nil, false, fmt.Errorf("wire: fragment declares empty fec group")
	}
	if sz > d.groupSize {
		d.groupSize = sz
	}

	d.fragments[int(pkt.FragIndex)] = rawFragment{
		fecRepair:   pkt.FECRepair(),
		sourceCount: int(pkt.SourceCount),
		parityCount: int(pkt.ParityCount),
		payload:     pkt.Payload,
	}

	if idx := int(pkt.FragIndex) + 1; idx > d.totalFrags {
		d.totalFrags = idx
	}
	if pkt.LastFragment() {
		d.sawLastFrag = true
	}

	return d.tryAssemble()
}

// tryAssemble buckets every fragment seen so far into its FEC group using
// the current best estimate of the group stride, then attempts
// reconstruction if the terminal fragment has been observed and every
// group either has all its source fragments or enough parity to recover
// the rest. Rebuilding the groups from scratch on each call, rather than
// maintaining incremental buckets, keeps this correct even when the
// stride estimate grows after fragments were already received.
func (d *Depacketizer) tryAssemble() ([]byte, bool, error) {
	if !d.sawLastFrag || d.groupSize == 0 {
		return nil, false, nil
	}

	numGroups := (d.totalFrags + d.groupSize - 1) / d.groupSize
	groups := make([]*fecGroup, numGroups)

	for fragIdx, frag := range d.fragments {
		groupIdx := fragIdx / d.groupSize
		if groupIdx >= numGroups {
			// The stride estimate hasn't converged relative to this
			// fragment's position yet; wait for more information.
			return nil, false, nil
		}
		localIdx := fragIdx - groupIdx*d.groupSize

		g := groups[groupIdx]
		if g == nil {
			g = &fecGroup{
				sourceCount: frag.sourceCount,
				parityCount: frag.parityCount,
				sources:     make(map[int][]byte),
				parity:      make(map[int][]byte),
			}
			groups[groupIdx] = g
		}

		if frag.fecRepair {
			parityLocal := localIdx - frag.sourceCount
			if _, exists := g.parity[parityLocal]; !exists {
				g.parity[parityLocal] = frag.payload
				if g.blockSize == 0 {
					g.blockSize = len(frag.payload)
				}
			}
		} else {
			g.sources[localIdx] = frag.payload
		}
	}

	var out []byte
	for _, g := range groups {
		if g == nil {
			return nil, false, nil
		}
		missing := g.sourceCount - len(g.sources)
		if missing > 0 {
			if missing > len(g.parity) {
				return nil, false, nil // not enough parity yet (or ever)
			}
			recovered, err := d.recoverGroup(g)
			if err != nil {
				return nil, false, err
			}
			for idx, data := range recovered {
				g.sources[idx] = data
			}
		}
		for i := 0; i < g.sourceCount; i++ {
			out = append(out, g.sources[i]...)
		}
	}
	return out, true, nil
}

// recoverGroup reconstructs missing source fragments in g via GF(256)
// erasure decoding, using any received parity fragment's length as the
// common padded block size.
func (d *Depacketizer) recoverGroup(g *fecGroup) (map[int][]byte, error) {
	blockSize := g.blockSize
	if blockSize == 0 {
		return nil, fmt.Errorf("wire: no parity received to determine fec block size")
	}

	present := make(map[int][]byte, len(g.sources))
	for idx, raw := range g.sources {
		b := make([]byte, blockSize)
		b[0] = byte(len(raw) >> 8)
		b[1] = byte(len(raw))
		copy(b[2:], raw)
		present[idx] = b
	}

	var missing []int
	for i := 0; i < g.sourceCount; i++ {
		if _, ok := g.sources[i]; !ok {
			missing = append(missing, i)
		}
	}

	parityBlocks := make([][]byte, g.parityCount)
	for j := 0; j < g.parityCount; j++ {
		parityBlocks[j] = g.parity[j]
	}
	for j, p := range parityBlocks {
		if p == nil {
			// Missing parity fragment: treat as unusable, trim the slice
			// of usable parity rows to what actually arrived.
			parityBlocks = parityBlocks[:j]
			break
		}
	}
	if len(missing) > len(parityBlocks) {
		return nil, fmt.Errorf("wire: insufficient parity: %d missing, %d parity available", len(missing), len(parityBlocks))
	}

	recovered, err := decodeParity(g.sourceCount, present, parityBlocks, missing, blockSize)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]byte, len(recovered))
	for idx, block := range recovered {
		trimmed, err := trimBlock(block)
		if err != nil {
			return nil, err
		}
		out[idx] = trimmed
	}
	return out, nil
}

// FrameType reports whether the fragment stream currently being (or just)
// assembled started with the keyframe flag set.
func (d *Depacketizer) FrameType() bool { return d.frameType }
