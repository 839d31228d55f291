package wire

import (
	"encoding/binary"
	"fmt"
)

// InputPacketSize is the fixed, zero-padded size of an input packet.
const InputPacketSize = 64

// InputPacketType identifies the input packet variant. Only controller
// packets are defined; the fixed layout leaves room for future types.
const InputPacketType uint16 = 0x0C

// Stick is a signed analog stick axis pair.
type Stick struct {
	X, Y int16
}

// Vector3 is a signed 3-axis sample, used for accelerometer/gyro.
type Vector3 struct {
	X, Y, Z int16
}

// Point is a signed 2D pointer sample.
type Point struct {
	X, Y int16
}

// InputPacket is the wire-exact 64-byte fixed format for client input,
// matching Section 6 exactly including the always-present, zero-filled
// motion/pointer fields (Section 9's third open-question decision).
type InputPacket struct {
	Sequence         uint16
	Timestamp        uint32 // monotonic client ms
	ControllerIndex  uint8
	Buttons          uint32
	LeftStick        Stick
	RightStick       Stick
	LeftTrigger      uint8
	RightTrigger     uint8
	Accel            Vector3
	Gyro             Vector3
	Pointer          Point
	AuthTag          [AuthTagSize]byte
}

// Marshal encodes the packet into its fixed 64-byte wire form.
func (p *InputPacket) Marshal() ([]byte, error) {
	buf := make([]byte, InputPacketSize)
	binary.BigEndian.PutUint16(buf[0:2], InputPacketType)
	binary.BigEndian.PutUint16(buf[2:4], p.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	buf[8] = p.ControllerIndex
	buf[9] = 0 // reserved
	binary.BigEndian.PutUint32(buf[10:14], p.Buttons)
	putInt16(buf[14:16], p.LeftStick.X)
	putInt16(buf[16:18], p.LeftStick.Y)
	putInt16(buf[18:20], p.RightStick.X)
	putInt16(buf[20:22], p.RightStick.Y)
	buf[22] = p.LeftTrigger
	buf[23] = p.RightTrigger
	putInt16(buf[24:26], p.Accel.X)
	putInt16(buf[26:28], p.Accel.Y)
	putInt16(buf[28:30], p.Accel.Z)
	putInt16(buf[30:32], p.Gyro.X)
	putInt16(buf[32:34], p.Gyro.Y)
	putInt16(buf[34:36], p.Gyro.Z)
	putInt16(buf[36:38], p.Pointer.X)
	putInt16(buf[38:40], p.Pointer.Y)
	copy(buf[40:40+AuthTagSize], p.AuthTag[:])
	// buf[56:64] stays zero-padded reserved space.
	return buf, nil
}

// Unmarshal decodes a fixed 64-byte input packet.
func (p *InputPacket) Unmarshal(data []byte) error {
	if len(data) != InputPacketSize {
		return fmt.Errorf("wire: input packet must be %d bytes, got %d", InputPacketSize, len(data))
	}
	if pt := binary.BigEndian.Uint16(data[0:2]); pt != InputPacketType {
		return fmt.Errorf("wire: unexpected input packet type 0x%02x", pt)
	}
	p.Sequence = binary.BigEndian.Uint16(data[2:4])
	p.Timestamp = binary.BigEndian.Uint32(data[4:8])
	p.ControllerIndex = data[8]
	p.Buttons = binary.BigEndian.Uint32(data[10:14])
	p.LeftStick.X = getInt16(data[14:16])
	p.LeftStick.Y = getInt16(data[16:18])
	p.RightStick.X = getInt16(data[18:20])
	p.RightStick.Y = getInt16(data[20:22])
	p.LeftTrigger = data[22]
	p.RightTrigger = data[23]
	p.Accel.X = getInt16(data[24:26])
	p.Accel.Y = getInt16(data[26:28])
	p.Accel.Z = getInt16(data[28:30])
	p.Gyro.X = getInt16(data[30:32])
	p.Gyro.Y = getInt16(data[32:34])
	p.Gyro.Z = getInt16(data[34:36])
	p.Pointer.X = getInt16(data[36:38])
	p.Pointer.Y = getInt16(data[38:40])
	copy(p.AuthTag[:], data[40:40+AuthTagSize])
	return nil
}

func putInt16(b []byte, v int16) {
	binary.BigEndian.PutUint16(b, uint16(v))
}

func getInt16(b []byte) int16 {
	return int16(binary.BigEndian.Uint16(b))
}

// SequenceInWindow reports whether candidate is newer than last under
// modular comparison with a 256-entry window, matching P5 / Section 4.4's
// input freshness rule. Duplicates (candidate == last) are not newer.
func SequenceInWindow(last, candidate uint16) bool {
	if candidate == last {
		return false
	}
	diff := candidate - last
	return diff < 256
}
