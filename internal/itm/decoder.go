package itm

import "github.com/coresight-tools/tracehub/internal/component"

type state int

const (
	stateUNSYNCED state = iota
	stateIDLE
	stateTS
	stateSW
	stateHW
	stateGTS1
	stateGTS2
	stateRSVD
	stateXTN
	stateNISYNC
)

const syncMonitorMask = 1<<48 - 1
const syncWord = 0x000000000080

// Event classifies the outcome of a Pump call.
type Event uint8

const (
	EventNone Event = iota
	EventPacketRxed
	EventUnsynced
	EventSynced
	EventOverflow
	EventError
)

// Decoder is a byte-pump ITM/DWT packet decoder.
type Decoder struct {
	component.Base

	state   state
	monitor uint64

	hdr  uint8
	pkt  Packet
	data []byte // continuation bytes read so far, header excluded
}

func NewDecoder() *Decoder {
	// the monitor starts all-ones so a lone 0x80 cannot alias the sync
	// word before the five zero bytes that precede it have been seen.
	d := &Decoder{monitor: syncMonitorMask}
	d.Init("ITM")
	return d
}

// Pump feeds one byte through the decoder. EventPacketRxed means Packet
// returns a freshly completed packet.
func (d *Decoder) Pump(b byte) Event {
	if d.state == stateUNSYNCED {
		d.monitor = (d.monitor<<8 | uint64(b)) & syncMonitorMask
		if d.monitor == syncWord {
			d.state = stateIDLE
			d.SyncAcquired.Add(1)
			return EventSynced
		}
		return EventNone
	}

	if b == 0x70 && d.state == stateIDLE {
		d.pkt = Packet{Type: PktOverflow}
		d.Overflows.Add(1)
		return EventOverflow
	}

	switch d.state {
	case stateIDLE:
		return d.dispatchHeader(b)
	default:
		return d.continueData(b)
	}
}

// Packet returns the most recently completed packet, valid only right
// after Pump returns EventPacketRxed.
func (d *Decoder) Packet() Packet { return d.pkt }

func (d *Decoder) beginPacket(st state, typ PktType) {
	d.state = st
	d.pkt = Packet{Type: typ}
	d.data = d.data[:0]
}

func (d *Decoder) dispatchHeader(b byte) Event {
	d.hdr = b

	switch {
	case b&0x03 != 0: // stimulus packet: SW or HW(DWT)
		if b&0x04 != 0 {
			d.beginPacket(stateHW, PktDWT)
		} else {
			d.beginPacket(stateSW, PktSWIT)
		}
		d.pkt.SrcID = (b >> 3) & 0x1F
		return d.continueStimulus(b)

	case b&0x0F == 0x00:
		switch {
		case b&0xF0 == 0x00:
			// A zero header mid-stream is reported as a single-byte
			// NISYNC marker packet; the decoder stays synced in IDLE and
			// does not count SyncLost or consult the sync monitor again.
			d.beginPacket(stateNISYNC, PktAsync)
			return d.finish()
		case b&0xF0 == 0x70:
			d.pkt = Packet{Type: PktOverflow}
			d.Overflows.Add(1)
			return EventOverflow
		default:
			d.beginPacket(stateTS, PktTSLocal)
			d.pkt.SrcID = (b >> 4) & 0x3
			if b&0x80 == 0 {
				d.pkt.Value = uint32(b>>4) & 0x7
				d.pkt.ValSz = 1
				return d.finish()
			}
			return EventNone
		}

	case b&0x0B == 0x08:
		d.beginPacket(stateXTN, PktExtension)
		return EventNone

	case b&0xDF == 0x94:
		if b&0x20 == 0 {
			d.beginPacket(stateGTS1, PktTSGlobal1)
		} else {
			d.beginPacket(stateGTS2, PktTSGlobal2)
		}
		return EventNone

	default:
		d.beginPacket(stateRSVD, PktReserved)
		d.LogError(component.NewError(component.SevError, component.ErrInvalidPcktHdr, "reserved ITM header"))
		d.state = stateIDLE
		return EventError
	}
}

// continueStimulus accumulates 1/2/4 payload bytes for SW/HW packets.
func (d *Decoder) continueStimulus(hdr byte) Event {
	want := int(hdr & 0x3)
	if want == 3 {
		want = 4
	}
	d.pkt.ValSz = uint8(want)
	if want == 0 {
		return d.finish()
	}
	return EventNone
}

// continueData feeds subsequent payload/continuation bytes for whatever
// packet type is in progress.
func (d *Decoder) continueData(b byte) Event {
	switch d.state {
	case stateSW, stateHW:
		d.data = append(d.data, b)
		if len(d.data) == int(d.pkt.ValSz) {
			d.pkt.Value = littleEndian32(d.data)
			return d.finish()
		}
		return EventNone

	case stateTS:
		d.data = append(d.data, b)
		if b&0x80 == 0 || len(d.data) == 4 {
			d.pkt.Value = contVal32(d.data)
			d.pkt.ValSz = uint8(len(d.data))
			return d.finish()
		}
		return EventNone

	case stateGTS1:
		d.data = append(d.data, b)
		if b&0x80 == 0 || len(d.data) == 4 {
			last := len(d.data) - 1
			if len(d.data) == 4 {
				d.pkt.SrcID = (d.data[last] >> 5) & 0x3
				d.data[last] &= 0x1F
			}
			d.pkt.Value = contVal32(d.data)
			d.pkt.ValSz = uint8(len(d.data))
			return d.finish()
		}
		return EventNone

	case stateGTS2:
		d.data = append(d.data, b)
		if b&0x80 == 0 || len(d.data) == 6 {
			if len(d.data) <= 4 {
				d.pkt.Value = contVal32(d.data)
			} else {
				d.pkt.Value, d.pkt.ValExt = contVal38(d.data)
			}
			d.pkt.ValSz = uint8(len(d.data))
			return d.finish()
		}
		return EventNone

	case stateXTN:
		if d.hdr&0x80 == 0 {
			d.finishExtension(nil)
			return d.finish()
		}
		d.data = append(d.data, b)
		if b&0x80 == 0 || len(d.data) == 4 {
			d.finishExtension(d.data)
			return d.finish()
		}
		return EventNone

	default: // RSVD, NISYNC: treated as a single-byte packet already closed
		d.state = stateIDLE
		return EventNone
	}
}

func (d *Decoder) finishExtension(cont []byte) {
	srcID := uint8(2)
	if len(cont) > 0 {
		nBits := []uint8{2, 9, 16, 23, 31}
		idx := len(cont) - 1
		if idx > 4 {
			idx = 4
		}
		srcID = nBits[idx]
	}
	if d.hdr&0x04 != 0 {
		srcID |= 0x80
	}
	d.pkt.SrcID = srcID

	value := uint32(0)
	if len(cont) > 0 {
		value = contVal32(cont) << 3
	}
	value |= uint32(d.hdr>>4) & 0x7
	d.pkt.Value = value
	d.pkt.ValSz = 4
}

func (d *Decoder) finish() Event {
	d.state = stateIDLE
	d.PacketsOK.Add(1)
	return EventPacketRxed
}

func littleEndian32(b []byte) uint32 {
	v := uint32(0)
	for i, c := range b {
		v |= uint32(c) << (8 * i)
	}
	return v
}

// contVal32 decodes an LEB128-style continuation value, 7 bits per byte.
func contVal32(b []byte) uint32 {
	v := uint32(0)
	for i, c := range b {
		v |= uint32(c&0x7F) << (7 * i)
	}
	return v
}

func contVal38(b []byte) (uint32, uint8) {
	full := uint64(0)
	for i, c := range b {
		full |= uint64(c&0x7F) << (7 * i)
	}
	return uint32(full & 0xFFFFFFFF), uint8((full >> 32) & 0x3F)
}
