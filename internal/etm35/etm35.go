// Package etm35 decodes ETMv3.5 instruction trace. Packets describing
// data-value trace (out-of-order data, store-fail, value-not-traced...)
// are outside this system's scope and are rejected as reserved headers;
// only the program-flow subset (address, atom, exception, context,
// cycle-count, timestamp, VMID, trigger) is reconstructed.
package etm35

import (
	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/trace"
)

// state names follow the ETMv3.5 packet processor's own state machine.
type state uint8

const (
	stateUNSYNCED state = iota
	stateWAIT_ISYNC
	stateIDLE
	stateCOLLECT_BA_STD
	stateCOLLECT_BA_ALT
	stateCOLLECT_EXCEPTION
	stateGET_CONTEXTBYTE
	stateGET_INFOBYTE
	stateGET_IADDRESS
	stateGET_ICYCLECOUNT
	stateGET_CYCLECOUNT
	stateGET_VMID
	stateGET_TSTAMP
	stateGET_CONTEXTID
)

const syncMonitorMask = 1<<48 - 1
const syncWord = 0x000000000080

// contVal32 decodes an LEB128-style continuation value (7 bits/byte,
// MSB as the continuation flag), used by branch-address and timestamp
// packets alike.
func contVal32(b []byte) uint32 {
	v := uint32(0)
	for i, c := range b {
		v |= uint32(c&0x7F) << (7 * i)
	}
	return v
}

func contDone(b byte) bool { return b&0x80 == 0 }

// Decoder is a byte-pump ETMv3.5 packet decoder.
type Decoder struct {
	component.Base

	state   state
	monitor uint64
	cont    []byte // continuation bytes accumulated in a GET_* state
	maxCont int

	pendingAddr uint64 // branch address held while the alt format's info/context bytes arrive
	infoByte    byte

	sink component.AttachPt[trace.Sink]
}

var _ trace.Engine = (*Decoder)(nil)

func NewDecoder() *Decoder {
	// the monitor starts all-ones so a lone 0x80 cannot alias the A-Sync
	// word before its five zero bytes have been seen.
	d := &Decoder{monitor: syncMonitorMask}
	d.Init("ETM35")
	d.sink = *component.NewAttachPt[trace.Sink]()
	return d
}

func (d *Decoder) AttachSink(s trace.Sink) component.Err { return d.sink.Attach(s) }

func (d *Decoder) Pump(b byte) {
	switch d.state {
	case stateUNSYNCED:
		d.monitor = (d.monitor<<8 | uint64(b)) & syncMonitorMask
		if d.monitor == syncWord {
			d.state = stateWAIT_ISYNC
			d.SyncAcquired.Add(1)
			d.emit(trace.Element{Kind: trace.KindNoSync})
		}

	case stateWAIT_ISYNC:
		if b == 0x08 || b == 0x70 {
			d.beginISync(b == 0x70)
		} else {
			d.unsync("expected I-Sync packet after A-Sync")
		}

	case stateIDLE:
		d.dispatchHeader(b)

	default: // one of the GET_*/COLLECT_* continuation states
		d.continueCollect(b)
	}
}

func (d *Decoder) unsync(msg string) {
	d.LogError(component.NewError(component.SevWarn, component.ErrInvalidPcktHdr, msg))
	d.state = stateUNSYNCED
	d.monitor = syncMonitorMask
}

func (d *Decoder) beginISync(cycleAcc bool) {
	d.cont = d.cont[:0]
	if cycleAcc {
		d.state = stateGET_ICYCLECOUNT
		d.maxCont = 5
	} else {
		d.state = stateGET_IADDRESS
		d.maxCont = 4
	}
}

func (d *Decoder) dispatchHeader(b byte) {
	d.cont = d.cont[:0]

	switch {
	case b&0x41 == 0x41: // branch address packet, alternate (extended) format:
		// address continuation is followed by an info byte and, optionally,
		// a context byte, instead of completing on the address alone.
		d.maxCont = 5
		d.state = stateCOLLECT_BA_ALT

	case b&0x01 == 0x01: // branch address packet, standard format
		d.maxCont = 5
		d.state = stateCOLLECT_BA_STD

	case b&0x81 == 0x80: // P-header (atom packet)
		d.PacketsOK.Add(1)
		if b&0x40 != 0 {
			d.emit(trace.Element{Kind: trace.KindExecuteAtom})
		} else {
			d.emit(trace.Element{Kind: trace.KindNotExecuteAtom})
		}

	case b == 0x00:
		d.state = stateUNSYNCED
		d.monitor = uint64(b)
		d.SyncLost.Add(1)

	case b == 0x04: // cycle count
		d.maxCont = 5
		d.state = stateGET_CYCLECOUNT

	case b == 0x08, b == 0x70: // mid-stream re-sync without A-Sync
		d.beginISync(b == 0x70)

	case b == 0x0C: // trigger
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindTrigger})

	case b == 0x3C: // VMID
		d.maxCont = 1
		d.state = stateGET_VMID

	case b == 0x6E: // ContextID
		d.maxCont = 4
		d.state = stateGET_CONTEXTID

	case b == 0x76: // exception exit
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindExceptionReturn})

	case b == 0x7E: // exception entry
		d.maxCont = 2
		d.state = stateCOLLECT_EXCEPTION

	case b == 0x66: // ignore
		d.PacketsOK.Add(1)

	case b&0xFB == 0x42: // timestamp
		d.maxCont = 7
		d.state = stateGET_TSTAMP

	default:
		d.unsync("reserved or data-trace ETMv3.5 header")
	}
}

func (d *Decoder) continueCollect(b byte) {
	d.cont = append(d.cont, b)
	done := len(d.cont) >= d.maxCont
	switch d.state {
	case stateCOLLECT_BA_STD, stateCOLLECT_BA_ALT:
		if contDone(b) {
			done = true
		}
	case stateGET_CYCLECOUNT, stateGET_ICYCLECOUNT, stateGET_TSTAMP:
		if contDone(b) {
			done = true
		}
	}
	if !done {
		return
	}

	switch d.state {
	case stateCOLLECT_BA_STD:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindAddress, Address: uint64(contVal32(d.cont))})
		d.state = stateIDLE
		return

	case stateCOLLECT_BA_ALT:
		d.pendingAddr = uint64(contVal32(d.cont))
		d.cont = d.cont[:0]
		d.maxCont = 1
		d.state = stateGET_INFOBYTE
		return

	case stateGET_INFOBYTE:
		d.infoByte = b
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindAddress, Address: d.pendingAddr})
		d.emit(trace.Element{Kind: trace.KindException, Exception: uint32(d.infoByte & 0x0F)})
		if d.infoByte&0x10 != 0 {
			d.emit(trace.Element{Kind: trace.KindThumb})
		}
		if d.infoByte&0x20 != 0 {
			d.emit(trace.Element{Kind: trace.KindJazelle})
		}
		if d.infoByte&0x40 != 0 {
			d.emit(trace.Element{Kind: trace.KindSecure})
		}
		if d.infoByte&0x80 != 0 {
			d.cont = d.cont[:0]
			d.maxCont = 1
			d.state = stateGET_CONTEXTBYTE
		} else {
			d.state = stateIDLE
		}
		return

	case stateGET_CONTEXTBYTE:
		d.emit(trace.Element{Kind: trace.KindContextID, ContextID: uint32(b)})
		d.state = stateIDLE
		return
	}

	d.PacketsOK.Add(1)
	switch d.state {
	case stateGET_IADDRESS:
		d.emit(trace.Element{Kind: trace.KindAddress, Address: uint64(leBytes32(d.cont))})
		d.state = stateIDLE

	case stateGET_ICYCLECOUNT:
		// cycle count consumed during I-Sync; the address bytes follow.
		d.cont = d.cont[:0]
		d.maxCont = 4
		d.state = stateGET_IADDRESS

	case stateGET_CYCLECOUNT:
		d.emit(trace.Element{Kind: trace.KindCycleCount, CycleCount: contVal32(d.cont)})
		d.state = stateIDLE

	case stateGET_VMID:
		d.emit(trace.Element{Kind: trace.KindVMID, VMID: uint32(d.cont[0])})
		d.state = stateIDLE

	case stateGET_CONTEXTID:
		d.emit(trace.Element{Kind: trace.KindContextID, ContextID: leBytes32(d.cont)})
		d.state = stateIDLE

	case stateCOLLECT_EXCEPTION:
		d.emit(trace.Element{Kind: trace.KindException, Exception: uint32(leBytes32(d.cont))})
		d.state = stateIDLE

	case stateGET_TSTAMP:
		d.emit(trace.Element{Kind: trace.KindTimestamp, Timestamp: uint64(contVal32(d.cont))})
		d.state = stateIDLE

	default:
		d.state = stateIDLE
	}
}

func leBytes32(b []byte) uint32 {
	v := uint32(0)
	for i, c := range b {
		if i >= 4 {
			break
		}
		v |= uint32(c) << (8 * i)
	}
	return v
}

func (d *Decoder) emit(e trace.Element) {
	if d.sink.HasAttachedAndEnabled() {
		d.sink.First().OnElement(e)
	}
}

// Flush signals end of trace: the caller has no more bytes and wants the
// decoder to report the stream's end to its sink.
func (d *Decoder) Flush() {
	d.emit(trace.Element{Kind: trace.KindEOT})
}
