// Package etm4 decodes ETMv4 instruction trace: program-flow packets
// (address, atom, exception, context, timestamp, cycle-count) are
// reconstructed into the shared trace.Element stream. Packets that only
// exist to drive an instruction-level code follower (the non-goal of
// this decoder) are consumed for byte-accounting but produce no element.
package etm4

import (
	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/trace"
)

type state uint8

const (
	stateUNSYNCED state = iota
	stateIDLE
	statePayload
)

const syncMonitorMask = 1<<48 - 1
const syncWord = 0x000000000080

// payload kinds awaited in statePayload.
type payloadKind uint8

const (
	payNone payloadKind = iota
	payTimestamp
	payException
	payContext
	payContextTail // ContextID trailer after an address+context header
	payAddrShort
	payAddrLong32
	payAddrLong64
	payQ
	payVMIDTail       // VMID trailer after a vcontext packet's ContextID
	payTraceInfoCtrl  // TraceInfo's INFO control byte, read after the 0x01 header
	payTraceInfoExtra // TraceInfo's variable trailer, length set by the control byte
)

// TraceInfo INFO-byte bits: which optional trailing fields follow the
// control byte itself, and whether context packets additionally carry a
// VMID (vcontext) rather than just a ContextID.
const (
	traceInfoCC   = 0x01 // cycle-count threshold, 4-byte trailer
	traceInfoCond = 0x02 // conditional load/store key, 1-byte trailer
	traceInfoCtxt = 0x04 // current context carries VMID (vcontext), 1-byte trailer
)

// Decoder is a byte-pump ETMv4 packet decoder.
type Decoder struct {
	component.Base

	state   state
	monitor uint64

	hdr  byte
	kind payloadKind
	need int
	data []byte

	ctxtHasVMID     bool // set by TraceInfo's INFO byte; affects 0x60-0x6F decoding
	pendingCtxtTail bool // true while an address+context packet still owes its context byte

	sink component.AttachPt[trace.Sink]
}

var _ trace.Engine = (*Decoder)(nil)

func NewDecoder() *Decoder {
	// the monitor starts all-ones so a lone 0x80 cannot alias the async
	// word before its five zero bytes have been seen.
	d := &Decoder{monitor: syncMonitorMask}
	d.Init("ETM4")
	d.sink = *component.NewAttachPt[trace.Sink]()
	return d
}

func (d *Decoder) AttachSink(s trace.Sink) component.Err { return d.sink.Attach(s) }

func (d *Decoder) Pump(b byte) {
	if d.state == stateUNSYNCED {
		d.monitor = (d.monitor<<8 | uint64(b)) & syncMonitorMask
		if d.monitor == syncWord {
			d.state = stateIDLE
			d.SyncAcquired.Add(1)
			d.emit(trace.Element{Kind: trace.KindNoSync})
		}
		return
	}

	if d.state == statePayload {
		d.data = append(d.data, b)
		if len(d.data) < d.need {
			return
		}
		kind, data := d.kind, d.data
		d.state = stateIDLE
		d.finishPayloadKind(kind, data)
		return
	}

	d.dispatchHeader(b)
}

func (d *Decoder) dispatchHeader(b byte) {
	d.hdr = b
	d.data = d.data[:0]

	switch {
	case b == 0x00: // async/extension prefix
		d.state = stateUNSYNCED
		d.monitor = 0
		d.SyncLost.Add(1)

	case b == 0x01: // TraceInfo: an INFO control byte follows, selecting the trailer
		d.await(payTraceInfoCtrl, 1)

	case b == 0x02 || b == 0x03: // Timestamp, optionally with cycle count
		d.await(payTimestamp, 1)

	case b == 0x04: // TraceOn
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindTraceOn})

	case b == 0x05: // TraceStop
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindTraceStop})

	case b == 0x06: // Exception
		d.await(payException, 2)

	case b == 0x07: // ExceptionReturn
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindExceptionReturn})

	case b == 0x0A: // Address with no access (memory-nacc)
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindAddrNacc})

	case b == 0x0B: // Clock speed change
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindClockSpeed})

	case b >= 0x0C && b <= 0x1F: // cycle-count formats (F1/F2/F3)
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindCycleCount, CycleCount: uint32(b & 0x0F)})

	case b >= 0x50 && b <= 0x5F: // event trace
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindEvent, EventNum: uint16(b & 0x0F)})

	case b >= 0x60 && b <= 0x6F: // context, vcontext if TraceInfo's INFO byte set ctxt
		d.await(payContext, 1)

	case b >= 0x80 && b <= 0x8F: // address + context: context byte always trails
		d.pendingCtxtTail = true
		if b&0x04 != 0 {
			d.await(payAddrLong64, 8)
		} else {
			d.await(payAddrLong32, 4)
		}

	case b == 0x90: // exact address match
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindAddress})

	case b == 0x95 || b == 0x96: // short address
		d.await(payAddrShort, 2)

	case b == 0x9A || b == 0x9B: // long address, 32-bit
		d.await(payAddrLong32, 4)

	case b == 0x9D || b == 0x9E: // long address, 64-bit
		d.await(payAddrLong64, 8)

	case b >= 0xA0 && b <= 0xAF: // Q packet: instruction count
		d.await(payQ, 1)

	case b >= 0xC0: // atom formats: packed into the header bits themselves
		d.PacketsOK.Add(1)
		if b&0x01 != 0 {
			d.emit(trace.Element{Kind: trace.KindExecuteAtom})
		} else {
			d.emit(trace.Element{Kind: trace.KindNotExecuteAtom})
		}

	default:
		d.LogError(component.NewError(component.SevWarn, component.ErrInvalidPcktHdr, "unrecognized ETMv4 header"))
		d.state = stateUNSYNCED
		d.monitor = syncMonitorMask
	}
}

func (d *Decoder) await(kind payloadKind, need int) {
	if need == 0 {
		d.finishPayloadKind(kind, nil)
		return
	}
	d.kind = kind
	d.need = need
	d.data = d.data[:0]
	d.state = statePayload
}

func (d *Decoder) finishPayloadKind(kind payloadKind, data []byte) {
	switch kind {
	case payTimestamp:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindTimestamp, Timestamp: leWiden(data)})

	case payException:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindException, Exception: uint32(leWiden(data))})

	case payContext:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindContextID, ContextID: uint32(leWiden(data))})
		if d.ctxtHasVMID {
			d.await(payVMIDTail, 1)
		}

	case payVMIDTail:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindVMID, VMID: uint32(leWiden(data))})

	case payContextTail:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindContextID, ContextID: uint32(leWiden(data))})

	case payAddrShort, payAddrLong32, payAddrLong64:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindAddress, Address: leWiden(data)})
		if d.pendingCtxtTail {
			d.pendingCtxtTail = false
			d.await(payContextTail, 1)
		}

	case payQ:
		d.PacketsOK.Add(1)
		d.emit(trace.Element{Kind: trace.KindExecuteAtom, CycleCount: uint32(leWiden(data))})

	case payTraceInfoCtrl:
		ctrl := data[0]
		d.ctxtHasVMID = ctrl&traceInfoCtxt != 0
		extra := 0
		if ctrl&traceInfoCC != 0 {
			extra += 4
		}
		if ctrl&traceInfoCond != 0 {
			extra++
		}
		if ctrl&traceInfoCtxt != 0 {
			extra++
		}
		d.await(payTraceInfoExtra, extra)

	case payTraceInfoExtra:
		// cycle-count threshold, conditional-load/store key and the current
		// context byte are consumed but not reconstructed: nothing
		// downstream needs them without a code follower.
		d.PacketsOK.Add(1)
	}
}

func leWiden(b []byte) uint64 {
	v := uint64(0)
	for i, c := range b {
		v |= uint64(c) << (8 * i)
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
