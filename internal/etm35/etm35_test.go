package etm35

import (
	"testing"

	"github.com/coresight-tools/tracehub/internal/trace"
)

type captureSink struct {
	elems []trace.Element
}

func (c *captureSink) OnElement(e trace.Element) { c.elems = append(c.elems, e) }

// syncDecoder drives an A-Sync sequence (five 0x00 bytes + 0x80) followed
// by a minimal I-Sync (header 0x08 + a 4-byte instruction address),
// leaving the decoder in stateIDLE.
func syncDecoder(t *testing.T) (*Decoder, *captureSink) {
	t.Helper()
	d := NewDecoder()
	sink := &captureSink{}
	d.AttachSink(sink)

	for _, b := range []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80} {
		d.Pump(b)
	}
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindNoSync {
		t.Fatalf("A-Sync did not produce NoSync element: %+v", sink.elems)
	}

	d.Pump(0x08) // I-Sync header, no cycle count
	for _, b := range []byte{0x00, 0x10, 0x00, 0x00} {
		d.Pump(b)
	}
	if len(sink.elems) != 2 || sink.elems[1].Kind != trace.KindAddress || sink.elems[1].Address != 0x1000 {
		t.Fatalf("I-Sync did not produce expected address element: %+v", sink.elems)
	}

	sink.elems = sink.elems[:0]
	if d.state != stateIDLE {
		t.Fatalf("expected stateIDLE after I-Sync, got %v", d.state)
	}
	return d, sink
}

func TestBranchAddressPacket(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x03) // header: bit0 set -> branch address packet
	d.Pump(0x01) // single continuation byte, MSB clear terminates
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindAddress {
		t.Fatalf("got %+v", sink.elems)
	}
	if sink.elems[0].Address != 0x01 {
		t.Fatalf("address = 0x%X, want 0x01", sink.elems[0].Address)
	}
}

func TestAtomFormatHeader(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0xC0 | 0x40) // P-header, E atom
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindExecuteAtom {
		t.Fatalf("got %+v", sink.elems)
	}

	sink.elems = sink.elems[:0]
	d.Pump(0x80) // P-header, N atom
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindNotExecuteAtom {
		t.Fatalf("got %+v", sink.elems)
	}
}

func TestTriggerAndIgnore(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x0C)
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindTrigger {
		t.Fatalf("got %+v", sink.elems)
	}

	sink.elems = sink.elems[:0]
	d.Pump(0x66) // ignore packet, zero-length, no element
	if len(sink.elems) != 0 {
		t.Fatalf("expected no element for ignore packet, got %+v", sink.elems)
	}
}

func TestExceptionEntryAndExit(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x7E)
	d.Pump(0x02)
	d.Pump(0x00)
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindException || sink.elems[0].Exception != 2 {
		t.Fatalf("got %+v", sink.elems)
	}

	sink.elems = sink.elems[:0]
	d.Pump(0x76)
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindExceptionReturn {
		t.Fatalf("got %+v", sink.elems)
	}
}

func TestContextIDAndVMID(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x6E)
	for _, b := range []byte{0x07, 0x00, 0x00, 0x00} {
		d.Pump(b)
	}
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindContextID || sink.elems[0].ContextID != 7 {
		t.Fatalf("got %+v", sink.elems)
	}

	sink.elems = sink.elems[:0]
	d.Pump(0x3C)
	d.Pump(0x01)
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindVMID || sink.elems[0].VMID != 1 {
		t.Fatalf("got %+v", sink.elems)
	}
}

func TestAlternateBranchAddressPacket(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x41) // header: bit0+bit6 set -> alternate branch address packet
	d.Pump(0x05) // single continuation byte, MSB clear terminates address
	d.Pump(0x93) // info byte: ExcNum=3, Thumb set, context byte follows
	d.Pump(0x07) // context byte

	if len(sink.elems) != 4 {
		t.Fatalf("got %d elements, want 4: %+v", len(sink.elems), sink.elems)
	}
	if sink.elems[0].Kind != trace.KindAddress || sink.elems[0].Address != 5 {
		t.Fatalf("elem0 = %+v, want Address=5", sink.elems[0])
	}
	if sink.elems[1].Kind != trace.KindException || sink.elems[1].Exception != 3 {
		t.Fatalf("elem1 = %+v, want Exception=3", sink.elems[1])
	}
	if sink.elems[2].Kind != trace.KindThumb {
		t.Fatalf("elem2 = %+v, want Thumb", sink.elems[2])
	}
	if sink.elems[3].Kind != trace.KindContextID || sink.elems[3].ContextID != 7 {
		t.Fatalf("elem3 = %+v, want ContextID=7", sink.elems[3])
	}
	if d.state != stateIDLE {
		t.Fatal("expected stateIDLE after alternate branch-address sequence")
	}
}

func TestCycleCountContinuation(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x04) // cycle count header
	d.Pump(0x85) // continuation set: low 7 bits
	d.Pump(0x01) // final byte
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindCycleCount {
		t.Fatalf("got %+v", sink.elems)
	}
	if sink.elems[0].CycleCount != 0x85 {
		t.Fatalf("cycle count = 0x%X, want 0x85", sink.elems[0].CycleCount)
	}
}

func TestFlushEmitsEOT(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Flush()
	if len(sink.elems) != 1 || sink.elems[0].Kind != trace.KindEOT {
		t.Fatalf("got %+v", sink.elems)
	}
}

func TestUnrecognizedHeaderUnsyncs(t *testing.T) {
	d, sink := syncDecoder(t)
	d.Pump(0x0A) // data-trace header, out of scope
	if len(sink.elems) != 0 {
		t.Fatalf("expected no element for reserved header, got %+v", sink.elems)
	}
	if d.Stats.Errors.Load() != 1 {
		t.Fatalf("Errors = %d, want 1", d.Stats.Errors.Load())
	}
	if d.state != stateUNSYNCED {
		t.Fatal("expected decoder to fall back to UNSYNCED on bad header")
	}
}

func TestWaitISyncRejectsOtherHeader(t *testing.T) {
	d := NewDecoder()
	sink := &captureSink{}
	d.AttachSink(sink)
	for _, b := range []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80} {
		d.Pump(b)
	}
	d.Pump(0x04) // not an I-Sync header
	if d.state != stateUNSYNCED {
		t.Fatal("expected UNSYNCED after non-I-Sync byte in WAIT_ISYNC")
	}
	if d.Stats.Errors.Load() != 1 {
		t.Fatalf("Errors = %d, want 1", d.Stats.Errors.Load())
	}
}
