// Package mtb decodes the Cortex-M Micro Trace Buffer format: pairs of
// 32-bit words, each recording the (source, destination) PC of one
// taken branch.
package mtb

import (
	"encoding/binary"

	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/trace"
)

// Decoder is a byte-pump MTB decoder. It signals NoSync exactly once,
// on the first byte pumped, since MTB carries no in-band resync marker.
type Decoder struct {
	component.Base

	buf      [8]byte
	buflen   int
	announce bool
	sink     component.AttachPt[trace.Sink]
}

var _ trace.Engine = (*Decoder)(nil)

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Init("MTB")
	d.sink = *component.NewAttachPt[trace.Sink]()
	return d
}

func (d *Decoder) AttachSink(s trace.Sink) component.Err { return d.sink.Attach(s) }

// Pump feeds one byte through the decoder, completing a (source,
// destination) word pair every 8 bytes.
func (d *Decoder) Pump(b byte) {
	if !d.announce {
		d.announce = true
		d.emit(trace.Element{Kind: trace.KindNoSync})
	}

	d.buf[d.buflen] = b
	d.buflen++
	if d.buflen < 8 {
		return
	}
	src := binary.LittleEndian.Uint32(d.buf[0:4])
	dst := binary.LittleEndian.Uint32(d.buf[4:8])
	d.buflen = 0

	d.PacketsOK.Add(1)
	if src == 0 && dst == 0 {
		// a zero (source, destination) pair marks a buffer-wrap/discontinuity:
		// the trace continues linearly with no taken branch recorded here.
		d.emit(trace.Element{Kind: trace.KindLinear})
		return
	}
	d.emit(trace.Element{Kind: trace.KindAddress, Address: uint64(src)})
	d.emit(trace.Element{Kind: trace.KindExecuteAtom, Address: uint64(dst)})
}

// Flush signals end of trace. A partial word pair still buffered is
// dropped: MTB words are only meaningful in full (source, destination)
// pairs.
func (d *Decoder) Flush() {
	d.buflen = 0
	d.emit(trace.Element{Kind: trace.KindEOT})
}

func (d *Decoder) emit(e trace.Element) {
	if d.sink.HasAttachedAndEnabled() {
		d.sink.First().OnElement(e)
	}
}
