// Package cobs implements Consistent Overhead Byte Stuffing: an encoder
// that removes zero bytes from a payload so it can be framed by a single
// zero terminator, and a streaming byte-pump decoder that reverses it.
package cobs

import "github.com/coresight-tools/tracehub/internal/component"

// MaxPayload bounds the size of a single decoded frame. Frames that grow
// past this are treated as an overflow condition: the decoder drains to
// the next terminator without producing output.
const MaxPayload = 4096

// Encode returns the COBS encoding of data, including the trailing zero
// frame terminator. The result contains no zero bytes except that final
// one; its length exceeds len(data) by at most ceil(len(data)/254)+2,
// the terminator included.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/254+2)
	out = append(out, 0) // placeholder for the first run's length byte
	codeIdx := 0
	code := byte(1)
	for _, b := range data {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	out = append(out, 0)
	return out
}

type state uint8

const (
	stateIDLE state = iota
	stateRXING
	stateDRAINING
)

// Decoder is a byte-pump COBS decoder: bytes are pushed one at a time
// and a completed frame is handed to the attached sink as soon as its
// terminating zero arrives.
type Decoder struct {
	component.Base

	state   state
	counter int
	maxRun  bool
	buf     []byte

	sink component.AttachPt[FrameSink]
}

// FrameSink receives decoded COBS frames, stripped of stuffing.
type FrameSink interface {
	OnFrame(payload []byte)
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.Init("COBS")
	d.sink = *component.NewAttachPt[FrameSink]()
	d.reset()
	return d
}

func (d *Decoder) AttachSink(s FrameSink) component.Err { return d.sink.Attach(s) }

func (d *Decoder) reset() {
	d.state = stateIDLE
	d.counter = 0
	d.maxRun = false
	d.buf = d.buf[:0]
}

// Pump feeds a single byte through the decoder.
func (d *Decoder) Pump(b byte) component.DatapathResp {
	switch d.state {
	case stateIDLE:
		if b == 0 {
			return component.RespCont
		}
		d.counter = int(b) - 1
		d.maxRun = b == 0xFF
		d.buf = d.buf[:0]
		d.state = stateRXING
		return component.RespCont

	case stateRXING:
		if d.counter == 0 {
			if b == 0 {
				d.emit()
				d.state = stateIDLE
				return component.RespCont
			}
			if !d.maxRun {
				d.buf = append(d.buf, 0)
				if len(d.buf) > MaxPayload {
					return d.overflow()
				}
			}
			d.counter = int(b) - 1
			d.maxRun = b == 0xFF
			return component.RespCont
		}
		if b == 0 {
			d.LogError(component.NewError(component.SevWarn, component.ErrInvalidPcktHdr, "premature COBS terminator"))
			d.Overflows.Add(1)
			d.reset()
			return component.RespWarnCont
		}
		d.buf = append(d.buf, b)
		d.counter--
		if len(d.buf) > MaxPayload {
			return d.overflow()
		}
		return component.RespCont

	default: // stateDRAINING
		if b == 0 {
			d.reset()
		}
		return component.RespCont
	}
}

func (d *Decoder) overflow() component.DatapathResp {
	d.LogError(component.NewError(component.SevError, component.ErrFrameTooLong, "COBS frame exceeds max payload"))
	d.state = stateDRAINING
	return component.RespErrCont
}

func (d *Decoder) emit() {
	d.PacketsOK.Add(1)
	if d.sink.HasAttachedAndEnabled() {
		frame := make([]byte, len(d.buf))
		copy(frame, d.buf)
		d.sink.First().OnFrame(frame)
	}
}
