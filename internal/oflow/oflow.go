// Package oflow implements the OFLOW frame layer: a thin header wrapped
// around each COBS frame carrying a tag, a checksum, and a capture
// timestamp.
package oflow

import (
	"encoding/binary"

	"github.com/coresight-tools/tracehub/internal/cobs"
	"github.com/coresight-tools/tracehub/internal/component"
)

// headerLen is tag(1) + checksum(1) + timestamp(8).
const headerLen = 10

// Frame is a decoded OFLOW frame handed to the attached sink.
type Frame struct {
	Tag       uint8
	Payload   []byte
	Timestamp uint64 // nanoseconds, as carried on the wire
	Good      bool   // false if the checksum did not verify
}

// FrameSink receives decoded OFLOW frames.
type FrameSink interface {
	OnOflowFrame(f Frame)
}

// Framer sits downstream of a cobs.Decoder: it implements cobs.FrameSink
// and re-emits each COBS frame as a parsed OFLOW Frame.
type Framer struct {
	component.Base
	sink component.AttachPt[FrameSink]
}

func NewFramer() *Framer {
	f := &Framer{}
	f.Init("OFLOW")
	f.sink = *component.NewAttachPt[FrameSink]()
	return f
}

func (f *Framer) AttachSink(s FrameSink) component.Err { return f.sink.Attach(s) }

// OnFrame implements cobs.FrameSink.
func (f *Framer) OnFrame(raw []byte) {
	if len(raw) < headerLen {
		f.LogError(component.NewError(component.SevWarn, component.ErrFrameTooShort, "OFLOW frame shorter than fixed header"))
		return
	}

	tag := raw[0]
	wantChecksum := raw[1]
	timestamp := binary.LittleEndian.Uint64(raw[2:10])
	payload := raw[headerLen:]

	got := checksum(tag, payload)
	good := got == wantChecksum
	if !good {
		f.Errors.Add(1)
	} else {
		f.PacketsOK.Add(1)
	}

	if f.sink.HasAttachedAndEnabled() {
		f.sink.First().OnOflowFrame(Frame{
			Tag:       tag,
			Payload:   payload,
			Timestamp: timestamp,
			Good:      good,
		})
	}
}

// checksum is the additive mod-256 checksum over tag followed by payload.
func checksum(tag uint8, payload []byte) uint8 {
	sum := tag
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode builds the COBS-ready byte sequence for an OFLOW frame: header
// plus payload, NOT yet COBS-encoded.
func Encode(tag uint8, payload []byte, timestamp uint64) []byte {
	out := make([]byte, headerLen+len(payload))
	out[0] = tag
	out[1] = checksum(tag, payload)
	binary.LittleEndian.PutUint64(out[2:10], timestamp)
	copy(out[headerLen:], payload)
	return out
}

// EncodeCOBS is Encode followed immediately by COBS stuffing, the form
// actually written to the wire.
func EncodeCOBS(tag uint8, payload []byte, timestamp uint64) []byte {
	return cobs.Encode(Encode(tag, payload, timestamp))
}
