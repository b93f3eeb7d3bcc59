package oflow

import (
	"bytes"
	"testing"

	"github.com/coresight-tools/tracehub/internal/cobs"
)

type captureSink struct {
	frames []Frame
}

func (c *captureSink) OnOflowFrame(f Frame) {
	c.frames = append(c.frames, f)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x41, 0x42, 0x43}
	raw := Encode(5, payload, 1000000000)

	sink := &captureSink{}
	fr := NewFramer()
	fr.AttachSink(sink)
	fr.OnFrame(raw)

	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(sink.frames))
	}
	got := sink.frames[0]
	if got.Tag != 5 || got.Timestamp != 1000000000 || !got.Good {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload = % x, want % x", got.Payload, payload)
	}
}

func TestBadChecksumStillDelivered(t *testing.T) {
	raw := Encode(1, []byte{0x01, 0x02}, 42)
	raw[1] ^= 0xFF // corrupt the checksum byte

	sink := &captureSink{}
	fr := NewFramer()
	fr.AttachSink(sink)
	fr.OnFrame(raw)

	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(sink.frames))
	}
	if sink.frames[0].Good {
		t.Fatal("expected good=false on corrupted checksum")
	}
	if fr.Stats.Errors.Load() != 1 {
		t.Fatalf("errors = %d, want 1", fr.Stats.Errors.Load())
	}
}

func TestShortFrameRejected(t *testing.T) {
	sink := &captureSink{}
	fr := NewFramer()
	fr.AttachSink(sink)
	fr.OnFrame(make([]byte, headerLen-1))

	if len(sink.frames) != 0 {
		t.Fatal("expected no frame delivered for undersized header")
	}
}

func TestThroughCOBS(t *testing.T) {
	stuffed := EncodeCOBS(5, []byte{0x41, 0x42, 0x43}, 1000000000)

	sink := &captureSink{}
	fr := NewFramer()
	d := cobs.NewDecoder()
	d.AttachSink(fr)
	fr.AttachSink(sink)

	for _, b := range stuffed {
		d.Pump(b)
	}

	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(sink.frames))
	}
	got := sink.frames[0]
	if got.Tag != 5 || !got.Good {
		t.Fatalf("got %+v", got)
	}
}
