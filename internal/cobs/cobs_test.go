package cobs

import (
	"bytes"
	"testing"
)

type captureSink struct {
	frames [][]byte
}

func (c *captureSink) OnFrame(payload []byte) {
	c.frames = append(c.frames, payload)
}

func pumpAll(d *Decoder, data []byte) {
	for _, b := range data {
		d.Pump(b)
	}
}

func TestEncodeSimple(t *testing.T) {
	got := Encode([]byte{0x11, 0x22, 0x00, 0x33})
	want := []byte{0x03, 0x11, 0x22, 0x02, 0x33, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestEncodeMaxRun(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAA}, 254)
	got := Encode(payload)
	want := append([]byte{0xFF}, payload...)
	want = append(want, 0x01, 0x00)
	if !bytes.Equal(got, want) {
		t.Fatalf("len got=%d want=%d", len(got), len(want))
	}
}

func TestDecodeSimple(t *testing.T) {
	sink := &captureSink{}
	d := NewDecoder()
	d.AttachSink(sink)

	pumpAll(d, []byte{0x03, 0x11, 0x22, 0x02, 0x33, 0x00})

	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(sink.frames))
	}
	if !bytes.Equal(sink.frames[0], []byte{0x11, 0x22, 0x00, 0x33}) {
		t.Fatalf("got % x", sink.frames[0])
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0xAA}, 254),
		bytes.Repeat([]byte{0x00}, 10),
		append(bytes.Repeat([]byte{0xFF}, 300), 0x00, 0x01),
	}
	for i, payload := range cases {
		enc := Encode(payload)
		if bytes.Count(enc[:len(enc)-1], []byte{0x00}) != 0 {
			t.Fatalf("case %d: encoded body contains zero byte: % x", i, enc)
		}

		sink := &captureSink{}
		d := NewDecoder()
		d.AttachSink(sink)
		pumpAll(d, enc)

		if len(sink.frames) != 1 {
			t.Fatalf("case %d: got %d frames, want 1", i, len(sink.frames))
		}
		if !bytes.Equal(sink.frames[0], payload) {
			t.Fatalf("case %d: got % x, want % x", i, sink.frames[0], payload)
		}
	}
}

func TestEncodeExpansionBound(t *testing.T) {
	for _, n := range []int{0, 1, 253, 254, 255, 1000, 4096} {
		payload := bytes.Repeat([]byte{0x01}, n)
		enc := Encode(payload)
		bound := n + (n+253)/254 + 2
		if len(enc) > bound {
			t.Fatalf("n=%d: len(enc)=%d exceeds bound %d", n, len(enc), bound)
		}
	}
}

func TestDecoderBackToBackTerminators(t *testing.T) {
	sink := &captureSink{}
	d := NewDecoder()
	d.AttachSink(sink)
	pumpAll(d, []byte{0x00, 0x00, 0x01, 0x00})
	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames", len(sink.frames))
	}
	if len(sink.frames[0]) != 0 {
		t.Fatalf("expected empty frame, got % x", sink.frames[0])
	}
}

func TestDecoderOverflow(t *testing.T) {
	d := NewDecoder()
	d.AttachSink(&captureSink{})

	// A full 0xFF run followed by a long stream of 0x01 run-length bytes,
	// each implying a stuffed zero, grows the frame past MaxPayload.
	d.Pump(0xFF)
	for i := 0; i < MaxPayload+10; i++ {
		d.Pump(0x01)
	}
	if d.Stats.Errors.Load() == 0 {
		t.Fatal("expected an overflow error to be logged")
	}
}
