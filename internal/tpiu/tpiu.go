// Package tpiu demultiplexes CoreSight TPIU-formatted trace: 16-byte
// frames carrying interleaved data from multiple trace source IDs,
// synchronized on the standard 0xFFFFFF7F frame-sync word.
package tpiu

import (
	"time"

	"github.com/coresight-tools/tracehub/internal/component"
)

const (
	frameSize  = 16
	syncWord   = 0xFFFFFF7F
	noID       = uint8(0xFF)
	halfSyncTO = 200 * time.Millisecond
)

type state uint8

const (
	stateUNSYNCED state = iota
	stateSYNCED
	stateRXING
	stateERROR
)

// Pair is one demultiplexed (stream, byte) output.
type Pair struct {
	StreamID uint8
	Byte     byte
}

// Event classifies what a Pump call produced.
type Event uint8

const (
	EventNone Event = iota
	EventPacket
	EventSynced
	EventLostSync
	EventHalfSync
)

// Demux is a byte-pump TPIU frame demultiplexer.
type Demux struct {
	component.Base

	state     state
	monitor   uint32
	frame     [frameSize]byte
	frameLen  int
	currID    uint8
	lastByte  time.Time
	HalfSyncs uint64

	pairs []Pair
}

func NewDemux() *Demux {
	d := &Demux{currID: noID}
	d.Init("TPIU")
	return d
}

// Pump feeds one byte at time now through the demultiplexer. When it
// returns EventPacket, Pairs returns the frame's demultiplexed output.
func (d *Demux) Pump(b byte, now time.Time) Event {
	ev := EventNone
	if !d.lastByte.IsZero() && d.state != stateUNSYNCED && now.Sub(d.lastByte) > halfSyncTO {
		d.HalfSyncs++
		ev = EventHalfSync
	}
	d.lastByte = now

	switch d.state {
	case stateUNSYNCED:
		d.monitor = d.monitor<<8 | uint32(b)
		if d.monitor == syncWord {
			d.state = stateSYNCED
			d.frameLen = 0
			d.currID = noID
			d.SyncAcquired.Add(1)
			return EventSynced
		}
		return ev

	default: // SYNCED or RXING: accumulating one 16-byte frame
		d.state = stateRXING
		d.frame[d.frameLen] = b
		d.frameLen++
		if d.frameLen < frameSize {
			return ev
		}

		if isFSyncFrame(d.frame) {
			d.state = stateUNSYNCED
			d.monitor = 0
			d.SyncLost.Add(1)
			return EventLostSync
		}

		d.unpackFrame()
		d.state = stateSYNCED
		d.frameLen = 0
		d.PacketsOK.Add(1)
		return EventPacket
	}
}

// Pairs returns the (stream, byte) pairs produced by the most recent
// EventPacket. The returned slice is only valid until the next Pump call.
func (d *Demux) Pairs() []Pair { return d.pairs }

func isFSyncFrame(frame [frameSize]byte) bool {
	for i := 0; i < frameSize; i += 4 {
		if frame[i] != 0xFF || frame[i+1] != 0xFF || frame[i+2] != 0xFF || frame[i+3] != 0x7F {
			return false
		}
	}
	return true
}

// unpackFrame implements the Arm TPIU formatter rule: bytes 0-13 form
// seven (id-or-data, data) pairs, byte 14 is a trailing id-or-data byte,
// and byte 15 carries the low bit each even-indexed byte had stolen to
// make room for its ID-flag.
func (d *Demux) unpackFrame() {
	d.pairs = d.pairs[:0]
	frame := d.frame
	flags := frame[15]
	flagBit := uint8(0x01)

	emit := func(b byte) {
		if d.currID != noID {
			d.pairs = append(d.pairs, Pair{StreamID: d.currID, Byte: b})
		}
	}

	for i := 0; i < 14; i += 2 {
		b0, b1 := frame[i], frame[i+1]
		prevIDChange := false

		if b0&0x01 != 0 {
			newID := (b0 >> 1) & 0x7F
			if newID != d.currID {
				prevIDChange = flags&flagBit != 0
				if prevIDChange && d.currID != noID {
					emit(b1)
				}
				d.currID = newID
			}
		} else {
			dataByte := b0
			if flags&flagBit != 0 {
				dataByte |= 0x01
			}
			emit(dataByte)
		}

		if !prevIDChange {
			emit(b1)
		}
		flagBit <<= 1
	}

	b14 := frame[14]
	if b14&0x01 != 0 {
		d.currID = (b14 >> 1) & 0x7F
	} else {
		dataByte := b14
		if flags&flagBit != 0 {
			dataByte |= 0x01
		}
		emit(dataByte)
	}
}
