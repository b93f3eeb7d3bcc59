// Package msg turns decoded ITM/DWT packets into the system's
// domain-level message sum type: the software/hardware events a target
// actually emitted, each carrying the timestamp active when it arrived.
package msg

import (
	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/itm"
)

// Kind is the tag of the Message sum type.
type Kind uint8

const (
	Software Kind = iota
	NISync
	OffsetWrite
	DataAccessWP
	DataRWWP
	PCSample
	DWTEvent
	Exception
	TS
)

func (k Kind) String() string {
	switch k {
	case Software:
		return "Software"
	case NISync:
		return "NISync"
	case OffsetWrite:
		return "OffsetWrite"
	case DataAccessWP:
		return "DataAccessWP"
	case DataRWWP:
		return "DataRWWP"
	case PCSample:
		return "PCSample"
	case DWTEvent:
		return "DWTEvent"
	case Exception:
		return "Exception"
	case TS:
		return "TS"
	default:
		return "Unknown"
	}
}

// Message is one domain event derived from an ITM/DWT packet.
type Message struct {
	Kind      Kind
	Channel   uint8  // stimulus port, for Software
	Value     uint32 // payload value: address, data, PC, event bitmask...
	ValSz     uint8
	ExcNum    uint16 // exception number, for Exception
	ExcAction uint8  // 0=none, 1=entered, 2=exited, 3=returned
	RW        uint8  // 0=none, 1=read, 2=write, for DataRWWP
	Timestamp uint64
}

// Sink receives decoded messages.
type Sink interface {
	OnMessage(m Message)
}

// Decoder converts itm.Decoder output into Messages. It owns no
// timestamp source itself: the orchestrator advances Timestamp by
// feeding TS packets through Pump like any other packet, and the
// decoder carries the last-seen value forward onto subsequent
// non-timestamp messages.
type Decoder struct {
	component.Base
	itm *itm.Decoder

	lastTS uint64
	sink   component.AttachPt[Sink]
}

func NewDecoder() *Decoder {
	d := &Decoder{itm: itm.NewDecoder()}
	d.Init("MSG")
	d.sink = *component.NewAttachPt[Sink]()
	return d
}

func (d *Decoder) AttachSink(s Sink) component.Err { return d.sink.Attach(s) }

// ITM exposes the underlying packet decoder's statistics to callers
// that want both layers' counters.
func (d *Decoder) ITM() *itm.Decoder { return d.itm }

// Pump feeds one raw trace byte through the ITM packet decoder and, on
// a completed packet, maps it to a Message.
func (d *Decoder) Pump(b byte) {
	switch d.itm.Pump(b) {
	case itm.EventPacketRxed:
		d.dispatch(d.itm.Packet())
	case itm.EventOverflow:
		d.Overflows.Add(1)
	}
}

func (d *Decoder) dispatch(pkt itm.Packet) {
	m, ok := d.toMessage(pkt)
	if !ok {
		return
	}
	m.Timestamp = d.lastTS
	d.PacketsOK.Add(1)
	if d.sink.HasAttachedAndEnabled() {
		d.sink.First().OnMessage(m)
	}
}

func (d *Decoder) toMessage(pkt itm.Packet) (Message, bool) {
	switch pkt.Type {
	case itm.PktSWIT:
		return Message{Kind: Software, Channel: pkt.SrcID, Value: pkt.Value, ValSz: pkt.ValSz}, true

	case itm.PktAsync:
		return Message{Kind: NISync}, true

	case itm.PktTSLocal:
		d.lastTS += uint64(pkt.Value)
		return Message{Kind: TS, Value: pkt.Value}, true

	case itm.PktTSGlobal1:
		d.lastTS = uint64(pkt.Value)
		return Message{Kind: TS, Value: pkt.Value}, true

	case itm.PktTSGlobal2:
		d.lastTS = pkt.ExtValue()<<26 | uint64(d.lastTS&(1<<26-1))
		return Message{Kind: TS, Value: pkt.Value}, true

	case itm.PktDWT:
		return d.dwtMessage(pkt)

	default: // Overflow, Extension, Reserved, NotSync: not part of the domain sum type
		return Message{}, false
	}
}

func (d *Decoder) dwtMessage(pkt itm.Packet) (Message, bool) {
	switch {
	case pkt.SrcID == itm.DwtEvent:
		return Message{Kind: DWTEvent, Value: pkt.Value}, true

	case pkt.SrcID == itm.DwtException:
		action := uint8((pkt.Value >> 12) & 0x3)
		return Message{
			Kind:      Exception,
			ExcNum:    uint16(pkt.Value & 0x1FF),
			ExcAction: action,
		}, true

	case pkt.SrcID == itm.DwtPCSample:
		return Message{Kind: PCSample, Value: pkt.Value}, true

	case itm.IsDataTracePC(pkt.SrcID):
		return Message{Kind: OffsetWrite, Value: pkt.Value}, true

	case itm.IsDataTraceAddr(pkt.SrcID):
		return Message{Kind: DataAccessWP, Value: pkt.Value}, true

	case itm.IsDataTraceData(pkt.SrcID):
		rw := uint8((pkt.SrcID - 16) % 4)
		return Message{Kind: DataRWWP, Value: pkt.Value, RW: rw}, true

	default:
		d.LogError(component.NewError(component.SevWarn, component.ErrInvalidPcktHdr, "unrecognized DWT discriminator"))
		return Message{}, false
	}
}
