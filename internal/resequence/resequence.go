// Package resequence reorders decoded messages that arrive slightly out
// of timestamp order, a consequence of timestamp packets only settling
// an interval after the events inside it were transmitted.
package resequence

import (
	"sort"

	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/msg"
)

// Capacity bounds how many messages the sequencer holds before it is
// forced to release the oldest entry out of order.
const Capacity = 10

type entry struct {
	m       msg.Message
	arrival uint64
}

// Sequencer buffers up to Capacity messages and releases them to the
// attached sink once their timestamp interval has settled.
type Sequencer struct {
	component.Base

	buf     []entry
	arrival uint64
	sink    component.AttachPt[msg.Sink]
}

func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.Init("RESEQ")
	s.sink = *component.NewAttachPt[msg.Sink]()
	return s
}

func (s *Sequencer) AttachSink(sink msg.Sink) component.Err { return s.sink.Attach(sink) }

// OnMessage implements msg.Sink: it is the ingestion side of the
// sequencer, fed directly from a msg.Decoder.
func (s *Sequencer) OnMessage(m msg.Message) {
	s.buf = append(s.buf, entry{m: m, arrival: s.arrival})
	s.arrival++

	if m.Kind == msg.TS {
		s.settle(m.Timestamp)
	}
	if len(s.buf) > Capacity {
		s.releaseOldest()
	}
}

// settle releases every buffered message with a timestamp at or before
// settledTS, in (timestamp, arrival) order.
func (s *Sequencer) settle(settledTS uint64) {
	sort.SliceStable(s.buf, func(i, j int) bool {
		if s.buf[i].m.Timestamp != s.buf[j].m.Timestamp {
			return s.buf[i].m.Timestamp < s.buf[j].m.Timestamp
		}
		return s.buf[i].arrival < s.buf[j].arrival
	})

	i := 0
	for ; i < len(s.buf); i++ {
		if s.buf[i].m.Timestamp > settledTS {
			break
		}
		s.emit(s.buf[i].m)
	}
	s.buf = s.buf[i:]
}

// releaseOldest drops the sequencer's ordering guarantee for the single
// oldest-by-arrival entry so the buffer never blocks the producer.
func (s *Sequencer) releaseOldest() {
	oldest := 0
	for i := range s.buf {
		if s.buf[i].arrival < s.buf[oldest].arrival {
			oldest = i
		}
	}
	s.emit(s.buf[oldest].m)
	s.Overflows.Add(1)
	s.buf = append(s.buf[:oldest], s.buf[oldest+1:]...)
}

func (s *Sequencer) emit(m msg.Message) {
	s.PacketsOK.Add(1)
	if s.sink.HasAttachedAndEnabled() {
		s.sink.First().OnMessage(m)
	}
}
