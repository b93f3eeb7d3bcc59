// Package orchestrator wires a byte source through the demux and decode
// chain and into the network fan-out fabric, and owns that pipeline's
// goroutine lifecycle.
package orchestrator

import (
	"context"
	"net"
	"time"

	"github.com/coresight-tools/tracehub/internal/cobs"
	"github.com/coresight-tools/tracehub/internal/component"
	"github.com/coresight-tools/tracehub/internal/etm35"
	"github.com/coresight-tools/tracehub/internal/etm4"
	"github.com/coresight-tools/tracehub/internal/fabric"
	"github.com/coresight-tools/tracehub/internal/msg"
	"github.com/coresight-tools/tracehub/internal/mtb"
	"github.com/coresight-tools/tracehub/internal/oflow"
	"github.com/coresight-tools/tracehub/internal/resequence"
	"github.com/coresight-tools/tracehub/internal/stream"
	"github.com/coresight-tools/tracehub/internal/tpiu"
	"github.com/coresight-tools/tracehub/internal/trace"
)

// DemuxMode selects which frame layer, if any, sits between the raw
// byte source and the message decoders.
type DemuxMode uint8

const (
	DemuxNone DemuxMode = iota
	DemuxTPIU
	DemuxOFLOW
)

// ListenSpec binds a TCP port to a fan-out: either the raw undemuxed
// stream, or a specific OFLOW tag / TPIU stream-id sub-fabric.
type ListenSpec struct {
	Addr string
	Tag  *uint8 // nil selects the raw/undemuxed fabric
}

// Config is the fully-resolved orchestrator configuration, populated by
// cmd/tracehubd from flags.
type Config struct {
	Demux         DemuxMode
	ITMStreamID   uint8 // TPIU stream-id routed to the ITM decoder (DemuxTPIU)
	ITMTag        uint8 // OFLOW tag routed to the ITM decoder (DemuxOFLOW)
	IDFilter      map[uint8]bool
	Listeners     []ListenSpec
	StatsInterval time.Duration

	// Reopen, when non-nil, is called to obtain a fresh source after the
	// current one reaches end of stream; Run terminates on EOF when it is
	// nil. Failed reopens are retried after reopenBackoff.
	Reopen func() (stream.Source, error)
}

// reopenBackoff separates EOF from the next reopen attempt, so a
// perpetually-empty source doesn't spin the producer loop.
const reopenBackoff = 500 * time.Millisecond

// Orchestrator owns one source, its decode chain, and the fabrics its
// listeners attach to.
type Orchestrator struct {
	cfg    Config
	source stream.Source
	log    component.Logger

	raw    *fabric.Fabric
	tagMgr *fabric.Manager // OFLOW tags or TPIU stream-ids, depending on cfg.Demux

	cobsDec *cobs.Decoder
	oflowFr *oflow.Framer
	tpiuDmx *tpiu.Demux
	msgDec  *msg.Decoder
	seq     *resequence.Sequencer

	onMessage func(msg.Message)
}

// ETM4/ETM3.5/MTB trace-element decoders are not auto-routed by this
// orchestrator: the CLI's scope is the ITM/message path plus raw
// byte-level fan-out. A caller wanting reconstructed instruction-trace
// elements constructs an engine with NewTraceEngine and feeds it the
// per-stream bytes it cares about (e.g. the tpiu.Demux Pairs for the
// ETM stream-id), the same way this file attaches the ITM decoder.

// TraceProtocol selects which trace engine NewTraceEngine constructs.
type TraceProtocol uint8

const (
	ProtoETM35 TraceProtocol = iota
	ProtoETM4
	ProtoMTB
)

// NewTraceEngine constructs the trace decoder engine for proto. All
// three engines expose the same trace.Engine surface, so the caller's
// wiring is identical whichever protocol the target emits.
func NewTraceEngine(proto TraceProtocol) trace.Engine {
	switch proto {
	case ProtoETM4:
		return etm4.NewDecoder()
	case ProtoMTB:
		return mtb.NewDecoder()
	default:
		return etm35.NewDecoder()
	}
}

// New builds an orchestrator around src. onMessage, if non-nil, receives
// every message after it has settled through the re-sequencer.
func New(cfg Config, src stream.Source, log component.Logger, onMessage func(msg.Message)) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		source:    src,
		log:       log,
		raw:       fabric.New(),
		tagMgr:    fabric.NewManager(),
		onMessage: onMessage,
	}
	o.wire()
	return o
}

func (o *Orchestrator) wire() {
	o.msgDec = msg.NewDecoder()
	o.seq = resequence.NewSequencer()
	o.seq.AttachSink(sinkFunc(o.emitMessage))
	o.msgDec.AttachSink(o.seq)

	switch o.cfg.Demux {
	case DemuxTPIU:
		o.tpiuDmx = tpiu.NewDemux()
	case DemuxOFLOW:
		o.cobsDec = cobs.NewDecoder()
		o.oflowFr = oflow.NewFramer()
		o.cobsDec.AttachSink(o.oflowFr)
		o.oflowFr.AttachSink(frameSinkFunc(o.onOflowFrame))
	}

	if el, ok := o.log.(component.ErrorLog); ok {
		o.msgDec.AttachLog(el)
		o.msgDec.ITM().AttachLog(el)
		o.seq.AttachLog(el)
		if o.tpiuDmx != nil {
			o.tpiuDmx.AttachLog(el)
		}
		if o.cobsDec != nil {
			o.cobsDec.AttachLog(el)
			o.oflowFr.AttachLog(el)
		}
	}
}

// sinkFunc adapts a plain function to msg.Sink.
type sinkFunc func(msg.Message)

func (f sinkFunc) OnMessage(m msg.Message) { f(m) }

// frameSinkFunc adapts a plain function to oflow.FrameSink.
type frameSinkFunc func(oflow.Frame)

func (f frameSinkFunc) OnOflowFrame(fr oflow.Frame) { f(fr) }

func (o *Orchestrator) emitMessage(m msg.Message) {
	if o.onMessage != nil {
		o.onMessage(m)
	}
}

func (o *Orchestrator) onOflowFrame(f oflow.Frame) {
	if !f.Good {
		return
	}
	if len(o.cfg.IDFilter) > 0 && !o.cfg.IDFilter[f.Tag] {
		return
	}
	o.tagMgr.Write(f.Tag, f.Payload)
	if f.Tag == o.cfg.ITMTag {
		for _, b := range f.Payload {
			o.itmPump(b)
		}
	}
}

func (o *Orchestrator) itmPump(b byte) {
	o.msgDec.Pump(b)
}

// PumpByte feeds one raw source byte through the configured demux and
// decode chain, timestamping it with the current time for TPIU's
// half-sync timeout. Exported so tests can drive the pipeline without a
// live stream.Source.
func (o *Orchestrator) PumpByte(b byte) {
	o.PumpByteAt(b, time.Now())
}

// PumpByteAt is PumpByte with an explicit timestamp, used by tests that
// need deterministic control over TPIU's half-sync timeout.
func (o *Orchestrator) PumpByteAt(b byte, now time.Time) {
	o.raw.Write([]byte{b})

	switch o.cfg.Demux {
	case DemuxNone:
		o.itmPump(b)

	case DemuxTPIU:
		ev := o.tpiuDmx.Pump(b, now)
		if ev != tpiu.EventPacket {
			return
		}
		for _, p := range o.tpiuDmx.Pairs() {
			if len(o.cfg.IDFilter) > 0 && !o.cfg.IDFilter[p.StreamID] {
				continue
			}
			o.tagMgr.Write(p.StreamID, []byte{p.Byte})
			if p.StreamID == o.cfg.ITMStreamID {
				o.itmPump(p.Byte)
			}
		}

	case DemuxOFLOW:
		o.cobsDec.Pump(b)
	}
}

// Run drains the source until ctx is cancelled or the source reaches
// EOF, feeding every byte to PumpByte and serving configured listeners.
// It blocks until the source is exhausted or ctx is done. When
// cfg.Reopen is set, EOF closes the source and reopens it after a short
// backoff instead of terminating.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, ls := range o.cfg.Listeners {
		ln, err := net.Listen("tcp", ls.Addr)
		if err != nil {
			return err
		}
		f := o.raw
		if ls.Tag != nil {
			f = o.tagMgr.For(*ls.Tag)
		}
		go f.Serve(ctx, ln)
	}
	defer func() {
		o.raw.Close()
		o.tagMgr.Close()
	}()

	if o.cfg.StatsInterval > 0 {
		go o.reportStats(ctx)
	}

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			o.source.Close()
			return ctx.Err()
		default:
		}

		n, status, err := o.source.Read(buf, 500*time.Millisecond)
		for i := 0; i < n; i++ {
			o.PumpByte(buf[i])
		}
		switch status {
		case stream.EOF:
			if o.cfg.Reopen == nil {
				return nil
			}
			if err := o.reopen(ctx); err != nil {
				return err
			}
		case stream.Error:
			return err
		}
	}
}

// reopen closes the exhausted source and replaces it with a fresh one,
// retrying after reopenBackoff until it succeeds or ctx is cancelled.
func (o *Orchestrator) reopen(ctx context.Context) error {
	o.source.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reopenBackoff):
		}
		src, err := o.cfg.Reopen()
		if err != nil {
			o.log.Logf(component.SevWarn, "reopening source: %v", err)
			continue
		}
		o.source = src
		return nil
	}
}

func (o *Orchestrator) reportStats(ctx context.Context) {
	t := time.NewTicker(o.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			itmStats := o.msgDec.ITM().Stats.Snapshot()
			o.log.Logf(component.SevInfo, "itm: packets=%d errors=%d sync_lost=%d",
				itmStats.PacketsOK, itmStats.Errors, itmStats.SyncLost)
			o.log.Logf(component.SevInfo, "fabric: clients=%d dropped=%d bytes=%d",
				o.raw.ClientsConnected.Load(), o.raw.ClientsDropped.Load(), o.raw.BytesWritten.Load())
		}
	}
}
