// Package trace defines the change-event vocabulary shared by every
// trace decoder engine (ETM3.5, ETM4, MTB): each engine reconstructs CPU
// execution state from a packet stream and reports it as a stream of
// Elements whenever an attribute of that state changes.
package trace

import "github.com/coresight-tools/tracehub/internal/component"

// Kind tags the Element sum type.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNoSync
	KindTraceOn
	KindTraceStop
	KindEOT
	KindAddress
	KindExecuteAtom
	KindNotExecuteAtom
	KindAddrNacc
	KindException
	KindExceptionReturn
	KindTimestamp
	KindCycleCount
	KindEvent
	KindContextID
	KindVMID
	KindSecure
	KindThumb
	KindJazelle
	KindLinear
	KindClockSpeed
	KindTrigger
)

func (k Kind) String() string {
	names := [...]string{
		"Unknown", "NoSync", "TraceOn", "TraceStop", "EOT", "Address",
		"ExecuteAtom", "NotExecuteAtom", "AddrNacc", "Exception",
		"ExceptionReturn", "Timestamp", "CycleCount", "Event", "ContextID",
		"VMID", "Secure", "Thumb", "Jazelle", "Linear", "ClockSpeed", "Trigger",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Element is one reconstructed change event. Only the fields relevant
// to Kind are meaningful; the rest are zero.
type Element struct {
	Kind       Kind
	Address    uint64
	Exception  uint32
	Timestamp  uint64
	CycleCount uint32
	ContextID  uint32
	VMID       uint32
	EventNum   uint16
}

// Sink receives reconstructed trace elements.
type Sink interface {
	OnElement(e Element)
}

// Engine is the uniform surface the trace decoder engines (ETM3.5,
// ETM4, MTB) share: bytes in via Pump, an explicit end-of-trace signal
// via Flush, and a name for stats reporting. Callers pick an engine at
// construction time and drive it through this interface.
type Engine interface {
	Pump(b byte)
	Flush()
	Name() string
	AttachSink(s Sink) component.Err
}
