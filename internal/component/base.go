package component

import "sync/atomic"

// ErrorLog is the interface a component logs recovered errors and
// messages to. The orchestrator attaches one Logger-backed sink to
// every component at startup.
type ErrorLog interface {
	LogError(err *Error)
	LogMessage(sev Severity, msg string)
}

// AttachPt is a single-slot generic attachment point, mirroring the
// library's one-sink-per-interface convention: a component may have at
// most one error sink, one decoded-output sink, one raw-monitor sink.
type AttachPt[T any] struct {
	enabled     bool
	hasAttached bool
	comp        T
}

func NewAttachPt[T any]() *AttachPt[T] {
	return &AttachPt[T]{enabled: true}
}

func (a *AttachPt[T]) Attach(comp T) Err {
	if a.hasAttached {
		return ErrAttachTooMany
	}
	a.comp, a.hasAttached = comp, true
	return OK
}

func (a *AttachPt[T]) Detach() Err {
	if !a.hasAttached {
		return ErrAttachCompNotFound
	}
	var empty T
	a.comp, a.hasAttached = empty, false
	return OK
}

func (a *AttachPt[T]) First() T { return a.comp }

func (a *AttachPt[T]) HasAttachedAndEnabled() bool { return a.hasAttached && a.enabled }

func (a *AttachPt[T]) SetEnabled(v bool) { a.enabled = v }

// Stats is the per-decoder statistics block: counters for sync
// acquired/lost, packets decoded, errors, overflow and reserved-packet
// hits. Fields are atomic.Uint64, matching fabric.Stats: the decode
// goroutine mutates them while a separate interval-reporter goroutine
// reads them, so plain uint64s would race.
type Stats struct {
	SyncAcquired atomic.Uint64
	SyncLost     atomic.Uint64
	PacketsOK    atomic.Uint64
	Errors       atomic.Uint64
	Overflows    atomic.Uint64
	Reserved     atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats with plain fields, safe
// to pass around or compare without touching the live atomics again.
type StatsSnapshot struct {
	SyncAcquired, SyncLost, PacketsOK, Errors, Overflows, Reserved uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SyncAcquired: s.SyncAcquired.Load(),
		SyncLost:     s.SyncLost.Load(),
		PacketsOK:    s.PacketsOK.Load(),
		Errors:       s.Errors.Load(),
		Overflows:    s.Overflows.Load(),
		Reserved:     s.Reserved.Load(),
	}
}

// Base is embedded by every protocol component (COBS decoder, OFLOW
// framer, TPIU demux, ITM packet processor, ETM/MTB engines). It owns
// the component's name, its attached error sink, its operational-mode
// flag word, and its statistics.
type Base struct {
	name             string
	log              AttachPt[ErrorLog]
	opFlags          uint32
	supportedOpFlags uint32
	Stats
}

func (b *Base) Init(name string) {
	b.name = name
	b.log = *NewAttachPt[ErrorLog]()
}

func (b *Base) Name() string { return b.name }

// SetOpMode sets the component's operational-mode flags. Flags outside
// the supported-mode mask are rejected.
func (b *Base) SetOpMode(opFlags uint32) Err {
	if opFlags&^b.supportedOpFlags != 0 {
		return ErrInvalidParamVal
	}
	b.opFlags = opFlags
	return OK
}

func (b *Base) OpMode() uint32 { return b.opFlags }

func (b *Base) SupportedOpModes() uint32 { return b.supportedOpFlags }

// SetSupportedOpModes declares which operational-mode flags this
// component accepts; called by the embedding component at construction.
func (b *Base) SetSupportedOpModes(flags uint32) { b.supportedOpFlags = flags }

func (b *Base) AttachLog(l ErrorLog) Err { return b.log.Attach(l) }

func (b *Base) LogError(err *Error) {
	b.Errors.Add(1)
	if b.log.HasAttachedAndEnabled() {
		b.log.First().LogError(err)
	}
}

func (b *Base) LogMessage(sev Severity, msg string) {
	if b.log.HasAttachedAndEnabled() {
		b.log.First().LogMessage(sev, msg)
	}
}
