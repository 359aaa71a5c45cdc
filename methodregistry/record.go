// Package methodregistry maps method identity to MethodRecord, classifies
// methods at registration time (monitored / timed / trigger / debug), and
// keeps the per-method counters spec.md §3 and §4.5 describe.
package methodregistry

import (
	"sync/atomic"
)

// Flags is the bit set of classification flags a MethodRecord carries.
type Flags uint8

const (
	FlagMonitored Flags = 1 << iota
	FlagTimed
	FlagTracedEnterExit
	FlagParameterDump
	FlagTrigger
	FlagProfilePointMemory
)

// SourceLocation names a start/end line pair, used only for the
// breakpoint-mode dispatch spec.md §3 mentions as optional.
type SourceLocation struct {
	Start, End int
}

// MethodRecord is one per distinct method observed, per spec.md §3.
//
// ClassID is a non-owning reference to the owning class: spec.md §9 cuts
// the ClassRecord/MethodRecord/ObjectRecord cycle by having MethodRecord
// and ObjectRecord hold only the class id, never a pointer back to
// classregistry.ClassRecord.
type MethodRecord struct {
	ID        uint64
	ClassID   uint64
	ClassName string
	Name      string
	Signature string
	Flags     Flags
	Location  SourceLocation

	nrCalls        atomic.Int64
	cpuTimeSum     atomic.Int64
	elapsedSum     atomic.Int64
	contentionSum  atomic.Int64
	nrContentions  atomic.Int64
}

// Counters is a point-in-time snapshot of a MethodRecord's counters.
type Counters struct {
	NrCalls       int64
	CPUTimeSum    int64
	ElapsedSum    int64
	ContentionSum int64
	NrContentions int64
}

func (m *MethodRecord) Has(f Flags) bool { return m.Flags&f != 0 }

// RecordCall updates the call counters for one completed invocation. cpu
// and elapsed are microseconds, already clamped to >= 0 by the caller
// (spec.md's max(0, now-baseline) contract, see clock.Clock.Diff).
func (m *MethodRecord) RecordCall(cpu, elapsed int64) {
	m.nrCalls.Add(1)
	m.cpuTimeSum.Add(cpu)
	m.elapsedSum.Add(elapsed)
}

// RecordContention adds a contention wait duration (microseconds) to the
// method's counters, used when a contention event is attributed to the
// currently-active method.
func (m *MethodRecord) RecordContention(waitMicros int64) {
	m.nrContentions.Add(1)
	m.contentionSum.Add(waitMicros)
}

// Snapshot returns the current counters.
func (m *MethodRecord) Snapshot() Counters {
	return Counters{
		NrCalls:       m.nrCalls.Load(),
		CPUTimeSum:    m.cpuTimeSum.Load(),
		ElapsedSum:    m.elapsedSum.Load(),
		ContentionSum: m.contentionSum.Load(),
		NrContentions: m.nrContentions.Load(),
	}
}

// Reset zeroes every counter, per spec.md §8 property 3.
func (m *MethodRecord) Reset() {
	m.nrCalls.Store(0)
	m.cpuTimeSum.Store(0)
	m.elapsedSum.Store(0)
	m.contentionSum.Store(0)
	m.nrContentions.Store(0)
}
