package methodregistry

import (
	"strings"
	"sync"

	"github.com/sherlok-project/monitor-core/container"
)

// ScopeFilter decides whether a method belonging to classID/className
// should be monitored, timed, or otherwise classified, per spec.md §4.5.
// A zero-valued field disables that rule.
type ScopeFilter struct {
	// MonitorPackages/DontMonitorPackages are package-name prefixes, per
	// spec.md §6's MonitorPackage/DontMonitorPackage keys.
	MonitorPackages     []string
	DontMonitorPackages []string
	// GlobalTimer mirrors spec.md §6's MonitorTimer: if true every
	// monitored method is also timed.
	GlobalTimer bool
	// TriggerName/TriggerSignature select the armed trigger method,
	// spec.md §6's TriggerMethod.
	TriggerName      string
	TriggerSignature string
	// DebugNames is the set of fully-qualified method names with a debug
	// expression list attached, spec.md §4.5's "debug/parameter-dump".
	DebugNames map[string]bool
}

func (f ScopeFilter) monitored(className string) bool {
	if len(f.MonitorPackages) == 0 && len(f.DontMonitorPackages) == 0 {
		return true
	}
	for _, pkg := range f.DontMonitorPackages {
		if strings.HasPrefix(className, pkg) {
			return false
		}
	}
	if len(f.MonitorPackages) == 0 {
		return true
	}
	for _, pkg := range f.MonitorPackages {
		if strings.HasPrefix(className, pkg) {
			return true
		}
	}
	return false
}

// Registry maps method identity to MethodRecord.
type Registry struct {
	mu     sync.RWMutex
	byID   *container.Map[uint64, uint64, *MethodRecord]
	filter ScopeFilter
}

// New constructs an empty Registry.
func New(filter ScopeFilter) *Registry {
	return &Registry{
		byID:   container.New[uint64, uint64, *MethodRecord](),
		filter: filter,
	}
}

// SetFilter replaces the scope filter, re-classifying every existing
// method, per spec.md §4.5 ("at registration time (and on reset)").
func (r *Registry) SetFilter(filter ScopeFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
	r.byID.Range(func(_ uint64, m *MethodRecord) bool {
		r.classify(m, m.ClassName)
		return true
	})
}

// Register creates (or re-classifies, if already present) a MethodRecord
// for the given identity, owned by classID/qualified class name.
func (r *Registry) Register(id, classID uint64, qualifiedClassName, name, signature string) *MethodRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID.Find(id); ok {
		r.classify(existing, qualifiedClassName)
		return existing
	}

	m := &MethodRecord{ID: id, ClassID: classID, ClassName: qualifiedClassName, Name: name, Signature: signature}
	r.classify(m, qualifiedClassName)
	r.byID.Insert(id, classID, m)
	return m
}

func (r *Registry) classify(m *MethodRecord, qualifiedClassName string) {
	var flags Flags

	fqn := qualifiedClassName + "." + m.Name
	if r.filter.monitored(qualifiedClassName) {
		flags |= FlagMonitored
		if r.filter.GlobalTimer {
			flags |= FlagTimed
		}
		if r.filter.TriggerName == m.Name && (r.filter.TriggerSignature == "" || r.filter.TriggerSignature == m.Signature) {
			flags |= FlagTrigger
		}
		if r.filter.DebugNames[fqn] {
			flags |= FlagParameterDump | FlagTracedEnterExit
		}
	} else {
		// not monitored: still eligible for parameter-dump debugging,
		// per spec.md §4.5's classification list being independent rules.
		if r.filter.DebugNames[fqn] {
			flags |= FlagParameterDump | FlagTracedEnterExit
		}
	}

	m.Flags = flags
}

// Find returns the MethodRecord registered under id, and whether one is
// present. Callers ignore events for unknown ids (spec.md §4.7: "If
// unknown, the enter is ignored").
func (r *Registry) Find(id uint64) (*MethodRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID.Find(id)
}

// DeleteClass drops every method owned by classID in one pass, used when a
// class unloads (spec.md §4.2's arena-scoped bulk delete).
func (r *Registry) DeleteClass(classID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID.DeleteArena(classID)
}

// Reset zeroes every method's counters, without removing the records
// (spec.md §8 property 3: "classes retained across reset keep id and name
// only" — methods are retained too, counters cleared).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID.Range(func(_ uint64, m *MethodRecord) bool {
		m.Reset()
		return true
	})
}

// Range calls f for every registered method.
func (r *Registry) Range(f func(*MethodRecord) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.byID.Range(func(_ uint64, m *MethodRecord) bool {
		return f(m)
	})
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID.Len()
}
