package classregistry

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sherlok-project/monitor-core/container"
)

// ObjectRecord is one per live allocation being tracked — spec.md §3's
// "memory bit". It holds only the owning class's id (a non-owning
// reference, per spec.md §9's cycle-breaking design note), never a
// pointer to the ClassRecord itself.
type ObjectRecord struct {
	Handle     uint64 // the opaque tag handle stored in the host object, spec.md §9
	ContextID  uint64
	Size       int64
	Generation int64
	IsClass    bool
}

// GrowthAlertPolicy configures the heap-sweep growth-alert heuristic of
// spec.md §4.4.
type GrowthAlertPolicy struct {
	Factor   float64 // e.g. 2.0 doubles since last watermark
	MinBytes int64
}

// DumpOptions configures Registry.Dump, per spec.md §4.4's dump verb.
type DumpOptions struct {
	NameFilter string
	MinBytes   int64
	MinCount   int64
	SortBy     SortKey
	Limit      int // 0 means unlimited
}

// SortKey enumerates the sort columns named in spec.md §4.4.
type SortKey int

const (
	SortByName SortKey = iota
	SortByLiveBytes
	SortByLiveCount
	SortByHeapBytes
	SortByHeapCount
	SortByCumAlloc
	SortByCumFree
)

// Row is one matching class in a Dump result.
type Row struct {
	Class *ClassRecord
}

// DumpResult is the output of Dump: rows plus whether Limit truncated the
// result (spec.md §4.4: "Row limit triggers a truncation notice attribute
// (never silently drops)").
type DumpResult struct {
	Rows      []Row
	Truncated bool
}

// Registry maps class identity to ClassRecord.
type Registry struct {
	mu         sync.RWMutex
	byID       *container.Map[uint64, uint64, *ClassRecord]
	byName     map[string]uint64
	objects    map[uint64]*ObjectRecord // keyed by handle
	generation atomic.Int64
	policy     GrowthAlertPolicy
	// pendingDelete tracks classes marked deleted-but-pinned until their
	// last reference drops, per spec.md §3's lifecycle invariant.
	pendingDelete map[uint64]int
}

// New constructs an empty Registry.
func New(policy GrowthAlertPolicy) *Registry {
	return &Registry{
		byID:          container.New[uint64, uint64, *ClassRecord](),
		byName:        make(map[string]uint64),
		objects:       make(map[uint64]*ObjectRecord),
		pendingDelete: make(map[uint64]int),
		policy:        policy,
	}
}

// Generation returns the current transaction generation, per spec.md §3.
func (r *Registry) Generation() int64 { return r.generation.Load() }

// BumpGeneration increments and returns the new transaction generation,
// invalidating any ObjectRecord created under an older one. Called on
// reset/start, per spec.md §3's "Transaction generation" definition.
func (r *Registry) BumpGeneration() int64 {
	return r.generation.Add(1)
}

// OnClassPrepare registers a new class, or returns the existing record,
// per spec.md §4.4. superID/hasSuper models the weak super-class
// reference.
func (r *Registry) OnClassPrepare(id uint64, name string, superID uint64, hasSuper bool) *ClassRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID.Find(id); ok {
		return existing
	}

	rec := NewRecord(id, name)
	rec.SuperID = superID
	rec.HasSuper = hasSuper
	rec.Flags = FlagMonitored | FlagVisible
	r.byID.Insert(id, id, rec)
	r.byName[name] = id
	return rec
}

// Find looks up a class by id.
func (r *Registry) Find(id uint64) (*ClassRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID.Find(id)
}

// FindByName looks up a class by display name.
func (r *Registry) FindByName(name string) (*ClassRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID.Find(id)
}

// Tag creates an ObjectRecord for handle — the host-reported object
// identity, not a registry-minted one — attributing size bytes to
// contextClassID at the current generation. This is the allocation path
// of spec.md §4.7 step 1-2. Callers must ensure handle is not already
// live; Untag looks an object up by this same handle at free time, so
// minting a different key here would leave it unreachable.
func (r *Registry) Tag(handle, contextClassID uint64, size int64, isClass bool) *ObjectRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj := &ObjectRecord{
		Handle:     handle,
		ContextID:  contextClassID,
		Size:       size,
		Generation: r.generation.Load(),
		IsClass:    isClass,
	}
	r.objects[handle] = obj

	if cls, ok := r.byID.Find(contextClassID); ok {
		cls.recordAlloc(size)
	}
	return obj
}

// Retag re-attributes an already-tagged object to a new context class,
// subtracting its size from the old context and crediting the new one —
// spec.md §4.7's "Re-tag (rare)" realloc handling.
func (r *Registry) Retag(handle uint64, newContextID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[handle]
	if !ok {
		return
	}
	if old, ok := r.byID.Find(obj.ContextID); ok {
		old.recordFree(obj.Size)
	}
	obj.ContextID = newContextID
	if cur, ok := r.byID.Find(newContextID); ok {
		cur.recordAlloc(obj.Size)
	}
}

// Untag frees a previously-tagged object, dropping stale frees silently
// if its generation no longer matches the registry's current one —
// spec.md §4.7's free path and §3's generation invariant.
func (r *Registry) Untag(handle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[handle]
	if !ok {
		return
	}
	delete(r.objects, handle)

	if obj.Generation != r.generation.Load() {
		// stale generation: drop silently, spec.md §8 scenario 6
		return
	}

	if cls, ok := r.byID.Find(obj.ContextID); ok {
		cls.recordFree(obj.Size)
	}
}

// CurrentObject reports whether handle is still tagged under the
// registry's current transaction generation — the heap-sweep producer
// consults this per observed object so a sweep started before a reset
// does not count objects from a prior run (spec.md §4.4: "respect the
// transaction generation so only the current run is counted").
func (r *Registry) CurrentObject(handle uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[handle]
	return ok && obj.Generation == r.generation.Load()
}

// HeapSweepTally is one object observed during a heap sweep.
type HeapSweepTally struct {
	ClassID uint64
	Size    int64
}

// HeapSweep folds a sequence of tallies (delivered by the host's
// heap-iteration primitive, spec.md §4.4) into per-class heap-sweep
// counters for the given gcIndex, and returns the set of classes whose
// growth-alert watermark was crossed. Every tally is counted as given; no
// generation check is made here (heap.Sweeper drops stale objects before
// they reach this call).
func (r *Registry) HeapSweep(gcIndex int64, tallies []HeapSweepTally) (alerted []*ClassRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[uint64]int64)
	bytes := make(map[uint64]int64)
	for _, t := range tallies {
		counts[t.ClassID]++
		bytes[t.ClassID] += t.Size
	}

	for classID, n := range counts {
		cls, ok := r.byID.Find(classID)
		if !ok {
			continue
		}
		if cls.recordHeapSweep(gcIndex, n, bytes[classID], r.policy.Factor, r.policy.MinBytes) {
			alerted = append(alerted, cls)
		}
	}
	return alerted
}

// MarkDeletedButPinned removes id from the active map but keeps the record
// reachable via the returned ClassRecord, per spec.md §3's lifecycle:
// "removed from the active map but remains reachable from the
// deleted-classes list until the last pending reference drops."
func (r *Registry) MarkDeletedButPinned(id uint64, pendingRefs int) (*ClassRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cls, ok := r.byID.Find(id)
	if !ok {
		return nil, false
	}
	cls.Flags |= FlagDeletedButPinned
	r.byID.Remove(id)
	delete(r.byName, cls.Name)
	if pendingRefs > 0 {
		r.pendingDelete[id] = pendingRefs
	} else {
		delete(r.pendingDelete, id)
	}
	return cls, true
}

// ReleasePendingReference decrements the pending-reference count for a
// deleted-but-pinned class, finalizing (i.e. forgetting) it once it
// reaches zero. Returns true if the class was finalized by this call.
func (r *Registry) ReleasePendingReference(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.pendingDelete[id]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(r.pendingDelete, id)
		return true
	}
	r.pendingDelete[id] = n
	return false
}

// Reset zeroes every class's counters, keeping id and name (spec.md §8
// property 3), and bumps the transaction generation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID.Range(func(_ uint64, c *ClassRecord) bool {
		c.reset()
		return true
	})
	r.objects = make(map[uint64]*ObjectRecord)
	r.generation.Add(1)
}

// Dump applies the filter/threshold/sort/limit rules of spec.md §4.4 and
// returns the matching rows.
func (r *Registry) Dump(opts DumpOptions) DumpResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rows []Row
	r.byID.Range(func(_ uint64, c *ClassRecord) bool {
		if opts.NameFilter != "" && !strings.Contains(c.Name, opts.NameFilter) {
			return true
		}
		if c.LiveBytes() < opts.MinBytes || c.LiveCount() < opts.MinCount {
			return true
		}
		rows = append(rows, Row{Class: c})
		return true
	})

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Class, rows[j].Class
		switch opts.SortBy {
		case SortByLiveBytes:
			return a.LiveBytes() > b.LiveBytes()
		case SortByLiveCount:
			return a.LiveCount() > b.LiveCount()
		case SortByHeapBytes:
			return a.HeapSweep().Bytes > b.HeapSweep().Bytes
		case SortByHeapCount:
			return a.HeapSweep().Count > b.HeapSweep().Count
		case SortByCumAlloc:
			return a.CumulativeAlloc() > b.CumulativeAlloc()
		case SortByCumFree:
			return a.CumulativeFree() > b.CumulativeFree()
		default:
			return a.Name < b.Name
		}
	})

	truncated := false
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
		truncated = true
	}

	return DumpResult{Rows: rows, Truncated: truncated}
}

// Range calls f for every registered class.
func (r *Registry) Range(f func(*ClassRecord) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.byID.Range(func(_ uint64, c *ClassRecord) bool {
		return f(c)
	})
}

// RangeObjects calls f with the handle, owning class id, and size of
// every currently-tagged object, standing in for the host's
// heap-iteration primitive that heap.Sweeper drives a sweep from
// (spec.md §4.4: "through the runtime's heap-iteration primitive, tally
// one tagged object at a time").
func (r *Registry) RangeObjects(f func(handle, classID uint64, size int64) bool) {
	r.mu.RLock()
	objects := make([]*ObjectRecord, 0, len(r.objects))
	for _, obj := range r.objects {
		objects = append(objects, obj)
	}
	r.mu.RUnlock()

	for _, obj := range objects {
		if !f(obj.Handle, obj.ContextID, obj.Size) {
			return
		}
	}
}
