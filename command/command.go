// Package command implements the CommandInterpreter of spec.md §4.9: a
// line-oriented grammar of shell verbs that invoke dumpers and toggles
// against the registries, under a single "bridge" mutex so the
// interpreter runs exactly one command at a time and interleaves safely
// with runtime callbacks (spec.md §5).
package command

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sherlok-project/monitor-core/classregistry"
	"github.com/sherlok-project/monitor-core/config"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/exceptionregistry"
	"github.com/sherlok-project/monitor-core/methodregistry"
	"github.com/sherlok-project/monitor-core/tagtree"
	"github.com/sherlok-project/monitor-core/threadregistry"
	"github.com/sherlok-project/monitor-core/tracer"
)

// GCTrigger forces a garbage-collection cycle via the runtime, the
// external collaborator behind the `gc` verb (spec.md §4.9).
type GCTrigger interface {
	TriggerGC() error
}

// RepeatController is the subset of repeat.Loop the `repeat` verb drives.
// Declared here (rather than importing package repeat) so command has no
// dependency on repeat's queue/draining internals — repeat.Loop satisfies
// this interface structurally.
type RepeatController interface {
	Arm(period time.Duration)
	Disarm()
	SetLastCommand(command string)
}

// Interpreter is the CommandInterpreter. Construct with New and call
// Execute for each shell/repeat-loop command line.
type Interpreter struct {
	Classes    *classregistry.Registry
	Methods    *methodregistry.Registry
	Threads    *threadregistry.Registry
	Exceptions *exceptionregistry.Registry
	Tracer     *tracer.Tracer
	Config     *config.Store
	Sink       tagtree.Sink
	GC         GCTrigger
	Repeat     RepeatController
	Log        *diag.Logger

	bridge sync.Mutex

	mu       sync.Mutex
	monitor  bool
	logging  bool
	jarm     bool
}

// New constructs an Interpreter. Sink, Log and the registries must be
// non-nil; GC and Repeat may be nil (the `gc`/`repeat` verbs then fail
// with an error naming the missing collaborator).
func New() *Interpreter {
	return &Interpreter{}
}

// Execute parses and runs one command line, holding the bridge mutex for
// its entire duration. It implements repeat.Executor. A malformed or
// unknown verb returns an error and leaves all state unchanged, emitting
// a single "Command failed" trace event (spec.md §4.9/§4.10).
func (in *Interpreter) Execute(line string) error {
	in.bridge.Lock()
	defer in.bridge.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	err := in.dispatch(fields)
	if err != nil {
		in.emitMessage("Command failed", err.Error())
		if in.Log != nil {
			in.Log.Warning().Str("line", line).Err(err).Log("command failed")
		}
		return err
	}

	verb := strings.ToLower(fields[0])
	if verb != "repeat" && in.Repeat != nil {
		in.Repeat.SetLastCommand(line)
	}
	return nil
}

func (in *Interpreter) dispatch(fields []string) error {
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "help", "man":
		return in.cmdHelp(args)
	case "start":
		return in.cmdStartStop(args, true)
	case "stop":
		return in.cmdStartStop(args, false)
	case "lsc":
		return in.cmdDumpClasses(args, false)
	case "lml":
		return in.cmdDumpClasses(args, true)
	case "lsm":
		return in.cmdDumpMethods(args)
	case "lhd":
		return in.cmdDumpHeap(args)
	case "lss":
		return in.cmdDumpStatistics(args)
	case "lsp":
		return in.cmdDumpProperties(args)
	case "lcf":
		return in.cmdDumpConfigFiles(args)
	case "dex":
		return in.cmdDumpExceptions(args)
	case "dt":
		return in.cmdDumpThreads(args)
	case "gc":
		return in.cmdGC()
	case "reset":
		return in.cmdReset(args)
	case "repeat":
		return in.cmdRepeat(args)
	case "trace":
		return in.cmdTrace(args)
	case "set":
		return in.cmdSet(args)
	case "info":
		return in.cmdInfo()
	case "echo":
		return in.cmdEcho(args)
	case "version":
		return in.cmdVersion()
	case "chpwd":
		return in.cmdChpwd(args)
	case "exit":
		return in.cmdExit()
	default:
		return fmt.Errorf("command: unrecognized verb %q", fields[0])
	}
}

// flags is the parsed short-flag-clustered option set of spec.md §4.9:
// "-m1000" (min threshold), "-s<col>" (sort-by / reset's config-reload),
// "-f<name>" (filter), "-x" (include hash/id), "-C<hex-id>" (class
// filter), "-M<hex-id>" (method filter).
type flags struct {
	min       int64
	hasMin    bool
	sortBy    string
	filter    string
	includeID bool
	classHex  string
	methodHex string
	bare      map[byte]bool
}

func parseFlags(args []string) (flags, []string, error) {
	f := flags{bare: make(map[byte]bool)}
	var rest []string
	for _, a := range args {
		if len(a) < 2 || a[0] != '-' {
			rest = append(rest, a)
			continue
		}
		key := a[1]
		value := a[2:]
		switch key {
		case 'm':
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return flags{}, nil, fmt.Errorf("command: -m: %w", err)
			}
			f.min, f.hasMin = n, true
		case 's':
			f.sortBy = value
			f.bare['s'] = true
		case 'f':
			f.filter = value
		case 'x':
			f.bare['x'] = true
			f.includeID = true
		case 'C':
			f.classHex = value
		case 'M':
			f.methodHex = value
		default:
			return flags{}, nil, fmt.Errorf("command: unrecognized option %q", a)
		}
	}
	return f, rest, nil
}

func sortKeyFor(col string) classregistry.SortKey {
	switch col {
	case "bytes", "b":
		return classregistry.SortByLiveBytes
	case "count", "c":
		return classregistry.SortByLiveCount
	case "heapbytes", "hb":
		return classregistry.SortByHeapBytes
	case "heapcount", "hc":
		return classregistry.SortByHeapCount
	case "alloc", "a":
		return classregistry.SortByCumAlloc
	case "free", "f":
		return classregistry.SortByCumFree
	default:
		return classregistry.SortByName
	}
}

func (in *Interpreter) cmdHelp(args []string) error {
	topic := "all"
	if len(args) > 0 {
		topic = args[0]
	}
	in.emitMessage("Help", topic)
	return nil
}

func (in *Interpreter) cmdStartStop(args []string, enable bool) error {
	if len(args) != 1 {
		return fmt.Errorf("command: start/stop requires exactly one subsystem")
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	switch strings.ToLower(args[0]) {
	case "monitor":
		in.monitor = enable
	case "trace":
		for _, cat := range allCategories {
			if enable {
				in.Tracer.Enable(cat, in.Tracer.OptionsFor(cat))
			} else {
				in.Tracer.Disable(cat)
			}
		}
	case "log":
		in.logging = enable
	case "jarm":
		in.jarm = enable
	default:
		return fmt.Errorf("command: unrecognized subsystem %q", args[0])
	}
	return nil
}

var allCategories = []tracer.Category{
	tracer.CategoryMethod, tracer.CategoryParameter, tracer.CategoryTrigger,
	tracer.CategoryClass, tracer.CategoryGC, tracer.CategoryContention,
	tracer.CategoryStack, tracer.CategoryThread, tracer.CategoryException,
}

func (in *Interpreter) cmdDumpClasses(args []string, leaksOnly bool) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	opts := classregistry.DumpOptions{NameFilter: f.filter, MinBytes: f.min, SortBy: sortKeyFor(f.sortBy)}
	result := in.Classes.Dump(opts)

	typ := "Class"
	if leaksOnly {
		typ = "Leak"
	}
	node := tagtree.New(tagtree.KindList, typ)
	for _, row := range result.Rows {
		if leaksOnly && !row.Class.AlertArmed() {
			continue
		}
		child := node.Child(tagtree.KindList, typ)
		child.With("ClassName", row.Class.Name, tagtree.AttrString)
		child.With("LiveBytes", strconv.FormatInt(row.Class.LiveBytes(), 10), tagtree.AttrInteger)
		child.With("LiveCount", strconv.FormatInt(row.Class.LiveCount(), 10), tagtree.AttrInteger)
		if f.includeID {
			child.With("ID", strconv.FormatUint(row.Class.ID, 16), tagtree.AttrHex)
		}
	}
	if result.Truncated {
		node.With("Truncated", "true", tagtree.AttrString)
	}
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpMethods(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	node := tagtree.New(tagtree.KindList, "Method")
	in.Methods.Range(func(m *methodregistry.MethodRecord) bool {
		if f.filter != "" && !strings.Contains(m.Name, f.filter) {
			return true
		}
		snap := m.Snapshot()
		if f.hasMin && snap.NrCalls < f.min {
			return true
		}
		child := node.Child(tagtree.KindList, "Method")
		child.With("MethodName", m.Name, tagtree.AttrString)
		child.With("ClassName", m.ClassName, tagtree.AttrString)
		child.With("NrCalls", strconv.FormatInt(snap.NrCalls, 10), tagtree.AttrInteger)
		child.With("CpuTime", strconv.FormatInt(snap.CPUTimeSum, 10), tagtree.AttrMicrosecond)
		if f.includeID {
			child.With("ID", strconv.FormatUint(m.ID, 16), tagtree.AttrHex)
		}
		return true
	})
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpHeap(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	opts := classregistry.DumpOptions{NameFilter: f.filter, MinCount: f.min, SortBy: classregistry.SortByHeapBytes}
	result := in.Classes.Dump(opts)

	node := tagtree.New(tagtree.KindList, "Heap")
	for _, row := range result.Rows {
		counters := row.Class.HeapSweep()
		child := node.Child(tagtree.KindList, "Heap")
		child.With("ClassName", row.Class.Name, tagtree.AttrString)
		child.With("HeapCount", strconv.FormatInt(counters.Count, 10), tagtree.AttrInteger)
		child.With("HeapBytes", strconv.FormatInt(counters.Bytes, 10), tagtree.AttrInteger)
	}
	if result.Truncated {
		node.With("Truncated", "true", tagtree.AttrString)
	}
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpStatistics(_ []string) error {
	node := tagtree.New(tagtree.KindList, "Statistic")
	node.With("Classes", strconv.Itoa(classCount(in.Classes)), tagtree.AttrInteger)
	node.With("Methods", strconv.Itoa(in.Methods.Len()), tagtree.AttrInteger)
	node.With("Threads", strconv.Itoa(in.Threads.Len()), tagtree.AttrInteger)
	return in.Sink.Write(node)
}

func classCount(r *classregistry.Registry) int {
	n := 0
	r.Range(func(*classregistry.ClassRecord) bool { n++; return true })
	return n
}

func (in *Interpreter) cmdDumpProperties(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	// "-s<file>" carries the write-target filename in f.sortBy (the same
	// flag byte reused for a file path in this verb, per spec.md §4.9).
	if f.sortBy != "" {
		if err := in.Config.WriteFile(f.sortBy); err != nil {
			return err
		}
	}

	v := in.Config.Snapshot()
	node := tagtree.New(tagtree.KindList, "Properties")
	node.With("Port", strconv.Itoa(v.Port), tagtree.AttrInteger)
	node.With("ProfilerMode", string(v.ProfilerMode), tagtree.AttrString)
	node.With("MonitorOn", strconv.FormatBool(v.MonitorOn), tagtree.AttrString)
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpConfigFiles(_ []string) error {
	node := tagtree.New(tagtree.KindList, "File")
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpExceptions(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	node := tagtree.New(tagtree.KindList, "Exceptions")
	for _, rec := range in.Exceptions.Dump() {
		if f.filter != "" && !strings.Contains(rec.Name, f.filter) {
			continue
		}
		child := node.Child(tagtree.KindList, "Exceptions")
		child.With("ClassName", rec.Name, tagtree.AttrString)
		child.With("Count", strconv.FormatInt(rec.Count(), 10), tagtree.AttrInteger)
	}
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdDumpThreads(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	node := tagtree.New(tagtree.KindList, "Thread")
	in.Threads.Range(func(t *threadregistry.ThreadRecord) bool {
		if f.filter != "" && !strings.Contains(t.Name, f.filter) {
			return true
		}
		child := node.Child(tagtree.KindList, "Thread")
		child.With("ThreadId", strconv.FormatUint(t.ID, 10), tagtree.AttrInteger)
		child.With("Name", t.Name, tagtree.AttrString)
		child.With("State", t.State().String(), tagtree.AttrString)
		child.With("Depth", strconv.Itoa(t.CallStack.Depth()), tagtree.AttrInteger)
		return true
	})
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdGC() error {
	if in.GC == nil {
		return fmt.Errorf("command: gc: no GC collaborator configured")
	}
	return in.GC.TriggerGC()
}

func (in *Interpreter) cmdReset(args []string) error {
	f, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	in.Classes.Reset()
	in.Methods.Reset()
	in.Exceptions.Reset()
	in.Tracer.Reset()
	if f.bare['s'] {
		// force config reload, overwriting local edits, spec.md §4.9.
		in.Config.Replace(config.Default())
	}
	return nil
}

func (in *Interpreter) cmdRepeat(args []string) error {
	if in.Repeat == nil {
		return fmt.Errorf("command: repeat: no repeat loop configured")
	}
	if len(args) == 0 {
		in.Repeat.Disarm()
		return nil
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("command: repeat: %w", err)
	}
	if seconds <= 0 {
		in.Repeat.Disarm()
		return nil
	}
	in.Repeat.Arm(time.Duration(seconds) * time.Second)
	return nil
}

func categoryByName(name string) (tracer.Category, bool) {
	switch strings.ToLower(name) {
	case "method":
		return tracer.CategoryMethod, true
	case "parameter":
		return tracer.CategoryParameter, true
	case "trigger":
		return tracer.CategoryTrigger, true
	case "class":
		return tracer.CategoryClass, true
	case "gc":
		return tracer.CategoryGC, true
	case "contention":
		return tracer.CategoryContention, true
	case "stack":
		return tracer.CategoryStack, true
	case "thread":
		return tracer.CategoryThread, true
	case "exception":
		return tracer.CategoryException, true
	default:
		return 0, false
	}
}

func (in *Interpreter) cmdTrace(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("command: trace requires add/remove and a category")
	}
	action := strings.ToLower(args[0])
	cat, ok := categoryByName(args[1])
	if !ok {
		return fmt.Errorf("command: trace: unrecognized category %q", args[1])
	}
	f, _, err := parseFlags(args[2:])
	if err != nil {
		return err
	}
	switch action {
	case "add":
		opts := tracer.Options{}
		if f.hasMin {
			opts.ElapsedThreshold = time.Duration(f.min) * time.Microsecond
		}
		in.Tracer.Enable(cat, opts)
	case "remove":
		in.Tracer.Disable(cat)
	default:
		return fmt.Errorf("command: trace: unrecognized action %q", args[0])
	}
	return nil
}

func (in *Interpreter) cmdSet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("command: set requires exactly one key=value argument")
	}
	key, value, ok := strings.Cut(args[0], "=")
	if !ok {
		return fmt.Errorf("command: set: malformed argument %q", args[0])
	}
	return in.Config.Set(key, value)
}

func (in *Interpreter) cmdInfo() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	node := tagtree.New(tagtree.KindTrace, "Message")
	node.With("Info", fmt.Sprintf("monitor=%v log=%v jarm=%v", in.monitor, in.logging, in.jarm), tagtree.AttrString)
	return in.Sink.Write(node)
}

func (in *Interpreter) cmdEcho(args []string) error {
	in.emitMessage("Echo", strings.Join(args, " "))
	return nil
}

func (in *Interpreter) cmdVersion() error {
	in.emitMessage("Version", "sherlok-monitor-core")
	return nil
}

func (in *Interpreter) cmdChpwd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("command: chpwd requires exactly one path argument")
	}
	in.emitMessage("Chpwd", args[0])
	return nil
}

func (in *Interpreter) cmdExit() error {
	in.emitMessage("Exit", "")
	return nil
}

func (in *Interpreter) emitMessage(info, detail string) {
	node := tagtree.New(tagtree.KindTrace, "Message")
	node.With("Info", info, tagtree.AttrString)
	if detail != "" {
		node.With("Detail", detail, tagtree.AttrString)
	}
	_ = in.Sink.Write(node)
}
