// Package monitor wires the registries, dispatcher, tracer, repeat loop,
// command interpreter, and shell into the single owning instance spec.md
// §9's design notes describe: "model them as owned members of a monitor
// struct whose single instance is created at init."
package monitor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sherlok-project/monitor-core/classregistry"
	"github.com/sherlok-project/monitor-core/clock"
	"github.com/sherlok-project/monitor-core/command"
	"github.com/sherlok-project/monitor-core/config"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/dispatch"
	"github.com/sherlok-project/monitor-core/exceptionregistry"
	"github.com/sherlok-project/monitor-core/heap"
	"github.com/sherlok-project/monitor-core/methodregistry"
	"github.com/sherlok-project/monitor-core/repeat"
	"github.com/sherlok-project/monitor-core/shell"
	"github.com/sherlok-project/monitor-core/threadregistry"
	"github.com/sherlok-project/monitor-core/tracer"
	"github.com/sherlok-project/monitor-core/vmevent"
)

// Monitor owns every long-lived component of the profiler, and this
// struct is the one place that holds them all together. Records refer to
// their class by integer id (spec.md §9); callstack frames and the
// dispatcher hold pointers to method records and registries.
type Monitor struct {
	Classes    *classregistry.Registry
	Methods    *methodregistry.Registry
	Threads    *threadregistry.Registry
	Exceptions *exceptionregistry.Registry
	Clock      *clock.Clock
	Tracer     *tracer.Tracer
	Dispatcher *dispatch.Dispatcher
	Repeat     *repeat.Loop
	Command    *command.Interpreter
	Config     *config.Store
	Mux        *shell.Multiplexer
	Log        *diag.Logger

	gcIndex int64
}

// New constructs a Monitor from startup configuration, wiring every
// collaborator the way cmd/sherlokd's single init call is expected to.
func New(log *diag.Logger, cfg config.Values) *Monitor {
	mux := &shell.Multiplexer{}

	classes := classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: cfg.MinMemorySize})
	methods := methodregistry.New(methodregistry.ScopeFilter{
		MonitorPackages:     cfg.MonitorPackage,
		DontMonitorPackages: cfg.DontMonitorPackage,
		GlobalTimer:         cfg.MonitorTimer,
		TriggerName:         cfg.TriggerMethod,
	})
	threads := threadregistry.New()
	exceptions := exceptionregistry.New()
	clk := clock.New()
	tr := tracer.New(mux, 0)

	store := config.New()
	store.Replace(cfg)

	interp := command.New()
	interp.Classes = classes
	interp.Methods = methods
	interp.Threads = threads
	interp.Exceptions = exceptions
	interp.Tracer = tr
	interp.Config = store
	interp.Sink = mux
	interp.Log = log

	rep := repeat.New(interp, log)
	interp.Repeat = rep

	d := dispatch.New(classes, methods, threads, exceptions, clk, tr, log)
	d.GCQueue = rep

	m := &Monitor{
		Classes:    classes,
		Methods:    methods,
		Threads:    threads,
		Exceptions: exceptions,
		Clock:      clk,
		Tracer:     tr,
		Dispatcher: d,
		Repeat:     rep,
		Command:    interp,
		Config:     store,
		Mux:        mux,
		Log:        log,
	}
	interp.GC = m
	return m
}

// TriggerGC implements command.GCTrigger: it performs a full heap sweep
// over every currently-tagged object (standing in for a forced
// collection cycle against the host runtime, spec.md §4.9's `gc` verb)
// and routes the resulting alerts and the GC lifecycle itself through
// the dispatcher exactly as a GCStart/GCFinish event pair would.
func (m *Monitor) TriggerGC() error {
	m.Dispatcher.Dispatch(vmevent.Event{Kind: vmevent.GCStart})

	gcIndex := m.gcIndex
	m.gcIndex++

	sweeper := heap.New(m.Classes, gcIndex, 0, heap.Config{BatchSize: 64, FlushInterval: 10 * time.Millisecond})
	ctx := context.Background()
	m.Classes.RangeObjects(func(handle, classID uint64, size int64) bool {
		_ = sweeper.Observe(ctx, handle, classID, size)
		return true
	})
	result, err := sweeper.Finish(ctx)
	if err != nil {
		return fmt.Errorf("monitor: heap sweep: %w", err)
	}
	for _, cls := range result.Alerted {
		m.Log.Warning().Str("class", cls.Name).Log("growth alert armed")
	}

	m.Dispatcher.Dispatch(vmevent.Event{Kind: vmevent.GCFinish, GCIndex: gcIndex})
	return nil
}

// Run drains ev until its Events channel closes or ctx is canceled,
// dispatching every event, and stops when either the source or the
// repeat loop exits. Both run concurrently, matching spec.md §5's
// concurrent EventDispatcher/RepeatThread/ShellThread roles.
func (m *Monitor) Run(ctx context.Context, source vmevent.Source) error {
	errCh := make(chan error, 2)

	go func() { errCh <- source.Run(ctx) }()
	go func() {
		for ev := range source.Events() {
			m.Dispatcher.Dispatch(ev)
		}
	}()
	go func() { errCh <- m.Repeat.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeShell starts the ShellThread on addr, gating on password (empty
// disables the gate), and blocks until ctx is canceled.
func (m *Monitor) ServeShell(ctx context.Context, addr, password string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen: %w", err)
	}
	defer ln.Close()

	srv := &shell.Server{
		Listener:    ln,
		Password:    password,
		Interpreter: m.Command,
		Mux:         m.Mux,
		Log:         m.Log,
	}
	return srv.Serve(ctx)
}
