// Command sherlokd is the process entry point: it loads startup
// configuration, builds a monitor.Monitor, and serves its shell over TCP
// while a demonstration event source drives the registries — standing
// in for the real host runtime's callback feed that spec.md §1 treats as
// an external tool interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sherlok-project/monitor-core/config"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/monitor"
	"github.com/sherlok-project/monitor-core/vmevent"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sherlokd", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:9000", "shell listen address")
	password := fs.String("password", "", "shell password; empty disables the gate")
	configFile := fs.String("config", "", "TOML properties file to load at startup")
	startup := fs.String("startup", "", "semicolon-separated key=value overrides, applied after -config")
	logPath := fs.String("log", "", "log file path; defaults to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var logWriter io.Writer
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sherlokd:", err)
			return 1
		}
		defer f.Close()
		logWriter = f
	}
	log := diag.New(logWriter)

	store := config.New()
	if *configFile != "" {
		if err := store.LoadFile(*configFile); err != nil {
			log.Emerg().Err(err).Log("sherlokd: load config")
			return 1
		}
	}
	if *startup != "" {
		if err := store.LoadStartupString(*startup); err != nil {
			log.Emerg().Err(err).Log("sherlokd: startup string")
			return 1
		}
	}

	m := monitor.New(log, store.Snapshot())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- m.Run(ctx, demoSource()) }()
	go func() { errCh <- m.ServeShell(ctx, *addr, *password) }()

	log.Info().Str("addr", *addr).Log("sherlokd: listening")

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Err().Err(err).Log("sherlokd: exited with error")
			return 1
		}
	case <-ctx.Done():
	}

	log.Info().Log("sherlokd: shutting down")
	return 0
}

// demoSource replays a fixed scenario through vmevent.Fake, standing in
// for a real host runtime's event source.
func demoSource() vmevent.Source {
	return vmevent.NewFake([]vmevent.Event{
		{Kind: vmevent.ClassPrepare, ClassID: 1, ClassName: "com.example.Widget"},
		{Kind: vmevent.ThreadStart, ThreadID: 1, ThreadName: "main"},
		{Kind: vmevent.ObjectAlloc, ThreadID: 1, ObjectHandle: 1, ClassID: 1, Size: 256},
		{Kind: vmevent.MethodEntry, ThreadID: 1, MethodID: 1},
		{Kind: vmevent.MethodExit, ThreadID: 1, MethodID: 1},
		{Kind: vmevent.GCStart},
		{Kind: vmevent.GCFinish, GCIndex: 1},
		{Kind: vmevent.ThreadEnd, ThreadID: 1},
	})
}
