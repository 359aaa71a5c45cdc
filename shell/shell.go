// Package shell implements the ShellThread of spec.md §4.9/§6: a
// line-oriented TCP listener that accepts one client at a time, gates
// on an optional password, lets the connection pick an output format,
// and feeds each line to a command.Interpreter-shaped Executor. The
// actual ASCII-table/indented-tree/XML layout engine is out of scope
// per spec.md §1 (the core only emits tag trees) — the per-format
// rendering here is the minimum wire framing needed to produce bytes on
// the socket, including the XML session's `<sherlok>` root open/close.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/tagtree"
)

// Format is one of the three output formats a connection selects,
// spec.md §6: "the choice is per connection and set before the first
// event."
type Format string

const (
	FormatASCII Format = "ASCII"
	FormatTree  Format = "TREE"
	FormatXML   Format = "XML"
)

// Executor runs one command line, e.g. a *command.Interpreter.
type Executor interface {
	Execute(command string) error
}

// Multiplexer is the single global tagtree.Sink the rest of the monitor
// (tracer, dispatcher, repeat-loop GC reports) writes to. It forwards to
// whichever shell connection is currently active, and discards emissions
// when no client is connected — matching spec.md §5's single `output`
// lock serializing emission "across callbacks, shell commands, and GC
// reports" onto one sink at a time.
type Multiplexer struct {
	mu     sync.Mutex
	active tagtree.Sink
}

// SetActive installs sink as the current emission target; nil discards.
func (m *Multiplexer) SetActive(sink tagtree.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = sink
}

// Write implements tagtree.Sink, forwarding to the active connection.
func (m *Multiplexer) Write(n *tagtree.Node) error {
	m.mu.Lock()
	sink := m.active
	m.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Write(n)
}

// Server is the ShellThread: a single-client-at-a-time TCP acceptor.
type Server struct {
	Listener    net.Listener
	Password    string
	Interpreter Executor
	Mux         *Multiplexer
	Log         *diag.Logger
}

// Serve accepts connections one at a time until ctx is canceled or the
// listener is closed. A connection that fails never aborts the server —
// spec.md §4.10: "Output write failures tear down the shell connection
// and resume listening for new connections."
func (srv *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		conn, err := srv.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			srv.Log.Warning().Err(err).Log("shell: accept failed")
			continue
		}
		srv.handle(ctx, conn)
	}
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)

	if srv.Password != "" {
		if !scanner.Scan() || scanner.Text() != srv.Password {
			_, _ = conn.Write([]byte("auth failed\n"))
			return
		}
	}

	format := FormatASCII
	if scanner.Scan() {
		if f := Format(strings.ToUpper(strings.TrimSpace(scanner.Text()))); f == FormatASCII || f == FormatTree || f == FormatXML {
			format = f
		}
	}

	sink := newConnSink(conn, format)
	if err := sink.Open(); err != nil {
		return
	}
	if srv.Mux != nil {
		srv.Mux.SetActive(sink)
		defer srv.Mux.SetActive(nil)
	}
	defer sink.Close()

	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), "exit") {
			_ = srv.Interpreter.Execute(line)
			return
		}

		_ = srv.Interpreter.Execute(line)
		if sink.Failed() {
			return
		}
	}
}

// connSink renders Nodes as lines on one connection's output format.
type connSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	format Format
	failed bool
}

func newConnSink(w net.Conn, format Format) *connSink {
	return &connSink{w: bufio.NewWriter(w), format: format}
}

// Open writes the XML session's opening `<sherlok>` root, a no-op for
// the other two formats.
func (s *connSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format != FormatXML {
		return nil
	}
	return s.writeLocked("<sherlok>\n")
}

// Close writes the XML session's closing root tag, a no-op otherwise.
func (s *connSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format != FormatXML {
		return nil
	}
	return s.writeLocked("</sherlok>\n")
}

func (s *connSink) Write(n *tagtree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(renderNode(n, s.format, 0))
}

func (s *connSink) writeLocked(text string) error {
	if _, err := s.w.WriteString(text); err != nil {
		s.failed = true
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.failed = true
		return err
	}
	return nil
}

// Failed reports whether the last write to the connection failed.
func (s *connSink) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func renderNode(n *tagtree.Node, format Format, depth int) string {
	var b strings.Builder
	indent := strings.Repeat("  ", depth)

	switch format {
	case FormatXML:
		b.WriteString(indent + "<" + string(n.Kind) + " Type=\"" + n.Type + "\"")
		for _, a := range n.Attrs {
			b.WriteString(fmt.Sprintf(" %s=%q", a.Key, a.Value))
		}
		if len(n.Children) == 0 {
			b.WriteString("/>\n")
			return b.String()
		}
		b.WriteString(">\n")
		for _, c := range n.Children {
			b.WriteString(renderNode(c, format, depth+1))
		}
		b.WriteString(indent + "</" + string(n.Kind) + ">\n")
	case FormatTree:
		b.WriteString(indent + string(n.Kind) + " " + n.Type)
		for _, a := range n.Attrs {
			b.WriteString(" " + a.Key + "=" + a.Value)
		}
		b.WriteString("\n")
		for _, c := range n.Children {
			b.WriteString(renderNode(c, format, depth+1))
		}
	default: // ASCII
		b.WriteString(string(n.Kind) + "\t" + n.Type)
		for _, a := range n.Attrs {
			b.WriteString("\t" + a.Key + "=" + a.Value)
		}
		b.WriteString("\n")
		for _, c := range n.Children {
			b.WriteString(renderNode(c, format, depth))
		}
	}
	return b.String()
}
