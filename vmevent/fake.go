package vmevent

import "context"

// Fake is a deterministic, in-memory Source that replays a fixed script
// of Events, used by cmd/sherlokd as a demonstration source and by the
// monitor package's tests as a scripted source, without a real host
// runtime.
type Fake struct {
	Script []Event
	ch     chan Event
}

// NewFake constructs a Fake that replays script in order.
func NewFake(script []Event) *Fake {
	return &Fake{Script: script, ch: make(chan Event, len(script))}
}

// Events returns the delivery channel.
func (f *Fake) Events() <-chan Event { return f.ch }

// Run delivers every scripted Event in order, then closes the channel.
// It stops early if ctx is canceled.
func (f *Fake) Run(ctx context.Context) error {
	defer close(f.ch)
	for _, ev := range f.Script {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f.ch <- ev:
		}
	}
	return nil
}

// Push appends an event to the end of the script before Run is called.
func (f *Fake) Push(ev Event) {
	f.Script = append(f.Script, ev)
}
