// Package dispatch routes inbound payloads to locally-hosted agents.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNoSink = errors.New("no local sink registered for destination")

// Sink accepts inbound messages addressed to a hosted agent. Handling a
// message may itself enqueue further outbound envelopes; that re-entrancy is
// expected.
type Sink interface {
	HandleMessage(ctx context.Context, sender, schemaDigest string, payload []byte, session string) error
}

// Dispatcher maps local addresses to sinks. Instances are independent: tests
// and embedded runtimes construct their own rather than sharing process
// state. Safe for concurrent use.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{sinks: make(map[string]Sink)}
}

// Register maps address to sink. The last registration for an address wins.
func (d *Dispatcher) Register(address string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[address] = sink
}

// Unregister removes the sink for address. Unregistering an unknown address
// is a no-op.
func (d *Dispatcher) Unregister(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinks, address)
}

// Contains reports whether a sink is registered for address.
func (d *Dispatcher) Contains(address string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sinks[address]
	return ok
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

// Dispatch delivers a payload synchronously in-process to the sink registered
// for destination. Returns ErrNoSink when the destination is unknown locally;
// the caller must fall back to remote resolution.
func (d *Dispatcher) Dispatch(ctx context.Context, sender, destination, schemaDigest string, payload []byte, session string) error {
	d.mu.RLock()
	sink, ok := d.sinks[destination]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSink, destination)
	}
	return sink.HandleMessage(ctx, sender, schemaDigest, payload, session)
}
