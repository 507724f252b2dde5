// Package dispense owns outbound envelope delivery: local short-circuit,
// sequential HTTP attempts across candidate endpoints, and synchronous
// response correlation.
package dispense

import (
	"context"

	"github.com/agentwire-protocol/agentwire/internal/envelope"
)

// Status is the terminal delivery state of one outbound envelope.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// MsgStatus reports one delivery outcome. Failures always carry a
// human-readable detail; they are never silently swallowed.
type MsgStatus struct {
	Status      Status `json:"status"`
	Detail      string `json:"detail"`
	Destination string `json:"destination"`
	Endpoint    string `json:"endpoint"`
	Session     string `json:"session"`
}

// Result resolves a delivery: either a status, or, for synchronous calls that
// received a verified reply with no local sink to take it, the raw response
// envelope passed through to the caller.
type Result struct {
	Status   *MsgStatus
	Response *envelope.Envelope
}

// Future is a one-shot completion handle for an outbound delivery. It is
// resolved exactly once; abandoning it (e.g. on timeout) is safe and needs no
// notification to the Dispenser.
type Future struct {
	ch chan Result
}

// NewFuture creates an unresolved handle.
func NewFuture() *Future {
	return &Future{ch: make(chan Result, 1)}
}

// resolve completes the future. Later resolutions are dropped.
func (f *Future) resolve(r Result) {
	select {
	case f.ch <- r:
	default:
	}
}

// Wait blocks until the delivery resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
