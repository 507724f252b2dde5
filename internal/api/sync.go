package api

import (
	"sync"

	"github.com/agentwire-protocol/agentwire/internal/envelope"
)

// PendingResponses correlates synchronous inbound requests with the reply
// envelopes their handlers produce, keyed by session id. It implements
// agent.ReplyCapture.
type PendingResponses struct {
	mu sync.Mutex
	m  map[string]chan *envelope.Envelope
}

// NewPendingResponses creates an empty correlation table.
func NewPendingResponses() *PendingResponses {
	return &PendingResponses{m: make(map[string]chan *envelope.Envelope)}
}

// Register opens a one-shot reply slot for session. A session already
// awaiting a reply is refused; overwriting the first waiter's slot would
// strand it until timeout. The caller must Unregister when done.
func (p *PendingResponses) Register(session string) (<-chan *envelope.Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.m[session]; exists {
		return nil, false
	}
	ch := make(chan *envelope.Envelope, 1)
	p.m[session] = ch
	return ch, true
}

// Unregister closes the reply slot for session.
func (p *PendingResponses) Unregister(session string) {
	p.mu.Lock()
	delete(p.m, session)
	p.mu.Unlock()
}

// Capture hands env to the waiter for its session, if any. Reports whether
// the envelope was taken.
func (p *PendingResponses) Capture(session string, env *envelope.Envelope) bool {
	p.mu.Lock()
	ch, ok := p.m[session]
	if ok {
		delete(p.m, session)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- env
	return true
}
