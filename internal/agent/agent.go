// Package agent implements the hosted agent runtime: message handler
// dispatch, outbound sending, and periodic registry registration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/identity"
	"github.com/agentwire-protocol/agentwire/internal/metrics"
	"github.com/agentwire-protocol/agentwire/internal/resolver"
	"github.com/agentwire-protocol/agentwire/internal/schema"
	"github.com/agentwire-protocol/agentwire/internal/store"
)

var (
	ErrUnknownDigest  = errors.New("no handler registered for schema digest")
	ErrNotResolvable  = errors.New("destination could not be resolved to an address")
	ErrHandlersFrozen = errors.New("handler table is frozen once the agent is started")
)

// Message is one inbound message presented to a handler.
type Message struct {
	Sender       string
	SchemaDigest string
	Session      string
	Payload      []byte
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, agent *Agent, msg *Message) error

// ReplyCapture lets a transport take a reply inline (a synchronous HTTP
// response) instead of routing it back over the network. Capture reports
// whether it took the envelope.
type ReplyCapture interface {
	Capture(session string, env *envelope.Envelope) bool
}

// Agent is a locally-hosted agent. It registers itself as a sink at its own
// address on Start; the handler table is resolved at startup and unknown
// digests are rejected explicitly rather than silently ignored.
type Agent struct {
	id         *identity.Identity
	name       string
	dispatcher *dispatch.Dispatcher
	dispenser  *dispense.Dispenser
	resolver   resolver.Resolver
	history    *envelope.History
	storage    store.KVStore
	capture    ReplyCapture
	log        zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool
}

// New creates an agent runtime. The agent does not receive messages until
// Start is called.
func New(id *identity.Identity, name string, dispatcher *dispatch.Dispatcher, dispenser *dispense.Dispenser, res resolver.Resolver, logger zerolog.Logger) *Agent {
	return &Agent{
		id:         id,
		name:       name,
		dispatcher: dispatcher,
		dispenser:  dispenser,
		resolver:   res,
		history:    envelope.NewHistory(),
		storage:    store.NewMemoryStore(),
		log:        logger.With().Str("agent", name).Logger(),
		handlers:   make(map[string]Handler),
	}
}

// SetStorage replaces the agent's key-value state store. Call before Start.
func (a *Agent) SetStorage(kv store.KVStore) {
	a.storage = kv
}

// Storage returns the agent's key-value state store, available to handlers
// for state that must survive across messages (and, with a persistent store,
// across restarts).
func (a *Agent) Storage() store.KVStore {
	return a.storage
}

// Address returns the agent's address.
func (a *Agent) Address() string {
	return a.id.Address()
}

// Name returns the agent's registered name.
func (a *Agent) Name() string {
	return a.name
}

// History returns the agent's envelope history log.
func (a *Agent) History() *envelope.History {
	return a.history
}

// SetReplyCapture installs the transport hook for inline sync replies.
func (a *Agent) SetReplyCapture(c ReplyCapture) {
	a.capture = c
}

// OnMessage registers a handler for one schema digest. The table is frozen
// once the agent starts.
func (a *Agent) OnMessage(schemaDigest string, h Handler) error {
	if !schema.IsDigest(schemaDigest) {
		return fmt.Errorf("malformed schema digest %q", schemaDigest)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrHandlersFrozen
	}
	a.handlers[schemaDigest] = h
	return nil
}

// Start freezes the handler table and registers the agent as a sink at its
// own address.
func (a *Agent) Start() {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	a.dispatcher.Register(a.id.Address(), a)
	a.log.Info().Str("address", a.id.Address()).Msg("agent started")
}

// Stop unregisters the agent from the dispatcher.
func (a *Agent) Stop() {
	a.dispatcher.Unregister(a.id.Address())
	a.log.Info().Msg("agent stopped")
}

// HandleMessage implements dispatch.Sink.
func (a *Agent) HandleMessage(ctx context.Context, sender, schemaDigest string, payload []byte, session string) error {
	a.mu.Lock()
	handler, ok := a.handlers[schemaDigest]
	a.mu.Unlock()

	if !ok {
		a.log.Warn().Str("schema_digest", schemaDigest).Str("sender", sender).Msg("rejecting message with unknown schema digest")
		return fmt.Errorf("%w: %s", ErrUnknownDigest, schemaDigest)
	}
	return handler(ctx, a, &Message{
		Sender:       sender,
		SchemaDigest: schemaDigest,
		Session:      session,
		Payload:      payload,
	})
}

// Send delivers one fire-and-forget message and waits for the delivery
// outcome.
func (a *Agent) Send(ctx context.Context, destination, schemaDigest string, body []byte) (*dispense.MsgStatus, error) {
	result, err := a.send(ctx, destination, schemaDigest, body, uuid.NewString(), false, 0)
	if err != nil {
		return nil, err
	}
	return result.Status, nil
}

// SendSync delivers one message marked for a synchronous response and waits
// for either the response envelope or a delivery status. The envelope carries
// an expiry matching the timeout.
func (a *Agent) SendSync(ctx context.Context, destination, schemaDigest string, body []byte, timeout time.Duration) (*envelope.Envelope, *dispense.MsgStatus, error) {
	result, err := a.send(ctx, destination, schemaDigest, body, uuid.NewString(), true, timeout)
	if err != nil {
		return nil, nil, err
	}
	return result.Response, result.Status, nil
}

// Reply sends a message back to the sender of an inbound message, keeping its
// session. An installed reply capture (an inline sync response) takes
// priority over network delivery.
func (a *Agent) Reply(ctx context.Context, msg *Message, schemaDigest string, body []byte) error {
	env := envelope.New(a.id.Address(), msg.Sender, msg.Session, schemaDigest)
	env.EncodePayload(body)
	env.Sign(a.id)

	if a.capture != nil && a.capture.Capture(msg.Session, env) {
		a.history.Add(envelope.NewHistoryEntry(env))
		return nil
	}

	result, err := a.deliver(ctx, env, msg.Sender, false)
	if err != nil {
		return err
	}
	if result.Status != nil && result.Status.Status == dispense.StatusFailed {
		return fmt.Errorf("reply delivery failed: %s", result.Status.Detail)
	}
	return nil
}

func (a *Agent) send(ctx context.Context, destination, schemaDigest string, body []byte, session string, sync bool, timeout time.Duration) (dispense.Result, error) {
	env := envelope.New(a.id.Address(), "", session, schemaDigest)
	env.EncodePayload(body)
	if sync && timeout > 0 {
		expires := time.Now().Add(timeout).Unix()
		env.Expires = &expires
	}
	return a.deliver(ctx, env, destination, sync)
}

// deliver resolves the destination, finalizes and signs the envelope, and
// hands it to the dispenser.
func (a *Agent) deliver(ctx context.Context, env *envelope.Envelope, destination string, sync bool) (dispense.Result, error) {
	// A locally-hosted destination needs no registry round trip.
	if a.dispatcher.Contains(destination) {
		env.Target = destination
		env.Sign(a.id)
		a.history.Add(envelope.NewHistoryEntry(env))

		future := dispense.NewFuture()
		a.dispenser.AddEnvelope(env, nil, future, sync)
		return future.Wait(ctx)
	}

	address, endpoints, err := a.resolver.Resolve(ctx, destination)
	if err != nil {
		metrics.Resolutions.WithLabelValues("error").Inc()
		return dispense.Result{}, err
	}
	if address == "" {
		// A literal endpoint URL resolves to endpoints without an address;
		// only a destination with neither is undeliverable.
		if len(endpoints) == 0 && !identity.IsValidAddress(destination) {
			metrics.Resolutions.WithLabelValues("empty").Inc()
			return dispense.Result{}, fmt.Errorf("%w: %q", ErrNotResolvable, destination)
		}
		address = destination
	}
	metrics.Resolutions.WithLabelValues("ok").Inc()

	env.Target = address
	env.Sign(a.id)
	a.history.Add(envelope.NewHistoryEntry(env))

	future := dispense.NewFuture()
	a.dispenser.AddEnvelope(env, endpoints, future, sync)
	return future.Wait(ctx)
}

// RunRegistration announces the agent's endpoints to the registry immediately
// and then on every interval tick, until ctx is done. Failures are logged and
// retried on the next tick; the registry record expires server-side without
// refreshes.
func (a *Agent) RunRegistration(ctx context.Context, client *almanac.Client, endpoints []almanac.Endpoint, interval time.Duration) {
	register := func() {
		if err := client.Register(ctx, a.id, endpoints, a.protocols()); err != nil {
			metrics.RegistrationsTotal.WithLabelValues("error").Inc()
			a.log.Warn().Err(err).Msg("almanac registration failed")
			return
		}
		metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
		a.log.Debug().Msg("almanac registration refreshed")
	}

	register()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}

// protocols lists the schema digests this agent accepts.
func (a *Agent) protocols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.handlers))
	for digest := range a.handlers {
		out = append(out, digest)
	}
	return out
}
