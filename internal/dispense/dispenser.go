package dispense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/metrics"
)

// SyncHeader marks a delivery as synchronous so the receiving peer returns
// its response inline.
const SyncHeader = "x-uagents-connection"

const defaultQueueSize = 64

// Dispenser attempts delivery of outbound envelopes. Queued envelopes are
// processed concurrently with each other; the endpoints of a single envelope
// are attempted strictly sequentially. The Dispenser holds no state across
// deliveries; retry policy belongs to higher layers.
type Dispenser struct {
	queue      chan *delivery
	dispatcher *dispatch.Dispatcher
	client     *http.Client
	log        zerolog.Logger
}

type delivery struct {
	env       *envelope.Envelope
	endpoints []almanac.Endpoint
	future    *Future
	sync      bool
}

// New creates a Dispenser routing local targets through dispatcher.
func New(dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *Dispenser {
	return &Dispenser{
		queue:      make(chan *delivery, defaultQueueSize),
		dispatcher: dispatcher,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        logger,
	}
}

// AddEnvelope enqueues one delivery attempt. The future is resolved exactly
// once: with a MsgStatus, or, for sync deliveries that receive a verified
// response with no local sink to take it, the response envelope itself.
func (d *Dispenser) AddEnvelope(env *envelope.Envelope, endpoints []almanac.Endpoint, future *Future, sync bool) {
	d.queue <- &delivery{env: env, endpoints: endpoints, future: future, sync: sync}
}

// Run consumes the queue until ctx is done.
func (d *Dispenser) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-d.queue:
			go func() {
				item.future.resolve(d.Deliver(ctx, item.env, item.endpoints, item.sync))
			}()
		}
	}
}

// Deliver attempts delivery of one envelope and returns the terminal result.
// Exposed for callers that want the attempt inline rather than queued.
func (d *Dispenser) Deliver(ctx context.Context, env *envelope.Envelope, endpoints []almanac.Endpoint, sync bool) Result {
	// Local-first: a registered sink bypasses the network entirely.
	if d.dispatcher.Contains(env.Target) {
		return d.deliverLocal(ctx, env)
	}

	if len(endpoints) == 0 {
		metrics.EnvelopesFailed.Inc()
		return failed(env, "", "no endpoints available for delivery")
	}

	var errs []string
	for _, ep := range endpoints {
		result, err := d.attempt(ctx, env, ep.URL, sync)
		if err != nil {
			metrics.EndpointAttempts.WithLabelValues("error").Inc()
			d.log.Warn().
				Str("endpoint", ep.URL).
				Str("target", env.Target).
				Str("session", env.Session).
				Err(err).
				Msg("delivery attempt failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ep.URL, err))
			continue
		}
		metrics.EndpointAttempts.WithLabelValues("ok").Inc()
		metrics.EnvelopesDelivered.WithLabelValues("http").Inc()
		return result
	}

	metrics.EnvelopesFailed.Inc()
	return failed(env, "", "all endpoints failed: "+strings.Join(errs, "; "))
}

func (d *Dispenser) deliverLocal(ctx context.Context, env *envelope.Envelope) Result {
	payload, err := env.DecodePayload()
	if err != nil {
		metrics.EnvelopesFailed.Inc()
		return failed(env, "", fmt.Sprintf("local dispatch failed: %v", err))
	}
	if err := d.dispatcher.Dispatch(ctx, env.Sender, env.Target, env.SchemaDigest, payload, env.Session); err != nil {
		metrics.EnvelopesFailed.Inc()
		return failed(env, "", fmt.Sprintf("local dispatch failed: %v", err))
	}

	metrics.EnvelopesDelivered.WithLabelValues("local").Inc()
	return Result{Status: &MsgStatus{
		Status:      StatusDelivered,
		Detail:      "dispatched locally",
		Destination: env.Target,
		Session:     env.Session,
	}}
}

// attempt POSTs the envelope to one endpoint. Transport errors, non-success
// statuses, and unverifiable signed responses all count as a failed attempt.
func (d *Dispenser) attempt(ctx context.Context, env *envelope.Envelope, endpoint string, sync bool) (Result, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sync {
		req.Header.Set(SyncHeader, "sync")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return Result{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if !sync {
		return Result{Status: &MsgStatus{
			Status:      StatusDelivered,
			Detail:      "delivered via HTTP",
			Destination: env.Target,
			Endpoint:    endpoint,
			Session:     env.Session,
		}}, nil
	}

	var response envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Result{}, fmt.Errorf("malformed sync response: %w", err)
	}
	if response.Signature != "" {
		if err := response.Verify(); err != nil {
			return Result{}, fmt.Errorf("sync response rejected: %w", err)
		}
	}
	return d.takeSyncResponse(ctx, &response, endpoint)
}

// takeSyncResponse routes a verified sync response. With no local sinks
// registered the raw envelope is passed back to the original caller.
func (d *Dispenser) takeSyncResponse(ctx context.Context, response *envelope.Envelope, endpoint string) (Result, error) {
	if d.dispatcher.Len() == 0 {
		return Result{Response: response}, nil
	}

	payload, err := response.DecodePayload()
	if err != nil {
		return Result{}, fmt.Errorf("sync response rejected: %w", err)
	}
	if err := d.dispatcher.Dispatch(ctx, response.Sender, response.Target, response.SchemaDigest, payload, response.Session); err != nil {
		return Result{}, fmt.Errorf("sync response not deliverable: %w", err)
	}
	return Result{Status: &MsgStatus{
		Status:      StatusDelivered,
		Detail:      "sync response delivered via dispatcher",
		Destination: response.Target,
		Endpoint:    endpoint,
		Session:     response.Session,
	}}, nil
}

func failed(env *envelope.Envelope, endpoint, detail string) Result {
	return Result{Status: &MsgStatus{
		Status:      StatusFailed,
		Detail:      detail,
		Destination: env.Target,
		Endpoint:    endpoint,
		Session:     env.Session,
	}}
}
