package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentwire-protocol/agentwire/internal/agent"
	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/identity"
	"github.com/agentwire-protocol/agentwire/internal/schema"
)

var pingDigest = schema.MustDigest("Ping", "",
	schema.Field{Name: "message", Type: "string"},
)

type staticResolver struct {
	address   string
	endpoints []almanac.Endpoint
}

func (r *staticResolver) Resolve(context.Context, string) (string, []almanac.Endpoint, error) {
	return r.address, r.endpoints, nil
}

// hostedAgent spins up a complete receiving side: dispatcher, runtime agent,
// and the HTTP listener, returning the server and the hosted agent.
func hostedAgent(t *testing.T, name string, handler agent.Handler) (*httptest.Server, *agent.Agent, *envelope.History) {
	t.Helper()

	d := dispatch.New()
	disp := dispense.New(d, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.Run(ctx)

	hosted := agent.New(identity.Generate(), name, d, disp, &staticResolver{}, zerolog.Nop())
	if handler != nil {
		require.NoError(t, hosted.OnMessage(pingDigest, handler))
	}

	pending := NewPendingResponses()
	hosted.SetReplyCapture(pending)
	hosted.Start()
	t.Cleanup(hosted.Stop)

	history := envelope.NewHistory()
	router := NewRouter(zerolog.Nop(), d, history, nil, pending)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hosted, history
}

// remoteSender builds a sending-side runtime on its own dispatcher, resolving
// every destination to the given submit endpoint.
func remoteSender(t *testing.T, target string, endpoint string) *agent.Agent {
	t.Helper()

	d := dispatch.New()
	disp := dispense.New(d, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.Run(ctx)

	// A pure client hosts no sinks, so sync responses pass through to the
	// caller instead of being re-dispatched.
	res := &staticResolver{address: target, endpoints: []almanac.Endpoint{{URL: endpoint, Weight: 1}}}
	return agent.New(identity.Generate(), "sender", d, disp, res, zerolog.Nop())
}

func TestSubmitDeliversToHostedAgent(t *testing.T) {
	received := make(chan *agent.Message, 1)
	srv, hosted, history := hostedAgent(t, "bob", func(_ context.Context, _ *agent.Agent, msg *agent.Message) error {
		received <- msg
		return nil
	})

	sender := remoteSender(t, hosted.Address(), srv.URL+"/v1/submit")
	status, err := sender.Send(context.Background(), hosted.Address(), pingDigest, []byte(`{"message":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, dispense.StatusDelivered, status.Status)
	require.Equal(t, hosted.Address(), status.Destination)
	require.Equal(t, srv.URL+"/v1/submit", status.Endpoint)

	select {
	case msg := <-received:
		require.Equal(t, sender.Address(), msg.Sender)
		require.JSONEq(t, `{"message":"ping"}`, string(msg.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("hosted agent never received the envelope")
	}

	// Inbound history recorded the envelope.
	entries := history.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, sender.Address(), entries[0].Sender)
}

func TestSubmitRejectsUnsignedEnvelope(t *testing.T) {
	srv, hosted, _ := hostedAgent(t, "bob", func(context.Context, *agent.Agent, *agent.Message) error { return nil })

	env := envelope.New(identity.Generate().Address(), hosted.Address(), "s1", pingDigest)
	env.EncodePayload([]byte(`{"message":"ping"}`))
	body, _ := json.Marshal(env)

	resp, err := http.Post(srv.URL+"/v1/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitRejectsTamperedEnvelope(t *testing.T) {
	srv, hosted, _ := hostedAgent(t, "bob", func(context.Context, *agent.Agent, *agent.Message) error { return nil })

	sender := identity.Generate()
	env := envelope.New(sender.Address(), hosted.Address(), "s1", pingDigest)
	env.EncodePayload([]byte(`{"message":"ping"}`))
	env.Sign(sender)
	env.Session = "s2" // tamper after signing
	body, _ := json.Marshal(env)

	resp, err := http.Post(srv.URL+"/v1/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitUnknownTarget(t *testing.T) {
	srv, _, _ := hostedAgent(t, "bob", nil)

	sender := identity.Generate()
	env := envelope.New(sender.Address(), identity.Generate().Address(), "s1", pingDigest)
	env.Sign(sender)
	body, _ := json.Marshal(env)

	resp, err := http.Post(srv.URL+"/v1/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitExpiredEnvelope(t *testing.T) {
	srv, hosted, _ := hostedAgent(t, "bob", nil)

	sender := identity.Generate()
	env := envelope.New(sender.Address(), hosted.Address(), "s1", pingDigest)
	expired := time.Now().Add(-time.Minute).Unix()
	env.Expires = &expired
	env.Sign(sender)
	body, _ := json.Marshal(env)

	resp, err := http.Post(srv.URL+"/v1/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncRoundTrip(t *testing.T) {
	srv, hosted, _ := hostedAgent(t, "bob", func(ctx context.Context, self *agent.Agent, msg *agent.Message) error {
		return self.Reply(ctx, msg, pingDigest, []byte(`{"message":"pong"}`))
	})

	sender := remoteSender(t, hosted.Address(), srv.URL+"/v1/submit")
	response, status, err := sender.SendSync(context.Background(), hosted.Address(), pingDigest, []byte(`{"message":"ping"}`), 10*time.Second)
	require.NoError(t, err)
	require.Nil(t, status)
	require.NotNil(t, response)
	require.Equal(t, hosted.Address(), response.Sender)
	require.NoError(t, response.Verify())

	payload, err := response.DecodePayload()
	require.NoError(t, err)
	require.JSONEq(t, `{"message":"pong"}`, string(payload))
}

func TestMessagesEndpoint(t *testing.T) {
	srv, hosted, _ := hostedAgent(t, "bob", func(context.Context, *agent.Agent, *agent.Message) error { return nil })

	sender := remoteSender(t, hosted.Address(), srv.URL+"/v1/submit")
	_, err := sender.Send(context.Background(), hosted.Address(), pingDigest, []byte(`{"message":"ping"}`))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []envelope.HistoryEntry `json:"messages"`
		Total    int                     `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Total)
	require.Equal(t, `{"message":"ping"}`, out.Messages[0].Payload)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := hostedAgent(t, "bob", nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
