package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/identity"
)

type fakeRegistry struct {
	records map[string]*almanac.Record
	domains map[string]*almanac.DomainRecord
	err     error

	recordQueries int
	domainQueries int
}

func (f *fakeRegistry) QueryRecord(_ context.Context, address, recordType string) (*almanac.Record, error) {
	f.recordQueries++
	if f.err != nil {
		return nil, f.err
	}
	return f.records[address], nil
}

func (f *fakeRegistry) QueryDomainRecord(_ context.Context, name string) (*almanac.DomainRecord, error) {
	f.domainQueries++
	if f.err != nil {
		return nil, f.err
	}
	return f.domains[name], nil
}

func TestParseIdentifier(t *testing.T) {
	addr := identity.Generate().Address()

	cases := []struct {
		in                    string
		prefix, name, address string
	}{
		{addr, "", "", addr},
		{"agent://" + addr, "agent", "", addr},
		{"agent://alice/" + addr, "agent", "alice", addr},
		{"alice", "", "alice", ""},
		{"agent://alice", "agent", "alice", ""},
		{"", "", "", ""},
		{"agent1tooshort", "", "agent1tooshort", ""},
	}

	for _, tc := range cases {
		prefix, name, address := ParseIdentifier(tc.in)
		if prefix != tc.prefix || name != tc.name || address != tc.address {
			t.Fatalf("ParseIdentifier(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.in, prefix, name, address, tc.prefix, tc.name, tc.address)
		}
	}
}

func TestResolveEndpointURLShortCircuit(t *testing.T) {
	reg := &fakeRegistry{}
	r := New(reg, 0)

	_, endpoints, err := r.Resolve(context.Background(), "http://agent.example.com/submit")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0].URL != "http://agent.example.com/submit" {
		t.Fatalf("expected the URL itself as sole endpoint, got %+v", endpoints)
	}
	if reg.recordQueries != 0 || reg.domainQueries != 0 {
		t.Fatal("endpoint URL must not hit the registry")
	}
}

func TestResolveAddress(t *testing.T) {
	addr := identity.Generate().Address()
	reg := &fakeRegistry{
		records: map[string]*almanac.Record{
			addr: {Address: addr, Endpoints: []almanac.Endpoint{{URL: "http://a.local/submit", Weight: 1}}},
		},
	}
	r := New(reg, 0)

	resolved, endpoints, err := r.Resolve(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != addr {
		t.Fatalf("expected address %s, got %s", addr, resolved)
	}
	if len(endpoints) != 1 || endpoints[0].URL != "http://a.local/submit" {
		t.Fatalf("unexpected endpoints: %+v", endpoints)
	}
	if reg.domainQueries != 0 {
		t.Fatal("valid address must skip the name lookup")
	}
}

func TestResolveName(t *testing.T) {
	addr := identity.Generate().Address()
	reg := &fakeRegistry{
		domains: map[string]*almanac.DomainRecord{
			"alice": {Name: "alice", Addresses: []string{addr}},
		},
		records: map[string]*almanac.Record{
			addr: {Address: addr, Endpoints: []almanac.Endpoint{{URL: "http://alice.local/submit", Weight: 2}}},
		},
	}
	r := New(reg, 0)

	resolved, endpoints, err := r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != addr {
		t.Fatalf("expected address %s, got %s", addr, resolved)
	}
	if len(endpoints) != 1 || endpoints[0].URL != "http://alice.local/submit" {
		t.Fatalf("unexpected endpoints: %+v", endpoints)
	}
}

func TestResolveNameMismatchedWeights(t *testing.T) {
	addr := identity.Generate().Address()
	// Domain records come from remote JSON; a weights list that does not
	// match the address list must degrade to uniform, not panic.
	reg := &fakeRegistry{
		domains: map[string]*almanac.DomainRecord{
			"alice": {Name: "alice", Addresses: []string{addr}, Weights: []float64{1, 2, 3}},
		},
		records: map[string]*almanac.Record{
			addr: {Address: addr, Endpoints: []almanac.Endpoint{{URL: "http://alice.local/submit", Weight: 1}}},
		},
	}
	r := New(reg, 0)

	resolved, endpoints, err := r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != addr {
		t.Fatalf("expected address %s, got %s", addr, resolved)
	}
	if len(endpoints) != 1 {
		t.Fatalf("unexpected endpoints: %+v", endpoints)
	}
}

func TestResolveRegistryFailure(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("registry down")}
	r := New(reg, 0)

	_, _, err := r.Resolve(context.Background(), identity.Generate().Address())
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestResolveUnknownYieldsEmptyList(t *testing.T) {
	reg := &fakeRegistry{}
	r := New(reg, 0)

	// Unknown address: no record is not an error.
	_, endpoints, err := r.Resolve(context.Background(), identity.Generate().Address())
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("expected empty endpoint list, got %+v", endpoints)
	}

	// Unknown name likewise.
	_, endpoints, err = r.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("expected empty endpoint list, got %+v", endpoints)
	}
}

func TestResolveCapsEndpoints(t *testing.T) {
	addr := identity.Generate().Address()
	var eps []almanac.Endpoint
	for i := 0; i < 20; i++ {
		eps = append(eps, almanac.Endpoint{URL: "http://node.local/submit", Weight: 1})
	}
	reg := &fakeRegistry{records: map[string]*almanac.Record{addr: {Address: addr, Endpoints: eps}}}

	r := New(reg, 3)
	_, endpoints, err := r.Resolve(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 3 {
		t.Fatalf("expected 3 sampled endpoints, got %d", len(endpoints))
	}
}
