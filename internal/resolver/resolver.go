// Package resolver turns agent identifiers into ordered delivery endpoints.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentwire-protocol/agentwire/internal/almanac"
	"github.com/agentwire-protocol/agentwire/internal/identity"
)

// DefaultMaxEndpoints bounds how many endpoints one resolution returns.
const DefaultMaxEndpoints = 10

// ServiceRecord is the registry record type holding endpoint lists.
const ServiceRecord = "service"

var ErrResolution = errors.New("registry lookup failed")

// Registry is the external record store the resolver queries. Both calls are
// fallible remote operations.
type Registry interface {
	QueryRecord(ctx context.Context, address, recordType string) (*almanac.Record, error)
	QueryDomainRecord(ctx context.Context, name string) (*almanac.DomainRecord, error)
}

// Resolver resolves an identifier to a destination address and an ordered
// endpoint list. An identifier with no resolvable endpoints yields an empty
// list, not an error; undeliverability is the sender's concern.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (address string, endpoints []almanac.Endpoint, err error)
}

// ParseIdentifier splits an identifier of the form [prefix://][name/]target
// into its parts. The remainder is classified as an address when it has the
// fixed agent-address shape, otherwise it is treated as a name. Malformed
// input degrades to empty parts rather than failing.
func ParseIdentifier(identifier string) (prefix, name, address string) {
	if before, after, found := strings.Cut(identifier, "://"); found {
		prefix, identifier = before, after
	}
	if before, after, found := strings.Cut(identifier, "/"); found {
		name, identifier = before, after
	}
	if identity.IsValidAddress(identifier) {
		address = identifier
	} else {
		name = identifier
	}
	return prefix, name, address
}

// AlmanacResolver resolves identifiers against the external registry,
// applying weighted random sampling without replacement over the candidate
// endpoints. Each call re-samples; nothing is memoized.
type AlmanacResolver struct {
	registry     Registry
	maxEndpoints int
}

// New creates a resolver over registry. maxEndpoints <= 0 selects the default.
func New(registry Registry, maxEndpoints int) *AlmanacResolver {
	if maxEndpoints <= 0 {
		maxEndpoints = DefaultMaxEndpoints
	}
	return &AlmanacResolver{registry: registry, maxEndpoints: maxEndpoints}
}

// Resolve implements Resolver.
func (r *AlmanacResolver) Resolve(ctx context.Context, identifier string) (string, []almanac.Endpoint, error) {
	// A literal endpoint URL needs no lookup.
	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
		return "", []almanac.Endpoint{{URL: identifier, Weight: 1}}, nil
	}

	_, name, address := ParseIdentifier(identifier)

	if address == "" {
		if name == "" {
			return "", nil, nil
		}
		record, err := r.registry.QueryDomainRecord(ctx, name)
		if err != nil {
			return "", nil, fmt.Errorf("%w: domain %q: %v", ErrResolution, name, err)
		}
		if record == nil || len(record.Addresses) == 0 {
			return "", nil, nil
		}
		picked := WeightedRandomSample(nil, record.Addresses, record.Weights, 1)
		address = picked[0]
	}

	record, err := r.registry.QueryRecord(ctx, address, ServiceRecord)
	if err != nil {
		return "", nil, fmt.Errorf("%w: address %s: %v", ErrResolution, address, err)
	}
	if record == nil || len(record.Endpoints) == 0 {
		return address, nil, nil
	}

	weights := make([]float64, len(record.Endpoints))
	for i, ep := range record.Endpoints {
		weights[i] = ep.Weight
	}
	sampled := WeightedRandomSample(nil, record.Endpoints, weights, r.maxEndpoints)
	return address, sampled, nil
}
