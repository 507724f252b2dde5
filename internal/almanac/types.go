// Package almanac implements the client for the external agent registry.
package almanac

// Endpoint is one delivery endpoint for an agent, with its declared weight.
type Endpoint struct {
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

// Record is the service record stored for an agent address.
type Record struct {
	Address    string     `json:"address"`
	Endpoints  []Endpoint `json:"endpoints"`
	Protocols  []string   `json:"protocols,omitempty"`
	Expiry     string     `json:"expiry,omitempty"`
	RecordType string     `json:"record_type,omitempty"`
}

// DomainRecord maps a registered name to candidate addresses with weights.
type DomainRecord struct {
	Name      string    `json:"name"`
	Addresses []string  `json:"addresses"`
	Weights   []float64 `json:"weights,omitempty"`
}
