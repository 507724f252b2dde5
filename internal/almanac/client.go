package almanac

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentwire-protocol/agentwire/internal/identity"
)

// DefaultBaseURL is the hosted registry endpoint.
const DefaultBaseURL = "https://almanac.agentwire.dev"

// Client is an HTTP client for the agent registry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a registry client. An empty baseURL selects the hosted
// registry.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// QueryRecord fetches the record of the given type for an agent address.
// An unknown address yields (nil, nil).
func (c *Client) QueryRecord(ctx context.Context, address, recordType string) (*Record, error) {
	path := fmt.Sprintf("/v1/records/%s/%s", url.PathEscape(address), url.PathEscape(recordType))
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("malformed record response: %w", err)
	}
	return &record, nil
}

// QueryDomainRecord fetches the name record for a registered domain name.
// An unknown name yields (nil, nil).
func (c *Client) QueryDomainRecord(ctx context.Context, name string) (*DomainRecord, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/domains/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var record DomainRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("malformed domain record response: %w", err)
	}
	return &record, nil
}

// Registration is the signed payload announcing an agent's endpoints.
type Registration struct {
	Address   string     `json:"address"`
	Endpoints []Endpoint `json:"endpoints"`
	Protocols []string   `json:"protocols,omitempty"`
	Timestamp int64      `json:"timestamp"`
	Signature string     `json:"signature"`
}

// Register announces the agent's endpoints to the registry. Records expire
// server-side, so callers re-register periodically.
func (c *Client) Register(ctx context.Context, id *identity.Identity, endpoints []Endpoint, protocols []string) error {
	reg := Registration{
		Address:   id.Address(),
		Endpoints: endpoints,
		Protocols: protocols,
		Timestamp: time.Now().Unix(),
	}
	reg.Signature = id.Sign(registrationDigest(reg))

	body, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/v1/register", body)
	return err
}

// registrationDigest hashes the registration fields in fixed order, mirroring
// the envelope digest layout: strings concatenated, integers 8-byte
// big-endian.
func registrationDigest(reg Registration) []byte {
	h := sha256.New()
	h.Write([]byte(reg.Address))
	for _, ep := range reg.Endpoints {
		h.Write([]byte(ep.URL))
	}
	for _, p := range reg.Protocols {
		h.Write([]byte(p))
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(reg.Timestamp))
	h.Write(buf[:])
	return h.Sum(nil)
}

// doRequest performs an HTTP request against the registry. A 404 returns
// (nil, nil) so callers can distinguish "no record" from lookup failure.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("registry error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}
