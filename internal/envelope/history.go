package envelope

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Retention is how long history entries are kept.
const Retention = 24 * time.Hour

// HistoryEntry is an independent snapshot of an envelope at record time.
// The payload is stored decoded.
type HistoryEntry struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"`
	Version        int    `json:"version"`
	Sender         string `json:"sender"`
	Target         string `json:"target"`
	Session        string `json:"session"`
	SchemaDigest   string `json:"schema_digest"`
	ProtocolDigest string `json:"protocol_digest,omitempty"`
	Payload        string `json:"payload,omitempty"`
}

// NewHistoryEntry snapshots env for the history log. An undecodable payload
// is recorded empty rather than failing the delivery that produced it.
func NewHistoryEntry(env *Envelope) HistoryEntry {
	var payload string
	if raw, err := env.DecodePayload(); err == nil {
		payload = string(raw)
	}
	return HistoryEntry{
		ID:             ulid.Make().String(),
		Timestamp:      time.Now().Unix(),
		Version:        env.Version,
		Sender:         env.Sender,
		Target:         env.Target,
		Session:        env.Session,
		SchemaDigest:   env.SchemaDigest,
		ProtocolDigest: env.ProtocolDigest,
		Payload:        payload,
	}
}

// History is an append-only log of envelope snapshots. Entries older than
// Retention are pruned on every insert. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	now     func() time.Time
}

// NewHistory creates an empty history log.
func NewHistory() *History {
	return &History{now: time.Now}
}

// Add appends entry and prunes everything older than the retention window.
func (h *History) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)

	cutoff := h.now().Add(-Retention).Unix()
	keep := h.entries[:0]
	for _, e := range h.entries {
		if e.Timestamp >= cutoff {
			keep = append(keep, e)
		}
	}
	h.entries = keep
}

// Entries returns a copy of the retained entries in insertion order.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
