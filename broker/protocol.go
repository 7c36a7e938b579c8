// Package broker implements the tiny request/reply dialogue a process
// uses to resolve a channel name to its shared-memory binding (spec
// §4.6), plus a reference in-process broker server. The transport
// itself is a Unix domain socket carrying newline-delimited JSON
// envelopes, the same shape the teacher's ipc package uses to talk to
// its own external process.
package broker

import "encoding/json"

// Envelope is the wire frame every request and reply is wrapped in.
// Request IDs are caller-assigned; replies echo them back so a client
// pipelining several requests on one connection can match them up.
type Envelope struct {
	ID      uint64          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message type tags (spec §4.6). Unknown tags are rejected by the
// server.
const (
	TypeRegister   = "register"
	TypeDiscover   = "discover"
	TypeUnregister = "unregister"
	TypeReply      = "reply"
)

// RegisterRequest asks the broker to bind a freshly created channel's
// name to its shared-memory identity.
type RegisterRequest struct {
	Name             string    `json:"name"`
	SlotCount        uint64    `json:"slot_count"`
	SlotSize         uint64    `json:"slot_size"`
	FlexibleZoneSize uint64    `json:"flex_size"`
	Policy           uint8     `json:"policy"`
	FlexZoneHash     [32]byte  `json:"flex_schema_hash"`
	DataBlockHash    [32]byte  `json:"data_schema_hash"`
	SchemaValidation bool      `json:"schema_validation"`
	Secret           uint64    `json:"secret"`
}

// DiscoverRequest asks the broker for an existing channel's binding.
type DiscoverRequest struct {
	Name string `json:"name"`
}

// UnregisterRequest removes a name→binding entry, typically called
// just before (or after) the producer unlinks the segment itself.
type UnregisterRequest struct {
	Name string `json:"name"`
}

// Binding is what register/discover return on success: everything a
// consumer needs to open and validate the channel without having
// created it itself.
type Binding struct {
	ShmName          string   `json:"shm_name"`
	SlotCount        uint64   `json:"slot_count"`
	SlotSize         uint64   `json:"slot_size"`
	FlexibleZoneSize uint64   `json:"flex_size"`
	Secret           uint64   `json:"secret"`
	FlexZoneHash     [32]byte `json:"flex_schema_hash"`
	DataBlockHash    [32]byte `json:"data_schema_hash"`
	SchemaValidation bool     `json:"schema_validation"`
}

// Reply wraps a Binding (or nothing, for unregister) with a status
// field every response must carry per spec §4.6.
type Reply struct {
	Status  string          `json:"status"`
	Error   string          `json:"error,omitempty"`
	Binding json.RawMessage `json:"binding,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)
