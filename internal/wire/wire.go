// Package wire defines the relay's frozen JSON wire contract: update and
// ephemeral envelopes, discriminated body types, and the RPC request/ack
// shapes. Field names and discriminator values are shared with every client
// platform and must not drift.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Socket event names.
const (
	EventUpdate     = "update"
	EventEphemeral  = "ephemeral"
	EventRPCRequest = "rpc-request"
)

// Body discriminators (the `t` field of an update body).
const (
	BodyNewSession          = "new-session"
	BodyNewMessage          = "new-message"
	BodyUpdateSession       = "update-session"
	BodyUpdateMachine       = "update-machine"
	BodyDeleteSession       = "delete-session"
	BodyUpdateAccount       = "update-account"
	BodyRelationshipUpdated = "relationship-updated"
	BodyKVBatchUpdate       = "kv-batch-update"
)

// Ephemeral discriminators (the `type` field of an ephemeral envelope).
const (
	EphemeralActivity     = "activity"
	EphemeralFriendStatus = "friend-status"
	EphemeralUsage        = "usage"
)

// Now returns the wall-clock timestamp used in envelopes (ms since epoch).
func Now() int64 { return time.Now().UnixMilli() }

// UpdateEvent is the durable, sequenced envelope. The server persists it
// before delivery and assigns Seq from the account's monotonic counter.
type UpdateEvent struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Body      json.RawMessage `json:"body"`
	CreatedAt int64           `json:"createdAt"`
}

// EphemeralEvent is the fire-and-forget envelope: not persisted, not
// sequenced.
type EphemeralEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// friend-status fields
	UserID   string `json:"userId,omitempty"`
	IsOnline *bool  `json:"isOnline,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`

	// activity/usage fields
	SessionID string          `json:"sessionId,omitempty"`
	Active    *bool           `json:"active,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FriendStatus builds the ephemeral broadcast emitted on a presence
// transition. lastSeen is only meaningful for the offline edge.
func FriendStatus(userID string, isOnline bool, lastSeen int64) EphemeralEvent {
	ev := EphemeralEvent{
		Type:      EphemeralFriendStatus,
		Timestamp: Now(),
		UserID:    userID,
		IsOnline:  &isOnline,
	}
	if !isOnline {
		ev.LastSeen = lastSeen
	}
	return ev
}

// VersionedString is a string value paired with its optimistic version.
type VersionedString struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// Body types. Each carries its own discriminator so a marshaled body is
// self-describing.

type NewSessionBody struct {
	T       string          `json:"t"`
	Session json.RawMessage `json:"session"`
}

type NewMessageBody struct {
	T       string          `json:"t"`
	SID     string          `json:"sid"`
	Message json.RawMessage `json:"message"`
}

type UpdateSessionBody struct {
	T          string           `json:"t"`
	ID         string           `json:"id"`
	Metadata   *VersionedString `json:"metadata,omitempty"`
	AgentState *VersionedString `json:"agentState,omitempty"`
}

type UpdateMachineBody struct {
	T           string           `json:"t"`
	MachineID   string           `json:"machineId"`
	Metadata    *VersionedString `json:"metadata,omitempty"`
	DaemonState *VersionedString `json:"daemonState,omitempty"`
}

type DeleteSessionBody struct {
	T   string `json:"t"`
	SID string `json:"sid"`
}

type UpdateAccountBody struct {
	T       string          `json:"t"`
	ID      string          `json:"id"`
	Account json.RawMessage `json:"account"`
}

type RelationshipUpdatedBody struct {
	T      string `json:"t"`
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Status string `json:"status"`
}

// KVBatchEntry is one changed key inside a kv-batch-update body. Value is
// null for deletions.
type KVBatchEntry struct {
	Key     string  `json:"key"`
	Value   *string `json:"value"`
	Version int64   `json:"version"`
}

type KVBatchUpdateBody struct {
	T       string         `json:"t"`
	Changes []KVBatchEntry `json:"changes"`
}

// MarshalBody serializes a body struct, enforcing that its discriminator is
// set. Catching a missing tag here keeps malformed bodies off the wire.
func MarshalBody(body any) (json.RawMessage, error) {
	tag := ""
	switch b := body.(type) {
	case NewSessionBody:
		tag = b.T
	case NewMessageBody:
		tag = b.T
	case UpdateSessionBody:
		tag = b.T
	case UpdateMachineBody:
		tag = b.T
	case DeleteSessionBody:
		tag = b.T
	case UpdateAccountBody:
		tag = b.T
	case RelationshipUpdatedBody:
		tag = b.T
	case KVBatchUpdateBody:
		tag = b.T
	default:
		return nil, fmt.Errorf("wire: unknown update body type %T", body)
	}
	if tag == "" {
		return nil, fmt.Errorf("wire: body %T has empty discriminator", body)
	}
	return json.Marshal(body)
}

// BodyTag extracts the `t` discriminator from a raw update body.
func BodyTag(raw json.RawMessage) (string, error) {
	var probe struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("wire: undecodable body: %w", err)
	}
	if probe.T == "" {
		return "", fmt.Errorf("wire: body missing discriminator")
	}
	return probe.T, nil
}
